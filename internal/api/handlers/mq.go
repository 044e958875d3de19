package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"

	"github.com/rs/zerolog"

	"github.com/patchfox-io/input-service/internal/api/middleware"
	"github.com/patchfox-io/input-service/internal/config"
	"github.com/patchfox-io/input-service/internal/metrics"
	"github.com/patchfox-io/input-service/internal/rpc"
)

// Headers the message-bus relay authenticates with.
const (
	HeaderMQSecret     = "PF-FF-MQ_CONTROLLER-SECRET"
	HeaderRequestTopic = "PF-FF-REQUEST_TOPIC"
)

// BusPublisher places request envelopes on the bus.
type BusPublisher interface {
	Publish(ctx context.Context, topic string, req rpc.Request) error
}

// MQHandler relays authenticated HTTP requests onto other services' request
// topics. Callers never set txid or response topic themselves; the relay
// stamps both.
type MQHandler struct {
	cfg       config.KafkaConfig
	publisher BusPublisher
}

func NewMQHandler(cfg config.KafkaConfig, publisher BusPublisher) *MQHandler {
	return &MQHandler{cfg: cfg, publisher: publisher}
}

// Relay validates the shared secret, the target topic, and the request
// envelope, then publishes. Every validation failure answers a bare 404 so
// probes learn nothing about which check failed.
func (h *MQHandler) Relay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.LoggerFromContext(ctx)

	var req rpc.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.reject(w, logger, "undecodable relay body")
		return
	}

	secret := r.Header.Get(HeaderMQSecret)
	topic := r.Header.Get(HeaderRequestTopic)

	req.TxID = middleware.GetTxID(ctx)
	req.ResponseTopic = h.cfg.ResponseTopic

	if !h.cfg.Enabled ||
		secret == "" || secret != h.cfg.BridgeSecret ||
		topic == "" || !slices.Contains(h.cfg.ValidTopics, topic) ||
		req.Validate() != nil {
		h.reject(w, logger, "relay validation failed")
		return
	}

	if err := h.publisher.Publish(ctx, topic, req); err != nil {
		logger.Error().Err(err).Str("topic", topic).Msg("relay publish failed")
		metrics.MQRequests.WithLabelValues("publish_error").Inc()
		writeEnvelope(w, r, http.StatusInternalServerError, "request could not be published")
		return
	}

	metrics.MQRequests.WithLabelValues("relayed").Inc()
	writeEnvelope(w, r, http.StatusOK, "")
}

func (h *MQHandler) reject(w http.ResponseWriter, logger *zerolog.Logger, reason string) {
	logger.Warn().Str("reason", reason).Msg("relay request rejected")
	metrics.MQRequests.WithLabelValues("rejected").Inc()
	w.WriteHeader(http.StatusNotFound)
}
