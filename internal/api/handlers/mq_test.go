package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchfox-io/input-service/internal/api/middleware"
	"github.com/patchfox-io/input-service/internal/config"
	"github.com/patchfox-io/input-service/internal/rpc"
)

type capturingPublisher struct {
	topic   string
	request rpc.Request
	err     error
	calls   int
}

func (p *capturingPublisher) Publish(ctx context.Context, topic string, req rpc.Request) error {
	p.calls++
	p.topic = topic
	p.request = req
	return p.err
}

func relayConfig() config.KafkaConfig {
	return config.KafkaConfig{
		Enabled:       true,
		Brokers:       []string{"localhost:9092"},
		RequestTopic:  "input-requests",
		ResponseTopic: "input-responses",
		BridgeSecret:  "s3cret",
		ValidTopics:   []string{"grype-requests", "etl-requests"},
	}
}

func doRelay(t *testing.T, handler *MQHandler, body any, secret, topic string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/input/mq", bytes.NewReader(payload))
	if secret != "" {
		req.Header.Set(HeaderMQSecret, secret)
	}
	if topic != "" {
		req.Header.Set(HeaderRequestTopic, topic)
	}

	ctx := context.WithValue(req.Context(), middleware.TxIDKey, uuid.New())
	ctx = context.WithValue(ctx, middleware.ReceivedAtKey, time.Now().UTC())
	req = req.WithContext(ctx)

	recorder := httptest.NewRecorder()
	handler.Relay(recorder, req)
	return recorder
}

func relayBody() rpc.Request {
	return rpc.Request{Verb: "POST", URI: "/api/v1/grype"}
}

func TestRelayPublishes(t *testing.T) {
	publisher := &capturingPublisher{}
	handler := NewMQHandler(relayConfig(), publisher)

	recorder := doRelay(t, handler, relayBody(), "s3cret", "grype-requests")

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 1, publisher.calls)
	assert.Equal(t, "grype-requests", publisher.topic)
	// The relay stamps txid and response topic; callers never set them.
	assert.NotEqual(t, uuid.Nil, publisher.request.TxID)
	assert.Equal(t, "input-responses", publisher.request.ResponseTopic)
}

func TestRelayRejectsOpaquely(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		topic  string
		body   any
		cfg    config.KafkaConfig
	}{
		{"wrong secret", "wrong", "grype-requests", relayBody(), relayConfig()},
		{"missing secret", "", "grype-requests", relayBody(), relayConfig()},
		{"unknown topic", "s3cret", "other-requests", relayBody(), relayConfig()},
		{"missing topic", "s3cret", "", relayBody(), relayConfig()},
		{"invalid envelope", "s3cret", "grype-requests", rpc.Request{Verb: "FETCH", URI: "/x"}, relayConfig()},
		{"bridge disabled", "s3cret", "grype-requests", relayBody(), func() config.KafkaConfig {
			cfg := relayConfig()
			cfg.Enabled = false
			return cfg
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			publisher := &capturingPublisher{}
			handler := NewMQHandler(tt.cfg, publisher)

			recorder := doRelay(t, handler, tt.body, tt.secret, tt.topic)

			assert.Equal(t, http.StatusNotFound, recorder.Code)
			assert.Zero(t, publisher.calls)
			assert.Empty(t, recorder.Body.String())
		})
	}
}

func TestRelayPublishFailure(t *testing.T) {
	publisher := &capturingPublisher{err: assert.AnError}
	handler := NewMQHandler(relayConfig(), publisher)

	recorder := doRelay(t, handler, relayBody(), "s3cret", "grype-requests")
	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
}
