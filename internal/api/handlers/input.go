package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/patchfox-io/input-service/internal/api/middleware"
	"github.com/patchfox-io/input-service/internal/domain/catalog"
	"github.com/patchfox-io/input-service/internal/ingest"
	"github.com/patchfox-io/input-service/internal/metrics"
	"github.com/patchfox-io/input-service/internal/purl"
	"github.com/patchfox-io/input-service/internal/rpc"
)

// Form field names on the git event upload.
const (
	FieldDatasourceEvent = "datasourceEvent"
	FieldEventFileData   = "eventFileData"
)

// maxMultipartMemory caps how much of the upload is held in memory while
// parsing; the rest spills to disk. The overall body size is enforced
// upstream by the request size middleware.
const maxMultipartMemory = 32 << 20

type InputHandler struct {
	service *ingest.Service
}

func NewInputHandler(service *ingest.Service) *InputHandler {
	return &InputHandler{service: service}
}

// GitEvent accepts a datasource event: a purl in the datasourceEvent form
// field and a zip archive in the eventFileData file field. 202 means the
// event was recorded as READY_FOR_PROCESSING.
func (h *InputHandler) GitEvent(w http.ResponseWriter, r *http.Request) {
	metrics.EventsReceived.Inc()
	start := time.Now()
	defer func() {
		metrics.IngestDuration.Observe(time.Since(start).Seconds())
	}()

	ctx := r.Context()
	logger := middleware.LoggerFromContext(ctx)

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		metrics.EventsRejected.WithLabelValues(metrics.ReasonValidation).Inc()
		writeEnvelope(w, r, http.StatusBadRequest, "malformed multipart request")
		return
	}

	rawPURL := r.PostFormValue(FieldDatasourceEvent)
	if rawPURL == "" {
		metrics.EventsRejected.WithLabelValues(metrics.ReasonValidation).Inc()
		writeEnvelope(w, r, http.StatusBadRequest, "form field "+FieldDatasourceEvent+" is required")
		return
	}

	archive, _, err := r.FormFile(FieldEventFileData)
	if err != nil {
		metrics.EventsRejected.WithLabelValues(metrics.ReasonValidation).Inc()
		writeEnvelope(w, r, http.StatusBadRequest, "file field "+FieldEventFileData+" is required")
		return
	}
	defer archive.Close()

	receipt, err := h.service.HandleGitEvent(ctx, rawPURL, archive, middleware.GetTxID(ctx), middleware.GetReceivedAt(ctx))
	if err != nil {
		code, message := mapIngestError(err)
		metrics.EventsRejected.WithLabelValues(rejectionReason(err)).Inc()
		if code == http.StatusInternalServerError {
			logger.Error().Err(err).Msg("git event ingestion failed")
		} else {
			logger.Info().Err(err).Msg("git event rejected")
		}
		writeEnvelope(w, r, code, message)
		return
	}

	metrics.EventsAccepted.Inc()
	logger.Info().
		Str("event_purl", receipt.EventPURL).
		Str("event_id", receipt.EventID.String()).
		Str("datasource_id", receipt.DatasourceID.String()).
		Msg("git event recorded")
	writeEnvelope(w, r, http.StatusAccepted, "")
}

// BusGitEvent serves the same operation over the message bus. The archive
// travels base64-encoded under the eventFileData data key.
func (h *InputHandler) BusGitEvent(ctx context.Context, receivedAt time.Time, req rpc.Request) rpc.Response {
	metrics.EventsReceived.Inc()

	fail := func(code int, message string, reason string) rpc.Response {
		metrics.EventsRejected.WithLabelValues(reason).Inc()
		return busResponse(req, receivedAt, code, message)
	}

	rawPURL, ok := req.Data[FieldDatasourceEvent].(string)
	if !ok || rawPURL == "" {
		return fail(http.StatusBadRequest, "data field "+FieldDatasourceEvent+" is required", metrics.ReasonValidation)
	}
	encoded, ok := req.Data[FieldEventFileData].(string)
	if !ok || encoded == "" {
		return fail(http.StatusBadRequest, "data field "+FieldEventFileData+" is required", metrics.ReasonValidation)
	}
	archive, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fail(http.StatusBadRequest, "data field "+FieldEventFileData+" is not valid base64", metrics.ReasonValidation)
	}

	_, err = h.service.HandleGitEvent(ctx, rawPURL, bytes.NewReader(archive), req.TxID, receivedAt)
	if err != nil {
		code, message := mapIngestError(err)
		return fail(code, message, rejectionReason(err))
	}

	metrics.EventsAccepted.Inc()
	return busResponse(req, receivedAt, http.StatusAccepted, "")
}

func busResponse(req rpc.Request, receivedAt time.Time, code int, message string) rpc.Response {
	return rpc.Response{
		TxID:              req.TxID,
		Code:              code,
		RequestReceivedAt: receivedAt.UTC().Format(time.RFC3339),
		ServerMessage:     message,
	}
}

// mapIngestError turns an ingestion failure into a status code and a caller
// message. Client faults surface their cause; anything else is an opaque 500.
func mapIngestError(err error) (int, string) {
	if ingest.IsClientFault(err) {
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, "event could not be recorded"
}

func rejectionReason(err error) string {
	var validationErr *purl.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return metrics.ReasonValidation
	case errors.Is(err, catalog.ErrDuplicateEvent):
		return metrics.ReasonDuplicate
	case errors.Is(err, ingest.ErrArchiveTooLarge), errors.Is(err, ingest.ErrNoCompleteBundle):
		return metrics.ReasonBundle
	case errors.Is(err, ingest.ErrNoUsableGraph), errors.Is(err, ingest.ErrEmptyGraph):
		return metrics.ReasonGraph
	default:
		return metrics.ReasonInternal
	}
}
