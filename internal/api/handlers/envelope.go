// Package handlers implements the HTTP surface: the git event upload, the
// message-bus relay, and the health endpoints. Every response uses the same
// envelope so HTTP and bus callers see identical outcomes.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/patchfox-io/input-service/internal/api/middleware"
)

// Envelope is the response body every endpoint returns: the status code
// mirrored into the body, the txid the caller can track the event by, and
// when the request arrived.
type Envelope struct {
	Code              int       `json:"code"`
	TxID              uuid.UUID `json:"txid"`
	RequestReceivedAt string    `json:"requestReceivedAt"`
	ServerMessage     string    `json:"serverMessage,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, code int, serverMessage string) {
	envelope := Envelope{
		Code:              code,
		TxID:              middleware.GetTxID(r.Context()),
		RequestReceivedAt: middleware.GetReceivedAt(r.Context()).Format(time.RFC3339),
		ServerMessage:     serverMessage,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		middleware.LoggerFromContext(r.Context()).Error().Err(err).Msg("encode response envelope")
	}
}
