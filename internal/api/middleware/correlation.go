package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	// TxIDKey is the context key for the per-request transaction id.
	TxIDKey contextKey = "txid"

	// ReceivedAtKey is the context key for the request arrival timestamp.
	ReceivedAtKey contextKey = "request_received_at"
)

// Correlation stamps every request with a fresh txid and its arrival time,
// echoes the txid back in the X-Txid header, and injects a txid-tagged
// logger into the request context. Every persisted row and every response
// envelope downstream carries this txid.
func Correlation(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			txid := uuid.New()
			receivedAt := time.Now().UTC()

			w.Header().Set("X-Txid", txid.String())

			reqLogger := logger.With().Str("txid", txid.String()).Logger()

			ctx := context.WithValue(r.Context(), TxIDKey, txid)
			ctx = context.WithValue(ctx, ReceivedAtKey, receivedAt)
			ctx = reqLogger.WithContext(ctx)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetTxID extracts the transaction id from context.
func GetTxID(ctx context.Context) uuid.UUID {
	if txid, ok := ctx.Value(TxIDKey).(uuid.UUID); ok {
		return txid
	}
	return uuid.Nil
}

// GetReceivedAt extracts the request arrival time from context, falling back
// to now for requests that bypassed the middleware (tests, bus dispatch).
func GetReceivedAt(ctx context.Context) time.Time {
	if receivedAt, ok := ctx.Value(ReceivedAtKey).(time.Time); ok {
		return receivedAt
	}
	return time.Now().UTC()
}

// LoggerFromContext extracts the request logger from context, or returns a
// disabled logger.
func LoggerFromContext(ctx context.Context) *zerolog.Logger {
	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		noop := zerolog.Nop()
		return &noop
	}
	return logger
}
