package rpc

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Handler serves one (verb, uri) resource over the bus. Implementations
// return a complete response envelope; the registry fills in the responder
// name and resource signature.
type Handler func(ctx context.Context, receivedAt time.Time, req Request) Response

// Registry maps resource signatures to handlers. Every resource the bus can
// serve is registered explicitly at startup; there is no reflective dispatch
// over the HTTP router.
type Registry struct {
	responderName string
	handlers      map[string]Handler
	logger        zerolog.Logger
}

func NewRegistry(responderName string, logger zerolog.Logger) *Registry {
	return &Registry{
		responderName: responderName,
		handlers:      make(map[string]Handler),
		logger:        logger.With().Str("component", "rpc").Logger(),
	}
}

// Register binds a handler to a verb and URI. Later registrations for the
// same resource replace earlier ones.
func (r *Registry) Register(verb, uri string, handler Handler) {
	r.handlers[verb+"_"+uri] = handler
}

// Dispatch routes a request to its handler. Unknown resources get a 404
// envelope; a handler panic is contained and answered with a 500 so one bad
// message never takes the bridge down.
func (r *Registry) Dispatch(ctx context.Context, receivedAt time.Time, req Request) (resp Response) {
	signature := req.ResourceSignature()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("txid", req.TxID.String()).
				Str("resource", signature).
				Interface("panic", rec).
				Msg("bus handler panicked")
			resp = newResponse(r.responderName, req.TxID, receivedAt, http.StatusInternalServerError)
		}
		resp.ResponderName = r.responderName
		resp.ResponderResourceSignature = signature
	}()

	handler, ok := r.handlers[signature]
	if !ok {
		r.logger.Warn().
			Str("txid", req.TxID.String()).
			Str("resource", signature).
			Msg("no handler registered for bus resource")
		return newResponse(r.responderName, req.TxID, receivedAt, http.StatusNotFound)
	}

	return handler(ctx, receivedAt, req)
}
