// Package rpc implements the message-bus request/response protocol: the
// envelope types, an explicit handler registry, and the kafka bridge that
// serves registered resources over the bus with the same semantics as the
// HTTP surface.
package rpc

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Request is the envelope callers place on a request topic. Verb and URI
// name the resource exactly as the HTTP surface does; ResponseTopic tells
// the responder where to publish the reply.
type Request struct {
	TxID          uuid.UUID      `json:"txid"`
	Verb          string         `json:"verb" validate:"required,oneof=GET POST PUT DELETE"`
	URI           string         `json:"uri" validate:"required,startswith=/"`
	ResponseTopic string         `json:"responseTopicName" validate:"required"`
	Data          map[string]any `json:"data,omitempty"`
}

// Validate reports whether the request carries everything the bus needs.
// Requests arriving over HTTP are stamped with a txid and response topic by
// the server before this runs, so a zero txid here is a caller bug.
func (r Request) Validate() error {
	if r.TxID == uuid.Nil {
		return fmt.Errorf("txid is required")
	}
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid bus request: %w", err)
	}
	return nil
}

// ResourceSignature is the registry key for this request, e.g.
// "POST_/api/v1/input/git".
func (r Request) ResourceSignature() string {
	return r.Verb + "_" + r.URI
}

// Response is the envelope a responder publishes to the caller's response
// topic. Code carries HTTP status semantics so bus and HTTP callers see the
// same outcomes.
type Response struct {
	TxID                       uuid.UUID      `json:"txid"`
	ResponderName              string         `json:"responderName"`
	ResponderResourceSignature string         `json:"responderResourceSignature,omitempty"`
	Code                       int            `json:"code"`
	RequestReceivedAt          string         `json:"requestReceivedAt"`
	ServerMessage              string         `json:"serverMessage,omitempty"`
	Data                       map[string]any `json:"data,omitempty"`
}

func newResponse(responderName string, txID uuid.UUID, receivedAt time.Time, code int) Response {
	return Response{
		TxID:              txID,
		ResponderName:     responderName,
		Code:              code,
		RequestReceivedAt: receivedAt.UTC().Format(time.RFC3339),
	}
}
