package rpc

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func busRequest(verb, uri string) Request {
	return Request{
		TxID:          uuid.New(),
		Verb:          verb,
		URI:           uri,
		ResponseTopic: "caller-responses",
	}
}

func TestRequestValidate(t *testing.T) {
	valid := busRequest("POST", "/api/v1/input/git")
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing txid", func(r *Request) { r.TxID = uuid.Nil }},
		{"missing verb", func(r *Request) { r.Verb = "" }},
		{"unknown verb", func(r *Request) { r.Verb = "FETCH" }},
		{"missing uri", func(r *Request) { r.URI = "" }},
		{"relative uri", func(r *Request) { r.URI = "api/v1/input/git" }},
		{"missing response topic", func(r *Request) { r.ResponseTopic = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := busRequest("POST", "/api/v1/input/git")
			tt.mutate(&req)
			assert.Error(t, req.Validate())
		})
	}
}

func TestRegistryDispatch(t *testing.T) {
	registry := NewRegistry("input-service", zerolog.Nop())
	registry.Register("GET", "/api/v1/ping", func(ctx context.Context, receivedAt time.Time, req Request) Response {
		resp := newResponse("", req.TxID, receivedAt, http.StatusOK)
		resp.Data = map[string]any{"pong": true}
		return resp
	})

	req := busRequest("GET", "/api/v1/ping")
	resp := registry.Dispatch(context.Background(), time.Now(), req)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, req.TxID, resp.TxID)
	assert.Equal(t, "input-service", resp.ResponderName)
	assert.Equal(t, "GET_/api/v1/ping", resp.ResponderResourceSignature)
	assert.Equal(t, map[string]any{"pong": true}, resp.Data)
}

func TestRegistryDispatchUnknownResource(t *testing.T) {
	registry := NewRegistry("input-service", zerolog.Nop())

	req := busRequest("DELETE", "/api/v1/nope")
	resp := registry.Dispatch(context.Background(), time.Now(), req)

	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, req.TxID, resp.TxID)
	assert.Equal(t, "input-service", resp.ResponderName)
}

func TestRegistryDispatchContainsPanic(t *testing.T) {
	registry := NewRegistry("input-service", zerolog.Nop())
	registry.Register("POST", "/api/v1/boom", func(ctx context.Context, receivedAt time.Time, req Request) Response {
		panic("handler bug")
	})

	req := busRequest("POST", "/api/v1/boom")
	resp := registry.Dispatch(context.Background(), time.Now(), req)

	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Equal(t, req.TxID, resp.TxID)
}

func TestRegistryRegisterReplaces(t *testing.T) {
	registry := NewRegistry("input-service", zerolog.Nop())
	registry.Register("GET", "/api/v1/ping", func(ctx context.Context, receivedAt time.Time, req Request) Response {
		return newResponse("", req.TxID, receivedAt, http.StatusTeapot)
	})
	registry.Register("GET", "/api/v1/ping", func(ctx context.Context, receivedAt time.Time, req Request) Response {
		return newResponse("", req.TxID, receivedAt, http.StatusOK)
	})

	resp := registry.Dispatch(context.Background(), time.Now(), busRequest("GET", "/api/v1/ping"))
	assert.Equal(t, http.StatusOK, resp.Code)
}
