package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitEnforcesBurst(t *testing.T) {
	handler := RateLimit(1)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/input/git", nil)
	req.RemoteAddr = "10.0.0.1:4000"

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, req)
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))
}

func TestRateLimitPerClient(t *testing.T) {
	handler := RateLimit(1)(okHandler())

	for i, addr := range []string{"10.0.0.1:4000", "10.0.0.2:4000"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/input/git", nil)
		req.RemoteAddr = addr
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)
		assert.Equal(t, http.StatusOK, recorder.Code, "client %d", i)
	}
}

func TestRateLimitExemptsHealthPaths(t *testing.T) {
	handler := RateLimit(1)(okHandler())

	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:4000"
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)
		assert.Equal(t, http.StatusOK, recorder.Code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	handler := RateLimit(0)(okHandler())

	for range 5 {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/input/git", nil)
		req.RemoteAddr = "10.0.0.1:4000"
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)
		assert.Equal(t, http.StatusOK, recorder.Code)
	}
}

// The store sweeps idle clients inline on access; it runs no goroutine, so
// constructing a limiter in short-lived contexts leaks nothing.
func TestLimiterStoreEvictsIdleClients(t *testing.T) {
	store := newLimiterStore(10)

	store.limiter("stale")
	store.limiters["stale"].lastSeen = time.Now().Add(-2 * limiterIdleTTL)
	store.lastSweep = time.Now().Add(-2 * limiterSweepInterval)

	store.limiter("fresh")
	assert.NotContains(t, store.limiters, "stale")
	assert.Contains(t, store.limiters, "fresh")
}
