package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit applies a per-client token bucket to the ingestion endpoints.
// perMinute <= 0 disables limiting. Health and metrics paths are exempt.
func RateLimit(perMinute int) func(http.Handler) http.Handler {
	store := newLimiterStore(perMinute)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if perMinute <= 0 || exemptPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			if !store.limiter(clientKey(r)).Allow() {
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func exemptPath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

const (
	limiterIdleTTL       = 10 * time.Minute
	limiterSweepInterval = time.Minute
)

type limiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	perMinute int
	lastSweep time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiterStore(perMinute int) *limiterStore {
	return &limiterStore{
		limiters:  make(map[string]*limiterEntry),
		perMinute: perMinute,
		lastSweep: time.Now(),
	}
}

func (s *limiterStore) limiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.evictIdle(now)

	entry, ok := s.limiters[key]
	if !ok {
		limit := rate.Limit(float64(s.perMinute) / 60.0)
		entry = &limiterEntry{limiter: rate.NewLimiter(limit, s.perMinute)}
		s.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// evictIdle drops limiters for clients not seen within the TTL so the map
// does not grow without bound. Done inline at most once per sweep interval,
// which keeps the store goroutine-free. Caller holds the lock.
func (s *limiterStore) evictIdle(now time.Time) {
	if now.Sub(s.lastSweep) < limiterSweepInterval {
		return
	}
	s.lastSweep = now

	cutoff := now.Add(-limiterIdleTTL)
	for key, entry := range s.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(s.limiters, key)
		}
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
