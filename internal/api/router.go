// Package api assembles the HTTP surface: routes, middleware chain, and the
// bus resource registrations that mirror the HTTP routes.
package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/patchfox-io/input-service/internal/api/handlers"
	"github.com/patchfox-io/input-service/internal/api/middleware"
	"github.com/patchfox-io/input-service/internal/config"
	"github.com/patchfox-io/input-service/internal/ingest"
	"github.com/patchfox-io/input-service/internal/metrics"
	"github.com/patchfox-io/input-service/internal/rpc"
)

// PathInputGit is the git event upload resource; the bus serves the same
// signature.
const PathInputGit = "/api/v1/input/git"

// PathInputMQ is the authenticated relay onto other services' request topics.
const PathInputMQ = "/api/v1/input/mq"

// NewRouter builds the full handler chain. publisher may be nil when the
// message bus is disabled; the relay route is only mounted when it is set.
func NewRouter(cfg config.Config, service *ingest.Service, pool handlers.Pinger, publisher handlers.BusPublisher, logger zerolog.Logger) http.Handler {
	inputHandler := handlers.NewInputHandler(service)

	mux := http.NewServeMux()
	mux.Handle("/healthz", handlers.Healthz())
	mux.Handle("/readyz", handlers.Readyz(pool))
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	mux.Handle(PathInputGit, methodMux(map[string]http.Handler{
		http.MethodPost: http.HandlerFunc(inputHandler.GitEvent),
	}))

	if publisher != nil {
		mqHandler := handlers.NewMQHandler(cfg.Kafka, publisher)
		mux.Handle(PathInputMQ, methodMux(map[string]http.Handler{
			http.MethodPost: http.HandlerFunc(mqHandler.Relay),
		}))
	}

	var handler http.Handler = mux
	handler = middleware.RequestSize(cfg.Ingest.MaxUploadBytes)(handler)
	handler = middleware.RateLimit(cfg.Ingest.RatePerMinute)(handler)
	handler = middleware.RequestLogging(logger)(handler)
	handler = middleware.Correlation(logger)(handler)
	return handler
}

// RegisterBusResources binds the bus-servable resources to the registry with
// the same signatures the HTTP router mounts.
func RegisterBusResources(registry *rpc.Registry, service *ingest.Service) {
	inputHandler := handlers.NewInputHandler(service)
	registry.Register(http.MethodPost, PathInputGit, inputHandler.BusGitEvent)
}

func methodMux(routes map[string]http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := routes[r.Method]; ok {
			handler.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Allow", allowedMethods(routes))
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
}

func allowedMethods(routes map[string]http.Handler) string {
	methods := make([]string, 0, len(routes))
	for method := range routes {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return strings.Join(methods, ", ")
}
