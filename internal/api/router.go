package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/glassflow/mqtt-stream-bridge/internal/core/catalog"
	"github.com/glassflow/mqtt-stream-bridge/internal/core/mapping"
	"github.com/glassflow/mqtt-stream-bridge/internal/service"
)

type Status interface {
	State() service.State
	Cause() error
	FailedSections() []string
}

type MappingView interface {
	Current() map[string]mapping.Entry
}

type DefinitionsView interface {
	Definitions() map[string]catalog.StreamDefinition
	Default() catalog.StreamDefinition
}

type handler struct {
	log *slog.Logger

	status      Status
	mapping     MappingView
	definitions DefinitionsView
}

func NewRouter(log *slog.Logger, status Status, m MappingView, defs DefinitionsView, reg prometheus.Gatherer) http.Handler {
	h := handler{
		log: log,

		status:      status,
		mapping:     m,
		definitions: defs,
	}

	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.healthz).Methods("GET")
	r.HandleFunc("/state", h.state).Methods("GET")
	r.HandleFunc("/mapping", h.getMapping).Methods("GET")
	r.HandleFunc("/streams/definitions", h.getDefinitions).Methods("GET")

	if reg != nil {
		//nolint: exhaustruct // optional config
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")
	}

	r.Use(Recovery(log), RequestLogging(log))

	return r
}
