package api

import (
	"net/http"

	"github.com/glassflow/mqtt-stream-bridge/internal/service"
)

// healthz reports unhealthy only once the bridge has errored.
func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	if h.status != nil && h.status.State() == service.StateErrored {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
