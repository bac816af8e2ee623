package api

import (
	"net/http"

	"github.com/glassflow/mqtt-stream-bridge/internal/core/catalog"
)

func (h *handler) getMapping(w http.ResponseWriter, _ *http.Request) {
	if h.mapping == nil {
		jsonError(w, http.StatusNotFound, "mapping unavailable", nil)
		return
	}

	jsonResponse(w, http.StatusOK, h.mapping.Current())
}

type definitionsResponse struct {
	Default     catalog.StreamDefinition            `json:"default"`
	Definitions map[string]catalog.StreamDefinition `json:"definitions"`
}

func (h *handler) getDefinitions(w http.ResponseWriter, _ *http.Request) {
	if h.definitions == nil {
		jsonError(w, http.StatusNotFound, "stream definitions unavailable", nil)
		return
	}

	jsonResponse(w, http.StatusOK, definitionsResponse{
		Default:     h.definitions.Default(),
		Definitions: h.definitions.Definitions(),
	})
}
