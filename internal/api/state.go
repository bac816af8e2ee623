package api

import "net/http"

type stateResponse struct {
	State          string   `json:"state"`
	Error          string   `json:"error,omitempty"`
	FailedSections []string `json:"failed_sections,omitempty"`
}

func (h *handler) state(w http.ResponseWriter, _ *http.Request) {
	if h.status == nil {
		jsonError(w, http.StatusNotFound, "service state unavailable", nil)
		return
	}

	resp := stateResponse{
		State:          string(h.status.State()),
		Error:          "",
		FailedSections: h.status.FailedSections(),
	}
	if err := h.status.Cause(); err != nil {
		resp.Error = err.Error()
	}

	jsonResponse(w, http.StatusOK, resp)
}
