package handlers

import (
	"net/http"
	"time"
)

// StatusHandler serves the process-level endpoints.
type StatusHandler struct {
	Directory ModelDirectory
}

func NewStatusHandler(dir ModelDirectory) *StatusHandler {
	return &StatusHandler{Directory: dir}
}

func (h *StatusHandler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type statusBody struct {
	FreeModels    int    `json:"free_models"`
	StealthModels int    `json:"stealth_models"`
	LastRefreshed string `json:"last_refreshed"`
}

func (h *StatusHandler) Status(w http.ResponseWriter, _ *http.Request) {
	st := h.Directory.Status()
	writeJSON(w, http.StatusOK, statusBody{
		FreeModels:    st.FreeModels,
		StealthModels: st.StealthModels,
		LastRefreshed: st.LastRefreshed.UTC().Format(time.RFC3339),
	})
}
