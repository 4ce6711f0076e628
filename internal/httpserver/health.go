package httpserver

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"ldapapi/internal/monitor"
)

type healthResponse struct {
	Status        string         `json:"status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Directory     monitor.Status `json:"directory"`
}

type readyResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealth reports liveness together with TCP reachability of the directory.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := a.probe(r.Context())
	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(a.started).Seconds()),
		Directory:     status,
	}
	code := http.StatusOK
	if !status.Alive {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// handleReady binds with the service account when one is configured.
func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if !a.dir.HasServiceAccount() {
		writeJSON(w, http.StatusOK, readyResponse{Status: "skipped"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := a.dir.TestConnection(ctx); err != nil {
		a.log.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, readyResponse{Status: "unavailable", Error: "directory check failed"})
		return
	}
	writeJSON(w, http.StatusOK, readyResponse{Status: "ok"})
}
