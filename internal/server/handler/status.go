package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/imbalancebot/internal/executor"
	"github.com/alanyoungcy/imbalancebot/internal/service"
)

type LoopStatus interface {
	Status() executor.Status
}

type RiskControl interface {
	Snapshot() service.RiskSnapshot
	Halt(reason string)
}

// StatusHandler exposes the loop counters and risk state, and accepts the
// external halt.
type StatusHandler struct {
	mode   string
	loop   LoopStatus
	risk   RiskControl
	logger *slog.Logger
}

func NewStatusHandler(mode string, loop LoopStatus, risk RiskControl, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{mode: mode, loop: loop, risk: risk, logger: logger.With(slog.String("handler", "status"))}
}

// GetStatus
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"mode": h.mode}
	if h.loop != nil {
		body["orchestrator"] = h.loop.Status()
	}
	if h.risk != nil {
		body["risk"] = h.risk.Snapshot()
	}
	writeJSON(w, http.StatusOK, body)
}

// Halt trips the kill switch on the next event.
// POST /api/halt {"reason": "..."}
func (h *StatusHandler) Halt(w http.ResponseWriter, r *http.Request) {
	if h.risk == nil {
		writeError(w, http.StatusServiceUnavailable, "risk manager not running")
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "operator halt"
	}
	h.risk.Halt(req.Reason)
	h.logger.Warn("external halt requested", slog.String("reason", req.Reason), slog.String("remote_addr", r.RemoteAddr))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "halt requested", "reason": req.Reason})
}
