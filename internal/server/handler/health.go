package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Probe checks one dependency.
type Probe func(ctx context.Context) error

// HealthHandler reports liveness plus the state of each wired dependency.
type HealthHandler struct {
	probes map[string]Probe
	logger *slog.Logger
}

func NewHealthHandler(probes map[string]Probe, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{probes: probes, logger: logger.With(slog.String("handler", "health"))}
}

// HealthCheck answers 503 when any probe fails.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	checks := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.probes[name](ctx); err != nil {
			h.logger.Warn("probe failed", slog.String("probe", name), slog.String("error", err.Error()))
			checks[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
