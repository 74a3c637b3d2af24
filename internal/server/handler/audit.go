package handler

import (
	"errors"
	"net/http"

	"github.com/alanyoungcy/imbalancebot/internal/domain"
)

// AuditHandler lists the queryable copy of the audit log.
type AuditHandler struct {
	store domain.AuditStore
}

func NewAuditHandler(store domain.AuditStore) *AuditHandler {
	return &AuditHandler{store: store}
}

// List
// GET /api/audit?limit=&offset=&since=&until=
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []domain.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// ReplayHandler serves stored replay summaries.
type ReplayHandler struct {
	store domain.ReplayRunStore
}

func NewReplayHandler(store domain.ReplayRunStore) *ReplayHandler {
	return &ReplayHandler{store: store}
}

// ListRuns
// GET /api/replay/runs?limit=
func (h *ReplayHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.ListRecent(r.Context(), parseListOpts(r).Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []domain.ReplayRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun
// GET /api/replay/runs/{id}
func (h *ReplayHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.Get(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "replay run not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, run)
	}
}
