package api

import (
	"net/http"

	"github.com/nerrad567/akuvox-access-core/internal/audit"
)

// defaultHistoryLimit caps GET /history when no limit is given.
const defaultHistoryLimit = 100

// GET /sync
func (s *Server) handleSyncStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"scheduler":   s.scheduler.Status(),
		"all_in_sync": s.devices.AllInSync(),
	})
}

// handleSyncAll reconciles every participating device now and cancels any
// pending debounce.
//
// POST /sync
func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	results, err := s.scheduler.SyncNow(r.Context(), "")
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	failed := 0
	for _, res := range results {
		if !res.OK() {
			failed++
		}
	}
	s.record(audit.ActionSync, audit.EntityDevice, "", map[string]any{
		"trigger": "manual",
		"devices": len(results),
		"failed":  failed,
	})
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "failed": failed})
}

// handleHistory returns buffered access events, newest first.
//
// GET /history?limit=N
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, "limit must be a non-negative integer")
		return
	}
	if limit == 0 {
		limit = defaultHistoryLimit
	}

	events := s.history.Snapshot(limit)
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}
