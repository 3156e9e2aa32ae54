package api

import (
	"net/http"

	"github.com/nerrad567/akuvox-access-core/internal/audit"
	"github.com/nerrad567/akuvox-access-core/internal/registry"
)

// handleListGroups returns all user groups.
//
// GET /groups
// Response: {"groups": [...], "count": N}
func (s *Server) handleListGroups(w http.ResponseWriter, _ *http.Request) {
	groups := s.registry.Groups()
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups, "count": len(groups)})
}

// handleCreateGroup adds a group.
//
// POST /groups
// Body: {"name": "Staff"}
func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := s.registry.CreateGroup(r.Context(), req.Name); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.record(audit.ActionCreate, audit.EntityGroup, req.Name, nil)
	writeJSON(w, http.StatusCreated, map[string]string{"name": req.Name})
}

// handleDeleteGroup removes a group. Members fall back to Default when it
// was their only group.
//
// DELETE /groups/{name}
func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	if err := s.registry.DeleteGroup(r.Context(), name); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.record(audit.ActionDelete, audit.EntityGroup, name, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleListSchedules returns every schedule, built-ins included.
//
// GET /schedules
func (s *Server) handleListSchedules(w http.ResponseWriter, _ *http.Request) {
	schedules := s.registry.Schedules()
	writeJSON(w, http.StatusOK, map[string]any{"schedules": schedules, "count": len(schedules)})
}

// GET /schedules/{name}
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := s.registry.Schedule(pathParam(r, "name"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// handleUpsertSchedule creates or replaces a custom schedule. The name in
// the path wins over any name in the body.
//
// PUT /schedules/{name}
// Body: {"days": {"mon": [{"start": "08:00", "end": "17:00"}]}}
func (s *Server) handleUpsertSchedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string                     `json:"name,omitempty"`
		Days map[string][]registry.Span `json:"days"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	sched := registry.Schedule{Name: pathParam(r, "name"), Days: req.Days}
	if err := s.registry.UpsertSchedule(r.Context(), sched); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.record(audit.ActionUpdate, audit.EntitySchedule, sched.Name, nil)

	saved, err := s.registry.Schedule(sched.Name)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// DELETE /schedules/{name}
func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	if err := s.registry.DeleteSchedule(r.Context(), name); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.record(audit.ActionDelete, audit.EntitySchedule, name, nil)
	w.WriteHeader(http.StatusNoContent)
}

// GET /settings
func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Settings())
}

// handleSetAutoSync sets or clears the daily full sync time.
//
// PUT /settings/auto-sync
// Body: {"time": "03:00"} or {"time": ""} to disable
func (s *Server) handleSetAutoSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Time string `json:"time"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := s.registry.SetAutoSyncTime(r.Context(), req.Time); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.record(audit.ActionUpdate, audit.EntitySettings, "auto_sync", map[string]any{"time": req.Time})
	writeJSON(w, http.StatusOK, s.registry.Settings())
}

// handleSetAutoReboot configures the daily device restart.
//
// PUT /settings/auto-reboot
// Body: {"enabled": true, "time": "04:00", "days": ["sun"]}
func (s *Server) handleSetAutoReboot(w http.ResponseWriter, r *http.Request) {
	var req registry.AutoReboot
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := s.registry.SetAutoReboot(r.Context(), req); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.record(audit.ActionUpdate, audit.EntitySettings, "auto_reboot", map[string]any{
		"enabled": req.Enabled,
		"time":    req.Time,
	})
	writeJSON(w, http.StatusOK, s.registry.Settings())
}
