package api

import (
	"net/http"

	"github.com/nerrad567/akuvox-access-core/internal/audit"
	"github.com/nerrad567/akuvox-access-core/internal/registry"
)

type userRequest struct {
	Name           string                  `json:"name"`
	Groups         []string                `json:"groups,omitempty"`
	PIN            string                  `json:"pin,omitempty"`
	CardCode       string                  `json:"card_code,omitempty"`
	FaceURL        string                  `json:"face_url,omitempty"`
	Phone          string                  `json:"phone,omitempty"`
	ScheduleName   string                  `json:"schedule_name,omitempty"`
	ScheduleID     string                  `json:"schedule_id,omitempty"`
	KeyHolder      bool                    `json:"key_holder"`
	ExitPermission registry.ExitPermission `json:"exit_permission,omitempty"`
	Disabled       bool                    `json:"disabled"`
}

func (req userRequest) profile(id string) registry.UserProfile {
	u := registry.UserProfile{
		ID:             id,
		Name:           req.Name,
		Groups:         req.Groups,
		PIN:            req.PIN,
		CardCode:       req.CardCode,
		FaceURL:        req.FaceURL,
		Phone:          req.Phone,
		ScheduleName:   req.ScheduleName,
		ScheduleID:     req.ScheduleID,
		KeyHolder:      req.KeyHolder,
		ExitPermission: req.ExitPermission,
	}
	if req.Disabled {
		u.Status = registry.StatusDisabled
	}
	return u
}

func (s *Server) handleListUsers(w http.ResponseWriter, _ *http.Request) {
	users := s.registry.Users()
	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.registry.User(pathParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// handleReserveUser allocates the next free user ID. IDs already present on
// any device are skipped even when the registry has never seen them.
func (s *Server) handleReserveUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.registry.ReserveUser(r.Context(), s.deviceUserIDs())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.record(audit.ActionReserve, audit.EntityUser, u.ID, nil)
	writeJSON(w, http.StatusCreated, u)
}

// handleCreateUser reserves an ID and fills it in one step.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	reserved, err := s.registry.ReserveUser(r.Context(), s.deviceUserIDs())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	u, err := s.registry.UpsertUser(r.Context(), req.profile(reserved.ID))
	if err != nil {
		if delErr := s.registry.DeleteUser(r.Context(), reserved.ID); delErr != nil {
			s.logger.Warn("releasing reserved user id failed", "id", reserved.ID, "error", delErr)
		}
		s.writeDomainError(w, err)
		return
	}

	s.record(audit.ActionCreate, audit.EntityUser, u.ID, map[string]any{"name": u.Name})
	writeJSON(w, http.StatusCreated, u)
}

// handleUpdateUser replaces a profile. An unchanged face URL keeps its
// enrolment state.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	existing, err := s.registry.User(pathParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	var req userRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	in := req.profile(existing.ID)
	if in.FaceURL == existing.FaceURL {
		in.FaceStatus = existing.FaceStatus
	}

	u, err := s.registry.UpsertUser(r.Context(), in)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.record(audit.ActionUpdate, audit.EntityUser, u.ID, map[string]any{"status": u.Status})
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := s.registry.DeleteUser(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.record(audit.ActionDelete, audit.EntityUser, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// deviceUserIDs collects the user IDs last read from every device.
func (s *Server) deviceUserIDs() []string {
	var ids []string
	for _, rec := range s.devices.ListDevices() {
		for _, u := range rec.LocalUsers {
			if id := u["UserID"]; id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}
