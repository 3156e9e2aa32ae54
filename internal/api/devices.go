package api

import (
	"context"
	"net/http"
	"time"

	"github.com/nerrad567/akuvox-access-core/internal/audit"
	"github.com/nerrad567/akuvox-access-core/internal/device"
)

// deviceActionTimeout bounds reboot and diagnostics calls. Both talk to a
// single device, so they get less room than a sync pass.
const deviceActionTimeout = 30 * time.Second

// redact hides the device password. Local users are dropped from list
// views and kept for single-device reads.
func redact(rec device.Record, withUsers bool) device.Record {
	rec.Connection = rec.Connection.Redacted()
	if !withUsers {
		rec.LocalUsers = nil
	}
	return rec
}

// handleListDevices returns all devices.
//
// Query parameters:
//   - participating: "true" limits the list to devices taking part in sync
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	var records []device.Record
	if r.URL.Query().Get("participating") == "true" {
		records = s.devices.ParticipatingDevices()
	} else {
		records = s.devices.ListDevices()
	}

	out := make([]device.Record, 0, len(records))
	for _, rec := range records {
		out = append(out, redact(rec, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out, "count": len(out)})
}

func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.devices.GetStats())
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	rec, err := s.devices.GetDevice(r.Context(), pathParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redact(*rec, true))
}

type deviceOptionsRequest struct {
	Participate *bool          `json:"participate,omitempty"`
	SyncGroups  *[]string      `json:"sync_groups,omitempty"`
	ExitDevice  *bool          `json:"exit_device,omitempty"`
	RelayA      *string        `json:"relay_a,omitempty"`
	RelayB      *string        `json:"relay_b,omitempty"`
	UserFields  map[string]any `json:"user_fields,omitempty"`
	// SyncDelayMinutes overrides the debounce delay of the sync this
	// update schedules.
	SyncDelayMinutes *int `json:"sync_delay_minutes,omitempty"`
}

// handleUpdateDeviceOptions applies a partial options update and schedules
// a sync of that device.
//
// PATCH /devices/{id}
func (s *Server) handleUpdateDeviceOptions(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req deviceOptionsRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	relayA, relayB, err := parseRelayUpdate(req.RelayA, req.RelayB)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if req.SyncDelayMinutes != nil && *req.SyncDelayMinutes < 0 {
		writeBadRequest(w, "sync_delay_minutes must not be negative")
		return
	}

	rec, err := s.devices.UpdateOptions(r.Context(), id, func(o *device.Options) {
		if req.Participate != nil {
			o.Participate = *req.Participate
		}
		if req.SyncGroups != nil {
			o.SyncGroups = *req.SyncGroups
		}
		if req.ExitDevice != nil {
			o.ExitDevice = *req.ExitDevice
		}
		if relayA != nil {
			o.Relays.A = *relayA
		}
		if relayB != nil {
			o.Relays.B = *relayB
		}
		if req.UserFields != nil {
			o.UserFields = req.UserFields
		}
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if req.SyncDelayMinutes != nil {
		s.scheduler.MarkChangeIn(id, time.Duration(*req.SyncDelayMinutes)*time.Minute)
	} else {
		s.scheduler.MarkChange(id)
	}
	s.record(audit.ActionUpdate, audit.EntityDevice, id, nil)

	out := redact(*rec, false)
	s.hub.Broadcast(ChannelDeviceHealth, out)
	writeJSON(w, http.StatusOK, out)
}

func parseRelayUpdate(a, b *string) (*device.RelayRole, *device.RelayRole, error) {
	parse := func(s *string) (*device.RelayRole, error) {
		if s == nil {
			return nil, nil
		}
		role, err := device.ParseRelayRole(*s)
		if err != nil {
			return nil, err
		}
		return &role, nil
	}
	ra, err := parse(a)
	if err != nil {
		return nil, nil, err
	}
	rb, err := parse(b)
	if err != nil {
		return nil, nil, err
	}
	return ra, rb, nil
}

// handleSyncDevice reconciles one device immediately, bypassing the
// debounce window.
//
// POST /devices/{id}/sync
func (s *Server) handleSyncDevice(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	results, err := s.scheduler.SyncNow(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.record(audit.ActionSync, audit.EntityDevice, id, map[string]any{"trigger": "manual"})
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// POST /devices/{id}/reboot
func (s *Server) handleRebootDevice(w http.ResponseWriter, r *http.Request) {
	rec, err := s.devices.GetDevice(r.Context(), pathParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), deviceActionTimeout)
	defer cancel()

	if err := s.deviceOps.Reboot(ctx, rec); err != nil {
		s.logger.Warn("device reboot failed", "device_id", rec.ID, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeDeviceError, err.Error())
		return
	}

	s.record(audit.ActionReboot, audit.EntityDevice, rec.ID, nil)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "rebooting"})
}

// handleDiagnoseDevice probes every endpoint combination on the device.
// Unreachable devices still answer 200; the report says what failed.
//
// GET /devices/{id}/diagnostics
func (s *Server) handleDiagnoseDevice(w http.ResponseWriter, r *http.Request) {
	rec, err := s.devices.GetDevice(r.Context(), pathParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), deviceActionTimeout)
	defer cancel()

	writeJSON(w, http.StatusOK, s.deviceOps.Diagnose(ctx, rec))
}
