package reconcile

import (
	"context"
	"time"

	"github.com/nerrad567/akuvox-access-core/internal/device"
)

// IntegrityReport is the read-only comparison of one device against the
// registry.
type IntegrityReport struct {
	DeviceID  string    `json:"device_id"`
	OK        bool      `json:"ok"`
	Missing   []string  `json:"missing,omitempty"`
	Extra     []string  `json:"extra,omitempty"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Mismatch reports whether the device needs a sync.
func (r IntegrityReport) Mismatch() bool {
	return r.Error == "" && !r.OK
}

// CheckIntegrity compares every participating device's user list against
// the users that should have access to it. Nothing is written to the
// devices. A mismatch marks the device pending; the caller decides when
// to sync it.
func (e *Engine) CheckIntegrity(ctx context.Context) []IntegrityReport {
	devices := e.devices.ParticipatingDevices()
	reports := make([]IntegrityReport, 0, len(devices))
	for i := range devices {
		if ctx.Err() != nil {
			break
		}
		rep := e.checkDevice(ctx, &devices[i])
		reports = append(reports, rep)
		for _, o := range e.observers {
			o.IntegrityChecked(rep)
		}
	}
	return reports
}

func (e *Engine) checkDevice(ctx context.Context, rec *device.Record) IntegrityReport {
	rep := IntegrityReport{DeviceID: rec.ID, CheckedAt: e.now()}

	local, err := e.clients.Client(rec).UserList(ctx)
	if err != nil {
		rep.Error = err.Error()
		integrityChecksTotal.WithLabelValues("error").Inc()
		e.logger.Warn("integrity check could not read device", "device_id", rec.ID, "error", err)
		return rep
	}

	bundle := e.registry.Snapshot()
	expected := make(map[string]struct{})
	for id, u := range bundle.Users {
		if u.HasContent() && ShouldHaveAccess(rec, u) {
			expected[id] = struct{}{}
		}
	}

	present := make(map[string]struct{}, len(local))
	extra := make(map[string]struct{})
	for _, r := range local {
		key, ok := localKey(r)
		if !ok {
			key = firstNonEmpty(r.UserID(), r.Name(), r.ID())
		}
		if _, want := expected[key]; want {
			present[key] = struct{}{}
			continue
		}
		extra[key] = struct{}{}
	}

	missing := make(map[string]struct{})
	for id := range expected {
		if _, ok := present[id]; !ok {
			missing[id] = struct{}{}
		}
	}

	rep.Missing = sortedKeys(missing)
	rep.Extra = sortedKeys(extra)
	rep.OK = len(rep.Missing) == 0 && len(rep.Extra) == 0

	if rep.OK {
		integrityChecksTotal.WithLabelValues("ok").Inc()
		e.logger.Info("integrity check passed", "device_id", rec.ID, "users", len(present))
	} else {
		integrityChecksTotal.WithLabelValues("mismatch").Inc()
		e.logger.Warn("integrity check mismatch", "device_id", rec.ID,
			"missing", rep.Missing, "extra", rep.Extra)
	}

	if err := e.devices.SetIntegrityChecked(ctx, rec.ID, rep.OK); err != nil {
		e.logger.Warn("failed to record integrity check", "device_id", rec.ID, "error", err)
	}
	return rep
}
