package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Record // Cached devices by ID
	cacheMu sync.RWMutex       // Protects cache
	writeMu sync.Mutex         // Serialises read-modify-write of a record
	logger  Logger
	now     func() time.Time
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Record),
		logger: noopLogger{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	records, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Record, len(records))
	for i := range records {
		r.cache[records[i].ID] = records[i].DeepCopy()
	}

	r.logger.Info("device cache refreshed", "count", len(records))
	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned record is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Record, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}

	// Fall back to repository (might be a device not yet cached)
	rec, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = rec.DeepCopy()
	r.cacheMu.Unlock()

	return rec, nil
}

// ListDevices returns every device ordered by ID.
// The returned records are deep copies; callers can safely modify them.
func (r *Registry) ListDevices() []Record {
	return r.filter(func(*Record) bool { return true })
}

// ParticipatingDevices returns the devices that take part in sync, ordered by ID.
func (r *Registry) ParticipatingDevices() []Record {
	return r.filter(func(rec *Record) bool { return rec.Options.Participate })
}

func (r *Registry) filter(keep func(*Record) bool) []Record {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	records := make([]Record, 0, len(r.cache))
	for _, rec := range r.cache {
		if keep(rec) {
			records = append(records, *rec.DeepCopy())
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records
}

// CreateDevice creates a new device.
// It derives an ID from the name if none is given, validates the record
// and persists it. New devices start out pending.
func (r *Registry) CreateDevice(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = GenerateID(rec.Name)
	}
	if rec.Health.SyncStatus == "" {
		rec.Health.SyncStatus = SyncPending
	}

	if err := ValidateRecord(rec); err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.repo.Create(ctx, rec); err != nil {
		return err
	}

	r.store(rec)
	r.logger.Info("device created", "id", rec.ID, "name", rec.Name)
	return nil
}

// SeedDevice makes sure a configured device exists. A new device is created
// as given; an existing one only has its name and connection refreshed so
// options changed at runtime survive a restart.
//
// Returns true when the device was created.
func (r *Registry) SeedDevice(ctx context.Context, rec *Record) (bool, error) {
	existing, err := r.GetDevice(ctx, rec.ID)
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		if err := r.CreateDevice(ctx, rec); err != nil {
			return false, err
		}
		return true, nil
	case err != nil:
		return false, err
	}

	if existing.Name == rec.Name && existing.Connection == rec.Connection {
		return false, nil
	}

	existing.Name = rec.Name
	existing.Connection = rec.Connection
	if err := r.UpdateDevice(ctx, existing); err != nil {
		return false, err
	}
	return false, nil
}

// UpdateDevice persists name, connection and options. Health and the local
// user snapshot are owned by the sync path and are left untouched.
func (r *Registry) UpdateDevice(ctx context.Context, rec *Record) error {
	if err := ValidateRecord(rec); err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current, err := r.GetDevice(ctx, rec.ID)
	if err != nil {
		return err
	}

	if err := r.repo.Update(ctx, rec); err != nil {
		return err
	}

	current.Name = rec.Name
	current.Connection = rec.Connection
	current.Options = rec.Options
	current.UpdatedAt = rec.UpdatedAt
	r.store(current)

	r.logger.Info("device updated", "id", rec.ID, "name", rec.Name)
	return nil
}

// UpdateOptions applies fn to the device's options, validates and persists
// the result, and marks the device pending.
func (r *Registry) UpdateOptions(ctx context.Context, id string, fn func(*Options)) (*Record, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current, err := r.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}

	fn(&current.Options)
	if err := ValidateOptions(current.Options); err != nil {
		return nil, err
	}
	if err := r.repo.Update(ctx, current); err != nil {
		return nil, err
	}

	current.Health.SyncStatus = SyncPending
	if err := r.repo.UpdateHealth(ctx, id, current.Health); err != nil {
		return nil, err
	}

	r.store(current)
	r.logger.Info("device options updated", "id", id)
	return current.DeepCopy(), nil
}

// DeleteDevice removes a device.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// MarkPending flags devices as needing a sync. With no IDs every
// participating device is marked. Unknown IDs are ignored.
func (r *Registry) MarkPending(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		for _, rec := range r.ParticipatingDevices() {
			ids = append(ids, rec.ID)
		}
	}

	for _, id := range ids {
		err := r.updateHealth(ctx, id, func(h *Health) {
			h.SyncStatus = SyncPending
		})
		if err != nil && !errors.Is(err, ErrDeviceNotFound) {
			return err
		}
	}
	return nil
}

// SetSyncResult records the outcome of a sync pass. A nil syncErr marks the
// device in sync; anything else leaves it pending.
func (r *Registry) SetSyncResult(ctx context.Context, id, summary string, syncErr error) error {
	now := r.now()
	return r.updateHealth(ctx, id, func(h *Health) {
		h.LastSync = &now
		h.LastSyncResult = summary
		if syncErr != nil {
			h.SyncStatus = SyncPending
			h.LastError = syncErr.Error()
			return
		}
		h.SyncStatus = SyncInSync
		h.LastError = ""
	})
}

// SetOnline records reachability. LastSeen only moves forward while online.
func (r *Registry) SetOnline(ctx context.Context, id string, online bool) error {
	now := r.now()
	return r.updateHealth(ctx, id, func(h *Health) {
		h.Online = online
		if online {
			h.LastSeen = &now
		}
	})
}

// SetDeviceInfo records what the device reported about itself.
// Empty values leave the stored ones unchanged.
func (r *Registry) SetDeviceInfo(ctx context.Context, id string, typ Type, model, firmware, endpoint string) error {
	return r.updateHealth(ctx, id, func(h *Health) {
		if typ != "" {
			h.DeviceType = typ
		}
		if model != "" {
			h.Model = model
		}
		if firmware != "" {
			h.Firmware = firmware
		}
		if endpoint != "" {
			h.Endpoint = endpoint
		}
	})
}

// SetIntegrityChecked stamps an integrity check. A failed check marks the
// device pending so the next sync repairs it.
func (r *Registry) SetIntegrityChecked(ctx context.Context, id string, ok bool) error {
	now := r.now()
	return r.updateHealth(ctx, id, func(h *Health) {
		h.LastIntegrityCheck = &now
		if !ok {
			h.SyncStatus = SyncPending
		}
	})
}

// SetLocalUsers caches the user list last read from the device.
func (r *Registry) SetLocalUsers(ctx context.Context, id string, users []map[string]string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current, err := r.GetDevice(ctx, id)
	if err != nil {
		return err
	}
	if err := r.repo.UpdateLocalUsers(ctx, id, users); err != nil {
		return err
	}

	current.LocalUsers = users
	r.store(current)
	return nil
}

// AllInSync reports whether every participating device is in sync.
func (r *Registry) AllInSync() bool {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	for _, rec := range r.cache {
		if rec.Options.Participate && rec.Health.SyncStatus != SyncInSync {
			return false
		}
	}
	return true
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

func (r *Registry) updateHealth(ctx context.Context, id string, fn func(*Health)) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current, err := r.GetDevice(ctx, id)
	if err != nil {
		return err
	}

	fn(&current.Health)
	if err := r.repo.UpdateHealth(ctx, id, current.Health); err != nil {
		return err
	}

	r.store(current)
	return nil
}

// store puts a deep copy of rec in the cache.
func (r *Registry) store(rec *Record) {
	r.cacheMu.Lock()
	r.cache[rec.ID] = rec.DeepCopy()
	r.cacheMu.Unlock()
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices  int          `json:"total_devices"`
	Participating int          `json:"participating"`
	Online        int          `json:"online"`
	InSync        int          `json:"in_sync"`
	Pending       int          `json:"pending"`
	ByType        map[Type]int `json:"by_type"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByType:       make(map[Type]int),
	}

	for _, rec := range r.cache {
		stats.ByType[rec.Type()]++
		if rec.Health.Online {
			stats.Online++
		}
		if !rec.Options.Participate {
			continue
		}
		stats.Participating++
		if rec.Health.SyncStatus == SyncInSync {
			stats.InSync++
		} else {
			stats.Pending++
		}
	}

	return stats
}
