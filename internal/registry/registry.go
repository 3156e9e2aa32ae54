package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
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

// ChangeNotifier is told about every registry edit that devices must see.
// An empty deviceID means every device.
type ChangeNotifier interface {
	MarkChange(deviceID string)
}

type noopNotifier struct{}

func (noopNotifier) MarkChange(string) {}

// DefaultReservationTTL is how long an empty reservation survives.
const DefaultReservationTTL = 2 * time.Minute

// Registry is the desired-state store for users, groups, schedules and
// settings. It keeps the whole bundle in memory and persists each section
// as one JSON blob.
//
// All public methods are thread-safe.
type Registry struct {
	store    Store
	mu       sync.RWMutex
	bundle   *Bundle
	notifier ChangeNotifier
	logger   Logger
	now      func() time.Time
	ttl      time.Duration

	janitorDone chan struct{}
	janitorOnce sync.Once
	janitorWG   sync.WaitGroup
}

// NewRegistry creates a registry holding only the built-in group and schedules.
// Call Load to read persisted state.
func NewRegistry(store Store) *Registry {
	return &Registry{
		store:       store,
		bundle:      defaultBundle(),
		notifier:    noopNotifier{},
		logger:      noopLogger{},
		now:         func() time.Time { return time.Now().UTC() },
		ttl:         DefaultReservationTTL,
		janitorDone: make(chan struct{}),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetNotifier sets who is told about edits. Must be called before the
// registry is shared.
func (r *Registry) SetNotifier(n ChangeNotifier) {
	if n == nil {
		n = noopNotifier{}
	}
	r.notifier = n
}

// SetReservationTTL overrides how long an empty reservation is kept.
func (r *Registry) SetReservationTTL(ttl time.Duration) {
	if ttl > 0 {
		r.ttl = ttl
	}
}

func defaultBundle() *Bundle {
	b := &Bundle{
		Users:     make(map[string]*UserProfile),
		Schedules: make(map[string]Schedule),
	}
	ensureDefaults(b)
	return b
}

// ensureDefaults restores the permanent group and built-in schedules.
func ensureDefaults(b *Bundle) {
	if b.Users == nil {
		b.Users = make(map[string]*UserProfile)
	}
	if b.Schedules == nil {
		b.Schedules = make(map[string]Schedule)
	}
	if !slices.ContainsFunc(b.Groups, func(g string) bool { return strings.EqualFold(g, DefaultGroup) }) {
		b.Groups = append([]string{DefaultGroup}, b.Groups...)
	}
	for _, s := range builtinSchedules() {
		for k := range b.Schedules {
			if strings.EqualFold(k, s.Name) {
				delete(b.Schedules, k)
			}
		}
		b.Schedules[s.Name] = s
	}
	for id, u := range b.Users {
		if u == nil {
			delete(b.Users, id)
			continue
		}
		u.ID = id
		if u.Status == "" {
			u.Status = StatusPending
		}
	}
}

// Load reads every section from the store. Missing sections keep their
// defaults; unreadable ones are an error.
func (r *Registry) Load(ctx context.Context) error {
	b := &Bundle{}
	sections := []struct {
		key string
		dst any
	}{
		{KeyUsers, &b.Users},
		{KeyGroups, &b.Groups},
		{KeySchedules, &b.Schedules},
		{KeySettings, &b.Settings},
	}

	for _, s := range sections {
		blob, err := r.store.Load(ctx, s.key)
		if errors.Is(err, ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal(blob, s.dst); err != nil {
			return fmt.Errorf("decoding %s: %w", s.key, err)
		}
	}
	ensureDefaults(b)

	r.mu.Lock()
	r.bundle = b
	r.mu.Unlock()

	r.logger.Info("registry loaded",
		"users", len(b.Users),
		"groups", len(b.Groups),
		"schedules", len(b.Schedules),
	)
	return nil
}

// Snapshot returns a deep copy of the whole registry.
func (r *Registry) Snapshot() *Bundle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bundle.DeepCopy()
}

// User returns one profile.
func (r *Registry) User(id string) (*UserProfile, error) {
	key, err := NormalizeUserID(id)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.bundle.Users[key]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u.DeepCopy(), nil
}

// Users returns every profile ordered by ID.
func (r *Registry) Users() []UserProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]UserProfile, 0, len(r.bundle.Users))
	for _, id := range r.bundle.UserIDs() {
		out = append(out, *r.bundle.Users[id].DeepCopy())
	}
	return out
}

// Groups returns the group names in creation order.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.bundle.Groups)
}

// Schedules returns every schedule ordered by name.
func (r *Registry) Schedules() []Schedule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Schedule, 0, len(r.bundle.Schedules))
	for _, s := range r.bundle.Schedules {
		out = append(out, s.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Schedule returns one schedule by name, ignoring case.
func (r *Registry) Schedule(name string) (Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.bundle.LookupSchedule(name)
	if !ok {
		return Schedule{}, ErrScheduleNotFound
	}
	return s.DeepCopy(), nil
}

// Settings returns the registry-wide settings.
func (r *Registry) Settings() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.bundle.Settings
	s.AutoReboot.Days = slices.Clone(s.AutoReboot.Days)
	return s
}

// ReserveUser allocates the lowest free user ID and stores an empty pending
// profile under it. IDs in seen (for example read from devices) are skipped.
// Allocation and reservation happen under one lock, so concurrent callers
// always receive distinct IDs.
func (r *Registry) ReserveUser(ctx context.Context, seen []string) (*UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := NextUserID(r.bundle.UserIDs(), seen)
	now := r.now()
	u := &UserProfile{
		ID:         id,
		Status:     StatusPending,
		ReservedAt: &now,
		UpdatedAt:  now,
	}

	users := cloneUsers(r.bundle.Users)
	users[id] = u
	if err := r.save(ctx, KeyUsers, users); err != nil {
		return nil, err
	}
	r.bundle.Users = users

	r.logger.Debug("user id reserved", "id", id)
	return u.DeepCopy(), nil
}

// UpsertUser creates or replaces a profile.
//
// An empty ID allocates a new one. Groups and schedule must exist; their
// stored spelling is used. The user goes back to pending whenever the
// content devices see changes, so the next sync pushes it. Choosing the
// working_days exit policy creates the Monday to Friday clone of the base
// schedule if it does not exist yet.
func (r *Registry) UpsertUser(ctx context.Context, in UserProfile) (*UserProfile, error) {
	if err := validateUser(&in); err != nil {
		return nil, err
	}

	r.mu.Lock()

	u := in.DeepCopy()
	if u.ID == "" {
		u.ID = NextUserID(r.bundle.UserIDs(), nil)
	} else {
		key, err := NormalizeUserID(u.ID)
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		u.ID = key
	}

	groups, err := r.canonicalGroups(u.Groups)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	u.Groups = groups

	if u.ScheduleName != "" {
		s, ok := r.bundle.LookupSchedule(u.ScheduleName)
		if !ok {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %q", ErrScheduleNotFound, u.ScheduleName)
		}
		u.ScheduleName = s.Name
	}

	existing := r.bundle.Users[u.ID]
	r.applyLifecycle(u, existing)

	users := cloneUsers(r.bundle.Users)
	users[u.ID] = u

	var schedules map[string]Schedule
	if u.ExitPermission == ExitWorkingDays {
		base, _ := r.bundle.LookupSchedule(u.EffectiveSchedule())
		if _, ok := r.bundle.LookupSchedule(WorkingDaysName(base.Name)); !ok {
			schedules = cloneSchedules(r.bundle.Schedules)
			clone := base.WorkingDaysClone()
			schedules[clone.Name] = clone
		}
	}

	if schedules != nil {
		if err := r.save(ctx, KeySchedules, schedules); err != nil {
			r.mu.Unlock()
			return nil, err
		}
		r.bundle.Schedules = schedules
	}
	if err := r.save(ctx, KeyUsers, users); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.bundle.Users = users
	r.mu.Unlock()

	r.logger.Info("user saved", "id", u.ID, "status", u.Status)
	r.notifier.MarkChange("")
	return u.DeepCopy(), nil
}

// applyLifecycle carries bookkeeping over from the stored profile and
// decides the new status.
func (r *Registry) applyLifecycle(u, existing *UserProfile) {
	u.UpdatedAt = r.now()

	if u.FaceURL != "" && u.FaceStatus == FaceNone {
		u.FaceStatus = FacePending
	}

	if existing == nil {
		if u.Status != StatusDisabled {
			u.Status = StatusPending
		}
		return
	}

	u.ReservedAt = existing.ReservedAt
	if u.FaceSyncedAt == nil {
		u.FaceSyncedAt = existing.FaceSyncedAt
	}
	if u.FaceURL != existing.FaceURL && u.FaceURL != "" {
		u.FaceStatus = FacePending
	}

	switch {
	case u.Status == StatusDisabled:
	case existing.Status == StatusPending || existing.Disabled() || !u.syncContentEqual(existing):
		u.Status = StatusPending
	default:
		u.Status = existing.Status
	}
}

// DeleteUser removes a profile. The next sync deletes it from every device.
func (r *Registry) DeleteUser(ctx context.Context, id string) error {
	key, err := NormalizeUserID(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if _, ok := r.bundle.Users[key]; !ok {
		r.mu.Unlock()
		return ErrUserNotFound
	}
	users := cloneUsers(r.bundle.Users)
	delete(users, key)
	if err := r.save(ctx, KeyUsers, users); err != nil {
		r.mu.Unlock()
		return err
	}
	r.bundle.Users = users
	r.mu.Unlock()

	r.logger.Info("user deleted", "id", key)
	r.notifier.MarkChange("")
	return nil
}

// ConfirmSynced flips pending users in ids to active and stamps pending
// faces as synced. Returns the IDs whose status changed. Does not schedule
// a sync.
func (r *Registry) ConfirmSynced(ctx context.Context, ids []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := cloneUsers(r.bundle.Users)
	now := r.now()
	var flipped []string
	changed := false

	for _, id := range ids {
		u, ok := users[id]
		if !ok {
			continue
		}
		if u.Status == StatusPending && u.HasContent() {
			u.Status = StatusActive
			flipped = append(flipped, id)
			changed = true
		}
		if u.FaceStatus == FacePending && !u.Disabled() {
			u.FaceStatus = FaceActive
			u.FaceSyncedAt = &now
			changed = true
		}
	}

	if !changed {
		return nil, nil
	}
	if err := r.save(ctx, KeyUsers, users); err != nil {
		return nil, err
	}
	r.bundle.Users = users
	return flipped, nil
}

// CreateGroup adds a group. Names are unique ignoring case.
func (r *Registry) CreateGroup(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLength {
		return fmt.Errorf("%w: %q", ErrInvalidGroup, name)
	}

	r.mu.Lock()
	if slices.ContainsFunc(r.bundle.Groups, func(g string) bool { return strings.EqualFold(g, name) }) {
		r.mu.Unlock()
		return ErrGroupExists
	}
	groups := append(slices.Clone(r.bundle.Groups), name)
	if err := r.save(ctx, KeyGroups, groups); err != nil {
		r.mu.Unlock()
		return err
	}
	r.bundle.Groups = groups
	r.mu.Unlock()

	r.logger.Info("group created", "name", name)
	r.notifier.MarkChange("")
	return nil
}

// DeleteGroup removes a group and drops it from every member. Members left
// without a group fall back to Default. The Default group cannot be deleted.
func (r *Registry) DeleteGroup(ctx context.Context, name string) error {
	if strings.EqualFold(strings.TrimSpace(name), DefaultGroup) {
		return ErrProtectedGroup
	}

	r.mu.Lock()
	idx := slices.IndexFunc(r.bundle.Groups, func(g string) bool { return strings.EqualFold(g, name) })
	if idx < 0 {
		r.mu.Unlock()
		return ErrGroupNotFound
	}
	groupName := r.bundle.Groups[idx]
	groups := slices.Delete(slices.Clone(r.bundle.Groups), idx, idx+1)

	users := cloneUsers(r.bundle.Users)
	membersChanged := false
	for _, u := range users {
		kept := slices.DeleteFunc(slices.Clone(u.Groups), func(g string) bool { return g == groupName })
		if len(kept) == len(u.Groups) {
			continue
		}
		u.Groups = kept
		u.UpdatedAt = r.now()
		if !u.Disabled() {
			u.Status = StatusPending
		}
		membersChanged = true
	}

	if membersChanged {
		if err := r.save(ctx, KeyUsers, users); err != nil {
			r.mu.Unlock()
			return err
		}
		r.bundle.Users = users
	}
	if err := r.save(ctx, KeyGroups, groups); err != nil {
		r.mu.Unlock()
		return err
	}
	r.bundle.Groups = groups
	r.mu.Unlock()

	r.logger.Info("group deleted", "name", groupName)
	r.notifier.MarkChange("")
	return nil
}

// UpsertSchedule creates or replaces a custom schedule. A name differing
// only in case replaces the existing schedule.
func (r *Registry) UpsertSchedule(ctx context.Context, s Schedule) error {
	s.Name = strings.TrimSpace(s.Name)
	if IsBuiltinSchedule(s.Name) {
		return ErrProtectedSchedule
	}
	if err := validateSchedule(s); err != nil {
		return err
	}

	r.mu.Lock()
	schedules := cloneSchedules(r.bundle.Schedules)
	for k := range schedules {
		if strings.EqualFold(k, s.Name) {
			delete(schedules, k)
		}
	}
	schedules[s.Name] = s.DeepCopy()
	if err := r.save(ctx, KeySchedules, schedules); err != nil {
		r.mu.Unlock()
		return err
	}
	r.bundle.Schedules = schedules
	r.mu.Unlock()

	r.logger.Info("schedule saved", "name", s.Name)
	r.notifier.MarkChange("")
	return nil
}

// DeleteSchedule removes a custom schedule. Users referencing it fall back
// to the always-on schedule and are re-pushed.
func (r *Registry) DeleteSchedule(ctx context.Context, name string) error {
	if IsBuiltinSchedule(name) {
		return ErrProtectedSchedule
	}

	r.mu.Lock()
	s, ok := r.bundle.LookupSchedule(name)
	if !ok {
		r.mu.Unlock()
		return ErrScheduleNotFound
	}

	schedules := cloneSchedules(r.bundle.Schedules)
	delete(schedules, s.Name)

	users := cloneUsers(r.bundle.Users)
	membersChanged := false
	for _, u := range users {
		if u.ScheduleName != s.Name {
			continue
		}
		u.ScheduleName = ""
		u.UpdatedAt = r.now()
		if !u.Disabled() {
			u.Status = StatusPending
		}
		membersChanged = true
	}

	if membersChanged {
		if err := r.save(ctx, KeyUsers, users); err != nil {
			r.mu.Unlock()
			return err
		}
		r.bundle.Users = users
	}
	if err := r.save(ctx, KeySchedules, schedules); err != nil {
		r.mu.Unlock()
		return err
	}
	r.bundle.Schedules = schedules
	r.mu.Unlock()

	r.logger.Info("schedule deleted", "name", s.Name)
	r.notifier.MarkChange("")
	return nil
}

// SetAutoSyncTime sets the daily "HH:MM" sync time. Empty disables it.
func (r *Registry) SetAutoSyncTime(ctx context.Context, hhmm string) error {
	hhmm = strings.TrimSpace(hhmm)
	if hhmm != "" && !ValidTime(hhmm) {
		return fmt.Errorf("%w: auto sync time %q is not HH:MM", ErrInvalidSettings, hhmm)
	}
	return r.updateSettings(ctx, func(s *Settings) { s.AutoSyncTime = hhmm })
}

// SetAutoReboot sets the daily device reboot schedule.
func (r *Registry) SetAutoReboot(ctx context.Context, a AutoReboot) error {
	if err := validateAutoReboot(a); err != nil {
		return err
	}
	return r.updateSettings(ctx, func(s *Settings) {
		s.AutoReboot = AutoReboot{Enabled: a.Enabled, Time: a.Time, Days: slices.Clone(a.Days)}
	})
}

func (r *Registry) updateSettings(ctx context.Context, fn func(*Settings)) error {
	r.mu.Lock()
	settings := r.bundle.Settings
	settings.AutoReboot.Days = slices.Clone(settings.AutoReboot.Days)
	fn(&settings)
	if err := r.save(ctx, KeySettings, settings); err != nil {
		r.mu.Unlock()
		return err
	}
	r.bundle.Settings = settings
	r.mu.Unlock()

	r.logger.Info("settings saved",
		"auto_sync_time", settings.AutoSyncTime,
		"auto_reboot", settings.AutoReboot.Enabled,
	)
	r.notifier.MarkChange("")
	return nil
}

// CleanupReservations removes reservations that were never completed within
// the TTL. A profile with any content is never removed. Returns the removed IDs.
func (r *Registry) CleanupReservations(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.ttl)
	var removed []string
	users := cloneUsers(r.bundle.Users)
	for id, u := range users {
		if u.Status != StatusPending || u.HasContent() {
			continue
		}
		reservedAt := u.UpdatedAt
		if u.ReservedAt != nil {
			reservedAt = *u.ReservedAt
		}
		if reservedAt.Before(cutoff) {
			delete(users, id)
			removed = append(removed, id)
		}
	}

	if len(removed) == 0 {
		return nil, nil
	}
	if err := r.save(ctx, KeyUsers, users); err != nil {
		return nil, err
	}
	r.bundle.Users = users

	slices.Sort(removed)
	r.logger.Info("abandoned reservations removed", "ids", removed)
	return removed, nil
}

// StartJanitor runs CleanupReservations every interval until ctx is
// cancelled or StopJanitor is called.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	r.janitorWG.Add(1)
	go r.janitorLoop(ctx, interval)
}

// StopJanitor stops the janitor and waits for it to exit.
// Safe to call multiple times.
func (r *Registry) StopJanitor() {
	r.janitorOnce.Do(func() {
		close(r.janitorDone)
		r.janitorWG.Wait()
	})
}

func (r *Registry) janitorLoop(ctx context.Context, interval time.Duration) {
	defer r.janitorWG.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.janitorDone:
			return
		case <-ticker.C:
			if _, err := r.CleanupReservations(ctx); err != nil {
				r.logger.Error("reservation cleanup failed", "error", err)
			}
		}
	}
}

// canonicalGroups maps names onto existing groups. Must hold r.mu.
func (r *Registry) canonicalGroups(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, name := range names {
		idx := slices.IndexFunc(r.bundle.Groups, func(g string) bool {
			return strings.EqualFold(g, strings.TrimSpace(name))
		})
		if idx < 0 {
			return nil, fmt.Errorf("%w: %q", ErrGroupNotFound, name)
		}
		if g := r.bundle.Groups[idx]; !slices.Contains(out, g) {
			out = append(out, g)
		}
	}
	return out, nil
}

// save marshals v and writes it under key.
func (r *Registry) save(ctx context.Context, key string, v any) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := r.store.Save(ctx, key, blob); err != nil {
		return fmt.Errorf("persisting %s: %w", key, err)
	}
	return nil
}

func cloneUsers(m map[string]*UserProfile) map[string]*UserProfile {
	out := make(map[string]*UserProfile, len(m))
	for k, u := range m {
		out[k] = u.DeepCopy()
	}
	return out
}

func cloneSchedules(m map[string]Schedule) map[string]Schedule {
	out := make(map[string]Schedule, len(m))
	for k, s := range m {
		out[k] = s.DeepCopy()
	}
	return out
}
