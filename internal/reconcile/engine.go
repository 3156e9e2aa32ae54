package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/akuvox-access-core/internal/akuvox"
	"github.com/nerrad567/akuvox-access-core/internal/device"
	"github.com/nerrad567/akuvox-access-core/internal/registry"
)

// Logger defines the logging interface used by the engine and scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the desired-state side of reconciliation.
type Registry interface {
	Snapshot() *registry.Bundle
	ConfirmSynced(ctx context.Context, ids []string) ([]string, error)
}

// Devices is the device registry side of reconciliation.
type Devices interface {
	GetDevice(ctx context.Context, id string) (*device.Record, error)
	ParticipatingDevices() []device.Record
	SetSyncResult(ctx context.Context, id, summary string, syncErr error) error
	SetOnline(ctx context.Context, id string, online bool) error
	SetDeviceInfo(ctx context.Context, id string, typ device.Type, model, firmware, endpoint string) error
	SetIntegrityChecked(ctx context.Context, id string, ok bool) error
	SetLocalUsers(ctx context.Context, id string, users []map[string]string) error
}

// Observer is told about finished passes and integrity checks.
type Observer interface {
	SyncCompleted(res Result)
	IntegrityChecked(rep IntegrityReport)
}

// DefaultReplaceBackoff is the pause between deleting and re-adding a user.
const DefaultReplaceBackoff = 250 * time.Millisecond

// EngineConfig holds the engine tunables.
type EngineConfig struct {
	ReplaceBackoff time.Duration
	FaceBaseURL    string
}

// Result summarises one device pass.
type Result struct {
	DeviceID   string        `json:"device_id"`
	DeviceName string        `json:"device_name"`
	Full       bool          `json:"full"`
	Added      int           `json:"added"`
	Replaced   int           `json:"replaced"`
	Deleted    int           `json:"deleted"`
	Removed    int           `json:"removed"`
	Unchanged  int           `json:"unchanged"`
	Failed     int           `json:"failed"`
	Schedules  int           `json:"schedules,omitempty"`
	Contacts   int           `json:"contacts,omitempty"`
	Activated  []string      `json:"activated,omitempty"`
	Stale      bool          `json:"stale,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	Error      string        `json:"error,omitempty"`
	FinishedAt time.Time     `json:"finished_at"`
}

// OK reports whether the pass left the device in sync.
func (r Result) OK() bool { return r.Error == "" }

// Summary is the one-line description stored on the device record.
func (r Result) Summary() string {
	if !r.OK() {
		return "failed: " + r.Error
	}
	return fmt.Sprintf("added %d, replaced %d, deleted %d, removed %d, unchanged %d, failed %d",
		r.Added, r.Replaced, r.Deleted, r.Removed, r.Unchanged, r.Failed)
}

// Engine reconciles devices against the registry.
type Engine struct {
	registry  Registry
	devices   Devices
	clients   ClientSource
	cfg       EngineConfig
	logger    Logger
	observers []Observer
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

// NewEngine creates an engine. A zero ReplaceBackoff uses the default.
func NewEngine(reg Registry, devices Devices, clients ClientSource, cfg EngineConfig) *Engine {
	if cfg.ReplaceBackoff <= 0 {
		cfg.ReplaceBackoff = DefaultReplaceBackoff
	}
	return &Engine{
		registry: reg,
		devices:  devices,
		clients:  clients,
		cfg:      cfg,
		logger:   noopLogger{},
		sleep:    sleepCtx,
		now:      time.Now,
	}
}

// SetLogger sets the logger.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// AddObserver registers an observer. Not safe to call once passes run.
func (e *Engine) AddObserver(o Observer) {
	e.observers = append(e.observers, o)
}

// ReconcileAll runs a pass over every participating device in ID order.
// Failures are isolated per device and reported in the results.
func (e *Engine) ReconcileAll(ctx context.Context, full bool) []Result {
	devices := e.devices.ParticipatingDevices()
	results := make([]Result, 0, len(devices))
	for i := range devices {
		if ctx.Err() != nil {
			break
		}
		results = append(results, e.reconcile(ctx, &devices[i], full))
	}
	return results
}

// ReconcileDevice runs a pass over one device.
//
// Returns an error only when the device is unknown or not participating.
// Device failures are reported through Result.
func (e *Engine) ReconcileDevice(ctx context.Context, id string, full bool) (Result, error) {
	rec, err := e.devices.GetDevice(ctx, id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return Result{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
		}
		return Result{}, err
	}
	if !rec.Options.Participate {
		return Result{}, fmt.Errorf("%w: %s", ErrNotParticipating, id)
	}
	return e.reconcile(ctx, rec, full), nil
}

func (e *Engine) reconcile(ctx context.Context, rec *device.Record, full bool) Result {
	start := e.now()
	res := Result{DeviceID: rec.ID, DeviceName: rec.Name, Full: full}
	client := e.clients.Client(rec)
	log := deviceLogger{e.logger, rec.ID}

	e.identify(ctx, rec, client)

	local, fetchErr := client.UserList(ctx)
	if fetchErr != nil {
		if rec.LocalUsers == nil {
			e.finish(ctx, rec, &res, start, fmt.Errorf("%w: %v", ErrFetchFailed, fetchErr))
			e.notify(res)
			return res
		}
		// Planning against an empty list would delete every user.
		log.Warn("user list failed, planning against cached snapshot", "error", fetchErr)
		local = recordsFrom(rec.LocalUsers)
		res.Stale = true
	}

	bundle := e.registry.Snapshot()

	if full {
		res.Schedules = e.pushSchedules(ctx, client, bundle, log)
	}

	ids := akuvox.ScheduleIDsByName(nil)
	if schedules, err := client.ScheduleList(ctx); err == nil {
		ids = akuvox.ScheduleIDsByName(schedules)
	} else {
		log.Warn("schedule list failed, using built-in IDs", "error", err)
	}

	plan := BuildPlan(PlanInput{
		Device:      rec,
		Bundle:      bundle,
		Local:       local,
		ScheduleIDs: ids,
		FaceBaseURL: e.cfg.FaceBaseURL,
	})
	res.Unchanged = len(plan.Unchanged)

	synced := e.apply(ctx, client, plan, &res, log)

	if rec.Type() == device.TypeIntercom {
		res.Contacts = e.pushContacts(ctx, client, bundle, log)
	}

	if fresh, err := client.UserList(ctx); err == nil {
		if err := e.devices.SetLocalUsers(ctx, rec.ID, snapshotOf(fresh)); err != nil {
			log.Warn("failed to cache user snapshot", "error", err)
		}
	}

	var passErr error
	if res.Stale {
		passErr = fmt.Errorf("%w: %v", ErrFetchFailed, fetchErr)
	}
	e.finish(ctx, rec, &res, start, passErr)

	if passErr == nil {
		res.Activated = e.confirm(ctx, synced, plan.Unchanged, log)
	}
	e.notify(res)
	return res
}

// identify records the device's model and type the first time it answers.
// A device whose type was configured explicitly is not probed.
func (e *Engine) identify(ctx context.Context, rec *device.Record, client DeviceClient) {
	if rec.Health.DeviceType != "" && rec.Health.Model != "" {
		return
	}
	info, err := client.SystemInfo(ctx)
	if err != nil {
		return
	}

	model := firstNonEmpty(info.Get("Model"), info.Get("model"), info.Get("ModelName"))
	firmware := firstNonEmpty(info.Get("FirmwareVersion"), info.Get("Firmware"))
	typ := rec.Health.DeviceType
	if typ == "" {
		typ = device.TypeIntercom
		if akuvox.IsKeypadModel(model) {
			typ = device.TypeKeypad
		}
		rec.Health.DeviceType = typ
	}
	endpoint := ""
	if ep, ok := client.Working(); ok {
		endpoint = ep.String()
	}
	if err := e.devices.SetDeviceInfo(ctx, rec.ID, typ, model, firmware, endpoint); err != nil {
		e.logger.Warn("failed to record device info", "device_id", rec.ID, "error", err)
	}
}

// pushSchedules upserts every custom registry schedule onto the device.
func (e *Engine) pushSchedules(ctx context.Context, client DeviceClient, b *registry.Bundle, log deviceLogger) int {
	existing := map[string]string{}
	if list, err := client.ScheduleList(ctx); err == nil {
		existing = akuvox.ScheduleIDsByName(list)
	}

	pushed := 0
	for _, name := range sortedScheduleNames(b) {
		s := b.Schedules[name]
		if registry.IsBuiltinSchedule(s.Name) {
			continue
		}
		item := akuvox.WeeklySchedule(s.Name, s.Week())
		item.ID = existing[strings.ToLower(s.Name)]

		err := client.ScheduleSet(ctx, []akuvox.ScheduleItem{item})
		if err != nil {
			item.ID = ""
			err = client.ScheduleAdd(ctx, []akuvox.ScheduleItem{item})
		}
		if err != nil {
			log.Warn("schedule push failed", "schedule", s.Name, "error", err)
			syncOperationsTotal.WithLabelValues("schedule_failed").Inc()
			continue
		}
		syncOperationsTotal.WithLabelValues("schedule").Inc()
		pushed++
	}
	return pushed
}

// apply executes a plan in order: remove-missing, adds, deletes, replaces.
// Returns the users whose device state now matches the registry.
func (e *Engine) apply(ctx context.Context, client DeviceClient, plan Plan, res *Result, log deviceLogger) []string {
	for _, rec := range plan.RemoveMissing {
		if err := deleteRecord(ctx, client, rec); err != nil {
			log.Warn("failed to remove rogue record", "user_id", rec.UserID(), "name", rec.Name(), "error", err)
			res.Failed++
			continue
		}
		res.Removed++
		syncOperationsTotal.WithLabelValues("remove").Inc()
	}

	var adds, deletes, replaces []DesiredAction
	for _, a := range plan.Actions {
		switch a.Kind {
		case ActionAdd:
			adds = append(adds, a)
		case ActionDeleteOnly:
			deletes = append(deletes, a)
		case ActionReplace:
			replaces = append(replaces, a)
		}
	}

	var synced []string

	if len(adds) > 0 {
		items := make([]akuvox.UserItem, 0, len(adds))
		for _, a := range adds {
			items = append(items, a.Item)
		}
		if err := client.UserAdd(ctx, items); err == nil {
			for _, a := range adds {
				synced = append(synced, a.UserID)
			}
			res.Added += len(adds)
		} else {
			log.Warn("batch add failed, retrying per user", "count", len(adds), "error", err)
			for _, a := range adds {
				if err := client.UserAdd(ctx, []akuvox.UserItem{a.Item}); err != nil {
					log.Warn("user add failed", "user_id", a.UserID, "error", err)
					res.Failed++
					continue
				}
				synced = append(synced, a.UserID)
				res.Added++
			}
		}
		syncOperationsTotal.WithLabelValues("add").Add(float64(res.Added))
	}

	for _, a := range deletes {
		if err := deletePrior(ctx, client, a.Prior); err != nil {
			log.Warn("user delete failed", "user_id", a.UserID, "error", err)
			res.Failed++
			continue
		}
		synced = append(synced, a.UserID)
		res.Deleted++
		syncOperationsTotal.WithLabelValues("delete").Inc()
	}

	for _, a := range replaces {
		if err := deletePrior(ctx, client, a.Prior); err != nil {
			log.Warn("replace delete failed", "user_id", a.UserID, "error", err)
			res.Failed++
			continue
		}
		// Some firmware rejects an add that directly follows a delete of
		// the same user.
		if err := e.sleep(ctx, e.cfg.ReplaceBackoff); err != nil {
			res.Failed++
			break
		}
		if err := client.UserAdd(ctx, []akuvox.UserItem{a.Item}); err != nil {
			log.Warn("replace add failed", "user_id", a.UserID, "error", err)
			res.Failed++
			continue
		}
		synced = append(synced, a.UserID)
		res.Replaced++
		syncOperationsTotal.WithLabelValues("replace").Inc()
	}

	return synced
}

// pushContacts writes the registry phonebook: every enabled user with a
// phone number, whether or not the device grants them access.
func (e *Engine) pushContacts(ctx context.Context, client DeviceClient, b *registry.Bundle, log deviceLogger) int {
	var items []akuvox.ContactItem
	for _, id := range b.UserIDs() {
		u := b.Users[id]
		if u.Phone == "" || u.Disabled() {
			continue
		}
		name := u.Name
		if name == "" {
			name = u.ID
		}
		items = append(items, akuvox.ContactItem{Name: name, Phone: u.Phone, Group: u.EffectiveGroups()[0]})
	}
	if len(items) == 0 {
		return 0
	}

	if err := client.ContactSet(ctx, items); err != nil {
		if err := client.ContactAdd(ctx, items); err != nil {
			log.Warn("contact push failed", "count", len(items), "error", err)
			return 0
		}
	}
	syncOperationsTotal.WithLabelValues("contact").Add(float64(len(items)))
	return len(items)
}

func (e *Engine) finish(ctx context.Context, rec *device.Record, res *Result, start time.Time, passErr error) {
	res.FinishedAt = e.now()
	res.Duration = res.FinishedAt.Sub(start)
	syncDuration.Observe(res.Duration.Seconds())

	if passErr != nil {
		res.Error = passErr.Error()
		syncRunsTotal.WithLabelValues("failed").Inc()
		e.logger.Warn("device sync failed", "device_id", rec.ID, "error", passErr)
	} else {
		syncRunsTotal.WithLabelValues("ok").Inc()
		e.logger.Info("device synced", "device_id", rec.ID,
			"added", res.Added, "replaced", res.Replaced, "deleted", res.Deleted,
			"removed", res.Removed, "unchanged", res.Unchanged, "failed", res.Failed)
	}

	if err := e.devices.SetOnline(ctx, rec.ID, !res.Stale && passErr == nil); err != nil {
		e.logger.Warn("failed to record reachability", "device_id", rec.ID, "error", err)
	}
	if err := e.devices.SetSyncResult(ctx, rec.ID, res.Summary(), passErr); err != nil {
		e.logger.Warn("failed to record sync result", "device_id", rec.ID, "error", err)
	}
}

// confirm flips pending users whose push to this device succeeded, or who
// already matched it, to active. A device that missed the push converges
// later by field comparison, so a user is never re-pushed to devices that
// already hold it.
func (e *Engine) confirm(ctx context.Context, synced, unchanged []string, log deviceLogger) []string {
	candidates := append(append([]string(nil), synced...), unchanged...)
	if len(candidates) == 0 {
		return nil
	}

	bundle := e.registry.Snapshot()
	var ready []string
	for _, id := range candidates {
		u, ok := bundle.Users[id]
		if !ok {
			continue
		}
		if u.Status == registry.StatusPending || u.FaceStatus == registry.FacePending {
			ready = append(ready, id)
		}
	}
	if len(ready) == 0 {
		return nil
	}

	flipped, err := e.registry.ConfirmSynced(ctx, ready)
	if err != nil {
		log.Warn("failed to confirm synced users", "error", err)
		return nil
	}
	return flipped
}

func (e *Engine) notify(res Result) {
	for _, o := range e.observers {
		o.SyncCompleted(res)
	}
}

// RebootAll reboots every participating device, best effort. Returns the
// IDs that accepted the request.
func (e *Engine) RebootAll(ctx context.Context) []string {
	var ok []string
	for _, rec := range e.devices.ParticipatingDevices() {
		if err := e.clients.Client(&rec).SystemReboot(ctx); err != nil {
			e.logger.Warn("reboot failed", "device_id", rec.ID, "error", err)
			continue
		}
		e.logger.Info("device rebooting", "device_id", rec.ID)
		ok = append(ok, rec.ID)
	}
	return ok
}

// deletePrior removes every device record held for one user.
func deletePrior(ctx context.Context, client DeviceClient, prior []akuvox.Record) error {
	var errs []error
	for _, rec := range prior {
		if err := deleteRecord(ctx, client, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// deleteRecord deletes by ID, then UserID, then Name, stopping at the first
// key the device accepts. A record that is already gone counts as deleted.
func deleteRecord(ctx context.Context, client DeviceClient, rec akuvox.Record) error {
	var lastErr error
	for _, key := range []string{rec.ID(), rec.UserID(), rec.Name()} {
		if key == "" {
			continue
		}
		err := client.UserDelete(ctx, key)
		if err == nil || errors.Is(err, akuvox.ErrUserNotFound) {
			return nil
		}
		lastErr = err
	}
	if lastErr == nil {
		return errors.New("record has no usable key")
	}
	return lastErr
}

func recordsFrom(users []map[string]string) []akuvox.Record {
	out := make([]akuvox.Record, 0, len(users))
	for _, u := range users {
		out = append(out, akuvox.Record(u))
	}
	return out
}

func snapshotOf(records []akuvox.Record) []map[string]string {
	out := make([]map[string]string, 0, len(records))
	for _, r := range records {
		m := make(map[string]string, len(r))
		for k, v := range r {
			if strings.EqualFold(k, "PrivatePIN") {
				continue
			}
			m[k] = v
		}
		out = append(out, m)
	}
	return out
}

func sortedScheduleNames(b *registry.Bundle) []string {
	set := make(map[string]struct{}, len(b.Schedules))
	for name := range b.Schedules {
		set[name] = struct{}{}
	}
	return sortedKeys(set)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// deviceLogger tags every line with the device ID.
type deviceLogger struct {
	Logger
	id string
}

func (l deviceLogger) Warn(msg string, args ...any) {
	l.Logger.Warn(msg, append([]any{"device_id", l.id}, args...)...)
}
