package reconcile

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/akuvox-access-core/internal/registry"
)

// Scheduler defaults.
const (
	DefaultDebounce          = 30 * time.Minute
	DefaultFullSyncInterval  = 30 * time.Minute
	DefaultIntegrityInterval = 15 * time.Minute
)

// Syncer runs reconciliation passes. *Engine satisfies it.
type Syncer interface {
	ReconcileAll(ctx context.Context, full bool) []Result
	ReconcileDevice(ctx context.Context, id string, full bool) (Result, error)
	CheckIntegrity(ctx context.Context) []IntegrityReport
	RebootAll(ctx context.Context) []string
}

// PendingMarker flags devices as awaiting a sync.
type PendingMarker interface {
	MarkPending(ctx context.Context, ids ...string) error
	AllInSync() bool
}

// SettingsSource supplies the daily auto-sync and auto-reboot times.
type SettingsSource interface {
	Settings() registry.Settings
}

// SchedulerConfig holds the scheduler intervals. Zero values use defaults.
type SchedulerConfig struct {
	Debounce          time.Duration
	FullSyncInterval  time.Duration
	IntegrityInterval time.Duration
}

// SchedulerStatus is a point-in-time view of the scheduler.
type SchedulerStatus struct {
	Running        bool       `json:"running"`
	PendingAll     bool       `json:"pending_all"`
	PendingDevices []string   `json:"pending_devices,omitempty"`
	NextSync       *time.Time `json:"next_sync,omitempty"`
	NextAutoSync   *time.Time `json:"next_auto_sync,omitempty"`
	NextReboot     *time.Time `json:"next_reboot,omitempty"`
	LastRun        *time.Time `json:"last_run,omitempty"`
	LastTrigger    string     `json:"last_trigger,omitempty"`
}

type commandKind int

const (
	cmdMarkChange commandKind = iota
	cmdSyncNow
)

type command struct {
	kind     commandKind
	deviceID string
	delay    time.Duration
	reply    chan syncReply
}

type syncReply struct {
	results []Result
	err     error
}

// Scheduler serialises every reconciliation trigger through one goroutine.
// At most one pass runs at a time and at most one debounce timer is armed.
type Scheduler struct {
	syncer   Syncer
	devices  PendingMarker
	settings SettingsSource
	cfg      SchedulerConfig
	logger   Logger
	now      func() time.Time

	cmds     chan command
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	statusMu sync.RWMutex
	status   SchedulerStatus

	// Owned by the loop goroutine.
	debounce   *time.Timer
	dueAt      time.Time
	pendingAll bool
	pendingIDs map[string]struct{}
	autoSync   *time.Timer
	reboot     *time.Timer
	armed      registry.Settings
	armedOnce  bool
	nextAuto   time.Time
	nextReboot time.Time
}

// NewScheduler creates a scheduler. Call Start to run it.
func NewScheduler(syncer Syncer, devices PendingMarker, settings SettingsSource, cfg SchedulerConfig) *Scheduler {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.FullSyncInterval <= 0 {
		cfg.FullSyncInterval = DefaultFullSyncInterval
	}
	if cfg.IntegrityInterval <= 0 {
		cfg.IntegrityInterval = DefaultIntegrityInterval
	}
	return &Scheduler{
		syncer:     syncer,
		devices:    devices,
		settings:   settings,
		cfg:        cfg,
		logger:     noopLogger{},
		now:        time.Now,
		cmds:       make(chan command, 64),
		done:       make(chan struct{}),
		pendingIDs: make(map[string]struct{}),
	}
}

// SetLogger sets the logger.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// Start launches the scheduler goroutine. It stops when ctx is cancelled
// or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop halts the scheduler and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

// MarkChange records that deviceID (or every device, when empty) must be
// synced. The device is marked pending immediately; the pass runs once
// the configured debounce delay passes without further changes.
//
// MarkChange implements registry.ChangeNotifier.
func (s *Scheduler) MarkChange(deviceID string) {
	s.MarkChangeIn(deviceID, s.cfg.Debounce)
}

// MarkChangeIn is MarkChange with an explicit delay. The new delay replaces
// whatever timer was armed, so a short delay pulls a pending pass forward
// and a long one pushes it back. Negative delays count as zero.
func (s *Scheduler) MarkChangeIn(deviceID string, delay time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if deviceID == "" {
		err = s.devices.MarkPending(ctx)
	} else {
		err = s.devices.MarkPending(ctx, deviceID)
	}
	if err != nil {
		s.logger.Warn("failed to mark devices pending", "device_id", deviceID, "error", err)
	}

	select {
	case s.cmds <- command{kind: cmdMarkChange, deviceID: deviceID, delay: max(delay, 0)}:
	case <-s.done:
	}
}

// SyncNow cancels the debounce timer and runs a full pass for deviceID, or
// every device when empty, returning once the pass has finished.
func (s *Scheduler) SyncNow(ctx context.Context, deviceID string) ([]Result, error) {
	reply := make(chan syncReply, 1)
	select {
	case s.cmds <- command{kind: cmdSyncNow, deviceID: deviceID, reply: reply}:
	case <-s.done:
		return nil, ErrSchedulerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.results, r.err
	case <-s.done:
		return nil, ErrSchedulerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns the scheduler's current state.
func (s *Scheduler) Status() SchedulerStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st := s.status
	st.PendingDevices = slices.Clone(s.status.PendingDevices)
	return st
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	defer s.stopTimers()

	full := time.NewTicker(s.cfg.FullSyncInterval)
	defer full.Stop()
	integrity := time.NewTicker(s.cfg.IntegrityInterval)
	defer integrity.Stop()

	s.rearmDaily()
	s.publish(false, "")

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case cmd := <-s.cmds:
			s.handle(ctx, cmd)
		case <-timerC(s.debounce):
			s.debounce = nil
			s.runPending(ctx)
		case <-full.C:
			s.runAll(ctx, "periodic")
		case <-integrity.C:
			s.runIntegrity(ctx)
		case <-timerC(s.autoSync):
			s.autoSync = nil
			s.runAll(ctx, "auto_sync")
			s.armAutoSync(s.armed.AutoSyncTime)
			s.publish(false, "")
		case <-timerC(s.reboot):
			s.reboot = nil
			s.runReboot(ctx)
			s.armReboot(s.armed.AutoReboot)
			s.publish(false, "")
		}
	}
}

func (s *Scheduler) handle(ctx context.Context, cmd command) {
	s.rearmDaily()

	switch cmd.kind {
	case cmdMarkChange:
		if cmd.deviceID == "" {
			s.pendingAll = true
		} else {
			s.pendingIDs[cmd.deviceID] = struct{}{}
		}
		s.stopDebounce()
		s.armDebounce(cmd.delay)
		s.logger.Debug("sync scheduled", "device_id", cmd.deviceID, "due", s.dueAt)
		s.publish(false, "")

	case cmdSyncNow:
		s.stopDebounce()
		var reply syncReply
		s.publish(true, "manual")
		if cmd.deviceID == "" {
			reply.results = s.syncer.ReconcileAll(ctx, true)
			s.clearPending()
		} else {
			res, err := s.syncer.ReconcileDevice(ctx, cmd.deviceID, true)
			reply.err = err
			if err == nil {
				reply.results = []Result{res}
			}
			delete(s.pendingIDs, cmd.deviceID)
			if s.hasPending() {
				s.armDebounce(max(s.dueAt.Sub(s.now()), 0))
			}
		}
		s.markRun("manual")
		cmd.reply <- reply
	}
}

// runPending executes the debounced scope.
func (s *Scheduler) runPending(ctx context.Context) {
	all := s.pendingAll
	ids := make([]string, 0, len(s.pendingIDs))
	for id := range s.pendingIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	s.clearPending()

	s.publish(true, "debounce")
	if all {
		s.syncer.ReconcileAll(ctx, true)
	} else {
		for _, id := range ids {
			if _, err := s.syncer.ReconcileDevice(ctx, id, true); err != nil {
				s.logger.Warn("scheduled device sync skipped", "device_id", id, "error", err)
			}
		}
	}
	s.markRun("debounce")
}

// runAll executes a full pass over every device and satisfies any
// pending scope.
func (s *Scheduler) runAll(ctx context.Context, trigger string) {
	s.stopDebounce()
	s.clearPending()
	s.publish(true, trigger)
	s.syncer.ReconcileAll(ctx, true)
	s.markRun(trigger)
}

// runIntegrity checks devices only when nothing is waiting to sync, and
// immediately syncs any device that drifted.
func (s *Scheduler) runIntegrity(ctx context.Context) {
	if s.hasPending() || !s.devices.AllInSync() {
		s.logger.Debug("integrity check skipped, sync pending")
		return
	}

	s.publish(true, "integrity")
	for _, rep := range s.syncer.CheckIntegrity(ctx) {
		if !rep.Mismatch() {
			continue
		}
		if _, err := s.syncer.ReconcileDevice(ctx, rep.DeviceID, true); err != nil && !errors.Is(err, ErrDeviceNotFound) {
			s.logger.Warn("repair sync failed", "device_id", rep.DeviceID, "error", err)
		}
	}
	s.markRun("integrity")
}

func (s *Scheduler) runReboot(ctx context.Context) {
	if !s.armed.AutoReboot.RunsOn(s.now().Weekday()) {
		return
	}
	s.publish(true, "auto_reboot")
	rebooted := s.syncer.RebootAll(ctx)
	s.logger.Info("scheduled reboot issued", "devices", len(rebooted))
	s.markRun("auto_reboot")
}

// rearmDaily re-reads registry settings and re-arms the daily timers when
// they changed.
func (s *Scheduler) rearmDaily() {
	if s.settings == nil {
		return
	}
	cur := s.settings.Settings()
	if s.armedOnce && cur.AutoSyncTime == s.armed.AutoSyncTime &&
		cur.AutoReboot.Enabled == s.armed.AutoReboot.Enabled &&
		cur.AutoReboot.Time == s.armed.AutoReboot.Time &&
		slices.Equal(cur.AutoReboot.Days, s.armed.AutoReboot.Days) {
		return
	}
	s.armed = cur
	s.armedOnce = true
	s.armAutoSync(cur.AutoSyncTime)
	s.armReboot(cur.AutoReboot)
}

func (s *Scheduler) armAutoSync(hhmm string) {
	if s.autoSync != nil {
		s.autoSync.Stop()
		s.autoSync = nil
	}
	s.nextAuto = time.Time{}
	next, ok := nextDaily(s.now(), hhmm)
	if !ok {
		return
	}
	s.nextAuto = next
	s.autoSync = time.NewTimer(next.Sub(s.now()))
}

func (s *Scheduler) armReboot(a registry.AutoReboot) {
	if s.reboot != nil {
		s.reboot.Stop()
		s.reboot = nil
	}
	s.nextReboot = time.Time{}
	if !a.Enabled {
		return
	}
	next, ok := nextDaily(s.now(), a.Time)
	if !ok {
		return
	}
	s.nextReboot = next
	s.reboot = time.NewTimer(next.Sub(s.now()))
}

func (s *Scheduler) armDebounce(d time.Duration) {
	s.dueAt = s.now().Add(d)
	s.debounce = time.NewTimer(d)
	pendingScopeGauge.Set(1)
}

func (s *Scheduler) stopDebounce() {
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	pendingScopeGauge.Set(0)
}

func (s *Scheduler) clearPending() {
	s.pendingAll = false
	clear(s.pendingIDs)
}

func (s *Scheduler) hasPending() bool {
	return s.debounce != nil || s.pendingAll || len(s.pendingIDs) > 0
}

func (s *Scheduler) stopTimers() {
	s.stopDebounce()
	for _, t := range []*time.Timer{s.autoSync, s.reboot} {
		if t != nil {
			t.Stop()
		}
	}
}

func (s *Scheduler) markRun(trigger string) {
	now := s.now()
	s.statusMu.Lock()
	s.status.LastRun = &now
	s.status.LastTrigger = trigger
	s.statusMu.Unlock()
	s.publish(false, "")
}

// publish copies the loop-owned state into the status snapshot.
func (s *Scheduler) publish(running bool, trigger string) {
	ids := make([]string, 0, len(s.pendingIDs))
	for id := range s.pendingIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.Running = running
	if trigger != "" {
		s.status.LastTrigger = trigger
	}
	s.status.PendingAll = s.pendingAll
	s.status.PendingDevices = ids
	s.status.NextSync = nil
	if s.debounce != nil {
		due := s.dueAt
		s.status.NextSync = &due
	}
	s.status.NextAutoSync = timePtr(s.nextAuto)
	s.status.NextReboot = timePtr(s.nextReboot)
}

// nextDaily returns the next local wall-clock occurrence of "HH:MM" after now.
func nextDaily(now time.Time, hhmm string) (time.Time, bool) {
	if !registry.ValidTime(hhmm) {
		return time.Time{}, false
	}
	h, _ := strconv.Atoi(hhmm[:2]) //nolint:errcheck // validated above
	m, _ := strconv.Atoi(hhmm[3:]) //nolint:errcheck // validated above

	next := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next, true
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
