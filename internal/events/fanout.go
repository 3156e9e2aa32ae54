package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/akuvox-access-core/internal/api"
	"github.com/nerrad567/akuvox-access-core/internal/audit"
	"github.com/nerrad567/akuvox-access-core/internal/device"
	"github.com/nerrad567/akuvox-access-core/internal/history"
	"github.com/nerrad567/akuvox-access-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/akuvox-access-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/akuvox-access-core/internal/reconcile"
)

// commandTimeout bounds a sync started from an MQTT command.
const commandTimeout = 5 * time.Minute

// Logger defines the logging interface used by the fan-out.
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

// Publisher publishes JSON payloads on MQTT topics.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// Subscriber registers MQTT topic handlers.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// PointWriter writes time-series points.
type PointWriter interface {
	WriteSyncResult(p influxdb.SyncPoint)
	WriteAccessEvent(p influxdb.AccessPoint)
}

// Broadcaster pushes events to WebSocket subscribers.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Auditor records audit entries.
type Auditor interface {
	Record(action, entityType, entityID, source string, details map[string]any)
}

// Syncer runs an immediate sync.
type Syncer interface {
	SyncNow(ctx context.Context, deviceID string) ([]reconcile.Result, error)
}

// DeviceSource looks up device records.
type DeviceSource interface {
	GetDevice(ctx context.Context, id string) (*device.Record, error)
}

// Sinks lists the destinations events go to. Nil fields are skipped.
type Sinks struct {
	MQTT    Publisher
	Points  PointWriter
	Hub     Broadcaster
	Audit   Auditor
	Devices DeviceSource
}

// Fanout implements reconcile.Observer and history.Observer.
type Fanout struct {
	sinks  Sinks
	topics mqtt.Topics
	logger Logger

	syncer Syncer
	flight singleflight.Group

	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	stopped  bool
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a fan-out over sinks.
func New(sinks Sinks) *Fanout {
	ctx, cancel := context.WithCancel(context.Background())
	return &Fanout{sinks: sinks, logger: noopLogger{}, ctx: ctx, cancel: cancel}
}

// SetLogger sets the logger for the fan-out.
func (f *Fanout) SetLogger(logger Logger) {
	f.logger = logger
}

// SyncCompleted publishes one device pass.
func (f *Fanout) SyncCompleted(res reconcile.Result) {
	f.publish(f.topics.DeviceSync(res.DeviceID), res, true)

	if f.sinks.Points != nil {
		f.sinks.Points.WriteSyncResult(influxdb.SyncPoint{
			DeviceID:  res.DeviceID,
			Full:      res.Full,
			OK:        res.OK(),
			Stale:     res.Stale,
			Added:     res.Added,
			Replaced:  res.Replaced,
			Deleted:   res.Deleted,
			Removed:   res.Removed,
			Unchanged: res.Unchanged,
			Failed:    res.Failed,
			Duration:  res.Duration,
			Time:      res.FinishedAt,
		})
	}

	f.broadcast(api.ChannelSyncCompleted, res)
	f.broadcastHealth(res.DeviceID)

	if f.sinks.Audit != nil {
		details := map[string]any{
			"full":      res.Full,
			"added":     res.Added,
			"replaced":  res.Replaced,
			"deleted":   res.Deleted,
			"removed":   res.Removed,
			"unchanged": res.Unchanged,
			"failed":    res.Failed,
		}
		if res.Error != "" {
			details["error"] = res.Error
		}
		if len(res.Activated) > 0 {
			details["activated"] = res.Activated
		}
		f.sinks.Audit.Record(audit.ActionSync, audit.EntityDevice, res.DeviceID, "sync", details)
	}
}

// IntegrityChecked publishes one integrity report.
func (f *Fanout) IntegrityChecked(rep reconcile.IntegrityReport) {
	f.publish(f.topics.DeviceIntegrity(rep.DeviceID), rep, true)
	f.broadcast(api.ChannelIntegrityChecked, rep)
	if rep.Mismatch() {
		f.logger.Warn("device user list drifted",
			"device_id", rep.DeviceID,
			"missing", len(rep.Missing),
			"extra", len(rep.Extra),
		)
	}
}

// AccessEvents publishes newly collected door-log entries.
func (f *Fanout) AccessEvents(events []history.Event) {
	for _, ev := range events {
		f.publish(f.topics.AccessEvent(), ev, false)
		if f.sinks.Points != nil {
			f.sinks.Points.WriteAccessEvent(influxdb.AccessPoint{
				DeviceID: ev.DeviceID,
				UserID:   ev.UserID,
				Name:     ev.Name,
				Method:   ev.Method,
				Result:   ev.Result,
				Door:     ev.Door,
				Time:     ev.Time,
			})
		}
	}
	if len(events) > 0 {
		f.broadcast(api.ChannelAccessEvent, events)
	}
}

func (f *Fanout) publish(topic string, v any, retained bool) {
	if f.sinks.MQTT == nil {
		return
	}
	if err := f.sinks.MQTT.PublishJSON(topic, v, retained); err != nil {
		f.logger.Debug("mqtt publish skipped", "topic", topic, "error", err)
	}
}

func (f *Fanout) broadcast(channel string, payload any) {
	if f.sinks.Hub != nil {
		f.sinks.Hub.Broadcast(channel, payload)
	}
}

// broadcastHealth pushes the device's health record after a pass changed it.
func (f *Fanout) broadcastHealth(id string) {
	if f.sinks.Hub == nil || f.sinks.Devices == nil || id == "" {
		return
	}
	rec, err := f.sinks.Devices.GetDevice(f.ctx, id)
	if err != nil {
		return
	}
	f.sinks.Hub.Broadcast(api.ChannelDeviceHealth, map[string]any{
		"device_id": rec.ID,
		"name":      rec.Name,
		"health":    rec.Health,
	})
}

// syncCommand is the payload accepted on the sync command topic. An empty
// device ID syncs every participating device.
type syncCommand struct {
	DeviceID string `json:"device_id"`
}

// ListenForCommands subscribes to the sync command topic. Commands run in
// the background; repeats for a device already syncing join that run.
func (f *Fanout) ListenForCommands(sub Subscriber, syncer Syncer, qos byte) error {
	f.syncer = syncer
	if err := sub.Subscribe(f.topics.SyncCommand(), qos, f.handleCommand); err != nil {
		return fmt.Errorf("subscribing to sync commands: %w", err)
	}
	return nil
}

func (f *Fanout) handleCommand(topic string, payload []byte) error {
	var cmd syncCommand
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("decoding %s: %w", topic, err)
		}
	}
	if f.syncer == nil {
		return nil
	}

	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.wg.Add(1)
	f.mu.Unlock()

	f.logger.Info("sync requested over mqtt", "device_id", cmd.DeviceID)
	go func() {
		defer f.wg.Done()
		f.runCommand(cmd.DeviceID)
	}()
	return nil
}

func (f *Fanout) runCommand(deviceID string) {
	_, err, shared := f.flight.Do("sync:"+deviceID, func() (any, error) {
		ctx, cancel := context.WithTimeout(f.ctx, commandTimeout)
		defer cancel()
		return f.syncer.SyncNow(ctx, deviceID)
	})
	if shared {
		f.logger.Debug("sync command joined a running sync", "device_id", deviceID)
	}
	if err != nil {
		f.logger.Warn("sync command failed", "device_id", deviceID, "error", err)
	}
}

// Stop cancels running commands and waits for them to return.
func (f *Fanout) Stop() {
	f.stopOnce.Do(func() {
		f.mu.Lock()
		f.stopped = true
		f.mu.Unlock()
		f.cancel()
		f.wg.Wait()
	})
}
