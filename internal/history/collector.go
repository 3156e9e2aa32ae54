package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/akuvox-access-core/internal/akuvox"
	"github.com/nerrad567/akuvox-access-core/internal/device"
	"github.com/nerrad567/akuvox-access-core/internal/registry"
)

// StoreKey is the key/value store key holding the persisted history.
const StoreKey = "history"

// Collector defaults.
const (
	DefaultPollInterval = time.Minute
	DefaultLimit        = 200
	maxConcurrentPolls  = 4
)

// Logger defines the logging interface used by the collector.
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

// DoorLogReader reads a device's access log.
type DoorLogReader interface {
	DoorLog(ctx context.Context) ([]akuvox.Record, error)
}

// Devices lists the devices to poll.
type Devices interface {
	ParticipatingDevices() []device.Record
}

// Observer is told about events that were new to the buffer.
type Observer interface {
	AccessEvents(events []Event)
}

// CollectorConfig holds the collector tunables. Zero values use defaults.
type CollectorConfig struct {
	Interval time.Duration
	Limit    int
}

// Collector polls device door logs into a Buffer.
type Collector struct {
	buf       *Buffer
	devices   Devices
	readers   func(rec *device.Record) DoorLogReader
	store     registry.Store
	cfg       CollectorConfig
	logger    Logger
	observers []Observer

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCollector creates a collector. readers returns the log reader for a
// device; store may be nil to skip persistence.
func NewCollector(buf *Buffer, devices Devices, readers func(rec *device.Record) DoorLogReader, store registry.Store, cfg CollectorConfig) *Collector {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Limit == 0 {
		cfg.Limit = DefaultLimit
	}
	return &Collector{
		buf:     buf,
		devices: devices,
		readers: readers,
		store:   store,
		cfg:     cfg,
		logger:  noopLogger{},
		done:    make(chan struct{}),
	}
}

// SetLogger sets the logger.
func (c *Collector) SetLogger(logger Logger) {
	c.logger = logger
}

// AddObserver registers an observer. Not safe to call once polling runs.
func (c *Collector) AddObserver(o Observer) {
	c.observers = append(c.observers, o)
}

// Snapshot returns up to limit of the newest events.
func (c *Collector) Snapshot(limit int) []Event {
	return c.buf.Snapshot(limit)
}

// Load restores the persisted history. A missing entry is not an error.
func (c *Collector) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	blob, err := c.store.Load(ctx, StoreKey)
	if err != nil {
		if errors.Is(err, registry.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("loading history: %w", err)
	}

	var events []Event
	if err := json.Unmarshal(blob, &events); err != nil {
		return fmt.Errorf("decoding history: %w", err)
	}
	c.buf.Ingest(events, c.cfg.Limit)
	c.logger.Info("history restored", "events", c.buf.Len())
	return nil
}

// Poll reads every participating device's log concurrently, ingests the
// events and persists the result. A device that cannot be read is skipped.
//
// Returns the events that were new.
func (c *Collector) Poll(ctx context.Context) ([]Event, error) {
	devices := c.devices.ParticipatingDevices()

	var (
		mu  sync.Mutex
		all []Event
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPolls)
	for i := range devices {
		rec := &devices[i]
		g.Go(func() error {
			records, err := c.readers(rec).DoorLog(gctx)
			if err != nil {
				c.logger.Warn("door log read failed", "device_id", rec.ID, "error", err)
				return nil
			}
			events := make([]Event, 0, len(records))
			for _, r := range records {
				events = append(events, EventFromRecord(rec, r))
			}
			mu.Lock()
			all = append(all, events...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fresh := c.buf.Ingest(all, c.cfg.Limit)
	if len(fresh) == 0 {
		return nil, nil
	}

	if err := c.persist(ctx); err != nil {
		return fresh, err
	}
	for _, o := range c.observers {
		o.AccessEvents(fresh)
	}
	c.logger.Debug("access events collected", "new", len(fresh), "retained", c.buf.Len())
	return fresh, nil
}

func (c *Collector) persist(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	blob, err := json.Marshal(c.buf.Snapshot(0))
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}
	if err := c.store.Save(ctx, StoreKey, blob); err != nil {
		return fmt.Errorf("saving history: %w", err)
	}
	return nil
}

// Start begins polling on the configured interval.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop halts polling and waits for an in-flight poll.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if _, err := c.Poll(ctx); err != nil {
				c.logger.Warn("history poll failed", "error", err)
			}
		}
	}
}

// EventFromRecord maps a door-log record onto an Event. The dedup key is
// the device ID plus the record ID, or a name-based UUID of the record's
// identifying fields when the firmware reports no ID.
func EventFromRecord(rec *device.Record, r akuvox.Record) Event {
	raw := firstField(r, "Time", "DateTime", "Date")
	if date, clock := r.Get("Date"), r.Get("Time"); date != "" && clock != "" && !strings.Contains(clock, "-") {
		raw = date + " " + clock
	}

	ev := Event{
		DeviceID:   rec.ID,
		DeviceName: rec.Name,
		RawTime:    raw,
		Time:       ParseTimestamp(raw),
		UserID:     firstField(r, "UserID", "UserId", "Code"),
		Name:       firstField(r, "Name", "UserName"),
		Method:     firstField(r, "Type", "Method", "Mode"),
		Result:     firstField(r, "Status", "Result"),
		Door:       firstField(r, "Relay", "Door", "DoorNum"),
	}

	if id := r.ID(); id != "" {
		ev.Key = rec.ID + ":" + id
	} else {
		fingerprint := strings.Join([]string{rec.ID, raw, ev.UserID, ev.Name, ev.Method, ev.Result}, "|")
		ev.Key = rec.ID + ":" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(fingerprint)).String()
	}
	return ev
}

func firstField(r akuvox.Record, keys ...string) string {
	for _, k := range keys {
		if v := r.Get(k); v != "" {
			return v
		}
	}
	return ""
}
