package history

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/akuvox-access-core/internal/akuvox"
	"github.com/nerrad567/akuvox-access-core/internal/device"
	"github.com/nerrad567/akuvox-access-core/internal/registry"
)

type fakeLog struct {
	records []akuvox.Record
	err     error
}

func (f fakeLog) DoorLog(context.Context) ([]akuvox.Record, error) {
	return f.records, f.err
}

type staticDevices []device.Record

func (s staticDevices) ParticipatingDevices() []device.Record {
	return append([]device.Record(nil), s...)
}

type recordingObserver struct {
	batches [][]Event
}

func (o *recordingObserver) AccessEvents(events []Event) {
	o.batches = append(o.batches, events)
}

func newTestCollector(logs map[string]fakeLog, store registry.Store) (*Collector, *recordingObserver) {
	devices := staticDevices{
		{ID: "front", Name: "Front Door"},
		{ID: "back", Name: "Back Door"},
	}
	readers := func(rec *device.Record) DoorLogReader { return logs[rec.ID] }
	c := NewCollector(NewBuffer(), devices, readers, store, CollectorConfig{Limit: 10})
	obs := &recordingObserver{}
	c.AddObserver(obs)
	return c, obs
}

func TestCollector_Poll(t *testing.T) {
	logs := map[string]fakeLog{
		"front": {records: []akuvox.Record{
			{"ID": "1", "Time": "2026-03-02 08:00:00", "Name": "Ann", "UserID": "HA001", "Type": "PIN", "Status": "Succeeded"},
			{"ID": "2", "Time": "2026-03-02 09:00:00", "Name": "Bob", "UserID": "HA002", "Type": "Card"},
		}},
		"back": {err: errors.New("offline")},
	}
	store := registry.NewMemoryStore()
	c, obs := newTestCollector(logs, store)
	ctx := context.Background()

	fresh, err := c.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(fresh) != 2 || fresh[0].Key != "front:2" {
		t.Fatalf("fresh = %+v, want front:2 then front:1", fresh)
	}
	if fresh[1].Method != "PIN" || fresh[1].Result != "Succeeded" || fresh[1].DeviceName != "Front Door" {
		t.Errorf("event = %+v", fresh[1])
	}
	if len(obs.batches) != 1 {
		t.Errorf("observer batches = %d, want 1", len(obs.batches))
	}

	fresh, err = c.Poll(ctx)
	if err != nil || len(fresh) != 0 {
		t.Errorf("second Poll() = %v, %v; want nothing new", fresh, err)
	}
	if len(obs.batches) != 1 {
		t.Errorf("observer notified without new events")
	}

	restored, _ := newTestCollector(logs, store)
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if snap := restored.Snapshot(0); len(snap) != 2 || snap[0].Key != "front:2" {
		t.Errorf("restored snapshot = %+v", snap)
	}
}

func TestCollector_LoadMissingAndCorrupt(t *testing.T) {
	ctx := context.Background()
	store := registry.NewMemoryStore()
	c, _ := newTestCollector(nil, store)
	if err := c.Load(ctx); err != nil {
		t.Errorf("Load() with nothing saved error = %v", err)
	}

	if err := store.Save(ctx, StoreKey, []byte("{not json")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := c.Load(ctx); err == nil {
		t.Error("Load() of corrupt history succeeded")
	}
}

func TestCollector_StartStop(t *testing.T) {
	logs := map[string]fakeLog{
		"front": {records: []akuvox.Record{{"ID": "1", "Time": "2026-03-02 08:00:00"}}},
		"back":  {},
	}
	c, _ := newTestCollector(logs, nil)
	c.cfg.Interval = 10 * time.Millisecond

	c.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for len(c.Snapshot(0)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("collector never polled")
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.Stop()
	c.Stop()
}

func TestEventFromRecord(t *testing.T) {
	dev := &device.Record{ID: "front", Name: "Front Door"}

	t.Run("split date and time", func(t *testing.T) {
		ev := EventFromRecord(dev, akuvox.Record{"ID": "7", "Date": "2026-03-02", "Time": "10:15:00", "Relay": "1"})
		want := time.Date(2026, 3, 2, 10, 15, 0, 0, time.Local)
		if !ev.Time.Equal(want) || ev.Door != "1" || ev.Key != "front:7" {
			t.Errorf("event = %+v", ev)
		}
	})

	t.Run("missing id gets stable fingerprint key", func(t *testing.T) {
		r := akuvox.Record{"Time": "2026-03-02 10:15:00", "Name": "Ann", "Type": "Face"}
		a := EventFromRecord(dev, r)
		b := EventFromRecord(dev, r)
		if a.Key != b.Key || !strings.HasPrefix(a.Key, "front:") {
			t.Errorf("keys = %q, %q; want equal and device-prefixed", a.Key, b.Key)
		}
		r["Name"] = "Bob"
		if EventFromRecord(dev, r).Key == a.Key {
			t.Error("different events share a key")
		}
	})
}
