package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/akuvox-access-core/internal/api"
	"github.com/nerrad567/akuvox-access-core/internal/audit"
	"github.com/nerrad567/akuvox-access-core/internal/device"
	"github.com/nerrad567/akuvox-access-core/internal/history"
	"github.com/nerrad567/akuvox-access-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/akuvox-access-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/akuvox-access-core/internal/reconcile"
)

type published struct {
	topic    string
	retained bool
}

type fakeMQTT struct {
	mu       sync.Mutex
	msgs     []published
	err      error
	handlers map[string]mqtt.MessageHandler
}

func (f *fakeMQTT) PublishJSON(topic string, _ any, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic, retained})
	return f.err
}

func (f *fakeMQTT) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	if f.handlers == nil {
		f.handlers = map[string]mqtt.MessageHandler{}
	}
	f.handlers[topic] = h
	return nil
}

type fakePoints struct {
	syncs  []influxdb.SyncPoint
	access []influxdb.AccessPoint
}

func (f *fakePoints) WriteSyncResult(p influxdb.SyncPoint)    { f.syncs = append(f.syncs, p) }
func (f *fakePoints) WriteAccessEvent(p influxdb.AccessPoint) { f.access = append(f.access, p) }

type fakeHub struct{ channels []string }

func (f *fakeHub) Broadcast(channel string, _ any) { f.channels = append(f.channels, channel) }

type fakeAudit struct{ actions []string }

func (f *fakeAudit) Record(action, entityType, entityID, _ string, _ map[string]any) {
	f.actions = append(f.actions, action+":"+entityType+":"+entityID)
}

type fakeDevices struct{}

func (fakeDevices) GetDevice(_ context.Context, id string) (*device.Record, error) {
	if id != "front" {
		return nil, device.ErrDeviceNotFound
	}
	return &device.Record{ID: id, Name: "Front", Connection: device.Connection{Password: "secret"}}, nil
}

type fakeSyncer struct {
	calls   atomic.Int32
	release chan struct{}
	ids     chan string
}

func (f *fakeSyncer) SyncNow(ctx context.Context, id string) ([]reconcile.Result, error) {
	f.calls.Add(1)
	f.ids <- id
	select {
	case <-f.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []reconcile.Result{{DeviceID: id}}, nil
}

func newFanout() (*Fanout, *fakeMQTT, *fakePoints, *fakeHub, *fakeAudit) {
	m, p, h, a := &fakeMQTT{}, &fakePoints{}, &fakeHub{}, &fakeAudit{}
	f := New(Sinks{MQTT: m, Points: p, Hub: h, Audit: a, Devices: fakeDevices{}})
	return f, m, p, h, a
}

func TestSyncCompleted(t *testing.T) {
	f, m, p, h, a := newFanout()

	f.SyncCompleted(reconcile.Result{DeviceID: "front", Full: true, Added: 2, Duration: time.Second, FinishedAt: time.Now()})

	if len(m.msgs) != 1 || m.msgs[0].topic != "akuvox/device/front/sync" || !m.msgs[0].retained {
		t.Errorf("mqtt = %+v, want one retained message on akuvox/device/front/sync", m.msgs)
	}
	if len(p.syncs) != 1 || !p.syncs[0].OK || p.syncs[0].Added != 2 {
		t.Errorf("points = %+v", p.syncs)
	}
	want := []string{api.ChannelSyncCompleted, api.ChannelDeviceHealth}
	if len(h.channels) != 2 || h.channels[0] != want[0] || h.channels[1] != want[1] {
		t.Errorf("hub channels = %v, want %v", h.channels, want)
	}
	if len(a.actions) != 1 || a.actions[0] != audit.ActionSync+":"+audit.EntityDevice+":front" {
		t.Errorf("audit = %v", a.actions)
	}
}

func TestSyncCompleted_UnknownDeviceSkipsHealth(t *testing.T) {
	f, _, _, h, _ := newFanout()
	f.SyncCompleted(reconcile.Result{DeviceID: "gone", Error: "unreachable"})

	if len(h.channels) != 1 || h.channels[0] != api.ChannelSyncCompleted {
		t.Errorf("hub channels = %v, want only sync.completed", h.channels)
	}
}

func TestIntegrityChecked(t *testing.T) {
	f, m, _, h, _ := newFanout()
	f.IntegrityChecked(reconcile.IntegrityReport{DeviceID: "front", Missing: []string{"HA001"}})

	if len(m.msgs) != 1 || m.msgs[0].topic != "akuvox/device/front/integrity" {
		t.Errorf("mqtt = %+v", m.msgs)
	}
	if len(h.channels) != 1 || h.channels[0] != api.ChannelIntegrityChecked {
		t.Errorf("hub channels = %v", h.channels)
	}
}

func TestAccessEvents(t *testing.T) {
	f, m, p, h, _ := newFanout()
	m.err = errors.New("not connected")

	f.AccessEvents([]history.Event{
		{Key: "a", DeviceID: "front", UserID: "HA001", Method: "PIN"},
		{Key: "b", DeviceID: "front", UserID: "HA002", Method: "Card"},
	})
	f.AccessEvents(nil)

	if len(m.msgs) != 2 || m.msgs[0].topic != "akuvox/event/access" || m.msgs[0].retained {
		t.Errorf("mqtt = %+v", m.msgs)
	}
	if len(p.access) != 2 || p.access[1].Method != "Card" {
		t.Errorf("points = %+v", p.access)
	}
	if len(h.channels) != 1 {
		t.Errorf("hub broadcasts = %d, want 1 batch", len(h.channels))
	}
}

func TestNoSinks(t *testing.T) {
	f := New(Sinks{})
	f.SyncCompleted(reconcile.Result{DeviceID: "front"})
	f.IntegrityChecked(reconcile.IntegrityReport{DeviceID: "front"})
	f.AccessEvents([]history.Event{{Key: "a"}})
	f.Stop()
}

func TestListenForCommands(t *testing.T) {
	f, m, _, _, _ := newFanout()
	syncer := &fakeSyncer{release: make(chan struct{}), ids: make(chan string, 4)}

	if err := f.ListenForCommands(m, syncer, 1); err != nil {
		t.Fatalf("ListenForCommands: %v", err)
	}
	handler := m.handlers["akuvox/command/sync"]
	if handler == nil {
		t.Fatal("no handler registered on akuvox/command/sync")
	}

	if err := handler("akuvox/command/sync", []byte(`{bad`)); err == nil {
		t.Error("malformed command should return an error")
	}

	if err := handler("akuvox/command/sync", []byte(`{"device_id":"front"}`)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	select {
	case id := <-syncer.ids:
		if id != "front" {
			t.Errorf("SyncNow(%q), want front", id)
		}
	case <-time.After(time.Second):
		t.Fatal("sync was not started")
	}

	// A repeat while the first run is in flight joins it.
	if err := handler("akuvox/command/sync", []byte(`{"device_id":"front"}`)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	close(syncer.release)
	f.Stop()

	if n := syncer.calls.Load(); n != 1 {
		t.Errorf("SyncNow calls = %d, want 1", n)
	}

	// Commands after Stop are ignored.
	if err := handler("akuvox/command/sync", nil); err != nil {
		t.Errorf("handler after stop: %v", err)
	}
	if n := syncer.calls.Load(); n != 1 {
		t.Errorf("SyncNow calls after stop = %d, want 1", n)
	}
}
