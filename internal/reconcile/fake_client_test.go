package reconcile

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/nerrad567/akuvox-access-core/internal/akuvox"
	"github.com/nerrad567/akuvox-access-core/internal/device"
)

var errFakeDevice = errors.New("fake device failure")

// fakeClient is an in-memory device. Added users are stored with every
// field the payload carried, the way firmware echoes them back.
type fakeClient struct {
	mu        sync.Mutex
	users     []akuvox.Record
	schedules []akuvox.Record
	contacts  []akuvox.ContactItem
	nextID    int
	nextSched int
	calls     []string
	model     string
	reboots   int

	failList     bool
	failBatchAdd bool
	failReboot   bool
	rejectAdd    map[string]bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{nextID: 1, nextSched: 1003, model: "R20A", rejectAdd: map[string]bool{}}
}

func (f *fakeClient) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeClient) UserList(context.Context) ([]akuvox.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("user/get")
	if f.failList {
		return nil, errFakeDevice
	}
	out := make([]akuvox.Record, 0, len(f.users))
	for _, u := range f.users {
		cpy := make(akuvox.Record, len(u))
		for k, v := range u {
			cpy[k] = v
		}
		out = append(out, cpy)
	}
	return out, nil
}

func (f *fakeClient) UserAdd(_ context.Context, items []akuvox.UserItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("user/add")
	if f.failBatchAdd && len(items) > 1 {
		return errFakeDevice
	}
	for _, it := range items {
		if f.rejectAdd[it.UserID] {
			return errFakeDevice
		}
	}
	for _, it := range items {
		rec := akuvox.Record(it.Fields())
		rec["ID"] = strconv.Itoa(f.nextID)
		f.nextID++
		f.users = append(f.users, rec)
	}
	return nil
}

func (f *fakeClient) UserDelete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("user/del:" + key)
	kept := f.users[:0]
	for _, u := range f.users {
		if u.ID() == key || u.UserID() == key || u.Name() == key {
			continue
		}
		kept = append(kept, u)
	}
	f.users = kept
	return nil
}

func (f *fakeClient) ScheduleList(context.Context) ([]akuvox.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]akuvox.Record(nil), f.schedules...), nil
}

func (f *fakeClient) ScheduleAdd(_ context.Context, items []akuvox.ScheduleItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range items {
		f.record("schedule/add:" + it.Name)
		f.schedules = append(f.schedules, akuvox.Record{"ID": strconv.Itoa(f.nextSched), "Name": it.Name})
		f.nextSched++
	}
	return nil
}

func (f *fakeClient) ScheduleSet(_ context.Context, items []akuvox.ScheduleItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range items {
		if it.ID == "" {
			return errFakeDevice
		}
		f.record("schedule/set:" + it.Name)
	}
	return nil
}

func (f *fakeClient) ContactAdd(_ context.Context, items []akuvox.ContactItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("contact/add")
	f.contacts = append(f.contacts, items...)
	return nil
}

func (f *fakeClient) ContactSet(context.Context, []akuvox.ContactItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("contact/set")
	return errFakeDevice
}

func (f *fakeClient) SystemInfo(context.Context) (akuvox.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return akuvox.Record{"Model": f.model, "FirmwareVersion": "1.0"}, nil
}

func (f *fakeClient) SystemReboot(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReboot {
		return errFakeDevice
	}
	f.reboots++
	return nil
}

func (f *fakeClient) DoorLog(context.Context) ([]akuvox.Record, error) {
	return nil, nil
}

func (f *fakeClient) Working() (akuvox.Endpoint, bool) {
	return akuvox.Endpoint{}, false
}

// count returns how many calls start with prefix.
func (f *fakeClient) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeClient) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func (f *fakeClient) user(userID string) akuvox.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.UserID() == userID {
			return u
		}
	}
	return nil
}

// fakeSource hands out one fakeClient per device ID.
type fakeSource map[string]*fakeClient

func (s fakeSource) Client(rec *device.Record) DeviceClient {
	return s[rec.ID]
}
