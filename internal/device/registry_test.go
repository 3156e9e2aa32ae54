package device

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// MockRepository is a test implementation of Repository.
type MockRepository struct {
	mu      sync.Mutex
	records map[string]*Record
	// For testing error paths
	updateErr       error
	updateHealthErr error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{records: make(map[string]*Record)}
}

func (m *MockRepository) GetByID(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.records[id]; ok {
		return r.DeepCopy(), nil
	}
	return nil, ErrDeviceNotFound
}

func (m *MockRepository) List(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, *r.DeepCopy())
	}
	return out, nil
}

func (m *MockRepository) Create(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.ID]; ok {
		return ErrDeviceExists
	}
	m.records[rec.ID] = rec.DeepCopy()
	return nil
}

func (m *MockRepository) Update(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return m.updateErr
	}
	existing, ok := m.records[rec.ID]
	if !ok {
		return ErrDeviceNotFound
	}
	existing.Name = rec.Name
	existing.Connection = rec.Connection
	existing.Options = rec.DeepCopy().Options
	return nil
}

func (m *MockRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return ErrDeviceNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *MockRepository) UpdateHealth(_ context.Context, id string, health Health) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateHealthErr != nil {
		return m.updateHealthErr
	}
	existing, ok := m.records[id]
	if !ok {
		return ErrDeviceNotFound
	}
	existing.Health = health
	return nil
}

func (m *MockRepository) UpdateLocalUsers(_ context.Context, id string, users []map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.records[id]
	if !ok {
		return ErrDeviceNotFound
	}
	existing.LocalUsers = users
	return nil
}

func newTestRegistry(t *testing.T, ids ...string) (*Registry, *MockRepository) {
	t.Helper()
	repo := NewMockRepository()
	reg := NewRegistry(repo)
	for _, id := range ids {
		if err := reg.CreateDevice(context.Background(), testRecord(id)); err != nil {
			t.Fatalf("CreateDevice(%s) error = %v", id, err)
		}
	}
	return reg, repo
}

func TestRegistry_CreateDevice(t *testing.T) {
	reg, repo := newTestRegistry(t)
	ctx := context.Background()

	rec := &Record{Name: "Side Gate", Connection: Connection{Host: "10.0.0.5"}}
	if err := reg.CreateDevice(ctx, rec); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	if rec.ID != "side-gate" {
		t.Errorf("ID = %q, want side-gate", rec.ID)
	}
	if rec.Health.SyncStatus != SyncPending {
		t.Errorf("SyncStatus = %q, want pending", rec.Health.SyncStatus)
	}
	if _, err := repo.GetByID(ctx, "side-gate"); err != nil {
		t.Errorf("device not persisted: %v", err)
	}

	invalid := &Record{ID: "bad", Name: "No Host"}
	if err := reg.CreateDevice(ctx, invalid); !errors.Is(err, ErrInvalidConnection) {
		t.Errorf("CreateDevice() invalid error = %v, want ErrInvalidConnection", err)
	}
}

func TestRegistry_GetDeviceReturnsCopy(t *testing.T) {
	reg, _ := newTestRegistry(t, "front-door")
	ctx := context.Background()

	got, err := reg.GetDevice(ctx, "front-door")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	got.Options.SyncGroups[0] = "Mutated"
	got.Name = "Mutated"

	again, _ := reg.GetDevice(ctx, "front-door") //nolint:errcheck // exists
	if again.Name == "Mutated" || again.Options.SyncGroups[0] == "Mutated" {
		t.Error("GetDevice() returned a record sharing cache memory")
	}
}

func TestRegistry_RefreshCache(t *testing.T) {
	repo := NewMockRepository()
	_ = repo.Create(context.Background(), testRecord("front-door")) //nolint:errcheck // fresh repo
	reg := NewRegistry(repo)

	if reg.GetDeviceCount() != 0 {
		t.Fatalf("GetDeviceCount() before refresh = %d, want 0", reg.GetDeviceCount())
	}
	if err := reg.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	if reg.GetDeviceCount() != 1 {
		t.Errorf("GetDeviceCount() = %d, want 1", reg.GetDeviceCount())
	}
}

func TestRegistry_SeedDevice(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	created, err := reg.SeedDevice(ctx, testRecord("front-door"))
	if err != nil || !created {
		t.Fatalf("SeedDevice() = %v, %v; want created", created, err)
	}

	// Runtime option change must survive a re-seed.
	if _, err := reg.UpdateOptions(ctx, "front-door", func(o *Options) { o.ExitDevice = true }); err != nil {
		t.Fatalf("UpdateOptions() error = %v", err)
	}

	seed := testRecord("front-door")
	seed.Connection.Host = "192.168.1.51"
	created, err = reg.SeedDevice(ctx, seed)
	if err != nil || created {
		t.Fatalf("SeedDevice() re-seed = %v, %v; want existing", created, err)
	}

	got, _ := reg.GetDevice(ctx, "front-door") //nolint:errcheck // exists
	if got.Connection.Host != "192.168.1.51" {
		t.Errorf("Host = %q, want refreshed connection", got.Connection.Host)
	}
	if !got.Options.ExitDevice {
		t.Error("re-seed overwrote runtime options")
	}
}

func TestRegistry_UpdateOptionsMarksPending(t *testing.T) {
	reg, _ := newTestRegistry(t, "front-door")
	ctx := context.Background()

	if err := reg.SetSyncResult(ctx, "front-door", "ok", nil); err != nil {
		t.Fatalf("SetSyncResult() error = %v", err)
	}

	got, err := reg.UpdateOptions(ctx, "front-door", func(o *Options) {
		o.Relays = RelayRoles{A: RoleDoorAlarm}
	})
	if err != nil {
		t.Fatalf("UpdateOptions() error = %v", err)
	}
	if got.Health.SyncStatus != SyncPending {
		t.Errorf("SyncStatus = %q, want pending", got.Health.SyncStatus)
	}

	_, err = reg.UpdateOptions(ctx, "front-door", func(o *Options) { o.Relays.B = "siren" })
	if !errors.Is(err, ErrInvalidRelayRole) {
		t.Errorf("UpdateOptions() invalid role error = %v, want ErrInvalidRelayRole", err)
	}

	cur, _ := reg.GetDevice(ctx, "front-door") //nolint:errcheck // exists
	if cur.Options.Relays.B != "" {
		t.Errorf("rejected update leaked into cache: %+v", cur.Options.Relays)
	}
}

func TestRegistry_SyncLifecycle(t *testing.T) {
	reg, _ := newTestRegistry(t, "back-door", "front-door")
	ctx := context.Background()

	if reg.AllInSync() {
		t.Fatal("AllInSync() = true for new devices")
	}

	for _, id := range []string{"back-door", "front-door"} {
		if err := reg.SetSyncResult(ctx, id, "3 added", nil); err != nil {
			t.Fatalf("SetSyncResult(%s) error = %v", id, err)
		}
	}
	if !reg.AllInSync() {
		t.Fatal("AllInSync() = false after successful syncs")
	}

	if err := reg.SetSyncResult(ctx, "back-door", "failed", errors.New("unreachable")); err != nil {
		t.Fatalf("SetSyncResult() error = %v", err)
	}
	got, _ := reg.GetDevice(ctx, "back-door") //nolint:errcheck // exists
	if got.Health.SyncStatus != SyncPending || got.Health.LastError != "unreachable" {
		t.Errorf("Health after failure = %+v", got.Health)
	}
	if got.Health.LastSync == nil {
		t.Error("LastSync not stamped")
	}

	if err := reg.MarkPending(ctx); err != nil {
		t.Fatalf("MarkPending() error = %v", err)
	}
	stats := reg.GetStats()
	if stats.Pending != 2 || stats.InSync != 0 {
		t.Errorf("GetStats() = %+v, want 2 pending", stats)
	}

	if err := reg.MarkPending(ctx, "unknown"); err != nil {
		t.Errorf("MarkPending(unknown) error = %v, want nil", err)
	}
}

func TestRegistry_NonParticipatingIgnored(t *testing.T) {
	reg, _ := newTestRegistry(t, "front-door")
	ctx := context.Background()

	off := testRecord("lobby")
	off.Options.Participate = false
	if err := reg.CreateDevice(ctx, off); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	if err := reg.SetSyncResult(ctx, "front-door", "ok", nil); err != nil {
		t.Fatalf("SetSyncResult() error = %v", err)
	}

	if !reg.AllInSync() {
		t.Error("AllInSync() counted a non-participating device")
	}
	if n := len(reg.ParticipatingDevices()); n != 1 {
		t.Errorf("ParticipatingDevices() len = %d, want 1", n)
	}
	if n := len(reg.ListDevices()); n != 2 {
		t.Errorf("ListDevices() len = %d, want 2", n)
	}
}

func TestRegistry_HealthUpdates(t *testing.T) {
	reg, _ := newTestRegistry(t, "front-door")
	ctx := context.Background()

	if err := reg.SetOnline(ctx, "front-door", true); err != nil {
		t.Fatalf("SetOnline() error = %v", err)
	}
	if err := reg.SetDeviceInfo(ctx, "front-door", TypeKeypad, "A05", "105.30", "https:443"); err != nil {
		t.Fatalf("SetDeviceInfo() error = %v", err)
	}
	if err := reg.SetDeviceInfo(ctx, "front-door", "", "", "", ""); err != nil {
		t.Fatalf("SetDeviceInfo() empty error = %v", err)
	}
	if err := reg.SetSyncResult(ctx, "front-door", "ok", nil); err != nil {
		t.Fatalf("SetSyncResult() error = %v", err)
	}
	if err := reg.SetIntegrityChecked(ctx, "front-door", false); err != nil {
		t.Fatalf("SetIntegrityChecked() error = %v", err)
	}

	got, _ := reg.GetDevice(ctx, "front-door") //nolint:errcheck // exists
	h := got.Health
	if !h.Online || h.LastSeen == nil {
		t.Errorf("online state = %v/%v", h.Online, h.LastSeen)
	}
	if got.Type() != TypeKeypad || h.Model != "A05" || h.Endpoint != "https:443" {
		t.Errorf("device info = %+v", h)
	}
	if h.LastIntegrityCheck == nil || h.SyncStatus != SyncPending {
		t.Errorf("failed integrity check should stamp and mark pending: %+v", h)
	}

	if err := reg.SetOnline(ctx, "front-door", false); err != nil {
		t.Fatalf("SetOnline(false) error = %v", err)
	}
	got, _ = reg.GetDevice(ctx, "front-door") //nolint:errcheck // exists
	if got.Health.Online || got.Health.LastSeen == nil {
		t.Errorf("offline should keep LastSeen: %+v", got.Health)
	}
}

func TestRegistry_HealthPersistFailureKeepsCache(t *testing.T) {
	reg, repo := newTestRegistry(t, "front-door")
	repo.updateHealthErr = errors.New("disk full")

	if err := reg.SetSyncResult(context.Background(), "front-door", "ok", nil); err == nil {
		t.Fatal("SetSyncResult() error = nil, want persist failure")
	}
	got, _ := reg.GetDevice(context.Background(), "front-door") //nolint:errcheck // exists
	if got.Health.SyncStatus != SyncPending {
		t.Errorf("SyncStatus = %q, cache changed despite failed write", got.Health.SyncStatus)
	}
}

func TestRegistry_LocalUsersAndDelete(t *testing.T) {
	reg, _ := newTestRegistry(t, "front-door")
	ctx := context.Background()

	users := []map[string]string{{"ID": "1", "UserID": "HA001"}}
	if err := reg.SetLocalUsers(ctx, "front-door", users); err != nil {
		t.Fatalf("SetLocalUsers() error = %v", err)
	}
	users[0]["UserID"] = "mutated"

	got, _ := reg.GetDevice(ctx, "front-door") //nolint:errcheck // exists
	if got.LocalUsers[0]["UserID"] != "HA001" {
		t.Errorf("LocalUsers shares caller memory: %v", got.LocalUsers)
	}

	if err := reg.DeleteDevice(ctx, "front-door"); err != nil {
		t.Fatalf("DeleteDevice() error = %v", err)
	}
	if _, err := reg.GetDevice(ctx, "front-door"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetDevice() after delete error = %v", err)
	}
	if err := reg.SetLocalUsers(ctx, "front-door", nil); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetLocalUsers() on deleted device error = %v", err)
	}
}

func TestRegistry_ConcurrentHealthWrites(t *testing.T) {
	reg, _ := newTestRegistry(t, "front-door")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(online bool) {
			defer wg.Done()
			// Errors are irrelevant here; the race detector is the assertion.
			_ = reg.SetOnline(ctx, "front-door", online)
			_ = reg.SetDeviceInfo(ctx, "front-door", TypeIntercom, "", "", "")
		}(i%2 == 0)
	}
	wg.Wait()

	if _, err := reg.GetDevice(ctx, "front-door"); err != nil {
		t.Errorf("GetDevice() error = %v", err)
	}
}
