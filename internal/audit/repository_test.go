package audit

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE audit_logs (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT,
			source TEXT NOT NULL,
			details TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupTestDB(t))
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	entries := []*Entry{
		{Action: ActionReserve, EntityType: EntityUser, EntityID: "HA001", Source: "api", CreatedAt: base},
		{Action: ActionUpdate, EntityType: EntityUser, EntityID: "HA001", Source: "api", CreatedAt: base.Add(time.Second),
			Details: map[string]any{"groups": []any{"Staff"}}},
		{Action: ActionSync, EntityType: EntityDevice, EntityID: "gate", Source: "scheduler", CreatedAt: base.Add(1500 * time.Millisecond)},
		{Action: ActionUpdate, EntityType: EntitySettings, Source: "api", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if e.ID == "" {
			t.Fatal("Create() did not assign an ID")
		}
	}

	tests := []struct {
		name    string
		filter  Filter
		wantIDs []string
		total   int
	}{
		{"all newest first", Filter{}, []string{entries[3].ID, entries[2].ID, entries[1].ID, entries[0].ID}, 4},
		{"by entity", Filter{EntityType: EntityUser, EntityID: "HA001"}, []string{entries[1].ID, entries[0].ID}, 2},
		{"by action", Filter{Action: ActionSync}, []string{entries[2].ID}, 1},
		{"paged", Filter{Limit: 2, Offset: 1}, []string{entries[2].ID, entries[1].ID}, 4},
		{"no match", Filter{Action: ActionReboot}, []string{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.total {
				t.Errorf("Total = %d, want %d", res.Total, tt.total)
			}
			if len(res.Entries) != len(tt.wantIDs) {
				t.Fatalf("got %d entries, want %d", len(res.Entries), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if res.Entries[i].ID != id {
					t.Errorf("entry %d = %s, want %s", i, res.Entries[i].ID, id)
				}
			}
		})
	}

	res, err := repo.List(ctx, Filter{EntityType: EntityUser, Action: ActionUpdate})
	if err != nil {
		t.Fatal(err)
	}
	got := res.Entries[0]
	if groups, ok := got.Details["groups"].([]any); !ok || len(groups) != 1 || groups[0] != "Staff" {
		t.Errorf("Details = %v", got.Details)
	}
	if !got.CreatedAt.Equal(base.Add(time.Second)) {
		t.Errorf("CreatedAt = %v", got.CreatedAt)
	}

	settings, err := repo.List(ctx, Filter{EntityType: EntitySettings})
	if err != nil {
		t.Fatal(err)
	}
	if settings.Entries[0].EntityID != "" || settings.Entries[0].Details != nil {
		t.Errorf("settings entry = %+v, want no entity id or details", settings.Entries[0])
	}
}

func TestList_LimitClamped(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	res, err := repo.List(context.Background(), Filter{Limit: 5000, Offset: -3})
	if err != nil {
		t.Fatal(err)
	}
	if res.Limit != maxListLimit || res.Offset != 0 {
		t.Errorf("limit/offset = %d/%d, want %d/0", res.Limit, res.Offset, maxListLimit)
	}
	if res.Entries == nil {
		t.Error("Entries must be an empty slice, not nil")
	}
}

type memRepo struct {
	mu      sync.Mutex
	entries []*Entry
}

func (m *memRepo) Create(_ context.Context, e *Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

func (m *memRepo) List(context.Context, Filter) (*ListResult, error) { return &ListResult{}, nil }

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestRecorder_DrainsOnStop(t *testing.T) {
	repo := &memRepo{}
	r := NewRecorder(repo)
	r.Start(context.Background())

	for i := 0; i < 10; i++ {
		r.Record(ActionUpdate, EntityUser, "HA001", "api", nil)
	}
	r.Stop()
	r.Stop()

	if repo.count() != 10 {
		t.Errorf("persisted %d entries, want 10", repo.count())
	}
}

type countingLogger struct {
	mu    sync.Mutex
	warns int
}

func (l *countingLogger) Warn(string, ...any) {
	l.mu.Lock()
	l.warns++
	l.mu.Unlock()
}
func (l *countingLogger) Error(string, ...any) {}

func TestRecorder_DropsWhenFull(t *testing.T) {
	repo := &memRepo{}
	log := &countingLogger{}
	r := NewRecorder(repo)
	r.SetLogger(log)

	// Not started, so nothing drains the queue.
	for i := 0; i < queueSize+5; i++ {
		r.Record(ActionSync, EntityDevice, "gate", "scheduler", nil)
	}
	if log.warns != 5 {
		t.Errorf("dropped warnings = %d, want 5", log.warns)
	}

	r.Start(context.Background())
	r.Stop()
	if repo.count() != queueSize {
		t.Errorf("persisted %d entries, want %d", repo.count(), queueSize)
	}
}

func TestRecorder_Nil(t *testing.T) {
	var r *Recorder
	r.Record(ActionSync, EntityDevice, "gate", "test", nil)
}
