package registry

import (
	"context"
	"database/sql"
	"errors"
	"testing"

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
		CREATE TABLE kv_store (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestStores(t *testing.T) {
	stores := map[string]Store{
		"sqlite": NewSQLiteStore(setupTestDB(t)),
		"memory": NewMemoryStore(),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := store.Load(ctx, "users"); !errors.Is(err, ErrKeyNotFound) {
				t.Fatalf("Load() missing key error = %v, want ErrKeyNotFound", err)
			}

			if err := store.Save(ctx, "users", []byte(`{"a":1}`)); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			if err := store.Save(ctx, "users", []byte(`{"a":2}`)); err != nil {
				t.Fatalf("Save() overwrite error = %v", err)
			}

			got, err := store.Load(ctx, "users")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if string(got) != `{"a":2}` {
				t.Errorf("Load() = %s, want latest blob", got)
			}
		})
	}
}

func TestMemoryStore_CopiesBlobs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	blob := []byte("abc")
	_ = store.Save(ctx, "k", blob) //nolint:errcheck // memory store never fails
	blob[0] = 'x'

	got, _ := store.Load(ctx, "k") //nolint:errcheck // key exists
	if string(got) != "abc" {
		t.Errorf("Load() = %q, stored blob aliased caller memory", got)
	}
}
