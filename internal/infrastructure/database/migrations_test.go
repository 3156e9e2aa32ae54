package database

import (
	"context"
	"testing"
	"testing/fstest"
)

var testMigrations = fstest.MapFS{
	"sql/20260301_120000_create_kv.up.sql": {Data: []byte(
		"CREATE TABLE test_kv (key TEXT PRIMARY KEY, value TEXT NOT NULL);")},
	"sql/20260301_120000_create_kv.down.sql": {Data: []byte(
		"DROP TABLE test_kv;")},
	"sql/20260302_090000_create_log.up.sql": {Data: []byte(
		"CREATE TABLE test_log (id TEXT PRIMARY KEY);")},
	"sql/README.md": {Data: []byte("ignored")},
}

func useTestMigrations(t *testing.T) {
	t.Helper()
	orig := migrationSource
	RegisterMigrations(testMigrations, "sql")
	t.Cleanup(func() { migrationSource = orig })
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	if err != nil {
		t.Fatalf("sqlite_master query error = %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	useTestMigrations(t)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	for _, table := range []string{"test_kv", "test_log"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s not created", table)
		}
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("expected 2 applied migrations, got %d", len(applied))
	}
	if len(pending) != 0 {
		t.Errorf("expected 0 pending migrations, got %d", len(pending))
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	useTestMigrations(t)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// The newest migration has no down file.
	if err := db.MigrateDown(ctx); err == nil {
		t.Fatal("MigrateDown() expected error for missing down SQL")
	}

	if _, err := db.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", "20260302_090000"); err != nil {
		t.Fatalf("deleting record: %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "test_kv") {
		t.Error("test_kv should be dropped")
	}
}

func TestMigrateNoMigrations(t *testing.T) {
	orig := migrationSource
	migrationSource.fsys = nil
	t.Cleanup(func() { migrationSource = orig })

	db := openTestDB(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOK      bool
	}{
		{"20260301_120000_initial_schema.up.sql", "20260301_120000", "initial_schema", true, true},
		{"20260301_120000_initial_schema.down.sql", "20260301_120000", "initial_schema", false, true},
		{"20260301_120000.up.sql", "20260301_120000", "20260301_120000", true, true},
		{"initial.sql", "", "", false, false},
		{"20260301_120000_initial.txt", "", "", false, false},
		{"nounderscore.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || name != tt.wantName || isUp != tt.wantUp {
				t.Errorf("got (%q, %q, %v), want (%q, %q, %v)",
					version, name, isUp, tt.wantVersion, tt.wantName, tt.wantUp)
			}
		})
	}
}
