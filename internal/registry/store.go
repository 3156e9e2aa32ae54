package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Section keys under which the registry is persisted.
const (
	KeyUsers     = "users"
	KeyGroups    = "groups"
	KeySchedules = "schedules"
	KeySettings  = "settings"
)

// Store persists opaque JSON blobs by key.
type Store interface {
	// Load returns the blob saved under key.
	// Returns ErrKeyNotFound if nothing was saved.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save replaces the blob under key.
	Save(ctx context.Context, key string, blob []byte) error
}

// SQLiteStore implements Store over the kv_store table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store over an open SQLite connection.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load returns the blob saved under key.
func (s *SQLiteStore) Load(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv_store WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("loading %s: %w", key, err)
	}
	return []byte(value), nil
}

// Save replaces the blob under key.
func (s *SQLiteStore) Save(ctx context.Context, key string, blob []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, string(blob), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving %s: %w", key, err)
	}
	return nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Load returns a copy of the blob saved under key.
func (m *MemoryStore) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.blobs[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), b...), nil
}

// Save stores a copy of blob under key.
func (m *MemoryStore) Save(_ context.Context, key string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blobs[key] = append([]byte(nil), blob...)
	return nil
}
