package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Record, error)

	// List retrieves all devices ordered by ID.
	List(ctx context.Context) ([]Record, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID already exists.
	Create(ctx context.Context, rec *Record) error

	// Update replaces name, connection and options of an existing device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, rec *Record) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateHealth replaces only the health column.
	// This is optimised for frequent status changes from sync runs.
	UpdateHealth(ctx context.Context, id string, health Health) error

	// UpdateLocalUsers replaces the cached on-device user snapshot.
	UpdateLocalUsers(ctx context.Context, id string, users []map[string]string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `
		SELECT id, name, connection, options, health, local_users, created_at, updated_at
		FROM devices`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return rec, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return records, nil
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	cols, err := marshalColumns(rec)
	if err != nil {
		return err
	}

	// Set timestamps if not set
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (id, name, connection, options, health, local_users, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Name,
		cols.connection,
		cols.options,
		cols.health,
		cols.localUsers,
		rec.CreatedAt.Format(time.RFC3339),
		rec.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		// Check for unique constraint violation
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// Update modifies an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, rec *Record) error {
	cols, err := marshalColumns(rec)
	if err != nil {
		return err
	}

	rec.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET name = ?, connection = ?, options = ?, updated_at = ?
		WHERE id = ?`,
		rec.Name,
		cols.connection,
		cols.options,
		rec.UpdatedAt.Format(time.RFC3339),
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return requireRow(result)
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRow(result)
}

// UpdateHealth replaces the health column of a device.
func (r *SQLiteRepository) UpdateHealth(ctx context.Context, id string, health Health) error {
	healthJSON, err := json.Marshal(health)
	if err != nil {
		return fmt.Errorf("marshalling health: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET health = ?, updated_at = ? WHERE id = ?",
		string(healthJSON), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating device health: %w", err)
	}
	return requireRow(result)
}

// UpdateLocalUsers replaces the cached on-device user list.
func (r *SQLiteRepository) UpdateLocalUsers(ctx context.Context, id string, users []map[string]string) error {
	usersJSON, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("marshalling local users: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET local_users = ?, updated_at = ? WHERE id = ?",
		string(usersJSON), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating local users: %w", err)
	}
	return requireRow(result)
}

// requireRow maps a zero-row write onto ErrDeviceNotFound.
func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

type recordColumns struct {
	connection string
	options    string
	health     string
	localUsers string
}

// marshalColumns renders the JSON columns of a record.
func marshalColumns(rec *Record) (recordColumns, error) {
	var cols recordColumns

	b, err := json.Marshal(rec.Connection)
	if err != nil {
		return cols, fmt.Errorf("marshalling connection: %w", err)
	}
	cols.connection = string(b)

	if b, err = json.Marshal(rec.Options); err != nil {
		return cols, fmt.Errorf("marshalling options: %w", err)
	}
	cols.options = string(b)

	if b, err = json.Marshal(rec.Health); err != nil {
		return cols, fmt.Errorf("marshalling health: %w", err)
	}
	cols.health = string(b)

	// nil is stored as JSON null: the device has never been read.
	if b, err = json.Marshal(rec.LocalUsers); err != nil {
		return cols, fmt.Errorf("marshalling local users: %w", err)
	}
	cols.localUsers = string(b)

	return cols, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans a row or rows result into a Record.
func scanRecord(scanner rowScanner) (*Record, error) {
	var rec Record
	var connJSON, optsJSON, healthJSON, usersJSON string
	var createdAt, updatedAt string

	if err := scanner.Scan(&rec.ID, &rec.Name, &connJSON, &optsJSON, &healthJSON, &usersJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(connJSON), &rec.Connection); err != nil {
		return nil, fmt.Errorf("unmarshalling connection: %w", err)
	}
	if err := json.Unmarshal([]byte(optsJSON), &rec.Options); err != nil {
		return nil, fmt.Errorf("unmarshalling options: %w", err)
	}
	if err := json.Unmarshal([]byte(healthJSON), &rec.Health); err != nil {
		return nil, fmt.Errorf("unmarshalling health: %w", err)
	}
	if err := json.Unmarshal([]byte(usersJSON), &rec.LocalUsers); err != nil {
		return nil, fmt.Errorf("unmarshalling local users: %w", err)
	}

	// Timestamps are written by this package in RFC3339.
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // zero time on legacy rows
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // zero time on legacy rows

	return &rec, nil
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
