// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const bootCounter = "boot_count"

// ErrInvalidChannel is returned for negative channel indexes.
var ErrInvalidChannel = errors.New("invalid channel index")

type (
	// Store persists device settings, channel values and counters in SQLite.
	// It is safe for concurrent use; SQLite serializes writers.
	Store struct {
		db   *sql.DB
		path string
	}

	// Channel is one row of the channel table.
	Channel struct {
		Index         int
		Value         int
		StartValue    int
		HasStartValue bool
	}
)

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = MemoryPath
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite has a single writer, and an in-memory database
	// exists only for the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(SchemaVersion)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to record schema version: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Setting returns the value stored under key and whether it exists.
func (s *Store) Setting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting stores value under key, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

// Settings returns every stored setting.
func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// ClearSettings restores the default configuration: every setting and every
// channel startup value is removed. Runtime channel values and counters stay.
func (s *Store) ClearSettings(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM settings"); err != nil {
		return fmt.Errorf("failed to clear settings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE channels SET start_value = NULL"); err != nil {
		return fmt.Errorf("failed to clear start values: %w", err)
	}
	return tx.Commit()
}

// Channel returns channel idx. A channel never written reads as zero.
func (s *Store) Channel(ctx context.Context, idx int) (Channel, error) {
	if idx < 0 {
		return Channel{}, fmt.Errorf("%w: %d", ErrInvalidChannel, idx)
	}
	ch := Channel{Index: idx}
	var start sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT value, start_value FROM channels WHERE idx = ?", idx).Scan(&ch.Value, &start)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ch, nil
	case err != nil:
		return Channel{}, fmt.Errorf("failed to read channel %d: %w", idx, err)
	}
	ch.StartValue, ch.HasStartValue = int(start.Int64), start.Valid
	return ch, nil
}

// Channels returns every channel that was ever written, ordered by index.
func (s *Store) Channels(ctx context.Context) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT idx, value, start_value FROM channels ORDER BY idx")
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		var (
			ch    Channel
			start sql.NullInt64
		)
		if err := rows.Scan(&ch.Index, &ch.Value, &start); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		ch.StartValue, ch.HasStartValue = int(start.Int64), start.Valid
		out = append(out, ch)
	}
	return out, rows.Err()
}

// SetChannel stores the runtime value of channel idx.
func (s *Store) SetChannel(ctx context.Context, idx, value int) error {
	if idx < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, idx)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels(idx, value) VALUES(?, ?)
		 ON CONFLICT(idx) DO UPDATE SET value = excluded.value`, idx, value)
	if err != nil {
		return fmt.Errorf("failed to write channel %d: %w", idx, err)
	}
	return nil
}

// SetStartValue stores the startup value of channel idx.
func (s *Store) SetStartValue(ctx context.Context, idx, value int) error {
	if idx < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, idx)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels(idx, start_value) VALUES(?, ?)
		 ON CONFLICT(idx) DO UPDATE SET start_value = excluded.start_value`, idx, value)
	if err != nil {
		return fmt.Errorf("failed to write start value of channel %d: %w", idx, err)
	}
	return nil
}

// ClearChannels zeroes every runtime channel value. Startup values stay.
func (s *Store) ClearChannels(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE channels SET value = 0"); err != nil {
		return fmt.Errorf("failed to clear channels: %w", err)
	}
	return nil
}

// IncrementBootCount adds one to the boot counter and returns the new value.
func (s *Store) IncrementBootCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO counters(name, value) VALUES(?, 1)
		 ON CONFLICT(name) DO UPDATE SET value = value + 1
		 RETURNING value`, bootCounter).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to increment boot count: %w", err)
	}
	return n, nil
}

// BootCount returns the boot counter.
func (s *Store) BootCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT value FROM counters WHERE name = ?", bootCounter).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read boot count: %w", err)
	}
	return n, nil
}

// ResetBootCount sets the boot counter back to zero.
func (s *Store) ResetBootCount(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM counters WHERE name = ?", bootCounter); err != nil {
		return fmt.Errorf("failed to reset boot count: %w", err)
	}
	return nil
}
