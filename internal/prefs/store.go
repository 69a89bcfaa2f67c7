package prefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Well-known preference keys.
const (
	keyDemoActive     = "demo_active"
	keySelectedDevice = "selected_device"
	keyOAuthToken     = "oauth_token"
)

// CachedDevice is a locally cached paired-device descriptor.
// The cache lets the device picker render immediately while the cloud
// device list is being refreshed.
type CachedDevice struct {
	ID     string
	Name   string
	Online bool
}

// Store persists client preferences in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a preference store backed by the given database.
// The schema is created by the embedded migrations; callers must run
// migrations before using the store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// get returns the raw value for a key, or ErrNotFound.
func (s *Store) get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM preferences WHERE key = ?", key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading preference %q: %w", key, err)
	}
	return value, nil
}

// set upserts a key/value pair.
func (s *Store) set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("writing preference %q: %w", key, err)
	}
	return nil
}

// delete removes a key. Deleting an absent key is not an error.
func (s *Store) delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM preferences WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting preference %q: %w", key, err)
	}
	return nil
}

// DemoActive reports whether the demo-override flag is set.
// An unset flag reads as false.
func (s *Store) DemoActive(ctx context.Context) (bool, error) {
	value, err := s.get(ctx, keyDemoActive)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	active, parseErr := strconv.ParseBool(value)
	if parseErr != nil {
		// A corrupted flag must never trap the client in demo mode.
		return false, nil
	}
	return active, nil
}

// SetDemoActive sets or clears the demo-override flag.
func (s *Store) SetDemoActive(ctx context.Context, active bool) error {
	if !active {
		return s.delete(ctx, keyDemoActive)
	}
	return s.set(ctx, keyDemoActive, "true")
}

// SelectedDevice returns the last device the user chose, or ErrNotFound.
func (s *Store) SelectedDevice(ctx context.Context) (string, error) {
	return s.get(ctx, keySelectedDevice)
}

// SetSelectedDevice records the user's device choice.
func (s *Store) SetSelectedDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return s.delete(ctx, keySelectedDevice)
	}
	return s.set(ctx, keySelectedDevice, deviceID)
}

// TokenJSON returns the stored OAuth token as JSON, or ErrNotFound.
func (s *Store) TokenJSON(ctx context.Context) (string, error) {
	return s.get(ctx, keyOAuthToken)
}

// SaveTokenJSON persists the OAuth token as JSON. An empty string clears
// the stored token (logout).
func (s *Store) SaveTokenJSON(ctx context.Context, tokenJSON string) error {
	if tokenJSON == "" {
		return s.delete(ctx, keyOAuthToken)
	}
	return s.set(ctx, keyOAuthToken, tokenJSON)
}

// CachedDevices returns the cached paired-device list in stored order.
// An empty cache returns an empty slice, not an error.
func (s *Store) CachedDevices(ctx context.Context) ([]CachedDevice, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, online FROM cached_devices ORDER BY position",
	)
	if err != nil {
		return nil, fmt.Errorf("reading device cache: %w", err)
	}
	defer rows.Close()

	var devices []CachedDevice
	for rows.Next() {
		var d CachedDevice
		var online int
		if err := rows.Scan(&d.ID, &d.Name, &online); err != nil {
			return nil, fmt.Errorf("scanning cached device: %w", err)
		}
		d.Online = online != 0
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device cache: %w", err)
	}
	return devices, nil
}

// ReplaceCachedDevices atomically replaces the device cache with the given
// list, preserving its order.
func (s *Store) ReplaceCachedDevices(ctx context.Context, devices []CachedDevice) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning cache update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM cached_devices"); err != nil {
		return fmt.Errorf("clearing device cache: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for i, d := range devices {
		online := 0
		if d.Online {
			online = 1
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO cached_devices (id, name, online, position, updated_at) VALUES (?, ?, ?, ?, ?)",
			d.ID, d.Name, online, i, now,
		); err != nil {
			return fmt.Errorf("caching device %q: %w", d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cache update: %w", err)
	}
	return nil
}
