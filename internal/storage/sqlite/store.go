// Package sqlite implements dispatch.DeviceStore on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/tinywideclouds/go-notifyhub/pkg/notify"
)

// Config captures SQLite store configuration.
type Config struct {
	// Path is the database location or ":memory:".
	Path string

	// MaxOpenConns controls the pool size exposed by database/sql.
	MaxOpenConns int

	// BusyTimeout configures PRAGMA busy_timeout.
	BusyTimeout time.Duration

	// Logger receives migration progress. Nil discards it.
	Logger *slog.Logger
}

type Store struct {
	db *sql.DB
}

// NewStore opens the database and applies migrations.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if err := ApplyMigrations(ctx, db, cfg.Logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func buildDSN(cfg Config) string {
	if cfg.Path == ":memory:" || cfg.Path == "" {
		return "file::memory:?cache=shared"
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		"_pragma=journal_mode(WAL)",
		"_pragma=foreign_keys(ON)",
		"_pragma=busy_timeout(" + strconv.FormatInt(busy.Milliseconds(), 10) + ")",
	}
	return "file:" + cfg.Path + "?" + strings.Join(pragmas, "&")
}

func (s *Store) Close() error { return s.db.Close() }

const selectDevice = `SELECT id, fcm_token, api_key, COALESCE(device_info, ''), registered_at, updated_at FROM devices`

// InsertOrGet relies on the fcm_token UNIQUE constraint: the insert is a
// no-op when another registration already owns the token, and the row read
// afterwards is whichever insert won.
func (s *Store) InsertOrGet(ctx context.Context, dev notify.Device) (notify.Device, bool, error) {
	const q = `INSERT INTO devices (fcm_token, api_key, device_info, registered_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fcm_token) DO NOTHING`
	res, err := s.db.ExecContext(ctx, q,
		dev.PushToken,
		dev.APIKey,
		dev.DeviceInfo,
		formatTime(dev.RegisteredAt),
		formatTime(dev.UpdatedAt),
	)
	if err != nil {
		return notify.Device{}, false, fmt.Errorf("sqlite: insert device: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return notify.Device{}, false, fmt.Errorf("sqlite: rows affected (insert device): %w", err)
	}

	stored, err := s.queryOne(ctx, selectDevice+` WHERE fcm_token = ?`, dev.PushToken)
	if err != nil {
		return notify.Device{}, false, err
	}
	return stored, n == 1, nil
}

func (s *Store) FindByAPIKey(ctx context.Context, apiKey string) (notify.Device, error) {
	return s.queryOne(ctx, selectDevice+` WHERE api_key = ?`, apiKey)
}

func (s *Store) UpdateToken(ctx context.Context, apiKey, newPushToken string) error {
	const q = `UPDATE devices SET fcm_token = ?, updated_at = ? WHERE api_key = ?`
	res, err := s.db.ExecContext(ctx, q, newPushToken, formatTime(time.Now()), apiKey)
	if err != nil {
		if isUniqueViolation(err) {
			return notify.ErrPushTokenTaken
		}
		return fmt.Errorf("sqlite: update device token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected (update device token): %w", err)
	}
	if n == 0 {
		return notify.ErrDeviceNotFound
	}
	return nil
}

// Count returns the number of stored devices.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count devices: %w", err)
	}
	return n, nil
}

func (s *Store) queryOne(ctx context.Context, q string, arg any) (notify.Device, error) {
	var (
		d                      notify.Device
		id                     int64
		registered, updatedStr string
	)
	err := s.db.QueryRowContext(ctx, q, arg).Scan(&id, &d.PushToken, &d.APIKey, &d.DeviceInfo, &registered, &updatedStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notify.Device{}, notify.ErrDeviceNotFound
		}
		return notify.Device{}, fmt.Errorf("sqlite: get device: %w", err)
	}
	d.ID = strconv.FormatInt(id, 10)
	d.RegisteredAt = parseTime(registered)
	d.UpdatedAt = parseTime(updatedStr)
	return d, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
