// Package sqlite implements the backend.Backend interface on an
// embedded SQLite database using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/goliathdrakken/gatebot/backend"
	"github.com/goliathdrakken/gatebot/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
  username TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS tokens (
  auth_device TEXT NOT NULL,
  token_value TEXT NOT NULL,
  username    TEXT NOT NULL REFERENCES users(username),
  PRIMARY KEY (auth_device, token_value)
);

CREATE TABLE IF NOT EXISTS gates (
  name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS entries (
  id            INTEGER PRIMARY KEY AUTOINCREMENT,
  gate_name     TEXT NOT NULL,
  username      TEXT NOT NULL DEFAULT '',
  pour_time_ms  INTEGER NOT NULL,
  duration_secs INTEGER NOT NULL
);
`

// Config holds store settings.
type Config struct {
	Path string // database file, e.g. "./data/gatebot.db"
}

// Store is a sqlite-backed Backend.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ backend.Backend = (*Store)(nil)

// Open opens (creating if necessary) the database and applies the
// schema. SQLite in a single-process server: one connection, WAL,
// foreign keys on, busy timeout to ride out concurrent readers.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default().With("component", "sqlite-backend")
	}
	if cfg.Path == "" {
		cfg.Path = "./data/gatebot.db"
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, errors.WrapFatal(err, "sqlite-backend", "Open", "mkdir db dir")
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		cfg.Path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.WrapFatal(err, "sqlite-backend", "Open", "sql open")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.WrapTransient(err, "sqlite-backend", "Open", "ping")
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.WrapFatal(err, "sqlite-backend", "Open", "apply schema")
	}

	logger.Info("Opened sqlite backend", "path", cfg.Path)
	return &Store{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// LookupToken implements backend.Backend.
func (s *Store) LookupToken(ctx context.Context, authDevice, tokenValue string) (*backend.Token, error) {
	var username string
	err := s.db.QueryRowContext(ctx, `
SELECT username FROM tokens WHERE auth_device = ? AND token_value = ?;
`, authDevice, tokenValue).Scan(&username)
	if err == sql.ErrNoRows {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s=%s", errors.ErrUnknownToken, authDevice, tokenValue),
			"sqlite-backend", "LookupToken", "lookup")
	}
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrBackendUnavailable, err),
			"sqlite-backend", "LookupToken", "query")
	}
	return &backend.Token{
		AuthDevice: authDevice,
		TokenValue: tokenValue,
		Username:   username,
	}, nil
}

// RecordEntry implements backend.Backend. Zero-duration pours are
// spillage and decline with (nil, nil).
func (s *Store) RecordEntry(ctx context.Context, gateName, username string, pourTime time.Time, duration time.Duration) (*backend.Entry, error) {
	if duration <= 0 {
		return nil, nil
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO entries(gate_name, username, pour_time_ms, duration_secs)
VALUES (?, ?, ?, ?);
`, gateName, username, pourTime.UTC().UnixMilli(), int64(duration.Seconds()))
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrBackendUnavailable, err),
			"sqlite-backend", "RecordEntry", "insert")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.WrapTransient(err, "sqlite-backend", "RecordEntry", "last insert id")
	}

	return &backend.Entry{
		ID:       id,
		GateName: gateName,
		Username: username,
		PourTime: pourTime,
		Duration: duration,
	}, nil
}

// ListGates implements backend.Backend.
func (s *Store) ListGates(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM gates ORDER BY name;`)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrBackendUnavailable, err),
			"sqlite-backend", "ListGates", "query")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.WrapTransient(err, "sqlite-backend", "ListGates", "scan")
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// AddUser inserts a user if absent.
func (s *Store) AddUser(ctx context.Context, username string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users(username) VALUES (?);`, username)
	return errors.Wrap(err, "sqlite-backend", "AddUser", "insert")
}

// AssignToken binds a credential to a user, replacing any previous
// binding of the same credential.
func (s *Store) AssignToken(ctx context.Context, authDevice, tokenValue, username string) error {
	if err := s.AddUser(ctx, username); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tokens(auth_device, token_value, username) VALUES (?, ?, ?)
ON CONFLICT(auth_device, token_value) DO UPDATE SET username = excluded.username;
`, authDevice, tokenValue, username)
	return errors.Wrap(err, "sqlite-backend", "AssignToken", "upsert")
}

// AddGate inserts a gate name if absent.
func (s *Store) AddGate(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO gates(name) VALUES (?);`, name)
	return errors.Wrap(err, "sqlite-backend", "AddGate", "insert")
}
