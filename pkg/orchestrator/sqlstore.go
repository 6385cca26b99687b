// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore is a Store backed by a single key/value table. It runs on
// SQLite (the default) or Postgres.
type SQLStore struct {
	db     *sql.DB
	driver string
	upsert string
	get    string
}

const kvSchema = `CREATE TABLE IF NOT EXISTS pimainteno_kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// OpenStore opens the store selected by cfg.
func OpenStore(cfg StoreConfig) (Store, error) {
	switch cfg.Driver {
	case StoreMemory:
		return NewMemStore(), nil
	case StorePostgres:
		return OpenPostgresStore(context.Background(), cfg.URL)
	case StoreSQLite, "":
		path := cfg.Path
		if path == "" {
			var err error
			path, err = xdg.DataFile(filepath.Join("pimainteno", "status.db"))
			if err != nil {
				return nil, fmt.Errorf("resolving default store path: %w", err)
			}
		}
		return OpenSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// OpenSQLiteStore opens (creating if needed) the SQLite database at path.
func OpenSQLiteStore(path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)
	s := &SQLStore{
		db:     db,
		driver: StoreSQLite,
		upsert: `INSERT INTO pimainteno_kv(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		get:    `SELECT value FROM pimainteno_kv WHERE key = ?`,
	}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgresStore connects to Postgres through the pgx stdlib driver.
func OpenPostgresStore(ctx context.Context, url string) (*SQLStore, error) {
	if url == "" {
		return nil, errors.New("postgres store: url is required")
	}
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &SQLStore{
		db:     db,
		driver: StorePostgres,
		upsert: `INSERT INTO pimainteno_kv(key, value) VALUES($1, $2) ON CONFLICT(key) DO UPDATE SET value = EXCLUDED.value`,
		get:    `SELECT value FROM pimainteno_kv WHERE key = $1`,
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, kvSchema); err != nil {
		return fmt.Errorf("migrating %s store: %w", s.driver, err)
	}
	return nil
}

func (s *SQLStore) Get(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(s.get, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *SQLStore) Insert(key, value string) error {
	if _, err := s.db.Exec(s.upsert, key, value); err != nil {
		return fmt.Errorf("store insert %s: %w", key, err)
	}
	return nil
}

// Flush checkpoints the SQLite write-ahead log. Postgres commits each
// statement durably, so Flush only checks the connection there.
func (s *SQLStore) Flush() error {
	if s.driver == StoreSQLite {
		if _, err := s.db.Exec(`PRAGMA wal_checkpoint(PASSIVE)`); err != nil {
			return fmt.Errorf("store flush: %w", err)
		}
		return nil
	}
	return s.db.Ping()
}

func (s *SQLStore) Close() error { return s.db.Close() }
