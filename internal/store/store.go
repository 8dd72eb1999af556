// Package store owns the single-file sqlite database backing EchoNet:
// durable settings with an append-only audit log, and the target table.
// All reads after warmup are served from an in-memory cache; the cache,
// the disk write and the audit row share one critical section so they
// can never diverge.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested target does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db  *sql.DB
	log zerolog.Logger

	// mu serializes all writers and protects the settings cache.
	mu          sync.Mutex
	cache       map[string]string
	cacheLoaded bool
}

// Open opens (creating if necessary) the database at path, applies
// pragmas and runs pending migrations. A migration failure is returned
// to the caller and should be treated as fatal.
func Open(path string, log zerolog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", url.PathEscape(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection avoids SQLITE_BUSY between the pooled
	// connections; writers are serialized by s.mu anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, log: log, cache: make(map[string]string)}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("database opened")
	return s, nil
}

// OpenNoMigrate opens an existing database without applying migrations,
// for the inspection CLI. The schema may be older or newer than this
// binary expects; callers must tolerate missing tables.
func OpenNoMigrate(path string, log zerolog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", url.PathEscape(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db, log: log, cache: make(map[string]string)}, nil
}

// Backup writes a consistent copy of the database to dest using
// VACUUM INTO, safe against concurrent writers.
func (s *Store) Backup(dest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("backup to %s: %w", dest, err)
	}
	return nil
}

// HealthCheck verifies the database file is still reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() {
	s.log.Info().Msg("closing database")
	s.db.Close()
}

// ensureCacheLocked loads all settings into the cache on first access.
// Callers must hold s.mu.
func (s *Store) ensureCacheLocked() error {
	if s.cacheLoaded {
		return nil
	}
	rows, err := s.db.Query(`SELECT name, value FROM settings`)
	if err != nil {
		return fmt.Errorf("warm settings cache: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return err
		}
		s.cache[name] = value
	}
	if err := rows.Err(); err != nil {
		return err
	}
	s.cacheLoaded = true
	return nil
}
