package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// migration defines a single schema migration. Statements run inside one
// transaction together with the schema_version bump.
type migration struct {
	version int
	name    string
	stmts   []string
}

// migrations is the ordered list of schema migrations. Append only.
var migrations = []migration{
	{
		version: 1,
		name:    "initial schema: schema_version, targets",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER PRIMARY KEY,
				applied_at TEXT NOT NULL DEFAULT (datetime('now'))
			)`,
			`CREATE TABLE IF NOT EXISTS targets (
				name TEXT PRIMARY KEY COLLATE NOCASE,
				base_url TEXT NOT NULL,
				phrases TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_targets_name ON targets(name COLLATE NOCASE)`,
		},
	},
	{
		version: 2,
		name:    "state tracking: settings, settings_log",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS settings (
				name TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at TEXT NOT NULL DEFAULT (datetime('now')),
				description TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS settings_log (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				old_value TEXT,
				new_value TEXT NOT NULL,
				changed_at TEXT NOT NULL DEFAULT (datetime('now')),
				source TEXT,
				reason TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_settings_log_name ON settings_log(name, changed_at DESC)`,
			`INSERT INTO settings (name, value, description)
				VALUES ('listen_mode', 'trigger', 'Listening mode: inactive, trigger or active')`,
			`INSERT INTO settings_log (name, old_value, new_value, source, reason)
				VALUES ('listen_mode', NULL, 'trigger', 'migration', 'initial setup')`,
		},
	},
	{
		version: 3,
		name:    "pre-roll buffer settings",
		stmts: []string{
			`INSERT INTO settings (name, value, description)
				VALUES ('enable_preroll_buffer', 'false', 'Keep a rolling buffer of recent audio and prepend it to recordings')`,
			`INSERT INTO settings (name, value, description)
				VALUES ('preroll_buffer_seconds', '2.0', 'Seconds of audio history to keep for pre-roll')`,
		},
	},
}

// SchemaVersion returns the current schema version, 0 for a fresh file.
func (s *Store) SchemaVersion() (int, error) {
	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isMissingTable(err) {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

// LatestVersion is the highest schema version this build knows about.
func LatestVersion() int {
	return migrations[len(migrations)-1].version
}

// Migrate applies all pending schema migrations in order, each inside a
// transaction. A database written by a newer build is rejected.
func (s *Store) Migrate() error {
	current, err := s.SchemaVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > LatestVersion() {
		return fmt.Errorf("database schema version %d is newer than supported version %d; refusing to open", current, LatestVersion())
	}

	applied := 0
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			return &MigrationError{failed: m, err: err}
		}
		s.log.Info().Int("version", m.version).Str("migration", m.name).Msg("schema migration applied")
		applied++
	}

	if applied > 0 {
		s.log.Info().Int("applied", applied).Int("version", LatestVersion()).Msg("schema migrations complete")
	}
	return nil
}

func (s *Store) applyMigration(m migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.version); err != nil {
		return err
	}
	return tx.Commit()
}

// MigrationError is returned when a migration fails. It names the failed
// migration so the operator knows where the schema stopped.
type MigrationError struct {
	failed migration
	err    error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration v%d (%s) failed: %v", e.failed.version, e.failed.name, e.err)
}

func (e *MigrationError) Unwrap() error {
	return e.err
}

func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
