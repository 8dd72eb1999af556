package store

import (
	"database/sql"
	"fmt"
)

// Setting is a named durable value with metadata.
type Setting struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	UpdatedAt   string `json:"updated_at"`
	Description string `json:"description,omitempty"`
}

// SettingChange is one row of the append-only audit log.
type SettingChange struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	OldValue  *string `json:"old_value"`
	NewValue  string  `json:"new_value"`
	ChangedAt string  `json:"changed_at"`
	Source    string  `json:"source,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// HistoryMaxLimit caps /state/history queries.
const HistoryMaxLimit = 500

// Set writes a setting and appends an audit row in one transaction, then
// updates the cache. Writing the current value again is a no-op and is
// not logged.
func (s *Store) Set(name, value, source, reason string) error {
	return s.SetWithDescription(name, value, source, reason, "")
}

// SetWithDescription is Set with a description recorded for new settings.
func (s *Store) SetWithDescription(name, value, source, reason, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureCacheLocked(); err != nil {
		return err
	}

	var oldValue *string
	if old, ok := s.cache[name]; ok {
		if old == value {
			return nil
		}
		oldValue = &old
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	defer tx.Rollback()

	var desc any
	if description != "" {
		desc = description
	}
	if _, err := tx.Exec(`
		INSERT INTO settings (name, value, updated_at, description)
		VALUES (?, ?, datetime('now'), ?)
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at,
			description = COALESCE(excluded.description, description)`,
		name, value, desc); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}

	if _, err := tx.Exec(`
		INSERT INTO settings_log (name, old_value, new_value, changed_at, source, reason)
		VALUES (?, ?, ?, datetime('now'), ?, ?)`,
		name, oldValue, value, nullable(source), nullable(reason)); err != nil {
		return fmt.Errorf("log %s: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}

	s.cache[name] = value
	return nil
}

// Get returns the cached value of a setting.
func (s *Store) Get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureCacheLocked(); err != nil {
		s.log.Error().Err(err).Msg("settings cache load failed")
		return "", false
	}
	v, ok := s.cache[name]
	return v, ok
}

// Snapshot returns a copy of all cached settings values.
func (s *Store) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureCacheLocked(); err != nil {
		s.log.Error().Err(err).Msg("settings cache load failed")
		return nil
	}
	out := make(map[string]string, len(s.cache))
	for k, v := range s.cache {
		out[k] = v
	}
	return out
}

// AllSettings returns every setting with metadata, ordered by name.
func (s *Store) AllSettings() ([]Setting, error) {
	rows, err := s.db.Query(`SELECT name, value, updated_at, description FROM settings ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var st Setting
		var desc sql.NullString
		if err := rows.Scan(&st.Name, &st.Value, &st.UpdatedAt, &desc); err != nil {
			return nil, err
		}
		st.Description = desc.String
		out = append(out, st)
	}
	return out, rows.Err()
}

// GetSetting returns one setting with metadata, or ErrNotFound.
func (s *Store) GetSetting(name string) (Setting, error) {
	var st Setting
	var desc sql.NullString
	err := s.db.QueryRow(
		`SELECT name, value, updated_at, description FROM settings WHERE name = ?`, name,
	).Scan(&st.Name, &st.Value, &st.UpdatedAt, &desc)
	if err == sql.ErrNoRows {
		return Setting{}, ErrNotFound
	}
	if err != nil {
		return Setting{}, err
	}
	st.Description = desc.String
	return st, nil
}

// History returns audit rows newest-first, optionally filtered by name.
// limit is clamped to [1, HistoryMaxLimit].
func (s *Store) History(name string, limit int) ([]SettingChange, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > HistoryMaxLimit {
		limit = HistoryMaxLimit
	}

	query := `SELECT id, name, old_value, new_value, changed_at, source, reason
		FROM settings_log`
	args := []any{}
	if name != "" {
		query += ` WHERE name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("settings history: %w", err)
	}
	defer rows.Close()

	var out []SettingChange
	for rows.Next() {
		var c SettingChange
		var source, reason sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.OldValue, &c.NewValue, &c.ChangedAt, &source, &reason); err != nil {
			return nil, err
		}
		c.Source = source.String
		c.Reason = reason.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
