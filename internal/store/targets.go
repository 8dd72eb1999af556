package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// Target is a downstream service transcripts are routed to.
type Target struct {
	Name    string   `json:"name"`
	BaseURL string   `json:"base_url"`
	Phrases []string `json:"phrases"`
}

// ListenURL is where routed text events are POSTed.
func (t Target) ListenURL() string {
	return strings.TrimRight(t.BaseURL, "/") + "/listen"
}

// UpsertTarget inserts or replaces a target. Names are stored lowercased;
// lookups are case-insensitive either way.
func (s *Store) UpsertTarget(t Target) error {
	phrases, err := json.Marshal(t.Phrases)
	if err != nil {
		return fmt.Errorf("encode phrases: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO targets (name, base_url, phrases)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			base_url = excluded.base_url,
			phrases = excluded.phrases`,
		strings.ToLower(t.Name), t.BaseURL, string(phrases))
	if err != nil {
		return fmt.Errorf("upsert target %s: %w", t.Name, err)
	}
	return nil
}

// GetTarget looks a target up by name, case-insensitively.
func (s *Store) GetTarget(name string) (Target, error) {
	var t Target
	var phrases string
	err := s.db.QueryRow(
		`SELECT name, base_url, phrases FROM targets WHERE name = ? COLLATE NOCASE`,
		strings.ToLower(name),
	).Scan(&t.Name, &t.BaseURL, &phrases)
	if err == sql.ErrNoRows {
		return Target{}, ErrNotFound
	}
	if err != nil {
		return Target{}, fmt.Errorf("get target %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(phrases), &t.Phrases); err != nil {
		return Target{}, fmt.Errorf("decode phrases for %s: %w", name, err)
	}
	return t, nil
}

// ListTargets returns all targets ordered by name.
func (s *Store) ListTargets() ([]Target, error) {
	rows, err := s.db.Query(`SELECT name, base_url, phrases FROM targets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var out []Target
	for rows.Next() {
		var t Target
		var phrases string
		if err := rows.Scan(&t.Name, &t.BaseURL, &phrases); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(phrases), &t.Phrases); err != nil {
			return nil, fmt.Errorf("decode phrases for %s: %w", t.Name, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTarget removes a target. Returns ErrNotFound if absent.
func (s *Store) DeleteTarget(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM targets WHERE name = ? COLLATE NOCASE`, strings.ToLower(name))
	if err != nil {
		return fmt.Errorf("delete target %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
