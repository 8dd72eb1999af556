// Package registry is the typed CRUD surface over the target table plus
// the wake-phrase index used by the router. Mutations rebuild the index
// and swap it atomically; readers always see a consistent immutable view.
package registry

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/snarg/echonet/internal/store"
)

// ErrNotFound mirrors the store sentinel for callers that only import registry.
var ErrNotFound = store.ErrNotFound

const maxNameLength = 32

type Registry struct {
	store *store.Store
	index atomic.Pointer[PhraseIndex]
	log   zerolog.Logger

	// writeMu serializes mutation with the index rebuild, so the stored
	// snapshot always reflects the last committed write. Readers stay on
	// the atomic pointer.
	writeMu sync.Mutex
}

// New builds a registry over the store and indexes the targets already
// registered.
func New(st *store.Store, log zerolog.Logger) (*Registry, error) {
	r := &Registry{store: st, log: log}
	if err := r.rebuildIndex(); err != nil {
		return nil, err
	}
	return r, nil
}

// Upsert validates and writes a target, then rebuilds the phrase index.
// Phrases are normalized before storage.
func (r *Registry) Upsert(t store.Target) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("target name must not be empty")
	}
	if len(t.Name) > maxNameLength {
		return fmt.Errorf("target name %q exceeds %d characters", t.Name, maxNameLength)
	}
	u, err := url.Parse(strings.TrimSpace(t.BaseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("target base_url %q is not a valid URL", t.BaseURL)
	}
	t.BaseURL = strings.TrimSpace(t.BaseURL)

	var phrases []string
	for _, p := range t.Phrases {
		if np := NormalizePhrase(p); np != "" {
			phrases = append(phrases, np)
		}
	}
	if len(phrases) == 0 {
		return fmt.Errorf("target %q needs at least one non-empty phrase", t.Name)
	}
	t.Phrases = phrases

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.store.UpsertTarget(t); err != nil {
		return err
	}
	r.log.Info().Str("target", strings.ToLower(t.Name)).Int("phrases", len(phrases)).Msg("target registered")
	return r.rebuildIndex()
}

// Get looks a target up case-insensitively.
func (r *Registry) Get(name string) (store.Target, error) {
	return r.store.GetTarget(name)
}

// List returns all registered targets.
func (r *Registry) List() ([]store.Target, error) {
	return r.store.ListTargets()
}

// Delete removes a target and rebuilds the index. Returns ErrNotFound
// if the target does not exist.
func (r *Registry) Delete(name string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.store.DeleteTarget(name); err != nil {
		return err
	}
	r.log.Info().Str("target", strings.ToLower(name)).Msg("target deleted")
	return r.rebuildIndex()
}

// PhraseMap returns the current immutable phrase index snapshot.
func (r *Registry) PhraseMap() *PhraseIndex {
	return r.index.Load()
}

func (r *Registry) rebuildIndex() error {
	targets, err := r.store.ListTargets()
	if err != nil {
		return fmt.Errorf("rebuild phrase index: %w", err)
	}
	r.index.Store(buildIndex(targets))
	return nil
}

// NormalizePhrase lowercases and collapses internal whitespace.
func NormalizePhrase(p string) string {
	return strings.Join(strings.Fields(strings.ToLower(p)), " ")
}

// PhraseEntry maps one normalized phrase to its owning target.
type PhraseEntry struct {
	Phrase string
	Target string
}

// PhraseIndex is an immutable snapshot of phrase → target mappings,
// ordered longest phrase first so the most specific phrase wins. Ties
// keep insertion order.
type PhraseIndex struct {
	entries []PhraseEntry
}

func buildIndex(targets []store.Target) *PhraseIndex {
	var entries []PhraseEntry
	for _, t := range targets {
		for _, p := range t.Phrases {
			if np := NormalizePhrase(p); np != "" {
				entries = append(entries, PhraseEntry{Phrase: np, Target: strings.ToLower(t.Name)})
			}
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return len(entries[i].Phrase) > len(entries[j].Phrase)
	})
	return &PhraseIndex{entries: entries}
}

// Match returns the first (longest) phrase contained in the normalized text.
func (idx *PhraseIndex) Match(normalizedText string) (PhraseEntry, bool) {
	for _, e := range idx.entries {
		if strings.Contains(normalizedText, e.Phrase) {
			return e, true
		}
	}
	return PhraseEntry{}, false
}

// Entries returns the index contents in match order.
func (idx *PhraseIndex) Entries() []PhraseEntry {
	return idx.entries
}

// Len reports the number of indexed phrases.
func (idx *PhraseIndex) Len() int {
	return len(idx.entries)
}
