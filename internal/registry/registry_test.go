package registry

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/snarg/echonet/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(st.Close)

	r, err := New(st, zerolog.Nop())
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	return r
}

func TestUpsertValidation(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		name   string
		target store.Target
	}{
		{"empty_name", store.Target{Name: "  ", BaseURL: "http://x:1", Phrases: []string{"x"}}},
		{"name_too_long", store.Target{Name: strings.Repeat("a", 33), BaseURL: "http://x:1", Phrases: []string{"x"}}},
		{"missing_scheme", store.Target{Name: "x", BaseURL: "not-a-url", Phrases: []string{"x"}}},
		{"missing_host", store.Target{Name: "x", BaseURL: "http://", Phrases: []string{"x"}}},
		{"no_phrases", store.Target{Name: "x", BaseURL: "http://x:1", Phrases: nil}},
		{"only_blank_phrases", store.Target{Name: "x", BaseURL: "http://x:1", Phrases: []string{"   ", ""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Upsert(tt.target); err == nil {
				t.Errorf("Upsert(%+v) succeeded, want error", tt.target)
			}
		})
	}
}

func TestPhraseNormalization(t *testing.T) {
	r := newTestRegistry(t)

	err := r.Upsert(store.Target{
		Name:    "Astraea",
		BaseURL: "http://astraea:9000",
		Phrases: []string{"  Hey   ASTRAEA  ", "astraea"},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := r.Get("astraea")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := []string{"hey astraea", "astraea"}
	if len(got.Phrases) != len(want) {
		t.Fatalf("phrases = %v, want %v", got.Phrases, want)
	}
	for i := range want {
		if got.Phrases[i] != want[i] {
			t.Errorf("phrase[%d] = %q, want %q", i, got.Phrases[i], want[i])
		}
	}
}

func TestMatchLongestPhraseWins(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.Upsert(store.Target{Name: "short", BaseURL: "http://s:1", Phrases: []string{"astraea"}}); err != nil {
		t.Fatalf("Upsert short: %v", err)
	}
	if err := r.Upsert(store.Target{Name: "long", BaseURL: "http://l:1", Phrases: []string{"hey astraea"}}); err != nil {
		t.Fatalf("Upsert long: %v", err)
	}

	t.Run("longer_phrase_preferred", func(t *testing.T) {
		entry, ok := r.PhraseMap().Match("hey astraea turn on the lights")
		if !ok {
			t.Fatal("no match")
		}
		if entry.Target != "long" || entry.Phrase != "hey astraea" {
			t.Errorf("matched %+v, want long/hey astraea", entry)
		}
	})

	t.Run("shorter_phrase_still_matches_alone", func(t *testing.T) {
		entry, ok := r.PhraseMap().Match("ok astraea do something")
		if !ok {
			t.Fatal("no match")
		}
		if entry.Target != "short" {
			t.Errorf("matched %+v, want short", entry)
		}
	})

	t.Run("no_match", func(t *testing.T) {
		if _, ok := r.PhraseMap().Match("completely unrelated words"); ok {
			t.Error("unexpected match")
		}
	})
}

func TestIndexRebuiltOnMutation(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.Upsert(store.Target{Name: "a", BaseURL: "http://a:1", Phrases: []string{"alpha"}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if r.PhraseMap().Len() != 1 {
		t.Fatalf("index len = %d, want 1", r.PhraseMap().Len())
	}

	if err := r.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if r.PhraseMap().Len() != 0 {
		t.Errorf("index len after delete = %d, want 0", r.PhraseMap().Len())
	}

	if err := r.Delete("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestConcurrentMutationKeepsIndexComplete(t *testing.T) {
	r := newTestRegistry(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("t%d", i)
			errs[i] = r.Upsert(store.Target{
				Name:    name,
				BaseURL: "http://" + name + ":1",
				Phrases: []string{"phrase " + name},
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Upsert t%d: %v", i, err)
		}
	}
	// Every committed write must be visible in the final snapshot.
	if got := r.PhraseMap().Len(); got != n {
		t.Errorf("index len = %d, want %d", got, n)
	}
	for i := 0; i < n; i++ {
		if _, ok := r.PhraseMap().Match(fmt.Sprintf("phrase t%d", i)); !ok {
			t.Errorf("target t%d missing from index", i)
		}
	}
}

func TestIndexLoadedAtStartup(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(st.Close)

	if err := st.UpsertTarget(store.Target{Name: "pre", BaseURL: "http://p:1", Phrases: []string{"preexisting"}}); err != nil {
		t.Fatalf("UpsertTarget: %v", err)
	}

	r, err := New(st, zerolog.Nop())
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	if _, ok := r.PhraseMap().Match("preexisting phrase here"); !ok {
		t.Error("target registered before startup not indexed")
	}
}
