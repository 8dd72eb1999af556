package router

import (
	"strings"
	"testing"
	"time"
)

// fakeClock drives the session manager's notion of now.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSessions(ttl time.Duration) (*SessionManager, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	m := NewSessionManager(ttl)
	m.now = clock.now
	return m, clock
}

func TestSessionLifecycle(t *testing.T) {
	m, clock := newTestSessions(25 * time.Second)

	t.Run("open_assigns_id", func(t *testing.T) {
		s := m.Open("m1", "astraea", "kitchen")
		if !strings.HasPrefix(s.ID, "sess-") || len(s.ID) != len("sess-")+8 {
			t.Errorf("session id = %q", s.ID)
		}
		if s.Target != "astraea" || s.Room != "kitchen" {
			t.Errorf("session = %+v", s)
		}
	})

	t.Run("get_within_ttl", func(t *testing.T) {
		clock.advance(10 * time.Second)
		if _, ok := m.Get("m1"); !ok {
			t.Error("session expired too early")
		}
	})

	t.Run("touch_extends", func(t *testing.T) {
		if _, ok := m.Touch("m1", "lounge"); !ok {
			t.Fatal("touch on live session failed")
		}
		clock.advance(20 * time.Second)
		s, ok := m.Get("m1")
		if !ok {
			t.Fatal("touched session expired within ttl of touch")
		}
		if s.Room != "lounge" {
			t.Errorf("room = %q, want lounge", s.Room)
		}
	})

	t.Run("expires_after_ttl", func(t *testing.T) {
		clock.advance(26 * time.Second)
		if _, ok := m.Get("m1"); ok {
			t.Error("session alive past ttl")
		}
	})

	t.Run("touch_on_expired_fails", func(t *testing.T) {
		if _, ok := m.Touch("m1", ""); ok {
			t.Error("touch revived a dead source")
		}
	})
}

func TestTouchDropsExpiredSession(t *testing.T) {
	m, clock := newTestSessions(25 * time.Second)

	// Expired but not yet observed by Get or a sweep: still in the map.
	m.Open("m1", "astraea", "")
	clock.advance(26 * time.Second)

	if _, ok := m.Touch("m1", ""); ok {
		t.Fatal("Touch refreshed an expired session")
	}
	if _, ok := m.Get("m1"); ok {
		t.Error("expired session still present after Touch")
	}

	// A fresh session for the same source works as usual afterwards.
	m.Open("m1", "zephyr", "")
	if s, ok := m.Touch("m1", ""); !ok || s.Target != "zephyr" {
		t.Errorf("touch after reopen = %+v, %v", s, ok)
	}
}

func TestSessionOpenReplaces(t *testing.T) {
	m, _ := newTestSessions(25 * time.Second)

	first := m.Open("m1", "astraea", "")
	second := m.Open("m1", "zephyr", "")
	if first.ID == second.ID {
		t.Error("replacement kept old session id")
	}

	s, ok := m.Get("m1")
	if !ok || s.Target != "zephyr" {
		t.Errorf("live session = %+v, want zephyr", s)
	}
}

func TestSessionEnd(t *testing.T) {
	m, _ := newTestSessions(25 * time.Second)

	m.Open("m1", "astraea", "")
	if !m.End("m1") {
		t.Error("End on live session returned false")
	}
	if m.End("m1") {
		t.Error("End on missing session returned true")
	}
	if _, ok := m.Get("m1"); ok {
		t.Error("session still live after End")
	}
}

func TestSweep(t *testing.T) {
	m, clock := newTestSessions(10 * time.Second)

	m.Open("m1", "a", "")
	m.Open("m2", "b", "")
	clock.advance(5 * time.Second)
	m.Open("m3", "c", "")
	clock.advance(6 * time.Second)

	if removed := m.Sweep(); removed != 2 {
		t.Errorf("Sweep removed %d, want 2", removed)
	}
	if len(m.All()) != 1 {
		t.Errorf("%d sessions left, want 1", len(m.All()))
	}
}

func TestInfosReportRemainingTTL(t *testing.T) {
	m, clock := newTestSessions(25 * time.Second)

	m.Open("m1", "astraea", "kitchen")
	clock.advance(10 * time.Second)

	infos := m.Infos()
	if len(infos) != 1 {
		t.Fatalf("len(infos) = %d, want 1", len(infos))
	}
	if infos[0].ExpiresIn != 15 {
		t.Errorf("expires_in_s = %d, want 15", infos[0].ExpiresIn)
	}
	if infos[0].Target != "astraea" || infos[0].Room != "kitchen" {
		t.Errorf("info = %+v", infos[0])
	}
}
