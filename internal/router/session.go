package router

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one per-source conversational window. While it lives,
// transcripts from its source bypass wake-phrase matching.
type Session struct {
	ID       string
	Target   string
	SourceID string
	Room     string
	OpenedAt time.Time
	LastTS   time.Time
}

// SessionManager owns the per-source session map. At most one session
// exists per source; opening replaces. Expiry is lazy on access plus an
// optional periodic sweep.
type SessionManager struct {
	mu       sync.Mutex
	bySource map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

func NewSessionManager(ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = 25 * time.Second
	}
	return &SessionManager{
		bySource: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// TTL returns the configured session lifetime.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Get returns the live session for a source, expiring it lazily.
func (m *SessionManager) Get(sourceID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.bySource[sourceID]
	if !ok {
		return nil, false
	}
	if m.now().Sub(s.LastTS) > m.ttl {
		delete(m.bySource, sourceID)
		return nil, false
	}
	return s, true
}

// Open creates (or replaces) the session for a source.
func (m *SessionManager) Open(sourceID, target, room string) *Session {
	now := m.now()
	s := &Session{
		ID:       fmt.Sprintf("sess-%s", uuid.NewString()[:8]),
		Target:   target,
		SourceID: sourceID,
		Room:     room,
		OpenedAt: now,
		LastTS:   now,
	}

	m.mu.Lock()
	m.bySource[sourceID] = s
	m.mu.Unlock()
	return s
}

// Touch refreshes the session's last-activity time and room. An expired
// session is dropped, not refreshed; expiry is decided before the touch.
func (m *SessionManager) Touch(sourceID, room string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.bySource[sourceID]
	if !ok {
		return nil, false
	}
	now := m.now()
	if now.Sub(s.LastTS) > m.ttl {
		delete(m.bySource, sourceID)
		return nil, false
	}
	s.LastTS = now
	if room != "" {
		s.Room = room
	}
	return s, true
}

// End removes the session for a source. Returns whether one existed.
func (m *SessionManager) End(sourceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.bySource[sourceID]
	delete(m.bySource, sourceID)
	return ok
}

// All returns the live (non-expired) sessions.
func (m *SessionManager) All() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []Session
	for sourceID, s := range m.bySource {
		if now.Sub(s.LastTS) > m.ttl {
			delete(m.bySource, sourceID)
			continue
		}
		out = append(out, *s)
	}
	return out
}

// Infos returns the live sessions in wire form, with remaining TTL.
func (m *SessionManager) Infos() []SessionInfo {
	out := []SessionInfo{}
	for _, s := range m.All() {
		s := s
		out = append(out, *m.info(&s))
	}
	return out
}

// Sweep drops expired sessions and returns how many were removed.
func (m *SessionManager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for sourceID, s := range m.bySource {
		if now.Sub(s.LastTS) > m.ttl {
			delete(m.bySource, sourceID)
			removed++
		}
	}
	return removed
}

// RunSweeper sweeps on the given interval until done is closed. Expiry
// is already lazy; the sweep just keeps the map from accumulating
// sources that never speak again.
func (m *SessionManager) RunSweeper(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *SessionManager) info(s *Session) *SessionInfo {
	expiresIn := int64(m.ttl.Seconds()) - int64(m.now().Sub(s.LastTS).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return &SessionInfo{
		ID:        s.ID,
		Target:    s.Target,
		SourceID:  s.SourceID,
		Room:      s.Room,
		LastTS:    s.LastTS.UnixMilli(),
		ExpiresIn: expiresIn,
	}
}
