package service

import (
	"sync"
	"time"

	"github.com/yardmap/server/internal/intent"
)

// Session holds the per-map-view coordinator state: the current intent and
// sequence number, and the last admitted view result.
type Session struct {
	ID    string
	coord *intent.Coordinator

	mu       sync.Mutex
	view     *ViewResult
	lastSeen time.Time
}

// NewSession creates a session in the cold-load state.
func NewSession(id string) *Session {
	return &Session{
		ID:       id,
		coord:    intent.NewCoordinator(),
		lastSeen: time.Now(),
	}
}

// View returns the last admitted view result, or nil before any query has
// been admitted.
func (s *Session) View() *ViewResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Current returns the session's active intent and sequence number.
func (s *Session) Current() (intent.Intent, uint64) {
	return s.coord.Current()
}

// Touch marks the session as recently used.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// LastSeen returns the time the session was last used.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) setView(v *ViewResult) {
	s.mu.Lock()
	s.view = v
	s.lastSeen = time.Now()
	s.mu.Unlock()
}
