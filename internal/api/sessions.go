package api

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/yardmap/server/internal/service"
)

// SessionRegistry holds coordinator sessions for all connected map views,
// expiring sessions idle longer than the TTL.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*service.Session
	ttl      time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSessionRegistry creates a new session registry.
func NewSessionRegistry(ttl time.Duration) *SessionRegistry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SessionRegistry{
		sessions: make(map[string]*service.Session),
		ttl:      ttl,
		stopCh:   make(chan struct{}),
	}
}

// Create adds a new session and returns it.
func (r *SessionRegistry) Create() *service.Session {
	sess := service.NewSession(generateSessionID())

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()

	return sess
}

// Get returns the session for an ID, or nil if not found or expired.
// A successful lookup refreshes the session's idle timer.
func (r *SessionRegistry) Get(id string) *service.Session {
	r.mu.Lock()
	sess := r.sessions[id]
	r.mu.Unlock()

	if sess != nil {
		sess.Touch()
	}
	return sess
}

// Delete removes a session.
func (r *SessionRegistry) Delete(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// StartCleaner starts the idle-session sweeper.
func (r *SessionRegistry) StartCleaner(period time.Duration) {
	if period <= 0 {
		period = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

// Stop stops the sweeper.
func (r *SessionRegistry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
}

func (r *SessionRegistry) sweep() {
	cutoff := time.Now().Add(-r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, sess := range r.sessions {
		if sess.LastSeen().Before(cutoff) {
			delete(r.sessions, id)
		}
	}
}

func generateSessionID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
