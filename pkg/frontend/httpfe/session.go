package httpfe

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionCookie is the HTTP session cookie name.
const SessionCookie = "trx_http_sid"

// DefaultSessionTTL is how long a session lives without logout.
const DefaultSessionTTL = 8 * time.Hour

// Role is the privilege level of a session.
type Role int

const (
	// RoleRx may observe state and audio.
	RoleRx Role = iota
	// RoleControl may also change rig state.
	RoleControl
)

// Session is one authenticated HTTP session. Sessions are never
// persisted.
type Session struct {
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
	LastSeen  time.Time
}

// SessionStore keeps sessions behind a reader-writer lock. Reads also
// refresh LastSeen, so they take the write lock.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
}

// NewSessionStore builds a store with the given TTL.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

// Create issues a new session and returns its opaque token. The token
// is a random 128-bit value.
func (s *SessionStore) Create(role Role) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	now := time.Now()
	s.mu.Lock()
	s.sessions[token] = &Session{
		Role:      role,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
		LastSeen:  now,
	}
	s.mu.Unlock()
	return token
}

// Lookup resolves a token, refreshing LastSeen. Expired sessions are
// removed on sight.
func (s *SessionStore) Lookup(token string) (*Session, bool) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, okSess := s.sessions[token]
	if !okSess {
		return nil, false
	}
	if now.After(sess.ExpiresAt) {
		delete(s.sessions, token)
		return nil, false
	}
	sess.LastSeen = now
	out := *sess
	return &out, true
}

// Remove invalidates a session (logout).
func (s *SessionStore) Remove(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// Len returns the number of live sessions, pruning expired ones.
func (s *SessionStore) Len() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, token)
		}
	}
	return len(s.sessions)
}
