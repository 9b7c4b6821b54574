// Package session keeps logged-in dashboard sessions.
package session

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/osa030/tastedeck/internal/domain/account"
	"github.com/osa030/tastedeck/internal/infra/metrics"
)

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrSessionExpired = errors.New("session expired")
)

// Store keeps sessions by ID. Returned sessions are copies.
type Store interface {
	Create(userID, displayName string, tok *oauth2.Token) (string, error)
	Get(id string) (account.Session, error)
	UpdateToken(id string, tok *oauth2.Token) error
	Delete(id string)
	Count() int
}

// Registry is an in-memory Store with thread-safe access.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*account.Session
	ttl      time.Duration
	now      func() time.Time
}

// NewRegistry creates a registry whose sessions live for ttl.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Registry{
		sessions: make(map[string]*account.Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create adds a session for the user and returns its ID. Logging in again
// replaces the user's previous session.
func (r *Registry) Create(userID, displayName string, tok *oauth2.Token) (string, error) {
	if userID == "" {
		return "", errors.Wrap(ErrInvalidSession, "user ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, id)
		}
	}

	id := uuid.New().String()
	s := account.NewSession(id, userID, displayName, tok, r.ttl)
	now := r.now()
	s.CreatedAt, s.LastSeenAt, s.ExpiresAt = now, now, now.Add(r.ttl)
	r.sessions[id] = s
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	return id, nil
}

// Get retrieves a session by ID and records the access. Expired sessions are
// removed.
func (r *Registry) Get(id string) (account.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return account.Session{}, ErrInvalidSession
	}
	now := r.now()
	if s.Expired(now) {
		delete(r.sessions, id)
		metrics.ActiveSessions.Set(float64(len(r.sessions)))
		return account.Session{}, ErrSessionExpired
	}
	s.Touch(now)
	return *s, nil
}

// UpdateToken stores a refreshed token.
func (r *Registry) UpdateToken(id string, tok *oauth2.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrInvalidSession
	}
	s.UpdateToken(tok)
	return nil
}

// Delete removes a session.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
}

// Count returns the number of sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes expired sessions and returns how many were dropped.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, s := range r.sessions {
		if s.Expired(now) {
			delete(r.sessions, id)
			removed++
		}
	}
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	return removed
}
