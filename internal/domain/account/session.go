// Package account provides the login Session domain entity.
package account

import (
	"time"

	"golang.org/x/oauth2"
)

// Session represents a logged-in dashboard user.
type Session struct {
	ID          string        // UUID
	UserID      string        // Spotify user ID
	DisplayName string        // Display name
	Token       *oauth2.Token // Provider token, refreshed in place
	CreatedAt   time.Time     // Login time
	LastSeenAt  time.Time     // Last authenticated request
	ExpiresAt   time.Time     // Session expiry (independent of token expiry)
}

// NewSession creates a new session valid for ttl.
func NewSession(id, userID, displayName string, tok *oauth2.Token, ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:          id,
		UserID:      userID,
		DisplayName: displayName,
		Token:       tok,
		CreatedAt:   now,
		LastSeenAt:  now,
		ExpiresAt:   now.Add(ttl),
	}
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Touch records activity.
func (s *Session) Touch(now time.Time) {
	s.LastSeenAt = now
}

// UpdateToken replaces the token when the provider issued a new one. It
// reports whether anything changed.
func (s *Session) UpdateToken(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	if s.Token != nil && s.Token.AccessToken == tok.AccessToken && s.Token.RefreshToken == tok.RefreshToken {
		return false
	}
	if tok.RefreshToken == "" && s.Token != nil {
		// Providers may omit the refresh token on refresh.
		cp := *tok
		cp.RefreshToken = s.Token.RefreshToken
		tok = &cp
	}
	s.Token = tok
	return true
}

// Name returns the display name, falling back to the user ID.
func (s *Session) Name() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.UserID
}
