package domain

import (
	"sync"
	"time"
)

// Session is the per-connection state of an admitted client.
type Session struct {
	ConnID        string
	UserID        string
	AdmittedAt    time.Time
	lastRefreshAt time.Time
	refreshToken  string
	lastActiveAt  time.Time
	mu            sync.RWMutex
}

// NewSession creates the session of a connection admitted for userID.
// refreshToken may be empty when the client only presented an access token.
func NewSession(connID, userID, refreshToken string) *Session {
	now := time.Now()
	return &Session{
		ConnID:        connID,
		UserID:        userID,
		AdmittedAt:    now,
		lastRefreshAt: now,
		refreshToken:  refreshToken,
		lastActiveAt:  now,
	}
}

// RefreshToken returns the remembered refresh token.
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// SetRefreshToken remembers a newly validated refresh token.
func (s *Session) SetRefreshToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshToken = token
}

// MarkRefreshed records a successful credential refresh.
func (s *Session) MarkRefreshed(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRefreshAt = at
}

// LastRefreshAt returns the time of the last credential refresh.
func (s *Session) LastRefreshAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRefreshAt
}

// UpdateActivity updates the last activity timestamp.
func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActiveAt = time.Now()
}

// LastActiveAt returns the last activity timestamp.
func (s *Session) LastActiveAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActiveAt
}
