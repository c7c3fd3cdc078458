// Package session holds the broker access token used by the feed clients.
package session

import (
	"errors"
	"sync"
	"time"
)

// ErrInvalidSession is returned once a session was invalidated or has expired.
var ErrInvalidSession = errors.New("broker session is not valid")

// Session is an access token with a lifetime. It is passed to every client
// that talks to the broker; nothing keeps it in package state.
type Session struct {
	mu          sync.RWMutex
	token       string
	expiresAt   time.Time // zero means no expiry
	invalidated bool
	now         func() time.Time
}

// New creates a session for token. A ttl of 0 never expires.
func New(token string, ttl time.Duration) (*Session, error) {
	return newWithClock(token, ttl, time.Now)
}

func newWithClock(token string, ttl time.Duration, now func() time.Time) (*Session, error) {
	if token == "" {
		return nil, errors.New("session: empty access token")
	}
	if ttl < 0 {
		return nil, errors.New("session: negative ttl")
	}
	s := &Session{token: token, now: now}
	if ttl > 0 {
		s.expiresAt = now().Add(ttl)
	}
	return s, nil
}

// Token returns the access token or ErrInvalidSession.
func (s *Session) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.validLocked() {
		return "", ErrInvalidSession
	}
	return s.token, nil
}

func (s *Session) Valid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validLocked()
}

// Invalidate ends the session, e.g. after the broker rejected the token.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = true
}

// ExpiresAt returns the expiry time, zero when the session does not expire.
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

func (s *Session) validLocked() bool {
	if s.invalidated {
		return false
	}
	return s.expiresAt.IsZero() || s.now().Before(s.expiresAt)
}
