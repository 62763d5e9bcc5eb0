// Package auth holds the dashboard's login users, cookie sessions and API key check.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("auth: invalid username or password")

// HashPassword returns a bcrypt hash suitable for the users config map.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("auth: password cannot be empty")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(b), nil
}

// dummyHash keeps the cost of a lookup for an unknown user close to a real one.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("forecastdesk"), bcrypt.DefaultCost)

// Users maps usernames to bcrypt hashes.
type Users map[string]string

// Authenticate checks a username/password pair.
func (u Users) Authenticate(username, password string) error {
	hash, ok := u[username]
	if !ok || hash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// CheckAPIKey reports whether provided matches the configured key.
// An empty configured key disables the check.
func CheckAPIKey(configured, provided string) bool {
	if configured == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(provided)) == 1
}

// Session is a logged-in browser.
type Session struct {
	ID       string
	Username string
	Expires  time.Time
}

// Sessions is an in-memory session store with a fixed lifetime.
type Sessions struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	byID map[string]Session
}

// NewSessions creates a store whose sessions live for ttl (12h when not positive).
func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Sessions{ttl: ttl, now: time.Now, byID: map[string]Session{}}
}

// TTL returns the session lifetime.
func (s *Sessions) TTL() time.Duration { return s.ttl }

// Create starts a session for username.
func (s *Sessions) Create(username string) Session {
	sess := Session{ID: uuid.NewString(), Username: username, Expires: s.now().Add(s.ttl)}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.byID[sess.ID] = sess
	return sess
}

// Lookup returns a live session. Expired sessions are dropped.
func (s *Sessions) Lookup(id string) (Session, bool) {
	if id == "" {
		return Session{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return Session{}, false
	}
	if !s.now().Before(sess.Expires) {
		delete(s.byID, id)
		return Session{}, false
	}
	return sess, true
}

// Delete ends a session.
func (s *Sessions) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

// Len counts stored sessions, expired ones included until the next sweep.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func (s *Sessions) sweepLocked() {
	now := s.now()
	for id, sess := range s.byID {
		if !now.Before(sess.Expires) {
			delete(s.byID, id)
		}
	}
}
