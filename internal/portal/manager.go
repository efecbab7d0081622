// Package portal gives a human full mouse/keyboard control of a real browser
// through a remote-screen (VNC) session, scoped to one verification task.
package portal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown tokens and for tokens owned by a
// different user; callers must not be able to tell the two apart.
var ErrNotFound = errors.New("portal session not found")

// Browser is the handle a launcher returns; the manager only ever closes it.
type Browser interface {
	Close() error
}

// Launcher starts an isolated browser on the shared display, bound to the
// user's persistent profile, already navigated to the target URL.
type Launcher interface {
	Launch(ctx context.Context, userID, url string) (Browser, error)
}

// Session is one live portal: a token, its owner, the browser, and a hard
// expiry independent of explicit completion.
type Session struct {
	Token     string
	UserID    string
	Browser   Browser
	ExpiresAt time.Time
}

// Manager owns the token-to-session mapping.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	launcher Launcher
	ttl      time.Duration
	now      func() time.Time
}

// NewManager creates a manager whose sessions expire ttl after creation.
func NewManager(launcher Launcher, ttl time.Duration) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		launcher: launcher,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Start launches a browser for the verification task and registers a session
// under a fresh unguessable token. Two starts for one user yield two
// independent sessions.
func (m *Manager) Start(ctx context.Context, userID, url string) (*Session, error) {
	b, err := m.launcher.Launch(ctx, userID, url)
	if err != nil {
		return nil, fmt.Errorf("failed to launch portal browser: %w", err)
	}

	sess := &Session{
		Token:     uuid.New().String(),
		UserID:    userID,
		Browser:   b,
		ExpiresAt: m.now().Add(m.ttl),
	}

	m.mu.Lock()
	m.sessions[sess.Token] = sess
	m.mu.Unlock()

	return sess, nil
}

// Get returns the session only when the token exists and belongs to userID.
func (m *Manager) Get(token, userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[token]
	if !ok || sess.UserID != userID {
		return nil, false
	}
	return sess, true
}

// Done closes the session's browser and removes it. The entry is removed
// before the close resolves, so a concurrent sweep cannot double-close.
// Close failures are logged, never propagated: the browser may already be
// gone and the bookkeeping must proceed regardless.
func (m *Manager) Done(token, userID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[token]
	if !ok || sess.UserID != userID {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.sessions, token)
	m.mu.Unlock()

	if err := sess.Browser.Close(); err != nil {
		log.Printf("closing portal browser for token %s: %v", shortToken(token), err)
	}
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartSweeper force-closes expired sessions on a fixed interval, a safety
// net against abandoned sessions leaking browser processes.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *Manager) sweep() {
	m.mu.Lock()
	var expired []*Session
	for token, sess := range m.sessions {
		if m.now().After(sess.ExpiresAt) {
			expired = append(expired, sess)
			delete(m.sessions, token)
		}
	}
	m.mu.Unlock()

	for _, sess := range expired {
		log.Printf("sweeping expired portal session %s (user %s)", shortToken(sess.Token), sess.UserID)
		if err := sess.Browser.Close(); err != nil {
			log.Printf("closing expired portal browser: %v", err)
		}
	}
}

func shortToken(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}
