// Package session owns the one long-lived automation session each user gets:
// browser lifecycle, login state, the job fetch/apply workflow, and the
// suspend/resume protocol around human verification checkpoints.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/applyflow/applyflow/internal/checkpoint"
	"github.com/applyflow/applyflow/pkg/models"
)

// Launcher starts a browser for a session and hands back the page plus a
// best-effort teardown callback.
type Launcher interface {
	Launch(ctx context.Context, userID, sessionID string) (Page, func(), error)
}

// Notifier fans session status events out to connected clients. Delivery is
// best-effort; the returned count is how many connections received the event.
type Notifier interface {
	BroadcastToUser(userID string, event models.Event) int
}

// Config tunes workflow timing.
type Config struct {
	IdleTimeout  time.Duration // tear down sessions with no activity for this long
	ClickTimeout time.Duration // bounded wait for click-by-selector
	TypeDelay    time.Duration // inter-keystroke delay when typing
	SettleDelay  time.Duration // pause after an action before re-reading the URL
}

// DefaultConfig matches the behavior of the production deployment.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:  30 * time.Minute,
		ClickTimeout: 5 * time.Second,
		TypeDelay:    80 * time.Millisecond,
		SettleDelay:  1500 * time.Millisecond,
	}
}

// Manager handles all session operations. Exactly one Session exists per user
// at a time; every mutating entry point serializes through a per-user lock so
// concurrent requests for the same user cannot interleave.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	locks    map[string]*semaphore.Weighted

	fetches singleflight.Group

	launcher    Launcher
	checkpoints *checkpoint.Store
	notifier    Notifier
	cfg         Config
}

// NewManager creates a session manager.
func NewManager(launcher Launcher, store *checkpoint.Store, notifier Notifier, cfg Config) *Manager {
	return &Manager{
		sessions:    make(map[string]*Session),
		locks:       make(map[string]*semaphore.Weighted),
		launcher:    launcher,
		checkpoints: store,
		notifier:    notifier,
		cfg:         cfg,
	}
}

// lockUser acquires the user's single-flight lock. Only one session-mutating
// operation proceeds at a time per user; unrelated users never contend.
func (m *Manager) lockUser(ctx context.Context, userID string) (func(), error) {
	m.mu.Lock()
	sem, ok := m.locks[userID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		m.locks[userID] = sem
	}
	m.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for session lock: %w", err)
	}
	return func() { sem.Release(1) }, nil
}

// Session returns the user's session if one exists.
func (m *Manager) Session(userID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[userID]
	return sess, ok
}

// IsActive reports whether the user currently has a live session.
func (m *Manager) IsActive(userID string) bool {
	sess, ok := m.Session(userID)
	return ok && sess.Active()
}

// Start launches a browser session for the user. Starting while a session is
// already active is a no-op returning the existing session.
func (m *Manager) Start(ctx context.Context, userID string) (models.SessionStatus, error) {
	unlock, err := m.lockUser(ctx, userID)
	if err != nil {
		return models.SessionStatus{}, err
	}
	defer unlock()

	if sess, ok := m.Session(userID); ok && sess.Active() {
		sess.Touch()
		return sess.Snapshot(), nil
	}

	sessionID := uuid.New().String()
	page, closeFn, err := m.launcher.Launch(ctx, userID, sessionID)
	if err != nil {
		return models.SessionStatus{}, fmt.Errorf("failed to launch browser: %w", err)
	}

	sess := &Session{
		ID:               sessionID,
		UserID:           userID,
		IsActive:         true,
		IsBrowserRunning: true,
		LastActivity:     time.Now(),
		page:             page,
		close:            closeFn,
	}

	m.mu.Lock()
	m.sessions[userID] = sess
	m.mu.Unlock()

	m.checkpoints.Set(userID, models.CheckpointState{
		State:     models.CheckpointRunning,
		Step:      "login",
		SessionID: sessionID,
	})
	m.broadcast(userID, "session_started", "", "login")

	if err := m.login(ctx, sess); err != nil {
		log.Printf("login flow for user %s: %v", userID, err)
	}

	return sess.Snapshot(), nil
}

// Stop ends the user's session: best-effort browser teardown first, then
// bookkeeping removal. Removing always succeeds even if the browser is gone.
func (m *Manager) Stop(ctx context.Context, userID string) error {
	unlock, err := m.lockUser(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	sess, ok := m.Session(userID)
	if !ok {
		return fmt.Errorf("session not found")
	}

	m.teardown(sess)

	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()

	m.checkpoints.Clear(userID)
	m.broadcast(userID, "session_ended", "", "")
	return nil
}

// teardown releases the browser resources. Failures are logged, never
// propagated: bookkeeping must proceed even when the browser already died.
func (m *Manager) teardown(sess *Session) {
	if closeFn := sess.end(); closeFn != nil {
		closeFn()
	}
}

// StartIdleSweeper evicts sessions whose last activity is older than the idle
// timeout. Runs until ctx is canceled.
func (m *Manager) StartIdleSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweepIdle(ctx)
			}
		}
	}()
}

func (m *Manager) sweepIdle(ctx context.Context) {
	m.mu.RLock()
	var expired []string
	for userID, sess := range m.sessions {
		if time.Since(sess.LastSeen()) > m.cfg.IdleTimeout {
			expired = append(expired, userID)
		}
	}
	m.mu.RUnlock()

	for _, userID := range expired {
		log.Printf("sweeping idle session for user %s", userID)
		if err := m.Stop(ctx, userID); err != nil {
			log.Printf("idle sweep for user %s: %v", userID, err)
		}
	}
}

func (m *Manager) broadcast(userID, eventType, message, step string) {
	if m.notifier == nil {
		return
	}
	m.notifier.BroadcastToUser(userID, models.Event{
		Type:      eventType,
		UserID:    userID,
		Message:   message,
		Step:      step,
		Timestamp: time.Now(),
	})
}
