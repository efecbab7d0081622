// Package checkpoint tracks, per user, whether browser automation is running
// freely or waiting on a human to clear a verification challenge.
package checkpoint

import (
	"sync"
	"time"

	"github.com/applyflow/applyflow/pkg/models"
)

// StaleAfter is how long an entry survives without a new Set before it decays
// back to idle on the next read.
const StaleAfter = 30 * time.Minute

// Store is a process-wide keyed store of per-user checkpoint state.
// Entries are last-writer-wins; absence is equivalent to idle.
type Store struct {
	mu      sync.Mutex
	entries map[string]models.CheckpointState
	now     func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]models.CheckpointState),
		now:     time.Now,
	}
}

// Set replaces any prior entry for the user and stamps UpdatedAt.
func (s *Store) Set(userID string, state models.CheckpointState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.UpdatedAt = s.now()
	s.entries[userID] = state
}

// Get returns the user's current entry. If none exists, or the entry is older
// than StaleAfter, it returns a synthetic idle state; stale entries are
// evicted on the way out.
func (s *Store) Get(userID string) models.CheckpointState {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[userID]
	if !ok {
		return models.CheckpointState{State: models.CheckpointIdle}
	}

	if s.now().Sub(entry.UpdatedAt) > StaleAfter {
		delete(s.entries, userID)
		return models.CheckpointState{State: models.CheckpointIdle}
	}

	return entry
}

// Clear removes the user's entry unconditionally.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, userID)
}

// Has reports whether a raw entry exists, ignoring staleness.
func (s *Store) Has(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[userID]
	return ok
}
