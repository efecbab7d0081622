package session

import (
	"sync"
	"time"

	"github.com/applyflow/applyflow/pkg/models"
)

// Session is the long-lived per-user automation context: one browser, one
// page, and the progress of whatever workflow is in flight. Workflow fields
// are only mutated under the manager's per-user lock. The page, the lifecycle
// flags and the one-shot fields have their own mutex because the checkpoint
// API reads them out of band while teardown may be running.
type Session struct {
	ID     string
	UserID string

	IsActive         bool
	IsBrowserRunning bool
	IsLoggedIn       bool

	ApplicationProgress  int
	CurrentQuestion      string
	TotalQuestions       int
	CurrentQuestionIndex int
	CurrentJobID         string

	LastActivity time.Time

	page  Page
	close func()

	mu             sync.Mutex
	checkpointData map[string]interface{}
	resume         *Resume
}

// Page returns the live browser tab, or nil if the browser is gone.
func (s *Session) Page() Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// Active reports whether the session still owns a live browser.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.IsActive
}

// end flips the session to inactive and detaches the page, returning the
// browser teardown callback at most once.
func (s *Session) end() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.IsActive = false
	s.IsBrowserRunning = false
	s.page = nil
	closeFn := s.close
	s.close = nil
	return closeFn
}

// Touch records activity, deferring idle cleanup.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActivity = time.Now()
}

// LastSeen returns the time of the most recent activity.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastActivity
}

// SetCheckpointData stores a one-shot payload for the next status poller.
func (s *Session) SetCheckpointData(data map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpointData = data
}

// TakeCheckpointData removes and returns the pending payload. The one-shot
// contract is structural: a second call returns nothing.
func (s *Session) TakeCheckpointData() (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.checkpointData
	s.checkpointData = nil
	return data, data != nil
}

// SetResume parks the continuation to run once the checkpoint clears.
func (s *Session) SetResume(r *Resume) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resume = r
}

// TakeResume removes and returns the pending continuation, if any.
func (s *Session) TakeResume() *Resume {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.resume
	s.resume = nil
	return r
}

// Snapshot copies the externally visible state of the session.
func (s *Session) Snapshot() models.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SessionStatus{
		SessionID:            s.ID,
		IsActive:             s.IsActive,
		IsBrowserRunning:     s.IsBrowserRunning,
		IsLoggedIn:           s.IsLoggedIn,
		ApplicationProgress:  s.ApplicationProgress,
		CurrentQuestion:      s.CurrentQuestion,
		TotalQuestions:       s.TotalQuestions,
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		LastActivity:         s.LastActivity,
	}
}
