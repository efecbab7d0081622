package session

import "sync"

// Resume is the continuation a suspended workflow leaves behind when it hits
// a checkpoint. Invoke fires the captured callback at most once, no matter
// how many callers race (a human action clearing the wall and a manual
// complete can both try).
type Resume struct {
	fn   func()
	once sync.Once
}

// NewResume wraps a callback.
func NewResume(fn func()) *Resume {
	return &Resume{fn: fn}
}

// Invoke runs the callback if it has not run yet. Nil-safe.
func (r *Resume) Invoke() {
	if r == nil || r.fn == nil {
		return
	}
	r.once.Do(r.fn)
}
