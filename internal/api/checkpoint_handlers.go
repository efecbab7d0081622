package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/applyflow/applyflow/internal/checkpoint"
	"github.com/applyflow/applyflow/internal/session"
	"github.com/applyflow/applyflow/pkg/models"
)

// CheckpointHandler is the polling alternative to the remote-desktop portal:
// a client that cannot embed a VNC viewer drives the paused automation page
// with screenshots and a constrained action vocabulary.
type CheckpointHandler struct {
	sessions *session.Manager
	store    *checkpoint.Store

	Timing Timing
}

// Timing bounds the waits around injected actions.
type Timing struct {
	ClickTimeout time.Duration // bounded wait for click-by-selector
	SettleDelay  time.Duration // pause after an action before re-reading the URL
	WaitPause    time.Duration // duration of the explicit "wait" action
	TypeDelay    time.Duration // inter-keystroke delay
}

// NewCheckpointHandler creates the handler with production timing.
func NewCheckpointHandler(sessions *session.Manager, store *checkpoint.Store) *CheckpointHandler {
	return &CheckpointHandler{
		sessions: sessions,
		store:    store,
		Timing: Timing{
			ClickTimeout: 5 * time.Second,
			SettleDelay:  1500 * time.Millisecond,
			WaitPause:    2 * time.Second,
			TypeDelay:    80 * time.Millisecond,
		},
	}
}

// Status handles GET /v1/checkpoint/{userId}/status.
func (h *CheckpointHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	noCache(w)
	writeJSON(w, http.StatusOK, h.store.Get(userID))
}

// Frame handles GET /v1/checkpoint/{userId}/frame.png. A fresh full-page
// screenshot is taken on every call; nothing is cached.
func (h *CheckpointHandler) Frame(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	if h.store.Get(userID).State != models.CheckpointRequired {
		writeError(w, http.StatusConflict, "no checkpoint pending")
		return
	}

	sess, ok := h.sessions.Session(userID)
	if !ok {
		writeError(w, http.StatusGone, "session or page no longer available")
		return
	}
	// Capture the page once: a concurrent stop may detach it between reads.
	page := sess.Page()
	if page == nil {
		writeError(w, http.StatusGone, "session or page no longer available")
		return
	}

	shot, err := page.Screenshot(r.Context(), true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "screenshot failed: "+err.Error())
		return
	}

	noCache(w)
	w.Header().Set("Content-Type", "image/png")
	w.Write(shot)
}

// Action handles POST /v1/checkpoint/{userId}/action: inject one synthetic
// input into the paused page, then check whether the verification wall
// cleared and resume the suspended workflow if it did.
func (h *CheckpointHandler) Action(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	var req models.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	if h.store.Get(userID).State != models.CheckpointRequired {
		writeError(w, http.StatusConflict, "no checkpoint pending")
		return
	}

	sess, ok := h.sessions.Session(userID)
	if !ok {
		writeError(w, http.StatusGone, "session or page no longer available")
		return
	}
	page := sess.Page()
	if page == nil {
		writeError(w, http.StatusGone, "session or page no longer available")
		return
	}
	ctx := r.Context()

	// Action failures are recoverable: the caller sees a 400 and may retry;
	// checkpoint state is left untouched.
	var actionErr error
	switch req.Type {
	case models.ActionClick:
		if req.Selector != "" {
			actionErr = page.Click(ctx, req.Selector, h.Timing.ClickTimeout)
		} else {
			actionErr = page.ClickAt(ctx, req.X, req.Y)
		}
	case models.ActionTypeText:
		if req.Selector == "" {
			writeError(w, http.StatusBadRequest, "selector is required for type")
			return
		}
		actionErr = page.Type(ctx, req.Selector, req.Text, h.Timing.TypeDelay)
	case models.ActionPress:
		actionErr = page.Press(ctx, req.Key)
	case models.ActionWait:
		time.Sleep(h.Timing.WaitPause)
	default:
		writeError(w, http.StatusBadRequest, "unknown action type: "+string(req.Type))
		return
	}
	if actionErr != nil {
		writeError(w, http.StatusBadRequest, actionErr.Error())
		return
	}

	// Let the page settle, then see whether the human got past the wall.
	time.Sleep(h.Timing.SettleDelay)

	currentURL, err := page.URL(ctx)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read page url: "+err.Error())
		return
	}

	if !session.IsVerificationURL(currentURL) {
		h.store.Set(userID, models.CheckpointState{
			State:     models.CheckpointRunning,
			SessionID: sess.ID,
		})
		if resume := sess.TakeResume(); resume != nil {
			resume.Invoke()
		}
	}

	writeJSON(w, http.StatusOK, models.ActionResponse{OK: true, CurrentURL: currentURL})
}

// Complete handles POST /v1/checkpoint/{userId}/complete: a manual override
// that marks the checkpoint handled and moves the state back to running.
// Idempotent; callers may race or double-submit.
func (h *CheckpointHandler) Complete(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	st := h.store.Get(userID)
	if st.State != models.CheckpointRequired {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	h.store.Set(userID, models.CheckpointState{
		State:     models.CheckpointRunning,
		SessionID: st.SessionID,
	})
	if sess, ok := h.sessions.Session(userID); ok {
		if resume := sess.TakeResume(); resume != nil {
			resume.Invoke()
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
