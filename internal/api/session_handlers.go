package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/applyflow/applyflow/internal/auth"
	"github.com/applyflow/applyflow/internal/session"
	"github.com/applyflow/applyflow/pkg/models"
)

// SessionHandler exposes the automation session and job workflow.
type SessionHandler struct {
	sessions      *session.Manager
	authenticator auth.Authenticator
}

// NewSessionHandler creates the handler.
func NewSessionHandler(sessions *session.Manager, authenticator auth.Authenticator) *SessionHandler {
	return &SessionHandler{sessions: sessions, authenticator: authenticator}
}

func (h *SessionHandler) user(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := h.authenticator.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return "", false
	}
	return userID, true
}

// Start handles POST /v1/sessions/start. Idempotent per user.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	status, err := h.sessions.Start(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Status handles GET /v1/sessions/status.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	sess, exists := h.sessions.Session(userID)
	if !exists {
		writeJSON(w, http.StatusOK, models.SessionStatus{})
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// Stop handles POST /v1/sessions/stop.
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	if err := h.sessions.Stop(r.Context(), userID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// FetchJobs handles POST /v1/jobs/fetch. Duplicate concurrent fetches for
// one user share a single scrape.
func (h *SessionHandler) FetchJobs(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	var req models.FetchJobsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Keywords == "" {
		writeError(w, http.StatusBadRequest, "keywords is required")
		return
	}

	jobs, err := h.sessions.FetchJobs(r.Context(), userID, req)
	if err != nil {
		h.workflowError(w, userID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs, "count": len(jobs)})
}

// Apply handles POST /v1/jobs/{jobId}/apply.
func (h *SessionHandler) Apply(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	jobID := mux.Vars(r)["jobId"]

	status, err := h.sessions.Apply(r.Context(), userID, jobID)
	if err != nil {
		h.workflowError(w, userID, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Answer handles POST /v1/jobs/answer.
func (h *SessionHandler) Answer(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	var req models.AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Answer == "" {
		writeError(w, http.StatusBadRequest, "answer is required")
		return
	}

	status, err := h.sessions.Answer(r.Context(), userID, req.Answer)
	if err != nil {
		h.workflowError(w, userID, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// workflowError maps workflow outcomes onto the error taxonomy. A suspended
// workflow is not a failure: the client gets the checkpoint state and is
// expected to route the user to a verification surface.
func (h *SessionHandler) workflowError(w http.ResponseWriter, userID string, err error) {
	switch {
	case errors.Is(err, session.ErrCheckpointRequired):
		writeJSON(w, http.StatusOK, map[string]string{
			"status": string(models.CheckpointRequired),
		})
	case errors.Is(err, session.ErrNoSession):
		writeError(w, http.StatusGone, "no active session")
	case errors.Is(err, session.ErrNoApplication):
		writeError(w, http.StatusConflict, "no application in progress")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
