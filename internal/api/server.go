package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/applyflow/applyflow/internal/auth"
	"github.com/applyflow/applyflow/internal/notify"
	"github.com/applyflow/applyflow/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes for the API service.
func SetupRoutes(
	sessionHandler *SessionHandler,
	checkpointHandler *CheckpointHandler,
	hub *notify.Hub,
	limiter *ratelimit.Limiter,
	authenticator auth.Authenticator,
) *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/v1").Subrouter()

	// Session and job endpoints (rate limited).
	limited := api.PathPrefix("").Subrouter()
	limited.Use(RateLimitMiddleware(limiter, authenticator, 100))
	limited.HandleFunc("/sessions/start", sessionHandler.Start).Methods("POST", "OPTIONS")
	limited.HandleFunc("/sessions/status", sessionHandler.Status).Methods("GET")
	limited.HandleFunc("/sessions/stop", sessionHandler.Stop).Methods("POST", "OPTIONS")
	limited.HandleFunc("/jobs/fetch", sessionHandler.FetchJobs).Methods("POST", "OPTIONS")
	limited.HandleFunc("/jobs/{jobId}/apply", sessionHandler.Apply).Methods("POST", "OPTIONS")
	limited.HandleFunc("/jobs/answer", sessionHandler.Answer).Methods("POST", "OPTIONS")

	// Checkpoint endpoints are polled continuously; no rate limit.
	api.HandleFunc("/checkpoint/{userId}/status", checkpointHandler.Status).Methods("GET")
	api.HandleFunc("/checkpoint/{userId}/frame.png", checkpointHandler.Frame).Methods("GET")
	api.HandleFunc("/checkpoint/{userId}/action", checkpointHandler.Action).Methods("POST", "OPTIONS")
	api.HandleFunc("/checkpoint/{userId}/complete", checkpointHandler.Complete).Methods("POST", "OPTIONS")

	// Realtime status channel.
	api.HandleFunc("/ws", hub.HandleWS).Methods("GET")

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	r.Use(corsMiddleware)

	return r
}
