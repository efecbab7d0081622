package portal

import (
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"github.com/applyflow/applyflow/internal/auth"
	"github.com/applyflow/applyflow/pkg/models"
)

// viewerHTML embeds the noVNC client under the portal's own origin, pointed
// at the same-origin websocket proxy so no cross-origin rules apply.
const viewerHTML = `<!DOCTYPE html>
<html>
<head>
<title>Verification needed</title>
<style>
  html, body { margin: 0; height: 100%; background: #111; }
  iframe { border: 0; width: 100%; height: 100%; }
</style>
</head>
<body>
<iframe src="/_novnc/vnc.html?autoconnect=true&resize=scale&path=_novnc/websockify&token={{.Token}}"
        allow="clipboard-read; clipboard-write"></iframe>
</body>
</html>`

var viewerTmpl = template.Must(template.New("viewer").Parse(viewerHTML))

// Server is the portal HTTP surface.
type Server struct {
	manager       *Manager
	authenticator auth.Authenticator
	wsBackend     string // host:port of websockify
}

// NewServer wires the portal routes.
func NewServer(manager *Manager, authenticator auth.Authenticator, wsPort int) *Server {
	return &Server{
		manager:       manager,
		authenticator: authenticator,
		wsBackend:     fmt.Sprintf("127.0.0.1:%d", wsPort),
	}
}

// Routes configures the router.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/checkpoint/start", s.handleStart).Methods("POST")
	r.HandleFunc("/checkpoint/{token}", s.handleViewer).Methods("GET")
	r.HandleFunc("/checkpoint/{token}/done", s.handleDone).Methods("POST")
	r.PathPrefix("/_novnc/").HandlerFunc(s.handleNoVNC)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	return r
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticator.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req models.StartPortalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	sess, err := s.manager.Start(r.Context(), userID, req.URL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, models.StartPortalResponse{
		Token:     sess.Token,
		PortalURL: "/checkpoint/" + sess.Token,
	})
}

// handleViewer serves the remote-screen page. Unknown tokens and tokens owned
// by another user both answer 404, so an unauthorized caller learns nothing
// about token existence.
func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticator.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	token := mux.Vars(r)["token"]
	sess, ok := s.manager.Get(token, userID)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := viewerTmpl.Execute(w, map[string]string{"Token": sess.Token}); err != nil {
		log.Printf("render viewer for token %s: %v", shortToken(sess.Token), err)
	}
}

func (s *Server) handleDone(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticator.Authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	token := mux.Vars(r)["token"]
	if err := s.manager.Done(token, userID); err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleNoVNC proxies the noVNC web client and its websocket under the portal
// origin. Plain requests go through a reverse proxy; websocket upgrades are
// relayed connection-for-connection.
func (s *Server) handleNoVNC(w http.ResponseWriter, r *http.Request) {
	if isWebsocketUpgrade(r) {
		s.relayWebsocket(w, r)
		return
	}

	target := &url.URL{Scheme: "http", Host: s.wsBackend}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Director = func(req *http.Request) {
		req.URL.Scheme = "http"
		req.URL.Host = s.wsBackend
		req.URL.Path = strings.TrimPrefix(r.URL.Path, "/_novnc")
		req.Host = s.wsBackend
	}
	proxy.ServeHTTP(w, r)
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
