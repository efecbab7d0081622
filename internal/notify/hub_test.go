package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applyflow/applyflow/pkg/models"
)

func wsServer(t *testing.T, h *Hub) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func associate(t *testing.T, conn *websocket.Conn, h *Hub, userID string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "associate", "userId": userID}))
	// The association is applied by the server read loop; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(h.clientsFor(userID)) > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("association for %s never registered", userID)
}

func TestBroadcastToAbsentUserDeliversToNobody(t *testing.T) {
	h := NewHub(10)
	sent := h.BroadcastToUser("nobody", models.Event{Type: "session_started"})
	assert.Equal(t, 0, sent)
}

func TestBroadcastReachesAssociatedClient(t *testing.T) {
	h := NewHub(10)
	_, url := wsServer(t, h)

	conn := dial(t, url)
	associate(t, conn, h, "u1")

	sent := h.BroadcastToUser("u1", models.Event{Type: "checkpoint_required", UserID: "u1"})
	assert.Equal(t, 1, sent)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var event models.Event
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, "checkpoint_required", event.Type)
}

func TestBroadcastSkipsOtherUsers(t *testing.T) {
	h := NewHub(10)
	_, url := wsServer(t, h)

	a := dial(t, url)
	associate(t, a, h, "u1")
	b := dial(t, url)
	associate(t, b, h, "u2")

	sent := h.BroadcastToUser("u1", models.Event{Type: "job_fetch_complete"})
	assert.Equal(t, 1, sent)
}

func TestBroadcastAll(t *testing.T) {
	h := NewHub(10)
	_, url := wsServer(t, h)

	a := dial(t, url)
	associate(t, a, h, "u1")
	b := dial(t, url)
	associate(t, b, h, "u2")

	sent := h.BroadcastAll(models.Event{Type: "maintenance"})
	assert.Equal(t, 2, sent)
}

func TestConnectionCapRejectsFlood(t *testing.T) {
	h := NewHub(1)
	srv, url := wsServer(t, h)

	conn := dial(t, url)
	associate(t, conn, h, "u1")

	// Hub is full; a plain HTTP request to the endpoint is refused before
	// the upgrade.
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	_, _, dialErr := websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, dialErr)
}

func TestCapHoldsWhileHandshakeInFlight(t *testing.T) {
	h := NewHub(1)

	// The first connect has claimed the slot but its upgrade has not
	// finished, so a second connect in the window is already over cap.
	require.True(t, h.reserve())
	assert.False(t, h.reserve(), "slot stays claimed during the handshake")

	// A failed upgrade hands the slot back.
	h.unreserve()
	assert.True(t, h.reserve())
}
