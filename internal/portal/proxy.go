package portal

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	Subprotocols: []string{"binary"},
}

// relayWebsocket bridges the viewer's websocket to the local websockify
// endpoint so the remote screen streams over the portal's own origin.
func (s *Server) relayWebsocket(w http.ResponseWriter, r *http.Request) {
	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("failed to upgrade viewer connection: %v", err)
		return
	}
	defer clientConn.Close()

	path := strings.TrimPrefix(r.URL.Path, "/_novnc")
	backendURL := fmt.Sprintf("ws://%s%s", s.wsBackend, path)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	backendConn, _, err := websocket.DefaultDialer.DialContext(ctx, backendURL, nil)
	if err != nil {
		log.Printf("failed to connect to websockify: %v", err)
		clientConn.WriteMessage(websocket.TextMessage, []byte("error connecting to screen server"))
		return
	}
	defer backendConn.Close()

	errChan := make(chan error, 2)

	go func() {
		errChan <- proxyMessages(clientConn, backendConn)
	}()
	go func() {
		errChan <- proxyMessages(backendConn, clientConn)
	}()

	if err := <-errChan; err != nil && err != io.EOF {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			log.Printf("screen relay ended: %v", err)
		}
	}
}

func proxyMessages(src, dst *websocket.Conn) error {
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			return err
		}
		if err := dst.WriteMessage(messageType, message); err != nil {
			return err
		}
	}
}
