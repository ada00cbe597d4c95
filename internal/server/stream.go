package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ZerkerEOD/gpuguard/internal/snapshot"
	"github.com/ZerkerEOD/gpuguard/pkg/debug"
)

// Stream message types
const (
	MessageSnapshot = "snapshot"
	MessageEvent    = "event"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
)

// Message is one frame on the WebSocket stream
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Warning("WebSocket upgrade failed: %v", err)
		return
	}
	debug.Info("Stream client connected from %s", r.RemoteAddr)

	snapshots, cancelSnapshots := s.engine.SubscribeSnapshots()
	events, cancelEvents := s.engine.SubscribeEvents()

	done := make(chan struct{})
	go readPump(ws, done)
	writePump(ws, snapshots, events, done)

	cancelSnapshots()
	cancelEvents()
	debug.Info("Stream client %s disconnected", r.RemoteAddr)
}

// readPump discards client frames and keeps the read deadline fresh so
// the pong handler runs. It closes done when the client goes away.
func readPump(ws *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				debug.Warning("Stream read error: %v", err)
			}
			return
		}
	}
}

// writePump forwards snapshots and events to the client and pings it
// periodically. It returns when the client disconnects, a write fails or
// the engine closes its streams.
func writePump(ws *websocket.Conn, snapshots <-chan snapshot.Snapshot, events <-chan snapshot.Event, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		var message Message
		select {
		case <-done:
			return

		case snap, ok := <-snapshots:
			if !ok {
				closeStream(ws)
				return
			}
			message = Message{Type: MessageSnapshot, Data: snap}

		case event, ok := <-events:
			if !ok {
				closeStream(ws)
				return
			}
			message = Message{Type: MessageEvent, Data: event}

		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				debug.Warning("Failed to ping stream client: %v", err)
				return
			}
			continue
		}

		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteJSON(message); err != nil {
			debug.Warning("Failed to send %s message: %v", message.Type, err)
			return
		}
		debug.Debug("Sent %s message", message.Type)
	}
}

func closeStream(ws *websocket.Conn) {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "monitor shutting down"))
}
