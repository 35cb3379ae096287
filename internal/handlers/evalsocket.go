package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nmamano/wallgame-broker/internal/broadcast"
	"github.com/nmamano/wallgame-broker/internal/protocol"
)

// EvalSocketHandler serves /ws/eval (spec.md §6.2): a read-mostly socket
// that streams one game's eval bar to a spectator, piggybacking on the
// broadcast fabric's "eval:<gameId>" topic once the handshake negotiates
// which BGS (if any) supplies the stream.
type EvalSocketHandler struct {
	engine *protocol.Engine
	hub    *broadcast.Hub
}

func NewEvalSocketHandler(engine *protocol.Engine, hub *broadcast.Hub) *EvalSocketHandler {
	return &EvalSocketHandler{engine: engine, hub: hub}
}

func (h *EvalSocketHandler) HandleEvalWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("handlers: eval socket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	sendFn := func(frame []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, frame)
	}

	conn.SetReadDeadline(time.Now().Add(attachDeadline))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return
	}
	conn.SetReadDeadline(time.Time{})

	var handshake protocol.EvalHandshakeMsg
	if err := json.Unmarshal(raw, &handshake); err != nil || handshake.Type != "eval-handshake" || handshake.GameID == "" {
		sendFn(mustMarshal(protocol.EvalHandshakeRejectedMsg{Type: "eval-handshake-rejected", Code: protocol.EvalCodeInternalError, Message: "malformed eval-handshake"}))
		return
	}

	// Blocks while the handshake resolves which BGS backs this game's
	// stream (falling back to polling a cold bot into readiness); runs
	// fine in this per-connection goroutine.
	h.engine.HandleEvalHandshake(handshake, sendFn)

	topic := "eval:" + handshake.GameID
	sub := broadcast.NewSubscriber(newConnID(), 0)
	h.hub.Subscribe(topic, sub)
	defer h.hub.Unsubscribe(topic, sub.ID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for frame := range sub.Send {
			if err := sendFn(frame); err != nil {
				return
			}
		}
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var ping struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(frame, &ping) == nil && ping.Type == "ping" {
			sendFn(mustMarshal(protocol.PongMsg{Type: "pong"}))
		}
	}
}
