package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nmamano/wallgame-broker/internal/audit"
	"github.com/nmamano/wallgame-broker/internal/db"
	"github.com/nmamano/wallgame-broker/internal/protocol"
)

// attachDeadline bounds how long a freshly-opened bot socket has to send its
// attach message before the connection is dropped.
const attachDeadline = 10 * time.Second

// botConn wraps one bot client's live socket with the write-serializing
// mutex every concurrent Send/close path must go through.
type botConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *botConn) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *botConn) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	c.conn.Close()
}

// BotConnHub tracks the live physical socket for every attached bot client
// and implements protocol.BotSender over it. At most one socket is ever
// registered per clientId (spec.md §8 property 3).
type BotConnHub struct {
	mu      sync.RWMutex
	clients map[string]*botConn
}

func NewBotConnHub() *BotConnHub {
	return &BotConnHub{clients: make(map[string]*botConn)}
}

// Send implements protocol.BotSender.
func (h *BotConnHub) Send(clientID string, frame []byte) error {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("handlers: no live socket for bot client %s", clientID)
	}
	return c.write(frame)
}

// register stores conn under clientId and returns whatever socket was
// previously registered there, if any, so the caller can force-close it
// with code 1000 per spec.md §6.5.
func (h *BotConnHub) register(clientID string, conn *websocket.Conn) *botConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	prior := h.clients[clientID]
	h.clients[clientID] = &botConn{conn: conn}
	return prior
}

// unregister removes clientId's entry only if it still points at conn, so a
// socket that already lost an attach race doesn't clobber its replacement.
func (h *BotConnHub) unregister(clientID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok && c.conn == conn {
		delete(h.clients, clientID)
	}
}

// BotSocketHandler serves /ws/custom-bot (spec.md §6.1).
type BotSocketHandler struct {
	engine                     *protocol.Engine
	conns                      *BotConnHub
	db                         *db.MongoDB
	unexpectedMessageThreshold int
}

func NewBotSocketHandler(engine *protocol.Engine, conns *BotConnHub, database *db.MongoDB, unexpectedMessageThreshold int) *BotSocketHandler {
	return &BotSocketHandler{engine: engine, conns: conns, db: database, unexpectedMessageThreshold: unexpectedMessageThreshold}
}

func (h *BotSocketHandler) HandleBotWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("handlers: bot socket upgrade failed: %v", err)
		return
	}
	// A generous hard cap guards against unbounded reads; the spec's own
	// 64 KiB MaxFrameBytes is enforced per-message below so an oversize
	// frame increments the unexpected-message counter instead of
	// immediately tearing down the connection.
	conn.SetReadLimit(protocol.MaxFrameBytes * 4)

	sock := protocol.NewBotSocket(h.unexpectedMessageThreshold)
	conn.SetReadDeadline(time.Now().Add(attachDeadline))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}

	attached, prior, rejected := h.engine.HandleAttach(raw, sock)
	if rejected != nil {
		rejRaw, _ := json.Marshal(protocol.AttachRejectedMsg{Type: "attach-rejected", Code: rejected.Code, Message: rejected.Message})
		conn.WriteMessage(websocket.TextMessage, rejRaw)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(1008, rejected.Code))
		conn.Close()
		audit.LogEvent(h.db, audit.EventAttachRejected, sock.ClientID, "", r, rejected.Message)
		return
	}

	clientID := sock.ClientID
	priorConn := h.conns.register(clientID, conn)
	if priorConn != nil {
		priorConn.close(1000, "replaced by new attach")
		log.Printf("handlers: bot client %s reattached, prior socket closed", clientID)
	}

	attachedRaw, _ := json.Marshal(attached)
	if err := h.conns.Send(clientID, attachedRaw); err != nil {
		log.Printf("handlers: failed to send attached to %s: %v", clientID, err)
	}
	audit.LogEvent(h.db, audit.EventAttachAccepted, clientID, "", r, "")
	_ = prior // reported above via the replaced-socket close; nothing further to do with it here

	conn.SetReadDeadline(time.Time{})
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if len(frame) > protocol.MaxFrameBytes {
			if sock.RegisterUnexpected() {
				break
			}
			continue
		}
		if exceeded := h.engine.HandleBotFrame(sock, frame); exceeded {
			audit.LogEvent(h.db, audit.EventUnexpectedThreshold, clientID, "", r, "")
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(1008, "too many unexpected messages"))
			break
		}
	}

	sock.SetClosed()
	h.conns.mu.RLock()
	current, registered := h.conns.clients[clientID]
	h.conns.mu.RUnlock()
	h.conns.unregister(clientID, conn)
	conn.Close()
	if registered && current.conn != conn {
		// A newer attach under this clientId owns the registry entry now.
		return
	}
	h.engine.HandleBotDisconnect(clientID)
	audit.LogEvent(h.db, audit.EventBotDisconnected, clientID, "", nil, "")
}
