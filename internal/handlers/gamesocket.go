package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/nmamano/wallgame-broker/internal/authbridge"
	"github.com/nmamano/wallgame-broker/internal/broadcast"
	"github.com/nmamano/wallgame-broker/internal/protocol"
	"github.com/nmamano/wallgame-broker/internal/store"
	"github.com/nmamano/wallgame-broker/internal/wallrules"
)

// inboundActionMsg is the human game socket's own inbound wire shape
// (spec.md §6.3 leaves this externally defined); it maps one JSON frame
// onto a wallrules.Action.
type inboundActionMsg struct {
	Type        string `json:"type"`
	ToRow       int    `json:"toRow"`
	ToCol       int    `json:"toCol"`
	WallRow     int    `json:"wallRow"`
	WallCol     int    `json:"wallCol"`
	Orientation string `json:"orientation"`
	Offer       bool   `json:"offer"`
	Accept      bool   `json:"accept"`
	Decline     bool   `json:"decline"`
	Seconds     int    `json:"seconds"`
}

var inboundActionKinds = map[string]wallrules.ActionKind{
	"move":       wallrules.ActionMove,
	"placeWall":  wallrules.ActionPlaceWall,
	"resign":     wallrules.ActionResign,
	"draw":       wallrules.ActionDraw,
	"takeback":   wallrules.ActionTakeback,
	"giveTime":   wallrules.ActionGiveTime,
	"pass":       wallrules.ActionPass,
}

func (m inboundActionMsg) toAction() (wallrules.Action, bool) {
	kind, ok := inboundActionKinds[m.Type]
	if !ok {
		return wallrules.Action{}, false
	}
	return wallrules.Action{
		Kind:        kind,
		ToRow:       m.ToRow,
		ToCol:       m.ToCol,
		WallRow:     m.WallRow,
		WallCol:     m.WallCol,
		Orientation: m.Orientation,
		Offer:       m.Offer,
		Accept:      m.Accept,
		Decline:     m.Decline,
		Seconds:     m.Seconds,
	}, true
}

// GameSocketHandler serves /ws/games/{id} (spec.md §6.3): the human-facing
// socket that streams a session's live state and accepts player actions,
// shared between players, spectators, and replay viewers by access kind.
type GameSocketHandler struct {
	store     *store.Store
	engine    *protocol.Engine
	hub       *broadcast.Hub
	validator *authbridge.Validator
}

func NewGameSocketHandler(st *store.Store, engine *protocol.Engine, hub *broadcast.Hub, validator *authbridge.Validator) *GameSocketHandler {
	return &GameSocketHandler{store: st, engine: engine, hub: hub, validator: validator}
}

func (h *GameSocketHandler) authUserID(r *http.Request) *string {
	token := r.URL.Query().Get("token")
	if token == "" {
		return nil
	}
	claims, err := h.validator.ValidateAccessToken(token)
	if err != nil {
		return nil
	}
	return &claims.UserID
}

func (h *GameSocketHandler) HandleGameWebSocket(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["id"]
	seatToken := r.URL.Query().Get("seatToken")
	authUserID := h.authUserID(r)

	kind, session, seat, err := h.store.ResolveAccess(gameID, seatToken, authUserID)
	if err != nil {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("handlers: game socket upgrade failed: %v", err)
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

	playerID := 0
	if kind == store.AccessPlayer && seat != nil {
		playerID = seat.PlayerID
		h.store.SetConnected(gameID, playerID, true)
		defer h.store.SetConnected(gameID, playerID, false)
	}

	topic := "game:" + gameID
	sub := broadcast.NewSubscriber(newConnID(), playerID)
	h.hub.Subscribe(topic, sub)
	defer h.hub.Unsubscribe(topic, sub.ID)

	sendFn(mustMarshal(protocol.StateMsg{Type: "state", Session: session}))

	go func() {
		for frame := range sub.Send {
			if sendFn(frame) != nil {
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if kind != store.AccessPlayer {
			continue // spectators, waiting seats, and replay viewers are read-only
		}
		var msg inboundActionMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			sendFn(mustMarshal(protocol.ErrorMsg{Type: "error", Message: "malformed action"}))
			continue
		}
		action, ok := msg.toAction()
		if !ok {
			sendFn(mustMarshal(protocol.ErrorMsg{Type: "error", Message: "unknown action type"}))
			continue
		}
		if _, err := h.engine.ApplyHumanAction(gameID, playerID, action); err != nil {
			sendFn(mustMarshal(protocol.ErrorMsg{Type: "error", Message: err.Error()}))
		}
	}
}
