package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nmamano/wallgame-broker/internal/botregistry"
	"github.com/nmamano/wallgame-broker/internal/broadcast"
	"github.com/nmamano/wallgame-broker/internal/middleware"
	"github.com/nmamano/wallgame-broker/internal/models"
	"github.com/nmamano/wallgame-broker/internal/protocol"
	"github.com/nmamano/wallgame-broker/internal/store"
)

// SessionHandler serves the game-CRUD HTTP surface (spec.md §6.4): creating,
// joining, readying, aborting, and fetching a session, each a thin call
// into the Game Session Store followed by a broadcast of the result.
type SessionHandler struct {
	store    *store.Store
	registry *botregistry.Registry
	engine   *protocol.Engine
	hub      *broadcast.Hub
}

func NewSessionHandler(st *store.Store, registry *botregistry.Registry, engine *protocol.Engine, hub *broadcast.Hub) *SessionHandler {
	return &SessionHandler{store: st, registry: registry, engine: engine, hub: hub}
}

type createGameRequest struct {
	Board             models.BoardConfig `json:"board"`
	Variant           models.Variant     `json:"variant"`
	TimeControl       models.TimeControl `json:"timeControl"`
	Rated             bool               `json:"rated"`
	MatchType         models.MatchType   `json:"matchType"`
	DisplayName       string             `json:"displayName"`
	Appearance        string             `json:"appearance"`
	VsBotCompositeID  string             `json:"vsBotCompositeId,omitempty"`
}

type sessionResponse struct {
	Session         models.Session `json:"session"`
	HostToken       string         `json:"hostToken,omitempty"`
	HostSocketToken string         `json:"hostSocketToken,omitempty"`
}

// createSession builds the host identity from the request's auth context,
// optionally resolves a bot opponent by composite id, creates the session,
// broadcasts it onto the live topic, and — for a vs-bot session — drives
// the bot's opening move before returning the final snapshot.
func (h *SessionHandler) createSession(r *http.Request, board models.BoardConfig, variant models.Variant, tc models.TimeControl, rated bool, matchType models.MatchType, displayName, appearance, vsBotCompositeID string) (models.Session, string, string, error) {
	var authUserID *string
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
		authUserID = &claims.UserID
	}
	hostIdentity := store.Identity{AuthUserID: authUserID, DisplayName: displayName, Appearance: appearance}

	var joinerIdentity *store.Identity
	if vsBotCompositeID != "" {
		bot, ok := h.registry.BotByCompositeID(vsBotCompositeID)
		if !ok {
			return models.Session{}, "", "", botregistry.ErrBotNotFound
		}
		composite := vsBotCompositeID
		joinerIdentity = &store.Identity{DisplayName: bot.Name, BotCompositeID: &composite}
	}

	session, hostToken, hostSocketToken, err := h.store.CreateSession(board, variant, tc, rated, matchType, hostIdentity, joinerIdentity, 0)
	if err != nil {
		return models.Session{}, "", "", err
	}

	h.hub.Broadcast("live", mustMarshal(protocol.LiveUpsertMsg{Type: "upsert", Game: session}))

	if joinerIdentity != nil {
		if err := h.engine.InitBotGame(session, session.Joiner); err != nil {
			log.Printf("handlers: init bot game %s: %v", session.ID, err)
		}
		if refreshed, err := h.store.GetSession(session.ID); err == nil {
			session = refreshed
		}
	}

	return session, hostToken, hostSocketToken, nil
}

func (h *SessionHandler) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	session, hostToken, hostSocketToken, err := h.createSession(r, req.Board, req.Variant, req.TimeControl, req.Rated, req.MatchType, req.DisplayName, req.Appearance, req.VsBotCompositeID)
	if err == botregistry.ErrBotNotFound {
		respondWithError(w, http.StatusNotFound, "bot not found")
		return
	}
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondWithJSON(w, http.StatusCreated, sessionResponse{Session: session, HostToken: hostToken, HostSocketToken: hostSocketToken})
}

type playBotRequest struct {
	Board           models.BoardConfig `json:"board"`
	Variant         models.Variant     `json:"variant"`
	TimeControl     models.TimeControl `json:"timeControl"`
	Rated           bool               `json:"rated"`
	DisplayName     string             `json:"displayName"`
	Appearance      string             `json:"appearance"`
	BotCompositeID  string             `json:"botCompositeId"`
}

// PlayBot is the dedicated vs-bot entry point (spec.md §6.4); it shares
// createSession's session-creation-plus-opening-move logic with CreateGame.
func (h *SessionHandler) PlayBot(w http.ResponseWriter, r *http.Request) {
	var req playBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.BotCompositeID == "" {
		respondWithError(w, http.StatusBadRequest, "botCompositeId is required")
		return
	}

	session, hostToken, hostSocketToken, err := h.createSession(r, req.Board, req.Variant, req.TimeControl, req.Rated, models.MatchTypeFriend, req.DisplayName, req.Appearance, req.BotCompositeID)
	if err == botregistry.ErrBotNotFound {
		respondWithError(w, http.StatusNotFound, "bot not found")
		return
	}
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondWithJSON(w, http.StatusCreated, sessionResponse{Session: session, HostToken: hostToken, HostSocketToken: hostSocketToken})
}

type joinGameRequest struct {
	DisplayName string `json:"displayName"`
	Appearance  string `json:"appearance"`
}

func (h *SessionHandler) JoinGame(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req joinGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	var authUserID *string
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
		authUserID = &claims.UserID
	}

	kind, session, seat, err := h.store.JoinSession(id, store.Identity{AuthUserID: authUserID, DisplayName: req.DisplayName, Appearance: req.Appearance})
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.hub.Broadcast("game:"+id, mustMarshal(protocol.StateMsg{Type: "state", Session: session}))
	h.hub.Broadcast("live", mustMarshal(protocol.LiveUpsertMsg{Type: "upsert", Game: session}))

	resp := map[string]interface{}{"kind": kind, "session": session}
	if seat != nil {
		resp["token"] = seat.Token
		resp["socketToken"] = seat.SocketToken
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *SessionHandler) ReadyGame(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		PlayerID int `json:"playerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	session, err := h.store.SetReady(id, req.PlayerID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.hub.Broadcast("game:"+id, mustMarshal(protocol.StateMsg{Type: "state", Session: session}))
	respondWithJSON(w, http.StatusOK, session)
}

func (h *SessionHandler) AbortGame(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.store.Cancel(id); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.hub.Broadcast("game:"+id, mustMarshal(protocol.ErrorMsg{Type: "error", Message: "game cancelled"}))
	h.hub.Broadcast("live", mustMarshal(protocol.LiveRemoveMsg{Type: "remove", GameID: id}))
	w.WriteHeader(http.StatusNoContent)
}

type rematchResponse struct {
	Session         models.Session `json:"session"`
	HostToken       string         `json:"hostToken"`
	HostSocketToken string         `json:"hostSocketToken"`
	JoinerToken     string         `json:"joinerToken"`
	JoinerSocketToken string       `json:"joinerSocketToken"`
}

// CreateRematch serves spec.md §4.1's createRematch(previousId): it starts
// the new session and privately notifies the previous game's other
// participant, since the requester already knows about it.
func (h *SessionHandler) CreateRematch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		PlayerID int `json:"playerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	next, hostToken, hostSocketToken, joinerToken, joinerSocketToken, err := h.store.CreateRematch(id)
	switch err {
	case nil:
	case store.ErrNotFound:
		respondWithError(w, http.StatusNotFound, "game not found")
		return
	case store.ErrNotYetFinished:
		respondWithError(w, http.StatusBadRequest, "previous game is not finished")
		return
	case store.ErrRematchExists:
		respondWithError(w, http.StatusConflict, "a rematch already exists for this series")
		return
	default:
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.hub.Broadcast("game:"+next.ID, mustMarshal(protocol.StateMsg{Type: "state", Session: next}))
	h.hub.Broadcast("live", mustMarshal(protocol.LiveUpsertMsg{Type: "upsert", Game: next}))
	h.hub.BroadcastExceptPlayer("game:"+id, mustMarshal(protocol.RematchOfferMsg{Type: "rematch-offer", NewGameID: next.ID}), req.PlayerID, true)

	respondWithJSON(w, http.StatusCreated, rematchResponse{
		Session: next, HostToken: hostToken, HostSocketToken: hostSocketToken,
		JoinerToken: joinerToken, JoinerSocketToken: joinerSocketToken,
	})
}

func (h *SessionHandler) GetGame(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	session, err := h.store.GetSession(id)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "game not found")
		return
	}
	respondWithJSON(w, http.StatusOK, session)
}
