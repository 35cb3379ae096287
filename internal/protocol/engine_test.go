package protocol

import (
	"encoding/json"
	"testing"

	"github.com/nmamano/wallgame-broker/internal/bgsstore"
	"github.com/nmamano/wallgame-broker/internal/botregistry"
	"github.com/nmamano/wallgame-broker/internal/broadcast"
	"github.com/nmamano/wallgame-broker/internal/models"
	"github.com/nmamano/wallgame-broker/internal/store"
	"github.com/nmamano/wallgame-broker/internal/wallrules"
)

// fakeSender immediately synthesizes a bot response on Send, driving the
// engine's correlator without a real WebSocket round trip.
type fakeSender struct {
	engine  *Engine
	sock    *BotSocket
	onFrame func(frame map[string]interface{}) interface{}
}

func (f *fakeSender) Send(clientID string, frame []byte) error {
	var decoded map[string]interface{}
	if err := json.Unmarshal(frame, &decoded); err != nil {
		return err
	}
	resp := f.onFrame(decoded)
	if resp == nil {
		return nil
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	f.engine.HandleBotFrame(f.sock, raw)
	return nil
}

func newTestEngine(t *testing.T, onFrame func(map[string]interface{}) interface{}) (*Engine, *fakeSender) {
	t.Helper()
	st := store.New()
	reg := botregistry.New("official-secret")
	bgs := bgsstore.New(false)
	hub := broadcast.NewHub()

	sender := &fakeSender{onFrame: onFrame}
	engine := NewEngine(st, reg, bgs, hub, sender, Hooks{}, 0)
	sender.engine = engine
	sender.sock = NewBotSocket(0)
	sender.sock.SetAttached("client-1")
	return engine, sender
}

func TestHandleAttachAccepts(t *testing.T) {
	engine, sender := newTestEngine(t, func(map[string]interface{}) interface{} { return nil })
	raw, _ := json.Marshal(validAttach())
	attached, prior, rejected := engine.HandleAttach(raw, sender.sock)
	if rejected != nil {
		t.Fatalf("expected accept, got rejection %v", rejected)
	}
	if prior != nil {
		t.Fatalf("expected no prior client on first attach")
	}
	if attached.ProtocolVersion != ProtocolVersion {
		t.Fatalf("unexpected protocol version in attached response")
	}
	if sender.sock.CurrentState() != SocketAttached {
		t.Fatalf("expected socket to transition to attached")
	}
}

func TestHandleAttachRejectsBadProtocolVersion(t *testing.T) {
	engine, sender := newTestEngine(t, func(map[string]interface{}) interface{} { return nil })
	msg := validAttach()
	msg.ProtocolVersion = 1
	raw, _ := json.Marshal(msg)
	_, _, rejected := engine.HandleAttach(raw, sender.sock)
	if rejected == nil || rejected.Code != CodeProtocolUnsupported {
		t.Fatalf("expected %s, got %v", CodeProtocolUnsupported, rejected)
	}
}

func TestHandleAttachReplaceReportsPriorClient(t *testing.T) {
	engine, sender := newTestEngine(t, func(map[string]interface{}) interface{} { return nil })
	raw, _ := json.Marshal(validAttach())
	if _, _, rejected := engine.HandleAttach(raw, sender.sock); rejected != nil {
		t.Fatalf("first attach: %v", rejected)
	}
	sock2 := NewBotSocket(0)
	_, prior, rejected := engine.HandleAttach(raw, sock2)
	if rejected != nil {
		t.Fatalf("second attach: %v", rejected)
	}
	if prior == nil || prior.ClientID != "client-1" {
		t.Fatalf("expected prior client reported on replace, got %+v", prior)
	}
}

func TestStartGameSessionRoundTrip(t *testing.T) {
	engine, _ := newTestEngine(t, func(frame map[string]interface{}) interface{} {
		switch frame["type"] {
		case "start_game_session":
			return GameSessionStartedMsg{Type: "game_session_started", BgsID: frame["bgsId"].(string), Success: true}
		}
		return nil
	})
	config := models.BgsConfig{Variant: models.VariantStandard, Board: models.BoardConfig{BoardWidth: 5, BoardHeight: 5, WallsPerPlayer: 2}}
	if err := engine.StartGameSession("bgs-1", "client-1:bot-1", "game-1", config); err != nil {
		t.Fatalf("StartGameSession: %v", err)
	}
}

func TestStartGameSessionFailurePropagates(t *testing.T) {
	engine, _ := newTestEngine(t, func(frame map[string]interface{}) interface{} {
		switch frame["type"] {
		case "start_game_session":
			return GameSessionStartedMsg{Type: "game_session_started", BgsID: frame["bgsId"].(string), Success: false, Error: "engine unavailable"}
		}
		return nil
	})
	config := models.BgsConfig{Variant: models.VariantStandard, Board: models.BoardConfig{BoardWidth: 5, BoardHeight: 5, WallsPerPlayer: 2}}
	if err := engine.StartGameSession("bgs-2", "client-1:bot-1", "game-2", config); err == nil {
		t.Fatalf("expected failure to propagate")
	}
}

func TestEvaluatePositionAppendsHistory(t *testing.T) {
	engine, _ := newTestEngine(t, func(frame map[string]interface{}) interface{} {
		switch frame["type"] {
		case "start_game_session":
			return GameSessionStartedMsg{Type: "game_session_started", BgsID: frame["bgsId"].(string), Success: true}
		case "evaluate_position":
			return EvaluateResponseMsg{Type: "evaluate_response", BgsID: frame["bgsId"].(string), Ply: 0, BestMove: "3,2", Evaluation: 1.5, Success: true}
		}
		return nil
	})
	config := models.BgsConfig{Variant: models.VariantStandard, Board: models.BoardConfig{BoardWidth: 5, BoardHeight: 5, WallsPerPlayer: 2}}
	if err := engine.StartGameSession("bgs-3", "client-1:bot-1", "game-3", config); err != nil {
		t.Fatalf("start: %v", err)
	}
	resp, err := engine.EvaluatePosition("bgs-3", 0)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if resp.Evaluation != 1 {
		t.Fatalf("expected evaluation clamped to 1, got %v", resp.Evaluation)
	}
}

func TestApplyHumanActionResignFinishesGameAndFiresHooks(t *testing.T) {
	st := store.New()
	cfg := models.BoardConfig{BoardWidth: 5, BoardHeight: 5, WallsPerPlayer: 3}
	sess, _, _, err := st.CreateSession(cfg, models.VariantStandard, models.TimeControl{}, false, models.MatchTypeFriend, store.Identity{DisplayName: "host"}, &store.Identity{DisplayName: "joiner"}, 1)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	var persisted bool
	hub := broadcast.NewHub()
	engine := NewEngine(st, botregistry.New("secret"), bgsstore.New(false), hub, nil, Hooks{
		PersistFinishedGame: func(models.Session) { persisted = true },
	}, 0)

	updated, err := engine.ApplyHumanAction(sess.ID, sess.Host.PlayerID, wallrules.Action{Kind: wallrules.ActionResign})
	if err != nil {
		t.Fatalf("ApplyHumanAction: %v", err)
	}
	if updated.GameState.Status != "finished" {
		t.Fatalf("expected game finished after resignation")
	}
	if !persisted {
		t.Fatalf("expected PersistFinishedGame hook to fire")
	}
}

// TestHandleBotDisconnectAutoResignsActiveGames covers spec.md §4.5.5: a
// bot client that drops mid-game forfeits every game it was seated in.
func TestHandleBotDisconnectAutoResignsActiveGames(t *testing.T) {
	st := store.New()
	reg := botregistry.New("official-secret")
	bgsStore := bgsstore.New(false)
	hub := broadcast.NewHub()

	botCompositeID := "client-1:bot-1"
	sender := &fakeSender{onFrame: func(frame map[string]interface{}) interface{} {
		switch frame["type"] {
		case "start_game_session":
			return GameSessionStartedMsg{Type: "game_session_started", BgsID: frame["bgsId"].(string), Success: true}
		case "evaluate_position":
			return EvaluateResponseMsg{Type: "evaluate_response", BgsID: frame["bgsId"].(string), Ply: 0, BestMove: "3,2", Evaluation: 0, Success: true}
		}
		return nil
	}}
	engine := NewEngine(st, reg, bgsStore, hub, sender, Hooks{}, 0)
	sender.engine = engine
	sender.sock = NewBotSocket(0)
	sender.sock.SetAttached("client-1")

	if _, _, _, err := reg.RegisterClient("client-1", []botregistry.BotSpec{{
		BotID: "bot-1", Name: "Bot One",
		Variants: map[models.Variant]models.VariantRange{
			models.VariantStandard: {BoardWidthMin: 5, BoardWidthMax: 5, BoardHeightMin: 5, BoardHeightMax: 5},
		},
	}}); err != nil {
		t.Fatalf("RegisterClient: %v", err)
	}

	cfg := models.BoardConfig{BoardWidth: 5, BoardHeight: 5, WallsPerPlayer: 3}
	sess, _, _, err := st.CreateSession(cfg, models.VariantStandard, models.TimeControl{}, false, models.MatchTypeFriend,
		store.Identity{DisplayName: "host"}, &store.Identity{DisplayName: "Bot One", BotCompositeID: &botCompositeID}, 1)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := engine.InitBotGame(sess, sess.Joiner); err != nil {
		t.Fatalf("InitBotGame: %v", err)
	}

	bot, ok := reg.BotByCompositeID(botCompositeID)
	if !ok || len(bot.ActiveGames) != 1 {
		t.Fatalf("expected the seated bot to have one active game, got %+v", bot)
	}

	engine.HandleBotDisconnect("client-1")

	finished, err := st.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if finished.GameState.Status != "finished" {
		t.Fatalf("expected the game to be finished by auto-resignation, got %q", finished.GameState.Status)
	}
	if finished.GameState.Result == nil || finished.GameState.Result.Winner != sess.Host.PlayerID {
		t.Fatalf("expected the host to win by the bot's resignation, got %+v", finished.GameState.Result)
	}
	if _, stillRegistered := reg.Client("client-1"); stillRegistered {
		t.Fatalf("expected the disconnected client to be unregistered")
	}
}

func TestApplyHumanActionRejectsWrongTurn(t *testing.T) {
	st := store.New()
	cfg := models.BoardConfig{BoardWidth: 5, BoardHeight: 5, WallsPerPlayer: 3}
	sess, _, _, err := st.CreateSession(cfg, models.VariantStandard, models.TimeControl{}, false, models.MatchTypeFriend, store.Identity{DisplayName: "host"}, &store.Identity{DisplayName: "joiner"}, 1)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	engine := NewEngine(st, botregistry.New("secret"), bgsstore.New(false), broadcast.NewHub(), nil, Hooks{}, 0)
	wrongTurnPlayer := sess.Joiner.PlayerID
	if _, err := engine.ApplyHumanAction(sess.ID, wrongTurnPlayer, wallrules.Action{Kind: wallrules.ActionMove, ToRow: 0, ToCol: 0}); err != store.ErrWrongTurn {
		t.Fatalf("expected ErrWrongTurn, got %v", err)
	}
}
