package protocol

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nmamano/wallgame-broker/internal/bgsstore"
	"github.com/nmamano/wallgame-broker/internal/botregistry"
	"github.com/nmamano/wallgame-broker/internal/broadcast"
	"github.com/nmamano/wallgame-broker/internal/models"
	"github.com/nmamano/wallgame-broker/internal/store"
	"github.com/nmamano/wallgame-broker/internal/wallrules"
)

func newEvalTestEngine(t *testing.T) (*Engine, *store.Store, *botregistry.Registry) {
	t.Helper()
	st := store.New()
	reg := botregistry.New("official-secret")
	bgs := bgsstore.New(false)
	hub := broadcast.NewHub()

	officialToken := "official-secret"
	specs := []botregistry.BotSpec{{
		BotID:         "eval-bot",
		Name:          "Eval Bot",
		OfficialToken: &officialToken,
		Variants: map[models.Variant]models.VariantRange{
			models.VariantStandard: {BoardWidthMin: 3, BoardWidthMax: 9, BoardHeightMin: 3, BoardHeightMax: 9},
		},
	}}
	if _, _, _, err := reg.RegisterClient("eval-client", specs); err != nil {
		t.Fatalf("register eval bot: %v", err)
	}

	sender := &fakeSender{onFrame: func(frame map[string]interface{}) interface{} {
		switch frame["type"] {
		case "start_game_session":
			return GameSessionStartedMsg{Type: "game_session_started", BgsID: frame["bgsId"].(string), Success: true}
		case "evaluate_position":
			ply := int(frame["expectedPly"].(float64))
			return EvaluateResponseMsg{Type: "evaluate_response", BgsID: frame["bgsId"].(string), Ply: ply, BestMove: "0,0", Evaluation: 0, Success: true}
		case "apply_move":
			return MoveAppliedMsg{Type: "move_applied", BgsID: frame["bgsId"].(string), Ply: int(frame["expectedPly"].(float64)), Success: true}
		case "end_game_session":
			return GameSessionEndedMsg{Type: "game_session_ended", BgsID: frame["bgsId"].(string), Success: true}
		}
		return nil
	}}
	engine := NewEngine(st, reg, bgs, hub, sender, Hooks{}, 0)
	sender.engine = engine
	sender.sock = NewBotSocket(0)
	sender.sock.SetAttached("eval-client")
	return engine, st, reg
}

func collectFrames(t *testing.T, engine *Engine, msg EvalHandshakeMsg) []map[string]interface{} {
	t.Helper()
	var frames []map[string]interface{}
	engine.HandleEvalHandshake(msg, func(raw []byte) error {
		var decoded map[string]interface{}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("unmarshal outbound frame: %v", err)
		}
		frames = append(frames, decoded)
		return nil
	})
	return frames
}

func TestReplayFinishedGameEval(t *testing.T) {
	engine, st, _ := newEvalTestEngine(t)
	cfg := models.BoardConfig{BoardWidth: 5, BoardHeight: 5, WallsPerPlayer: 2}
	tc := models.TimeControl{}
	session, _, _, err := st.CreateSession(cfg, models.VariantStandard, tc, false, models.MatchTypeFriend,
		store.Identity{DisplayName: "host"}, &store.Identity{DisplayName: "joiner"}, 1)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := st.ApplyAction(session.ID, 1, wallrules.Action{Kind: wallrules.ActionResign}); err != nil {
		t.Fatalf("resign: %v", err)
	}

	frames := collectFrames(t, engine, EvalHandshakeMsg{Type: "eval-handshake", GameID: session.ID, Variant: "standard", BoardWidth: 5, BoardHeight: 5})

	var sawHistory bool
	for _, f := range frames {
		if f["type"] == "eval-history" {
			sawHistory = true
			entries, ok := f["entries"].([]interface{})
			if !ok || len(entries) != 1 {
				t.Fatalf("expected one history entry (ply 0), got %+v", f["entries"])
			}
		}
	}
	if !sawHistory {
		t.Fatalf("expected an eval-history frame, got %+v", frames)
	}
}

func TestHandleEvalHandshakeRejectsRatedHumanGame(t *testing.T) {
	engine, st, _ := newEvalTestEngine(t)
	cfg := models.BoardConfig{BoardWidth: 5, BoardHeight: 5, WallsPerPlayer: 2}
	tc := models.TimeControl{}
	session, _, _, err := st.CreateSession(cfg, models.VariantStandard, tc, true, models.MatchTypeFriend,
		store.Identity{DisplayName: "host"}, &store.Identity{DisplayName: "joiner"}, 1)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	// A move kicks the session into in-progress.
	if _, err := st.ApplyAction(session.ID, 1, wallrules.Action{Kind: wallrules.ActionMove, ToRow: 3, ToCol: 2}); err != nil {
		t.Fatalf("apply move: %v", err)
	}

	frames := collectFrames(t, engine, EvalHandshakeMsg{Type: "eval-handshake", GameID: session.ID, Variant: "standard", BoardWidth: 5, BoardHeight: 5})
	var rejected bool
	for _, f := range frames {
		if f["type"] == "eval-handshake-rejected" && f["code"] == EvalCodeRatedPlayer {
			rejected = true
		}
	}
	if !rejected {
		t.Fatalf("expected eval-handshake-rejected with RATED_PLAYER, got %+v", frames)
	}
}

// TestStreamSharedEvalAmortizesConcurrentSubscribers covers spec.md §4.5.3's
// shared-BGS amortization: two simultaneous subscribers to the same
// unrated, in-progress, human-vs-human game must trigger exactly one
// start_game_session, with the second subscriber receiving the first's
// replayed history instead of driving its own.
func TestStreamSharedEvalAmortizesConcurrentSubscribers(t *testing.T) {
	st := store.New()
	reg := botregistry.New("official-secret")
	bgs := bgsstore.New(false)
	hub := broadcast.NewHub()

	officialToken := "official-secret"
	specs := []botregistry.BotSpec{{
		BotID: "eval-bot", Name: "Eval Bot", OfficialToken: &officialToken,
		Variants: map[models.Variant]models.VariantRange{
			models.VariantStandard: {BoardWidthMin: 3, BoardWidthMax: 9, BoardHeightMin: 3, BoardHeightMax: 9},
		},
	}}
	if _, _, _, err := reg.RegisterClient("eval-client", specs); err != nil {
		t.Fatalf("register eval bot: %v", err)
	}

	var startCalls int32
	gate := make(chan struct{})
	sender := &fakeSender{onFrame: func(frame map[string]interface{}) interface{} {
		switch frame["type"] {
		case "start_game_session":
			atomic.AddInt32(&startCalls, 1)
			<-gate
			return GameSessionStartedMsg{Type: "game_session_started", BgsID: frame["bgsId"].(string), Success: true}
		case "evaluate_position":
			ply := int(frame["expectedPly"].(float64))
			return EvaluateResponseMsg{Type: "evaluate_response", BgsID: frame["bgsId"].(string), Ply: ply, BestMove: "0,0", Evaluation: 0, Success: true}
		case "apply_move":
			return MoveAppliedMsg{Type: "move_applied", BgsID: frame["bgsId"].(string), Ply: int(frame["expectedPly"].(float64)), Success: true}
		}
		return nil
	}}
	engine := NewEngine(st, reg, bgs, hub, sender, Hooks{}, 0)
	sender.engine = engine
	sender.sock = NewBotSocket(0)
	sender.sock.SetAttached("eval-client")

	cfg := models.BoardConfig{BoardWidth: 5, BoardHeight: 5, WallsPerPlayer: 2}
	session, _, _, err := st.CreateSession(cfg, models.VariantStandard, models.TimeControl{}, false, models.MatchTypeFriend,
		store.Identity{DisplayName: "host"}, &store.Identity{DisplayName: "joiner"}, 1)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := st.ApplyAction(session.ID, 1, wallrules.Action{Kind: wallrules.ActionMove, ToRow: 3, ToCol: 2}); err != nil {
		t.Fatalf("apply move: %v", err)
	}
	session, err = st.GetSession(session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}

	collect := func(dst *[]map[string]interface{}, mu *sync.Mutex) func([]byte) error {
		return func(raw []byte) error {
			var decoded map[string]interface{}
			if err := json.Unmarshal(raw, &decoded); err != nil {
				t.Fatalf("unmarshal outbound frame: %v", err)
			}
			mu.Lock()
			*dst = append(*dst, decoded)
			mu.Unlock()
			return nil
		}
	}

	var firstFrames, secondFrames []map[string]interface{}
	var firstMu, secondMu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.HandleEvalHandshake(EvalHandshakeMsg{Type: "eval-handshake", GameID: session.ID, Variant: "standard", BoardWidth: 5, BoardHeight: 5}, collect(&firstFrames, &firstMu))
	}()

	// Wait for the first subscriber to register the shared entry and block
	// inside its bot round trip before starting the second.
	deadline := time.Now().Add(2 * time.Second)
	for {
		engine.eval.mu.Lock()
		_, ok := engine.eval.shared[session.ID]
		engine.eval.mu.Unlock()
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for the shared eval entry to appear")
		}
		time.Sleep(time.Millisecond)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.HandleEvalHandshake(EvalHandshakeMsg{Type: "eval-handshake", GameID: session.ID, Variant: "standard", BoardWidth: 5, BoardHeight: 5}, collect(&secondFrames, &secondMu))
	}()

	// Wait until the second subscriber has actually queued as a waiter
	// before releasing the first, so this test exercises the waiter path
	// rather than racing ahead to find the shared BGS already ready.
	deadline = time.Now().Add(2 * time.Second)
	for {
		engine.eval.mu.Lock()
		shared, ok := engine.eval.shared[session.ID]
		engine.eval.mu.Unlock()
		if ok {
			shared.mu.Lock()
			waiting := len(shared.waiters) > 0
			shared.mu.Unlock()
			if waiting {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for the second subscriber to queue as a waiter")
		}
		time.Sleep(time.Millisecond)
	}

	close(gate)
	wg.Wait()

	if got := atomic.LoadInt32(&startCalls); got != 1 {
		t.Fatalf("expected exactly one start_game_session call, got %d", got)
	}

	historyOf := func(frames []map[string]interface{}) []interface{} {
		for _, f := range frames {
			if f["type"] == "eval-history" {
				entries, _ := f["entries"].([]interface{})
				return entries
			}
		}
		return nil
	}

	firstHistory := historyOf(firstFrames)
	secondHistory := historyOf(secondFrames)
	if firstHistory == nil || secondHistory == nil {
		t.Fatalf("expected both subscribers to receive an eval-history frame, got first=%+v second=%+v", firstFrames, secondFrames)
	}
	if len(firstHistory) != len(secondHistory) || len(firstHistory) != 2 {
		t.Fatalf("expected both subscribers to see the same 2-entry history (ply 0 and ply 1), got first=%d second=%d", len(firstHistory), len(secondHistory))
	}
}

func TestHandleEvalHandshakeUnknownGame(t *testing.T) {
	engine, _, _ := newEvalTestEngine(t)
	frames := collectFrames(t, engine, EvalHandshakeMsg{Type: "eval-handshake", GameID: "nonexistent"})
	if len(frames) != 1 || frames[0]["type"] != "eval-handshake-rejected" || frames[0]["code"] != EvalCodeGameNotFound {
		t.Fatalf("expected a single GAME_NOT_FOUND rejection, got %+v", frames)
	}
}
