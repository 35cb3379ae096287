package protocol

import (
	"testing"
	"time"

	"github.com/nmamano/wallgame-broker/internal/bgsstore"
	"github.com/nmamano/wallgame-broker/internal/models"
)

func newTestCorrelator(t *testing.T) (*Correlator, *bgsstore.Store, string) {
	t.Helper()
	store := bgsstore.New(false)
	bgsID := "bgs-1"
	if _, err := store.Create(bgsID, "client-1:bot-1", "game-1", models.BgsConfig{}); err != nil {
		t.Fatalf("create bgs: %v", err)
	}
	return NewCorrelator(store, 0), store, bgsID
}

func TestCorrelatorBeginRejectsDoublePending(t *testing.T) {
	c, _, bgsID := newTestCorrelator(t)
	if _, err := c.Begin(bgsID, models.PendingEval, 0); err != nil {
		t.Fatalf("first begin: %v", err)
	}
	if _, err := c.Begin(bgsID, models.PendingEval, 0); err != ErrAlreadyPending {
		t.Fatalf("expected ErrAlreadyPending, got %v", err)
	}
}

func TestCorrelatorResolveDeliversPayload(t *testing.T) {
	c, _, bgsID := newTestCorrelator(t)
	ch, err := c.Begin(bgsID, models.PendingEval, 2)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	resp := EvaluateResponseMsg{Ply: 2, BestMove: "3,2", Success: true}
	if err := c.Resolve(bgsID, resp, 2); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	result := <-ch
	got, ok := result.Payload.(EvaluateResponseMsg)
	if !ok || got.BestMove != "3,2" {
		t.Fatalf("unexpected resolved payload: %+v", result)
	}
}

func TestCorrelatorResolveWithoutPendingIsError(t *testing.T) {
	c, _, bgsID := newTestCorrelator(t)
	if err := c.Resolve(bgsID, EvaluateResponseMsg{}, 0); err != ErrNoPendingCall {
		t.Fatalf("expected ErrNoPendingCall, got %v", err)
	}
}

func TestCorrelatorReject(t *testing.T) {
	c, _, bgsID := newTestCorrelator(t)
	ch, err := c.Begin(bgsID, models.PendingApplyMove, 1)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	c.Reject(bgsID, ErrBotClientDisconnected)
	result := <-ch
	if result.Err != ErrBotClientDisconnected {
		t.Fatalf("expected ErrBotClientDisconnected, got %v", result.Err)
	}
}

func TestCorrelatorHasPending(t *testing.T) {
	c, _, bgsID := newTestCorrelator(t)
	if c.HasPending(bgsID) {
		t.Fatalf("expected no pending call yet")
	}
	if _, err := c.Begin(bgsID, models.PendingStart, 0); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if !c.HasPending(bgsID) {
		t.Fatalf("expected a pending call after Begin")
	}
}

func TestCorrelatorEndGameSessionTimeoutResolvesSuccess(t *testing.T) {
	c, _, bgsID := newTestCorrelator(t)
	ch, err := c.Begin(bgsID, models.PendingEnd, 0)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	c.timeoutCall(bgsID)
	select {
	case result := <-ch:
		if result.Err != nil {
			t.Fatalf("expected end_game_session timeout to resolve as success, got %v", result.Err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for timeout resolution")
	}
}
