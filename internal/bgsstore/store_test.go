package bgsstore

import (
	"testing"

	"github.com/nmamano/wallgame-broker/internal/models"
)

func TestCreateRejectsDuplicateID(t *testing.T) {
	s := New(false)
	if _, err := s.Create("bgs1", "c1:a", "game1", models.BgsConfig{}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	bgs, err := s.Create("bgs1", "c1:a", "game1", models.BgsConfig{})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if bgs != nil {
		t.Fatalf("expected nil on duplicate bgsId")
	}
}

func TestCreateEnforcesCapacity(t *testing.T) {
	s := New(false)
	for i := 0; i < MaxSessions; i++ {
		id := string(rune(i)) + "-filler"
		if _, err := s.Create(id, "c1:a", "g", models.BgsConfig{}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	bgs, err := s.Create("overflow", "c1:a", "g", models.BgsConfig{})
	if err != nil {
		t.Fatalf("overflow create: %v", err)
	}
	if bgs != nil {
		t.Fatalf("expected nil at capacity")
	}
}

func TestMarkReadyOnlyFromInitializing(t *testing.T) {
	s := New(false)
	s.Create("bgs1", "c1:a", "game1", models.BgsConfig{})
	if err := s.MarkReady("bgs1"); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	if err := s.MarkReady("bgs1"); err != ErrWrongState {
		t.Fatalf("expected ErrWrongState on second MarkReady, got %v", err)
	}
}

func TestAppendHistoryPermissiveByDefault(t *testing.T) {
	s := New(false)
	s.Create("bgs1", "c1:a", "game1", models.BgsConfig{})
	if err := s.AppendHistory("bgs1", models.EvalEntry{Ply: 5, Evaluation: 0.1}); err != nil {
		t.Fatalf("expected permissive append to succeed despite ply mismatch, got %v", err)
	}
	bgs, _ := s.Get("bgs1")
	if len(bgs.History) != 1 {
		t.Fatalf("expected the entry to still be appended")
	}
}

func TestAppendHistoryStrictRejectsMismatch(t *testing.T) {
	s := New(true)
	s.Create("bgs1", "c1:a", "game1", models.BgsConfig{})
	if err := s.AppendHistory("bgs1", models.EvalEntry{Ply: 5}); err != ErrWrongState {
		t.Fatalf("expected ErrWrongState in strict mode, got %v", err)
	}
}

func TestPendingRequestSingleSlot(t *testing.T) {
	s := New(false)
	s.Create("bgs1", "c1:a", "game1", models.BgsConfig{})
	ok, err := s.SetPendingRequest("bgs1", models.PendingBgsRequest{Type: models.PendingEval})
	if err != nil || !ok {
		t.Fatalf("expected first SetPendingRequest to succeed, ok=%v err=%v", ok, err)
	}
	ok, err = s.SetPendingRequest("bgs1", models.PendingBgsRequest{Type: models.PendingEval})
	if err != nil {
		t.Fatalf("SetPendingRequest: %v", err)
	}
	if ok {
		t.Fatalf("expected second SetPendingRequest to fail while one is pending")
	}
	prev, err := s.ClearPendingRequest("bgs1")
	if err != nil || prev == nil {
		t.Fatalf("ClearPendingRequest: prev=%v err=%v", prev, err)
	}
	ok, err = s.SetPendingRequest("bgs1", models.PendingBgsRequest{Type: models.PendingStart})
	if err != nil || !ok {
		t.Fatalf("expected SetPendingRequest to succeed after clear, ok=%v err=%v", ok, err)
	}
}

func TestEndIsIdempotent(t *testing.T) {
	s := New(false)
	s.Create("bgs1", "c1:a", "game1", models.BgsConfig{})
	if _, ok := s.End("bgs1"); !ok {
		t.Fatalf("expected first End to succeed")
	}
	if _, ok := s.End("bgs1"); ok {
		t.Fatalf("expected second End to be a no-op")
	}
}

func TestEndAllForBot(t *testing.T) {
	s := New(false)
	s.Create("bgs1", "c1:a", "g1", models.BgsConfig{})
	s.Create("bgs2", "c1:a", "g2", models.BgsConfig{})
	s.Create("bgs3", "c1:b", "g3", models.BgsConfig{})
	ids := s.EndAllForBot("c1:a")
	if len(ids) != 2 {
		t.Fatalf("expected 2 ended sessions, got %d", len(ids))
	}
	if s.Count() != 1 {
		t.Fatalf("expected 1 remaining session, got %d", s.Count())
	}
}
