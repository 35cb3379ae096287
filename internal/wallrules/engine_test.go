package wallrules

import (
	"testing"

	"github.com/nmamano/wallgame-broker/internal/models"
)

func newState(cfg models.BoardConfig) models.GameState {
	return models.GameState{
		Turn:   1,
		Board:  NewBoard(cfg),
		Status: "playing",
	}
}

func TestApplyMoveStraightStep(t *testing.T) {
	cfg := models.BoardConfig{BoardWidth: 5, BoardHeight: 5, WallsPerPlayer: 2}
	state := newState(cfg)
	// Host starts at (4,2); one step up to (3,2) is legal.
	next, err := Apply(state, models.VariantStandard, 1, Action{Kind: ActionMove, ToRow: 3, ToCol: 2})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if next.Board.PawnHost != [2]int{3, 2} {
		t.Fatalf("expected pawn at (3,2), got %v", next.Board.PawnHost)
	}
	if next.Turn != 2 {
		t.Fatalf("expected turn to flip to player 2, got %d", next.Turn)
	}
}

func TestApplyMoveRejectsNonAdjacent(t *testing.T) {
	cfg := models.BoardConfig{BoardWidth: 5, BoardHeight: 5, WallsPerPlayer: 2}
	state := newState(cfg)
	if _, err := Apply(state, models.VariantStandard, 1, Action{Kind: ActionMove, ToRow: 0, ToCol: 0}); err != ErrNotAdjacent {
		t.Fatalf("expected ErrNotAdjacent, got %v", err)
	}
}

func TestApplyMoveRejectsOutOfBounds(t *testing.T) {
	cfg := models.BoardConfig{BoardWidth: 5, BoardHeight: 5, WallsPerPlayer: 2}
	state := newState(cfg)
	if _, err := Apply(state, models.VariantStandard, 1, Action{Kind: ActionMove, ToRow: -1, ToCol: 2}); err != ErrOutOfBounds {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestReachingGoalRowWins(t *testing.T) {
	cfg := models.BoardConfig{BoardWidth: 3, BoardHeight: 3, WallsPerPlayer: 0}
	state := newState(cfg)
	state.Board.PawnHost = [2]int{1, 1}
	state.Board.PawnJoiner = [2]int{0, 0} // clear (0,1), the joiner's start square
	next, err := Apply(state, models.VariantStandard, 1, Action{Kind: ActionMove, ToRow: 0, ToCol: 1})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if next.Status != "finished" {
		t.Fatalf("expected finished status on reaching the goal row")
	}
	if next.Result == nil || next.Result.Winner != 1 {
		t.Fatalf("expected player 1 to win, got %+v", next.Result)
	}
}

func TestApplyWallDecrementsCountAndBlocksPath(t *testing.T) {
	cfg := models.BoardConfig{BoardWidth: 5, BoardHeight: 5, WallsPerPlayer: 2}
	state := newState(cfg)
	next, err := Apply(state, models.VariantStandard, 1, Action{Kind: ActionPlaceWall, WallRow: 3, WallCol: 1, Orientation: "h"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if next.Board.WallsHost != 1 {
		t.Fatalf("expected one wall consumed, got %d remaining", next.Board.WallsHost)
	}
	if !wallBlocksStep(&next.Board, 4, 1, 3, 1) {
		t.Fatalf("expected the placed wall to block the step it spans")
	}
}

func TestApplyWallRejectsOverlap(t *testing.T) {
	cfg := models.BoardConfig{BoardWidth: 5, BoardHeight: 5, WallsPerPlayer: 2}
	state := newState(cfg)
	next, err := Apply(state, models.VariantStandard, 1, Action{Kind: ActionPlaceWall, WallRow: 3, WallCol: 1, Orientation: "h"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := Apply(next, models.VariantStandard, 2, Action{Kind: ActionPlaceWall, WallRow: 3, WallCol: 1, Orientation: "h"}); err != ErrWallOverlaps {
		t.Fatalf("expected ErrWallOverlaps, got %v", err)
	}
}

func TestApplyWallRejectsNoWallsLeft(t *testing.T) {
	cfg := models.BoardConfig{BoardWidth: 5, BoardHeight: 5, WallsPerPlayer: 0}
	state := newState(cfg)
	if _, err := Apply(state, models.VariantStandard, 1, Action{Kind: ActionPlaceWall, WallRow: 1, WallCol: 1, Orientation: "h"}); err != ErrNoWallsLeft {
		t.Fatalf("expected ErrNoWallsLeft, got %v", err)
	}
}

func TestResignEndsGameImmediately(t *testing.T) {
	cfg := models.BoardConfig{BoardWidth: 5, BoardHeight: 5, WallsPerPlayer: 2}
	state := newState(cfg)
	next, err := Apply(state, models.VariantStandard, 1, Action{Kind: ActionResign})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if next.Status != "finished" || next.Result.Winner != 2 || next.Result.Reason != "resignation" {
		t.Fatalf("unexpected resign result: %+v", next.Result)
	}
}

func TestParseNotationRoundTrip(t *testing.T) {
	cases := []struct {
		notation string
		want     Action
	}{
		{"---", Action{Kind: ActionPass}},
		{"3,2", Action{Kind: ActionMove, ToRow: 3, ToCol: 2}},
		{"wall:1,2,h", Action{Kind: ActionPlaceWall, WallRow: 1, WallCol: 2, Orientation: "h"}},
	}
	for _, tc := range cases {
		got, err := ParseNotation(tc.notation)
		if err != nil {
			t.Fatalf("ParseNotation(%q): %v", tc.notation, err)
		}
		if got != tc.want {
			t.Fatalf("ParseNotation(%q) = %+v, want %+v", tc.notation, got, tc.want)
		}
	}
}

func TestApplyWallRejectsTrapInStandardVariant(t *testing.T) {
	// A 2-wide board lets a single horizontal wall seal off an entire row:
	// placed at row 1, it blocks both columns between rows 1 and 2, leaving
	// the host pawn (row 2) with no path to its goal row.
	cfg := models.BoardConfig{BoardWidth: 2, BoardHeight: 3, WallsPerPlayer: 1}
	state := newState(cfg)
	if _, err := Apply(state, models.VariantStandard, 2, Action{Kind: ActionPlaceWall, WallRow: 1, WallCol: 0, Orientation: "h"}); err != ErrWallTrapsPlayer {
		t.Fatalf("expected ErrWallTrapsPlayer, got %v", err)
	}
}

func TestApplyWallAllowsTrapInClassicVariant(t *testing.T) {
	cfg := models.BoardConfig{BoardWidth: 2, BoardHeight: 3, WallsPerPlayer: 1}
	state := newState(cfg)
	next, err := Apply(state, models.VariantClassic, 2, Action{Kind: ActionPlaceWall, WallRow: 1, WallCol: 0, Orientation: "h"})
	if err != nil {
		t.Fatalf("expected the classic variant to allow a trapping wall, got %v", err)
	}
	if next.Board.WallsJoiner != 0 {
		t.Fatalf("expected the wall to be consumed, got %d remaining", next.Board.WallsJoiner)
	}
}

func TestApplyDrawAgreement(t *testing.T) {
	cfg := models.BoardConfig{BoardWidth: 5, BoardHeight: 5, WallsPerPlayer: 2}
	state := newState(cfg)
	offered, err := Apply(state, models.VariantStandard, 1, Action{Kind: ActionDraw, Offer: true})
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if offered.DrawOffer == nil || *offered.DrawOffer != 1 {
		t.Fatalf("expected draw offer recorded for player 1")
	}
	accepted, err := Apply(offered, models.VariantStandard, 2, Action{Kind: ActionDraw, Accept: true})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != "finished" || accepted.Result.Winner != 0 {
		t.Fatalf("expected a drawn result, got %+v", accepted.Result)
	}
}
