// Package wallrules is the Wall Game rule engine: a pure function
// Apply(state, action) -> state' plus the board/action encodings it
// operates on. Spec.md §1 treats the rule engine as an external
// collaborator invoked by the store; this package is the concrete (if
// intentionally simple — tournament-strength play is explicitly out of
// scope) implementation that lets the rest of the system be exercised.
package wallrules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nmamano/wallgame-broker/internal/models"
)

var (
	ErrOutOfBounds    = errors.New("wallrules: move out of bounds")
	ErrCellOccupied   = errors.New("wallrules: destination occupied")
	ErrNotAdjacent    = errors.New("wallrules: destination not reachable in one step")
	ErrWallBlocked    = errors.New("wallrules: a wall blocks that path")
	ErrNoWallsLeft    = errors.New("wallrules: no walls remaining")
	ErrWallOverlaps   = errors.New("wallrules: wall overlaps an existing one")
	ErrWallOutOfRange = errors.New("wallrules: wall position out of range")
	ErrWallTrapsPlayer = errors.New("wallrules: wall would leave a player with no path to their goal")
)

// ActionKind discriminates the tagged Action union.
type ActionKind string

const (
	ActionMove      ActionKind = "move"
	ActionPlaceWall ActionKind = "placeWall"
	ActionResign    ActionKind = "resign"
	ActionDraw      ActionKind = "draw"
	ActionTakeback  ActionKind = "takeback"
	ActionGiveTime  ActionKind = "giveTime"
	ActionPass      ActionKind = "pass" // bot-protocol placeholder move, notation "---"
)

// Action is the tagged union of player actions (spec.md §4.1, §2 variant note).
type Action struct {
	Kind ActionKind

	// ActionMove
	ToRow, ToCol int

	// ActionPlaceWall
	WallRow, WallCol int
	Orientation      string // "h" | "v"

	// ActionDraw / ActionTakeback: sub-kind
	Offer, Accept, Decline bool

	// ActionGiveTime
	Seconds int
}

// NewBoard initializes a Board for the given config, pawns on opposite
// edges: host starts at the bottom-center, joiner at the top-center.
func NewBoard(cfg models.BoardConfig) models.Board {
	w, h := cfg.BoardWidth, cfg.BoardHeight
	return models.Board{
		Width:       w,
		Height:      h,
		PawnHost:    [2]int{h - 1, w / 2},
		PawnJoiner:  [2]int{0, w / 2},
		WallsHost:   cfg.WallsPerPlayer,
		WallsJoiner: cfg.WallsPerPlayer,
	}
}

// goalRow returns the row a playerId must reach to win.
func goalRow(playerID, height int) int {
	if playerID == 1 {
		return 0 // host starts at bottom, must reach row 0
	}
	return height - 1 // joiner starts at top, must reach the bottom row
}

func pawnOf(b *models.Board, playerID int) *[2]int {
	if playerID == 1 {
		return &b.PawnHost
	}
	return &b.PawnJoiner
}

func opponentPawnOf(b *models.Board, playerID int) [2]int {
	if playerID == 1 {
		return b.PawnJoiner
	}
	return b.PawnHost
}

// Apply mutates a copy of state according to action taken by playerID and
// returns the new state, or an error if the action is illegal. It never
// mutates its input in place. variant controls rule-engine branches that
// differ per spec.md §2 — currently just wall-path-validity checking.
func Apply(state models.GameState, variant models.Variant, playerID int, action Action) (models.GameState, error) {
	next := state
	next.Board.Placed = append([]models.Wall(nil), state.Board.Placed...)
	next.Moves = append([]models.MoveRecord(nil), state.Moves...)

	switch action.Kind {
	case ActionMove:
		if err := applyMove(&next, playerID, action); err != nil {
			return state, err
		}
	case ActionPass:
		next.Moves = append(next.Moves, models.MoveRecord{Ply: len(next.Moves), PlayerID: playerID, Notation: "---"})
	case ActionPlaceWall:
		if err := applyWall(&next, variant, playerID, action); err != nil {
			return state, err
		}
	case ActionResign:
		next.Status = "finished"
		winner := otherPlayer(playerID)
		next.Result = &models.Result{Winner: winner, Reason: "resignation"}
		return next, nil
	case ActionDraw:
		return applyDraw(next, playerID, action)
	case ActionTakeback:
		return applyTakeback(next, playerID, action)
	case ActionGiveTime:
		applyGiveTime(&next, playerID, action)
		return next, nil
	default:
		return state, fmt.Errorf("wallrules: unknown action kind %q", action.Kind)
	}

	// Win check: a pawn reaching its goal row ends the game immediately.
	if next.Board.PawnHost[0] == goalRow(1, next.Board.Height) {
		next.Status = "finished"
		next.Result = &models.Result{Winner: 1, Reason: "reached-goal"}
	} else if next.Board.PawnJoiner[0] == goalRow(2, next.Board.Height) {
		next.Status = "finished"
		next.Result = &models.Result{Winner: 2, Reason: "reached-goal"}
	} else {
		next.Turn = otherPlayer(playerID)
	}

	return next, nil
}

func otherPlayer(playerID int) int {
	if playerID == 1 {
		return 2
	}
	return 1
}

func applyMove(next *models.GameState, playerID int, action Action) error {
	b := &next.Board
	if action.ToRow < 0 || action.ToRow >= b.Height || action.ToCol < 0 || action.ToCol >= b.Width {
		return ErrOutOfBounds
	}
	pawn := pawnOf(b, playerID)
	opp := opponentPawnOf(b, playerID)
	if [2]int{action.ToRow, action.ToCol} == opp {
		return ErrCellOccupied
	}

	dr := abs(action.ToRow - pawn[0])
	dc := abs(action.ToCol - pawn[1])
	straightStep := (dr+dc == 1)
	jumpOverOpponent := isJumpOverOpponent(*pawn, opp, action.ToRow, action.ToCol)
	if !straightStep && !jumpOverOpponent {
		return ErrNotAdjacent
	}
	if wallBlocksStep(b, pawn[0], pawn[1], action.ToRow, action.ToCol) {
		return ErrWallBlocked
	}
	if jumpOverOpponent && (wallBlocksStep(b, pawn[0], pawn[1], opp[0], opp[1]) || wallBlocksStep(b, opp[0], opp[1], action.ToRow, action.ToCol)) {
		return ErrWallBlocked
	}

	pawn[0], pawn[1] = action.ToRow, action.ToCol
	next.Moves = append(next.Moves, models.MoveRecord{
		Ply:      len(next.Moves),
		PlayerID: playerID,
		Notation: fmt.Sprintf("%d,%d", action.ToRow, action.ToCol),
	})
	return nil
}

func isJumpOverOpponent(from, opp [2]int, toRow, toCol int) bool {
	midRow, midCol := (from[0]+toRow)/2, (from[1]+toCol)/2
	dr, dc := abs(toRow-from[0]), abs(toCol-from[1])
	return (dr == 2 && dc == 0 || dr == 0 && dc == 2) && midRow == opp[0] && midCol == opp[1]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func applyWall(next *models.GameState, variant models.Variant, playerID int, action Action) error {
	b := &next.Board
	walls := wallsRemaining(b, playerID)
	if walls <= 0 {
		return ErrNoWallsLeft
	}
	if action.Orientation != "h" && action.Orientation != "v" {
		return fmt.Errorf("wallrules: invalid orientation %q", action.Orientation)
	}
	if action.WallRow < 0 || action.WallRow >= b.Height-1 || action.WallCol < 0 || action.WallCol >= b.Width-1 {
		return ErrWallOutOfRange
	}
	for _, w := range b.Placed {
		if w.Row == action.WallRow && w.Col == action.WallCol {
			return ErrWallOverlaps
		}
		if w.Orientation == action.Orientation {
			if w.Orientation == "h" && w.Row == action.WallRow && abs(w.Col-action.WallCol) == 1 {
				return ErrWallOverlaps
			}
			if w.Orientation == "v" && w.Col == action.WallCol && abs(w.Row-action.WallRow) == 1 {
				return ErrWallOverlaps
			}
		}
	}

	candidate := models.Wall{Row: action.WallRow, Col: action.WallCol, Orientation: action.Orientation}
	b.Placed = append(b.Placed, candidate)

	if requiresPathValidity(variant) {
		if !hasPathToGoal(b, b.PawnHost, goalRow(1, b.Height)) || !hasPathToGoal(b, b.PawnJoiner, goalRow(2, b.Height)) {
			b.Placed = b.Placed[:len(b.Placed)-1]
			return ErrWallTrapsPlayer
		}
	}

	decrementWalls(b, playerID)
	next.Moves = append(next.Moves, models.MoveRecord{
		Ply:      len(next.Moves),
		PlayerID: playerID,
		Notation: fmt.Sprintf("wall:%d,%d,%s", action.WallRow, action.WallCol, action.Orientation),
	})
	return nil
}

// requiresPathValidity is false for the "classic" variant per SPEC_FULL §2:
// classic allows walls that fully trap a player, since the original game
// predates the no-trap rule.
func requiresPathValidity(variant models.Variant) bool {
	return variant != models.VariantClassic
}

func wallsRemaining(b *models.Board, playerID int) int {
	if playerID == 1 {
		return b.WallsHost
	}
	return b.WallsJoiner
}

func decrementWalls(b *models.Board, playerID int) {
	if playerID == 1 {
		b.WallsHost--
	} else {
		b.WallsJoiner--
	}
}

// wallBlocksStep reports whether a wall segment sits between two
// orthogonally-adjacent cells.
func wallBlocksStep(b *models.Board, fromRow, fromCol, toRow, toCol int) bool {
	if abs(toRow-fromRow)+abs(toCol-fromCol) != 1 {
		return false // jumps are only blocked transitively via the two straight steps; callers check those separately
	}
	for _, w := range b.Placed {
		if toRow == fromRow && toCol == fromCol+1 { // moving right
			if w.Orientation == "v" && w.Col == fromCol && (w.Row == fromRow || w.Row == fromRow-1) {
				return true
			}
		} else if toRow == fromRow && toCol == fromCol-1 { // moving left
			if w.Orientation == "v" && w.Col == toCol && (w.Row == fromRow || w.Row == fromRow-1) {
				return true
			}
		} else if toCol == fromCol && toRow == fromRow+1 { // moving down
			if w.Orientation == "h" && w.Row == fromRow && (w.Col == fromCol || w.Col == fromCol-1) {
				return true
			}
		} else if toCol == fromCol && toRow == fromRow-1 { // moving up
			if w.Orientation == "h" && w.Row == toRow && (w.Col == fromCol || w.Col == fromCol-1) {
				return true
			}
		}
	}
	return false
}

// hasPathToGoal runs a breadth-first search from start to any cell in the
// goal row, honoring placed walls.
func hasPathToGoal(b *models.Board, start [2]int, goalRow int) bool {
	visited := make(map[[2]int]bool)
	queue := [][2]int{start}
	visited[start] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur[0] == goalRow {
			return true
		}
		for _, d := range [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
			nr, nc := cur[0]+d[0], cur[1]+d[1]
			if nr < 0 || nr >= b.Height || nc < 0 || nc >= b.Width {
				continue
			}
			if visited[[2]int{nr, nc}] {
				continue
			}
			if wallBlocksStep(b, cur[0], cur[1], nr, nc) {
				continue
			}
			visited[[2]int{nr, nc}] = true
			queue = append(queue, [2]int{nr, nc})
		}
	}
	return false
}

func applyDraw(next models.GameState, playerID int, action Action) (models.GameState, error) {
	switch {
	case action.Offer:
		next.DrawOffer = &playerID
	case action.Accept:
		if next.DrawOffer == nil {
			return next, errors.New("wallrules: no draw offer pending")
		}
		next.DrawOffer = nil
		next.Status = "finished"
		next.Result = &models.Result{Winner: 0, Reason: "draw-agreement"}
	case action.Decline:
		next.DrawOffer = nil
	}
	return next, nil
}

func applyTakeback(next models.GameState, playerID int, action Action) (models.GameState, error) {
	switch {
	case action.Offer:
		next.TakebackOffer = &playerID
	case action.Accept:
		if next.TakebackOffer == nil || len(next.Moves) == 0 {
			return next, errors.New("wallrules: no takeback pending")
		}
		next.TakebackOffer = nil
		next.Moves = next.Moves[:len(next.Moves)-1]
		next.Turn = otherPlayer(next.Turn)
	case action.Decline:
		next.TakebackOffer = nil
	}
	return next, nil
}

func applyGiveTime(next *models.GameState, playerID int, action Action) {
	opponentClock := &next.ClockHost
	if playerID == 1 {
		opponentClock = &next.ClockJoiner
	}
	opponentClock.RemainingMs += int64(action.Seconds) * 1000
}

// ParseNotation turns a MoveRecord.Notation string back into an Action, the
// inverse of the notations applyMove/applyWall/ActionPass produce. Used by
// the protocol engine to turn a bot's evaluate_response.bestMove into an
// action it can hand to the store.
func ParseNotation(notation string) (Action, error) {
	if notation == "---" {
		return Action{Kind: ActionPass}, nil
	}
	if strings.HasPrefix(notation, "wall:") {
		var row, col int
		var orientation string
		if _, err := fmt.Sscanf(notation, "wall:%d,%d,%s", &row, &col, &orientation); err != nil {
			return Action{}, fmt.Errorf("wallrules: malformed wall notation %q: %w", notation, err)
		}
		return Action{Kind: ActionPlaceWall, WallRow: row, WallCol: col, Orientation: orientation}, nil
	}
	var row, col int
	if _, err := fmt.Sscanf(notation, "%d,%d", &row, &col); err != nil {
		return Action{}, fmt.Errorf("wallrules: malformed move notation %q: %w", notation, err)
	}
	return Action{Kind: ActionMove, ToRow: row, ToCol: col}, nil
}
