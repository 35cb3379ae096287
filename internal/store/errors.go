package store

import "errors"

// Typed failure modes for C1 operations (spec.md §4.1). None of these kill
// the process; every store method returns one of these instead of panicking.
var (
	ErrNotFound        = errors.New("store: session not found")
	ErrCancelled       = errors.New("store: game was cancelled")
	ErrIllegalAction   = errors.New("store: illegal action for current game state")
	ErrWrongTurn       = errors.New("store: not this player's turn")
	ErrAlreadyFinished = errors.New("store: game already finished")
	ErrSeatTaken       = errors.New("store: seat already occupied")
	ErrNotYetFinished  = errors.New("store: previous game is not finished")
	ErrRematchExists   = errors.New("store: a rematch already exists for this series")
	ErrBadToken        = errors.New("store: token does not match any seat")
)
