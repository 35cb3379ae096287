package models

import "time"

type BgsStatus string

const (
	BgsInitializing BgsStatus = "initializing"
	BgsReady        BgsStatus = "ready"
	BgsEnded        BgsStatus = "ended"
)

// EvalEntry is one ply's worth of engine output, appended to a BGS's
// history. Evaluation is clamped to [-1, +1] on receipt (spec.md §6.1).
type EvalEntry struct {
	Ply        int     `json:"ply"`
	Evaluation float64 `json:"evaluation"`
	BestMove   string  `json:"bestMove"`
}

// BgsConfig is the configuration handed to a bot in start_game_session.
type BgsConfig struct {
	Variant     Variant     `json:"variant"`
	Board       BoardConfig `json:"board"`
	InitialFEN  string      `json:"initialState"` // opaque encoded starting position
}

type PendingRequestType string

const (
	PendingStart      PendingRequestType = "start"
	PendingEval       PendingRequestType = "eval"
	PendingApplyMove  PendingRequestType = "applyMove"
	PendingEnd        PendingRequestType = "end"
)

// PendingBgsRequest is the single in-flight request slot for one BGS.
type PendingBgsRequest struct {
	Type        PendingRequestType
	ExpectedPly int
	CreatedAt   time.Time
}

// BotGameSession is a stateful per-(bot, game) sub-session (C3).
type BotGameSession struct {
	BgsID          string
	BotCompositeID string
	GameID         string
	Config         BgsConfig
	Status         BgsStatus
	History        []EvalEntry
	CurrentPly     int
	PendingRequest *PendingBgsRequest
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
