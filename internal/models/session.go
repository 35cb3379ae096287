// Package models holds the shared data types owned by the Game Session
// Store (C1), the Bot Registry (C2), and the BGS Store (C3).
package models

import "time"

type Variant string

const (
	VariantStandard  Variant = "standard"
	VariantClassic   Variant = "classic"
	VariantFreestyle Variant = "freestyle"
	VariantSurvival  Variant = "survival"
)

type MatchType string

const (
	MatchTypeFriend      MatchType = "friend"
	MatchTypeMatchmaking MatchType = "matchmaking"
)

type SessionStatus string

const (
	StatusWaiting    SessionStatus = "waiting"
	StatusReady      SessionStatus = "ready"
	StatusInProgress SessionStatus = "in-progress"
	StatusCompleted  SessionStatus = "completed"
)

type Role string

const (
	RoleHost   Role = "host"
	RoleJoiner Role = "joiner"
)

// TimeControl mirrors the teacher's base-time-plus-increment shape.
type TimeControl struct {
	BaseTimeMs  int64 `json:"baseTimeMs" bson:"baseTimeMs"`
	IncrementMs int64 `json:"incrementMs" bson:"incrementMs"`
}

func (tc TimeControl) IsUnlimited() bool { return tc.BaseTimeMs == 0 }

// Seat is one of the two player slots in a Session.
type Seat struct {
	Role            Role    `json:"role"`
	PlayerID        int     `json:"playerId"` // 1 or 2, unique per session
	Token           string  `json:"-"`        // REST seat capability
	SocketToken     string  `json:"-"`        // WS seat capability
	DisplayName     string  `json:"displayName"`
	Connected       bool    `json:"connected"`
	Ready           bool    `json:"ready"`
	Appearance      string  `json:"appearance,omitempty"`
	AuthUserID      *string `json:"authUserId,omitempty"`
	BotCompositeID  *string `json:"botCompositeId,omitempty"`
	RatingAtStart   int     `json:"ratingAtStart"`
}

func (s *Seat) IsBot() bool { return s.BotCompositeID != nil }

// MatchScore is the cumulative score for one role across a rematch series.
type MatchScore struct {
	Host   int `json:"host"`
	Joiner int `json:"joiner"`
}

type Result struct {
	Winner int    `json:"winner"` // 1 or 2; 0 = draw
	Reason string `json:"reason"` // "resignation", "timeout", "checkmate"-equivalent win, "draw-agreement", etc.
}

type PlayerClock struct {
	RemainingMs int64 `json:"remainingMs"`
	LastMoveAt  int64 `json:"lastMoveAt"` // unix ms
}

// Wall is a single placed wall segment. Orientation "h" spans two cells
// horizontally from (Row, Col); "v" spans two cells vertically.
type Wall struct {
	Row         int    `json:"row"`
	Col         int    `json:"col"`
	Orientation string `json:"orientation"` // "h" | "v"
}

// Board is the Wall Game grid: two pawns and the walls placed so far. Plain
// data only — internal/wallrules is the sole mutator, via Apply.
type Board struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	PawnHost      [2]int `json:"pawnHost"`   // [row, col]
	PawnJoiner    [2]int `json:"pawnJoiner"`
	WallsHost     int    `json:"wallsHost"`   // walls remaining
	WallsJoiner   int    `json:"wallsJoiner"`
	Placed        []Wall `json:"placed"`
}

// GameState is the Wall Game's mutable board + clock + lifecycle state.
type GameState struct {
	Turn          int         `json:"turn"` // 1 or 2, whose turn it is
	Board         Board       `json:"board"`
	Moves         []MoveRecord `json:"moves"`
	ClockHost     PlayerClock `json:"clockHost"`
	ClockJoiner   PlayerClock `json:"clockJoiner"`
	Status        string      `json:"status"` // "playing" | "finished"
	Result        *Result     `json:"result,omitempty"`
	DrawOffer     *int        `json:"drawOffer,omitempty"`     // playerId of offerer, nil if none pending
	TakebackOffer *int        `json:"takebackOffer,omitempty"` // playerId of requester
}

// MoveRecord is one applied action, append-only except across a takeback.
type MoveRecord struct {
	Ply       int    `json:"ply"`
	PlayerID  int    `json:"playerId"`
	Notation  string `json:"notation"` // e.g. "e2e4" pawn move or "h3v" wall placement
	CreatedAt int64  `json:"createdAt"`
}

// BoardConfig describes the board dimensions and wall allotment for a
// variant, shared between a Session's configuration and a Bot's declared
// supported range (models.VariantRange).
type BoardConfig struct {
	BoardWidth      int `json:"boardWidth"`
	BoardHeight     int `json:"boardHeight"`
	WallsPerPlayer  int `json:"wallsPerPlayer"`
}

// Session is one game, owned exclusively by the Game Session Store (C1).
type Session struct {
	ID             string        `json:"id"`
	SeriesID       string        `json:"seriesId"`
	RematchNumber  int           `json:"rematchNumber"`
	Variant        Variant       `json:"variant"`
	Board          BoardConfig   `json:"board"`
	TimeControl    TimeControl   `json:"timeControl"`
	Rated          bool          `json:"rated"`
	MatchType      MatchType     `json:"matchType"`
	Host           Seat          `json:"host"`
	Joiner         Seat          `json:"joiner"`
	Status         SessionStatus `json:"status"`
	Cancelled      bool          `json:"cancelled"`
	GameState      GameState     `json:"gameState"`
	MatchScore     MatchScore    `json:"matchScore"`
	SpectatorCount int           `json:"spectatorCount"`

	StartedAt *time.Time `json:"startedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`

	// lastScoredGameInstanceId guards against double-scoring a finished
	// game into MatchScore (idempotence per spec.md §3.1).
	lastScoredGameInstanceID string
}

// SeatByPlayerID returns a pointer to the seat with the given playerId, or
// nil. Used throughout the store to avoid duplicating the host/joiner switch.
func (s *Session) SeatByPlayerID(playerID int) *Seat {
	if s.Host.PlayerID == playerID {
		return &s.Host
	}
	if s.Joiner.PlayerID == playerID {
		return &s.Joiner
	}
	return nil
}

func (s *Session) OpponentSeat(playerID int) *Seat {
	if s.Host.PlayerID == playerID {
		return &s.Joiner
	}
	if s.Joiner.PlayerID == playerID {
		return &s.Host
	}
	return nil
}

// MarkScored records that gameInstanceID has already contributed to
// MatchScore, returning false if it was already recorded (idempotence).
func (s *Session) MarkScored(gameInstanceID string) bool {
	if s.lastScoredGameInstanceID == gameInstanceID {
		return false
	}
	s.lastScoredGameInstanceID = gameInstanceID
	return true
}
