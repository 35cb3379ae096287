// Package protocol is the Protocol Engine (C5): it parses the bot and
// eval WebSocket frames, drives the bot attach state machine, correlates
// BGS requests with their responses, and orchestrates C1-C4 to serve
// move flow, eval-bar streaming, and bot disconnect cleanup.
package protocol

// ProtocolVersion is the only bot-wire version this engine accepts
// (spec.md §4.5.1).
const ProtocolVersion = 3

const (
	MaxFrameBytes              = 65536
	MinClientMessageIntervalMs = 200
	UnexpectedMessageLimit     = 100
	BgsRequestTimeout          = 10 // seconds
)

// Frame is the minimal envelope every inbound/outbound bot message shares;
// callers re-decode the full payload once Type is known.
type Frame struct {
	Type string `json:"type"`
}

// --- client -> server (bot socket) ---

type AttachMessage struct {
	Type            string         `json:"type"`
	ProtocolVersion int            `json:"protocolVersion"`
	ClientID        string         `json:"clientId"`
	Client          ClientInfo     `json:"client"`
	Bots            []BotConfigMsg `json:"bots"`
}

type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type VariantRangeMsg struct {
	BoardWidth  MinMax            `json:"boardWidth"`
	BoardHeight MinMax            `json:"boardHeight"`
	Recommended []RecommendedSize `json:"recommended,omitempty"`
}

type MinMax struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type RecommendedSize struct {
	BoardWidth  int `json:"boardWidth"`
	BoardHeight int `json:"boardHeight"`
}

type BotConfigMsg struct {
	BotID         string                     `json:"botId"`
	Name          string                     `json:"name"`
	OfficialToken *string                    `json:"officialToken,omitempty"`
	Username      *string                    `json:"username"`
	Appearance    string                     `json:"appearance,omitempty"`
	Variants      map[string]VariantRangeMsg `json:"variants"`
}

type GameSessionStartedMsg struct {
	Type    string `json:"type"`
	BgsID   string `json:"bgsId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type GameSessionEndedMsg struct {
	Type    string `json:"type"`
	BgsID   string `json:"bgsId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type EvaluateResponseMsg struct {
	Type       string  `json:"type"`
	BgsID      string  `json:"bgsId"`
	Ply        int     `json:"ply"`
	BestMove   string  `json:"bestMove"`
	Evaluation float64 `json:"evaluation"`
	Success    bool    `json:"success"`
	Error      string  `json:"error,omitempty"`
}

type MoveAppliedMsg struct {
	Type    string `json:"type"`
	BgsID   string `json:"bgsId"`
	Ply     int    `json:"ply"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// --- server -> client (bot socket) ---

type AttachedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion int    `json:"protocolVersion"`
	ServerTime      int64  `json:"serverTime"`
	Server          string `json:"server"`
	Limits          Limits `json:"limits"`
}

type Limits struct {
	MaxMessageBytes            int `json:"maxMessageBytes"`
	MinClientMessageIntervalMs int `json:"minClientMessageIntervalMs"`
}

// Attach rejection codes, in the validation order spec.md §4.5.1 mandates.
const (
	CodeProtocolUnsupported = "PROTOCOL_UNSUPPORTED"
	CodeInvalidMessage      = "INVALID_MESSAGE"
	CodeNoBots              = "NO_BOTS"
	CodeInvalidBotConfig    = "INVALID_BOT_CONFIG"
	CodeDuplicateBotID      = "DUPLICATE_BOT_ID"
	CodeInvalidOfficial     = "INVALID_OFFICIAL_TOKEN"
	CodeTooManyClients      = "TOO_MANY_CLIENTS"
)

type AttachRejectedMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type StartGameSessionMsg struct {
	Type   string      `json:"type"`
	BgsID  string      `json:"bgsId"`
	BotID  string      `json:"botId"`
	Config interface{} `json:"config"`
}

type EndGameSessionMsg struct {
	Type  string `json:"type"`
	BgsID string `json:"bgsId"`
}

type EvaluatePositionMsg struct {
	Type        string `json:"type"`
	BgsID       string `json:"bgsId"`
	ExpectedPly int    `json:"expectedPly"`
}

type ApplyMoveMsg struct {
	Type        string `json:"type"`
	BgsID       string `json:"bgsId"`
	ExpectedPly int    `json:"expectedPly"`
	Move        string `json:"move"`
}

// --- eval socket ---

type EvalHandshakeMsg struct {
	Type        string `json:"type"`
	GameID      string `json:"gameId"`
	Variant     string `json:"variant"`
	BoardWidth  int    `json:"boardWidth"`
	BoardHeight int    `json:"boardHeight"`
}

const (
	EvalCodeNoBot         = "NO_BOT"
	EvalCodeRatedPlayer   = "RATED_PLAYER"
	EvalCodeGameNotFound  = "GAME_NOT_FOUND"
	EvalCodeInternalError = "INTERNAL_ERROR"
)

type EvalHandshakeAcceptedMsg struct {
	Type string `json:"type"`
}

type EvalHandshakeRejectedMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type EvalPendingMsg struct {
	Type       string `json:"type"`
	TotalMoves int    `json:"totalMoves"`
}

type EvalHistoryEntryMsg struct {
	Ply        int     `json:"ply"`
	Evaluation float64 `json:"evaluation"`
	BestMove   string  `json:"bestMove"`
}

type EvalHistoryMsg struct {
	Type    string                 `json:"type"`
	Entries []EvalHistoryEntryMsg `json:"entries"`
}

type EvalUpdateMsg struct {
	Type       string  `json:"type"`
	Ply        int     `json:"ply"`
	Evaluation float64 `json:"evaluation"`
	BestMove   string  `json:"bestMove"`
}

type EvalErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PongMsg struct {
	Type string `json:"type"`
}

// --- game:<id> / lobby / live topics (§6.3, §4.4) ---

type StateMsg struct {
	Type    string      `json:"type"`
	Session interface{} `json:"session"`
}

type MatchStatusMsg struct {
	Type         string      `json:"type"`
	Session      interface{} `json:"session"`
	HostNewElo   *int        `json:"hostNewElo,omitempty"`
	JoinerNewElo *int        `json:"joinerNewElo,omitempty"`
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type LiveUpsertMsg struct {
	Type string      `json:"type"`
	Game interface{} `json:"game"`
}

type LiveRemoveMsg struct {
	Type   string `json:"type"`
	GameID string `json:"gameId"`
}

// RematchOfferMsg is sent on the finished game's topic pointing the
// opponent at the freshly-created rematch session
// (spec.md §4.4's "rematch-offer", opponent-only fan-out).
type RematchOfferMsg struct {
	Type      string `json:"type"`
	NewGameID string `json:"newGameId"`
}
