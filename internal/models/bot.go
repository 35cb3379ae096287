package models

import "time"

// VariantRange is the board-dimension range a Bot declares support for
// within one variant, plus the dimensions it recommends.
type VariantRange struct {
	BoardWidthMin  int `json:"boardWidthMin"`
	BoardWidthMax  int `json:"boardWidthMax"`
	BoardHeightMin int `json:"boardHeightMin"`
	BoardHeightMax int `json:"boardHeightMax"`

	Recommended []BoardConfig `json:"recommended,omitempty"`
}

func (v VariantRange) Supports(width, height int) bool {
	return width >= v.BoardWidthMin && width <= v.BoardWidthMax &&
		height >= v.BoardHeightMin && height <= v.BoardHeightMax
}

// ActiveGameRef is the summary of one game a Bot is currently playing in,
// as tracked by the Bot Registry for activeGames bookkeeping.
type ActiveGameRef struct {
	GameID       string    `json:"gameId"`
	PlayerID     int       `json:"playerId"`
	OpponentName string    `json:"opponentName"`
	StartedAt    time.Time `json:"startedAt"`
}

// Bot is one playable identity registered by a Client.
type Bot struct {
	ClientID    string                  `json:"clientId"`
	BotID       string                  `json:"botId"`
	Name        string                  `json:"name"`
	IsOfficial  bool                    `json:"isOfficial"`
	Username    *string                 `json:"username,omitempty"` // nil = public
	Appearance  string                  `json:"appearance,omitempty"`
	Variants    map[Variant]VariantRange `json:"variants"`
	ActiveGames map[string]ActiveGameRef `json:"activeGames"`
}

// CompositeID is clientId:botId, the globally-unique bot handle.
func (b *Bot) CompositeID() string { return b.ClientID + ":" + b.BotID }

// VisibleTo reports whether this bot should be shown to a viewer identified
// by username, per spec.md §4.2 rule 1.
func (b *Bot) VisibleTo(username string) bool {
	if b.Username == nil {
		return true
	}
	if username == "" {
		return false
	}
	return equalFoldASCII(*b.Username, username)
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Client is one connected bot process, identified by a client-chosen id.
type Client struct {
	ClientID           string          `json:"clientId"`
	Bots               map[string]*Bot `json:"bots"` // botId -> Bot
	AttachedAt         time.Time       `json:"attachedAt"`
	InvalidMessageCount int            `json:"invalidMessageCount"`
	ActiveBgsSessions  map[string]bool `json:"activeBgsSessions"` // set of bgsId
}
