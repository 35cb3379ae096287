// Package botregistry implements the Bot Registry & Discovery component
// (C2): the set of connected bot clients, the bots they serve, and the
// visibility/matching rules used by the HTTP discovery surface and by
// the eval-bar's search for an official bot.
package botregistry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nmamano/wallgame-broker/internal/models"
)

// BotSpec is one bot entry from an attach message, before it is turned
// into a models.Bot (isOfficial is derived, not client-supplied directly).
type BotSpec struct {
	BotID         string
	Name          string
	OfficialToken *string
	Username      *string
	Appearance    string
	Variants      map[models.Variant]models.VariantRange
}

// Outcome reports whether registerClient created a fresh Client record or
// replaced one already registered under the same clientId.
type Outcome string

const (
	OutcomeNew             Outcome = "new"
	OutcomeReplacedExisting Outcome = "replacedExisting"
)

// Registry owns every connected Client and its Bots.
type Registry struct {
	mu             sync.RWMutex
	clients        map[string]*models.Client
	officialSecret string
}

func New(officialSecret string) *Registry {
	return &Registry{
		clients:        make(map[string]*models.Client),
		officialSecret: officialSecret,
	}
}

// RegisterClient validates and stores a fresh Client. If official tokens
// are present they're checked against the server secret per bot; isOfficial
// on each resulting Bot reflects the comparison, not the client's claim.
func (r *Registry) RegisterClient(clientID string, specs []BotSpec) (Outcome, *models.Client, *models.Client, error) {
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if seen[spec.BotID] {
			return "", nil, nil, ErrDuplicateBotID
		}
		seen[spec.BotID] = true
		if spec.OfficialToken != nil && *spec.OfficialToken != r.officialSecret {
			return "", nil, nil, ErrInvalidOfficial
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, hadExisting := r.clients[clientID]
	if !hadExisting && len(r.clients) >= MaxClients {
		return "", nil, nil, ErrTooManyClients
	}

	client := &models.Client{
		ClientID:          clientID,
		Bots:              make(map[string]*models.Bot, len(specs)),
		AttachedAt:        time.Now(),
		ActiveBgsSessions: make(map[string]bool),
	}
	for _, spec := range specs {
		client.Bots[spec.BotID] = &models.Bot{
			ClientID:    clientID,
			BotID:       spec.BotID,
			Name:        spec.Name,
			IsOfficial:  spec.OfficialToken != nil && *spec.OfficialToken == r.officialSecret,
			Username:    spec.Username,
			Appearance:  spec.Appearance,
			Variants:    spec.Variants,
			ActiveGames: make(map[string]models.ActiveGameRef),
		}
	}
	r.clients[clientID] = client

	if hadExisting {
		return OutcomeReplacedExisting, client, existing, nil
	}
	return OutcomeNew, client, nil, nil
}

// UnregisterClient removes a client and returns the bots it served, so the
// caller can tear down their BGS sessions (C3) and drop them from discovery.
func (r *Registry) UnregisterClient(clientID string) []*models.Bot {
	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.clients[clientID]
	if !ok {
		return nil
	}
	delete(r.clients, clientID)
	bots := make([]*models.Bot, 0, len(client.Bots))
	for _, b := range client.Bots {
		bots = append(bots, b)
	}
	return bots
}

// MarkBgsActive / UnmarkBgsActive track a client's open BGS ids, mirrored
// from models.Client.ActiveBgsSessions.
func (r *Registry) MarkBgsActive(clientID, bgsID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[clientID]; ok {
		c.ActiveBgsSessions[bgsID] = true
	}
}

func (r *Registry) UnmarkBgsActive(clientID, bgsID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[clientID]; ok {
		delete(c.ActiveBgsSessions, bgsID)
	}
}

// SetActiveGame records that a bot has taken a seat in gameID, so
// HandleBotDisconnect can find and auto-resign its in-progress games.
func (r *Registry) SetActiveGame(compositeID, gameID string, playerID int, opponentName string) {
	clientID, botID, ok := splitComposite(compositeID)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[clientID]
	if !ok {
		return
	}
	b, ok := c.Bots[botID]
	if !ok {
		return
	}
	b.ActiveGames[gameID] = models.ActiveGameRef{
		GameID:       gameID,
		PlayerID:     playerID,
		OpponentName: opponentName,
		StartedAt:    time.Now(),
	}
}

// ClearActiveGame removes the activeGames entry for gameID, once the game
// has finished or the bot has been resigned out of it.
func (r *Registry) ClearActiveGame(compositeID, gameID string) {
	clientID, botID, ok := splitComposite(compositeID)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[clientID]
	if !ok {
		return
	}
	b, ok := c.Bots[botID]
	if !ok {
		return
	}
	delete(b.ActiveGames, gameID)
}

// Client returns the registry's own *models.Client record, not a copy.
func (r *Registry) Client(clientID string) (*models.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[clientID]
	return c, ok
}

// BotByCompositeID finds a bot by its clientId:botId handle.
func (r *Registry) BotByCompositeID(compositeID string) (*models.Bot, bool) {
	clientID, botID, ok := splitComposite(compositeID)
	if !ok {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[clientID]
	if !ok {
		return nil, false
	}
	b, ok := c.Bots[botID]
	return b, ok
}

func splitComposite(compositeID string) (clientID, botID string, ok bool) {
	idx := strings.Index(compositeID, ":")
	if idx < 0 {
		return "", "", false
	}
	return compositeID[:idx], compositeID[idx+1:], true
}

// matching applies the four authoritative filtering rules from
// spec.md §4.2: username visibility, variant support, optional board-size
// range, and connectedness (trivially true — we only ever iterate
// currently-registered clients).
func (r *Registry) matching(variant models.Variant, width, height *int, username string) []*models.Bot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Bot
	for _, c := range r.clients {
		for _, b := range c.Bots {
			if !b.VisibleTo(username) {
				continue
			}
			vr, ok := b.Variants[variant]
			if !ok {
				continue
			}
			if width != nil && height != nil && !vr.Supports(*width, *height) {
				continue
			}
			out = append(out, b)
		}
	}
	return out
}

// ListMatching returns bots supporting variant (and optionally board size),
// official bots first, then alphabetically by name.
func (r *Registry) ListMatching(variant models.Variant, width, height *int, username string) []*models.Bot {
	out := r.matching(variant, width, height, username)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsOfficial != out[j].IsOfficial {
			return out[i].IsOfficial
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ListRecommended is like ListMatching but without a board-size filter,
// ordered official-first then by name then by ascending recommended
// board area (width*height) among each bot's first recommended size.
func (r *Registry) ListRecommended(variant models.Variant, username string) []*models.Bot {
	out := r.matching(variant, nil, nil, username)
	area := func(b *models.Bot) int {
		rec := b.Variants[variant].Recommended
		if len(rec) == 0 {
			return 0
		}
		return rec[0].BoardWidth * rec[0].BoardHeight
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsOfficial != out[j].IsOfficial {
			return out[i].IsOfficial
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return area(out[i]) < area(out[j])
	})
	return out
}

// FindEvalBot returns the first official bot satisfying variant/board
// support, used to pick an eval-bar provider (spec.md §4.2).
func (r *Registry) FindEvalBot(variant models.Variant, width, height int) (*models.Bot, bool) {
	candidates := r.matching(variant, &width, &height, "")
	for _, b := range candidates {
		if b.IsOfficial {
			return b, true
		}
	}
	return nil, false
}
