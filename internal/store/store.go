// Package store implements the Game Session Store (C1): in-memory
// authoritative state for active Wall Game sessions. It is the sole
// mutator of gameState; every other component reads sessions only
// through the snapshots this package returns.
package store

import (
	"sync"
	"time"

	"github.com/nmamano/wallgame-broker/internal/models"
	"github.com/nmamano/wallgame-broker/internal/wallrules"
)

// Identity is what a caller supplies about the human or bot taking a seat.
type Identity struct {
	AuthUserID     *string
	DisplayName    string
	Appearance     string
	RatingAtStart  int
	BotCompositeID *string
}

// AccessKind is the result classification of resolveAccess / joinSession.
type AccessKind string

const (
	AccessPlayer    AccessKind = "player"
	AccessWaiting   AccessKind = "waiting"
	AccessSpectator AccessKind = "spectator"
	AccessReplay    AccessKind = "replay"
)

// entry pairs a Session with the lock that serializes all mutation of it,
// per spec.md §5 ("each Session is protected by a lock").
type entry struct {
	mu      sync.Mutex
	session models.Session
}

// Store owns every live Session.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	// series maps seriesId -> the most recent session id in that chain,
	// used to reject a second concurrent rematch (ErrRematchExists).
	series map[string]string
}

func New() *Store {
	return &Store{
		sessions: make(map[string]*entry),
		series:   make(map[string]string),
	}
}

// CreateSession provisions a new Session. If joinerIdentity is non-nil the
// joiner seat is filled immediately (used for create-vs-bot); otherwise the
// joiner seat starts empty and is filled by a later JoinSession call.
func (s *Store) CreateSession(cfg models.BoardConfig, variant models.Variant, tc models.TimeControl, rated bool, matchType models.MatchType, hostIdentity Identity, joinerIdentity *Identity, forceHostPlayerID int) (models.Session, string, string, error) {
	hostPlayerID := 1
	if forceHostPlayerID == 2 {
		hostPlayerID = 2
	} else if forceHostPlayerID == 0 && newToken(1)[0]%2 == 0 {
		hostPlayerID = 2
	}
	joinerPlayerID := otherPlayerID(hostPlayerID)

	now := time.Now()
	id := newSessionID()
	hostToken, hostSocketToken := newSeatToken(), newSocketToken()

	sess := models.Session{
		ID:          id,
		SeriesID:    id,
		Variant:     variant,
		Board:       cfg,
		TimeControl: tc,
		Rated:       rated,
		MatchType:   matchType,
		Host: models.Seat{
			Role:          models.RoleHost,
			PlayerID:      hostPlayerID,
			Token:         hostToken,
			SocketToken:   hostSocketToken,
			DisplayName:   hostIdentity.DisplayName,
			Appearance:    hostIdentity.Appearance,
			AuthUserID:    hostIdentity.AuthUserID,
			BotCompositeID: hostIdentity.BotCompositeID,
			RatingAtStart: hostIdentity.RatingAtStart,
			Connected:     true,
		},
		Joiner: models.Seat{
			Role:     models.RoleJoiner,
			PlayerID: joinerPlayerID,
		},
		Status:    models.StatusWaiting,
		GameState: newGameState(hostPlayerID, cfg, tc),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if joinerIdentity != nil {
		joinerToken, joinerSocketToken := newSeatToken(), newSocketToken()
		sess.Joiner.Token = joinerToken
		sess.Joiner.SocketToken = joinerSocketToken
		sess.Joiner.DisplayName = joinerIdentity.DisplayName
		sess.Joiner.Appearance = joinerIdentity.Appearance
		sess.Joiner.AuthUserID = joinerIdentity.AuthUserID
		sess.Joiner.BotCompositeID = joinerIdentity.BotCompositeID
		sess.Joiner.RatingAtStart = joinerIdentity.RatingAtStart
		sess.Joiner.Connected = joinerIdentity.BotCompositeID != nil
		sess.Status = models.StatusReady
	}

	s.mu.Lock()
	s.sessions[id] = &entry{session: sess}
	s.series[sess.SeriesID] = id
	s.mu.Unlock()

	return sess, hostToken, hostSocketToken, nil
}

func newGameState(hostPlayerID int, cfg models.BoardConfig, tc models.TimeControl) models.GameState {
	board := wallrules.NewBoard(cfg)
	return models.GameState{
		Turn:        hostPlayerID,
		Board:       board,
		Status:      "playing",
		ClockHost:   models.PlayerClock{RemainingMs: tc.BaseTimeMs},
		ClockJoiner: models.PlayerClock{RemainingMs: tc.BaseTimeMs},
	}
}

func otherPlayerID(p int) int {
	if p == 1 {
		return 2
	}
	return 1
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	return e, ok
}

// GetSession returns a snapshot (copy) of the session, safe to read without
// holding any lock.
func (s *Store) GetSession(id string) (models.Session, error) {
	e, ok := s.lookup(id)
	if !ok {
		return models.Session{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, nil
}

// ListLive returns a snapshot of every session currently in-progress, for
// the "live" broadcast topic.
func (s *Store) ListLive() []models.Session {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]models.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.session.Status == models.StatusInProgress {
			out = append(out, e.session)
		}
		e.mu.Unlock()
	}
	return out
}

// JoinSession fills the joiner seat if free, recovers it if the same
// authenticated user owns it, or else classifies the caller as a spectator.
func (s *Store) JoinSession(id string, identity Identity) (AccessKind, models.Session, *models.Seat, error) {
	e, ok := s.lookup(id)
	if !ok {
		return "", models.Session{}, nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Cancelled {
		return "", models.Session{}, nil, ErrCancelled
	}

	joiner := &e.session.Joiner
	switch {
	case joiner.BotCompositeID == nil && joiner.Token == "":
		joiner.Token = newSeatToken()
		joiner.SocketToken = newSocketToken()
		joiner.DisplayName = identity.DisplayName
		joiner.Appearance = identity.Appearance
		joiner.AuthUserID = identity.AuthUserID
		joiner.RatingAtStart = identity.RatingAtStart
		joiner.Connected = true
		if e.session.Status == models.StatusWaiting {
			e.session.Status = models.StatusReady
		}
		e.session.UpdatedAt = time.Now()
		seatCopy := *joiner
		return AccessPlayer, e.session, &seatCopy, nil

	case identity.AuthUserID != nil && joiner.AuthUserID != nil && *joiner.AuthUserID == *identity.AuthUserID:
		joiner.Token = newSeatToken()
		joiner.SocketToken = newSocketToken()
		joiner.Connected = true
		e.session.UpdatedAt = time.Now()
		seatCopy := *joiner
		return AccessPlayer, e.session, &seatCopy, nil

	default:
		e.session.SpectatorCount++
		return AccessSpectator, e.session, nil, nil
	}
}

// ResolveAccess classifies a connecting socket's access to a session by
// precedence: token match > auth match (re-issuing credentials) > status.
func (s *Store) ResolveAccess(id string, token string, authUserID *string) (AccessKind, models.Session, *models.Seat, error) {
	e, ok := s.lookup(id)
	if !ok {
		return "", models.Session{}, nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, seat := range []*models.Seat{&e.session.Host, &e.session.Joiner} {
		if token != "" && (seat.Token == token || seat.SocketToken == token) {
			seat.Connected = true
			seatCopy := *seat
			return AccessPlayer, e.session, &seatCopy, nil
		}
	}
	if authUserID != nil {
		for _, seat := range []*models.Seat{&e.session.Host, &e.session.Joiner} {
			if seat.AuthUserID != nil && *seat.AuthUserID == *authUserID {
				seat.Token = newSeatToken()
				seat.SocketToken = newSocketToken()
				seat.Connected = true
				seatCopy := *seat
				return AccessPlayer, e.session, &seatCopy, nil
			}
		}
	}

	if e.session.Cancelled {
		return AccessWaiting, e.session, nil, nil
	}
	switch e.session.Status {
	case models.StatusCompleted:
		return AccessReplay, e.session, nil, nil
	case models.StatusWaiting:
		return AccessWaiting, e.session, nil, nil
	default:
		return AccessSpectator, e.session, nil, nil
	}
}

// ApplyAction applies one player action to a session's gameState, per
// spec.md §4.1. GiveTime is permitted even after the game has finished
// (it is defined as a no-op there); every other action requires
// status == "playing".
func (s *Store) ApplyAction(id string, playerID int, action wallrules.Action) (models.Session, error) {
	e, ok := s.lookup(id)
	if !ok {
		return models.Session{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.Cancelled {
		return models.Session{}, ErrCancelled
	}
	if e.session.GameState.Status != "playing" {
		if action.Kind != wallrules.ActionGiveTime {
			return models.Session{}, ErrAlreadyFinished
		}
		return e.session, nil
	}
	if seat := e.session.SeatByPlayerID(playerID); seat == nil {
		return models.Session{}, ErrIllegalAction
	}
	if action.Kind == wallrules.ActionMove || action.Kind == wallrules.ActionPlaceWall {
		if e.session.GameState.Turn != playerID {
			return models.Session{}, ErrWrongTurn
		}
	}

	if len(e.session.GameState.Moves) == 0 && e.session.StartedAt == nil {
		now := time.Now()
		e.session.StartedAt = &now
		e.session.Status = models.StatusInProgress
	}

	next, err := wallrules.Apply(e.session.GameState, e.session.Variant, playerID, action)
	if err != nil {
		return models.Session{}, err
	}
	e.session.GameState = next
	e.session.UpdatedAt = time.Now()

	if next.Status == "finished" {
		e.session.Status = models.StatusCompleted
		if e.session.MarkScored(sessionInstanceID(&e.session)) {
			awardScore(&e.session, next.Result)
		}
	}

	return e.session, nil
}

// sessionInstanceID identifies one playthrough for the MarkScored
// idempotence guard; a session is scored at most once even if ApplyAction
// is retried after the state has already transitioned to finished.
func sessionInstanceID(sess *models.Session) string {
	return sess.ID + ":" + sess.SeriesID
}

func awardScore(sess *models.Session, result *models.Result) {
	if result == nil {
		return
	}
	switch result.Winner {
	case sess.Host.PlayerID:
		sess.MatchScore.Host++
	case sess.Joiner.PlayerID:
		sess.MatchScore.Joiner++
	}
}

// CreateRematch starts a new session sharing seriesId, with playerId
// assignments swapped and matchScore carried over.
func (s *Store) CreateRematch(previousID string) (models.Session, string, string, string, string, error) {
	e, ok := s.lookup(previousID)
	if !ok {
		return models.Session{}, "", "", "", "", ErrNotFound
	}
	e.mu.Lock()
	prev := e.session
	e.mu.Unlock()

	if prev.Status != models.StatusCompleted {
		return models.Session{}, "", "", "", "", ErrNotYetFinished
	}

	s.mu.Lock()
	if latest := s.series[prev.SeriesID]; latest != prev.ID {
		s.mu.Unlock()
		return models.Session{}, "", "", "", "", ErrRematchExists
	}
	s.mu.Unlock()

	now := time.Now()
	id := newSessionID()
	hostToken, hostSocketToken := newSeatToken(), newSocketToken()
	joinerToken, joinerSocketToken := newSeatToken(), newSocketToken()

	// Swap: the previous joiner becomes host, taking playerId 1.
	next := models.Session{
		ID:            id,
		SeriesID:      prev.SeriesID,
		RematchNumber: prev.RematchNumber + 1,
		Variant:       prev.Variant,
		Board:         prev.Board,
		TimeControl:   prev.TimeControl,
		Rated:         prev.Rated,
		MatchType:     prev.MatchType,
		Host: models.Seat{
			Role: models.RoleHost, PlayerID: 1, Token: hostToken, SocketToken: hostSocketToken,
			DisplayName: prev.Joiner.DisplayName, Appearance: prev.Joiner.Appearance,
			AuthUserID: prev.Joiner.AuthUserID, BotCompositeID: prev.Joiner.BotCompositeID,
			RatingAtStart: prev.Joiner.RatingAtStart, Connected: prev.Joiner.BotCompositeID != nil,
		},
		Joiner: models.Seat{
			Role: models.RoleJoiner, PlayerID: 2, Token: joinerToken, SocketToken: joinerSocketToken,
			DisplayName: prev.Host.DisplayName, Appearance: prev.Host.Appearance,
			AuthUserID: prev.Host.AuthUserID, BotCompositeID: prev.Host.BotCompositeID,
			RatingAtStart: prev.Host.RatingAtStart, Connected: prev.Host.BotCompositeID != nil,
		},
		Status:     models.StatusReady,
		MatchScore: prev.MatchScore,
		GameState:  newGameState(1, prev.Board, prev.TimeControl),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.mu.Lock()
	s.sessions[id] = &entry{session: next}
	s.series[next.SeriesID] = id
	s.mu.Unlock()

	return next, hostToken, hostSocketToken, joinerToken, joinerSocketToken, nil
}

// Cancel marks a not-yet-started session as cancelled (host abort before
// the joiner arrives).
func (s *Store) Cancel(id string) error {
	e, ok := s.lookup(id)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status != models.StatusWaiting && e.session.Status != models.StatusReady {
		return ErrIllegalAction
	}
	e.session.Cancelled = true
	e.session.UpdatedAt = time.Now()
	return nil
}

// SetConnected flips a seat's connected flag, used by the protocol layer on
// socket open/close for the human game WebSocket.
func (s *Store) SetConnected(id string, playerID int, connected bool) error {
	e, ok := s.lookup(id)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	seat := e.session.SeatByPlayerID(playerID)
	if seat == nil {
		return ErrIllegalAction
	}
	seat.Connected = connected
	e.session.UpdatedAt = time.Now()
	return nil
}

// SetReady marks a seat ready-to-start, the lobby-side counterpart to
// ApplyAction's automatic in-progress transition on the first move.
func (s *Store) SetReady(id string, playerID int) (models.Session, error) {
	e, ok := s.lookup(id)
	if !ok {
		return models.Session{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	seat := e.session.SeatByPlayerID(playerID)
	if seat == nil {
		return models.Session{}, ErrIllegalAction
	}
	seat.Ready = true
	e.session.UpdatedAt = time.Now()
	return e.session, nil
}
