package protocol

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nmamano/wallgame-broker/internal/bgsstore"
	"github.com/nmamano/wallgame-broker/internal/botregistry"
	"github.com/nmamano/wallgame-broker/internal/broadcast"
	"github.com/nmamano/wallgame-broker/internal/models"
	"github.com/nmamano/wallgame-broker/internal/store"
	"github.com/nmamano/wallgame-broker/internal/wallrules"
)

// BotSender delivers a framed message to the bot client identified by
// clientId. The handlers package implements this over the live
// *websocket.Conn for an attached client.
type BotSender interface {
	Send(clientID string, frame []byte) error
}

// Hooks are the spec's external collaborators. PersistFinishedGame is
// fire-and-forget relative to the WS reply; UpdateRatings is called
// synchronously by onGameFinished, since spec.md §5 requires the new Elo
// to be committed before the match-status broadcast that carries it, and
// its return values are exactly that: the new ratings, and whether the
// update ran at all (false for an unrated game or a missing subject).
type Hooks struct {
	PersistFinishedGame func(models.Session)
	UpdateRatings       func(models.Session) (hostNewElo, joinerNewElo int, ok bool)
}

// Engine is the Protocol Engine (C5): it owns no entities itself but
// orchestrates the Game Session Store, Bot Registry, BGS Store, and
// Broadcast Fabric in response to parsed WebSocket frames.
type Engine struct {
	store      *store.Store
	registry   *botregistry.Registry
	bgs        *bgsstore.Store
	hub        *broadcast.Hub
	correlator *Correlator
	sender     BotSender
	hooks      Hooks
	eval       *evalState
}

func NewEngine(st *store.Store, reg *botregistry.Registry, bgs *bgsstore.Store, hub *broadcast.Hub, sender BotSender, hooks Hooks, bgsRequestTimeout time.Duration) *Engine {
	return &Engine{
		store:      st,
		registry:   reg,
		bgs:        bgs,
		hub:        hub,
		correlator: NewCorrelator(bgs, bgsRequestTimeout),
		sender:     sender,
		hooks:      hooks,
		eval:       newEvalState(),
	}
}

func splitComposite(compositeID string) (clientID, botID string, ok bool) {
	idx := strings.Index(compositeID, ":")
	if idx < 0 {
		return "", "", false
	}
	return compositeID[:idx], compositeID[idx+1:], true
}

func clampEval(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// --- attach ---

// HandleAttach validates and processes an attach message. On success it
// returns the AttachedMsg to send back; if a prior client under the same
// clientId existed, prior is non-nil and the caller must force-close that
// client's physical socket with code 1000. On failure, rejected is
// non-nil and the caller sends an AttachRejectedMsg then closes with 1008.
func (e *Engine) HandleAttach(raw []byte, sock *BotSocket) (attached *AttachedMsg, prior *models.Client, rejected *AttachError) {
	var msg AttachMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, nil, attachErr(CodeInvalidMessage, "malformed attach message")
	}
	if aerr := validateAttachMessage(msg); aerr != nil {
		return nil, nil, aerr
	}

	specs := make([]botregistry.BotSpec, 0, len(msg.Bots))
	for _, b := range msg.Bots {
		specs = append(specs, botregistry.BotSpec{
			BotID: b.BotID, Name: b.Name, OfficialToken: b.OfficialToken,
			Username: b.Username, Appearance: b.Appearance, Variants: toVariantRanges(b.Variants),
		})
	}

	outcome, _, priorClient, err := e.registry.RegisterClient(msg.ClientID, specs)
	if err != nil {
		switch err {
		case botregistry.ErrDuplicateBotID:
			return nil, nil, attachErr(CodeDuplicateBotID, err.Error())
		case botregistry.ErrInvalidOfficial:
			return nil, nil, attachErr(CodeInvalidOfficial, err.Error())
		case botregistry.ErrTooManyClients:
			return nil, nil, attachErr(CodeTooManyClients, err.Error())
		default:
			return nil, nil, attachErr(CodeInvalidMessage, err.Error())
		}
	}

	sock.SetAttached(msg.ClientID)
	resp := &AttachedMsg{
		Type:            "attached",
		ProtocolVersion: ProtocolVersion,
		ServerTime:      time.Now().UnixMilli(),
		Server:          "wallgame-broker",
		Limits:          Limits{MaxMessageBytes: MaxFrameBytes, MinClientMessageIntervalMs: MinClientMessageIntervalMs},
	}
	if outcome == botregistry.OutcomeReplacedExisting {
		return resp, priorClient, nil
	}
	return resp, nil, nil
}

// --- inbound bot responses ---

// HandleBotFrame dispatches one inbound frame from an attached bot socket.
// It returns true if the unexpected-message threshold has now been
// exceeded, in which case the caller must close with code 1008.
func (e *Engine) HandleBotFrame(sock *BotSocket, raw []byte) bool {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return sock.RegisterUnexpected()
	}

	switch frame.Type {
	case "game_session_started":
		var m GameSessionStartedMsg
		json.Unmarshal(raw, &m)
		return e.resolveBotResponse(sock, m.BgsID, m, 0, m.Success, m.Error)
	case "game_session_ended":
		var m GameSessionEndedMsg
		json.Unmarshal(raw, &m)
		return e.resolveBotResponse(sock, m.BgsID, m, 0, m.Success, m.Error)
	case "evaluate_response":
		var m EvaluateResponseMsg
		json.Unmarshal(raw, &m)
		m.Evaluation = clampEval(m.Evaluation)
		return e.resolveBotResponse(sock, m.BgsID, m, m.Ply, m.Success, m.Error)
	case "move_applied":
		var m MoveAppliedMsg
		json.Unmarshal(raw, &m)
		return e.resolveBotResponse(sock, m.BgsID, m, m.Ply, m.Success, m.Error)
	default:
		return sock.RegisterUnexpected()
	}
}

func (e *Engine) resolveBotResponse(sock *BotSocket, bgsID string, payload interface{}, ply int, success bool, errMsg string) bool {
	bgs, ok := e.bgs.Get(bgsID)
	if !ok {
		return sock.RegisterUnexpected()
	}
	clientID, _, _ := splitComposite(bgs.BotCompositeID)
	if clientID != sock.ClientID {
		return sock.RegisterUnexpected()
	}
	if !success {
		e.correlator.Reject(bgsID, fmt.Errorf("bot reported error: %s", errMsg))
		return false
	}
	if err := e.correlator.Resolve(bgsID, payload, ply); err != nil {
		log.Printf("protocol: %s response for bgs %s with no matching request, discarding", bgsID, err)
	}
	return false
}

// --- outbound BGS requests ---

func (e *Engine) sendRequest(bgsID, clientID string, reqType models.PendingRequestType, expectedPly int, frame interface{}) (<-chan CorrelatorResult, error) {
	ch, err := e.correlator.Begin(bgsID, reqType, expectedPly)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		e.correlator.Reject(bgsID, err)
		return nil, err
	}
	if err := e.sender.Send(clientID, raw); err != nil {
		e.correlator.Reject(bgsID, err)
		return nil, err
	}
	return ch, nil
}

// StartGameSession creates a BGS and drives it through start_game_session.
func (e *Engine) StartGameSession(bgsID, botCompositeID, gameID string, config models.BgsConfig) error {
	clientID, botID, ok := splitComposite(botCompositeID)
	if !ok {
		return fmt.Errorf("protocol: malformed compositeId %q", botCompositeID)
	}
	bgs, err := e.bgs.Create(bgsID, botCompositeID, gameID, config)
	if err != nil {
		return err
	}
	if bgs == nil {
		return fmt.Errorf("protocol: could not create BGS %s (duplicate or at capacity)", bgsID)
	}
	e.registry.MarkBgsActive(clientID, bgsID)

	frame := StartGameSessionMsg{Type: "start_game_session", BgsID: bgsID, BotID: botID, Config: config}
	ch, err := e.sendRequest(bgsID, clientID, models.PendingStart, 0, frame)
	if err != nil {
		e.bgs.End(bgsID)
		e.registry.UnmarkBgsActive(clientID, bgsID)
		return err
	}
	result := <-ch
	if result.Err != nil {
		e.bgs.End(bgsID)
		e.registry.UnmarkBgsActive(clientID, bgsID)
		return result.Err
	}
	m, _ := result.Payload.(GameSessionStartedMsg)
	if !m.Success {
		e.bgs.End(bgsID)
		e.registry.UnmarkBgsActive(clientID, bgsID)
		return fmt.Errorf("protocol: bot rejected start_game_session: %s", m.Error)
	}
	return e.bgs.MarkReady(bgsID)
}

// EvaluatePosition asks the bot to evaluate the position at expectedPly and
// records the result in the BGS's history.
func (e *Engine) EvaluatePosition(bgsID string, expectedPly int) (EvaluateResponseMsg, error) {
	bgs, ok := e.bgs.Get(bgsID)
	if !ok {
		return EvaluateResponseMsg{}, bgsstore.ErrNotFound
	}
	clientID, _, _ := splitComposite(bgs.BotCompositeID)
	frame := EvaluatePositionMsg{Type: "evaluate_position", BgsID: bgsID, ExpectedPly: expectedPly}
	ch, err := e.sendRequest(bgsID, clientID, models.PendingEval, expectedPly, frame)
	if err != nil {
		return EvaluateResponseMsg{}, err
	}
	result := <-ch
	if result.Err != nil {
		return EvaluateResponseMsg{}, result.Err
	}
	m, _ := result.Payload.(EvaluateResponseMsg)
	if !m.Success {
		return EvaluateResponseMsg{}, fmt.Errorf("protocol: bot evaluate_position error: %s", m.Error)
	}
	if err := e.bgs.AppendHistory(bgsID, models.EvalEntry{Ply: m.Ply, Evaluation: m.Evaluation, BestMove: m.BestMove}); err != nil {
		log.Printf("protocol: appendHistory for bgs %s: %v", bgsID, err)
	}
	if err := e.bgs.UpdateCurrentPly(bgsID, m.Ply); err != nil {
		log.Printf("protocol: updateCurrentPly for bgs %s: %v", bgsID, err)
	}
	return m, nil
}

// ApplyMoveOnBgs informs the bot's replica of a move that was applied to
// the session, keeping the bot's internal board in sync with C1.
func (e *Engine) ApplyMoveOnBgs(bgsID string, expectedPly int, move string) error {
	bgs, ok := e.bgs.Get(bgsID)
	if !ok {
		return bgsstore.ErrNotFound
	}
	clientID, _, _ := splitComposite(bgs.BotCompositeID)
	frame := ApplyMoveMsg{Type: "apply_move", BgsID: bgsID, ExpectedPly: expectedPly, Move: move}
	ch, err := e.sendRequest(bgsID, clientID, models.PendingApplyMove, expectedPly, frame)
	if err != nil {
		return err
	}
	result := <-ch
	if result.Err != nil {
		return result.Err
	}
	m, _ := result.Payload.(MoveAppliedMsg)
	if !m.Success {
		return fmt.Errorf("protocol: bot apply_move error: %s", m.Error)
	}
	return nil
}

// EndBgs tears a BGS down. A timeout here resolves as success per
// spec.md §5 cancellation semantics; a missing BGS is a harmless no-op.
func (e *Engine) EndBgs(bgsID string) error {
	bgs, ok := e.bgs.Get(bgsID)
	if !ok {
		return nil
	}
	clientID, _, _ := splitComposite(bgs.BotCompositeID)
	frame := EndGameSessionMsg{Type: "end_game_session", BgsID: bgsID}
	ch, err := e.sendRequest(bgsID, clientID, models.PendingEnd, 0, frame)
	e.bgs.End(bgsID)
	e.registry.UnmarkBgsActive(clientID, bgsID)
	if err != nil {
		return nil
	}
	<-ch
	return nil
}

// --- bot game move flow (spec.md §4.5.4) ---

// InitBotGame starts a session's BGS and, if the bot moves first, plays its
// opening move before returning.
func (e *Engine) InitBotGame(session models.Session, botSeat models.Seat) error {
	config := models.BgsConfig{Variant: session.Variant, Board: session.Board, InitialFEN: "start"}
	if err := e.StartGameSession(session.ID, *botSeat.BotCompositeID, session.ID, config); err != nil {
		return err
	}
	opponent := session.Host
	if botSeat.PlayerID == session.Host.PlayerID {
		opponent = session.Joiner
	}
	e.registry.SetActiveGame(*botSeat.BotCompositeID, session.ID, botSeat.PlayerID, opponent.DisplayName)
	resp, err := e.EvaluatePosition(session.ID, 0)
	if err != nil {
		return err
	}
	if session.GameState.Turn != botSeat.PlayerID {
		return nil
	}
	return e.playBotMove(session.ID, botSeat.PlayerID, resp.BestMove)
}

func (e *Engine) playBotMove(sessionID string, playerID int, notation string) error {
	action, err := wallrules.ParseNotation(notation)
	if err != nil {
		return err
	}
	updated, err := e.store.ApplyAction(sessionID, playerID, action)
	if err != nil {
		return err
	}
	e.broadcastSessionUpdate(updated)
	if updated.GameState.Status == "finished" {
		e.onGameFinished(updated)
		return nil
	}
	return e.DriveBotGame(sessionID)
}

// DriveBotGame forwards the most recent move to the session's BGS and, if
// it is now a bot seat's turn, asks for and applies its move, looping
// until a human must move or the game ends.
func (e *Engine) DriveBotGame(sessionID string) error {
	for {
		session, err := e.store.GetSession(sessionID)
		if err != nil {
			return err
		}
		if session.GameState.Status != "playing" {
			return nil
		}
		moves := session.GameState.Moves
		if len(moves) == 0 {
			return nil
		}
		last := moves[len(moves)-1]
		if err := e.ApplyMoveOnBgs(sessionID, last.Ply, last.Notation); err != nil {
			log.Printf("protocol: apply_move on bgs %s failed: %v", sessionID, err)
			return err
		}

		turnSeat := session.SeatByPlayerID(session.GameState.Turn)
		if turnSeat == nil || !turnSeat.IsBot() {
			return nil
		}

		resp, err := e.EvaluatePosition(sessionID, len(moves))
		if err != nil {
			log.Printf("protocol: evaluate_position on bgs %s failed: %v", sessionID, err)
			return err
		}
		action, err := wallrules.ParseNotation(resp.BestMove)
		if err != nil {
			return err
		}
		updated, err := e.store.ApplyAction(sessionID, turnSeat.PlayerID, action)
		if err != nil {
			return err
		}
		e.broadcastSessionUpdate(updated)
		if updated.GameState.Status == "finished" {
			e.onGameFinished(updated)
			return nil
		}
	}
}

// OnDrawOffered reports whether a draw offer in this session is to be
// auto-rejected without consulting the bot (true when either seat is a
// bot, per spec.md §9); ApplyHumanAction applies the decline.
func (e *Engine) OnDrawOffered(session models.Session) bool {
	return session.Host.IsBot() || session.Joiner.IsBot()
}

func (e *Engine) broadcastSessionUpdate(session models.Session) {
	raw, _ := json.Marshal(StateMsg{Type: "state", Session: session})
	e.hub.Broadcast("game:"+session.ID, raw)
	liveRaw, _ := json.Marshal(LiveUpsertMsg{Type: "upsert", Game: session})
	e.hub.Broadcast("live", liveRaw)
}

// broadcastPrivateOffer publishes a pending draw/takeback offer to the
// opponent seat only — per spec.md §4.4 a fresh offer must not echo back
// to the player who made it, nor leak to spectators, until it's resolved.
func (e *Engine) broadcastPrivateOffer(session models.Session, offeringPlayerID int) {
	raw, _ := json.Marshal(StateMsg{Type: "state", Session: session})
	e.hub.BroadcastExceptPlayer("game:"+session.ID, raw, offeringPlayerID, true)
}

func (e *Engine) onGameFinished(session models.Session) {
	var hostNewElo, joinerNewElo *int
	if e.hooks.UpdateRatings != nil {
		if host, joiner, ok := e.hooks.UpdateRatings(session); ok {
			hostNewElo, joinerNewElo = &host, &joiner
		}
	}
	matchStatus, _ := json.Marshal(MatchStatusMsg{
		Type: "match-status", Session: session,
		HostNewElo: hostNewElo, JoinerNewElo: joinerNewElo,
	})
	e.hub.Broadcast("game:"+session.ID, matchStatus)
	removeRaw, _ := json.Marshal(LiveRemoveMsg{Type: "remove", GameID: session.ID})
	e.hub.Broadcast("live", removeRaw)
	if e.hooks.PersistFinishedGame != nil {
		e.hooks.PersistFinishedGame(session)
	}

	for _, seat := range []models.Seat{session.Host, session.Joiner} {
		if seat.IsBot() {
			e.registry.ClearActiveGame(*seat.BotCompositeID, session.ID)
		}
	}
}

// --- human-driven actions (spec.md §6.3) ---

// ApplyHumanAction applies a human player's action, broadcasts the result,
// and — if the opponent seat is a bot — drives the bot's reply before
// returning. For a live unrated human-vs-human game it also nudges any
// already-initialized eval-bar stream forward.
func (e *Engine) ApplyHumanAction(sessionID string, playerID int, action wallrules.Action) (models.Session, error) {
	updated, err := e.store.ApplyAction(sessionID, playerID, action)
	if err != nil {
		return models.Session{}, err
	}

	if action.Kind == wallrules.ActionDraw && action.Offer && e.OnDrawOffered(updated) {
		opponent := updated.OpponentSeat(playerID)
		if declined, derr := e.store.ApplyAction(sessionID, opponent.PlayerID, wallrules.Action{Kind: wallrules.ActionDraw, Decline: true}); derr == nil {
			updated = declined
		}
		e.broadcastSessionUpdate(updated)
		return updated, nil
	}

	if isOfferAction(action) {
		e.broadcastPrivateOffer(updated, playerID)
	} else {
		e.broadcastSessionUpdate(updated)
	}
	if updated.GameState.Status == "finished" {
		e.onGameFinished(updated)
		return updated, nil
	}
	if updated.Host.IsBot() || updated.Joiner.IsBot() {
		if err := e.DriveBotGame(sessionID); err != nil {
			log.Printf("protocol: drive bot game %s after human action: %v", sessionID, err)
		}
		return updated, nil
	}
	if !updated.Rated && (action.Kind == wallrules.ActionMove || action.Kind == wallrules.ActionPlaceWall) {
		if notation := lastMoveNotation(updated); notation != "" {
			go e.NotifyEvalBarMove(sessionID, notation)
		}
	}
	return updated, nil
}

// isOfferAction reports whether action opens a pending draw/takeback offer
// that must stay private to the opponent until resolved (spec.md §4.4).
func isOfferAction(action wallrules.Action) bool {
	return (action.Kind == wallrules.ActionDraw || action.Kind == wallrules.ActionTakeback) && action.Offer
}

func lastMoveNotation(session models.Session) string {
	moves := session.GameState.Moves
	if len(moves) == 0 {
		return ""
	}
	return moves[len(moves)-1].Notation
}

// --- bot disconnect (spec.md §4.5.5) ---

// HandleBotDisconnect resigns every game the client's bots are playing,
// ends their BGS sessions, and unregisters the client from discovery.
func (e *Engine) HandleBotDisconnect(clientID string) {
	client, ok := e.registry.Client(clientID)
	if !ok {
		return
	}
	for _, bot := range client.Bots {
		compositeID := bot.CompositeID()
		for gameID, ref := range bot.ActiveGames {
			session, err := e.store.GetSession(gameID)
			if err != nil || session.GameState.Status != "playing" {
				continue
			}
			updated, err := e.store.ApplyAction(gameID, ref.PlayerID, wallrules.Action{Kind: wallrules.ActionResign})
			if err != nil {
				log.Printf("protocol: auto-resign for disconnected bot %s in game %s: %v", compositeID, gameID, err)
				continue
			}
			e.broadcastSessionUpdate(updated)
			e.onGameFinished(updated)
		}
		bgsIDs := e.bgs.EndAllForBot(compositeID)
		e.correlator.RejectAll(bgsIDs, ErrBotClientDisconnected)
	}
	e.registry.UnregisterClient(clientID)
}
