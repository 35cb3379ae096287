package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nmamano/wallgame-broker/internal/models"
)

// sharedStatus is a SharedEvalBgs's lifecycle (spec.md §4.5.3).
type sharedStatus string

const (
	sharedInitializing sharedStatus = "initializing"
	sharedReady        sharedStatus = "ready"
	sharedError        sharedStatus = "error"
)

// sharedEvalBgs is the one-per-gameId shared BGS used to amortize a single
// bot's evaluation work across every eval-bar subscriber of a
// human-vs-human game. Its lifetime is tied to game end, never to viewer
// count (spec.md §9 — resist reference-counting viewers for teardown).
type sharedEvalBgs struct {
	mu      sync.Mutex
	status  sharedStatus
	history []models.EvalEntry
	waiters []chan sharedEvalResult
}

type sharedEvalResult struct {
	history []models.EvalEntry
	err     error
}

const (
	evalPollAttempts = 20
	evalPollInterval = 250 * time.Millisecond
)

// evalState tracks the coordinator state the protocol engine needs for
// the eval-bar surface, kept separate from the BGS/session stores proper
// since it is pure orchestration bookkeeping, not owned entity state.
type evalState struct {
	mu     sync.Mutex
	shared map[string]*sharedEvalBgs // gameId -> shared BGS, human-vs-human only
}

func newEvalState() *evalState {
	return &evalState{shared: make(map[string]*sharedEvalBgs)}
}

// HandleEvalHandshake implements the eval-history initializer. sendFn
// delivers one outbound frame directly to the connecting subscriber (not a
// topic broadcast — only this socket should receive the handshake
// response and any backoff-poll updates).
func (e *Engine) HandleEvalHandshake(msg EvalHandshakeMsg, sendFn func(frame []byte) error) {
	session, err := e.store.GetSession(msg.GameID)
	if err != nil {
		e.sendEvalError(sendFn, EvalCodeGameNotFound, "no such game")
		return
	}

	hasBot := session.Host.IsBot() || session.Joiner.IsBot()

	switch {
	case session.Status == models.StatusCompleted:
		e.replayFinishedGameEval(session, sendFn)
	case hasBot && session.Status == models.StatusInProgress:
		e.streamBotGameEval(session, sendFn)
	case !hasBot && session.Status == models.StatusInProgress:
		if session.Rated {
			e.sendEvalError(sendFn, EvalCodeRatedPlayer, "eval is unavailable for rated human-vs-human games")
			return
		}
		e.streamSharedEval(session, sendFn)
	default:
		e.sendEvalError(sendFn, EvalCodeGameNotFound, "game is not live")
	}
}

func (e *Engine) sendEvalError(sendFn func([]byte) error, code, message string) {
	raw, _ := json.Marshal(EvalHandshakeRejectedMsg{Type: "eval-handshake-rejected", Code: code, Message: message})
	sendFn(raw)
}

func sendAccepted(sendFn func([]byte) error) {
	raw, _ := json.Marshal(EvalHandshakeAcceptedMsg{Type: "eval-handshake-accepted"})
	sendFn(raw)
}

func sendHistory(sendFn func([]byte) error, history []models.EvalEntry) {
	entries := make([]EvalHistoryEntryMsg, len(history))
	for i, h := range history {
		entries[i] = EvalHistoryEntryMsg{Ply: h.Ply, Evaluation: h.Evaluation, BestMove: h.BestMove}
	}
	raw, _ := json.Marshal(EvalHistoryMsg{Type: "eval-history", Entries: entries})
	sendFn(raw)
}

// streamBotGameEval reuses the bot game's own BGS (bgsId == gameId). If it
// is already ready the cached history is sent immediately; if still
// initializing, the subscriber is sent eval-pending and polled with a
// fixed backoff.
func (e *Engine) streamBotGameEval(session models.Session, sendFn func([]byte) error) {
	sendAccepted(sendFn)
	bgs, ok := e.bgs.Get(session.ID)
	if !ok {
		e.sendEvalError(sendFn, EvalCodeNoBot, "no bot game session for this game")
		return
	}
	if bgs.Status == models.BgsReady {
		sendHistory(sendFn, bgs.History)
		return
	}

	raw, _ := json.Marshal(EvalPendingMsg{Type: "eval-pending", TotalMoves: len(session.GameState.Moves)})
	sendFn(raw)

	for i := 0; i < evalPollAttempts; i++ {
		time.Sleep(evalPollInterval)
		bgs, ok = e.bgs.Get(session.ID)
		if !ok {
			e.sendEvalError(sendFn, EvalCodeInternalError, "bot game session ended before it became ready")
			return
		}
		if bgs.Status == models.BgsReady {
			sendHistory(sendFn, bgs.History)
			return
		}
	}
	e.sendEvalError(sendFn, EvalCodeInternalError, "bot game session never became ready")
}

// streamSharedEval implements the shared-BGS path for human-vs-human live
// games: the first subscriber performs the full replay, concurrent
// subscribers wait on it, and subscribers arriving after it is ready get
// the cached history immediately with no further bot round-trip.
func (e *Engine) streamSharedEval(session models.Session, sendFn func([]byte) error) {
	sendAccepted(sendFn)

	e.eval.mu.Lock()
	shared, exists := e.eval.shared[session.ID]
	isFirst := false
	if !exists {
		shared = &sharedEvalBgs{status: sharedInitializing}
		e.eval.shared[session.ID] = shared
		isFirst = true
	}
	e.eval.mu.Unlock()

	shared.mu.Lock()
	switch shared.status {
	case sharedReady:
		history := shared.history
		shared.mu.Unlock()
		sendHistory(sendFn, history)
		return
	case sharedError:
		shared.mu.Unlock()
		e.sendEvalError(sendFn, EvalCodeInternalError, "shared eval session previously failed")
		return
	}
	waitCh := make(chan sharedEvalResult, 1)
	if !isFirst {
		shared.waiters = append(shared.waiters, waitCh)
	}
	shared.mu.Unlock()

	raw, _ := json.Marshal(EvalPendingMsg{Type: "eval-pending", TotalMoves: len(session.GameState.Moves)})
	sendFn(raw)

	if !isFirst {
		result := <-waitCh
		if result.err != nil {
			e.sendEvalError(sendFn, EvalCodeInternalError, result.err.Error())
			return
		}
		sendHistory(sendFn, result.history)
		return
	}

	bot, ok := e.registry.FindEvalBot(session.Variant, session.Board.BoardWidth, session.Board.BoardHeight)
	if !ok {
		e.failShared(session.ID, shared, fmt.Errorf("no official bot available for eval"))
		e.sendEvalError(sendFn, EvalCodeNoBot, "no official bot available for eval")
		return
	}

	history, err := e.replayEvalHistory(session.ID, bot.CompositeID(), session)
	if err != nil {
		e.failShared(session.ID, shared, err)
		e.sendEvalError(sendFn, EvalCodeInternalError, err.Error())
		return
	}

	shared.mu.Lock()
	shared.status = sharedReady
	shared.history = history
	waiters := shared.waiters
	shared.waiters = nil
	shared.mu.Unlock()
	for _, w := range waiters {
		w <- sharedEvalResult{history: history}
	}
	sendHistory(sendFn, history)
}

func (e *Engine) failShared(gameID string, shared *sharedEvalBgs, err error) {
	shared.mu.Lock()
	shared.status = sharedError
	waiters := shared.waiters
	shared.waiters = nil
	shared.mu.Unlock()
	for _, w := range waiters {
		w <- sharedEvalResult{err: err}
	}
	log.Printf("protocol: shared eval bgs for game %s failed: %v", gameID, err)
}

// replayFinishedGameEval creates a fresh ephemeral BGS per subscriber,
// replays the full move list, sends the resulting history, and ends the
// BGS immediately (no caching — every replay subscriber pays full cost).
func (e *Engine) replayFinishedGameEval(session models.Session, sendFn func([]byte) error) {
	sendAccepted(sendFn)
	bot, ok := e.registry.FindEvalBot(session.Variant, session.Board.BoardWidth, session.Board.BoardHeight)
	if !ok {
		e.sendEvalError(sendFn, EvalCodeNoBot, "no official bot available for eval")
		return
	}
	bgsID := fmt.Sprintf("%s_%s", session.ID, newEvalNonce())
	history, err := e.replayEvalHistory(bgsID, bot.CompositeID(), session)
	if err != nil {
		e.sendEvalError(sendFn, EvalCodeInternalError, err.Error())
		return
	}
	sendHistory(sendFn, history)
	e.EndBgs(bgsID)
}

// replayEvalHistory drives the full initialization procedure of spec.md
// §4.5.3: start, evaluate ply 0, then apply_move+evaluate for every move
// in the game. Any failure tears the BGS down and returns an error.
func (e *Engine) replayEvalHistory(bgsID, botCompositeID string, session models.Session) ([]models.EvalEntry, error) {
	config := models.BgsConfig{Variant: session.Variant, Board: session.Board, InitialFEN: "start"}
	if err := e.StartGameSession(bgsID, botCompositeID, session.ID, config); err != nil {
		return nil, err
	}
	if _, err := e.EvaluatePosition(bgsID, 0); err != nil {
		e.EndBgs(bgsID)
		return nil, err
	}
	moves := session.GameState.Moves
	for i, mv := range moves {
		if err := e.ApplyMoveOnBgs(bgsID, i, mv.Notation); err != nil {
			e.EndBgs(bgsID)
			return nil, err
		}
		if _, err := e.EvaluatePosition(bgsID, i+1); err != nil {
			e.EndBgs(bgsID)
			return nil, err
		}
	}
	bgs, ok := e.bgs.Get(bgsID)
	if !ok {
		return nil, fmt.Errorf("protocol: bgs %s vanished mid-replay", bgsID)
	}
	if err := e.bgs.MarkReady(bgsID); err != nil {
		log.Printf("protocol: markReady for bgs %s: %v", bgsID, err)
	}
	return bgs.History, nil
}

// NotifyEvalBarMove streams a live update to a shared eval BGS's
// subscribers after a new move is applied in a human-vs-human game.
func (e *Engine) NotifyEvalBarMove(gameID string, moveNotation string) {
	e.eval.mu.Lock()
	shared, ok := e.eval.shared[gameID]
	e.eval.mu.Unlock()
	if !ok {
		return
	}
	shared.mu.Lock()
	if shared.status != sharedReady {
		shared.mu.Unlock()
		return
	}
	shared.mu.Unlock()

	ply := len(shared.history)
	if err := e.ApplyMoveOnBgs(gameID, ply, moveNotation); err != nil {
		log.Printf("protocol: eval-bar apply_move for game %s: %v", gameID, err)
		return
	}
	resp, err := e.EvaluatePosition(gameID, ply+1)
	if err != nil {
		log.Printf("protocol: eval-bar evaluate_position for game %s: %v", gameID, err)
		return
	}

	shared.mu.Lock()
	shared.history = append(shared.history, models.EvalEntry{Ply: resp.Ply, Evaluation: resp.Evaluation, BestMove: resp.BestMove})
	shared.mu.Unlock()

	raw, _ := json.Marshal(EvalUpdateMsg{Type: "eval-update", Ply: resp.Ply, Evaluation: resp.Evaluation, BestMove: resp.BestMove})
	e.hub.Broadcast("eval:"+gameID, raw)
}

// EndSharedEval tears down a game's shared eval BGS when the underlying
// game ends — never on last-viewer-leaves (spec.md §9).
func (e *Engine) EndSharedEval(gameID string) {
	e.eval.mu.Lock()
	_, ok := e.eval.shared[gameID]
	delete(e.eval.shared, gameID)
	e.eval.mu.Unlock()
	if ok {
		e.EndBgs(gameID)
	}
}

// newEvalNonce gives each ephemeral replay BGS a unique id so concurrent
// replay viewers of the same finished game never collide.
func newEvalNonce() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
