package protocol

import (
	"log"
	"sync"
	"time"

	"github.com/nmamano/wallgame-broker/internal/bgsstore"
	"github.com/nmamano/wallgame-broker/internal/models"
)

// CorrelatorResult is what a pending BGS request resolves to: either the
// bot's response payload, or an error (timeout, disconnect, session end).
type CorrelatorResult struct {
	Payload interface{}
	Err     error
}

type pendingCall struct {
	reqType     models.PendingRequestType
	expectedPly int
	resultCh    chan CorrelatorResult
	timer       *time.Timer
}

// Correlator implements the redesigned "per-BGS single-slot future with a
// bound timer" pattern called for in spec.md §9, replacing the source's
// promise-plus-timeout pendingResolvers map. One call may be in flight per
// bgsId at a time; Begin enforces that via bgsstore's own pending slot.
type Correlator struct {
	mu             sync.Mutex
	pending        map[string]*pendingCall
	bgs            *bgsstore.Store
	requestTimeout time.Duration
}

// NewCorrelator builds a correlator whose pending requests expire after
// requestTimeout; a non-positive value falls back to BgsRequestTimeout.
func NewCorrelator(bgs *bgsstore.Store, requestTimeout time.Duration) *Correlator {
	if requestTimeout <= 0 {
		requestTimeout = BgsRequestTimeout * time.Second
	}
	return &Correlator{pending: make(map[string]*pendingCall), bgs: bgs, requestTimeout: requestTimeout}
}

// Begin records a new pending request and arms its timeout timer. The
// caller must send the framed request to the bot only after Begin
// succeeds, then await the returned channel.
func (c *Correlator) Begin(bgsID string, reqType models.PendingRequestType, expectedPly int) (<-chan CorrelatorResult, error) {
	ok, err := c.bgs.SetPendingRequest(bgsID, models.PendingBgsRequest{
		Type: reqType, ExpectedPly: expectedPly, CreatedAt: time.Now(),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyPending
	}

	ch := make(chan CorrelatorResult, 1)
	call := &pendingCall{reqType: reqType, expectedPly: expectedPly, resultCh: ch}
	call.timer = time.AfterFunc(c.requestTimeout, func() { c.timeoutCall(bgsID) })

	c.mu.Lock()
	c.pending[bgsID] = call
	c.mu.Unlock()
	return ch, nil
}

func (c *Correlator) take(bgsID string) (*pendingCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.pending[bgsID]
	if ok {
		delete(c.pending, bgsID)
	}
	return call, ok
}

// timeoutCall fires requestTimeout after Begin (BgsRequestTimeout, 10s, by
// default) if no Resolve arrived. For end_game_session
// this resolves as success (the server considers the session ended
// regardless); every other request type rejects with ErrRequestTimeout, and
// start_game_session additionally tears down the BGS (caller's
// responsibility — Begin's caller inspects reqType==PendingStart on error).
func (c *Correlator) timeoutCall(bgsID string) {
	call, ok := c.take(bgsID)
	if !ok {
		return
	}
	if _, err := c.bgs.ClearPendingRequest(bgsID); err != nil {
		log.Printf("protocol: correlator timeout clearing pending slot for %s: %v", bgsID, err)
	}
	if call.reqType == models.PendingEnd {
		call.resultCh <- CorrelatorResult{}
		return
	}
	call.resultCh <- CorrelatorResult{Err: ErrRequestTimeout}
}

// Resolve matches an inbound bot response to its pending call. observedPly
// is compared against the recorded expectedPly for evaluate_response only;
// a mismatch is a warn-and-accept per spec.md §4.5.2 step 3. Returns
// ErrNoPendingCall for a "late" response with nothing to resolve — callers
// should discard those silently (log at debug, no error surfaced to peer).
func (c *Correlator) Resolve(bgsID string, payload interface{}, observedPly int) error {
	call, ok := c.take(bgsID)
	if !ok {
		return ErrNoPendingCall
	}
	call.timer.Stop()
	if _, err := c.bgs.ClearPendingRequest(bgsID); err != nil {
		log.Printf("protocol: correlator resolve clearing pending slot for %s: %v", bgsID, err)
	}
	if call.reqType == models.PendingEval && observedPly != call.expectedPly {
		log.Printf("protocol: bgs %s evaluate_response ply mismatch: got %d, expected %d", bgsID, observedPly, call.expectedPly)
	}
	call.resultCh <- CorrelatorResult{Payload: payload}
	return nil
}

// Reject cancels a pending call with reason, used for bot disconnect and
// for "Session ended" teardown. A no-op if nothing is pending.
func (c *Correlator) Reject(bgsID string, reason error) {
	call, ok := c.take(bgsID)
	if !ok {
		return
	}
	call.timer.Stop()
	c.bgs.ClearPendingRequest(bgsID)
	call.resultCh <- CorrelatorResult{Err: reason}
}

// RejectAll cancels every pending call in bgsIDs, used on bot client
// disconnect (spec.md §4.5.5 step 2).
func (c *Correlator) RejectAll(bgsIDs []string, reason error) {
	for _, id := range bgsIDs {
		c.Reject(id, reason)
	}
}

// HasPending reports whether a request is currently in flight for bgsID,
// used by tests and by the eval initializer to detect an already-running
// shared replay.
func (c *Correlator) HasPending(bgsID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[bgsID]
	return ok
}
