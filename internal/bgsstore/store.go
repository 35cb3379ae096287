// Package bgsstore implements the BGS Store (C3): the authoritative record
// of every stateful per-(bot, game) sub-session, its ply, its evaluation
// history, and its single pending-request slot.
package bgsstore

import (
	"log"
	"sync"
	"time"

	"github.com/nmamano/wallgame-broker/internal/models"
)

// Store owns every live BotGameSession.
type Store struct {
	mu sync.RWMutex
	// strictPly, when true, rejects a non-monotonic updateCurrentPly /
	// ply-mismatched appendHistory instead of the source's permissive
	// warn-and-accept behavior. See DESIGN.md's Open Question resolution.
	strictPly bool
	sessions  map[string]*models.BotGameSession
}

func New(strictPly bool) *Store {
	return &Store{
		strictPly: strictPly,
		sessions:  make(map[string]*models.BotGameSession),
	}
}

// Create provisions a new BotGameSession in status=initializing. Returns
// nil with no error on a duplicate bgsId or when MaxSessions is reached —
// callers distinguish the two by checking Get first if they need to know
// which.
func (s *Store) Create(bgsID, botCompositeID, gameID string, config models.BgsConfig) (*models.BotGameSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[bgsID]; exists {
		return nil, nil
	}
	if len(s.sessions) >= MaxSessions {
		return nil, nil
	}

	now := time.Now()
	bgs := &models.BotGameSession{
		BgsID:          bgsID,
		BotCompositeID: botCompositeID,
		GameID:         gameID,
		Config:         config,
		Status:         models.BgsInitializing,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.sessions[bgsID] = bgs
	return bgs, nil
}

func (s *Store) Get(bgsID string) (models.BotGameSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bgs, ok := s.sessions[bgsID]
	if !ok {
		return models.BotGameSession{}, false
	}
	return *bgs, true
}

// MarkReady transitions initializing -> ready.
func (s *Store) MarkReady(bgsID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bgs, ok := s.sessions[bgsID]
	if !ok {
		return ErrNotFound
	}
	if bgs.Status != models.BgsInitializing {
		return ErrWrongState
	}
	bgs.Status = models.BgsReady
	bgs.UpdatedAt = time.Now()
	return nil
}

// AppendHistory appends an evaluation entry. A ply mismatch is warned (or,
// in strict mode, rejected) but the append still preserves arrival order —
// history is never reordered.
func (s *Store) AppendHistory(bgsID string, entry models.EvalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bgs, ok := s.sessions[bgsID]
	if !ok {
		return ErrNotFound
	}
	if entry.Ply != len(bgs.History) {
		if s.strictPly {
			return ErrWrongState
		}
		log.Printf("bgsstore: bgs %s appendHistory ply mismatch: got %d, expected %d", bgsID, entry.Ply, len(bgs.History))
	}
	bgs.History = append(bgs.History, entry)
	bgs.UpdatedAt = time.Now()
	return nil
}

// UpdateCurrentPly advances currentPly. Non-monotonic updates are accepted
// with a warning unless strictPly is enabled.
func (s *Store) UpdateCurrentPly(bgsID string, newPly int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bgs, ok := s.sessions[bgsID]
	if !ok {
		return ErrNotFound
	}
	if newPly < bgs.CurrentPly {
		if s.strictPly {
			return ErrWrongState
		}
		log.Printf("bgsstore: bgs %s currentPly went backwards: %d -> %d", bgsID, bgs.CurrentPly, newPly)
	}
	bgs.CurrentPly = newPly
	bgs.UpdatedAt = time.Now()
	return nil
}

// SetPendingRequest installs the BGS's single in-flight request slot,
// returning false if one is already set.
func (s *Store) SetPendingRequest(bgsID string, req models.PendingBgsRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bgs, ok := s.sessions[bgsID]
	if !ok {
		return false, ErrNotFound
	}
	if bgs.PendingRequest != nil {
		return false, nil
	}
	reqCopy := req
	bgs.PendingRequest = &reqCopy
	return true, nil
}

// ClearPendingRequest empties the pending slot, returning the request that
// was there (or nil if none).
func (s *Store) ClearPendingRequest(bgsID string) (*models.PendingBgsRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bgs, ok := s.sessions[bgsID]
	if !ok {
		return nil, ErrNotFound
	}
	prev := bgs.PendingRequest
	bgs.PendingRequest = nil
	return prev, nil
}

// End tears down a BGS and marks it terminal. Calling End twice is a
// harmless no-op on the second call (spec.md §8 idempotence property).
func (s *Store) End(bgsID string) (*models.BotGameSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bgs, ok := s.sessions[bgsID]
	if !ok {
		return nil, false
	}
	delete(s.sessions, bgsID)
	ended := *bgs
	ended.Status = models.BgsEnded
	return &ended, true
}

// EndAllForBot ends every BGS whose botCompositeId matches, returning their
// ids so the caller can notify pending resolvers.
func (s *Store) EndAllForBot(compositeID string) []string {
	s.mu.Lock()
	var ids []string
	for id, bgs := range s.sessions {
		if bgs.BotCompositeID == compositeID {
			ids = append(ids, id)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()
	return ids
}

// CleanupStale removes BGS untouched for longer than ageMs, returning their
// ids.
func (s *Store) CleanupStale(ageMs int64) []string {
	cutoff := time.Now().Add(-time.Duration(ageMs) * time.Millisecond)
	s.mu.Lock()
	var ids []string
	for id, bgs := range s.sessions {
		if bgs.UpdatedAt.Before(cutoff) {
			ids = append(ids, id)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()
	return ids
}

// Count returns the number of live sessions, exposed for tests and metrics.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
