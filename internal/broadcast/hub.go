// Package broadcast implements the Broadcast Fabric (C4): topic-keyed
// fan-out to players, spectators, lobby/live subscribers, and eval-bar
// subscribers. Delivery is best-effort and fire-and-forget; a subscriber
// that can't keep up is dropped rather than stalling the sender.
package broadcast

import (
	"log"
	"sync"
)

// Subscriber is one outbound channel registered under a topic. PlayerID is
// 0 for spectators/anonymous subscribers and is used by opponent-only
// fan-out (private draw/takeback/rematch offers) to pick the recipient.
type Subscriber struct {
	ID       string
	PlayerID int
	Send     chan []byte
}

const sendBufferSize = 16

// NewSubscriber allocates a Subscriber with a buffered outbound channel.
// The caller is responsible for draining Send in a per-socket writer pump.
func NewSubscriber(id string, playerID int) *Subscriber {
	return &Subscriber{ID: id, PlayerID: playerID, Send: make(chan []byte, sendBufferSize)}
}

// Hub owns every topic's subscriber set. Topics are ad-hoc strings:
// "game:<id>", "lobby", "live", "eval:<gameId>".
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber
	relay  func(topic string, message []byte, excludePlayerID int)
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[string]*Subscriber)}
}

// SetRelay installs a callback invoked on every local Broadcast/
// BroadcastExceptPlayer call, so the internal/eventbus package can mirror
// the delivery to every other broker process via Mongo Change Streams.
// excludePlayerID is 0 for a plain Broadcast.
func (h *Hub) SetRelay(fn func(topic string, message []byte, excludePlayerID int)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relay = fn
}

// Subscribe registers sub under topic.
func (h *Hub) Subscribe(topic string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[string]*Subscriber)
	}
	h.topics[topic][sub.ID] = sub
}

// Unsubscribe removes a subscriber and closes its Send channel. Safe to
// call more than once or for an unknown topic/id.
func (h *Hub) Unsubscribe(topic, subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(topic, subscriberID)
}

func (h *Hub) unsubscribeLocked(topic, subscriberID string) {
	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	sub, ok := subs[subscriberID]
	if !ok {
		return
	}
	delete(subs, subscriberID)
	close(sub.Send)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}

// Count returns the number of live subscribers on a topic, used for
// spectatorCount bookkeeping.
func (h *Hub) Count(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Broadcast fans message out to every subscriber of topic. A subscriber
// whose Send channel is full is considered dead, logged, and dropped —
// never blocking the sender.
func (h *Hub) Broadcast(topic string, message []byte) {
	h.broadcastFiltered(topic, message, func(*Subscriber) bool { return true })
	h.invokeRelay(topic, message, 0)
}

// BroadcastExceptPlayer fans out to every subscriber of topic except the
// one with the given playerId — used for private offers that must not
// echo back to the sender but should still reach spectators (pass
// excludeSpectators=true to also skip every spectator, i.e. playerId==0).
func (h *Hub) BroadcastExceptPlayer(topic string, message []byte, excludePlayerID int, excludeSpectators bool) {
	h.broadcastFiltered(topic, message, func(s *Subscriber) bool {
		if s.PlayerID == excludePlayerID && excludePlayerID != 0 {
			return false
		}
		if excludeSpectators && s.PlayerID == 0 {
			return false
		}
		return true
	})
	h.invokeRelay(topic, message, excludePlayerID)
}

// DeliverLocal fans message out to topic's local subscribers only, without
// invoking the relay. internal/eventbus uses this for frames that arrived
// from another machine, so a relayed delivery never gets re-published and
// bounces back and forth between machines.
func (h *Hub) DeliverLocal(topic string, message []byte, excludePlayerID int) {
	h.broadcastFiltered(topic, message, func(s *Subscriber) bool {
		return excludePlayerID == 0 || s.PlayerID != excludePlayerID
	})
}

func (h *Hub) invokeRelay(topic string, message []byte, excludePlayerID int) {
	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay != nil {
		relay(topic, message, excludePlayerID)
	}
}

func (h *Hub) broadcastFiltered(topic string, message []byte, include func(*Subscriber) bool) {
	h.mu.RLock()
	subs := h.topics[topic]
	snapshot := make([]*Subscriber, 0, len(subs))
	for _, sub := range subs {
		snapshot = append(snapshot, sub)
	}
	h.mu.RUnlock()

	var dead []string
	for _, sub := range snapshot {
		if !include(sub) {
			continue
		}
		select {
		case sub.Send <- message:
		default:
			log.Printf("broadcast: dropping slow subscriber %s on topic %s", sub.ID, topic)
			dead = append(dead, sub.ID)
		}
	}

	if len(dead) == 0 {
		return
	}
	h.mu.Lock()
	for _, id := range dead {
		h.unsubscribeLocked(topic, id)
	}
	h.mu.Unlock()
}
