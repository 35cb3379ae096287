// Package eventbus relays Broadcast Fabric (C4) deliveries across broker
// processes via MongoDB Change Streams, so a client attached to one
// machine still sees frames published from a session owned by another.
package eventbus

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// WSEvent is the document stored in the ws_events collection.
type WSEvent struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	OriginMachineID string             `bson:"originMachineId"`
	Topic           string             `bson:"topic"`
	Message         []byte             `bson:"message"`
	ExcludePlayerID int                `bson:"excludePlayerId,omitempty"`
	CreatedAt       time.Time          `bson:"createdAt"`
}

// LocalBroadcaster is implemented by broadcast.Hub: the local fan-out
// target a relayed event gets replayed into. DeliverLocal must not
// re-trigger the relay, or events would ping-pong between machines
// forever.
type LocalBroadcaster interface {
	DeliverLocal(topic string, message []byte, excludePlayerID int)
}

// EventBus publishes broadcast.Hub deliveries to MongoDB and watches for
// events published by other machines via Change Streams.
type EventBus struct {
	machineID  string
	collection *mongo.Collection
	local      LocalBroadcaster
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	running    bool
	mu         sync.Mutex
}

func generateMachineID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// New creates an EventBus. If collection is nil, the EventBus runs in
// local-only mode (Publish is a no-op, no watcher runs) — the broker is
// fully functional as a single process without MongoDB Change Streams.
func New(collection *mongo.Collection, local LocalBroadcaster) *EventBus {
	return &EventBus{
		machineID:  generateMachineID(),
		collection: collection,
		local:      local,
	}
}

// MachineID returns this instance's unique identifier.
func (eb *EventBus) MachineID() string {
	return eb.machineID
}

// EnsureIndexes creates the TTL index on ws_events.createdAt. Idempotent.
func (eb *EventBus) EnsureIndexes(ctx context.Context) error {
	if eb.collection == nil {
		return nil
	}
	_, err := eb.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "createdAt", Value: 1}},
		Options: options.Index().
			SetExpireAfterSeconds(60).
			SetName("ttl_createdAt_60s"),
	})
	return err
}

// Start begins the Change Stream watcher in a background goroutine.
func (eb *EventBus) Start() {
	if eb.collection == nil {
		log.Println("eventbus: no collection configured, running in local-only mode")
		return
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	eb.cancelFunc = cancel
	eb.running = true
	eb.wg.Add(1)

	go eb.watchLoop(ctx)
	log.Printf("eventbus: started (machineId=%s)", eb.machineID)
}

// Stop cancels the Change Stream watcher and waits for it to exit.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if !eb.running {
		return
	}
	eb.running = false
	if eb.cancelFunc != nil {
		eb.cancelFunc()
	}
	eb.wg.Wait()
	log.Println("eventbus: stopped")
}

// Publish inserts a broadcast event into ws_events for every other machine
// to pick up. Errors are logged, never returned (fire-and-forget).
func (eb *EventBus) Publish(topic string, message []byte, excludePlayerID int) {
	if eb.collection == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	doc := WSEvent{
		OriginMachineID: eb.machineID,
		Topic:           topic,
		Message:         message,
		ExcludePlayerID: excludePlayerID,
		CreatedAt:       time.Now(),
	}
	if _, err := eb.collection.InsertOne(ctx, doc); err != nil {
		log.Printf("eventbus: failed to publish on topic %s: %v", topic, err)
	}
}

func (eb *EventBus) watchLoop(ctx context.Context) {
	defer eb.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}
		err := eb.watch(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Printf("eventbus: change stream error (reconnecting in 2s): %v", err)
		time.Sleep(2 * time.Second)
	}
}

func (eb *EventBus) watch(ctx context.Context) error {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: "insert"},
		}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	cs, err := eb.collection.Watch(ctx, pipeline, opts)
	if err != nil {
		return err
	}
	defer cs.Close(ctx)

	for cs.Next(ctx) {
		var changeDoc struct {
			FullDocument WSEvent `bson:"fullDocument"`
		}
		if err := cs.Decode(&changeDoc); err != nil {
			log.Printf("eventbus: failed to decode change event: %v", err)
			continue
		}

		event := changeDoc.FullDocument
		if event.OriginMachineID == eb.machineID {
			continue
		}
		if eb.local == nil {
			continue
		}
		eb.local.DeliverLocal(event.Topic, event.Message, event.ExcludePlayerID)
	}

	return cs.Err()
}
