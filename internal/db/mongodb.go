// Package db owns the MongoDB connection and collection accessors for
// everything the broker persists outside of the in-memory stores: the
// finished-game archive, rating history, the cross-machine event relay,
// and the audit log.
package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

func NewMongoDB(uri, database string) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(500).
		SetMinPoolSize(10).
		SetMaxConnIdleTime(5 * time.Minute)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := &MongoDB{
		Client:   client,
		Database: client.Database(database),
	}

	go db.ensureIndexes()

	return db, nil
}

// ensureIndexes creates all required indexes. Called once on startup.
func (m *MongoDB) ensureIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	indexes := []struct {
		collection string
		models     []mongo.IndexModel
	}{
		{
			"sessions",
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
				{Keys: bson.D{{Key: "seriesId", Value: 1}, {Key: "rematchNumber", Value: 1}}},
				{Keys: bson.D{{Key: "host.authUserId", Value: 1}, {Key: "updatedAt", Value: -1}}},
				{Keys: bson.D{{Key: "joiner.authUserId", Value: 1}, {Key: "updatedAt", Value: -1}}},
			},
		},
		{
			"ratings",
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "subjectId", Value: 1}, {Key: "variant", Value: 1}}, Options: options.Index().SetUnique(true)},
				{Keys: bson.D{{Key: "rating", Value: -1}}},
			},
		},
		{
			"ws_events",
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "createdAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(60)},
			},
		},
		{
			"audit_log",
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "createdAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(90 * 24 * 3600)},
				{Keys: bson.D{{Key: "clientId", Value: 1}, {Key: "createdAt", Value: -1}}},
			},
		},
	}

	for _, idx := range indexes {
		coll := m.Database.Collection(idx.collection)
		_, err := coll.Indexes().CreateMany(ctx, idx.models)
		if err != nil {
			log.Printf("Warning: failed to create indexes on %s: %v", idx.collection, err)
		}
	}

	log.Println("Database indexes ensured")
}

func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

// Sessions archives every finished Session for history/replay (spec.md §7).
func (m *MongoDB) Sessions() *mongo.Collection {
	return m.Database.Collection("sessions")
}

// Ratings holds one document per (subject, variant) rating, where subject
// is either an authenticated user id or a bot's composite id.
func (m *MongoDB) Ratings() *mongo.Collection {
	return m.Database.Collection("ratings")
}

// WSEvents is the Change-Streams relay collection the eventbus watches to
// fan a broadcast out across every broker process (spec.md §9).
func (m *MongoDB) WSEvents() *mongo.Collection {
	return m.Database.Collection("ws_events")
}

// AuditLog records protocol-violation and lifecycle events (attach
// results, unexpected-message thresholds, bot disconnects).
func (m *MongoDB) AuditLog() *mongo.Collection {
	return m.Database.Collection("audit_log")
}
