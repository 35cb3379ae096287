package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nmamano/wallgame-broker/internal/config"
	"github.com/nmamano/wallgame-broker/internal/db"

	"go.mongodb.org/mongo-driver/bson"
)

// clear_db wipes every collection this broker owns, for resetting a dev
// environment between test runs.
func main() {
	cfg, err := config.Load("dev")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	mongodb, err := db.NewMongoDB(cfg.MongoDB.URI, cfg.MongoDB.Database)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mongodb.Close(ctx)
	}()

	ctx := context.Background()

	sessionsResult, err := mongodb.Sessions().DeleteMany(ctx, bson.M{})
	if err != nil {
		log.Fatalf("Failed to delete sessions: %v", err)
	}
	fmt.Printf("Deleted %d sessions\n", sessionsResult.DeletedCount)

	ratingsResult, err := mongodb.Ratings().DeleteMany(ctx, bson.M{})
	if err != nil {
		log.Fatalf("Failed to delete ratings: %v", err)
	}
	fmt.Printf("Deleted %d ratings\n", ratingsResult.DeletedCount)

	eventsResult, err := mongodb.WSEvents().DeleteMany(ctx, bson.M{})
	if err != nil {
		log.Fatalf("Failed to delete ws events: %v", err)
	}
	fmt.Printf("Deleted %d ws events\n", eventsResult.DeletedCount)

	auditResult, err := mongodb.AuditLog().DeleteMany(ctx, bson.M{})
	if err != nil {
		log.Fatalf("Failed to delete audit log entries: %v", err)
	}
	fmt.Printf("Deleted %d audit log entries\n", auditResult.DeletedCount)

	fmt.Println("Database cleared successfully")
}
