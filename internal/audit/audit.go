// Package audit records protocol-lifecycle events — attach results,
// unexpected-message-threshold breaches, bot disconnects — the
// way the teacher records security events, fire-and-forget against Mongo.
package audit

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/nmamano/wallgame-broker/internal/db"
	"github.com/nmamano/wallgame-broker/internal/middleware"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Event types for audit logging.
const (
	EventAttachAccepted       = "attach_accepted"
	EventAttachRejected       = "attach_rejected"
	EventUnexpectedThreshold  = "unexpected_message_threshold"
	EventBotDisconnected      = "bot_disconnected"
	EventBotForfeited         = "bot_forfeited"
	EventEvalHandshakeDenied  = "eval_handshake_denied"
	EventRateLimitExceeded    = "rate_limit_exceeded"
)

// AuditEvent represents a protocol-lifecycle event.
type AuditEvent struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	EventType string             `bson:"eventType"`
	ClientID  string             `bson:"clientId,omitempty"`
	GameID    string             `bson:"gameId,omitempty"`
	IP        string             `bson:"ip"`
	UserAgent string             `bson:"userAgent"`
	Details   string             `bson:"details,omitempty"`
	CreatedAt time.Time          `bson:"createdAt"`
}

// LogEvent writes an audit event to the database (fire-and-forget). r may
// be nil for events raised off a WebSocket frame rather than an HTTP
// request (e.g. a bot disconnect is logged with no HTTP request).
func LogEvent(database *db.MongoDB, eventType, clientID, gameID string, r *http.Request, details string) {
	event := AuditEvent{
		EventType: eventType,
		ClientID:  clientID,
		GameID:    gameID,
		Details:   details,
		CreatedAt: time.Now(),
	}
	if r != nil {
		event.IP = middleware.GetClientIP(r)
		event.UserAgent = r.UserAgent()
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := database.AuditLog().InsertOne(ctx, bson.M{
			"eventType": event.EventType,
			"clientId":  event.ClientID,
			"gameId":    event.GameID,
			"ip":        event.IP,
			"userAgent": event.UserAgent,
			"details":   event.Details,
			"createdAt": event.CreatedAt,
		}); err != nil {
			log.Printf("audit: log write failed: %v", err)
		}
	}()
}
