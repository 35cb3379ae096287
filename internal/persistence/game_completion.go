// Package persistence implements the finished-game archive and rating
// update hooks the Protocol Engine calls after a session ends: the archive
// write is fire-and-forget, the rating update is awaited so its result can
// go out with match-status (spec.md §4.5.4, §7).
package persistence

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nmamano/wallgame-broker/internal/db"
	"github.com/nmamano/wallgame-broker/internal/elo"
	"github.com/nmamano/wallgame-broker/internal/models"
)

// RatingChangeResult reports the Elo movement applied to each seat.
type RatingChangeResult struct {
	HostChange   int
	JoinerChange int
	HostNewElo   int
	JoinerNewElo int
}

// Service persists finished sessions and updates ratings, grounded on the
// teacher's GameCompletionService but generalized for a subject that may
// be an authenticated user or a bot's composite id.
type Service struct {
	db         *db.MongoDB
	calculator *elo.Calculator
}

func NewService(database *db.MongoDB) *Service {
	return &Service{db: database, calculator: elo.NewCalculator()}
}

// PersistFinishedGame archives a completed session. Called fire-and-forget
// off the workqueue so the WS reply is never delayed by a DB round trip.
func (s *Service) PersistFinishedGame(session models.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := s.db.Sessions().InsertOne(ctx, session)
	if err != nil {
		log.Printf("persistence: failed to archive session %s: %v", session.ID, err)
	}
}

// UpdateRatings applies the Elo update for a finished rated session. A
// seat belongs to either an authenticated user (AuthUserID) or a bot
// (BotCompositeID); unauthenticated human seats have neither and are
// skipped, matching the teacher's guard against a nil UserID.
func (s *Service) UpdateRatings(session models.Session) *RatingChangeResult {
	if !session.Rated || session.GameState.Result == nil {
		return nil
	}

	hostSubject := subjectID(session.Host)
	joinerSubject := subjectID(session.Joiner)
	if hostSubject == "" || joinerSubject == "" {
		return nil
	}

	hostResult, joinerResult := elo.GetGameResultFromWinner(session.GameState.Result.Winner)

	hostGamesPlayed := s.gamesPlayed(hostSubject, session.Variant)
	joinerGamesPlayed := s.gamesPlayed(joinerSubject, session.Variant)

	hostNewElo := s.calculator.CalculateNewRating(session.Host.RatingAtStart, session.Joiner.RatingAtStart, hostResult, hostGamesPlayed)
	joinerNewElo := s.calculator.CalculateNewRating(session.Joiner.RatingAtStart, session.Host.RatingAtStart, joinerResult, joinerGamesPlayed)

	s.applyRating(hostSubject, session.Variant, hostNewElo, hostResult)
	s.applyRating(joinerSubject, session.Variant, joinerNewElo, joinerResult)

	result := &RatingChangeResult{
		HostChange:   hostNewElo - session.Host.RatingAtStart,
		JoinerChange: joinerNewElo - session.Joiner.RatingAtStart,
		HostNewElo:   hostNewElo,
		JoinerNewElo: joinerNewElo,
	}
	log.Printf("persistence: session %s rating update: host %d -> %d (%+d), joiner %d -> %d (%+d)",
		session.ID, session.Host.RatingAtStart, hostNewElo, result.HostChange,
		session.Joiner.RatingAtStart, joinerNewElo, result.JoinerChange)
	return result
}

func subjectID(seat models.Seat) string {
	if seat.BotCompositeID != nil {
		return *seat.BotCompositeID
	}
	if seat.AuthUserID != nil {
		return *seat.AuthUserID
	}
	return ""
}

type ratingDoc struct {
	SubjectID  string        `bson:"subjectId"`
	Variant    models.Variant `bson:"variant"`
	Rating     int           `bson:"rating"`
	GamesPlayed int          `bson:"gamesPlayed"`
	Wins       int           `bson:"wins"`
	Losses     int           `bson:"losses"`
	Draws      int           `bson:"draws"`
	UpdatedAt  time.Time     `bson:"updatedAt"`
}

func (s *Service) gamesPlayed(subjectID string, variant models.Variant) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var doc ratingDoc
	err := s.db.Ratings().FindOne(ctx, bson.M{"subjectId": subjectID, "variant": variant}).Decode(&doc)
	if err != nil {
		return 0
	}
	return doc.GamesPlayed
}

func (s *Service) applyRating(subjectID string, variant models.Variant, newElo int, result elo.GameResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inc := bson.M{"gamesPlayed": 1}
	switch result {
	case elo.Win:
		inc["wins"] = 1
	case elo.Loss:
		inc["losses"] = 1
	case elo.Draw:
		inc["draws"] = 1
	}

	now := time.Now()
	opts := options.Update().SetUpsert(true)
	_, err := s.db.Ratings().UpdateOne(ctx, bson.M{"subjectId": subjectID, "variant": variant}, bson.M{
		"$set":         bson.M{"rating": newElo, "updatedAt": now},
		"$inc":         inc,
		"$setOnInsert": bson.M{"createdAt": now},
	}, opts)
	if err != nil {
		log.Printf("persistence: failed to update rating for %s/%s: %v", subjectID, variant, err)
	}
}
