package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/nmamano/wallgame-broker/internal/authbridge"
	"github.com/nmamano/wallgame-broker/internal/bgsstore"
	"github.com/nmamano/wallgame-broker/internal/botregistry"
	"github.com/nmamano/wallgame-broker/internal/broadcast"
	"github.com/nmamano/wallgame-broker/internal/config"
	"github.com/nmamano/wallgame-broker/internal/db"
	"github.com/nmamano/wallgame-broker/internal/eventbus"
	"github.com/nmamano/wallgame-broker/internal/handlers"
	"github.com/nmamano/wallgame-broker/internal/middleware"
	"github.com/nmamano/wallgame-broker/internal/models"
	"github.com/nmamano/wallgame-broker/internal/persistence"
	"github.com/nmamano/wallgame-broker/internal/protocol"
	"github.com/nmamano/wallgame-broker/internal/store"
	"github.com/nmamano/wallgame-broker/internal/workqueue"
)

func main() {
	env := config.GetEnv()
	cfg, err := config.Load(env)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Starting wallgame broker in %s mode", cfg.Environment)

	mongodb, err := db.NewMongoDB(cfg.MongoDB.URI, cfg.MongoDB.Database)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mongodb.Close(ctx)
	}()
	log.Printf("Connected to MongoDB database: %s", cfg.MongoDB.Database)

	validator := authbridge.NewValidator(cfg.Auth.AccessSecret)

	// Post-game persistence (rating updates, finished-game writes) runs off
	// the hot path through a bounded worker pool.
	jobs := workqueue.New(cfg.Workqueue.Workers, cfg.Workqueue.Capacity)
	jobs.Start()
	defer jobs.Stop()

	persistSvc := persistence.NewService(mongodb)

	sessions := store.New()
	registry := botregistry.New(cfg.Protocol.OfficialBotSecret)
	bgs := bgsstore.New(cfg.Protocol.StrictPly)
	hub := broadcast.NewHub()

	// Cross-machine relay: every local Broadcast/BroadcastExceptPlayer is
	// mirrored through MongoDB Change Streams so a client connected to a
	// different broker process still observes the update.
	eb := eventbus.New(mongodb.WSEvents(), hub)
	if err := eb.EnsureIndexes(context.Background()); err != nil {
		log.Printf("Warning: failed to create ws_events indexes: %v", err)
	}
	eb.Start()
	defer eb.Stop()
	hub.SetRelay(eb.Publish)
	log.Printf("Cross-machine event bus initialized (machineId=%s)", eb.MachineID())

	conns := handlers.NewBotConnHub()

	engine := protocol.NewEngine(sessions, registry, bgs, hub, conns, protocol.Hooks{
		PersistFinishedGame: func(session models.Session) {
			jobs.Submit(func() { persistSvc.PersistFinishedGame(session) })
		},
		// Run synchronously (via SubmitAndWait) rather than fire-and-forget:
		// spec.md §5 requires the new Elo to be committed before the
		// match-status broadcast that reports it.
		UpdateRatings: func(session models.Session) (int, int, bool) {
			var result *persistence.RatingChangeResult
			jobs.SubmitAndWait(func() { result = persistSvc.UpdateRatings(session) })
			if result == nil {
				return 0, 0, false
			}
			return result.HostNewElo, result.JoinerNewElo, true
		},
	}, cfg.BgsRequestTimeout())

	// Periodic sweep of BGS sessions a bot abandoned without
	// end_game_session, bounding the MaxSessions backpressure cap.
	bgsCleanupTicker := time.NewTicker(2 * time.Minute)
	bgsCleanupStop := make(chan struct{})
	go func() {
		for {
			select {
			case <-bgsCleanupStop:
				return
			case <-bgsCleanupTicker.C:
				if stale := bgs.CleanupStale(int64(cfg.Protocol.BgsStaleAfterMs)); len(stale) > 0 {
					log.Printf("bgsstore: reclaimed %d stale session(s)", len(stale))
				}
			}
		}
	}()
	defer func() {
		bgsCleanupTicker.Stop()
		close(bgsCleanupStop)
	}()

	botSocketHandler := handlers.NewBotSocketHandler(engine, conns, mongodb, cfg.Protocol.UnexpectedMessageThreshold)
	evalSocketHandler := handlers.NewEvalSocketHandler(engine, hub)
	gameSocketHandler := handlers.NewGameSocketHandler(sessions, engine, hub, validator)
	sessionHandler := handlers.NewSessionHandler(sessions, registry, engine, hub)
	botDiscoveryHandler := handlers.NewBotDiscoveryHandler(registry)

	authMiddleware := middleware.NewAuthMiddleware(validator)
	rateLimiter := middleware.NewRateLimiter()
	defer rateLimiter.Stop()

	router := mux.NewRouter()

	// WebSocket surfaces (spec.md §6.1-§6.3), rate limited per IP.
	router.HandleFunc("/ws/custom-bot", rateLimiter.RateLimitHandler(
		middleware.WebSocketUpgradeLimit,
		func(r *http.Request) string { return "ws:" + middleware.GetClientIP(r) },
		botSocketHandler.HandleBotWebSocket,
	))
	router.HandleFunc("/ws/eval", rateLimiter.RateLimitHandler(
		middleware.WebSocketUpgradeLimit,
		func(r *http.Request) string { return "ws:" + middleware.GetClientIP(r) },
		evalSocketHandler.HandleEvalWebSocket,
	))
	router.HandleFunc("/ws/games/{id}", rateLimiter.RateLimitHandler(
		middleware.WebSocketUpgradeLimit,
		func(r *http.Request) string { return "ws:" + middleware.GetClientIP(r) },
		gameSocketHandler.HandleGameWebSocket,
	))

	api := router.PathPrefix("/api").Subrouter()

	gamesAPI := api.PathPrefix("/games").Subrouter()
	gamesAPI.Use(authMiddleware.OptionalAuth)
	gamesAPI.HandleFunc("", rateLimiter.RateLimitHandler(
		middleware.SessionCreationLimit,
		func(r *http.Request) string { return "gamecreate:" + middleware.GetClientIP(r) },
		sessionHandler.CreateGame,
	)).Methods("POST")
	gamesAPI.HandleFunc("/{id}", sessionHandler.GetGame).Methods("GET")
	gamesAPI.HandleFunc("/{id}/join", sessionHandler.JoinGame).Methods("POST")
	gamesAPI.HandleFunc("/{id}/ready", sessionHandler.ReadyGame).Methods("POST")
	gamesAPI.HandleFunc("/{id}/abort", sessionHandler.AbortGame).Methods("POST")
	gamesAPI.HandleFunc("/{id}/rematch", rateLimiter.RateLimitHandler(
		middleware.SessionCreationLimit,
		func(r *http.Request) string { return "gamecreate:" + middleware.GetClientIP(r) },
		sessionHandler.CreateRematch,
	)).Methods("POST")

	botsAPI := api.PathPrefix("/bots").Subrouter()
	botsAPI.HandleFunc("", rateLimiter.RateLimitHandler(
		middleware.BotDiscoveryLimit,
		func(r *http.Request) string { return "botlist:" + middleware.GetClientIP(r) },
		botDiscoveryHandler.ListBots,
	)).Methods("GET")
	botsAPI.HandleFunc("/recommended", rateLimiter.RateLimitHandler(
		middleware.BotDiscoveryLimit,
		func(r *http.Request) string { return "botlist:" + middleware.GetClientIP(r) },
		botDiscoveryHandler.ListRecommendedBots,
	)).Methods("GET")
	botsAPI.HandleFunc("/play", rateLimiter.RateLimitHandler(
		middleware.SessionCreationLimit,
		func(r *http.Request) string { return "gamecreate:" + middleware.GetClientIP(r) },
		sessionHandler.PlayBot,
	)).Methods("POST")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.Frontend.URL},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      middleware.SecurityHeaders()(corsHandler.Handler(router)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
