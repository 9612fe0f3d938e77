package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quizroom-service/internal/config"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
	pgloader "quizroom-service/internal/infra/postgres"
	redisinfra "quizroom-service/internal/infra/redis"
	"quizroom-service/internal/session"
	"quizroom-service/internal/transport/ws"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.RoomLoader = memory.NewStaticRoomLoader(sampleRooms())
	if pool != nil {
		loader = pgloader.NewRoomLoader(pool)
	}

	roomTTL := config.TTLDuration(cfg.Room.TTL, 10*time.Minute)
	var rooms session.RoomRepository
	if redisClient != nil {
		rooms = redisinfra.NewRoomRepository(redisClient, loader, roomTTL)
	} else {
		rooms = memory.NewRoomRepository(loader, roomTTL)
	}

	regCfg := session.RegistryConfig{
		Session: session.Config{
			Scoring: session.ScoringRules{
				MaxPoints:   cfg.Quiz.MaxPoints,
				DecayPoints: cfg.Quiz.DecayPoints,
				MinPoints:   cfg.Quiz.MinPoints,
			},
			LeaderboardSize:  cfg.Quiz.LeaderboardSize,
			LeaderboardDelay: config.TTLDuration(cfg.Quiz.LeaderboardDelay, 5*time.Second),
		},
		IdleRetention: config.TTLDuration(cfg.Quiz.IdleRetention, 2*time.Hour),
	}
	if redisClient != nil {
		markerTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)
		regCfg.Liveness = redisinfra.NewSessionMarker(redisClient, markerTTL)
	}
	registry := session.NewRegistry(rooms, regCfg)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go registry.Run(sweepCtx, config.TTLDuration(cfg.Quiz.SweepInterval, time.Minute))

	gateway := ws.NewGateway(registry, rooms)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", gateway.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quiz room service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleRooms provides a minimal room set for running without Postgres.
func sampleRooms() map[string]domain.Room {
	return map[string]domain.Room{
		"ROOM01": {
			ID:        "ROOM01",
			Title:     "Warm-up quiz",
			CreatorID: "host-1",
			Questions: []domain.Question{
				{
					Text:          "What is 2 + 2?",
					Options:       []string{"3", "4", "5"},
					CorrectAnswer: 1,
				},
				{
					Text:          "Which planet is known as the Red Planet?",
					Options:       []string{"Venus", "Jupiter", "Mars"},
					CorrectAnswer: 2,
					Explanation:   "Iron oxide on its surface gives Mars its color.",
				},
			},
			Settings: domain.RoomSettings{TimerEnabled: true, TimerDuration: 20},
		},
	}
}
