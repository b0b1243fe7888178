package cmd

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wesal-sync-backend/internal/config"
	"wesal-sync-backend/internal/handlers"
	"wesal-sync-backend/internal/migrations"
	"wesal-sync-backend/internal/realtime"
	"wesal-sync-backend/internal/repository"
	"wesal-sync-backend/internal/services"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Run() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if cfg.Database.Migrate {
		if err := migrations.Up(cfg.Database.URL()); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate database")
		}
	}

	// Connect to database
	db, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	coupleRepo := repository.NewCoupleRepository(db)
	sessionRepo := repository.NewSessionRepository(db)

	// Initialize services
	var notifier services.Notifier = services.NoopNotifier{}
	if cfg.APNs.Enabled {
		apns, err := services.NewAPNsNotifier(cfg.APNs.CertificatePath, cfg.APNs.CertificatePass, cfg.APNs.Topic, cfg.APNs.Production)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create APNs notifier")
		}
		notifier = apns
	}

	userService := services.NewUserService(userRepo, cfg.JWT.Secret)
	pairService := services.NewPairService(coupleRepo, userRepo, cfg.Pairing.CacheTTL)
	defer pairService.Close()
	presenceService := services.NewPresenceService(userRepo, pairService)
	sessionService := services.NewSessionService(sessionRepo, userRepo, pairService, notifier)
	policy := services.NewAccessPolicy(pairService, sessionService)
	wsHub := services.NewWSHub(pairService)

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		relay := services.NewRedisRelay(rdb)
		wsHub.SetRelay(relay)
		go func() {
			if err := relay.Run(ctx, wsHub); err != nil {
				log.Error().Err(err).Msg("Socket relay stopped")
			}
		}()
	}

	// Realtime change feed
	broker := realtime.NewBroker()
	listener := repository.NewChangeListener(db, userRepo, sessionRepo, broker.Publish)
	go listener.Run(ctx)

	// Session sweeper
	var archiver services.Archiver
	if cfg.AWS.S3Bucket != "" {
		s3Archiver, err := services.NewS3Archiver(ctx, services.S3Options{
			Region:    cfg.AWS.Region,
			Bucket:    cfg.AWS.S3Bucket,
			AccessKey: cfg.AWS.AccessKey,
			SecretKey: cfg.AWS.SecretKey,
			Endpoint:  cfg.AWS.Endpoint,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create session archiver")
		}
		archiver = s3Archiver
	}
	sweeper := services.NewSweeper(sessionRepo, archiver, cfg.Sweeper.MaxIdle, cfg.Sweeper.BatchSize)
	if err := sweeper.Start(cfg.Sweeper.Schedule); err != nil {
		log.Fatal().Err(err).Msg("Failed to start session sweeper")
	}

	router := handlers.NewRouter(handlers.Dependencies{
		Users:    userService,
		Pairs:    pairService,
		Presence: presenceService,
		Sessions: sessionService,
		Policy:   policy,
		Hub:      wsHub,
		Broker:   broker,
	})

	// Create HTTP server. WebSocket connections are long-lived so there
	// is no write timeout.
	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	stop()
	sweeper.Stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
