package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/ecocommute/internal/auth"
	"github.com/example/ecocommute/internal/config"
	"github.com/example/ecocommute/internal/coord"
	"github.com/example/ecocommute/internal/httpapi"
	"github.com/example/ecocommute/internal/identity"
	"github.com/example/ecocommute/internal/ingest"
	"github.com/example/ecocommute/internal/logging"
	"github.com/example/ecocommute/internal/notify"
	"github.com/example/ecocommute/internal/storage"
	"github.com/example/ecocommute/internal/tracker"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		logging.NewLogger("info").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var rides storage.RideStore
	var users storage.UserStore
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if cfg.RunMigrations {
			if err := pg.Migrate(cfg.MigrationsDir); err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied", "dir", cfg.MigrationsDir)
		}
		rides, users = pg, pg
	} else {
		mem := storage.NewMemoryStore()
		rides, users = mem, mem
		logger.Warn("PG_DSN not set, using in-memory store")
	}

	var locations storage.LocationStore
	if cfg.RedisAddr != "" {
		locations = tracker.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.LocationTTL)
	} else {
		locations = storage.NewMemoryStore()
		logger.Warn("REDIS_ADDR not set, live locations held in memory")
	}

	var verifier identity.Verifier
	if cfg.IdentityProvider == "stub" {
		verifier = identity.StubVerifier{}
		logger.Warn("identity verification running in stub mode")
	} else {
		verifier = identity.NewRemoteVerifier(cfg.IdentityProvider, cfg.IdentityBaseURL,
			cfg.IdentityClientID, cfg.IdentitySecret, cfg.IdentityTimeout)
	}

	var notifier notify.Notifier
	if cfg.NotifyWebhook != "" {
		notifier = notify.NewWebhookNotifier(cfg.NotifyWebhook, logger)
	} else {
		notifier = &notify.LogNotifier{Logger: logger}
	}

	var publisher coord.LocationPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewLocationProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		publisher = producer
	}

	facade := coord.New(coord.Options{
		Rides:     rides,
		Users:     users,
		Locations: locations,
		Verifier:  verifier,
		Notifier:  notifier,
		Publisher: publisher,
		Logger:    logger,
	})

	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	api := httpapi.NewServer(facade, tokens, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
