package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stagehand/stagehand/internal/bus"
	"github.com/stagehand/stagehand/internal/config"
	"github.com/stagehand/stagehand/internal/db"
	"github.com/stagehand/stagehand/internal/outbox"
)

// Standalone relay: runs the polling worker plus the LISTEN/NOTIFY fast
// path, so the API server can be deployed without an in-process relay.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	database, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	eventBus, err := openBus(cfg.Bus)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to event bus")
	}
	defer eventBus.Close()

	repo := outbox.NewRepository(database, cfg.Outbox.NotifyChannel)

	workerCfg := outbox.DefaultConfig()
	workerCfg.PollInterval = cfg.Outbox.PollInterval
	workerCfg.BatchSize = cfg.Outbox.BatchSize
	worker := outbox.NewWorker(repo, eventBus, workerCfg)

	listenerCfg := outbox.DefaultListenerConfig()
	listenerCfg.DatabaseURL = cfg.DB.DSN()
	listenerCfg.NotifyChannel = cfg.Outbox.NotifyChannel
	listener, err := outbox.NewListener(repo, eventBus, listenerCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create outbox listener")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := worker.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start outbox worker")
	}
	if err := listener.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start outbox listener")
	}

	// Health endpoint on its own port so orchestration can probe the relay.
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	healthServer := &http.Server{
		Addr:        ":" + getEnv("RELAY_HEALTH_PORT", "8082"),
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", healthServer.Addr).Msg("relay health server starting")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("relay health server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("relay shutting down")
	cancel()

	if err := listener.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop listener")
	}
	if err := worker.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop worker")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	healthServer.Shutdown(shutdownCtx)

	log.Info().Msg("relay stopped")
}

func openBus(cfg config.BusConfig) (bus.Bus, error) {
	if !cfg.Enabled {
		return bus.NewDisabledBus(), nil
	}
	switch cfg.Backend {
	case "nats":
		natsCfg := bus.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		return bus.NewNATSBus(natsCfg)
	case "amqp":
		return bus.NewAMQPBus(cfg.AMQPURL, "stagehand.events")
	case "memory":
		return bus.NewMemoryBus(), nil
	default:
		return bus.NewDisabledBus(), nil
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
