package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/stagehand/stagehand/internal/booking"
	"github.com/stagehand/stagehand/internal/bus"
	"github.com/stagehand/stagehand/internal/chat"
	"github.com/stagehand/stagehand/internal/config"
	"github.com/stagehand/stagehand/internal/db"
	"github.com/stagehand/stagehand/internal/gateway"
	"github.com/stagehand/stagehand/internal/httpapi"
	"github.com/stagehand/stagehand/internal/outbox"
	"github.com/stagehand/stagehand/internal/outreach"
	"github.com/stagehand/stagehand/internal/supplier"
)

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

	clock := clockwork.NewRealClock()

	outboxRepo := outbox.NewRepository(database, cfg.Outbox.NotifyChannel)
	bookingRepo := booking.NewRepository(database)
	supplierRepo := supplier.NewRepository(database)
	chatRepo := chat.NewRepository(database)
	ledgerRepo := outreach.NewRepository(database, outboxRepo)

	outreachApp := outreach.NewApp(ledgerRepo, supplierRepo, bookingRepo, chatRepo, clock, outreach.Settings{
		MaxFanout:  cfg.Outreach.MaxFanout,
		DefaultTTL: cfg.Outreach.DefaultTTL,
	})

	sweeperCfg := outreach.DefaultSweeperConfig()
	sweeperCfg.Interval = cfg.Outreach.SweepInterval
	sweeperCfg.NudgeLookahead = cfg.Outreach.NudgeLookahead
	sweeper := outreach.NewSweeper(ledgerRepo, outreachApp, clock, sweeperCfg)

	workerCfg := outbox.DefaultConfig()
	workerCfg.PollInterval = cfg.Outbox.PollInterval
	workerCfg.BatchSize = cfg.Outbox.BatchSize
	relayWorker := outbox.NewWorker(outboxRepo, eventBus, workerCfg)

	registry := gateway.NewRegistry(gateway.DefaultConnectionConfig())
	consumer := gateway.NewConsumer(eventBus, registry, "bookings:*")

	apiHandler := httpapi.NewHandler(outreachApp, bookingRepo, sweeper, outboxRepo)
	wsHandler := gateway.NewHandler(registry)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	apiHandler.Routes(router)
	wsHandler.Routes(router)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(router)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h2c.NewHandler(corsHandler, &http2.Server{}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		registry.Start(gctx)
		return nil
	})

	if err := consumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start gateway consumer")
	}
	defer consumer.Stop()

	if err := relayWorker.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start outbox worker")
	}
	defer relayWorker.Stop()

	if err := sweeper.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start sweeper")
	}
	defer sweeper.Stop()

	group.Go(func() error {
		log.Info().Str("port", cfg.Port).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
		case <-gctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown failed")
		}
		cancel()
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}
	log.Info().Msg("server stopped")
}

// openBus builds the configured fanout transport. A disabled bus keeps the
// whole pipeline functional minus realtime delivery.
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
