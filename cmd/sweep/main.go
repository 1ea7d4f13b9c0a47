package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stagehand/stagehand/internal/booking"
	"github.com/stagehand/stagehand/internal/chat"
	"github.com/stagehand/stagehand/internal/config"
	"github.com/stagehand/stagehand/internal/db"
	"github.com/stagehand/stagehand/internal/outbox"
	"github.com/stagehand/stagehand/internal/outreach"
	"github.com/stagehand/stagehand/internal/supplier"
)

// One-shot sweep for cron-style deployments: nudge, expire, escalate, exit.
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

	clock := clockwork.NewRealClock()
	outboxRepo := outbox.NewRepository(database, cfg.Outbox.NotifyChannel)
	ledgerRepo := outreach.NewRepository(database, outboxRepo)
	bookingRepo := booking.NewRepository(database)
	supplierRepo := supplier.NewRepository(database)
	chatRepo := chat.NewRepository(database)

	app := outreach.NewApp(ledgerRepo, supplierRepo, bookingRepo, chatRepo, clock, outreach.Settings{
		MaxFanout:  cfg.Outreach.MaxFanout,
		DefaultTTL: cfg.Outreach.DefaultTTL,
	})

	sweeperCfg := outreach.DefaultSweeperConfig()
	sweeperCfg.NudgeLookahead = cfg.Outreach.NudgeLookahead
	sweeper := outreach.NewSweeper(ledgerRepo, app, clock, sweeperCfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	stats, err := sweeper.RunOnce(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("sweep failed")
	}

	log.Info().
		Int("nudged", stats.Nudged).
		Int("expired", stats.Expired).
		Int("escalated", stats.Escalated).
		Int("exhausted", stats.Exhausted).
		Msg("sweep finished")
}
