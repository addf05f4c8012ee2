package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/obakengshepherd/risksentinel/configs"
	"github.com/obakengshepherd/risksentinel/internal/queue"
	"github.com/obakengshepherd/risksentinel/internal/scoring"
)

// dlq-monitor drains the dead-letter stream that EventBus.PublishAsync
// routes fan-out failures to. Scoring itself runs inline with the request,
// so the only thing left for a standalone process is watching for events
// the bus could not deliver.
func main() {
	_ = godotenv.Load()

	cfg := configs.Load()

	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Int("poll_batch_size", cfg.Worker.BatchSize).
		Msg("starting dead-letter monitor")

	bus, err := queue.NewEventBus(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to event bus")
	}
	defer bus.Close()

	monitorID := fmt.Sprintf("dlq-monitor-%s", uuid.New().String()[:8])
	monitor := scoring.NewDLQMonitor(monitorID, bus, cfg.Worker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- monitor.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("dead-letter monitor error")
		}
	}

	metrics := monitor.Metrics()
	log.Info().
		Int64("drained_count", metrics.DrainedCount).
		Msg("dead-letter monitor shutdown complete")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
