package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/setup"
	applog "github.com/povarna/generative-ai-agents/guardrail-clamp/internal/setup/logger"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/stream"
	"github.com/rs/zerolog/log"
)

// Headless guardrail: consumes the sample stream without serving HTTP. Run it
// instead of, not next to, an API instance with GUARDRAIL_STREAM_ENABLED, since
// each process keeps its own evaluation window.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found")
	}

	cfg := setup.LoadConfig()
	logger := applog.New(cfg.LogLevel, os.Getenv("LOG_FORMAT"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	deps, err := setup.Wire(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer deps.Close()

	consumer, err := stream.NewStreamConsumer(ctx, cfg.StreamConfig(), deps.Pipeline, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create stream consumer")
	}
	defer consumer.Stop()

	if err := consumer.Setup(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to setup consumer")
	}

	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Consumer stopped with error")
	}

	logger.Info().
		Str("state", string(deps.Service.Status().State)).
		Msg("Guardrail consumer stopped")
}
