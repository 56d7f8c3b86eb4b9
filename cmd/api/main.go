package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/go-openapi/spec"
	"github.com/joho/godotenv"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/api"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/api/middleware"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/observability"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/setup"
	applog "github.com/povarna/generative-ai-agents/guardrail-clamp/internal/setup/logger"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/stream"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

const serviceVersion = "1.0.0"

func enrichSwaggerObject(swo *spec.Swagger) {
	swo.Info = &spec.Info{
		InfoProps: spec.InfoProps{
			Title:       "Guardrail Clamp API",
			Description: "Disables the AI assistant feature flag when chat quality degrades",
			Version:     serviceVersion,
		},
	}
	swo.Tags = []spec.Tag{
		{TagProps: spec.TagProps{Name: "health", Description: "Health checks"}},
		{TagProps: spec.TagProps{Name: "guardrail", Description: "Sample ingestion, bypass check and feature gate"}},
		{TagProps: spec.TagProps{Name: "operations", Description: "Status, metrics and manual controls"}},
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg := setup.LoadConfig()
	logger := applog.New(cfg.LogLevel, os.Getenv("LOG_FORMAT"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.ServiceName, serviceVersion, cfg.OTLPEndpoint)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to set up metrics export")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("Failed to flush metrics")
			}
		}()
		logger.Info().Str("endpoint", cfg.OTLPEndpoint).Msg("OTLP metrics export enabled")
	}

	deps, err := setup.Wire(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer deps.Close()

	if cfg.StreamEnabled {
		consumer, err := stream.NewStreamConsumer(ctx, cfg.StreamConfig(), deps.Pipeline, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create stream consumer")
		}
		if err := consumer.Setup(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to set up stream consumer")
		}

		go func() {
			defer consumer.Stop()
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("Stream consumer stopped")
			}
		}()
	}

	limiter := middleware.NewRateLimiter(cfg.OperatorRPS, cfg.OperatorBurst)
	go limiter.Run(ctx)

	container := restful.NewContainer()
	container.Filter(middleware.Logger)
	container.Filter(middleware.RecoverPanic)

	api.RegisterRoutes(container, api.NewHandler(deps.Pipeline, &logger), limiter)

	container.Add(restfulspec.NewOpenAPIService(restfulspec.Config{
		WebServices:                   container.RegisteredWebServices(),
		APIPath:                       "/api/v1/openapi.json",
		PostBuildSwaggerObjectHandler: enrichSwaggerObject,
	}))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	server := http.Server{
		Addr:         addr,
		Handler:      corsHandler.Handler(container),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info().Msg("Shutting down Guardrail Clamp API")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}()

	logger.Info().
		Str("address", addr).
		Str("flag", cfg.LDFlagKey).
		Bool("stream", cfg.StreamEnabled).
		Str("persist", cfg.Persist).
		Msg("Starting Guardrail Clamp API")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}
