package stream

import (
	"context"
	"fmt"

	redisconn "github.com/povarna/generative-ai-agents/guardrail-clamp/internal/redis"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/stream/redis"
	"github.com/rs/zerolog"
)

type StreamConfig struct {
	Provider    string // only redis today
	RedisConfig *redis.RedisStreamConfig
	MaxRetries  int
}

func NewStreamConsumer(
	ctx context.Context,
	cfg *StreamConfig,
	ingester redis.Ingester,
	logger *zerolog.Logger,
) (StreamConsumer, error) {

	provider := cfg.Provider
	if provider == "" {
		provider = "redis"
	}

	switch provider {
	case "redis":
		if cfg.RedisConfig == nil {
			return nil, fmt.Errorf("redis config required")
		}

		client, err := redisconn.Connect(ctx, redisconn.ConnectionConfig{
			Addr:       cfg.RedisConfig.RedisAddr,
			Password:   cfg.RedisConfig.RedisPassword,
			MaxRetries: cfg.MaxRetries,
		}, logger)
		if err != nil {
			return nil, err
		}

		return redis.NewConsumer(client, cfg.RedisConfig, ingester, logger), nil

	default:
		return nil, fmt.Errorf("unsupported stream provider: %s", cfg.Provider)
	}
}
