package setup

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/bypass"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/config"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/flags"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/ingest"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/llm/bedrock"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/observability"
	redisconn "github.com/povarna/generative-ai-agents/guardrail-clamp/internal/redis"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/scoring"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/service"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/store"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/stream"
	streamredis "github.com/povarna/generative-ai-agents/guardrail-clamp/internal/stream/redis"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	PersistMemory = "memory"
	PersistRedis  = "redis"
)

type Config struct {
	LogLevel    string
	ServiceName string
	APIPort     string
	CORSOrigins []string

	// Flag control plane
	LDAPIToken       string
	LDBaseURL        string
	LDProjectKey     string
	LDEnvironmentKey string
	LDFlagKey        string
	FlagTimeout      time.Duration

	BypassPhrase string
	SafeResponse string

	// Sample stream and persistence
	StreamEnabled   bool
	StreamProvider  string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	Stream          string
	StreamGroup     string
	ConsumerName    string
	Persist         string
	StateKey        string

	// Turn scoring
	AWSRegion     string
	ClaudeModelID string

	OTLPEndpoint  string
	OperatorRPS   float64
	OperatorBurst int
}

type Dependencies struct {
	Config    *Config
	Guardrail *config.GuardrailConfig
	Service   *service.GuardrailService
	Pipeline  *ingest.Pipeline
	Flags     *flags.LaunchDarklyClient
	Metrics   *observability.Metrics
	Logger    *zerolog.Logger

	redis *redis.Client
}

func LoadConfig() *Config {
	hostname, _ := os.Hostname()

	return &Config{
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		ServiceName: getEnv("OTEL_SERVICE_NAME", "guardrail-clamp"),
		APIPort:     getEnv("GUARDRAIL_API_PORT", "18082"),
		CORSOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		LDAPIToken:       getEnv("LD_API_TOKEN", ""),
		LDBaseURL:        getEnv("LAUNCHDARKLY_BASE_URL", flags.DefaultBaseURL),
		LDProjectKey:     getEnv("LAUNCHDARKLY_PROJECT_KEY", "mpoliks-ld-demo"),
		LDEnvironmentKey: getEnv("LAUNCHDARKLY_ENVIRONMENT_KEY", "production"),
		LDFlagKey:        getEnv("LAUNCHDARKLY_FLAG_KEY", "toggle-bank-rag"),
		FlagTimeout:      getEnvDuration("FLAG_TIMEOUT", service.DefaultFlagTimeout),

		BypassPhrase: getEnv("GUARDRAIL_BYPASS_PHRASE", ""),
		SafeResponse: getEnv("GUARDRAIL_SAFE_RESPONSE", ""),

		StreamEnabled:   getEnvBool("GUARDRAIL_STREAM_ENABLED", false),
		StreamProvider:  getEnv("STREAM_PROVIDER", "redis"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		RedisMaxRetries: getEnvInt("REDIS_MAX_RETRIES", 5),
		Stream:          getEnv("GUARDRAIL_STREAM", streamredis.DefaultStream),
		StreamGroup:     getEnv("GUARDRAIL_STREAM_GROUP", streamredis.DefaultGroup),
		ConsumerName:    getEnv("GUARDRAIL_CONSUMER_NAME", "clamp-"+hostname),
		Persist:         getEnv("GUARDRAIL_PERSIST", PersistMemory),
		StateKey:        getEnv("GUARDRAIL_STATE_KEY", store.DefaultKey),

		AWSRegion:     getEnv("AWS_REGION", "us-east-1"),
		ClaudeModelID: getEnv("CLAUDE_MODEL_ID", ""),

		OTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OperatorRPS:   getEnvFloat("OPERATOR_RATE_LIMIT_RPS", 1),
		OperatorBurst: getEnvInt("OPERATOR_RATE_LIMIT_BURST", 5),
	}
}

// StreamConfig describes the sample stream consumer for this configuration.
func (c *Config) StreamConfig() *stream.StreamConfig {
	return &stream.StreamConfig{
		Provider:    c.StreamProvider,
		RedisConfig: streamredis.NewRedisStreamConfig(c.RedisAddr, c.RedisPassword, c.Stream, c.StreamGroup, c.ConsumerName),
		MaxRetries:  c.RedisMaxRetries,
	}
}

func (c *Config) FlagConfig() flags.Config {
	return flags.Config{
		BaseURL:        c.LDBaseURL,
		APIToken:       c.LDAPIToken,
		ProjectKey:     c.LDProjectKey,
		EnvironmentKey: c.LDEnvironmentKey,
		FlagKey:        c.LDFlagKey,
		Timeout:        c.FlagTimeout,
	}
}

func Wire(ctx context.Context, cfg *Config, logger *zerolog.Logger) (*Dependencies, error) {
	guardrailCfg, err := config.LoadGuardrailConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load guardrail config: %w", err)
	}
	if cfg.BypassPhrase != "" {
		guardrailCfg.Bypass.Phrase = cfg.BypassPhrase
	}
	if cfg.SafeResponse != "" {
		guardrailCfg.Bypass.SafeResponse = cfg.SafeResponse
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	flagClient := flags.NewLaunchDarklyClient(cfg.FlagConfig(), logger)

	deps := &Dependencies{
		Config:    cfg,
		Guardrail: guardrailCfg,
		Flags:     flagClient,
		Metrics:   metrics,
		Logger:    logger,
	}

	opts := service.Options{
		Policy:       guardrailCfg.Policy,
		Detector:     bypass.NewDetector(guardrailCfg.Bypass.Phrase),
		SafeResponse: guardrailCfg.Bypass.SafeResponse,
		Flags:        flagClient,
		Metrics:      metrics,
		FlagTimeout:  cfg.FlagTimeout,
	}

	switch cfg.Persist {
	case PersistRedis:
		client, err := redisconn.Connect(ctx, redisconn.ConnectionConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			MaxRetries: cfg.RedisMaxRetries,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect state store: %w", err)
		}
		deps.redis = client
		opts.Store = store.NewRedisStore(client, cfg.StateKey)
	case PersistMemory, "":
		opts.Store = store.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported GUARDRAIL_PERSIST value: %s", cfg.Persist)
	}

	scorer, err := createScorer(ctx, cfg, guardrailCfg.Scoring, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}

	deps.Service = service.NewGuardrailService(ctx, opts, logger)
	deps.Pipeline = ingest.NewPipeline(scoring.NewNormalizer(scorer, nil, logger), deps.Service, logger)

	return deps, nil
}

// Close releases connections opened by Wire.
func (d *Dependencies) Close() {
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			d.Logger.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}
}

// createScorer returns nil when transcript scoring is off or has no model.
func createScorer(ctx context.Context, cfg *Config, scoringCfg config.ScoringConfig, logger *zerolog.Logger) (scoring.Scorer, error) {
	if !scoringCfg.Enabled {
		return nil, nil
	}
	if cfg.ClaudeModelID == "" {
		logger.Warn().Msg("Scoring enabled but CLAUDE_MODEL_ID not set, transcripts will not be scored")
		return nil, nil
	}

	client, err := bedrock.NewClient(ctx, cfg.AWSRegion, cfg.ClaudeModelID, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bedrock client: %w", err)
	}

	judge, err := scoring.NewAccuracyJudge(scoringCfg, client, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create accuracy judge: %w", err)
	}
	return judge, nil
}

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}

	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		value = defaultValue
	}

	return value
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

func getEnvList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
