package redis

import "time"

const (
	DefaultStream    = "guardrail-samples"
	DefaultGroup     = "guardrail-clamp"
	DefaultBatchSize = 10
	DefaultBlock     = 2 * time.Second
)

type RedisStreamConfig struct {
	RedisAddr     string
	RedisPassword string
	Stream        string
	Group         string
	ConsumerName  string
	BatchSize     int64
	Block         time.Duration
}

func NewRedisStreamConfig(redisAddr string, redisPassword string, stream string, group string, consumerName string) *RedisStreamConfig {
	if stream == "" {
		stream = DefaultStream
	}
	if group == "" {
		group = DefaultGroup
	}
	return &RedisStreamConfig{
		RedisAddr:     redisAddr,
		RedisPassword: redisPassword,
		Stream:        stream,
		Group:         group,
		ConsumerName:  consumerName,
		BatchSize:     DefaultBatchSize,
		Block:         DefaultBlock,
	}
}
