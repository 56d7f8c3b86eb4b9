package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// PayloadField is the stream entry field holding the JSON encoded SampleEvent.
const PayloadField = "payload"

var ErrMissingPayload = errors.New("missing payload field")

// Ingester receives every decoded sample event. Implementations decide how the
// event becomes a MetricSample.
type Ingester interface {
	IngestEvent(ctx context.Context, event models.SampleEvent) (models.IngestResult, error)
}

type Consumer struct {
	client       redis.Cmdable
	stream       string
	groupID      string
	consumerName string
	batchSize    int64
	block        time.Duration
	ingester     Ingester
	logger       *zerolog.Logger
}

func NewConsumer(client redis.Cmdable, cfg *RedisStreamConfig, ingester Ingester, logger *zerolog.Logger) *Consumer {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	block := cfg.Block
	if block <= 0 {
		block = DefaultBlock
	}

	return &Consumer{
		client:       client,
		stream:       cfg.Stream,
		groupID:      cfg.Group,
		consumerName: cfg.ConsumerName,
		batchSize:    batch,
		block:        block,
		ingester:     ingester,
		logger:       logger,
	}
}

func (c *Consumer) Setup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.groupID, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", c.groupID, c.stream, err)
	}
	return nil
}

func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info().
		Str("stream", c.stream).
		Str("group", c.groupID).
		Str("consumer", c.consumerName).
		Msg("Consumer started")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.groupID,
			Consumer: c.consumerName,
			Streams:  []string{c.stream, ">"},
			Count:    c.batchSize,
			Block:    c.block,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			c.logger.Error().Err(err).Msg("Failed to read from stream")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				c.process(ctx, msg)
			}
		}
	}
}

// Stop releases the Redis connection when the consumer owns one.
func (c *Consumer) Stop() error {
	if closer, ok := c.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// process always acknowledges: a sample that cannot be decoded or fails
// validation will not become valid on redelivery.
func (c *Consumer) process(ctx context.Context, msg redis.XMessage) {
	defer c.ack(ctx, msg.ID)

	event, err := decodeMessage(msg)
	if err != nil {
		c.logger.Error().Err(err).Str("id", msg.ID).Msg("Failed to decode message")
		return
	}

	result, err := c.ingester.IngestEvent(ctx, event)
	if err != nil {
		c.logger.Warn().Err(err).Str("id", msg.ID).Str("event_id", event.EventID).Msg("Sample rejected")
		return
	}

	c.logger.Debug().
		Str("id", msg.ID).
		Str("event_id", event.EventID).
		Str("action", result.Action).
		Str("severity", result.Severity).
		Msg("Sample processed")
}

func (c *Consumer) ack(ctx context.Context, msgID string) {
	// The ack must land even when shutdown cancelled ctx mid-message.
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := c.client.XAck(ackCtx, c.stream, c.groupID, msgID).Err(); err != nil {
		c.logger.Error().Err(err).Str("id", msgID).Msg("Failed to ACK message")
	}
}

func decodeMessage(msg redis.XMessage) (models.SampleEvent, error) {
	var event models.SampleEvent

	payload, ok := msg.Values[PayloadField].(string)
	if !ok {
		return event, ErrMissingPayload
	}
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return event, fmt.Errorf("invalid sample payload: %w", err)
	}
	if event.EventID == "" {
		event.EventID = msg.ID
	}
	return event, nil
}
