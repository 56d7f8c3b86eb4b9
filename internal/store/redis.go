package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/models"
	"github.com/redis/go-redis/v9"
)

const DefaultKey = "guardrail:state"

const (
	fieldFlagEnabled       = "flag_enabled"
	fieldLastTriggerTime   = "last_trigger_time"
	fieldLastDisableTime   = "last_disable_time"
	fieldLastDisableReason = "last_disable_reason"
)

// RedisStore persists the snapshot as a single hash. Empty fields mean "unset".
type RedisStore struct {
	client redis.Cmdable
	key    string
}

func NewRedisStore(client redis.Cmdable, key string) *RedisStore {
	if key == "" {
		key = DefaultKey
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) (models.StateSnapshot, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return models.StateSnapshot{}, false, fmt.Errorf("failed to load guardrail state: %w", err)
	}
	if len(fields) == 0 {
		return models.StateSnapshot{}, false, nil
	}

	snapshot := models.StateSnapshot{
		FlagEnabled:       true,
		LastDisableReason: fields[fieldLastDisableReason],
	}
	if v, ok := fields[fieldFlagEnabled]; ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return models.StateSnapshot{}, false, fmt.Errorf("invalid %s %q: %w", fieldFlagEnabled, v, err)
		}
		snapshot.FlagEnabled = enabled
	}
	if snapshot.LastTriggerTime, err = parseTime(fields[fieldLastTriggerTime]); err != nil {
		return models.StateSnapshot{}, false, err
	}
	if snapshot.LastDisableTime, err = parseTime(fields[fieldLastDisableTime]); err != nil {
		return models.StateSnapshot{}, false, err
	}

	return snapshot, true, nil
}

func (s *RedisStore) Save(ctx context.Context, snapshot models.StateSnapshot) error {
	err := s.client.HSet(ctx, s.key, map[string]any{
		fieldFlagEnabled:       strconv.FormatBool(snapshot.FlagEnabled),
		fieldLastTriggerTime:   formatTime(snapshot.LastTriggerTime),
		fieldLastDisableTime:   formatTime(snapshot.LastDisableTime),
		fieldLastDisableReason: snapshot.LastDisableReason,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to save guardrail state: %w", err)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", v, err)
	}
	return &t, nil
}
