package scoring

import (
	"context"

	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/models"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/monitor"
	"github.com/rs/zerolog"
)

const neutralScore = 1.0

type Scorer interface {
	Score(ctx context.Context, turn models.ChatTurn) (Judgement, error)
}

// Normalizer turns a published SampleEvent into a complete MetricSample.
//
// Missing quality scores count as neutral (1.0) so that absent data never looks
// like a violation; missing error rate and response time count as zero. When the
// accuracy score is missing but the event carries the turn transcript, the scorer
// fills it in. A scorer failure marks the turn as errored (error_rate=1.0).
type Normalizer struct {
	scorer Scorer
	clock  monitor.Clock
	logger *zerolog.Logger
}

// NewNormalizer accepts a nil scorer, in which case transcripts are ignored.
func NewNormalizer(scorer Scorer, clock monitor.Clock, logger *zerolog.Logger) *Normalizer {
	if clock == nil {
		clock = monitor.SystemClock{}
	}
	return &Normalizer{scorer: scorer, clock: clock, logger: logger}
}

func (n *Normalizer) Normalize(ctx context.Context, event models.SampleEvent) models.MetricSample {
	sample := models.MetricSample{
		AccuracyScore:       valueOr(event.AccuracyScore, neutralScore),
		GroundingScore:      valueOr(event.GroundingScore, neutralScore),
		RelevanceScore:      valueOr(event.RelevanceScore, neutralScore),
		ErrorRate:           valueOr(event.ErrorRate, 0),
		ResponseTimeSeconds: valueOr(event.ResponseTimeSeconds, 0),
		Timestamp:           event.Timestamp,
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = n.clock.Now()
	}

	if event.AccuracyScore == nil && n.scorer != nil && event.Turn != nil && event.Turn.Answer != "" {
		judgement, err := n.scorer.Score(ctx, *event.Turn)
		if err != nil {
			n.logger.Warn().Err(err).Str("event_id", event.EventID).Msg("Accuracy scoring failed, marking turn as errored")
			sample.ErrorRate = 1.0
		} else {
			sample.AccuracyScore = judgement.Score
		}
	}

	return sample
}

func valueOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}
