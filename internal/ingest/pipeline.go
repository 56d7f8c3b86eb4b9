package ingest

import (
	"context"

	"github.com/google/uuid"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/models"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/scoring"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/service"
	"github.com/rs/zerolog"
)

// Pipeline is the single path from a published SampleEvent to the guardrail,
// shared by the HTTP API, the stream consumer and replay.
type Pipeline struct {
	normalizer *scoring.Normalizer
	service    *service.GuardrailService
	logger     *zerolog.Logger
}

func NewPipeline(normalizer *scoring.Normalizer, svc *service.GuardrailService, logger *zerolog.Logger) *Pipeline {
	return &Pipeline{
		normalizer: normalizer,
		service:    svc,
		logger:     logger,
	}
}

func (p *Pipeline) IngestEvent(ctx context.Context, event models.SampleEvent) (models.IngestResult, error) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}

	sample := p.normalizer.Normalize(ctx, event)

	result, err := p.service.Ingest(ctx, sample)
	if err != nil {
		return models.IngestResult{EventID: event.EventID}, err
	}
	result.EventID = event.EventID

	if result.Action != models.ActionNone {
		p.logger.Info().
			Str("event_id", event.EventID).
			Str("action", result.Action).
			Str("severity", result.Severity).
			Strs("violations", result.Violations).
			Msg("Guardrail evaluation acted on sample")
	}
	return result, nil
}

func (p *Pipeline) Service() *service.GuardrailService {
	return p.service
}
