package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/config"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/llm"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/models"
	"github.com/rs/zerolog"
)

var ErrInvalidJudgement = errors.New("invalid judge response")

type Judgement struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// AccuracyJudge asks an LLM how factually accurate an answer is with respect to
// the retrieved passages.
type AccuracyJudge struct {
	promptTemplate *template.Template
	model          config.ModelConfig
	client         llm.LLMClient
	logger         *zerolog.Logger
}

func NewAccuracyJudge(cfg config.ScoringConfig, client llm.LLMClient, logger *zerolog.Logger) (*AccuracyJudge, error) {
	tmpl, err := template.New("accuracy").Option("missingkey=error").Parse(cfg.Prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse accuracy prompt template: %w", err)
	}

	return &AccuracyJudge{
		promptTemplate: tmpl,
		model:          cfg.Model,
		client:         client,
		logger:         logger,
	}, nil
}

func (j *AccuracyJudge) Score(ctx context.Context, turn models.ChatTurn) (Judgement, error) {
	start := time.Now()

	var buf bytes.Buffer
	if err := j.promptTemplate.Execute(&buf, turn); err != nil {
		return Judgement{}, fmt.Errorf("template execution failed: %w", err)
	}

	request := llm.LLMRequest{
		Prompt:      buf.String(),
		MaxTokens:   j.model.MaxTokens,
		Temperature: j.model.Temperature,
	}

	var (
		resp *llm.LLMResponse
		err  error
	)
	if j.model.Retry {
		resp, err = j.client.InvokeModelWithRetry(ctx, request)
	} else {
		resp, err = j.client.InvokeModel(ctx, request)
	}
	if err != nil {
		return Judgement{}, fmt.Errorf("accuracy judge call failed: %w", err)
	}

	var judgement Judgement
	if err := json.Unmarshal([]byte(stripMarkdownCodeBlock(resp.Content)), &judgement); err != nil {
		j.logger.Error().Err(err).Str("content", resp.Content).Msg("failed to deserialize judge response")
		return Judgement{}, fmt.Errorf("%w: %v", ErrInvalidJudgement, err)
	}

	if judgement.Score == 0 && judgement.Reason == "" {
		return Judgement{}, fmt.Errorf("%w: missing score and reason", ErrInvalidJudgement)
	}
	if judgement.Score < 0 || judgement.Score > 1 {
		return Judgement{}, fmt.Errorf("%w: score %f out of range [0.0, 1.0]", ErrInvalidJudgement, judgement.Score)
	}

	j.logger.Debug().
		Float64("score", judgement.Score).
		Dur("duration", time.Since(start)).
		Msg("accuracy judge completed")

	return judgement, nil
}

// stripMarkdownCodeBlock removes a surrounding ``` fence, with or without a language tag.
func stripMarkdownCodeBlock(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}

	firstNewline := strings.Index(content, "\n")
	closing := strings.LastIndex(content, "```")
	if firstNewline == -1 || closing <= firstNewline {
		return content
	}
	return strings.TrimSpace(content[firstNewline+1 : closing])
}
