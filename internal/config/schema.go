package config

import (
	"time"

	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/models"
)

// GuardrailConfig represents the complete clamp configuration file
type GuardrailConfig struct {
	Policy  ThresholdPolicy `yaml:"policy"`
	Bypass  BypassConfig    `yaml:"bypass"`
	Scoring ScoringConfig   `yaml:"scoring"`
}

// ThresholdPolicy holds the acceptable bounds and evaluation parameters.
// Lower bounds are violated when a sample value is strictly below them,
// upper bounds when a sample value exceeds them.
type ThresholdPolicy struct {
	MinAccuracy             float64 `yaml:"min_accuracy"`
	MinGrounding            float64 `yaml:"min_grounding"`
	MinRelevance            float64 `yaml:"min_relevance"`
	MaxErrorRate            float64 `yaml:"max_error_rate"`
	MaxResponseTimeSeconds  float64 `yaml:"max_response_time_seconds"`
	EvaluationWindowMinutes int     `yaml:"evaluation_window_minutes"`
	TriggerThresholdCount   int     `yaml:"trigger_threshold_count"`
	CooldownMinutes         int     `yaml:"cooldown_minutes"`
}

// BypassConfig configures the emergency-stop phrase and the reply sent instead of a completion
type BypassConfig struct {
	Phrase       string `yaml:"phrase"`
	SafeResponse string `yaml:"safe_response"`
}

// ScoringConfig configures the accuracy judge used for turns published without an accuracy score
type ScoringConfig struct {
	Enabled bool        `yaml:"enabled"`
	Prompt  string      `yaml:"prompt"`
	Model   ModelConfig `yaml:"model"`
}

type ModelConfig struct {
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	Retry       bool    `yaml:"retry"`
}

func (p ThresholdPolicy) Window() time.Duration {
	return time.Duration(p.EvaluationWindowMinutes) * time.Minute
}

func (p ThresholdPolicy) Cooldown() time.Duration {
	return time.Duration(p.CooldownMinutes) * time.Minute
}

func (p ThresholdPolicy) View() models.PolicyView {
	return models.PolicyView{
		MinAccuracy:             p.MinAccuracy,
		MinGrounding:            p.MinGrounding,
		MinRelevance:            p.MinRelevance,
		MaxErrorRate:            p.MaxErrorRate,
		MaxResponseTimeSeconds:  p.MaxResponseTimeSeconds,
		EvaluationWindowMinutes: p.EvaluationWindowMinutes,
		TriggerThresholdCount:   p.TriggerThresholdCount,
		CooldownMinutes:         p.CooldownMinutes,
	}
}
