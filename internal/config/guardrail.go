package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"text/template"

	"go.yaml.in/yaml/v3"
)

const (
	DefaultPolicyPath   = "configs/guardrail.yaml"
	DefaultBypassPhrase = "I HATE YOU"
	DefaultSafeResponse = "I'm sorry, I can't help with that. This conversation has been flagged for review."
)

var ErrInvalidPolicy = errors.New("invalid threshold policy")

func LoadGuardrailConfig() (*GuardrailConfig, error) {
	path := os.Getenv("GUARDRAIL_POLICY_PATH")
	if path == "" {
		path = DefaultPolicyPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg GuardrailConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *GuardrailConfig) {
	if cfg.Bypass.Phrase == "" {
		cfg.Bypass.Phrase = DefaultBypassPhrase
	}
	if cfg.Bypass.SafeResponse == "" {
		cfg.Bypass.SafeResponse = DefaultSafeResponse
	}
	if cfg.Scoring.Model.MaxTokens == 0 {
		cfg.Scoring.Model.MaxTokens = 256
	}
}

func (c *GuardrailConfig) Validate() error {
	if err := c.Policy.Validate(); err != nil {
		return err
	}

	if c.Scoring.Enabled {
		if c.Scoring.Prompt == "" {
			return fmt.Errorf("scoring enabled but missing prompt")
		}
		if _, err := template.New("scoring").Parse(c.Scoring.Prompt); err != nil {
			return fmt.Errorf("invalid prompt template: %w", err)
		}
		if c.Scoring.Model.MaxTokens < 0 {
			return fmt.Errorf("negative max_tokens: %d", c.Scoring.Model.MaxTokens)
		}
		if c.Scoring.Model.Temperature < 0 || c.Scoring.Model.Temperature > 1 {
			return fmt.Errorf("invalid temperature: %f", c.Scoring.Model.Temperature)
		}
	}

	return nil
}

// Validate reports every bound that is out of range for its metric type.
func (p ThresholdPolicy) Validate() error {
	var errs []error

	scores := []struct {
		name  string
		value float64
	}{
		{"min_accuracy", p.MinAccuracy},
		{"min_grounding", p.MinGrounding},
		{"min_relevance", p.MinRelevance},
		{"max_error_rate", p.MaxErrorRate},
	}
	for _, s := range scores {
		if math.IsNaN(s.value) || s.value < 0 || s.value > 1 {
			errs = append(errs, fmt.Errorf("%w: %s=%v outside [0,1]", ErrInvalidPolicy, s.name, s.value))
		}
	}

	if math.IsNaN(p.MaxResponseTimeSeconds) || p.MaxResponseTimeSeconds < 0 {
		errs = append(errs, fmt.Errorf("%w: max_response_time_seconds=%v must be >= 0", ErrInvalidPolicy, p.MaxResponseTimeSeconds))
	}
	if p.EvaluationWindowMinutes <= 0 {
		errs = append(errs, fmt.Errorf("%w: evaluation_window_minutes=%d must be > 0", ErrInvalidPolicy, p.EvaluationWindowMinutes))
	}
	if p.TriggerThresholdCount <= 0 {
		errs = append(errs, fmt.Errorf("%w: trigger_threshold_count=%d must be > 0", ErrInvalidPolicy, p.TriggerThresholdCount))
	}
	if p.CooldownMinutes < 0 {
		errs = append(errs, fmt.Errorf("%w: cooldown_minutes=%d must be >= 0", ErrInvalidPolicy, p.CooldownMinutes))
	}

	return errors.Join(errs...)
}
