package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validPolicy() ThresholdPolicy {
	return ThresholdPolicy{
		MinAccuracy:             0.7,
		MinGrounding:            0.8,
		MinRelevance:            0.7,
		MaxErrorRate:            0.1,
		MaxResponseTimeSeconds:  10,
		EvaluationWindowMinutes: 5,
		TriggerThresholdCount:   3,
		CooldownMinutes:         10,
	}
}

func TestLoadGuardrailConfig_Success(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "guardrail.yaml")

	configContent := `policy:
  min_accuracy: 0.7
  min_grounding: 0.8
  min_relevance: 0.7
  max_error_rate: 0.1
  max_response_time_seconds: 10
  evaluation_window_minutes: 5
  trigger_threshold_count: 3
  cooldown_minutes: 10
scoring:
  enabled: true
  prompt: |
    Answer: {{.Answer}}
    {"score": <float>, "reason": "<string>"}
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	t.Setenv("GUARDRAIL_POLICY_PATH", configPath)

	cfg, err := LoadGuardrailConfig()
	if err != nil {
		t.Fatalf("LoadGuardrailConfig() failed: %v", err)
	}

	if cfg.Policy != validPolicy() {
		t.Errorf("Unexpected policy: %+v", cfg.Policy)
	}

	// Bypass section omitted: defaults apply
	if cfg.Bypass.Phrase != DefaultBypassPhrase {
		t.Errorf("Expected default bypass phrase, got %q", cfg.Bypass.Phrase)
	}
	if cfg.Bypass.SafeResponse != DefaultSafeResponse {
		t.Errorf("Expected default safe response, got %q", cfg.Bypass.SafeResponse)
	}
	if cfg.Scoring.Model.MaxTokens != 256 {
		t.Errorf("Expected default max_tokens=256, got %d", cfg.Scoring.Model.MaxTokens)
	}
}

func TestLoadGuardrailConfig_RepositoryDefault(t *testing.T) {
	t.Setenv("GUARDRAIL_POLICY_PATH", "../../configs/guardrail.yaml")

	cfg, err := LoadGuardrailConfig()
	if err != nil {
		t.Fatalf("LoadGuardrailConfig() failed: %v", err)
	}
	if cfg.Policy.TriggerThresholdCount != 3 {
		t.Errorf("Expected trigger_threshold_count=3, got %d", cfg.Policy.TriggerThresholdCount)
	}
	if !cfg.Scoring.Enabled {
		t.Error("Expected scoring to be enabled in the shipped config")
	}
}

func TestLoadGuardrailConfig_FileNotFound(t *testing.T) {
	t.Setenv("GUARDRAIL_POLICY_PATH", "/nonexistent/path/guardrail.yaml")

	_, err := LoadGuardrailConfig()
	if err == nil {
		t.Fatal("Expected error for nonexistent config file")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected 'failed to read config file' error, got: %v", err)
	}
}

func TestLoadGuardrailConfig_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	invalidContent := `policy:
  min_accuracy: 0.7
    wrong_level
`
	if err := os.WriteFile(configPath, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	t.Setenv("GUARDRAIL_POLICY_PATH", configPath)

	_, err := LoadGuardrailConfig()
	if err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "failed to parse YAML") {
		t.Errorf("Expected 'failed to parse YAML' error, got: %v", err)
	}
}

func TestLoadGuardrailConfig_InvalidPolicyIsFatal(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "guardrail.yaml")
	content := `policy:
  min_accuracy: 1.7
  evaluation_window_minutes: 5
  trigger_threshold_count: 3
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	t.Setenv("GUARDRAIL_POLICY_PATH", configPath)

	_, err := LoadGuardrailConfig()
	if !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("Expected ErrInvalidPolicy, got: %v", err)
	}
}

func TestThresholdPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *ThresholdPolicy)
		wantErr string
	}{
		{"valid", func(p *ThresholdPolicy) {}, ""},
		{"zero cooldown allowed", func(p *ThresholdPolicy) { p.CooldownMinutes = 0 }, ""},
		{"accuracy above one", func(p *ThresholdPolicy) { p.MinAccuracy = 1.01 }, "min_accuracy"},
		{"negative grounding", func(p *ThresholdPolicy) { p.MinGrounding = -0.1 }, "min_grounding"},
		{"NaN relevance", func(p *ThresholdPolicy) { p.MinRelevance = math.NaN() }, "min_relevance"},
		{"error rate above one", func(p *ThresholdPolicy) { p.MaxErrorRate = 2 }, "max_error_rate"},
		{"negative response time", func(p *ThresholdPolicy) { p.MaxResponseTimeSeconds = -1 }, "max_response_time_seconds"},
		{"zero window", func(p *ThresholdPolicy) { p.EvaluationWindowMinutes = 0 }, "evaluation_window_minutes"},
		{"zero trigger count", func(p *ThresholdPolicy) { p.TriggerThresholdCount = 0 }, "trigger_threshold_count"},
		{"negative cooldown", func(p *ThresholdPolicy) { p.CooldownMinutes = -1 }, "cooldown_minutes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPolicy()
			tt.mutate(&p)

			err := p.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidPolicy) {
				t.Fatalf("expected ErrInvalidPolicy, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_ScoringTemplate(t *testing.T) {
	cfg := &GuardrailConfig{
		Policy:  validPolicy(),
		Scoring: ScoringConfig{Enabled: true, Prompt: "{{.Answer"},
	}

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "invalid prompt template") {
		t.Errorf("Expected 'invalid prompt template' error, got: %v", err)
	}

	cfg.Scoring.Prompt = ""
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "missing prompt") {
		t.Errorf("Expected 'missing prompt' error, got: %v", err)
	}

	// Disabled scoring does not need a prompt
	cfg.Scoring.Enabled = false
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestThresholdPolicy_Durations(t *testing.T) {
	p := validPolicy()
	if p.Window().Minutes() != 5 {
		t.Errorf("Expected 5 minute window, got %v", p.Window())
	}
	if p.Cooldown().Minutes() != 10 {
		t.Errorf("Expected 10 minute cooldown, got %v", p.Cooldown())
	}
}
