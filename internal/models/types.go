package models

import (
	"fmt"
	"strings"
	"time"
)

type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "low":
		*s = SeverityLow
	case "medium":
		*s = SeverityMedium
	case "high":
		*s = SeverityHigh
	case "critical":
		*s = SeverityCritical
	default:
		return fmt.Errorf("unknown severity %q", string(text))
	}
	return nil
}

// GuardState is the clamp's view of the guarded feature.
type GuardState string

const (
	StateEnabled         GuardState = "ENABLED"
	StateCooldownEnabled GuardState = "COOLDOWN_ENABLED"
	StateDisabled        GuardState = "DISABLED"
)

type TriggerSource string

const (
	TriggerAutomatic TriggerSource = "automatic"
	TriggerBypass    TriggerSource = "bypass"
	TriggerManual    TriggerSource = "manual"
)

// MetricSample is one evaluated chat turn. Immutable once recorded.
type MetricSample struct {
	AccuracyScore       float64   `json:"accuracy_score"`
	GroundingScore      float64   `json:"grounding_score"`
	RelevanceScore      float64   `json:"relevance_score"`
	ErrorRate           float64   `json:"error_rate"`
	ResponseTimeSeconds float64   `json:"response_time_seconds"`
	Timestamp           time.Time `json:"timestamp"`
}

// Input message

type ChatTurn struct {
	UserQuery string `json:"user_query"`
	Answer    string `json:"answer"`
	Passages  string `json:"passages,omitempty"`
}

// SampleEvent is what the chat pipeline publishes for every completed turn.
// Missing scores are allowed; a turn that failed carries error_rate=1.0.
type SampleEvent struct {
	EventID             string    `json:"event_id"`
	AccuracyScore       *float64  `json:"accuracy_score,omitempty"`
	GroundingScore      *float64  `json:"grounding_score,omitempty"`
	RelevanceScore      *float64  `json:"relevance_score,omitempty"`
	ErrorRate           *float64  `json:"error_rate,omitempty"`
	ResponseTimeSeconds *float64  `json:"response_time_seconds,omitempty"`
	Timestamp           time.Time `json:"timestamp,omitempty"`
	Turn                *ChatTurn `json:"turn,omitempty"`
}

// Persisted trigger memory
type StateSnapshot struct {
	FlagEnabled       bool       `json:"flag_enabled"`
	LastTriggerTime   *time.Time `json:"last_trigger_time,omitempty"`
	LastDisableTime   *time.Time `json:"last_disable_time,omitempty"`
	LastDisableReason string     `json:"last_disable_reason,omitempty"`
}

type FlagResult struct {
	Version int `json:"version"`
}

type FlagInfo struct {
	ProjectKey     string `json:"project"`
	EnvironmentKey string `json:"environment"`
	FlagKey        string `json:"flag_key"`
	Configured     bool   `json:"api_client_enabled"`
}

// Output messages

type IngestResult struct {
	EventID    string   `json:"event_id,omitempty"`
	Severity   string   `json:"severity,omitempty"`
	Violations []string `json:"violations,omitempty"`
	Action     string   `json:"action"`
}

const (
	ActionNone          = "none"
	ActionMonitored     = "monitored"
	ActionDisabled      = "disabled"
	ActionDisableFailed = "disable_failed"
)

type BypassResult struct {
	Matched      bool   `json:"matched"`
	SafeResponse string `json:"safe_response,omitempty"`
	Disabled     bool   `json:"disabled"`
	Error        string `json:"error,omitempty"`
}

type StatusReport struct {
	State                    GuardState `json:"state"`
	FlagEnabled              bool       `json:"flag_enabled"`
	LastTriggerTime          *time.Time `json:"last_trigger_time,omitempty"`
	LastDisableTime          *time.Time `json:"last_disable_time,omitempty"`
	LastDisableReason        string     `json:"last_disable_reason,omitempty"`
	CooldownRemainingSeconds int        `json:"cooldown_remaining_seconds"`
	SampleCount              int        `json:"sample_count"`
	LastRemoteError          string     `json:"last_remote_error,omitempty"`
	LastRemoteErrorTime      *time.Time `json:"last_remote_error_time,omitempty"`
	Flag                     FlagInfo   `json:"flag"`
}

// WindowSummary aggregates the samples inside the current evaluation window.
type WindowSummary struct {
	WindowMinutes int      `json:"window_minutes"`
	TotalRequests int      `json:"total_requests"`
	ErrorCount    int      `json:"error_count"`
	AvgAccuracy   *float64 `json:"avg_accuracy,omitempty"`
	AvgGrounding  *float64 `json:"avg_grounding,omitempty"`
	AvgRelevance  *float64 `json:"avg_relevance,omitempty"`
	MinAccuracy   *float64 `json:"min_accuracy,omitempty"`
	MinGrounding  *float64 `json:"min_grounding,omitempty"`
	MinRelevance  *float64 `json:"min_relevance,omitempty"`
}

type PolicyView struct {
	MinAccuracy             float64 `json:"min_accuracy"`
	MinGrounding            float64 `json:"min_grounding"`
	MinRelevance            float64 `json:"min_relevance"`
	MaxErrorRate            float64 `json:"max_error_rate"`
	MaxResponseTimeSeconds  float64 `json:"max_response_time_seconds"`
	EvaluationWindowMinutes int     `json:"evaluation_window_minutes"`
	TriggerThresholdCount   int     `json:"trigger_threshold_count"`
	CooldownMinutes         int     `json:"cooldown_minutes"`
}

type MetricsReport struct {
	Samples []MetricSample `json:"metrics"`
	Summary WindowSummary  `json:"summary"`
	Policy  PolicyView     `json:"thresholds"`
}

// GateResponse tells a chat front-end whether to serve the AI feature.
type GateResponse struct {
	Enabled bool       `json:"enabled"`
	State   GuardState `json:"state"`
	Code    string     `json:"code"`
	Message string     `json:"message"`
}
