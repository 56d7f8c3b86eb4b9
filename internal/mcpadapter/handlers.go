package mcpadapter

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/ingest"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/models"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/service"
)

// Timestamps are rendered as RFC 3339 strings so the generated output schemas
// stay plain JSON types.

type StatusInput struct{}

type StatusOutput struct {
	State                    string          `json:"state" jsonschema:"ENABLED, COOLDOWN_ENABLED or DISABLED"`
	FlagEnabled              bool            `json:"flag_enabled"`
	LastTriggerTime          string          `json:"last_trigger_time,omitempty"`
	LastDisableTime          string          `json:"last_disable_time,omitempty"`
	LastDisableReason        string          `json:"last_disable_reason,omitempty"`
	CooldownRemainingSeconds int             `json:"cooldown_remaining_seconds"`
	SampleCount              int             `json:"sample_count"`
	LastRemoteError          string          `json:"last_remote_error,omitempty"`
	Flag                     models.FlagInfo `json:"flag"`
}

type MetricsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"number of newest samples to return (default: 50)"`
}

type SampleOutput struct {
	AccuracyScore       float64 `json:"accuracy_score"`
	GroundingScore      float64 `json:"grounding_score"`
	RelevanceScore      float64 `json:"relevance_score"`
	ErrorRate           float64 `json:"error_rate"`
	ResponseTimeSeconds float64 `json:"response_time_seconds"`
	Timestamp           string  `json:"timestamp"`
}

type MetricsOutput struct {
	Samples []SampleOutput       `json:"metrics"`
	Summary models.WindowSummary `json:"summary"`
	Policy  models.PolicyView    `json:"thresholds"`
}

type BypassInput struct {
	Input string `json:"input" jsonschema:"raw user input to check for the bypass phrase"`
}

type IngestInput struct {
	EventID             string   `json:"event_id,omitempty" jsonschema:"unique event identifier, generated when empty"`
	AccuracyScore       *float64 `json:"accuracy_score,omitempty" jsonschema:"factual accuracy in [0,1]"`
	GroundingScore      *float64 `json:"grounding_score,omitempty" jsonschema:"support by retrieved passages in [0,1]"`
	RelevanceScore      *float64 `json:"relevance_score,omitempty" jsonschema:"answer relevance in [0,1]"`
	ErrorRate           *float64 `json:"error_rate,omitempty" jsonschema:"1.0 for a failed turn, 0.0 otherwise"`
	ResponseTimeSeconds *float64 `json:"response_time_seconds,omitempty" jsonschema:"end to end latency in seconds"`
	UserQuery           string   `json:"user_query,omitempty" jsonschema:"user's original query, used for accuracy scoring"`
	Answer              string   `json:"answer,omitempty" jsonschema:"assistant answer, used for accuracy scoring"`
	Passages            string   `json:"passages,omitempty" jsonschema:"retrieved passages, used for accuracy scoring"`
}

type OperatorInput struct {
	Reason string `json:"reason,omitempty" jsonschema:"free text recorded in the flag change comment"`
}

type FlagChangeOutput struct {
	Version int          `json:"version"`
	Status  StatusOutput `json:"status"`
}

type ResetInput struct{}

type Tools struct {
	service  *service.GuardrailService
	pipeline *ingest.Pipeline
}

func NewTools(pipeline *ingest.Pipeline) *Tools {
	return &Tools{service: pipeline.Service(), pipeline: pipeline}
}

// Register adds every guardrail tool to server.
func (t *Tools) Register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "guardrail_status",
		Description: "Current guardrail state: flag, cooldown, last disable and last control plane error",
	}, t.Status)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "guardrail_metrics",
		Description: "Recent quality samples, a summary of the evaluation window and the active thresholds",
	}, t.Metrics)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "check_bypass",
		Description: "Check user input for the bypass phrase; a match disables the AI feature immediately",
	}, t.CheckBypass)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ingest_sample",
		Description: "Record a chat turn's quality sample; missing accuracy is scored from the transcript when scoring is enabled",
	}, t.IngestSample)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "manual_disable",
		Description: "Turn the AI feature flag off now",
	}, t.ManualDisable)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "recover",
		Description: "Turn the AI feature flag back on and lift cooldown suppression",
	}, t.Recover)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reset_cooldown",
		Description: "Clear the cooldown timer without touching the flag",
	}, t.ResetCooldown)
}

func (t *Tools) Status(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	return nil, toStatusOutput(t.service.Status()), nil
}

func (t *Tools) Metrics(ctx context.Context, req *mcp.CallToolRequest, input MetricsInput) (*mcp.CallToolResult, MetricsOutput, error) {
	report := t.service.Metrics(input.Limit)

	samples := make([]SampleOutput, 0, len(report.Samples))
	for _, s := range report.Samples {
		samples = append(samples, SampleOutput{
			AccuracyScore:       s.AccuracyScore,
			GroundingScore:      s.GroundingScore,
			RelevanceScore:      s.RelevanceScore,
			ErrorRate:           s.ErrorRate,
			ResponseTimeSeconds: s.ResponseTimeSeconds,
			Timestamp:           s.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}

	return nil, MetricsOutput{Samples: samples, Summary: report.Summary, Policy: report.Policy}, nil
}

func (t *Tools) CheckBypass(ctx context.Context, req *mcp.CallToolRequest, input BypassInput) (*mcp.CallToolResult, models.BypassResult, error) {
	return nil, t.service.BypassCheck(ctx, input.Input), nil
}

func (t *Tools) IngestSample(ctx context.Context, req *mcp.CallToolRequest, input IngestInput) (*mcp.CallToolResult, models.IngestResult, error) {
	event := models.SampleEvent{
		EventID:             input.EventID,
		AccuracyScore:       input.AccuracyScore,
		GroundingScore:      input.GroundingScore,
		RelevanceScore:      input.RelevanceScore,
		ErrorRate:           input.ErrorRate,
		ResponseTimeSeconds: input.ResponseTimeSeconds,
	}
	if input.Answer != "" {
		event.Turn = &models.ChatTurn{UserQuery: input.UserQuery, Answer: input.Answer, Passages: input.Passages}
	}

	result, err := t.pipeline.IngestEvent(ctx, event)
	return nil, result, err
}

func (t *Tools) ManualDisable(ctx context.Context, req *mcp.CallToolRequest, input OperatorInput) (*mcp.CallToolResult, FlagChangeOutput, error) {
	result, err := t.service.ManualDisable(ctx, input.Reason)
	if err != nil {
		return nil, FlagChangeOutput{}, err
	}
	return nil, FlagChangeOutput{Version: result.Version, Status: toStatusOutput(t.service.Status())}, nil
}

func (t *Tools) Recover(ctx context.Context, req *mcp.CallToolRequest, input OperatorInput) (*mcp.CallToolResult, FlagChangeOutput, error) {
	result, err := t.service.Recover(ctx, input.Reason)
	if err != nil {
		return nil, FlagChangeOutput{}, err
	}
	return nil, FlagChangeOutput{Version: result.Version, Status: toStatusOutput(t.service.Status())}, nil
}

func (t *Tools) ResetCooldown(ctx context.Context, req *mcp.CallToolRequest, input ResetInput) (*mcp.CallToolResult, StatusOutput, error) {
	t.service.ResetCooldown(ctx)
	return nil, toStatusOutput(t.service.Status()), nil
}

func toStatusOutput(st models.StatusReport) StatusOutput {
	return StatusOutput{
		State:                    string(st.State),
		FlagEnabled:              st.FlagEnabled,
		LastTriggerTime:          formatTime(st.LastTriggerTime),
		LastDisableTime:          formatTime(st.LastDisableTime),
		LastDisableReason:        st.LastDisableReason,
		CooldownRemainingSeconds: st.CooldownRemainingSeconds,
		SampleCount:              st.SampleCount,
		LastRemoteError:          st.LastRemoteError,
		Flag:                     st.Flag,
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
