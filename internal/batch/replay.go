package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/ingest"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/models"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/monitor"
	"github.com/rs/zerolog"
)

// ReplayClock follows the sample timestamps so that window and cooldown
// arithmetic behave as they did when the traffic was recorded. It never moves
// backwards.
type ReplayClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewReplayClock(start time.Time) *ReplayClock {
	return &ReplayClock{now: start}
}

func (c *ReplayClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ReplayClock) Observe(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

type Summary struct {
	Lines            int    `json:"lines"`
	Ingested         int    `json:"ingested"`
	Rejected         int    `json:"rejected"`
	ParseErrors      int    `json:"parse_errors"`
	Monitored        int    `json:"monitored"`
	Disables         int    `json:"disables"`
	DisableFailures  int    `json:"disable_failures"`
	FirstDisableLine int    `json:"first_disable_line,omitempty"`
	FinalState       string `json:"final_state"`
}

type Replayer struct {
	pipeline *ingest.Pipeline
	clock    *ReplayClock
	logger   *zerolog.Logger
}

// NewReplayer expects pipeline to be built on clock and an in-memory flag.
func NewReplayer(pipeline *ingest.Pipeline, clock *ReplayClock, logger *zerolog.Logger) *Replayer {
	return &Replayer{pipeline: pipeline, clock: clock, logger: logger}
}

// Replay processes records strictly in order; evaluation depends on it.
func (r *Replayer) Replay(ctx context.Context, records <-chan InputRecord, w *Writer) (Summary, error) {
	var summary Summary
	svc := r.pipeline.Service()

	for record := range records {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Lines++

		result := ReplayResult{LineNumber: record.LineNumber}
		if record.Error != nil {
			summary.ParseErrors++
			result.Error = record.Error.Error()
		} else {
			r.clock.Observe(record.Event.Timestamp)
			ingested, err := r.pipeline.IngestEvent(ctx, record.Event)
			result.EventID = ingested.EventID
			if err != nil {
				summary.Rejected++
				result.Error = err.Error()
			} else {
				summary.Ingested++
				result.Action = ingested.Action
				result.Severity = ingested.Severity
				result.Violations = ingested.Violations
				r.count(&summary, ingested.Action, record.LineNumber)
			}
		}

		result.FlagOn = svc.Status().FlagEnabled
		if err := w.Write(result); err != nil {
			return summary, fmt.Errorf("failed to write replay result for line %d: %w", record.LineNumber, err)
		}
	}

	summary.FinalState = string(svc.Status().State)
	return summary, nil
}

func (r *Replayer) count(summary *Summary, action string, line int) {
	switch action {
	case models.ActionMonitored:
		summary.Monitored++
	case models.ActionDisabled:
		summary.Disables++
		if summary.FirstDisableLine == 0 {
			summary.FirstDisableLine = line
		}
		r.logger.Info().Int("line", line).Time("at", r.clock.Now()).Msg("Replay disabled the flag")
	case models.ActionDisableFailed:
		summary.DisableFailures++
	}
}

var _ monitor.Clock = (*ReplayClock)(nil)
