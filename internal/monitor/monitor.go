package monitor

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/config"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/models"
	"github.com/rs/zerolog"
)

const DefaultMaxHistory = 10_000

// InvalidSampleError is returned by Record for samples with out-of-range values.
type InvalidSampleError struct {
	Field string
	Value float64
}

func (e *InvalidSampleError) Error() string {
	return fmt.Sprintf("invalid sample: %s=%v out of range", e.Field, e.Value)
}

// Evaluation is the outcome of one evaluation pass. Signal is false when there is
// nothing to act on (empty history, cooldown, not enough samples, no violations).
type Evaluation struct {
	Severity   models.Severity
	Signal     bool
	Violations []Violation
	WindowSize int
	Suppressed bool
}

func (e Evaluation) Reasons() []string {
	reasons := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		reasons = append(reasons, v.String())
	}
	return reasons
}

// Decision is an Evaluation plus the remediation verdict. When Disable is set the
// trigger slot has already been reserved; call Release if the disable fails.
type Decision struct {
	Evaluation
	Disable bool

	reservedAt time.Time
	previous   *time.Time
}

type Status struct {
	State               models.GuardState
	FlagEnabled         bool
	LastTriggerTime     *time.Time
	LastDisableTime     *time.Time
	LastDisableReason   string
	SampleCount         int
	CooldownRemaining   time.Duration
	LastRemoteError     string
	LastRemoteErrorTime *time.Time
}

type Option func(*Monitor)

func WithRules(rules []SeverityRule) Option {
	return func(m *Monitor) {
		m.rules = rules
	}
}

func WithMaxHistory(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.maxHistory = n
		}
	}
}

// Monitor owns the guardrail state. Every read and write goes through mu.
type Monitor struct {
	mu         sync.Mutex
	policy     config.ThresholdPolicy
	clock      Clock
	rules      []SeverityRule
	maxHistory int
	logger     *zerolog.Logger

	history             []models.MetricSample
	lastTriggerTime     *time.Time
	flagEnabled         bool
	lastDisableReason   string
	lastDisableTime     *time.Time
	lastRemoteError     string
	lastRemoteErrorTime *time.Time
}

func NewMonitor(policy config.ThresholdPolicy, clock Clock, flagEnabled bool, logger *zerolog.Logger, opts ...Option) *Monitor {
	if clock == nil {
		clock = SystemClock{}
	}

	m := &Monitor{
		policy:      policy,
		clock:       clock,
		rules:       DefaultRules,
		maxHistory:  DefaultMaxHistory,
		logger:      logger,
		flagEnabled: flagEnabled,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) Policy() config.ThresholdPolicy {
	return m.policy
}

// Record validates and stores a sample, then prunes everything older than twice
// the evaluation window relative to the newest sample.
func (m *Monitor) Record(sample models.MetricSample) error {
	if err := validateSample(sample); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sample.Timestamp.IsZero() {
		sample.Timestamp = m.clock.Now()
	}

	m.history = append(m.history, sample)
	m.prune()

	m.logger.Debug().
		Float64("accuracy", sample.AccuracyScore).
		Float64("grounding", sample.GroundingScore).
		Float64("relevance", sample.RelevanceScore).
		Float64("error_rate", sample.ErrorRate).
		Float64("response_time", sample.ResponseTimeSeconds).
		Int("history", len(m.history)).
		Msg("guardrail sample recorded")

	return nil
}

func (m *Monitor) Evaluate() (models.Severity, bool) {
	e := m.Inspect()
	return e.Severity, e.Signal
}

// Inspect runs an evaluation and returns the full detail. It never mutates state.
func (m *Monitor) Inspect() Evaluation {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.evaluate(m.clock.Now())
}

// Decide evaluates and, when the severity is at least minSeverity, reserves the
// trigger slot in the same critical section so concurrent callers cannot both act.
func (m *Monitor) Decide(minSeverity models.Severity) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	d := Decision{Evaluation: m.evaluate(now)}
	if !d.Signal || d.Severity < minSeverity {
		return d
	}

	d.Disable = true
	d.reservedAt = now
	d.previous = copyTime(m.lastTriggerTime)
	m.lastTriggerTime = &now

	return d
}

// Release undoes a reservation made by Decide, unless something else has
// triggered since.
func (m *Monitor) Release(d Decision) {
	if !d.Disable {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastTriggerTime != nil && m.lastTriggerTime.Equal(d.reservedAt) {
		m.lastTriggerTime = d.previous
	}
}

// Trigger starts the cooldown at the current instant.
func (m *Monitor) Trigger() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.lastTriggerTime = &now
}

func (m *Monitor) ClearTrigger() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastTriggerTime = nil
}

// MarkDisabled records a confirmed remote disable.
func (m *Monitor) MarkDisabled(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.flagEnabled = false
	m.lastDisableReason = reason
	m.lastDisableTime = &now
	m.lastRemoteError = ""
	m.lastRemoteErrorTime = nil
}

// MarkEnabled records a confirmed remote enable and lifts cooldown suppression.
// Sample history and the last disable are kept.
func (m *Monitor) MarkEnabled() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flagEnabled = true
	m.lastTriggerTime = nil
	m.lastRemoteError = ""
	m.lastRemoteErrorTime = nil
}

func (m *Monitor) RecordRemoteFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.lastRemoteError = err.Error()
	m.lastRemoteErrorTime = &now
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	status := Status{
		FlagEnabled:         m.flagEnabled,
		LastTriggerTime:     copyTime(m.lastTriggerTime),
		LastDisableTime:     copyTime(m.lastDisableTime),
		LastDisableReason:   m.lastDisableReason,
		SampleCount:         len(m.history),
		CooldownRemaining:   m.cooldownRemaining(now),
		LastRemoteError:     m.lastRemoteError,
		LastRemoteErrorTime: copyTime(m.lastRemoteErrorTime),
	}

	switch {
	case !m.flagEnabled:
		status.State = models.StateDisabled
	case status.CooldownRemaining > 0:
		status.State = models.StateCooldownEnabled
	default:
		status.State = models.StateEnabled
	}

	return status
}

// Recent returns up to limit of the newest samples, oldest first.
func (m *Monitor) Recent(limit int) []models.MetricSample {
	m.mu.Lock()
	samples := slices.Clone(m.history)
	m.mu.Unlock()

	sortByTimestamp(samples)
	if limit > 0 && len(samples) > limit {
		samples = samples[len(samples)-limit:]
	}
	return samples
}

func (m *Monitor) Summary() models.WindowSummary {
	m.mu.Lock()
	window := m.window(m.clock.Now())
	m.mu.Unlock()

	summary := models.WindowSummary{
		WindowMinutes: m.policy.EvaluationWindowMinutes,
		TotalRequests: len(window),
	}
	if len(window) == 0 {
		return summary
	}

	var accSum, grdSum, relSum float64
	accMin, grdMin, relMin := math.Inf(1), math.Inf(1), math.Inf(1)
	for _, s := range window {
		if s.ErrorRate > m.policy.MaxErrorRate {
			summary.ErrorCount++
		}
		accSum += s.AccuracyScore
		grdSum += s.GroundingScore
		relSum += s.RelevanceScore
		accMin = math.Min(accMin, s.AccuracyScore)
		grdMin = math.Min(grdMin, s.GroundingScore)
		relMin = math.Min(relMin, s.RelevanceScore)
	}

	n := float64(len(window))
	summary.AvgAccuracy = ptr(accSum / n)
	summary.AvgGrounding = ptr(grdSum / n)
	summary.AvgRelevance = ptr(relSum / n)
	summary.MinAccuracy = ptr(accMin)
	summary.MinGrounding = ptr(grdMin)
	summary.MinRelevance = ptr(relMin)

	return summary
}

func (m *Monitor) Snapshot() models.StateSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return models.StateSnapshot{
		FlagEnabled:       m.flagEnabled,
		LastTriggerTime:   copyTime(m.lastTriggerTime),
		LastDisableTime:   copyTime(m.lastDisableTime),
		LastDisableReason: m.lastDisableReason,
	}
}

// Restore brings back trigger and disable memory. The flag belief is left alone:
// the remote control plane is the source of truth for it.
func (m *Monitor) Restore(snapshot models.StateSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastTriggerTime = copyTime(snapshot.LastTriggerTime)
	m.lastDisableTime = copyTime(snapshot.LastDisableTime)
	m.lastDisableReason = snapshot.LastDisableReason
}

func (m *Monitor) evaluate(now time.Time) Evaluation {
	if len(m.history) == 0 {
		return Evaluation{}
	}

	if m.cooldownRemaining(now) > 0 {
		return Evaluation{Suppressed: true}
	}

	window := m.window(now)
	e := Evaluation{WindowSize: len(window)}

	k := m.policy.TriggerThresholdCount
	if len(window) < k {
		return e
	}

	sortByTimestamp(window)
	for _, sample := range window[len(window)-k:] {
		e.Violations = append(e.Violations, m.violations(sample)...)
	}

	e.Severity, e.Signal = Classify(m.rules, e.Violations)
	return e
}

func (m *Monitor) window(now time.Time) []models.MetricSample {
	start := now.Add(-m.policy.Window())

	window := make([]models.MetricSample, 0, len(m.history))
	for _, s := range m.history {
		if s.Timestamp.After(start) {
			window = append(window, s)
		}
	}
	return window
}

func (m *Monitor) violations(s models.MetricSample) []Violation {
	var out []Violation
	p := m.policy

	if s.AccuracyScore < p.MinAccuracy {
		out = append(out, Violation{Metric: MetricAccuracy, Value: s.AccuracyScore, Bound: p.MinAccuracy, Timestamp: s.Timestamp})
	}
	if s.GroundingScore < p.MinGrounding {
		out = append(out, Violation{Metric: MetricGrounding, Value: s.GroundingScore, Bound: p.MinGrounding, Timestamp: s.Timestamp})
	}
	if s.RelevanceScore < p.MinRelevance {
		out = append(out, Violation{Metric: MetricRelevance, Value: s.RelevanceScore, Bound: p.MinRelevance, Timestamp: s.Timestamp})
	}
	if s.ErrorRate > p.MaxErrorRate {
		out = append(out, Violation{Metric: MetricErrorRate, Value: s.ErrorRate, Bound: p.MaxErrorRate, Timestamp: s.Timestamp})
	}
	if s.ResponseTimeSeconds > p.MaxResponseTimeSeconds {
		out = append(out, Violation{Metric: MetricResponseTime, Value: s.ResponseTimeSeconds, Bound: p.MaxResponseTimeSeconds, Timestamp: s.Timestamp})
	}

	return out
}

func (m *Monitor) prune() {
	newest := m.history[0].Timestamp
	for _, s := range m.history[1:] {
		if s.Timestamp.After(newest) {
			newest = s.Timestamp
		}
	}

	cutoff := newest.Add(-2 * m.policy.Window())
	kept := m.history[:0]
	for _, s := range m.history {
		if s.Timestamp.After(cutoff) {
			kept = append(kept, s)
		}
	}
	clear(m.history[len(kept):])
	m.history = kept

	if over := len(m.history) - m.maxHistory; over > 0 {
		m.history = slices.Delete(m.history, 0, over)
	}
}

func (m *Monitor) cooldownRemaining(now time.Time) time.Duration {
	if m.lastTriggerTime == nil {
		return 0
	}
	remaining := m.lastTriggerTime.Add(m.policy.Cooldown()).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func validateSample(s models.MetricSample) error {
	scores := []struct {
		field string
		value float64
	}{
		{"accuracy_score", s.AccuracyScore},
		{"grounding_score", s.GroundingScore},
		{"relevance_score", s.RelevanceScore},
		{"error_rate", s.ErrorRate},
	}
	for _, sc := range scores {
		if math.IsNaN(sc.value) || sc.value < 0 || sc.value > 1 {
			return &InvalidSampleError{Field: sc.field, Value: sc.value}
		}
	}

	if math.IsNaN(s.ResponseTimeSeconds) || math.IsInf(s.ResponseTimeSeconds, 0) || s.ResponseTimeSeconds < 0 {
		return &InvalidSampleError{Field: "response_time_seconds", Value: s.ResponseTimeSeconds}
	}
	return nil
}

func sortByTimestamp(samples []models.MetricSample) {
	slices.SortStableFunc(samples, func(a, b models.MetricSample) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func ptr(v float64) *float64 {
	return &v
}
