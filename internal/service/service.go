package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/bypass"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/config"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/models"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/monitor"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/observability"
	"github.com/rs/zerolog"
)

const (
	DefaultFlagTimeout  = 5 * time.Second
	DefaultMetricsLimit = 50
	MaxMetricsLimit     = 1000

	gateDisabledCode    = "feature_disabled"
	gateDisabledMessage = "The AI assistant is temporarily unavailable. Please try again later or contact support."
)

type Options struct {
	Policy       config.ThresholdPolicy
	Clock        monitor.Clock
	Detector     *bypass.Detector
	SafeResponse string
	Flags        FlagController
	Store        StateStore
	Metrics      *observability.Metrics
	FlagTimeout  time.Duration
	// DisableAt is the lowest severity that disables the flag. Defaults to HIGH.
	DisableAt models.Severity
}

type GuardrailService struct {
	monitor      *monitor.Monitor
	detector     *bypass.Detector
	safeResponse string
	flags        FlagController
	store        StateStore
	metrics      *observability.Metrics
	flagTimeout  time.Duration
	disableAt    models.Severity
	logger       *zerolog.Logger
}

// NewGuardrailService asks the control plane once for the current flag state and
// restores persisted trigger memory, if a store is configured.
func NewGuardrailService(ctx context.Context, opts Options, logger *zerolog.Logger) *GuardrailService {
	if opts.FlagTimeout <= 0 {
		opts.FlagTimeout = DefaultFlagTimeout
	}
	if opts.DisableAt <= models.SeverityLow {
		opts.DisableAt = models.SeverityHigh
	}
	if opts.Detector == nil {
		opts.Detector = bypass.NewDetector(config.DefaultBypassPhrase)
	}
	if opts.SafeResponse == "" {
		opts.SafeResponse = config.DefaultSafeResponse
	}

	s := &GuardrailService{
		detector:     opts.Detector,
		safeResponse: opts.SafeResponse,
		flags:        opts.Flags,
		store:        opts.Store,
		metrics:      opts.Metrics,
		flagTimeout:  opts.FlagTimeout,
		disableAt:    opts.DisableAt,
		logger:       logger,
	}

	enabled := s.initialFlagState(ctx)
	s.monitor = monitor.NewMonitor(opts.Policy, opts.Clock, enabled, logger)
	s.restore(ctx)

	if err := s.metrics.RegisterCooldown(func() time.Duration { return s.monitor.Status().CooldownRemaining }); err != nil {
		logger.Warn().Err(err).Msg("Failed to register cooldown gauge")
	}

	logger.Info().
		Bool("flag_enabled", enabled).
		Str("disable_at", s.disableAt.String()).
		Int("window_minutes", opts.Policy.EvaluationWindowMinutes).
		Int("trigger_threshold_count", opts.Policy.TriggerThresholdCount).
		Int("cooldown_minutes", opts.Policy.CooldownMinutes).
		Msg("Guardrail service initialized")

	return s
}

// Ingest records a sample and remediates when the evaluation says so. Only a
// validation failure is returned as an error; flag failures end up in Status.
func (s *GuardrailService) Ingest(ctx context.Context, sample models.MetricSample) (models.IngestResult, error) {
	if err := s.monitor.Record(sample); err != nil {
		var invalid *monitor.InvalidSampleError
		if errors.As(err, &invalid) {
			s.metrics.SampleRejected(ctx, invalid.Field)
		}
		return models.IngestResult{}, err
	}
	s.metrics.SampleIngested(ctx)

	d := s.monitor.Decide(s.disableAt)
	result := models.IngestResult{Action: models.ActionNone}
	if !d.Signal {
		return result, nil
	}

	severity := d.Severity.String()
	reasons := d.Reasons()
	result.Severity = severity
	result.Violations = reasons
	s.metrics.Evaluated(ctx, severity)

	if !d.Disable {
		s.logger.Warn().
			Str("severity", severity).
			Strs("violations", reasons).
			Msg("Guardrail violations below remediation threshold")
		result.Action = models.ActionMonitored
		return result, nil
	}

	reason := fmt.Sprintf("Guardrail clamp: %s severity (%s)", severity, strings.Join(reasons, "; "))
	if _, err := s.disable(ctx, reason, models.TriggerAutomatic); err != nil {
		s.monitor.Release(d)
		s.logger.Error().
			Err(err).
			Str("severity", severity).
			Str("action", models.ActionDisableFailed).
			Msg("Automatic remediation failed, next qualifying evaluation will retry")
		result.Action = models.ActionDisableFailed
		return result, nil
	}

	result.Action = models.ActionDisabled
	return result, nil
}

// BypassCheck disables the flag immediately when the input carries the bypass
// phrase. Cooldown does not apply.
func (s *GuardrailService) BypassCheck(ctx context.Context, input string) models.BypassResult {
	if !s.detector.Matches(input) {
		return models.BypassResult{}
	}

	s.logger.Warn().Int("input_length", len(input)).Msg("Bypass phrase detected in user input")

	result := models.BypassResult{Matched: true, SafeResponse: s.safeResponse}
	if _, err := s.disable(ctx, "Guardrail clamp: bypass phrase detected", models.TriggerBypass); err != nil {
		result.Error = err.Error()
		return result
	}

	result.Disabled = true
	return result
}

func (s *GuardrailService) Status() models.StatusReport {
	st := s.monitor.Status()

	return models.StatusReport{
		State:                    st.State,
		FlagEnabled:              st.FlagEnabled,
		LastTriggerTime:          st.LastTriggerTime,
		LastDisableTime:          st.LastDisableTime,
		LastDisableReason:        st.LastDisableReason,
		CooldownRemainingSeconds: int(math.Ceil(st.CooldownRemaining.Seconds())),
		SampleCount:              st.SampleCount,
		LastRemoteError:          st.LastRemoteError,
		LastRemoteErrorTime:      st.LastRemoteErrorTime,
		Flag:                     s.flags.Info(),
	}
}

// Metrics returns up to limit of the newest samples, oldest first.
func (s *GuardrailService) Metrics(limit int) models.MetricsReport {
	if limit <= 0 {
		limit = DefaultMetricsLimit
	}
	limit = min(limit, MaxMetricsLimit)

	return models.MetricsReport{
		Samples: s.monitor.Recent(limit),
		Summary: s.monitor.Summary(),
		Policy:  s.monitor.Policy().View(),
	}
}

func (s *GuardrailService) ManualDisable(ctx context.Context, reason string) (models.FlagResult, error) {
	return s.disable(ctx, "Manual disable: "+orDefault(reason, "operator request"), models.TriggerManual)
}

// Recover re-enables the flag and lifts cooldown suppression. Sample history and
// the last disable record survive.
func (s *GuardrailService) Recover(ctx context.Context, reason string) (models.FlagResult, error) {
	comment := "Manual recovery: " + orDefault(reason, "operator request")

	result, err := s.callFlag(ctx, "enable", func(ctx context.Context) (models.FlagResult, error) {
		return s.flags.Enable(ctx, comment)
	})
	if err != nil {
		s.monitor.RecordRemoteFailure(err)
		s.logger.Error().Err(err).Str("reason", comment).Msg("Failed to re-enable feature flag")
		return result, err
	}

	s.monitor.MarkEnabled()
	s.persist(ctx)

	s.logger.Info().Str("reason", comment).Int("version", result.Version).Msg("Feature flag re-enabled")
	return result, nil
}

// ResetCooldown clears the trigger time only; the flag is left as it is.
func (s *GuardrailService) ResetCooldown(ctx context.Context) {
	s.monitor.ClearTrigger()
	s.persist(ctx)
	s.logger.Info().Msg("Guardrail cooldown reset")
}

func (s *GuardrailService) Gate() models.GateResponse {
	st := s.monitor.Status()
	if !st.FlagEnabled {
		return models.GateResponse{
			Enabled: false,
			State:   st.State,
			Code:    gateDisabledCode,
			Message: gateDisabledMessage,
		}
	}
	return models.GateResponse{Enabled: true, State: st.State, Code: "ok", Message: "AI assistant available"}
}

func (s *GuardrailService) Policy() config.ThresholdPolicy {
	return s.monitor.Policy()
}

func (s *GuardrailService) disable(ctx context.Context, reason string, source models.TriggerSource) (models.FlagResult, error) {
	result, err := s.callFlag(ctx, "disable", func(ctx context.Context) (models.FlagResult, error) {
		return s.flags.Disable(ctx, reason)
	})
	if err != nil {
		s.monitor.RecordRemoteFailure(err)
		s.logger.Error().
			Err(err).
			Str("reason", reason).
			Str("source", string(source)).
			Msg("Failed to disable feature flag")
		return result, err
	}

	s.monitor.MarkDisabled(reason)
	s.monitor.Trigger()
	s.metrics.Triggered(ctx, string(source))
	s.persist(ctx)

	s.logger.Warn().
		Str("reason", reason).
		Str("source", string(source)).
		Int("version", result.Version).
		Msg("Feature flag disabled by guardrail")
	return result, nil
}

// callFlag runs a control plane call with its own deadline. The caller's
// cancellation is not propagated so that a dropped request cannot abort a disable.
func (s *GuardrailService) callFlag(ctx context.Context, op string, call func(context.Context) (models.FlagResult, error)) (models.FlagResult, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.flagTimeout)
	defer cancel()

	start := time.Now()
	result, err := call(callCtx)
	s.metrics.FlagCall(ctx, op, time.Since(start), err)
	return result, err
}

func (s *GuardrailService) initialFlagState(ctx context.Context) bool {
	callCtx, cancel := context.WithTimeout(ctx, s.flagTimeout)
	defer cancel()

	enabled, err := s.flags.IsEnabled(callCtx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Could not read flag state, assuming enabled")
		return true
	}
	return enabled
}

func (s *GuardrailService) restore(ctx context.Context) {
	if s.store == nil {
		return
	}

	snapshot, found, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to load persisted guardrail state")
		return
	}
	if !found {
		return
	}

	s.monitor.Restore(snapshot)
	s.logger.Info().
		Str("last_disable_reason", snapshot.LastDisableReason).
		Bool("cooldown_active", snapshot.LastTriggerTime != nil).
		Msg("Guardrail state restored")
}

func (s *GuardrailService) persist(ctx context.Context) {
	if s.store == nil {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.flagTimeout)
	defer cancel()

	if err := s.store.Save(saveCtx, s.monitor.Snapshot()); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist guardrail state")
	}
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
