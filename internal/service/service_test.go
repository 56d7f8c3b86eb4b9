package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/bypass"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/config"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/flags"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/models"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/monitor"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/service/mocks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

func scenarioPolicy() config.ThresholdPolicy {
	return config.ThresholdPolicy{
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

type fixture struct {
	svc   *GuardrailService
	flags *mocks.MockFlagController
	clock *fakeClock
}

func newFixture(t *testing.T, initiallyEnabled bool) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	flagCtrl := mocks.NewMockFlagController(ctrl)
	flagCtrl.EXPECT().IsEnabled(gomock.Any()).Return(initiallyEnabled, nil)
	flagCtrl.EXPECT().Info().Return(models.FlagInfo{FlagKey: "toggle-bank-rag", Configured: true}).AnyTimes()

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewGuardrailService(context.Background(), Options{
		Policy:   scenarioPolicy(),
		Clock:    clock,
		Detector: bypass.NewDetector("I HATE YOU"),
		Flags:    flagCtrl,
	}, newTestLogger())

	return &fixture{svc: svc, flags: flagCtrl, clock: clock}
}

func (f *fixture) sample(accuracy, grounding float64) models.MetricSample {
	return models.MetricSample{
		AccuracyScore:       accuracy,
		GroundingScore:      grounding,
		RelevanceScore:      0.9,
		ResponseTimeSeconds: 1,
		Timestamp:           f.clock.Now(),
	}
}

// Scenario: three very bad turns inside a minute disable the flag exactly once.
func TestIngest_CriticalDisablesOnce(t *testing.T) {
	f := newFixture(t, true)
	f.flags.EXPECT().Disable(gomock.Any(), gomock.Any()).Return(models.FlagResult{Version: 7}, nil).Times(1)
	ctx := context.Background()

	var last models.IngestResult
	for range 3 {
		var err error
		last, err = f.svc.Ingest(ctx, f.sample(0.2, 0.2))
		require.NoError(t, err)
		f.clock.Advance(10 * time.Second)
	}

	assert.Equal(t, models.ActionDisabled, last.Action)
	assert.Equal(t, "critical", last.Severity)
	assert.NotEmpty(t, last.Violations)

	// Still bad, but inside the cooldown.
	res, err := f.svc.Ingest(ctx, f.sample(0.2, 0.2))
	require.NoError(t, err)
	assert.Equal(t, models.ActionNone, res.Action)

	status := f.svc.Status()
	assert.False(t, status.FlagEnabled)
	assert.Equal(t, models.StateDisabled, status.State)
	assert.Greater(t, status.CooldownRemainingSeconds, 0)
	assert.Contains(t, status.LastDisableReason, "critical")
}

// Scenario: two low-grounding samples with k=3 are not enough.
func TestIngest_InsufficientSamples(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	for range 2 {
		res, err := f.svc.Ingest(ctx, f.sample(0.9, 0.5))
		require.NoError(t, err)
		assert.Equal(t, models.ActionNone, res.Action)
	}

	assert.True(t, f.svc.Status().FlagEnabled)
}

func TestIngest_MediumIsMonitoredOnly(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	var res models.IngestResult
	for i := range 3 {
		s := f.sample(0.9, 0.9)
		if i == 2 {
			s.ErrorRate = 1.0
		}
		var err error
		res, err = f.svc.Ingest(ctx, s)
		require.NoError(t, err)
	}

	assert.Equal(t, models.ActionMonitored, res.Action)
	assert.Equal(t, "medium", res.Severity)
	assert.Equal(t, models.StateEnabled, f.svc.Status().State)
}

func TestIngest_InvalidSample(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.svc.Ingest(context.Background(), f.sample(1.5, 0.9))

	var invalid *monitor.InvalidSampleError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 0, f.svc.Status().SampleCount)
}

func TestIngest_DisableFailureIsRetriedOnNextEvaluation(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	gomock.InOrder(
		f.flags.EXPECT().Disable(gomock.Any(), gomock.Any()).
			Return(models.FlagResult{}, &flags.TransportError{Op: "disable", StatusCode: 503}),
		f.flags.EXPECT().Disable(gomock.Any(), gomock.Any()).Return(models.FlagResult{Version: 2}, nil),
	)

	for range 2 {
		_, err := f.svc.Ingest(ctx, f.sample(0.2, 0.2))
		require.NoError(t, err)
	}

	res, err := f.svc.Ingest(ctx, f.sample(0.2, 0.2))
	require.NoError(t, err, "remote failures never reach the chat pipeline")
	assert.Equal(t, models.ActionDisableFailed, res.Action)

	status := f.svc.Status()
	assert.True(t, status.FlagEnabled)
	assert.Equal(t, models.StateEnabled, status.State, "failed disable must not start a cooldown")
	assert.Contains(t, status.LastRemoteError, "503")
	require.NotNil(t, status.LastRemoteErrorTime)

	res, err = f.svc.Ingest(ctx, f.sample(0.2, 0.2))
	require.NoError(t, err)
	assert.Equal(t, models.ActionDisabled, res.Action)
	assert.Empty(t, f.svc.Status().LastRemoteError)
}

func TestIngest_FlagTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	flagCtrl := mocks.NewMockFlagController(ctrl)
	flagCtrl.EXPECT().IsEnabled(gomock.Any()).Return(true, nil)
	flagCtrl.EXPECT().Disable(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ string) (models.FlagResult, error) {
			<-ctx.Done()
			return models.FlagResult{}, ctx.Err()
		})

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewGuardrailService(context.Background(), Options{
		Policy:      scenarioPolicy(),
		Clock:       clock,
		Flags:       flagCtrl,
		FlagTimeout: 20 * time.Millisecond,
	}, newTestLogger())

	var res models.IngestResult
	for range 3 {
		var err error
		res, err = svc.Ingest(context.Background(), models.MetricSample{AccuracyScore: 0.1, GroundingScore: 0.1, RelevanceScore: 1, Timestamp: clock.Now()})
		require.NoError(t, err)
	}

	assert.Equal(t, models.ActionDisableFailed, res.Action)
}

func TestIngest_ConcurrentCallersDisableOnce(t *testing.T) {
	f := newFixture(t, true)
	f.flags.EXPECT().Disable(gomock.Any(), gomock.Any()).Return(models.FlagResult{Version: 1}, nil).Times(1)

	var wg sync.WaitGroup
	for range 30 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Ingest(context.Background(), f.sample(0.1, 0.1))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, f.svc.Status().FlagEnabled)
}

// Scenario: bypass phrase disables with no metric history at all.
func TestBypassCheck_DisablesImmediately(t *testing.T) {
	f := newFixture(t, true)
	f.flags.EXPECT().Disable(gomock.Any(), "Guardrail clamp: bypass phrase detected").Return(models.FlagResult{Version: 3}, nil)

	res := f.svc.BypassCheck(context.Background(), "I HATE YOU")

	assert.True(t, res.Matched)
	assert.True(t, res.Disabled)
	assert.Equal(t, config.DefaultSafeResponse, res.SafeResponse)
	assert.Empty(t, res.Error)
	assert.Equal(t, models.StateDisabled, f.svc.Status().State)
}

func TestBypassCheck_NoMatch(t *testing.T) {
	f := newFixture(t, true)

	res := f.svc.BypassCheck(context.Background(), "what is my balance?")

	assert.False(t, res.Matched)
	assert.Empty(t, res.SafeResponse)
}

func TestBypassCheck_IgnoresCooldown(t *testing.T) {
	f := newFixture(t, true)
	f.flags.EXPECT().Disable(gomock.Any(), gomock.Any()).Return(models.FlagResult{Version: 1}, nil).Times(2)
	ctx := context.Background()

	for range 3 {
		_, err := f.svc.Ingest(ctx, f.sample(0.2, 0.2))
		require.NoError(t, err)
	}
	require.Equal(t, models.StateDisabled, f.svc.Status().State)

	res := f.svc.BypassCheck(ctx, "ok... I HATE YOU")
	assert.True(t, res.Disabled)
}

func TestBypassCheck_RemoteFailureStillMatches(t *testing.T) {
	f := newFixture(t, true)
	f.flags.EXPECT().Disable(gomock.Any(), gomock.Any()).
		Return(models.FlagResult{}, &flags.TransportError{Op: "disable", Err: flags.ErrNotConfigured})

	res := f.svc.BypassCheck(context.Background(), "I HATE YOU")

	assert.True(t, res.Matched)
	assert.False(t, res.Disabled)
	assert.NotEmpty(t, res.SafeResponse)
	assert.Contains(t, res.Error, "not configured")
	assert.True(t, f.svc.Status().FlagEnabled)
}

// Scenario: recovery re-enables and keeps the record of the disable.
func TestRecover_AfterAutomaticDisable(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.flags.EXPECT().Disable(gomock.Any(), gomock.Any()).Return(models.FlagResult{Version: 1}, nil)
	f.flags.EXPECT().Enable(gomock.Any(), "Manual recovery: reviewed").Return(models.FlagResult{Version: 2}, nil)

	for range 3 {
		_, err := f.svc.Ingest(ctx, f.sample(0.2, 0.2))
		require.NoError(t, err)
	}

	result, err := f.svc.Recover(ctx, "reviewed")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Version)

	status := f.svc.Status()
	assert.True(t, status.FlagEnabled)
	assert.Equal(t, models.StateEnabled, status.State)
	assert.NotNil(t, status.LastDisableTime)
	assert.Nil(t, status.LastTriggerTime)
	assert.Equal(t, 3, status.SampleCount)
}

func TestRecover_ClearsSuppression(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.flags.EXPECT().Disable(gomock.Any(), gomock.Any()).Return(models.FlagResult{}, nil).Times(2)
	f.flags.EXPECT().Enable(gomock.Any(), gomock.Any()).Return(models.FlagResult{}, nil)

	for range 3 {
		_, err := f.svc.Ingest(ctx, f.sample(0.2, 0.2))
		require.NoError(t, err)
	}
	_, err := f.svc.Recover(ctx, "")
	require.NoError(t, err)

	res, err := f.svc.Ingest(ctx, f.sample(0.2, 0.2))
	require.NoError(t, err)
	assert.Equal(t, models.ActionDisabled, res.Action)
}

func TestRecover_RemoteErrorReturned(t *testing.T) {
	f := newFixture(t, false)
	f.flags.EXPECT().Enable(gomock.Any(), gomock.Any()).Return(models.FlagResult{}, errors.New("boom"))

	_, err := f.svc.Recover(context.Background(), "x")

	assert.Error(t, err)
	status := f.svc.Status()
	assert.False(t, status.FlagEnabled)
	assert.Equal(t, "boom", status.LastRemoteError)
}

func TestManualDisable(t *testing.T) {
	f := newFixture(t, true)
	f.flags.EXPECT().Disable(gomock.Any(), "Manual disable: incident 42").Return(models.FlagResult{Version: 5}, nil)

	result, err := f.svc.ManualDisable(context.Background(), "incident 42")

	require.NoError(t, err)
	assert.Equal(t, 5, result.Version)
	status := f.svc.Status()
	assert.Equal(t, models.StateDisabled, status.State)
	assert.Equal(t, 600, status.CooldownRemainingSeconds)
	assert.Equal(t, "Manual disable: incident 42", status.LastDisableReason)
}

func TestManualDisable_Error(t *testing.T) {
	f := newFixture(t, true)
	f.flags.EXPECT().Disable(gomock.Any(), gomock.Any()).Return(models.FlagResult{}, &flags.TransportError{Op: "disable", StatusCode: 401})

	_, err := f.svc.ManualDisable(context.Background(), "")

	var transport *flags.TransportError
	require.ErrorAs(t, err, &transport)
	assert.True(t, f.svc.Status().FlagEnabled)
	assert.Nil(t, f.svc.Status().LastTriggerTime)
}

func TestResetCooldown(t *testing.T) {
	f := newFixture(t, true)
	f.flags.EXPECT().Disable(gomock.Any(), gomock.Any()).Return(models.FlagResult{}, nil)
	ctx := context.Background()

	_, err := f.svc.ManualDisable(ctx, "x")
	require.NoError(t, err)

	f.svc.ResetCooldown(ctx)

	status := f.svc.Status()
	assert.Equal(t, 0, status.CooldownRemainingSeconds)
	assert.False(t, status.FlagEnabled, "reset does not touch the flag")
	assert.NotNil(t, status.LastDisableTime)
}

func TestNew_InitialFlagState(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, models.StateDisabled, f.svc.Status().State)
	assert.False(t, f.svc.Gate().Enabled)

	ctrl := gomock.NewController(t)
	flagCtrl := mocks.NewMockFlagController(ctrl)
	flagCtrl.EXPECT().IsEnabled(gomock.Any()).Return(false, errors.New("unreachable"))
	flagCtrl.EXPECT().Info().Return(models.FlagInfo{}).AnyTimes()

	svc := NewGuardrailService(context.Background(), Options{Policy: scenarioPolicy(), Flags: flagCtrl}, newTestLogger())
	assert.True(t, svc.Status().FlagEnabled, "unknown flag state defaults to enabled")
}

func TestNew_RestoresAndPersistsState(t *testing.T) {
	ctrl := gomock.NewController(t)
	flagCtrl := mocks.NewMockFlagController(ctrl)
	stateStore := mocks.NewMockStateStore(ctrl)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	trigger := clock.Now().Add(-2 * time.Minute)
	flagCtrl.EXPECT().IsEnabled(gomock.Any()).Return(true, nil)
	flagCtrl.EXPECT().Info().Return(models.FlagInfo{}).AnyTimes()
	stateStore.EXPECT().Load(gomock.Any()).Return(models.StateSnapshot{
		FlagEnabled:       false,
		LastTriggerTime:   &trigger,
		LastDisableTime:   &trigger,
		LastDisableReason: "Guardrail clamp: bypass phrase detected",
	}, true, nil)

	svc := NewGuardrailService(context.Background(), Options{
		Policy: scenarioPolicy(),
		Clock:  clock,
		Flags:  flagCtrl,
		Store:  stateStore,
	}, newTestLogger())

	status := svc.Status()
	assert.True(t, status.FlagEnabled)
	assert.Equal(t, models.StateCooldownEnabled, status.State)
	assert.Equal(t, 480, status.CooldownRemainingSeconds)

	stateStore.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, snap models.StateSnapshot) error {
			assert.Nil(t, snap.LastTriggerTime)
			return nil
		})
	svc.ResetCooldown(context.Background())
}

func TestMetrics_Report(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	for range 60 {
		_, err := f.svc.Ingest(ctx, f.sample(0.9, 0.9))
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}

	report := f.svc.Metrics(0)
	assert.Len(t, report.Samples, DefaultMetricsLimit)
	assert.True(t, report.Samples[0].Timestamp.Before(report.Samples[len(report.Samples)-1].Timestamp))
	assert.Equal(t, 0.8, report.Policy.MinGrounding)
	assert.Equal(t, 60, report.Summary.TotalRequests)

	assert.Len(t, f.svc.Metrics(5).Samples, 5)
}

func TestGate(t *testing.T) {
	f := newFixture(t, true)

	gate := f.svc.Gate()
	assert.True(t, gate.Enabled)
	assert.Equal(t, "ok", gate.Code)

	f.flags.EXPECT().Disable(gomock.Any(), gomock.Any()).Return(models.FlagResult{}, nil)
	_, err := f.svc.ManualDisable(context.Background(), "x")
	require.NoError(t, err)

	gate = f.svc.Gate()
	assert.False(t, gate.Enabled)
	assert.Equal(t, "feature_disabled", gate.Code)
	assert.Equal(t, models.StateDisabled, gate.State)
}
