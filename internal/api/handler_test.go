package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/emicklei/go-restful/v3"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/api"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/api/middleware"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/bypass"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/config"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/flags"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/ingest"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/models"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/scoring"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/service"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/service/mocks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func testPolicy() config.ThresholdPolicy {
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

func setupHandlerAPI(t *testing.T, limiter *middleware.RateLimiter) (*restful.Container, *mocks.MockFlagController) {
	t.Helper()
	ctrl := gomock.NewController(t)
	logger := zerolog.Nop()

	flagCtrl := mocks.NewMockFlagController(ctrl)
	flagCtrl.EXPECT().IsEnabled(gomock.Any()).Return(true, nil)
	flagCtrl.EXPECT().Info().Return(models.FlagInfo{ProjectKey: "bank", EnvironmentKey: "production", FlagKey: "toggle-bank-rag", Configured: true}).AnyTimes()

	svc := service.NewGuardrailService(context.Background(), service.Options{
		Policy:   testPolicy(),
		Detector: bypass.NewDetector("I HATE YOU"),
		Flags:    flagCtrl,
	}, &logger)

	container := restful.NewContainer()
	container.Filter(middleware.RecoverPanic)
	api.RegisterRoutes(container, api.NewHandler(ingest.NewPipeline(scoring.NewNormalizer(nil, nil, &logger), svc, &logger), &logger), limiter)
	return container, flagCtrl
}

func do(t *testing.T, container *restful.Container, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", restful.MIME_JSON)
	req.RemoteAddr = "192.0.2.10:40000"

	rec := httptest.NewRecorder()
	container.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func ptr(v float64) *float64 { return &v }

func TestAPI_Health(t *testing.T) {
	container, _ := setupHandlerAPI(t, nil)

	rec := do(t, container, http.MethodGet, "/api/v1/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[api.HealthResponse](t, rec).Status)
}

func TestAPI_IngestDisablesAfterCriticalSamples(t *testing.T) {
	container, flagCtrl := setupHandlerAPI(t, nil)
	flagCtrl.EXPECT().Disable(gomock.Any(), gomock.Any()).Return(models.FlagResult{Version: 9}, nil)

	var last models.IngestResult
	for range 3 {
		rec := do(t, container, http.MethodPost, "/api/v1/guardrail/samples", models.SampleEvent{
			AccuracyScore:  ptr(0.2),
			GroundingScore: ptr(0.2),
			Timestamp:      time.Now().UTC(),
		})
		require.Equal(t, http.StatusOK, rec.Code)
		last = decode[models.IngestResult](t, rec)
		assert.NotEmpty(t, last.EventID, "event id is generated when missing")
	}
	assert.Equal(t, models.ActionDisabled, last.Action)

	status := decode[models.StatusReport](t, do(t, container, http.MethodGet, "/api/v1/guardrail/status", nil))
	assert.Equal(t, models.StateDisabled, status.State)
	assert.Equal(t, "toggle-bank-rag", status.Flag.FlagKey)

	gate := decode[models.GateResponse](t, do(t, container, http.MethodGet, "/api/v1/guardrail/gate", nil))
	assert.False(t, gate.Enabled)
	assert.Equal(t, "feature_disabled", gate.Code)
}

func TestAPI_IngestInvalidSample(t *testing.T) {
	container, _ := setupHandlerAPI(t, nil)

	rec := do(t, container, http.MethodPost, "/api/v1/guardrail/samples", models.SampleEvent{AccuracyScore: ptr(1.7)})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[middleware.ErrorResponse](t, rec).Details, "accuracy_score")
}

func TestAPI_IngestMalformedBody(t *testing.T) {
	container, _ := setupHandlerAPI(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/guardrail/samples", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", restful.MIME_JSON)
	rec := httptest.NewRecorder()
	container.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_BypassCheck(t *testing.T) {
	container, flagCtrl := setupHandlerAPI(t, nil)
	flagCtrl.EXPECT().Disable(gomock.Any(), gomock.Any()).Return(models.FlagResult{Version: 1}, nil)

	miss := decode[models.BypassResult](t, do(t, container, http.MethodPost, "/api/v1/guardrail/bypass-check", api.BypassRequest{Input: "hello"}))
	assert.False(t, miss.Matched)

	hit := decode[models.BypassResult](t, do(t, container, http.MethodPost, "/api/v1/guardrail/bypass-check", api.BypassRequest{Input: "I HATE YOU"}))
	assert.True(t, hit.Matched)
	assert.True(t, hit.Disabled)
	assert.Equal(t, config.DefaultSafeResponse, hit.SafeResponse)
}

func TestAPI_ManualDisableAndRecovery(t *testing.T) {
	container, flagCtrl := setupHandlerAPI(t, nil)
	flagCtrl.EXPECT().Disable(gomock.Any(), "Manual disable: incident").Return(models.FlagResult{Version: 2}, nil)
	flagCtrl.EXPECT().Enable(gomock.Any(), "Manual recovery: operator request").Return(models.FlagResult{Version: 3}, nil)

	rec := do(t, container, http.MethodPost, "/api/v1/guardrail/manual-disable", api.OperatorRequest{Reason: "incident"})
	require.Equal(t, http.StatusOK, rec.Code)
	disabled := decode[api.FlagChangeResponse](t, rec)
	assert.True(t, disabled.Success)
	assert.Equal(t, 2, disabled.Version)
	assert.Equal(t, models.StateDisabled, disabled.Status.State)

	// Empty body is accepted.
	rec = do(t, container, http.MethodPost, "/api/v1/guardrail/recovery", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	recovered := decode[api.FlagChangeResponse](t, rec)
	assert.Equal(t, 3, recovered.Version)
	assert.Equal(t, models.StateEnabled, recovered.Status.State)
	assert.NotNil(t, recovered.Status.LastDisableTime)
}

func TestAPI_ManualDisableRemoteError(t *testing.T) {
	container, flagCtrl := setupHandlerAPI(t, nil)
	flagCtrl.EXPECT().Disable(gomock.Any(), gomock.Any()).
		Return(models.FlagResult{}, &flags.TransportError{Op: "disable", StatusCode: http.StatusUnauthorized, Body: "invalid token"})

	rec := do(t, container, http.MethodPost, "/api/v1/guardrail/manual-disable", api.OperatorRequest{Reason: "x"})

	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decode[middleware.ErrorResponse](t, rec).Details, "401")

	status := decode[models.StatusReport](t, do(t, container, http.MethodGet, "/api/v1/guardrail/status", nil))
	assert.True(t, status.FlagEnabled)
	assert.NotEmpty(t, status.LastRemoteError)
}

func TestAPI_ResetCooldown(t *testing.T) {
	container, flagCtrl := setupHandlerAPI(t, nil)
	flagCtrl.EXPECT().Disable(gomock.Any(), gomock.Any()).Return(models.FlagResult{}, nil)

	do(t, container, http.MethodPost, "/api/v1/guardrail/manual-disable", nil)
	rec := do(t, container, http.MethodPost, "/api/v1/guardrail/reset-cooldown", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	reset := decode[api.ResetCooldownResponse](t, rec)
	assert.Equal(t, 0, reset.Status.CooldownRemainingSeconds)
	assert.Nil(t, reset.Status.LastTriggerTime)
}

func TestAPI_Metrics(t *testing.T) {
	container, _ := setupHandlerAPI(t, nil)
	base := time.Now().UTC().Add(-time.Minute)

	for i := range 4 {
		rec := do(t, container, http.MethodPost, "/api/v1/guardrail/samples", models.SampleEvent{
			AccuracyScore: ptr(0.9),
			Timestamp:     base.Add(time.Duration(i) * time.Second),
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	report := decode[models.MetricsReport](t, do(t, container, http.MethodGet, "/api/v1/guardrail/metrics?limit=2", nil))
	assert.Len(t, report.Samples, 2)
	assert.Equal(t, 4, report.Summary.TotalRequests)
	assert.Equal(t, 3, report.Policy.TriggerThresholdCount)

	rec := do(t, container, http.MethodGet, "/api/v1/guardrail/metrics?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_OperatorRoutesAreRateLimited(t *testing.T) {
	container, _ := setupHandlerAPI(t, middleware.NewRateLimiter(0.001, 1))

	first := do(t, container, http.MethodPost, "/api/v1/guardrail/reset-cooldown", nil)
	second := do(t, container, http.MethodPost, "/api/v1/guardrail/reset-cooldown", nil)
	status := do(t, container, http.MethodGet, "/api/v1/guardrail/status", nil)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, http.StatusOK, status.Code, "read-only routes are not limited")
}
