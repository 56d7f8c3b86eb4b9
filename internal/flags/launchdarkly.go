package flags

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/models"
	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://app.launchdarkly.com/api/v2"
	apiVersion     = "20240415"
	semanticPatch  = "application/json; domain-model=launchdarkly.semanticpatch"

	instructionOff = "turnFlagOff"
	instructionOn  = "turnFlagOn"
)

type Config struct {
	BaseURL        string
	APIToken       string
	ProjectKey     string
	EnvironmentKey string
	FlagKey        string
	Timeout        time.Duration
}

type instruction struct {
	Kind string `json:"kind"`
}

type patchRequest struct {
	Comment        string        `json:"comment"`
	EnvironmentKey string        `json:"environmentKey"`
	Instructions   []instruction `json:"instructions"`
}

type flagResponse struct {
	Version      int `json:"_version"`
	Environments map[string]struct {
		On bool `json:"on"`
	} `json:"environments"`
}

// LaunchDarklyClient toggles one flag in one environment through the
// LaunchDarkly REST API using semantic patch instructions.
type LaunchDarklyClient struct {
	cfg        Config
	httpClient *http.Client
	logger     *zerolog.Logger
	now        func() time.Time
}

func NewLaunchDarklyClient(cfg Config, logger *zerolog.Logger) *LaunchDarklyClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.APIToken == "" {
		logger.Warn().Msg("LD_API_TOKEN not set, flag disable and enable will fail")
	}

	return &LaunchDarklyClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		now:        time.Now,
	}
}

func (c *LaunchDarklyClient) Configured() bool {
	return c.cfg.APIToken != "" && c.cfg.ProjectKey != "" && c.cfg.FlagKey != "" && c.cfg.EnvironmentKey != ""
}

func (c *LaunchDarklyClient) Info() models.FlagInfo {
	return models.FlagInfo{
		ProjectKey:     c.cfg.ProjectKey,
		EnvironmentKey: c.cfg.EnvironmentKey,
		FlagKey:        c.cfg.FlagKey,
		Configured:     c.Configured(),
	}
}

func (c *LaunchDarklyClient) Disable(ctx context.Context, comment string) (models.FlagResult, error) {
	result, err := c.patch(ctx, "disable", instructionOff, comment)
	if err != nil {
		return result, err
	}

	c.logger.Warn().
		Str("flag", c.cfg.FlagKey).
		Str("environment", c.cfg.EnvironmentKey).
		Str("comment", comment).
		Int("version", result.Version).
		Msg("Feature flag disabled")
	return result, nil
}

func (c *LaunchDarklyClient) Enable(ctx context.Context, comment string) (models.FlagResult, error) {
	result, err := c.patch(ctx, "enable", instructionOn, comment)
	if err != nil {
		return result, err
	}

	c.logger.Info().
		Str("flag", c.cfg.FlagKey).
		Str("environment", c.cfg.EnvironmentKey).
		Str("comment", comment).
		Int("version", result.Version).
		Msg("Feature flag enabled")
	return result, nil
}

// IsEnabled reads the flag's on/off state for the configured environment. When
// the client is unconfigured, the request fails or the environment is missing it
// reports true; the error, if any, is still returned for logging.
func (c *LaunchDarklyClient) IsEnabled(ctx context.Context) (bool, error) {
	if !c.Configured() {
		return true, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.flagURL(), nil)
	if err != nil {
		return true, &TransportError{Op: "status", Err: err}
	}
	c.setHeaders(req, "application/json")

	var flag flagResponse
	if err := c.do(req, "status", &flag); err != nil {
		return true, err
	}

	env, ok := flag.Environments[c.cfg.EnvironmentKey]
	if !ok {
		return true, nil
	}
	return env.On, nil
}

func (c *LaunchDarklyClient) patch(ctx context.Context, op, kind, comment string) (models.FlagResult, error) {
	if !c.Configured() {
		return models.FlagResult{}, &TransportError{Op: op, Err: ErrNotConfigured}
	}

	body, err := json.Marshal(patchRequest{
		Comment:        fmt.Sprintf("%s - %s", comment, c.now().UTC().Format(time.RFC3339)),
		EnvironmentKey: c.cfg.EnvironmentKey,
		Instructions:   []instruction{{Kind: kind}},
	})
	if err != nil {
		return models.FlagResult{}, fmt.Errorf("failed to marshal patch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.flagURL(), bytes.NewReader(body))
	if err != nil {
		return models.FlagResult{}, &TransportError{Op: op, Err: err}
	}
	c.setHeaders(req, semanticPatch)

	var flag flagResponse
	if err := c.do(req, op, &flag); err != nil {
		c.logger.Error().Err(err).Str("flag", c.cfg.FlagKey).Str("op", op).Msg("Flag update failed")
		return models.FlagResult{}, err
	}

	return models.FlagResult{Version: flag.Version}, nil
}

func (c *LaunchDarklyClient) do(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(payload), 512),
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func (c *LaunchDarklyClient) setHeaders(req *http.Request, contentType string) {
	req.Header.Set("Authorization", c.cfg.APIToken)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("LD-API-Version", apiVersion)
}

func (c *LaunchDarklyClient) flagURL() string {
	return fmt.Sprintf("%s/flags/%s/%s", c.cfg.BaseURL, url.PathEscape(c.cfg.ProjectKey), url.PathEscape(c.cfg.FlagKey))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
