package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/emicklei/go-restful/v3"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/api/middleware"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/ingest"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/models"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/monitor"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/service"
	"github.com/rs/zerolog"
)

const apiVersion = "1.0.0"

type Handler struct {
	service  *service.GuardrailService
	pipeline *ingest.Pipeline
	logger   *zerolog.Logger
}

func NewHandler(pipeline *ingest.Pipeline, logger *zerolog.Logger) *Handler {
	return &Handler{
		service:  pipeline.Service(),
		pipeline: pipeline,
		logger:   logger,
	}
}

// POST /api/v1/guardrail/samples
func (h *Handler) IngestSample(req *restful.Request, resp *restful.Response) {
	var event models.SampleEvent
	if err := req.ReadEntity(&event); err != nil {
		h.logger.Error().Err(err).Msg("Failed to parse sample body")
		middleware.HandleError(resp, err, http.StatusBadRequest)
		return
	}

	result, err := h.pipeline.IngestEvent(req.Request.Context(), event)
	if err != nil {
		var invalid *monitor.InvalidSampleError
		if errors.As(err, &invalid) {
			h.logger.Warn().Err(err).Str("event_id", result.EventID).Msg("Rejected invalid sample")
			middleware.HandleError(resp, err, http.StatusBadRequest)
			return
		}
		middleware.HandleError(resp, err, http.StatusInternalServerError)
		return
	}

	resp.WriteHeaderAndEntity(http.StatusOK, result)
}

// POST /api/v1/guardrail/bypass-check
func (h *Handler) BypassCheck(req *restful.Request, resp *restful.Response) {
	var body BypassRequest
	if err := req.ReadEntity(&body); err != nil {
		middleware.HandleError(resp, err, http.StatusBadRequest)
		return
	}

	resp.WriteHeaderAndEntity(http.StatusOK, h.service.BypassCheck(req.Request.Context(), body.Input))
}

// GET /api/v1/guardrail/status
func (h *Handler) Status(req *restful.Request, resp *restful.Response) {
	resp.WriteHeaderAndEntity(http.StatusOK, h.service.Status())
}

// GET /api/v1/guardrail/metrics?limit=N
func (h *Handler) Metrics(req *restful.Request, resp *restful.Response) {
	limit := 0
	if raw := req.QueryParameter("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			middleware.HandleError(resp, middleware.ErrInvalidLimit, http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	resp.WriteHeaderAndEntity(http.StatusOK, h.service.Metrics(limit))
}

// POST /api/v1/guardrail/manual-disable
func (h *Handler) ManualDisable(req *restful.Request, resp *restful.Response) {
	body, ok := h.readOperatorRequest(req, resp)
	if !ok {
		return
	}

	result, err := h.service.ManualDisable(req.Request.Context(), body.Reason)
	if err != nil {
		middleware.HandleError(resp, err, http.StatusBadGateway)
		return
	}

	resp.WriteHeaderAndEntity(http.StatusOK, FlagChangeResponse{
		Success: true,
		Message: "AI feature disabled",
		Version: result.Version,
		Status:  h.service.Status(),
	})
}

// POST /api/v1/guardrail/recovery
func (h *Handler) Recover(req *restful.Request, resp *restful.Response) {
	body, ok := h.readOperatorRequest(req, resp)
	if !ok {
		return
	}

	result, err := h.service.Recover(req.Request.Context(), body.Reason)
	if err != nil {
		middleware.HandleError(resp, err, http.StatusBadGateway)
		return
	}

	resp.WriteHeaderAndEntity(http.StatusOK, FlagChangeResponse{
		Success: true,
		Message: "AI feature re-enabled",
		Version: result.Version,
		Status:  h.service.Status(),
	})
}

// POST /api/v1/guardrail/reset-cooldown
func (h *Handler) ResetCooldown(req *restful.Request, resp *restful.Response) {
	h.service.ResetCooldown(req.Request.Context())

	resp.WriteHeaderAndEntity(http.StatusOK, ResetCooldownResponse{
		Message: "Cooldown reset",
		Status:  h.service.Status(),
	})
}

// GET /api/v1/guardrail/gate
func (h *Handler) Gate(req *restful.Request, resp *restful.Response) {
	resp.WriteHeaderAndEntity(http.StatusOK, h.service.Gate())
}

// GET /api/v1/health
func (h *Handler) Health(req *restful.Request, resp *restful.Response) {
	resp.WriteHeaderAndEntity(http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: apiVersion,
	})
}

// readOperatorRequest accepts an empty body as "no reason given".
func (h *Handler) readOperatorRequest(req *restful.Request, resp *restful.Response) (OperatorRequest, bool) {
	var body OperatorRequest
	if err := req.ReadEntity(&body); err != nil && !errors.Is(err, io.EOF) {
		middleware.HandleError(resp, err, http.StatusBadRequest)
		return body, false
	}
	return body, true
}
