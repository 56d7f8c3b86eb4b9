package api

import (
	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/api/middleware"
	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/models"
)

// RegisterRoutes mounts the guardrail API. Operator routes that reach the flag
// control plane go through limiter when it is not nil.
func RegisterRoutes(container *restful.Container, handler *Handler, limiter *middleware.RateLimiter) {
	ws := new(restful.WebService)

	ws.
		Path("/api/v1").
		Consumes(restful.MIME_JSON).
		Produces(restful.MIME_JSON)

	operator := func(rb *restful.RouteBuilder) *restful.RouteBuilder {
		if limiter != nil {
			rb.Filter(limiter.Filter)
		}
		return rb
	}

	guardrailTags := []string{"guardrail"}
	opsTags := []string{"operations"}

	ws.Route(ws.GET("/health").
		To(handler.Health).
		Doc("Health check").
		Metadata(restfulspec.KeyOpenAPITags, []string{"health"}).
		Writes(HealthResponse{}).
		Returns(200, "OK", HealthResponse{}))

	ws.Route(ws.POST("/guardrail/samples").
		To(handler.IngestSample).
		Doc("Record one chat turn's quality sample and evaluate the guardrail").
		Metadata(restfulspec.KeyOpenAPITags, guardrailTags).
		Reads(models.SampleEvent{}).
		Writes(models.IngestResult{}).
		Returns(200, "OK", models.IngestResult{}).
		Returns(400, "Invalid Sample", middleware.ErrorResponse{}))

	ws.Route(ws.POST("/guardrail/bypass-check").
		To(handler.BypassCheck).
		Doc("Check raw user input for the bypass phrase").
		Metadata(restfulspec.KeyOpenAPITags, guardrailTags).
		Reads(BypassRequest{}).
		Writes(models.BypassResult{}).
		Returns(200, "OK", models.BypassResult{}).
		Returns(400, "Bad Request", middleware.ErrorResponse{}))

	ws.Route(ws.GET("/guardrail/gate").
		To(handler.Gate).
		Doc("Tell a chat front-end whether to serve the AI feature").
		Metadata(restfulspec.KeyOpenAPITags, guardrailTags).
		Writes(models.GateResponse{}).
		Returns(200, "OK", models.GateResponse{}))

	ws.Route(ws.GET("/guardrail/status").
		To(handler.Status).
		Doc("Current guardrail state").
		Metadata(restfulspec.KeyOpenAPITags, opsTags).
		Writes(models.StatusReport{}).
		Returns(200, "OK", models.StatusReport{}))

	ws.Route(ws.GET("/guardrail/metrics").
		To(handler.Metrics).
		Doc("Recent samples, window summary and active thresholds").
		Metadata(restfulspec.KeyOpenAPITags, opsTags).
		Param(ws.QueryParameter("limit", "Number of newest samples to return (default: 50)").DataType("integer").Required(false)).
		Writes(models.MetricsReport{}).
		Returns(200, "OK", models.MetricsReport{}).
		Returns(400, "Bad Request", middleware.ErrorResponse{}))

	ws.Route(operator(ws.POST("/guardrail/manual-disable").
		To(handler.ManualDisable).
		Doc("Disable the AI feature now").
		Metadata(restfulspec.KeyOpenAPITags, opsTags).
		Reads(OperatorRequest{}).
		Writes(FlagChangeResponse{}).
		Returns(200, "OK", FlagChangeResponse{}).
		Returns(429, "Too Many Requests", middleware.ErrorResponse{}).
		Returns(502, "Flag Control Plane Error", middleware.ErrorResponse{})))

	ws.Route(operator(ws.POST("/guardrail/recovery").
		To(handler.Recover).
		Doc("Re-enable the AI feature and lift cooldown suppression").
		Metadata(restfulspec.KeyOpenAPITags, opsTags).
		Reads(OperatorRequest{}).
		Writes(FlagChangeResponse{}).
		Returns(200, "OK", FlagChangeResponse{}).
		Returns(429, "Too Many Requests", middleware.ErrorResponse{}).
		Returns(502, "Flag Control Plane Error", middleware.ErrorResponse{})))

	ws.Route(operator(ws.POST("/guardrail/reset-cooldown").
		To(handler.ResetCooldown).
		Doc("Clear the cooldown timer without touching the flag").
		Metadata(restfulspec.KeyOpenAPITags, opsTags).
		Writes(ResetCooldownResponse{}).
		Returns(200, "OK", ResetCooldownResponse{}).
		Returns(429, "Too Many Requests", middleware.ErrorResponse{})))

	container.Add(ws)
}
