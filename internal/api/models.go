package api

import "github.com/povarna/generative-ai-agents/guardrail-clamp/internal/models"

type HealthResponse struct {
	Status  string `json:"status" description:"Service status"`
	Version string `json:"version" description:"API version"`
}

type BypassRequest struct {
	Input string `json:"input" description:"Raw user input to check for the bypass phrase"`
}

type OperatorRequest struct {
	Reason string `json:"reason,omitempty" description:"Free text recorded in the flag change comment"`
}

type FlagChangeResponse struct {
	Success bool                `json:"success" description:"Whether the flag change was confirmed"`
	Message string              `json:"message" description:"Human readable outcome"`
	Version int                 `json:"version" description:"Flag version after the change"`
	Status  models.StatusReport `json:"status" description:"Guardrail status after the change"`
}

type ResetCooldownResponse struct {
	Message string              `json:"message" description:"Human readable outcome"`
	Status  models.StatusReport `json:"status" description:"Guardrail status after the reset"`
}
