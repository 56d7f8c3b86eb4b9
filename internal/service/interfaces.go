package service

import (
	"context"

	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/models"
)

// FlagController drives the external feature flag. Implementations must be
// idempotent: disabling an already disabled flag is not an error.
type FlagController interface {
	Disable(ctx context.Context, comment string) (models.FlagResult, error)
	Enable(ctx context.Context, comment string) (models.FlagResult, error)
	IsEnabled(ctx context.Context) (bool, error)
	Info() models.FlagInfo
}

type StateStore interface {
	Load(ctx context.Context) (models.StateSnapshot, bool, error)
	Save(ctx context.Context, snapshot models.StateSnapshot) error
}
