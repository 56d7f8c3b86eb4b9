package stream

import "context"

// StreamConsumer feeds published sample events into the guardrail.
type StreamConsumer interface {
	Setup(ctx context.Context) error
	Start(ctx context.Context) error
	Stop() error
}
