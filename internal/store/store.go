package store

import (
	"context"
	"sync"

	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/models"
)

// StateStore keeps the guardrail trigger memory across restarts.
type StateStore interface {
	Load(ctx context.Context) (models.StateSnapshot, bool, error)
	Save(ctx context.Context, snapshot models.StateSnapshot) error
}

type MemoryStore struct {
	mu       sync.Mutex
	snapshot *models.StateSnapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(context.Context) (models.StateSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshot == nil {
		return models.StateSnapshot{}, false, nil
	}
	return *s.snapshot, true, nil
}

func (s *MemoryStore) Save(_ context.Context, snapshot models.StateSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot = &snapshot
	return nil
}
