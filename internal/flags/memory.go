package flags

import (
	"context"
	"sync"

	"github.com/povarna/generative-ai-agents/guardrail-clamp/internal/models"
)

// MemoryController is an in-process flag used for offline replays.
type MemoryController struct {
	mu       sync.Mutex
	on       bool
	version  int
	comments []string
}

func NewMemoryController(on bool) *MemoryController {
	return &MemoryController{on: on}
}

func (m *MemoryController) Disable(_ context.Context, comment string) (models.FlagResult, error) {
	return m.set(false, comment), nil
}

func (m *MemoryController) Enable(_ context.Context, comment string) (models.FlagResult, error) {
	return m.set(true, comment), nil
}

func (m *MemoryController) IsEnabled(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.on, nil
}

func (m *MemoryController) Info() models.FlagInfo {
	return models.FlagInfo{ProjectKey: "local", EnvironmentKey: "replay", FlagKey: "memory", Configured: true}
}

// Changes returns the comments of every update applied so far.
func (m *MemoryController) Changes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.comments...)
}

func (m *MemoryController) set(on bool, comment string) models.FlagResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.on = on
	m.version++
	m.comments = append(m.comments, comment)
	return models.FlagResult{Version: m.version}
}
