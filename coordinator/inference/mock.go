package inference

import (
	"context"
	"sync"

	"github.com/enclavecode/swarm/coordinator/api"
)

// MockClient returns a scripted decomposition, or a single pass-through
// subtask when nothing is scripted. Used in tests and single-node runs
// without an inference service.
type MockClient struct {
	mu sync.Mutex
	// DecomposeFn overrides the default behavior when set.
	DecomposeFn func(ctx context.Context, task *api.Task) ([]SubtaskSpec, error)
	calls       int
}

// Decompose runs the scripted function or falls back to one single-step
// subtask carrying the whole prompt.
func (m *MockClient) Decompose(ctx context.Context, task *api.Task) ([]SubtaskSpec, error) {
	m.mu.Lock()
	m.calls++
	fn := m.DecomposeFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, task)
	}
	return []SubtaskSpec{{
		ID:        "s1",
		Kind:      api.SubtaskSingleStep,
		Input:     task.Prompt,
		TimeoutMs: task.TimeoutMs,
	}}, nil
}

// Calls reports how many decompositions were requested.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
