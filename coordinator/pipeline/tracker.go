package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/enclavecode/swarm/coordinator/api"
)

// depTracker holds subtasks with unsatisfied dependencies and the outputs
// of completed ones. When a completion satisfies the whole dependsOn set
// of a pending subtask, its input is rewritten with the dependency
// context and the subtask is released.
type depTracker struct {
	mu        sync.Mutex
	pending   map[string]*api.Subtask // subtask id -> waiting subtask
	completed map[string]string       // subtask id -> output
}

func newDepTracker() *depTracker {
	return &depTracker{
		pending:   make(map[string]*api.Subtask),
		completed: make(map[string]string),
	}
}

// Add routes a subtask: returned true means it is immediately ready,
// false means it parked in the pending map.
func (t *depTracker) Add(subtask *api.Subtask) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.satisfied(subtask) {
		return true
	}
	t.pending[subtask.ID] = subtask
	return false
}

// Complete records an output and releases every pending subtask whose
// dependency set is now fully satisfied, with its input rewritten to
// carry the dependency outputs. Releases come back sorted by subtask id
// for deterministic enqueue order.
func (t *depTracker) Complete(subtaskID, output string) []*api.Subtask {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed[subtaskID] = output

	var released []*api.Subtask
	for id, subtask := range t.pending {
		if !t.satisfied(subtask) {
			continue
		}
		subtask.Input = t.rewriteInput(subtask)
		released = append(released, subtask)
		delete(t.pending, id)
	}
	sort.Slice(released, func(i, j int) bool { return released[i].ID < released[j].ID })
	return released
}

// Drop removes a pending subtask, for cancellation.
func (t *depTracker) Drop(subtaskID string) *api.Subtask {
	t.mu.Lock()
	defer t.mu.Unlock()
	subtask := t.pending[subtaskID]
	delete(t.pending, subtaskID)
	return subtask
}

// PendingIDs lists parked subtasks.
func (t *depTracker) PendingIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.pending))
	for id := range t.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Output returns a completed subtask's output.
func (t *depTracker) Output(subtaskID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out, ok := t.completed[subtaskID]
	return out, ok
}

func (t *depTracker) satisfied(subtask *api.Subtask) bool {
	for _, dep := range subtask.DependsOn {
		if _, done := t.completed[dep]; !done {
			return false
		}
	}
	return true
}

// rewriteInput prepends the dependency outputs, numbered in dependsOn
// declaration order.
func (t *depTracker) rewriteInput(subtask *api.Subtask) string {
	var b strings.Builder
	b.WriteString("[Context from previous subtasks]\n")
	for i, dep := range subtask.DependsOn {
		fmt.Fprintf(&b, "Subtask %d result: %s\n", i+1, t.completed[dep])
	}
	b.WriteString("\n[Your task]\n")
	b.WriteString(subtask.Input)
	return b.String()
}
