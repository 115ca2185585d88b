// Package inference talks to the model endpoint that decomposes a
// submitted prompt into dependency-ordered subtasks.
package inference

import (
	"context"

	"github.com/enclavecode/swarm/coordinator/api"
)

// SubtaskSpec is one unit of the decomposition returned by the model.
// IDs are local to the response; dependsOn edges refer to them.
type SubtaskSpec struct {
	ID            string   `json:"id"`
	Kind          string   `json:"kind"`
	Input         string   `json:"input"`
	TimeoutMs     int64    `json:"timeoutMs"`
	DependsOn     []string `json:"dependsOn,omitempty"`
	ResourceClass string   `json:"resourceClass,omitempty"`
}

// Client decomposes tasks. Implementations must be safe for concurrent
// use by the pipeline workers.
type Client interface {
	Decompose(ctx context.Context, task *api.Task) ([]SubtaskSpec, error)
}
