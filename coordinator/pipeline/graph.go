package pipeline

import (
	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/inference"
)

// DFS colours for cycle detection.
const (
	white = iota // unvisited
	grey         // on the current path
	black        // fully explored
)

// ValidateGraph checks the decomposed dependency graph: every dependsOn
// edge must point at a subtask of the same decomposition and the graph
// must be acyclic. Violations reject the whole task; nothing is enqueued.
func ValidateGraph(specs []inference.SubtaskSpec) error {
	byID := make(map[string]*inference.SubtaskSpec, len(specs))
	for i := range specs {
		spec := &specs[i]
		if spec.ID == "" {
			return api.NewError(api.CodeInvalidSubtaskGraph, "subtask without an id")
		}
		if _, dup := byID[spec.ID]; dup {
			return api.NewErrorf(api.CodeInvalidSubtaskGraph, "duplicate subtask id %q", spec.ID)
		}
		byID[spec.ID] = spec
	}
	for _, spec := range specs {
		for _, dep := range spec.DependsOn {
			if _, ok := byID[dep]; !ok {
				return api.NewErrorf(api.CodeInvalidSubtaskGraph, "subtask %q depends on unknown id %q", spec.ID, dep)
			}
		}
	}

	colour := make(map[string]int, len(specs))
	var visit func(id string) error
	visit = func(id string) error {
		switch colour[id] {
		case grey:
			return api.NewErrorf(api.CodeInvalidSubtaskGraph, "dependency cycle through subtask %q", id)
		case black:
			return nil
		}
		colour[id] = grey
		for _, dep := range byID[id].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		colour[id] = black
		return nil
	}
	for _, spec := range specs {
		if err := visit(spec.ID); err != nil {
			return err
		}
	}
	return nil
}
