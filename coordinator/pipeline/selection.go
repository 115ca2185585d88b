package pipeline

import (
	"sort"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/power"
	"github.com/enclavecode/swarm/coordinator/registry"
	"github.com/enclavecode/swarm/shared/params"
)

// candidate pairs an agent with its in-flight slot usage.
type candidate struct {
	agent     *api.Agent
	freeSlots int
}

// selectWorkers filters and ranks agents for a ready subtask: approval,
// health, mode, language and sandbox gates first, then the power policy,
// then ordering by free slots desc, score desc, last-assigned asc. The
// returned slice is best-first.
func selectWorkers(agents []*api.Agent, subtask *api.Subtask, task *api.Task, inFlight map[string]int, nowMs int64) []*candidate {
	cfg := params.Coordinator()
	var out []*candidate
	for _, agent := range agents {
		if agent.Retired || agent.Approval != api.ApprovalApproved {
			continue
		}
		if registry.HealthOf(agent, nowMs) != api.HealthHealthy {
			continue
		}
		if agent.Mode == api.ModePaused {
			continue
		}
		if task != nil && !agentSupportsLanguage(agent, task.Language) {
			continue
		}
		if subtask.Kind == api.SubtaskRobot && agent.SandboxMode == "" {
			continue
		}
		if subtask.ResourceClass == api.ResourceGPU && !agent.GPU {
			continue
		}
		decision := power.Decide(agent.OS, agent.Telemetry, agent.LastAssignedAtMs, nowMs, cfg)
		if !decision.AllowCoordinatorTasks {
			continue
		}
		if decision.AllowSmallTasksOnly && subtask.Kind != api.SubtaskSingleStep {
			continue
		}
		if decision.DeferMs > 0 && nowMs-agent.LastAssignedAtMs < decision.DeferMs {
			continue
		}
		free := agent.MaxSlots - inFlight[agent.ID]
		if free <= 0 {
			continue
		}
		out = append(out, &candidate{agent: agent, freeSlots: free})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.freeSlots != b.freeSlots {
			return a.freeSlots > b.freeSlots
		}
		if a.agent.Score != b.agent.Score {
			return a.agent.Score > b.agent.Score
		}
		return a.agent.LastAssignedAtMs < b.agent.LastAssignedAtMs
	})
	return out
}

func agentSupportsLanguage(agent *api.Agent, language string) bool {
	if language == "" || len(agent.Languages) == 0 {
		return true
	}
	for _, l := range agent.Languages {
		if l == language {
			return true
		}
	}
	return false
}
