package registry

import (
	"context"
	"sort"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/shared/params"
	"github.com/enclavecode/swarm/shared/timeutils"
)

// ListFilter narrows a registry listing. Zero values match everything.
type ListFilter struct {
	OS       string
	Role     string
	Mode     string
	Approval string
	Health   string
	Language string
}

// HealthOf derives the health of an agent from its last-seen time.
func HealthOf(agent *api.Agent, nowMs int64) string {
	cfg := params.Coordinator()
	age := nowMs - agent.LastSeenMs
	switch {
	case age < cfg.AgentHealthyThreshold.Milliseconds():
		return api.HealthHealthy
	case age < cfg.AgentStaleThreshold.Milliseconds():
		return api.HealthStale
	default:
		return api.HealthOffline
	}
}

// List returns the summary view of agents matching the filter, sorted by
// id for stable output.
func (s *Service) List(ctx context.Context, filter *ListFilter) ([]api.AgentSummary, error) {
	agents, err := s.cfg.Database.Agents(ctx)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = &ListFilter{}
	}
	now := timeutils.NowUnixMilli()
	summaries := make([]api.AgentSummary, 0, len(agents))
	for _, agent := range agents {
		if agent.Retired {
			continue
		}
		health := HealthOf(agent, now)
		if filter.OS != "" && agent.OS != filter.OS {
			continue
		}
		if filter.Role != "" && agent.Role != filter.Role {
			continue
		}
		if filter.Mode != "" && agent.Mode != filter.Mode {
			continue
		}
		if filter.Approval != "" && agent.Approval != filter.Approval {
			continue
		}
		if filter.Health != "" && health != filter.Health {
			continue
		}
		if filter.Language != "" && !supportsLanguage(agent, filter.Language) {
			continue
		}
		summaries = append(summaries, api.AgentSummary{
			ID:         agent.ID,
			OS:         agent.OS,
			Role:       agent.Role,
			Mode:       agent.Mode,
			Approval:   agent.Approval,
			Health:     health,
			LastSeenMs: agent.LastSeenMs,
			Score:      agent.Score,
			MaxSlots:   agent.MaxSlots,
			GPU:        agent.GPU,
			Languages:  agent.Languages,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries, nil
}

// OnlineCount reports agents currently healthy, for the status endpoint.
func (s *Service) OnlineCount(ctx context.Context) (int, error) {
	agents, err := s.cfg.Database.Agents(ctx)
	if err != nil {
		return 0, err
	}
	now := timeutils.NowUnixMilli()
	count := 0
	for _, agent := range agents {
		if !agent.Retired && HealthOf(agent, now) == api.HealthHealthy {
			count++
		}
	}
	return count, nil
}

func supportsLanguage(agent *api.Agent, language string) bool {
	if len(agent.Languages) == 0 {
		return true
	}
	for _, l := range agent.Languages {
		if l == language {
			return true
		}
	}
	return false
}
