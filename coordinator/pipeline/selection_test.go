package pipeline

import (
	"testing"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/shared/testutil/assert"
	"github.com/enclavecode/swarm/shared/testutil/require"
	"github.com/enclavecode/swarm/shared/timeutils"
)

func healthyAgent(id string) *api.Agent {
	return &api.Agent{
		ID:         id,
		OS:         api.OSLinux,
		Role:       api.RoleSwarmOnly,
		MaxSlots:   2,
		Mode:       api.ModeAuto,
		Approval:   api.ApprovalApproved,
		LastSeenMs: timeutils.NowUnixMilli(),
	}
}

func TestSelectWorkers_Filters(t *testing.T) {
	now := timeutils.NowUnixMilli()
	subtask := &api.Subtask{ID: "s1", Kind: api.SubtaskSingleStep, ResourceClass: api.ResourceCPU}
	task := &api.Task{Language: "go"}

	approved := healthyAgent("ok")
	pending := healthyAgent("pending")
	pending.Approval = api.ApprovalPending
	paused := healthyAgent("paused")
	paused.Mode = api.ModePaused
	offline := healthyAgent("offline")
	offline.LastSeenMs = now - 10*60*1000
	wrongLang := healthyAgent("rust-only")
	wrongLang.Languages = []string{"rust"}
	throttled := healthyAgent("hot")
	throttled.Telemetry = &api.PowerTelemetry{ThermalState: api.ThermalCritical}

	agents := []*api.Agent{approved, pending, paused, offline, wrongLang, throttled}
	out := selectWorkers(agents, subtask, task, map[string]int{}, now)
	require.Equal(t, 1, len(out))
	assert.Equal(t, "ok", out[0].agent.ID)
}

func TestSelectWorkers_RankOrder(t *testing.T) {
	now := timeutils.NowUnixMilli()
	subtask := &api.Subtask{ID: "s1", Kind: api.SubtaskSingleStep}

	busy := healthyAgent("busy")
	free := healthyAgent("free")
	scored := healthyAgent("scored")
	scored.Score = 10
	recent := healthyAgent("recent")
	recent.Score = 10
	recent.LastAssignedAtMs = now - 1000
	scored.LastAssignedAtMs = now - 60000

	inFlight := map[string]int{"busy": 1}
	out := selectWorkers([]*api.Agent{busy, free, scored, recent}, subtask, nil, inFlight, now)
	require.Equal(t, 4, len(out))
	// Free slots first; among equals higher score, then least recently
	// assigned.
	assert.Equal(t, "scored", out[0].agent.ID)
	assert.Equal(t, "recent", out[1].agent.ID)
	assert.Equal(t, "free", out[2].agent.ID)
	assert.Equal(t, "busy", out[3].agent.ID)
}

func TestSelectWorkers_GPURequirement(t *testing.T) {
	now := timeutils.NowUnixMilli()
	subtask := &api.Subtask{ID: "s1", Kind: api.SubtaskSingleStep, ResourceClass: api.ResourceGPU}

	cpuOnly := healthyAgent("cpu")
	gpu := healthyAgent("gpu")
	gpu.GPU = true

	out := selectWorkers([]*api.Agent{cpuOnly, gpu}, subtask, nil, map[string]int{}, now)
	require.Equal(t, 1, len(out))
	assert.Equal(t, "gpu", out[0].agent.ID)
}
