package peers_test

import (
	"testing"
	"time"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/mesh/peers"
	"github.com/enclavecode/swarm/shared/params"
	"github.com/enclavecode/swarm/shared/testutil/assert"
	"github.com/enclavecode/swarm/shared/testutil/require"
	"github.com/enclavecode/swarm/shared/timeutils"
)

func TestStatus_ScoreLifecycle(t *testing.T) {
	p := peers.NewStatus()
	p.Add(&api.Peer{ID: "p1", URL: "https://p1.example.com"})

	p.RecordSuccess("p1")
	p.RecordSuccess("p1")
	assert.Equal(t, float64(2), p.Score("p1"))

	p.RecordFailure("p1")
	assert.Equal(t, float64(1), p.Score("p1"))

	p.Decay()
	assert.Equal(t, float64(0.5), p.Score("p1"))
	assert.Equal(t, false, p.IsBad("p1"))

	for i := 0; i < 10; i++ {
		p.RecordFailure("p1")
	}
	assert.Equal(t, true, p.IsBad("p1"))
}

func TestStatus_BackoffGrowsAndCaps(t *testing.T) {
	p := peers.NewStatus()
	p.Add(&api.Peer{ID: "p1"})

	cfg := params.SwarmMeshConfig()
	first := p.Backoff("p1")
	second := p.Backoff("p1")
	assert.Equal(t, cfg.PeerBackoffInitial, first)
	assert.Equal(t, 2*cfg.PeerBackoffInitial, second)

	var last time.Duration
	for i := 0; i < 12; i++ {
		last = p.Backoff("p1")
	}
	assert.Equal(t, cfg.PeerBackoffCap, last)
}

func TestStatus_DialableHonoursBackoff(t *testing.T) {
	p := peers.NewStatus()
	p.Add(&api.Peer{ID: "p1"})
	now := timeutils.NowUnixMilli()

	require.Equal(t, true, p.Dialable("p1", now))
	p.Backoff("p1")
	assert.Equal(t, false, p.Dialable("p1", now))
	assert.Equal(t, true, p.Dialable("p1", now+params.SwarmMeshConfig().PeerBackoffInitial.Milliseconds()+1))

	p.ResetBackoff("p1")
	assert.Equal(t, true, p.Dialable("p1", now))

	p.SetState("p1", peers.Connected)
	assert.Equal(t, false, p.Dialable("p1", now))
}

func TestStatus_AnnounceAndReAdd(t *testing.T) {
	p := peers.NewStatus()
	p.Add(&api.Peer{ID: "p1", URL: "https://old.example.com"})
	p.RecordSuccess("p1")

	// Re-adding refreshes the row without resetting the score.
	p.Add(&api.Peer{ID: "p1", URL: "https://new.example.com"})
	assert.Equal(t, float64(1), p.Score("p1"))
	assert.Equal(t, "https://new.example.com", p.Get("p1").URL)

	p.SetAnnounce("p1", &peers.Announce{BlacklistVersion: 7})
	require.NotNil(t, p.LastAnnounce("p1"))
	assert.Equal(t, uint64(7), p.LastAnnounce("p1").BlacklistVersion)
}
