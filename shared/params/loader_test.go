package params

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/enclavecode/swarm/shared/testutil/assert"
	"github.com/enclavecode/swarm/shared/testutil/require"
)

func TestOverrideCoordinatorConfig(t *testing.T) {
	SetupTestConfigCleanup(t)
	cfg := Coordinator().Copy()
	cfg.MaxSubtaskAttempts = 7
	OverrideCoordinatorConfig(cfg)
	assert.Equal(t, uint64(7), Coordinator().MaxSubtaskAttempts)
}

func TestCopy_IsolatesMutation(t *testing.T) {
	cfg := Coordinator().Copy()
	cfg.AuthRateMax = 1
	assert.NotEqual(t, int64(1), Coordinator().AuthRateMax)
}

func TestDefaults(t *testing.T) {
	cfg := DefaultCoordinatorConfig()
	assert.Equal(t, 120*time.Second, cfg.MaxClockSkew)
	assert.Equal(t, 5*time.Second, cfg.OfferAckTimeout)
	assert.Equal(t, 15*time.Second, cfg.ProgressInterval)
	assert.Equal(t, uint64(3), cfg.MaxSubtaskAttempts)
	assert.Equal(t, 10*time.Second, cfg.CancelGracePeriod)
	assert.Equal(t, uint64(1000), cfg.CheckpointEntryInterval)
	assert.Equal(t, 3600*time.Second, cfg.CheckpointTimeInterval)
	assert.Equal(t, byte(0x01), cfg.AnchorPayloadVersion)
	assert.Equal(t, float64(85), cfg.HighCPUThresholdPct)
	assert.Equal(t, 45*time.Second, cfg.IOSAssignmentCooldown)

	mesh := DefaultMeshConfig()
	assert.Equal(t, 30*time.Second, mesh.AnnounceInterval)
	assert.Equal(t, 10*time.Minute, mesh.PeerBackoffCap)
	assert.Equal(t, time.Minute, mesh.PeerScoreDecayInterval)
}

func TestLoadSwarmConfigFile(t *testing.T) {
	SetupTestConfigCleanup(t)
	file := filepath.Join(t.TempDir(), "swarm.yaml")
	// Durations unmarshal from integer nanoseconds with yaml.v2.
	content := "MAX_CLOCK_SKEW: 240000000000\nAUTH_RATE_MAX: 50\n"
	require.NoError(t, ioutil.WriteFile(file, []byte(content), 0600))

	require.NoError(t, LoadSwarmConfigFile(file))
	assert.Equal(t, 240*time.Second, Coordinator().MaxClockSkew)
	assert.Equal(t, int64(50), Coordinator().AuthRateMax)
	// Untouched values keep their defaults.
	assert.Equal(t, uint64(1000), Coordinator().CheckpointEntryInterval)
}

func TestLoadSwarmConfigFile_UnknownField(t *testing.T) {
	SetupTestConfigCleanup(t)
	file := filepath.Join(t.TempDir(), "swarm.yaml")
	require.NoError(t, ioutil.WriteFile(file, []byte("NO_SUCH_FIELD: 1\n"), 0600))
	err := LoadSwarmConfigFile(file)
	assert.ErrorContains(t, "failed to parse swarm config file", err)
}
