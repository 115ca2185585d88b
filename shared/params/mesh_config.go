package params

import (
	"time"

	"github.com/mohae/deepcopy"
)

// MeshConfig defines the peer mesh network parameters.
type MeshConfig struct {
	AnnounceInterval       time.Duration `yaml:"ANNOUNCE_INTERVAL"`         // AnnounceInterval is the base cadence of capability announcements.
	AnnounceJitter         time.Duration `yaml:"ANNOUNCE_JITTER"`           // AnnounceJitter is the maximum random delay added to each announcement.
	PeerScoreDecayInterval time.Duration `yaml:"PEER_SCORE_DECAY_INTERVAL"` // PeerScoreDecayInterval is how often peer scores decay toward zero.
	PeerScoreSuccess       float64       `yaml:"PEER_SCORE_SUCCESS"`        // PeerScoreSuccess is the increment applied on a successful exchange.
	PeerScorePenalty       float64       `yaml:"PEER_SCORE_PENALTY"`        // PeerScorePenalty is the decrement applied on timeout or malformed message.
	PeerScoreFloor         float64       `yaml:"PEER_SCORE_FLOOR"`          // PeerScoreFloor is the score below which a peer is dropped and backed off.
	PeerBackoffInitial     time.Duration `yaml:"PEER_BACKOFF_INITIAL"`      // PeerBackoffInitial seeds the exponential reconnect backoff.
	PeerBackoffCap         time.Duration `yaml:"PEER_BACKOFF_CAP"`          // PeerBackoffCap caps the exponential reconnect backoff.
	GossipTTL              int           `yaml:"GOSSIP_TTL"`                // GossipTTL is the initial hop budget of a gossip payload.
	GossipDedupeCacheSize  int           `yaml:"GOSSIP_DEDUPE_CACHE_SIZE"`  // GossipDedupeCacheSize is the LRU size for seen (origin, version) pairs.
	DialTimeout            time.Duration `yaml:"DIAL_TIMEOUT"`              // DialTimeout bounds outbound connection establishment.
	WriteTimeout           time.Duration `yaml:"WRITE_TIMEOUT"`             // WriteTimeout bounds a single websocket write.
	PongTimeout            time.Duration `yaml:"PONG_TIMEOUT"`              // PongTimeout is the read deadline extension granted per pong.
	RefreshInterval        time.Duration `yaml:"REFRESH_INTERVAL"`          // RefreshInterval is how often the discovery sources are re-applied.
	PeerCacheFileName      string        // PeerCacheFileName is the local cache file of last-known peer URLs inside the data directory.

	// Static bootstrap list, lowest-priority discovery source.
	BootstrapPeers []string
}

var meshConfig = DefaultMeshConfig()

// SwarmMeshConfig returns the current mesh config.
func SwarmMeshConfig() *MeshConfig {
	return meshConfig
}

// OverrideSwarmMeshConfig will override the mesh config.
func OverrideSwarmMeshConfig(cfg *MeshConfig) {
	meshConfig = cfg
}

// Copy returns a copy of the config object.
func (c *MeshConfig) Copy() *MeshConfig {
	config, ok := deepcopy.Copy(*c).(MeshConfig)
	if !ok {
		config = *meshConfig
	}
	return &config
}

// DefaultMeshConfig returns the mesh configuration used unless overridden.
func DefaultMeshConfig() *MeshConfig {
	return &MeshConfig{
		AnnounceInterval:       30 * time.Second,
		AnnounceJitter:         5 * time.Second,
		PeerScoreDecayInterval: time.Minute,
		PeerScoreSuccess:       1,
		PeerScorePenalty:       1,
		PeerScoreFloor:         -5,
		PeerBackoffInitial:     10 * time.Second,
		PeerBackoffCap:         10 * time.Minute,
		GossipTTL:              4,
		GossipDedupeCacheSize:  4096,
		DialTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
		PongTimeout:            60 * time.Second,
		RefreshInterval:        5 * time.Minute,
		PeerCacheFileName:      "known-peers.yaml",
		BootstrapPeers:         []string{},
	}
}
