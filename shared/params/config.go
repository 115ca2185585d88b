// Package params defines important constants that are essential to the
// coordinator services.
package params

import (
	"time"

	"github.com/mohae/deepcopy"
)

// CoordinatorConfig contains the constant parameters the coordinator core
// operates with. Values are tunable through a YAML override file, see loader.go.
type CoordinatorConfig struct {
	// Auth constants.
	MaxClockSkew          time.Duration `yaml:"MAX_CLOCK_SKEW"`           // MaxClockSkew bounds the accepted signature timestamp drift in either direction.
	NonceSweepInterval    time.Duration `yaml:"NONCE_SWEEP_INTERVAL"`     // NonceSweepInterval is how often expired nonces are swept from the store.
	AuthRateWindow        time.Duration `yaml:"AUTH_RATE_WINDOW"`         // AuthRateWindow is the sliding window for the per-source request limiter.
	AuthRateMax           int64         `yaml:"AUTH_RATE_MAX"`            // AuthRateMax is the number of signed requests allowed per source per window.
	SecurityEventTailSize uint64        `yaml:"SECURITY_EVENT_TAIL_SIZE"` // SecurityEventTailSize is the number of accepted-request records retained in the rotating tail.

	// Registry constants.
	AgentHealthyThreshold    time.Duration `yaml:"AGENT_HEALTHY_THRESHOLD"`    // AgentHealthyThreshold is how recent a heartbeat must be for an agent to be healthy.
	AgentStaleThreshold      time.Duration `yaml:"AGENT_STALE_THRESHOLD"`      // AgentStaleThreshold is how recent a heartbeat must be for an agent to be merely stale, not offline.
	AgentSweepInterval       time.Duration `yaml:"AGENT_SWEEP_INTERVAL"`       // AgentSweepInterval is how often liveness is re-derived and scores decay.
	AgentRetirementThreshold time.Duration `yaml:"AGENT_RETIREMENT_THRESHOLD"` // AgentRetirementThreshold is the sustained-miss horizon after which an agent is soft deleted.

	// Pipeline constants.
	OfferAckTimeout      time.Duration `yaml:"OFFER_ACK_TIMEOUT"`      // OfferAckTimeout is how long an assignment offer waits for a signed accept.
	ProgressInterval     time.Duration `yaml:"PROGRESS_INTERVAL"`      // ProgressInterval is the expected cadence of in-flight progress reports.
	MaxMissedProgress    uint64        `yaml:"MAX_MISSED_PROGRESS"`    // MaxMissedProgress is the consecutive missed reports after which a subtask is stale.
	MaxSubtaskAttempts   uint64        `yaml:"MAX_SUBTASK_ATTEMPTS"`   // MaxSubtaskAttempts bounds re-dispatch of a subtask before the parent task fails or escalates.
	CancelGracePeriod    time.Duration `yaml:"CANCEL_GRACE_PERIOD"`    // CancelGracePeriod is how long an in-flight worker has to stop after a signed cancel.
	DispatchInterval     time.Duration `yaml:"DISPATCH_INTERVAL"`      // DispatchInterval is the dispatcher tick for draining the ready queue.
	DefaultTaskTimeout   time.Duration `yaml:"DEFAULT_TASK_TIMEOUT"`   // DefaultTaskTimeout applies when a submission does not carry its own timeout.
	MaxSubtasksPerTask   int           `yaml:"MAX_SUBTASKS_PER_TASK"`  // MaxSubtasksPerTask caps a single decomposition.
	FingerprintCacheSize int           `yaml:"FINGERPRINT_CACHE_SIZE"` // FingerprintCacheSize is the LRU size for recent task fingerprints.

	// Power policy constants.
	HighCPUThresholdPct      float64       `yaml:"HIGH_CPU_THRESHOLD_PCT"`      // HighCPUThresholdPct is the CPU load strictly above which assignment defers.
	HighCPUDeferMs           int64         `yaml:"HIGH_CPU_DEFER_MS"`           // HighCPUDeferMs is the defer applied on high CPU load.
	IOSBatteryCriticalPct    float64       `yaml:"IOS_BATTERY_CRITICAL_PCT"`    // IOSBatteryCriticalPct is the on-battery level at or below which an iOS agent is blocked.
	IOSAssignmentCooldown    time.Duration `yaml:"IOS_ASSIGNMENT_COOLDOWN"`     // IOSAssignmentCooldown throttles successive coordinator tasks on an on-battery iOS agent.
	LaptopBatteryCriticalPct float64       `yaml:"LAPTOP_BATTERY_CRITICAL_PCT"` // LaptopBatteryCriticalPct is the on-battery level strictly below which a laptop is blocked.
	LaptopBatteryLowPct      float64       `yaml:"LAPTOP_BATTERY_LOW_PCT"`      // LaptopBatteryLowPct is the on-battery level at or below which a laptop takes small tasks only.

	// Ledger constants.
	CheckpointEntryInterval uint64        `yaml:"CHECKPOINT_ENTRY_INTERVAL"` // CheckpointEntryInterval is the entry count between published checkpoints.
	CheckpointTimeInterval  time.Duration `yaml:"CHECKPOINT_TIME_INTERVAL"`  // CheckpointTimeInterval is the wall-clock interval between published checkpoints.
	AnchorPayloadVersion    byte          `yaml:"ANCHOR_PAYLOAD_VERSION"`    // AnchorPayloadVersion is the version byte embedded in OP_RETURN anchor payloads.
	LedgerAppendQueueSize   int           `yaml:"LEDGER_APPEND_QUEUE_SIZE"`  // LedgerAppendQueueSize bounds callers waiting on the single ledger writer.

	// Economy constants.
	DefaultPriceMilliSats uint64        `yaml:"DEFAULT_PRICE_MILLI_SATS"` // DefaultPriceMilliSats is the credit price before any consensus round has run.
	PriceProposalTTL      time.Duration `yaml:"PRICE_PROPOSAL_TTL"`       // PriceProposalTTL is how long a price proposal participates in consensus.
}

var coordinatorConfig = DefaultCoordinatorConfig()

// Coordinator retrieves the coordinator config.
func Coordinator() *CoordinatorConfig {
	return coordinatorConfig
}

// OverrideCoordinatorConfig by replacing the config. The preferred pattern is to
// call Coordinator(), change the specific parameters, and then call
// OverrideCoordinatorConfig(c). Any subsequent calls to params.Coordinator() will
// return this new configuration.
func OverrideCoordinatorConfig(c *CoordinatorConfig) {
	coordinatorConfig = c
}

// Copy returns a copy of the config object.
func (c *CoordinatorConfig) Copy() *CoordinatorConfig {
	config, ok := deepcopy.Copy(*c).(CoordinatorConfig)
	if !ok {
		config = *coordinatorConfig
	}
	return &config
}

// DefaultCoordinatorConfig returns the configuration used unless overridden.
func DefaultCoordinatorConfig() *CoordinatorConfig {
	return &CoordinatorConfig{
		// Auth constants.
		MaxClockSkew:          120 * time.Second,
		NonceSweepInterval:    60 * time.Second,
		AuthRateWindow:        60 * time.Second,
		AuthRateMax:           120,
		SecurityEventTailSize: 4096,

		// Registry constants.
		AgentHealthyThreshold:    30 * time.Second,
		AgentStaleThreshold:      5 * time.Minute,
		AgentSweepInterval:       time.Minute,
		AgentRetirementThreshold: 24 * time.Hour,

		// Pipeline constants.
		OfferAckTimeout:      5 * time.Second,
		ProgressInterval:     15 * time.Second,
		MaxMissedProgress:    3,
		MaxSubtaskAttempts:   3,
		CancelGracePeriod:    10 * time.Second,
		DispatchInterval:     500 * time.Millisecond,
		DefaultTaskTimeout:   10 * time.Minute,
		MaxSubtasksPerTask:   64,
		FingerprintCacheSize: 1024,

		// Power policy constants.
		HighCPUThresholdPct:      85,
		HighCPUDeferMs:           5000,
		IOSBatteryCriticalPct:    20,
		IOSAssignmentCooldown:    45 * time.Second,
		LaptopBatteryCriticalPct: 15,
		LaptopBatteryLowPct:      40,

		// Ledger constants.
		CheckpointEntryInterval: 1000,
		CheckpointTimeInterval:  3600 * time.Second,
		AnchorPayloadVersion:    0x01,
		LedgerAppendQueueSize:   256,

		// Economy constants.
		DefaultPriceMilliSats: 1000,
		PriceProposalTTL:      10 * time.Minute,
	}
}
