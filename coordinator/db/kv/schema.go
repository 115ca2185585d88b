package kv

// The schema will define how to store and retrieve data from the db.
// Currently we store agents, peers, tasks and their subtasks, the ledger
// chain with its metadata and checkpoints, blacklist records with their
// audit subchain, the economy tables, the nonce tail and the rotating
// security-event tail.
var (
	agentsBucket       = []byte("agents")
	peersBucket        = []byte("mesh-peers")
	tasksBucket        = []byte("tasks")
	subtasksBucket     = []byte("subtasks")
	taskSubtasksBucket = []byte("task-subtasks-index")
	fingerprintsBucket = []byte("task-fingerprints")

	ledgerBucket      = []byte("ledger-entries")
	ledgerMetaBucket  = []byte("ledger-meta")
	checkpointsBucket = []byte("ledger-checkpoints")

	blacklistVersionBucket   = []byte("blacklist-by-version")
	blacklistAgentBucket     = []byte("blacklist-by-agent")
	blacklistMetaBucket      = []byte("blacklist-meta")
	blacklistAuditBucket     = []byte("blacklist-audit")
	blacklistAuditMetaBucket = []byte("blacklist-audit-meta")

	accountsBucket = []byte("credit-accounts")
	intentsBucket  = []byte("payment-intents")
	treasuryBucket = []byte("treasury-policies")
	rolloutsBucket = []byte("rollouts")

	nonceTailBucket      = []byte("nonce-tail")
	securityEventsBucket = []byte("security-events")
	securityMetaBucket   = []byte("security-meta")

	// Metadata keys.
	headIndexKey     = []byte("head-index")
	headHashKey      = []byte("head-hash")
	versionKey       = []byte("version")
	sequenceKey      = []byte("sequence")
	auditHeadSeqKey  = []byte("audit-head-seq")
	auditHeadHashKey = []byte("audit-head-hash")
)
