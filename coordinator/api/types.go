// Package api defines the wire and storage types shared by the coordinator
// components, together with the stable error taxonomy.
package api

import (
	"encoding/json"
)

// Agent operating systems.
const (
	OSMacOS   = "macos"
	OSLinux   = "linux"
	OSWindows = "windows"
	OSIOS     = "ios"
	OSAndroid = "android"
)

// Device classes reported in power telemetry.
const (
	DeviceDesktop = "desktop"
	DeviceLaptop  = "laptop"
	DeviceServer  = "server"
	DevicePhone   = "phone"
)

// Thermal states reported in power telemetry.
const (
	ThermalNominal  = "nominal"
	ThermalFair     = "fair"
	ThermalSerious  = "serious"
	ThermalCritical = "critical"
)

// Agent approval states.
const (
	ApprovalPending   = "pendingApproval"
	ApprovalApproved  = "approved"
	ApprovalSuspended = "suspended"
)

// Agent roles.
const (
	RoleSwarmOnly  = "swarm-only"
	RoleIdeEnabled = "ide-enabled"
)

// Agent work-acceptance modes.
const (
	ModeAuto      = "auto"       // accepts coordinator tasks and peer-direct work
	ModeLocalOnly = "local-only" // accepts work only from its own coordinator
	ModePaused    = "paused"     // accepts nothing
)

// Derived agent health.
const (
	HealthHealthy = "healthy"
	HealthStale   = "stale"
	HealthOffline = "offline"
)

// Task statuses.
const (
	TaskSubmitted   = "submitted"
	TaskDecomposing = "decomposing"
	TaskQueued      = "queued"
	TaskRunning     = "running"
	TaskSucceeded   = "succeeded"
	TaskFailed      = "failed"
	TaskCancelled   = "cancelled"
	TaskEscalated   = "escalated"
)

// Subtask statuses.
const (
	SubtaskPending   = "pending"
	SubtaskReady     = "ready"
	SubtaskOffered   = "offered"
	SubtaskRunning   = "running"
	SubtaskSucceeded = "succeeded"
	SubtaskFailed    = "failed"
	SubtaskCancelled = "cancelled"
)

// Subtask kinds.
const (
	SubtaskSingleStep = "single_step"
	SubtaskMultiStep  = "multi_step"
	SubtaskRobot      = "robot"
)

// Resource classes.
const (
	ResourceCPU = "cpu"
	ResourceGPU = "gpu"
)

// Blacklist reason codes, a closed set.
const (
	ReasonAbuseSpam       = "abuse_spam"
	ReasonInvalidResult   = "invalid_result"
	ReasonKeyCompromise   = "key_compromise"
	ReasonCapabilityFraud = "capability_fraud"
	ReasonPolicyViolation = "policy_violation"
)

// ValidReasonCode reports whether code belongs to the closed reason set.
func ValidReasonCode(code string) bool {
	switch code {
	case ReasonAbuseSpam, ReasonInvalidResult, ReasonKeyCompromise, ReasonCapabilityFraud, ReasonPolicyViolation:
		return true
	}
	return false
}

// Ledger payload types.
const (
	PayloadCreditTx      = "credit_tx"
	PayloadBlacklist     = "blacklist"
	PayloadTreasury      = "treasury_action"
	PayloadRollout       = "rollout_milestone"
	PayloadPriceProposal = "price_proposal"
	PayloadCheckpoint    = "checkpoint_anchor"
	PayloadEscalation    = "escalation"
)

// Credit transaction kinds.
const (
	CreditEarn    = "earn"
	CreditSpend   = "spend"
	CreditHeld    = "held"
	CreditRelease = "release"
)

// Payment intent statuses.
const (
	IntentCreated    = "created"
	IntentConfirmed  = "confirmed"
	IntentReconciled = "reconciled"
	IntentFailed     = "failed"
)

// Treasury policy states.
const (
	TreasuryDraft   = "draft"
	TreasuryActive  = "active"
	TreasuryRetired = "retired"
)

// Rollout states.
const (
	RolloutActive     = "active"
	RolloutComplete   = "complete"
	RolloutRolledBack = "rolled_back"
)

// PowerTelemetry is the latest power report of an agent.
type PowerTelemetry struct {
	BatteryLevelPct float64 `json:"batteryLevelPct"`
	OnExternalPower bool    `json:"onExternalPower"`
	ThermalState    string  `json:"thermalState"`
	LowPowerMode    bool    `json:"lowPowerMode"`
	CPUPercent      float64 `json:"cpuPercent"`
	DeviceClass     string  `json:"deviceClass"`
	ReportedAtMs    int64   `json:"reportedAtMs"`
}

// Agent is a registered worker.
type Agent struct {
	ID               string          `json:"agentId"`
	PublicKey        []byte          `json:"publicKey"`
	OS               string          `json:"os"`
	Version          string          `json:"version"`
	Role             string          `json:"role"`
	MaxSlots         int             `json:"maxSlots"`
	Languages        []string        `json:"languages"`
	SandboxMode      string          `json:"sandboxMode"`
	GPU              bool            `json:"gpu"`
	Mode             string          `json:"mode"`
	LocalModel       string          `json:"localModel,omitempty"`
	Approval         string          `json:"approval"`
	WalletAccount    string          `json:"walletAccount,omitempty"`
	EnrolledAtMs     int64           `json:"enrolledAtMs"`
	LastSeenMs       int64           `json:"lastSeenMs"`
	LastAssignedAtMs int64           `json:"lastAssignedAtMs,omitempty"`
	MissCount        uint64          `json:"missCount,omitempty"`
	Score            float64         `json:"score"`
	Retired          bool            `json:"retired,omitempty"`
	Telemetry        *PowerTelemetry `json:"telemetry,omitempty"`
}

// Peer is another coordinator in the mesh.
type Peer struct {
	ID             string   `json:"peerId"`
	URL            string   `json:"url"`
	PublicKey      []byte   `json:"publicKey"`
	Roles          []string `json:"roles,omitempty"`
	Version        string   `json:"version,omitempty"`
	LastExchangeMs int64    `json:"lastExchangeMs"`
	Score          float64  `json:"score"`
}

// Task is a unit of client-submitted work.
type Task struct {
	ID            string   `json:"taskId"`
	Account       string   `json:"account"`
	Prompt        string   `json:"prompt"`
	Language      string   `json:"language"`
	SnapshotRef   string   `json:"snapshotRef"`
	ResourceClass string   `json:"resourceClass"`
	Priority      int      `json:"priority"`
	TimeoutMs     int64    `json:"timeoutMs"`
	SubmittedAtMs int64    `json:"submittedAtMs"`
	Status        string   `json:"status"`
	Fingerprint   string   `json:"fingerprint,omitempty"`
	FailureCode   string   `json:"failureCode,omitempty"`
	SubtaskIDs    []string `json:"subtaskIds,omitempty"`
}

// Envelope is an optional X25519+AES-256-GCM encrypted payload body. Only
// key identifiers appear in logs, never key material.
type Envelope struct {
	KeyID        string `json:"keyId"`
	EphemeralPub []byte `json:"ephemeralPub"`
	Nonce        []byte `json:"nonce"`
	Ciphertext   []byte `json:"ciphertext"`
}

// Subtask is an atomic assignable unit.
type Subtask struct {
	ID             string    `json:"id"`
	TaskID         string    `json:"taskId"`
	Kind           string    `json:"kind"`
	Input          string    `json:"input"`
	TimeoutMs      int64     `json:"timeoutMs"`
	DependsOn      []string  `json:"dependsOn,omitempty"`
	ResourceClass  string    `json:"resourceClass"`
	Priority       int       `json:"priority"`
	Status         string    `json:"status"`
	Attempts       uint64    `json:"attempts"`
	AssignedTo     string    `json:"assignedTo,omitempty"`
	AssignedAtMs   int64     `json:"assignedAtMs,omitempty"`
	LastProgressMs int64     `json:"lastProgressMs,omitempty"`
	Output         string    `json:"output,omitempty"`
	Error          string    `json:"error,omitempty"`
	Envelope       *Envelope `json:"envelope,omitempty"`
	PeerOrigin     string    `json:"peerOrigin,omitempty"`
}

// LedgerEntry is one link of the hash chain, in wire field order.
type LedgerEntry struct {
	Index       uint64          `json:"i"`
	PrevHash    string          `json:"p"`
	TimestampMs int64           `json:"ts"`
	Actor       string          `json:"a"`
	PayloadType string          `json:"t"`
	Payload     json.RawMessage `json:"d"`
	Signature   string          `json:"sig"`
}

// CreditTx is the payload of a credit transaction ledger entry.
type CreditTx struct {
	Account    string `json:"account"`
	Kind       string `json:"kind"`
	AmountSats int64  `json:"amountSats"`
	Memo       string `json:"memo,omitempty"`
	RefID      string `json:"refId,omitempty"`
}

// BlacklistRecord is a signed abuse report against an agent.
type BlacklistRecord struct {
	AgentID            string `json:"agentId"`
	ReasonCode         string `json:"reasonCode"`
	ReasonText         string `json:"reasonText,omitempty"`
	EvidenceHashSha256 string `json:"evidenceHashSha256"`
	ReporterID         string `json:"reporterId"`
	Signature          string `json:"signature"`
	IssuedAtMs         int64  `json:"issuedAtMs"`
	Version            uint64 `json:"version"`
	OriginID           string `json:"originId,omitempty"`
}

// CreditAccount metadata; the balance is always derived from the ledger.
type CreditAccount struct {
	ID          string `json:"accountId"`
	OwnerUserID string `json:"ownerUserId,omitempty"`
	Wallet      string `json:"wallet,omitempty"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

// PaymentIntent tracks an off-ledger settlement attempt.
type PaymentIntent struct {
	ID            string `json:"intentId"`
	AccountID     string `json:"accountId"`
	AmountSats    int64  `json:"amountSats"`
	FeeBps        int64  `json:"feeBps"`
	FeeSats       int64  `json:"feeSats"`
	NetSats       int64  `json:"netSats"`
	Status        string `json:"status"`
	InvoiceRef    string `json:"invoiceRef,omitempty"`
	CreatedAtMs   int64  `json:"createdAtMs"`
	ConfirmedAtMs int64  `json:"confirmedAtMs,omitempty"`
}

// TreasuryPolicy describes a custody arrangement.
type TreasuryPolicy struct {
	ID              string `json:"policyId"`
	Descriptor      string `json:"descriptor"`
	QuorumThreshold int    `json:"quorumThreshold"`
	TotalCustodians int    `json:"totalCustodians"`
	State           string `json:"state"`
	CreatedAtMs     int64  `json:"createdAtMs"`
}

// Rollout is a staged feature/version rollout record.
type Rollout struct {
	ID          string `json:"rolloutId"`
	Name        string `json:"name"`
	Stage       int    `json:"stage"`
	Stages      []int  `json:"stages"`
	State       string `json:"state"`
	UpdatedAtMs int64  `json:"updatedAtMs"`
}

// PriceProposal is one coordinator's input to the weighted-median price
// consensus.
type PriceProposal struct {
	CoordinatorID  string  `json:"coordinatorId"`
	ValueMilliSats uint64  `json:"valueMilliSats"`
	Weight         float64 `json:"weight"`
	SubmittedAtMs  int64   `json:"submittedAtMs"`
	Signature      string  `json:"signature,omitempty"`
}

// Checkpoint is a signed (index, headHash) pair published periodically.
type Checkpoint struct {
	Index         uint64 `json:"checkpointIndex"`
	HeadHash      string `json:"headHash"`
	CoordinatorID string `json:"coordinatorId"`
	TimestampMs   int64  `json:"timestampMs"`
	Signature     string `json:"signature"`
	AnchorTxID    string `json:"anchorTxId,omitempty"`
}

// SecurityEvent is one record of the rotating accepted-request tail.
type SecurityEvent struct {
	Seq         uint64 `json:"seq"`
	SourceID    string `json:"sourceId"`
	Method      string `json:"method"`
	Path        string `json:"path"`
	Nonce       string `json:"nonce"`
	Signature   string `json:"signature"`
	TimestampMs int64  `json:"timestampMs"`
}
