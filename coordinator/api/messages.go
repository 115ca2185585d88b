package api

// PowerDecision is the power policy output for one agent, returned with
// heartbeat acks and consulted by the dispatcher.
type PowerDecision struct {
	AllowCoordinatorTasks bool   `json:"allowCoordinatorTasks"`
	AllowPeerDirectWork   bool   `json:"allowPeerDirectWork"`
	AllowSmallTasksOnly   bool   `json:"allowSmallTasksOnly,omitempty"`
	DeferMs               int64  `json:"deferMs,omitempty"`
	Reason                string `json:"reason"`
}

// EnrollRequest registers a new agent.
type EnrollRequest struct {
	AgentID           string   `json:"agentId"`
	PublicKey         []byte   `json:"publicKey"`
	OS                string   `json:"os"`
	Version           string   `json:"version"`
	Role              string   `json:"role"`
	MaxSlots          int      `json:"maxSlots"`
	Languages         []string `json:"languages"`
	SandboxMode       string   `json:"sandboxMode"`
	GPU               bool     `json:"gpu"`
	RegistrationToken string   `json:"registrationToken"`
}

// EnrollResponse reports the admission outcome.
type EnrollResponse struct {
	AgentID        string `json:"agentId"`
	Status         string `json:"status"` // approved | pending
	WalletRequired bool   `json:"walletRequired,omitempty"`
}

// HeartbeatRequest updates liveness and power telemetry.
type HeartbeatRequest struct {
	AgentID   string          `json:"agentId"`
	Telemetry *PowerTelemetry `json:"telemetry"`
}

// HeartbeatResponse acks a heartbeat and carries the current power policy.
type HeartbeatResponse struct {
	OK     bool           `json:"ok"`
	Policy *PowerDecision `json:"policy"`
}

// SubmitRequest introduces a new task.
type SubmitRequest struct {
	Prompt        string `json:"prompt"`
	Language      string `json:"language"`
	SnapshotRef   string `json:"snapshotRef"`
	ResourceClass string `json:"resourceClass"`
	Priority      int    `json:"priority"`
	TimeoutMs     int64  `json:"timeoutMs"`
	Account       string `json:"account,omitempty"`
}

// SubmitResponse returns the accepted task id.
type SubmitResponse struct {
	TaskID string `json:"taskId"`
}

// PullRequest asks for at most one subtask offer.
type PullRequest struct {
	AgentID string `json:"agentId"`
}

// SubtaskOffer is a coordinator-signed assignment offer. It lapses unless
// acknowledged before ExpiresAtMs.
type SubtaskOffer struct {
	OfferID     string   `json:"offerId"`
	Subtask     *Subtask `json:"subtask"`
	ExpiresAtMs int64    `json:"expiresAtMs"`
	Signature   string   `json:"signature"`
}

// PullResponse carries zero or one offer.
type PullResponse struct {
	Offer *SubtaskOffer `json:"offer,omitempty"`
}

// PullAckRequest is the signed accept (or decline) of an offer.
type PullAckRequest struct {
	AgentID string `json:"agentId"`
	OfferID string `json:"offerId"`
	Accept  bool   `json:"accept"`
}

// ProgressRequest is the in-flight work report, expected every
// ProgressInterval.
type ProgressRequest struct {
	AgentID     string  `json:"agentId"`
	SubtaskID   string  `json:"subtaskId"`
	ProgressPct float64 `json:"progressPct,omitempty"`
}

// ProgressResponse acks a progress report. Cancelled tells the worker to
// stop within the cancel grace period.
type ProgressResponse struct {
	OK        bool `json:"ok"`
	Cancelled bool `json:"cancelled,omitempty"`
}

// ResultRequest delivers a subtask outcome.
type ResultRequest struct {
	SubtaskID  string    `json:"subtaskId"`
	AgentID    string    `json:"agentId"`
	OK         bool      `json:"ok"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorCode  string    `json:"errorCode,omitempty"`
	DurationMs int64     `json:"durationMs"`
	Envelope   *Envelope `json:"envelope,omitempty"`
}

// ResultResponse acks a result delivery.
type ResultResponse struct {
	Ack bool `json:"ack"`
}

// TaskResponse is the detail view of a task with its subtasks.
type TaskResponse struct {
	Task     *Task      `json:"task"`
	Subtasks []*Subtask `json:"subtasks"`
}

// OKResponse is the generic success body.
type OKResponse struct {
	OK bool `json:"ok"`
}

// StatusResponse summarises the coordinator.
type StatusResponse struct {
	Queued       int    `json:"queued"`
	Running      int    `json:"running"`
	Completed    int    `json:"completed"`
	AgentsOnline int    `json:"agentsOnline"`
	Version      string `json:"version"`
	HeadHash     string `json:"headHash"`
}

// AgentSummary is the list view of an agent.
type AgentSummary struct {
	ID         string   `json:"agentId"`
	OS         string   `json:"os"`
	Role       string   `json:"role"`
	Mode       string   `json:"mode"`
	Approval   string   `json:"approval"`
	Health     string   `json:"health"`
	LastSeenMs int64    `json:"lastSeenMs"`
	Score      float64  `json:"score"`
	MaxSlots   int      `json:"maxSlots"`
	GPU        bool     `json:"gpu,omitempty"`
	Languages  []string `json:"languages,omitempty"`
}

// AgentListResponse wraps a filtered agent listing.
type AgentListResponse struct {
	Agents []AgentSummary `json:"agents"`
}

// BlacklistSubmitRequest is a signed abuse report.
type BlacklistSubmitRequest struct {
	AgentID            string `json:"agentId"`
	ReasonCode         string `json:"reasonCode"`
	ReasonText         string `json:"reasonText,omitempty"`
	EvidenceHashSha256 string `json:"evidenceHashSha256"`
	ReporterID         string `json:"reporterId"`
	Signature          string `json:"signature"`
}

// BlacklistSubmitResponse acks an accepted report.
type BlacklistSubmitResponse struct {
	OK      bool   `json:"ok"`
	Version uint64 `json:"version"`
}

// BlacklistDeltaResponse returns records newer than the requested version.
type BlacklistDeltaResponse struct {
	Version uint64            `json:"version"`
	Records []BlacklistRecord `json:"records"`
}

// PriceProposeRequest submits a price proposal.
type PriceProposeRequest struct {
	CoordinatorID  string `json:"coordinatorId"`
	ValueMilliSats uint64 `json:"valueMilliSats"`
	Signature      string `json:"signature,omitempty"`
}

// PriceCurrentResponse reports the active credit price.
type PriceCurrentResponse struct {
	PriceMilliSats uint64 `json:"priceMilliSats"`
	UpdatedAtMs    int64  `json:"updatedAtMs"`
	Proposals      int    `json:"proposals"`
}

// PriceConsensusResponse reports the outcome of a consensus round.
type PriceConsensusResponse struct {
	PriceMilliSats uint64  `json:"priceMilliSats"`
	Participants   int     `json:"participants"`
	TotalWeight    float64 `json:"totalWeight"`
}

// IntentCreateRequest opens a payment intent.
type IntentCreateRequest struct {
	AccountID  string `json:"accountId"`
	AmountSats int64  `json:"amountSats"`
	FeeBps     int64  `json:"feeBps"`
}

// IntentConfirmRequest confirms a payment intent against a settled invoice.
type IntentConfirmRequest struct {
	InvoiceRef string `json:"invoiceRef"`
}

// ReconcileResponse summarises a reconcile sweep over open intents.
type ReconcileResponse struct {
	Reconciled int `json:"reconciled"`
	Failed     int `json:"failed"`
}

// TreasuryPolicyRequest drafts a new custody policy.
type TreasuryPolicyRequest struct {
	Descriptor      string `json:"descriptor"`
	QuorumThreshold int    `json:"quorumThreshold"`
	TotalCustodians int    `json:"totalCustodians"`
}

// TreasuryResponse lists custody policies.
type TreasuryResponse struct {
	Policies []TreasuryPolicy `json:"policies"`
}

// PeerListResponse lists known mesh peers.
type PeerListResponse struct {
	Peers []Peer `json:"peers"`
}

// CheckpointListResponse lists published ledger checkpoints.
type CheckpointListResponse struct {
	Checkpoints []Checkpoint `json:"checkpoints"`
}
