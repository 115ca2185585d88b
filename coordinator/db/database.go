// Package db defines the persistence contract of the coordinator core.
package db

import (
	"context"
	"io"

	"github.com/enclavecode/swarm/coordinator/api"
)

// Database is the full persistence surface the coordinator services operate
// against. The canonical implementation is kv.Store (bbolt).
type Database interface {
	io.Closer
	DatabasePath() string
	ClearDB() error
	Backup(ctx context.Context, outputDir string) error

	// Agents.
	Agent(ctx context.Context, id string) (*api.Agent, error)
	SaveAgent(ctx context.Context, agent *api.Agent) error
	DeleteAgent(ctx context.Context, id string) error
	Agents(ctx context.Context) ([]*api.Agent, error)

	// Peers.
	Peer(ctx context.Context, id string) (*api.Peer, error)
	SavePeer(ctx context.Context, peer *api.Peer) error
	DeletePeer(ctx context.Context, id string) error
	Peers(ctx context.Context) ([]*api.Peer, error)

	// Tasks and subtasks.
	Task(ctx context.Context, id string) (*api.Task, error)
	SaveTask(ctx context.Context, task *api.Task) error
	Tasks(ctx context.Context) ([]*api.Task, error)
	Subtask(ctx context.Context, id string) (*api.Subtask, error)
	SaveSubtask(ctx context.Context, subtask *api.Subtask) error
	SubtasksByTask(ctx context.Context, taskID string) ([]*api.Subtask, error)
	// AdmitTask persists a task together with its decomposed subtasks in a
	// single transaction, so a failed admission enqueues nothing.
	AdmitTask(ctx context.Context, task *api.Task, subtasks []*api.Subtask) error
	TaskIDByFingerprint(ctx context.Context, fingerprint string) (string, error)
	SaveTaskFingerprint(ctx context.Context, fingerprint, taskID string) error

	// Ledger.
	LedgerHead(ctx context.Context) (index uint64, headHash string, err error)
	LedgerEntry(ctx context.Context, index uint64) (*api.LedgerEntry, error)
	LedgerEntries(ctx context.Context, from, to uint64) ([]*api.LedgerEntry, error)
	// AppendLedgerEntry atomically persists the entry and advances the head.
	// The entry index must be exactly head+1.
	AppendLedgerEntry(ctx context.Context, entry *api.LedgerEntry, newHeadHash string) error

	// Checkpoints.
	SaveCheckpoint(ctx context.Context, cp *api.Checkpoint) error
	Checkpoints(ctx context.Context) ([]*api.Checkpoint, error)
	LatestCheckpoint(ctx context.Context) (*api.Checkpoint, error)

	// Blacklist.
	SaveBlacklistRecord(ctx context.Context, rec *api.BlacklistRecord) error
	BlacklistRecords(ctx context.Context, sinceVersion uint64) ([]*api.BlacklistRecord, error)
	BlacklistVersion(ctx context.Context) (uint64, error)
	IsBlacklisted(ctx context.Context, agentID string) (bool, error)
	AppendBlacklistAudit(ctx context.Context, seq uint64, enc []byte, headHash string) error
	BlacklistAudit(ctx context.Context) ([][]byte, error)
	BlacklistAuditHead(ctx context.Context) (seq uint64, headHash string, err error)

	// Economy.
	Account(ctx context.Context, id string) (*api.CreditAccount, error)
	SaveAccount(ctx context.Context, account *api.CreditAccount) error
	PaymentIntent(ctx context.Context, id string) (*api.PaymentIntent, error)
	SavePaymentIntent(ctx context.Context, intent *api.PaymentIntent) error
	PaymentIntents(ctx context.Context) ([]*api.PaymentIntent, error)
	TreasuryPolicy(ctx context.Context, id string) (*api.TreasuryPolicy, error)
	SaveTreasuryPolicy(ctx context.Context, policy *api.TreasuryPolicy) error
	TreasuryPolicies(ctx context.Context) ([]*api.TreasuryPolicy, error)
	Rollout(ctx context.Context, id string) (*api.Rollout, error)
	SaveRollout(ctx context.Context, rollout *api.Rollout) error
	Rollouts(ctx context.Context) ([]*api.Rollout, error)

	// Nonce tail, flushed on shutdown and reloaded on start.
	SaveNonceTail(ctx context.Context, nonces map[string]int64) error
	NonceTail(ctx context.Context) (map[string]int64, error)

	// Security events, a rotating tail of accepted signed requests.
	SaveSecurityEvent(ctx context.Context, ev *api.SecurityEvent) error
	SecurityEvents(ctx context.Context, limit int) ([]*api.SecurityEvent, error)
}
