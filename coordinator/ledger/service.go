// Package ledger maintains the hash-chained append-only log backing the
// credit economy. Appends funnel through a single writer goroutine so
// indices are strictly monotonic per coordinator; readers go straight to
// the database.
package ledger

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ethereum/go-ethereum/event"

	"github.com/enclavecode/swarm/async"
	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/db"
	"github.com/enclavecode/swarm/shared/params"
	"github.com/enclavecode/swarm/shared/timeutils"
)

var log = logrus.WithField("prefix", "ledger")

// Config options for the ledger service.
type Config struct {
	Database      db.Database
	CoordinatorID string
	SigningKey    ed25519.PrivateKey
	Anchor        AnchorProvider
}

type appendRequest struct {
	payloadType string
	payload     json.RawMessage
	actor       string
	resp        chan appendResult
}

type appendResult struct {
	entry *api.LedgerEntry
	err   error
}

// Service is the single writer of this coordinator's ledger prefix.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *Config

	appendCh chan *appendRequest

	mu        sync.RWMutex
	headIndex uint64
	headHash  string
	haltErr   error

	lastCheckpointIndex uint64
	checkpointFeed      event.Feed
}

// NewService creates the ledger writer. Start must be called before Append.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	if cfg.Database == nil {
		return nil, errors.New("ledger requires a database")
	}
	if len(cfg.SigningKey) != ed25519.PrivateKeySize {
		return nil, errors.New("ledger requires a coordinator signing key")
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		appendCh: make(chan *appendRequest, params.Coordinator().LedgerAppendQueueSize),
	}, nil
}

// Start loads the persisted head and spawns the writer loop plus the
// time-based checkpoint publisher.
func (s *Service) Start() {
	index, headHash, err := s.cfg.Database.LedgerHead(s.ctx)
	if err != nil {
		log.WithError(err).Fatal("Could not load ledger head")
	}
	s.mu.Lock()
	s.headIndex = index
	s.headHash = headHash
	s.lastCheckpointIndex = index
	s.mu.Unlock()
	log.WithFields(logrus.Fields{
		"headIndex": index,
		"headHash":  trunc(headHash),
	}).Info("Ledger writer started")

	go s.writerLoop()
	async.RunEvery(s.ctx, params.Coordinator().CheckpointTimeInterval, func() {
		if err := s.PublishCheckpoint(s.ctx); err != nil {
			log.WithError(err).Error("Periodic checkpoint failed")
		}
	})
}

// Stop terminates the writer loop. Queued appenders receive a shutdown
// error rather than being silently dropped.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// Status returns an error when writes are halted by an integrity failure.
func (s *Service) Status() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.haltErr
}

// Head returns the current head index and hash.
func (s *Service) Head() (uint64, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.headIndex, s.headHash
}

// SubscribeCheckpoints delivers every published checkpoint, for the mesh
// to gossip.
func (s *Service) SubscribeCheckpoints(ch chan<- *api.Checkpoint) event.Subscription {
	return s.checkpointFeed.Subscribe(ch)
}

// Append serialises one entry onto the chain. The call blocks until the
// entry is durable or failed; a failed append is fatal for the affected
// request, never silently dropped.
func (s *Service) Append(ctx context.Context, payloadType string, payload interface{}, actor string) (*api.LedgerEntry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "unserialisable ledger payload")
	}
	req := &appendRequest{
		payloadType: payloadType,
		payload:     raw,
		actor:       actor,
		resp:        make(chan appendResult, 1),
	}
	select {
	case s.appendCh <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, errors.New("ledger writer stopped")
	}
	select {
	case res := <-req.resp:
		return res.entry, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, errors.New("ledger writer stopped")
	}
}

// HaltWrites puts the writer into the failed state. Only operator
// intervention (a restart after repair) clears it.
func (s *Service) HaltWrites(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.haltErr == nil {
		s.haltErr = api.NewErrorf(api.CodeLedgerVerifyFailed, "ledger writes halted: %v", cause)
		log.WithError(cause).Error("Ledger writes halted, operator intervention required")
	}
}

func (s *Service) writerLoop() {
	for {
		select {
		case req := <-s.appendCh:
			entry, err := s.appendOne(req)
			req.resp <- appendResult{entry: entry, err: err}
		case <-s.ctx.Done():
			// Drain queued callers so nobody blocks forever on shutdown.
			for {
				select {
				case req := <-s.appendCh:
					req.resp <- appendResult{err: errors.New("ledger writer stopped")}
				default:
					return
				}
			}
		}
	}
}

func (s *Service) appendOne(req *appendRequest) (*api.LedgerEntry, error) {
	if err := s.Status(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	index, prevHash := s.headIndex, s.headHash
	s.mu.RUnlock()

	entry := &api.LedgerEntry{
		Index:       index + 1,
		PrevHash:    prevHash,
		TimestampMs: timeutils.NowUnixMilli(),
		Actor:       req.actor,
		PayloadType: req.payloadType,
		Payload:     req.payload,
	}
	hash, err := SignEntry(entry, s.cfg.SigningKey)
	if err != nil {
		return nil, err
	}
	if err := s.cfg.Database.AppendLedgerEntry(s.ctx, entry, hash); err != nil {
		return nil, errors.Wrap(err, "ledger append failed")
	}
	s.mu.Lock()
	s.headIndex = entry.Index
	s.headHash = hash
	entryInterval := params.Coordinator().CheckpointEntryInterval
	due := entryInterval > 0 && entry.Index-s.lastCheckpointIndex >= entryInterval
	s.mu.Unlock()

	ledgerEntriesTotal.WithLabelValues(req.payloadType).Inc()
	if due {
		if err := s.PublishCheckpoint(s.ctx); err != nil {
			log.WithError(err).Error("Entry-interval checkpoint failed")
		}
	}
	return entry, nil
}

func trunc(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
