package economy

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/db"
	"github.com/enclavecode/swarm/shared/params"
)

var log = logrus.WithField("prefix", "economy")

// LedgerAppender is the slice of the ledger service the economy needs.
type LedgerAppender interface {
	Append(ctx context.Context, payloadType string, payload interface{}, actor string) (*api.LedgerEntry, error)
}

// Config options for the economy service.
type Config struct {
	Database      db.Database
	Ledger        LedgerAppender
	Lightning     LightningProvider
	CoordinatorID string
	// PeerWeight resolves a coordinator id to its reputation score for
	// price consensus. A nil resolver falls back to proposal-carried
	// weights.
	PeerWeight func(coordinatorID string) float64
}

// Service exposes the economy operations.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *Config
	prices *priceBook
}

// NewService creates the economy service.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	if cfg.Database == nil || cfg.Ledger == nil {
		return nil, errors.New("economy requires a database and a ledger")
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{ctx: ctx, cancel: cancel, cfg: cfg, prices: newPriceBook()}, nil
}

// Start is a no-op; the economy is driven by requests.
func (s *Service) Start() {}

// Stop terminates the service context.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// Status always reports healthy.
func (s *Service) Status() error {
	return nil
}

// CurrentPrice reports the active credit price.
func (s *Service) CurrentPrice() *api.PriceCurrentResponse {
	price, updatedAt, proposals := s.prices.Current()
	return &api.PriceCurrentResponse{
		PriceMilliSats: price,
		UpdatedAtMs:    updatedAt,
		Proposals:      proposals,
	}
}

// ProposePrice records a proposal from an approved coordinator.
func (s *Service) ProposePrice(ctx context.Context, p *api.PriceProposal) error {
	if p.CoordinatorID == "" || p.ValueMilliSats == 0 {
		return api.NewError(api.CodeValidationFailed, "coordinatorId and a non-zero value are required")
	}
	s.prices.Propose(p)
	if _, err := s.cfg.Ledger.Append(ctx, api.PayloadPriceProposal, p, p.CoordinatorID); err != nil {
		return err
	}
	return nil
}

// RunPriceConsensus computes the weighted median over live proposals.
func (s *Service) RunPriceConsensus(ctx context.Context) *api.PriceConsensusResponse {
	price, participants, totalWeight := s.prices.RunConsensus(params.Coordinator().PriceProposalTTL, s.cfg.PeerWeight)
	log.WithFields(logrus.Fields{
		"priceMilliSats": price,
		"participants":   participants,
	}).Info("Price consensus round complete")
	return &api.PriceConsensusResponse{
		PriceMilliSats: price,
		Participants:   participants,
		TotalWeight:    totalWeight,
	}
}

// creditTxOf decodes a ledger entry into a credit transaction when it is
// one, else nil.
func creditTxOf(entry *api.LedgerEntry) *api.CreditTx {
	if entry.PayloadType != api.PayloadCreditTx {
		return nil
	}
	tx := &api.CreditTx{}
	if err := json.Unmarshal(entry.Payload, tx); err != nil {
		return nil
	}
	return tx
}
