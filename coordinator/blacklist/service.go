// Package blacklist ingests signed abuse reports, enforces them at
// admission, and keeps a replay-verifiable audit subchain alongside the
// main ledger. Deny decisions use set-union semantics per
// (agentId, reasonCode); every distinct report is preserved in the audit
// chain.
package blacklist

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"regexp"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ethereum/go-ethereum/event"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/auth"
	"github.com/enclavecode/swarm/coordinator/db"
	"github.com/enclavecode/swarm/shared/timeutils"
)

var log = logrus.WithField("prefix", "blacklist")

var evidenceHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// LedgerAppender is the slice of the ledger service the blacklist needs.
type LedgerAppender interface {
	Append(ctx context.Context, payloadType string, payload interface{}, actor string) (*api.LedgerEntry, error)
}

// Config options for the blacklist service.
type Config struct {
	Database db.Database
	Ledger   LedgerAppender
	// Keys resolves reporter ids (agents and peer coordinators) to their
	// public keys for signature verification.
	Keys auth.KeyResolver
	// CoordinatorID stamps locally accepted records as origin.
	CoordinatorID string
}

// Service implements abuse control.
type Service struct {
	ctx        context.Context
	cancel     context.CancelFunc
	cfg        *Config
	updateFeed event.Feed
}

// NewService creates the blacklist service.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	if cfg.Database == nil {
		return nil, errors.New("blacklist requires a database")
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{ctx: ctx, cancel: cancel, cfg: cfg}, nil
}

// Start is a no-op; the service is driven by submissions and gossip.
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

// SubscribeUpdates delivers every accepted record, for the mesh to gossip.
func (s *Service) SubscribeUpdates(ch chan<- *api.BlacklistRecord) event.Subscription {
	return s.updateFeed.Subscribe(ch)
}

// ReportPreimage is the exact byte string a reporter signs.
func ReportPreimage(agentID, reasonCode, evidenceHash string) []byte {
	return []byte(fmt.Sprintf("%s\n%s\n%s", agentID, reasonCode, evidenceHash))
}

// SignReport produces a reporter signature, the counterpart of the
// verification done on submission. Used by peer coordinators and tests.
func SignReport(agentID, reasonCode, evidenceHash string, key ed25519.PrivateKey) string {
	return base64.RawURLEncoding.EncodeToString(ed25519.Sign(key, ReportPreimage(agentID, reasonCode, evidenceHash)))
}

// Submit validates and ingests a locally reported record: reason code in
// the closed set, 64-hex evidence hash, reporter signature against the
// reporter's registered key. Accepted records are appended to the ledger,
// the audit subchain and the record store, then announced for gossip.
func (s *Service) Submit(ctx context.Context, req *api.BlacklistSubmitRequest) (*api.BlacklistRecord, error) {
	if !api.ValidReasonCode(req.ReasonCode) {
		return nil, api.NewErrorf(api.CodeBadReasonCode, "reason code %q is not in the closed set", req.ReasonCode)
	}
	if !evidenceHashPattern.MatchString(req.EvidenceHashSha256) {
		return nil, api.NewError(api.CodeValidationFailed, "evidenceHashSha256 must be 64 lowercase hex characters")
	}
	if req.AgentID == "" || req.ReporterID == "" {
		return nil, api.NewError(api.CodeValidationFailed, "agentId and reporterId are required")
	}
	rec := &api.BlacklistRecord{
		AgentID:            req.AgentID,
		ReasonCode:         req.ReasonCode,
		ReasonText:         req.ReasonText,
		EvidenceHashSha256: req.EvidenceHashSha256,
		ReporterID:         req.ReporterID,
		Signature:          req.Signature,
		IssuedAtMs:         timeutils.NowUnixMilli(),
		OriginID:           s.cfg.CoordinatorID,
	}
	if err := s.verifySignature(rec); err != nil {
		return nil, err
	}
	if err := s.accept(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// IngestRemote applies a record received via gossip or delta exchange.
// The reporter signature chain is verified when the reporter's key is
// known locally; origin metadata is preserved.
func (s *Service) IngestRemote(ctx context.Context, rec *api.BlacklistRecord) error {
	if !api.ValidReasonCode(rec.ReasonCode) {
		return api.NewErrorf(api.CodeBadReasonCode, "reason code %q is not in the closed set", rec.ReasonCode)
	}
	if s.cfg.Keys != nil {
		if _, err := s.cfg.Keys.PublicKeyOf(rec.ReporterID); err == nil {
			if err := s.verifySignature(rec); err != nil {
				return err
			}
		}
	}
	clone := *rec
	if clone.OriginID == "" {
		clone.OriginID = rec.ReporterID
	}
	return s.accept(ctx, &clone)
}

func (s *Service) verifySignature(rec *api.BlacklistRecord) error {
	if s.cfg.Keys == nil {
		return api.NewError(api.CodeBlacklistSignatureInvalid, "no key resolver configured")
	}
	pub, err := s.cfg.Keys.PublicKeyOf(rec.ReporterID)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return api.NewErrorf(api.CodeBlacklistSignatureInvalid, "unknown reporter %q", rec.ReporterID)
	}
	sig, err := base64.RawURLEncoding.DecodeString(rec.Signature)
	if err != nil {
		return api.NewError(api.CodeBlacklistSignatureInvalid, "signature is not base64url")
	}
	if !ed25519.Verify(pub, ReportPreimage(rec.AgentID, rec.ReasonCode, rec.EvidenceHashSha256), sig) {
		return api.NewError(api.CodeBlacklistSignatureInvalid, "reporter signature mismatch")
	}
	return nil
}

func (s *Service) accept(ctx context.Context, rec *api.BlacklistRecord) error {
	if s.cfg.Ledger != nil {
		if _, err := s.cfg.Ledger.Append(ctx, api.PayloadBlacklist, rec, rec.ReporterID); err != nil {
			return errors.Wrap(err, "could not record blacklist event in ledger")
		}
	}
	if err := s.cfg.Database.SaveBlacklistRecord(ctx, rec); err != nil {
		return err
	}
	if err := s.appendAudit(ctx, rec); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"agentId":    rec.AgentID,
		"reasonCode": rec.ReasonCode,
		"reporterId": rec.ReporterID,
		"originId":   rec.OriginID,
	}).Warn("Blacklist record accepted")
	s.updateFeed.Send(rec)
	return nil
}

// IsBlacklisted is the admission hook used by the registry and pipeline.
func (s *Service) IsBlacklisted(ctx context.Context, agentID string) (bool, error) {
	return s.cfg.Database.IsBlacklisted(ctx, agentID)
}

// Version returns the local record version counter for delta queries.
func (s *Service) Version(ctx context.Context) (uint64, error) {
	return s.cfg.Database.BlacklistVersion(ctx)
}

// Delta returns records newer than sinceVersion.
func (s *Service) Delta(ctx context.Context, sinceVersion uint64) ([]*api.BlacklistRecord, uint64, error) {
	records, err := s.cfg.Database.BlacklistRecords(ctx, sinceVersion)
	if err != nil {
		return nil, 0, err
	}
	version, err := s.cfg.Database.BlacklistVersion(ctx)
	if err != nil {
		return nil, 0, err
	}
	return records, version, nil
}
