package blacklist

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/minio/sha256-simd"
	"github.com/pkg/errors"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/db"
	"github.com/enclavecode/swarm/coordinator/ledger/canonical"
)

var auditGenesis = strings.Repeat("0", 64)

// AuditLink is one link of the blacklist audit subchain. The hash covers
// the canonical form of the link without the hash field itself.
type AuditLink struct {
	Seq         uint64               `json:"seq"`
	PrevHash    string               `json:"prevHash"`
	Record      *api.BlacklistRecord `json:"record"`
	TimestampMs int64                `json:"timestampMs"`
	Hash        string               `json:"hash"`
}

type auditPreimage struct {
	Seq         uint64               `json:"seq"`
	PrevHash    string               `json:"prevHash"`
	Record      *api.BlacklistRecord `json:"record"`
	TimestampMs int64                `json:"timestampMs"`
}

// AuditLinkHash computes the chain hash of a link.
func AuditLinkHash(link *AuditLink) (string, error) {
	preimage, err := canonical.Marshal(&auditPreimage{
		Seq:         link.Seq,
		PrevHash:    link.PrevHash,
		Record:      link.Record,
		TimestampMs: link.TimestampMs,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(preimage)
	return hex.EncodeToString(sum[:]), nil
}

func (s *Service) appendAudit(ctx context.Context, rec *api.BlacklistRecord) error {
	seq, prevHash, err := s.cfg.Database.BlacklistAuditHead(ctx)
	if err != nil {
		return err
	}
	link := &AuditLink{
		Seq:         seq + 1,
		PrevHash:    prevHash,
		Record:      rec,
		TimestampMs: rec.IssuedAtMs,
	}
	if link.Hash, err = AuditLinkHash(link); err != nil {
		return err
	}
	enc, err := json.Marshal(link)
	if err != nil {
		return err
	}
	return s.cfg.Database.AppendBlacklistAudit(ctx, link.Seq, enc, link.Hash)
}

// VerifyAudit replays the audit subchain with the same routine as the main
// ledger and returns the first failing sequence on mismatch.
func VerifyAudit(ctx context.Context, database db.Database) (checked uint64, firstFailing uint64, err error) {
	links, err := database.BlacklistAudit(ctx)
	if err != nil {
		return 0, 0, err
	}
	prevHash := auditGenesis
	for i, enc := range links {
		expect := uint64(i + 1)
		link := &AuditLink{}
		if err := json.Unmarshal(enc, link); err != nil {
			return checked, expect, errors.Wrapf(err, "malformed audit link %d", expect)
		}
		if link.Seq != expect {
			return checked, expect, errors.Errorf("gap in audit chain: expected seq %d, found %d", expect, link.Seq)
		}
		if link.PrevHash != prevHash {
			return checked, expect, errors.Errorf("prev-hash mismatch at seq %d", expect)
		}
		hash, err := AuditLinkHash(link)
		if err != nil {
			return checked, expect, err
		}
		if hash != link.Hash {
			return checked, expect, errors.Errorf("hash mismatch at seq %d", expect)
		}
		prevHash = hash
		checked++
	}
	head, headHash, err := database.BlacklistAuditHead(ctx)
	if err != nil {
		return checked, 0, err
	}
	if head != checked {
		return checked, checked + 1, errors.Errorf("audit head %d does not match %d replayed links", head, checked)
	}
	if checked > 0 && headHash != prevHash {
		return checked, head, errors.New("audit head hash mismatch")
	}
	return checked, 0, nil
}
