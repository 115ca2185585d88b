package ledger

import (
	"context"
	"crypto/ed25519"
	"strings"

	"github.com/pkg/errors"

	"github.com/enclavecode/swarm/coordinator/db"
)

var genesisHash = strings.Repeat("0", 64)

// VerifyResult reports the outcome of a chain replay.
type VerifyResult struct {
	Checked      uint64
	FirstFailing uint64
	Err          error
}

// OK reports whether the replay found no mismatch.
func (r *VerifyResult) OK() bool {
	return r.Err == nil
}

// Verify replays hashes over entries [from, to]. From must be at least 1;
// when from is 1 the replay starts at genesis, otherwise the stored
// predecessor anchors the prefix. Signatures are checked when the actor's
// public key is resolvable through keyFor (a nil keyFor skips signature
// checks, e.g. for ranges authored by peers whose keys live elsewhere).
func Verify(ctx context.Context, database db.Database, from, to uint64, keyFor func(actor string) ed25519.PublicKey) *VerifyResult {
	if from == 0 {
		from = 1
	}
	if to < from {
		return &VerifyResult{Err: errors.Errorf("invalid range [%d, %d]", from, to)}
	}
	prevHash := genesisHash
	if from > 1 {
		prev, err := database.LedgerEntry(ctx, from-1)
		if err != nil {
			return &VerifyResult{Err: errors.Wrapf(err, "missing predecessor %d", from-1)}
		}
		if prevHash, err = EntryHash(prev); err != nil {
			return &VerifyResult{FirstFailing: from - 1, Err: err}
		}
	}

	entries, err := database.LedgerEntries(ctx, from, to)
	if err != nil {
		return &VerifyResult{Err: err}
	}
	result := &VerifyResult{}
	expect := from
	for _, entry := range entries {
		if entry.Index != expect {
			result.FirstFailing = expect
			result.Err = errors.Errorf("gap in chain: expected index %d, found %d", expect, entry.Index)
			return result
		}
		if entry.PrevHash != prevHash {
			result.FirstFailing = entry.Index
			result.Err = errors.Errorf("prev-hash mismatch at index %d", entry.Index)
			return result
		}
		hash, err := EntryHash(entry)
		if err != nil {
			result.FirstFailing = entry.Index
			result.Err = err
			return result
		}
		if keyFor != nil {
			if pub := keyFor(entry.Actor); pub != nil {
				if err := VerifyEntrySignature(entry, pub); err != nil {
					result.FirstFailing = entry.Index
					result.Err = err
					return result
				}
			}
		}
		prevHash = hash
		expect++
		result.Checked++
	}
	if expect != to+1 {
		result.FirstFailing = expect
		result.Err = errors.Errorf("chain ends at %d, expected %d", expect-1, to)
	}
	return result
}

// VerifyAll replays the whole chain from genesis to the persisted head.
func VerifyAll(ctx context.Context, database db.Database, keyFor func(actor string) ed25519.PublicKey) *VerifyResult {
	head, _, err := database.LedgerHead(ctx)
	if err != nil {
		return &VerifyResult{Err: err}
	}
	if head == 0 {
		return &VerifyResult{}
	}
	return Verify(ctx, database, 1, head, keyFor)
}

// VerifyAndMaybeHalt runs a replay and halts the writer on integrity
// failure, per the error-handling contract for ledger_verify_failed.
func (s *Service) VerifyAndMaybeHalt(ctx context.Context) *VerifyResult {
	self := ed25519.PublicKey(s.cfg.SigningKey.Public().(ed25519.PublicKey))
	result := VerifyAll(ctx, s.cfg.Database, func(actor string) ed25519.PublicKey {
		if actor == s.cfg.CoordinatorID {
			return self
		}
		return nil
	})
	if !result.OK() {
		s.HaltWrites(result.Err)
	}
	return result
}
