package kv

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/shared/bytesutil"
)

// genesisHash is the previous-hash of the first ledger entry.
var genesisHash = strings.Repeat("0", 64)

// LedgerHead returns the index and hash of the newest ledger entry. An
// empty ledger reports index 0 and the genesis hash.
func (s *Store) LedgerHead(ctx context.Context) (uint64, string, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.LedgerHead")
	defer span.End()
	index := uint64(0)
	headHash := genesisHash
	err := s.view(func(tx *bolt.Tx) error {
		meta := tx.Bucket(ledgerMetaBucket)
		if enc := meta.Get(headIndexKey); enc != nil {
			index = bytesutil.BytesToUint64BigEndian(enc)
		}
		if enc := meta.Get(headHashKey); enc != nil {
			headHash = string(enc)
		}
		return nil
	})
	return index, headHash, err
}

// LedgerEntry retrieves a single entry by index.
func (s *Store) LedgerEntry(ctx context.Context, index uint64) (*api.LedgerEntry, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.LedgerEntry")
	defer span.End()
	var entry *api.LedgerEntry
	err := s.view(func(tx *bolt.Tx) error {
		enc := tx.Bucket(ledgerBucket).Get(bytesutil.Uint64ToBytesBigEndian(index))
		if enc == nil {
			return ErrNotFound
		}
		entry = &api.LedgerEntry{}
		return json.Unmarshal(enc, entry)
	})
	return entry, err
}

// LedgerEntries returns entries with indices in [from, to], ascending.
func (s *Store) LedgerEntries(ctx context.Context, from, to uint64) ([]*api.LedgerEntry, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.LedgerEntries")
	defer span.End()
	if from > to {
		return nil, errors.Errorf("invalid range [%d, %d]", from, to)
	}
	var entries []*api.LedgerEntry
	err := s.view(func(tx *bolt.Tx) error {
		c := tx.Bucket(ledgerBucket).Cursor()
		start := bytesutil.Uint64ToBytesBigEndian(from)
		for k, v := c.Seek(start); k != nil; k, v = c.Next() {
			if bytesutil.BytesToUint64BigEndian(k) > to {
				break
			}
			entry := &api.LedgerEntry{}
			if err := json.Unmarshal(v, entry); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

// AppendLedgerEntry atomically persists the entry and advances the head.
// The entry index must be exactly head+1; anything else is a serialisation
// bug in the caller and is rejected.
func (s *Store) AppendLedgerEntry(ctx context.Context, entry *api.LedgerEntry, newHeadHash string) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.AppendLedgerEntry")
	defer span.End()
	if entry == nil {
		return errors.New("nil ledger entry")
	}
	enc, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(ledgerMetaBucket)
		head := uint64(0)
		if headEnc := meta.Get(headIndexKey); headEnc != nil {
			head = bytesutil.BytesToUint64BigEndian(headEnc)
		}
		if entry.Index != head+1 {
			return errors.Errorf("non-contiguous ledger append: head %d, entry index %d", head, entry.Index)
		}
		if err := tx.Bucket(ledgerBucket).Put(bytesutil.Uint64ToBytesBigEndian(entry.Index), enc); err != nil {
			return err
		}
		if err := meta.Put(headIndexKey, bytesutil.Uint64ToBytesBigEndian(entry.Index)); err != nil {
			return err
		}
		return meta.Put(headHashKey, []byte(newHeadHash))
	})
}

// SaveCheckpoint stores a published checkpoint keyed by its ledger index.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *api.Checkpoint) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.SaveCheckpoint")
	defer span.End()
	if cp == nil {
		return errors.New("nil checkpoint")
	}
	enc, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(checkpointsBucket).Put(bytesutil.Uint64ToBytesBigEndian(cp.Index), enc)
	})
}

// Checkpoints returns all stored checkpoints in ascending index order.
func (s *Store) Checkpoints(ctx context.Context) ([]*api.Checkpoint, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Checkpoints")
	defer span.End()
	var cps []*api.Checkpoint
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(checkpointsBucket).ForEach(func(_, enc []byte) error {
			cp := &api.Checkpoint{}
			if err := json.Unmarshal(enc, cp); err != nil {
				return err
			}
			cps = append(cps, cp)
			return nil
		})
	})
	return cps, err
}

// LatestCheckpoint returns the newest stored checkpoint, or ErrNotFound
// when none has been published yet.
func (s *Store) LatestCheckpoint(ctx context.Context) (*api.Checkpoint, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.LatestCheckpoint")
	defer span.End()
	var cp *api.Checkpoint
	err := s.view(func(tx *bolt.Tx) error {
		_, enc := tx.Bucket(checkpointsBucket).Cursor().Last()
		if enc == nil {
			return ErrNotFound
		}
		cp = &api.Checkpoint{}
		return json.Unmarshal(enc, cp)
	})
	return cp, err
}
