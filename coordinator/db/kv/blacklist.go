package kv

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/shared/bytesutil"
)

// SaveBlacklistRecord persists an accepted abuse report. The store assigns
// the next local version to the record before writing; the deny decision is
// a union keyed by (agentId, reasonCode), so a repeated report for the same
// pair overwrites the union entry but still consumes a version.
func (s *Store) SaveBlacklistRecord(ctx context.Context, rec *api.BlacklistRecord) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.SaveBlacklistRecord")
	defer span.End()
	if rec == nil || rec.AgentID == "" {
		return errors.New("nil record or empty agent id")
	}
	return s.update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(blacklistMetaBucket)
		version := uint64(0)
		if enc := meta.Get(versionKey); enc != nil {
			version = bytesutil.BytesToUint64BigEndian(enc)
		}
		version++
		rec.Version = version

		enc, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := tx.Bucket(blacklistVersionBucket).Put(bytesutil.Uint64ToBytesBigEndian(version), enc); err != nil {
			return err
		}
		unionKey := append(append([]byte(rec.AgentID), indexSeparator...), []byte(rec.ReasonCode)...)
		if err := tx.Bucket(blacklistAgentBucket).Put(unionKey, bytesutil.Uint64ToBytesBigEndian(version)); err != nil {
			return err
		}
		return meta.Put(versionKey, bytesutil.Uint64ToBytesBigEndian(version))
	})
}

// BlacklistRecords returns records with version strictly greater than
// sinceVersion, ascending.
func (s *Store) BlacklistRecords(ctx context.Context, sinceVersion uint64) ([]*api.BlacklistRecord, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.BlacklistRecords")
	defer span.End()
	var records []*api.BlacklistRecord
	err := s.view(func(tx *bolt.Tx) error {
		c := tx.Bucket(blacklistVersionBucket).Cursor()
		start := bytesutil.Uint64ToBytesBigEndian(sinceVersion + 1)
		for k, v := c.Seek(start); k != nil; k, v = c.Next() {
			rec := &api.BlacklistRecord{}
			if err := json.Unmarshal(v, rec); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// BlacklistVersion returns the local blacklist version counter.
func (s *Store) BlacklistVersion(ctx context.Context) (uint64, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.BlacklistVersion")
	defer span.End()
	version := uint64(0)
	err := s.view(func(tx *bolt.Tx) error {
		if enc := tx.Bucket(blacklistMetaBucket).Get(versionKey); enc != nil {
			version = bytesutil.BytesToUint64BigEndian(enc)
		}
		return nil
	})
	return version, err
}

// IsBlacklisted reports whether any reason code is recorded against the
// agent.
func (s *Store) IsBlacklisted(ctx context.Context, agentID string) (bool, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.IsBlacklisted")
	defer span.End()
	blacklisted := false
	err := s.view(func(tx *bolt.Tx) error {
		c := tx.Bucket(blacklistAgentBucket).Cursor()
		prefix := append([]byte(agentID), indexSeparator...)
		k, _ := c.Seek(prefix)
		blacklisted = k != nil && bytes.HasPrefix(k, prefix)
		return nil
	})
	return blacklisted, err
}

// AppendBlacklistAudit appends one encoded link of the blacklist audit
// subchain. The sequence must be exactly head+1.
func (s *Store) AppendBlacklistAudit(ctx context.Context, seq uint64, enc []byte, headHash string) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.AppendBlacklistAudit")
	defer span.End()
	return s.update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(blacklistAuditMetaBucket)
		head := uint64(0)
		if headEnc := meta.Get(auditHeadSeqKey); headEnc != nil {
			head = bytesutil.BytesToUint64BigEndian(headEnc)
		}
		if seq != head+1 {
			return errors.Errorf("non-contiguous audit append: head %d, seq %d", head, seq)
		}
		if err := tx.Bucket(blacklistAuditBucket).Put(bytesutil.Uint64ToBytesBigEndian(seq), enc); err != nil {
			return err
		}
		if err := meta.Put(auditHeadSeqKey, bytesutil.Uint64ToBytesBigEndian(seq)); err != nil {
			return err
		}
		return meta.Put(auditHeadHashKey, []byte(headHash))
	})
}

// BlacklistAudit returns every encoded audit link in sequence order.
func (s *Store) BlacklistAudit(ctx context.Context) ([][]byte, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.BlacklistAudit")
	defer span.End()
	var links [][]byte
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(blacklistAuditBucket).ForEach(func(_, enc []byte) error {
			links = append(links, bytesutil.SafeCopyBytes(enc))
			return nil
		})
	})
	return links, err
}

// BlacklistAuditHead returns the sequence and hash of the newest audit link.
func (s *Store) BlacklistAuditHead(ctx context.Context) (uint64, string, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.BlacklistAuditHead")
	defer span.End()
	seq := uint64(0)
	headHash := genesisHash
	err := s.view(func(tx *bolt.Tx) error {
		meta := tx.Bucket(blacklistAuditMetaBucket)
		if enc := meta.Get(auditHeadSeqKey); enc != nil {
			seq = bytesutil.BytesToUint64BigEndian(enc)
		}
		if enc := meta.Get(auditHeadHashKey); enc != nil {
			headHash = string(enc)
		}
		return nil
	})
	return seq, headHash, err
}
