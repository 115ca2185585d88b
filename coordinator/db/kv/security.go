package kv

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/shared/bytesutil"
	"github.com/enclavecode/swarm/shared/params"
)

// SaveNonceTail replaces the persisted nonce tail. The tail is flushed on
// shutdown and reloaded on start so a restart does not reopen the replay
// window.
func (s *Store) SaveNonceTail(ctx context.Context, nonces map[string]int64) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.SaveNonceTail")
	defer span.End()
	return s.update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(nonceTailBucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		bkt, err := tx.CreateBucket(nonceTailBucket)
		if err != nil {
			return err
		}
		for key, expiry := range nonces {
			if err := bkt.Put([]byte(key), bytesutil.Uint64ToBytesBigEndian(uint64(expiry))); err != nil {
				return err
			}
		}
		return nil
	})
}

// NonceTail returns the persisted nonce tail keyed by "sourceId|nonce".
func (s *Store) NonceTail(ctx context.Context) (map[string]int64, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.NonceTail")
	defer span.End()
	nonces := make(map[string]int64)
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(nonceTailBucket).ForEach(func(k, v []byte) error {
			nonces[string(k)] = int64(bytesutil.BytesToUint64BigEndian(v))
			return nil
		})
	})
	return nonces, err
}

// SaveSecurityEvent appends one accepted-request record to the rotating
// tail, assigning the next sequence number and pruning the oldest records
// past the configured tail size.
func (s *Store) SaveSecurityEvent(ctx context.Context, ev *api.SecurityEvent) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.SaveSecurityEvent")
	defer span.End()
	if ev == nil {
		return errors.New("nil security event")
	}
	tailSize := params.Coordinator().SecurityEventTailSize
	return s.update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(securityMetaBucket)
		seq := uint64(0)
		if enc := meta.Get(sequenceKey); enc != nil {
			seq = bytesutil.BytesToUint64BigEndian(enc)
		}
		seq++
		ev.Seq = seq

		enc, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		bkt := tx.Bucket(securityEventsBucket)
		if err := bkt.Put(bytesutil.Uint64ToBytesBigEndian(seq), enc); err != nil {
			return err
		}
		if seq > tailSize {
			c := bkt.Cursor()
			cutoff := seq - tailSize
			for k, _ := c.First(); k != nil && bytesutil.BytesToUint64BigEndian(k) <= cutoff; k, _ = c.Next() {
				if err := c.Delete(); err != nil {
					return err
				}
			}
		}
		return meta.Put(sequenceKey, bytesutil.Uint64ToBytesBigEndian(seq))
	})
}

// SecurityEvents returns up to limit newest records, newest first.
func (s *Store) SecurityEvents(ctx context.Context, limit int) ([]*api.SecurityEvent, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.SecurityEvents")
	defer span.End()
	var events []*api.SecurityEvent
	err := s.view(func(tx *bolt.Tx) error {
		c := tx.Bucket(securityEventsBucket).Cursor()
		for k, v := c.Last(); k != nil && len(events) < limit; k, v = c.Prev() {
			ev := &api.SecurityEvent{}
			if err := json.Unmarshal(v, ev); err != nil {
				return err
			}
			events = append(events, ev)
		}
		return nil
	})
	return events, err
}
