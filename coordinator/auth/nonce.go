package auth

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/enclavecode/swarm/coordinator/db"
	"github.com/enclavecode/swarm/shared/params"
	"github.com/enclavecode/swarm/shared/timeutils"
)

// NonceStore tracks seen (sourceId, nonce) pairs for the replay window.
type NonceStore interface {
	// Remember records the pair and reports whether it was fresh. A false
	// return means replay.
	Remember(sourceID, nonce string, expiryMs int64) bool
	// Snapshot exports the live pairs with their expiries for persistence.
	Snapshot() map[string]int64
	// Restore re-imports persisted pairs, dropping the already expired.
	Restore(nonces map[string]int64)
}

// nonceKey joins source and nonce. The separator cannot occur in a UUID.
func nonceKey(sourceID, nonce string) string {
	return sourceID + "|" + nonce
}

// cacheNonceStore backs the nonce store with a TTL cache. Retention is
// 2 x the maximum clock skew; expired pairs are swept periodically.
type cacheNonceStore struct {
	cache *gocache.Cache
}

// NewNonceStore creates the TTL-backed nonce store.
func NewNonceStore() NonceStore {
	cfg := params.Coordinator()
	return &cacheNonceStore{
		cache: gocache.New(2*cfg.MaxClockSkew, cfg.NonceSweepInterval),
	}
}

func (s *cacheNonceStore) Remember(sourceID, nonce string, expiryMs int64) bool {
	ttl := time.Duration(expiryMs-timeutils.NowUnixMilli()) * time.Millisecond
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	return s.cache.Add(nonceKey(sourceID, nonce), expiryMs, ttl) == nil
}

func (s *cacheNonceStore) Snapshot() map[string]int64 {
	items := s.cache.Items()
	out := make(map[string]int64, len(items))
	for key, item := range items {
		expiry, ok := item.Object.(int64)
		if !ok {
			continue
		}
		out[key] = expiry
	}
	return out
}

func (s *cacheNonceStore) Restore(nonces map[string]int64) {
	now := timeutils.NowUnixMilli()
	for key, expiry := range nonces {
		if expiry <= now {
			continue
		}
		_ = s.cache.Add(key, expiry, time.Duration(expiry-now)*time.Millisecond)
	}
}

// FlushNonceTail persists the live nonce pairs so a restart does not
// reopen the replay window.
func FlushNonceTail(ctx context.Context, store NonceStore, database db.Database) error {
	return database.SaveNonceTail(ctx, store.Snapshot())
}

// LoadNonceTail restores the persisted pairs into the store.
func LoadNonceTail(ctx context.Context, store NonceStore, database db.Database) error {
	tail, err := database.NonceTail(ctx)
	if err != nil {
		return err
	}
	store.Restore(tail)
	return nil
}
