package pipeline

import (
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru"

	"github.com/enclavecode/swarm/shared/hashutil"
)

// Fingerprint derives the audit/idempotency digest of a submission:
// SHA-256 over prompt || snapshotRef || language.
func Fingerprint(prompt, snapshotRef, language string) string {
	h := hashutil.Hash([]byte(prompt + snapshotRef + language))
	return hex.EncodeToString(h[:])
}

// fingerprintCache front-runs the database for recently seen submissions.
type fingerprintCache struct {
	cache *lru.Cache
}

func newFingerprintCache(size int) (*fingerprintCache, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &fingerprintCache{cache: cache}, nil
}

// TaskID returns the task already admitted under the fingerprint, if cached.
func (c *fingerprintCache) TaskID(fingerprint string) (string, bool) {
	v, ok := c.cache.Get(fingerprint)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// Remember records the fingerprint to task mapping.
func (c *fingerprintCache) Remember(fingerprint, taskID string) {
	c.cache.Add(fingerprint, taskID)
}
