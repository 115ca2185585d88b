package hashutil_test

import (
	"crypto/sha256"
	"testing"

	"github.com/enclavecode/swarm/shared/hashutil"
	"github.com/enclavecode/swarm/shared/testutil/assert"
)

func TestHash(t *testing.T) {
	hashOf0 := [32]byte{110, 52, 11, 156, 255, 179, 122, 152, 156, 165, 68, 230, 187, 120, 10, 44, 120, 144, 29, 63, 179, 55, 56, 118, 133, 17, 163, 6, 23, 175, 160, 29}
	hash := hashutil.Hash([]byte{0})
	assert.Equal(t, hashOf0, hash)

	hashOf1 := [32]byte{75, 245, 18, 47, 52, 69, 84, 197, 59, 222, 46, 187, 140, 210, 183, 227, 209, 96, 10, 214, 49, 195, 133, 165, 215, 204, 226, 60, 119, 133, 69, 154}
	hash = hashutil.Hash([]byte{1})
	assert.Equal(t, hashOf1, hash)
	assert.NotEqual(t, hashOf0, hash)
}

func TestHash_MatchesStdlib(t *testing.T) {
	data := []byte("coordinator ledger entry")
	want := sha256.Sum256(data)
	got := hashutil.Hash(data)
	assert.Equal(t, want, got)
}
