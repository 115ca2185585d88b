package bytesutil_test

import (
	"testing"

	"github.com/enclavecode/swarm/shared/bytesutil"
	"github.com/enclavecode/swarm/shared/testutil/assert"
)

func TestToBytes32(t *testing.T) {
	tests := []struct {
		a []byte
		b [32]byte
	}{
		{nil, [32]byte{}},
		{[]byte{}, [32]byte{}},
		{[]byte{1}, [32]byte{1}},
		{[]byte{1, 2, 3}, [32]byte{1, 2, 3}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.b, bytesutil.ToBytes32(tt.a))
	}
}

func TestUint64ToBytesBigEndian_RoundTrip(t *testing.T) {
	tests := []uint64{0, 1, 255, 256, 1 << 32, 1<<63 + 55}
	for _, tt := range tests {
		b := bytesutil.Uint64ToBytesBigEndian(tt)
		assert.Equal(t, 8, len(b))
		assert.Equal(t, tt, bytesutil.BytesToUint64BigEndian(b))
	}
}

func TestBytesToUint64BigEndian_TooLong(t *testing.T) {
	assert.Equal(t, uint64(0), bytesutil.BytesToUint64BigEndian([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9}))
}

func TestBytes8(t *testing.T) {
	tests := []struct {
		a uint64
		b []byte
	}{
		{0, []byte{0, 0, 0, 0, 0, 0, 0, 0}},
		{5, []byte{5, 0, 0, 0, 0, 0, 0, 0}},
		{1<<16 - 1, []byte{255, 255, 0, 0, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		assert.DeepEqual(t, tt.b, bytesutil.Bytes8(tt.a))
		assert.Equal(t, tt.a, bytesutil.FromBytes8(tt.b))
	}
}

func TestSafeCopyBytes(t *testing.T) {
	var nilBytes []byte
	assert.DeepEqual(t, nilBytes, bytesutil.SafeCopyBytes(nil))

	src := []byte{1, 2, 3}
	cp := bytesutil.SafeCopyBytes(src)
	assert.DeepEqual(t, src, cp)
	cp[0] = 9
	assert.Equal(t, byte(1), src[0])
}

func TestTrunc(t *testing.T) {
	assert.DeepEqual(t, []byte{1, 2, 3}, bytesutil.Trunc([]byte{1, 2, 3}))
	assert.DeepEqual(t, []byte{1, 2, 3, 4, 5, 6}, bytesutil.Trunc([]byte{1, 2, 3, 4, 5, 6, 7, 8}))
}
