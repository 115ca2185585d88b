package ledger_test

import (
	"context"
	"crypto/ed25519"
	"strings"
	"testing"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/ledger"
	"github.com/enclavecode/swarm/shared/testutil/assert"
	"github.com/enclavecode/swarm/shared/testutil/require"
)

func TestAnchorPayload_RoundTrip(t *testing.T) {
	headHash := strings.Repeat("ab", 32)
	payload, err := ledger.EncodeAnchorPayload(0x01, headHash)
	require.NoError(t, err)
	require.Equal(t, ledger.AnchorPayloadSize, len(payload))
	assert.Equal(t, byte(0x45), payload[0])
	assert.Equal(t, byte(0x43), payload[1])
	assert.Equal(t, byte(0x01), payload[2])

	version, decoded, err := ledger.DecodeAnchorPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), version)
	assert.Equal(t, headHash, decoded)
}

func TestAnchorPayload_RejectsBadInput(t *testing.T) {
	_, err := ledger.EncodeAnchorPayload(0x01, "zz")
	assert.NotNil(t, err)

	_, _, err = ledger.DecodeAnchorPayload(make([]byte, 10))
	assert.NotNil(t, err)

	bad := make([]byte, ledger.AnchorPayloadSize)
	_, _, err = ledger.DecodeAnchorPayload(bad)
	assert.ErrorContains(t, "EC prefix", err)
}

func TestCheckpointSignature_RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	cp := &api.Checkpoint{
		Index:         1000,
		HeadHash:      strings.Repeat("cd", 32),
		CoordinatorID: "coord-a",
		TimestampMs:   12345,
	}
	require.NoError(t, ledger.SignCheckpoint(cp, priv))
	require.NoError(t, ledger.VerifyCheckpointSignature(cp, pub))

	cp.Index++
	assert.NotNil(t, ledger.VerifyCheckpointSignature(cp, pub))
}

func TestPublishCheckpoint_AnchorsPayload(t *testing.T) {
	srv, _ := setupService(t)
	ctx := context.Background()

	_, err := srv.Append(ctx, api.PayloadCreditTx, &api.CreditTx{Account: "a", Kind: api.CreditEarn, AmountSats: 10}, "coord-test")
	require.NoError(t, err)
	require.NoError(t, srv.PublishCheckpoint(ctx))
}
