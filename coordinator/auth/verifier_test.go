package auth_test

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/auth"
	dbtest "github.com/enclavecode/swarm/coordinator/db/testing"
	"github.com/enclavecode/swarm/shared/testutil/assert"
	"github.com/enclavecode/swarm/shared/testutil/require"
	"github.com/enclavecode/swarm/shared/timeutils"
)

type staticKeys map[string]ed25519.PublicKey

func (s staticKeys) PublicKeyOf(sourceID string) (ed25519.PublicKey, error) {
	pub, ok := s[sourceID]
	if !ok {
		return nil, errors.New("unknown")
	}
	return pub, nil
}

func newVerifier(t *testing.T) (*auth.Verifier, ed25519.PrivateKey, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	agentID := "agent-" + uuid.NewString()
	v := auth.NewVerifier(staticKeys{agentID: pub}, auth.NewNonceStore(), nil, nil)
	return v, priv, agentID
}

func TestVerify_SignRoundTrip(t *testing.T) {
	v, priv, agentID := newVerifier(t)
	body := []byte(`{"agentId":"a1"}`)
	req := auth.Sign("POST", "/heartbeat", body, agentID, uuid.NewString(), timeutils.NowUnixMilli(), priv)
	require.NoError(t, v.Verify(req))
}

func TestVerify_ClockSkewBoundary(t *testing.T) {
	v, priv, agentID := newVerifier(t)

	// Exactly 120000ms behind is accepted.
	at := timeutils.NowUnixMilli() - 120_000
	req := auth.Sign("GET", "/status", nil, agentID, uuid.NewString(), at, priv)
	require.NoError(t, v.Verify(req))

	// One millisecond past the bound is rejected. The margin covers the
	// wall-clock time between signing and verifying.
	past := timeutils.NowUnixMilli() - 120_100
	req = auth.Sign("GET", "/status", nil, agentID, uuid.NewString(), past, priv)
	err := v.Verify(req)
	require.NotNil(t, err)
	assert.Equal(t, api.CodeClockSkew, api.CodeOf(err))
}

func TestVerify_Replay(t *testing.T) {
	v, priv, agentID := newVerifier(t)
	nonce := uuid.NewString()
	req := auth.Sign("POST", "/result", []byte("{}"), agentID, nonce, timeutils.NowUnixMilli(), priv)
	require.NoError(t, v.Verify(req))

	// Same nonce one second later, freshly signed: still a replay.
	replay := auth.Sign("POST", "/result", []byte("{}"), agentID, nonce, timeutils.NowUnixMilli()+1_000, priv)
	err := v.Verify(replay)
	require.NotNil(t, err)
	assert.Equal(t, api.CodeReplay, api.CodeOf(err))
}

func TestVerify_UnknownIdentity(t *testing.T) {
	v, priv, _ := newVerifier(t)
	req := auth.Sign("GET", "/status", nil, "stranger", uuid.NewString(), timeutils.NowUnixMilli(), priv)
	err := v.Verify(req)
	require.NotNil(t, err)
	assert.Equal(t, api.CodeUnknownIdentity, api.CodeOf(err))
}

func TestVerify_BadSignature(t *testing.T) {
	v, priv, agentID := newVerifier(t)
	req := auth.Sign("POST", "/submit", []byte(`{"prompt":"x"}`), agentID, uuid.NewString(), timeutils.NowUnixMilli(), priv)
	// Tamper with the path after signing.
	req.Path = "/enroll"
	err := v.Verify(req)
	require.NotNil(t, err)
	assert.Equal(t, api.CodeBadSignature, api.CodeOf(err))
}

func TestVerify_TamperedBody(t *testing.T) {
	v, priv, agentID := newVerifier(t)
	req := auth.Sign("POST", "/submit", []byte(`{"amount":1}`), agentID, uuid.NewString(), timeutils.NowUnixMilli(), priv)
	req.BodyHash = auth.BodyHash([]byte(`{"amount":9999}`))
	err := v.Verify(req)
	require.NotNil(t, err)
	assert.Equal(t, api.CodeBadSignature, api.CodeOf(err))
}

func TestNonceTail_FlushAndReload(t *testing.T) {
	database := dbtest.SetupDB(t)
	ctx := context.Background()

	store := auth.NewNonceStore()
	expiry := timeutils.NowUnixMilli() + 60_000
	require.Equal(t, true, store.Remember("a1", "n1", expiry))
	require.Equal(t, true, store.Remember("a1", "n2", expiry))
	require.NoError(t, auth.FlushNonceTail(ctx, store, database))

	reloaded := auth.NewNonceStore()
	require.NoError(t, auth.LoadNonceTail(ctx, reloaded, database))
	// The persisted pairs are still replays after a restart.
	assert.Equal(t, false, reloaded.Remember("a1", "n1", expiry))
	assert.Equal(t, false, reloaded.Remember("a1", "n2", expiry))
	assert.Equal(t, true, reloaded.Remember("a1", "n3", expiry))
}

func TestLimiter_EnforcesWindow(t *testing.T) {
	limiter := auth.NewLimiter()
	allowed := 0
	for i := 0; i < 200; i++ {
		if limiter.Allow("source-1") {
			allowed++
		}
	}
	assert.Equal(t, true, allowed >= 100 && allowed <= 130, "allowed=%d", allowed)
	// Another source has its own bucket.
	assert.Equal(t, true, limiter.Allow("source-2"))
}
