package envelope_test

import (
	"testing"

	"github.com/enclavecode/swarm/crypto/envelope"
	"github.com/enclavecode/swarm/shared/testutil/assert"
	"github.com/enclavecode/swarm/shared/testutil/require"
)

func TestSealOpen_RoundTrip(t *testing.T) {
	priv, pub, err := envelope.GenerateKey(nil)
	require.NoError(t, err)

	env, err := envelope.Seal(pub, []byte("diff --git a/main.go b/main.go"))
	require.NoError(t, err)
	assert.Equal(t, envelope.KeyID(pub), env.KeyID)

	plaintext, err := envelope.Open(priv, env)
	require.NoError(t, err)
	assert.DeepEqual(t, []byte("diff --git a/main.go b/main.go"), plaintext)
}

func TestOpen_WrongKeyFails(t *testing.T) {
	_, pub, err := envelope.GenerateKey(nil)
	require.NoError(t, err)
	otherPriv, _, err := envelope.GenerateKey(nil)
	require.NoError(t, err)

	env, err := envelope.Seal(pub, []byte("payload"))
	require.NoError(t, err)

	_, err = envelope.Open(otherPriv, env)
	require.ErrorContains(t, "envelope authentication failed", err)
}

func TestOpen_TamperedCiphertextFails(t *testing.T) {
	priv, pub, err := envelope.GenerateKey(nil)
	require.NoError(t, err)

	env, err := envelope.Seal(pub, []byte("payload"))
	require.NoError(t, err)
	env.Ciphertext[0] ^= 0xff

	_, err = envelope.Open(priv, env)
	require.ErrorContains(t, "envelope authentication failed", err)
}

func TestOpen_SwappedKeyIDFails(t *testing.T) {
	priv, pub, err := envelope.GenerateKey(nil)
	require.NoError(t, err)

	env, err := envelope.Seal(pub, []byte("payload"))
	require.NoError(t, err)
	env.KeyID = "0000000000000000"

	_, err = envelope.Open(priv, env)
	require.ErrorContains(t, "envelope authentication failed", err)
}
