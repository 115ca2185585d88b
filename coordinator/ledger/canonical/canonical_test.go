package canonical_test

import (
	"encoding/json"
	"testing"

	"github.com/enclavecode/swarm/coordinator/ledger/canonical"
	"github.com/enclavecode/swarm/shared/testutil/assert"
	"github.com/enclavecode/swarm/shared/testutil/require"
)

func TestCanonicalize_SortsKeysAndStripsWhitespace(t *testing.T) {
	in := []byte(`{
		"z": 1,
		"a": {"c": true, "b": [1, 2, 3]},
		"m": "text"
	}`)
	out, err := canonical.Canonicalize(in)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"b":[1,2,3],"c":true},"m":"text","z":1}`, string(out))
}

func TestCanonicalize_NumberForms(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"n": 0}`, `{"n":0}`},
		{`{"n": 1.50}`, `{"n":1.5}`},
		{`{"n": 1.0}`, `{"n":1}`},
		{`{"n": 10000}`, `{"n":10000}`},
		{`{"n": 18446744073709551615}`, `{"n":18446744073709551615}`},
		{`{"n": -9223372036854775808}`, `{"n":-9223372036854775808}`},
	}
	for _, tt := range tests {
		out, err := canonical.Canonicalize([]byte(tt.in))
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, string(out), tt.in)
	}
}

func TestCanonicalize_RoundTrip(t *testing.T) {
	in := []byte(`{"account":"acct-1","amountSats":9850,"kind":"earn","nested":{"x":[true,null,"s"],"y":0.25}}`)
	out, err := canonical.Canonicalize(in)
	require.NoError(t, err)

	var a, b interface{}
	require.NoError(t, json.Unmarshal(in, &a))
	require.NoError(t, json.Unmarshal(out, &b))
	assert.DeepEqual(t, a, b)

	// Canonical form is a fixed point.
	again, err := canonical.Canonicalize(out)
	require.NoError(t, err)
	assert.DeepEqual(t, out, again)
}

func TestMarshal_StructUsesCanonicalForm(t *testing.T) {
	type payload struct {
		Zed  int    `json:"z"`
		Name string `json:"name"`
	}
	out, err := canonical.Marshal(&payload{Zed: 7, Name: "anchor"})
	require.NoError(t, err)
	assert.Equal(t, `{"name":"anchor","z":7}`, string(out))
}

func TestCanonicalize_RejectsInvalidJSON(t *testing.T) {
	_, err := canonical.Canonicalize([]byte(`{"a":`))
	assert.NotNil(t, err)
}
