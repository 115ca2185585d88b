package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/enclavecode/swarm/coordinator/auth"
	"github.com/enclavecode/swarm/shared/testutil/assert"
	"github.com/enclavecode/swarm/shared/testutil/require"
)

func TestTokenGate_MeshToken(t *testing.T) {
	gate, err := auth.NewTokenGate("mesh-secret", "portal-secret", nil)
	require.NoError(t, err)
	assert.Equal(t, true, gate.CheckMeshToken("mesh-secret"))
	assert.Equal(t, false, gate.CheckMeshToken("mesh-secre"))
	assert.Equal(t, false, gate.CheckMeshToken(""))

	open, err := auth.NewTokenGate("", "", nil)
	require.NoError(t, err)
	assert.Equal(t, true, open.CheckMeshToken("anything"))
	// An unset portal token never authorises anyone.
	assert.Equal(t, false, open.CheckPortalToken(""))
}

func TestTokenGate_AdminGate(t *testing.T) {
	gate, err := auth.NewTokenGate("m", "portal-secret", []string{"10.1.0.0/16", "192.168.1.5"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin/agents", nil)
	req.RemoteAddr = "203.0.113.9:4444"
	assert.Equal(t, false, gate.CheckAdmin(req))

	req.Header.Set(auth.HeaderPortalToken, "portal-secret")
	assert.Equal(t, true, gate.CheckAdmin(req))

	inRange := httptest.NewRequest(http.MethodGet, "/admin/agents", nil)
	inRange.RemoteAddr = "10.1.22.3:9000"
	assert.Equal(t, true, gate.CheckAdmin(inRange))

	single := httptest.NewRequest(http.MethodGet, "/admin/agents", nil)
	single.RemoteAddr = "192.168.1.5:1234"
	assert.Equal(t, true, gate.CheckAdmin(single))

	loopback := httptest.NewRequest(http.MethodGet, "/admin/agents", nil)
	loopback.RemoteAddr = "127.0.0.1:5555"
	assert.Equal(t, true, gate.CheckAdmin(loopback))
}
