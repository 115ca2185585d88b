package registry_test

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/enclavecode/swarm/coordinator/api"
	dbtest "github.com/enclavecode/swarm/coordinator/db/testing"
	"github.com/enclavecode/swarm/coordinator/registry"
	"github.com/enclavecode/swarm/shared/testutil/assert"
	"github.com/enclavecode/swarm/shared/testutil/require"
	"github.com/enclavecode/swarm/shared/timeutils"
)

type denylist map[string]bool

func (d denylist) IsBlacklisted(_ context.Context, agentID string) (bool, error) {
	return d[agentID], nil
}

type fixture struct {
	srv       *registry.Service
	portalKey ed25519.PrivateKey
	deny      denylist
}

func setup(t *testing.T) *fixture {
	t.Helper()
	portalPub, portalPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	deny := denylist{}
	srv, err := registry.NewService(context.Background(), &registry.Config{
		Database:  dbtest.SetupDB(t),
		Blacklist: deny,
		PortalKey: portalPub,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, srv.Stop()) })
	return &fixture{srv: srv, portalKey: portalPriv, deny: deny}
}

func (f *fixture) enroll(t *testing.T, agentID string, preApproved bool) ed25519.PrivateKey {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	token, err := registry.IssueRegistrationToken(&registry.RegistrationClaims{
		PreApproved: preApproved,
		ExpiresAtMs: timeutils.NowUnixMilli() + 60_000,
	}, f.portalKey)
	require.NoError(t, err)
	resp, err := f.srv.Enroll(context.Background(), &api.EnrollRequest{
		AgentID:           agentID,
		PublicKey:         pub,
		OS:                api.OSLinux,
		Role:              api.RoleSwarmOnly,
		MaxSlots:          2,
		Languages:         []string{"python"},
		RegistrationToken: token,
	})
	require.NoError(t, err)
	require.Equal(t, agentID, resp.AgentID)
	return priv
}

func TestEnroll_DefaultsToPendingApproval(t *testing.T) {
	f := setup(t)
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	token, err := registry.IssueRegistrationToken(&registry.RegistrationClaims{
		ExpiresAtMs: timeutils.NowUnixMilli() + 60_000,
	}, f.portalKey)
	require.NoError(t, err)

	resp, err := f.srv.Enroll(context.Background(), &api.EnrollRequest{
		AgentID:           "a1",
		PublicKey:         pub,
		OS:                api.OSMacOS,
		Role:              api.RoleIdeEnabled,
		RegistrationToken: token,
	})
	require.NoError(t, err)
	assert.Equal(t, api.ApprovalPending, resp.Status)
	assert.Equal(t, true, resp.WalletRequired)
}

func TestEnroll_PreApprovedClaim(t *testing.T) {
	f := setup(t)
	f.enroll(t, "a1", true)
	hb, err := f.srv.Heartbeat(context.Background(), "a1", nil)
	require.NoError(t, err)
	assert.Equal(t, api.ApprovalApproved, hb.Approval)
}

func TestEnroll_RejectsBadToken(t *testing.T) {
	f := setup(t)
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	_, err = f.srv.Enroll(context.Background(), &api.EnrollRequest{
		AgentID:           "a1",
		PublicKey:         pub,
		RegistrationToken: "not.atoken",
	})
	require.NotNil(t, err)
	assert.Equal(t, api.CodeValidationFailed, api.CodeOf(err))

	// Token signed by the wrong key.
	_, otherKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	forged, err := registry.IssueRegistrationToken(&registry.RegistrationClaims{ExpiresAtMs: timeutils.NowUnixMilli() + 60_000}, otherKey)
	require.NoError(t, err)
	_, err = f.srv.Enroll(context.Background(), &api.EnrollRequest{
		AgentID:           "a1",
		PublicKey:         pub,
		RegistrationToken: forged,
	})
	require.NotNil(t, err)
	assert.Equal(t, api.CodeValidationFailed, api.CodeOf(err))
}

func TestEnroll_PublicKeyImmutable(t *testing.T) {
	f := setup(t)
	f.enroll(t, "a1", true)

	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	token, err := registry.IssueRegistrationToken(&registry.RegistrationClaims{ExpiresAtMs: timeutils.NowUnixMilli() + 60_000}, f.portalKey)
	require.NoError(t, err)
	_, err = f.srv.Enroll(context.Background(), &api.EnrollRequest{
		AgentID:           "a1",
		PublicKey:         otherPub,
		RegistrationToken: token,
	})
	require.NotNil(t, err)
	assert.ErrorContains(t, "public key change", err)
}

func TestHeartbeat_UnknownAndSuspended(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.srv.Heartbeat(ctx, "ghost", nil)
	assert.Equal(t, api.CodeAgentNotRegistered, api.CodeOf(err))

	f.enroll(t, "a1", true)
	require.NoError(t, f.srv.Suspend(ctx, "a1"))
	_, err = f.srv.Heartbeat(ctx, "a1", nil)
	assert.Equal(t, api.CodeAgentSuspended, api.CodeOf(err))

	require.NoError(t, f.srv.Approve(ctx, "a1"))
	_, err = f.srv.Heartbeat(ctx, "a1", &api.PowerTelemetry{DeviceClass: api.DeviceDesktop})
	require.NoError(t, err)
}

func TestHeartbeat_BlacklistedAgentRefused(t *testing.T) {
	f := setup(t)
	f.enroll(t, "a1", true)
	f.deny["a1"] = true
	_, err := f.srv.Heartbeat(context.Background(), "a1", nil)
	require.NotNil(t, err)
	assert.Equal(t, api.CodeAgentSuspended, api.CodeOf(err))
}

func TestList_FiltersAndHealth(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.enroll(t, "a1", true)
	f.enroll(t, "a2", true)
	require.NoError(t, f.srv.SetMode(ctx, "a2", api.ModePaused))

	all, err := f.srv.List(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 2, len(all))
	assert.Equal(t, "a1", all[0].ID)
	assert.Equal(t, api.HealthHealthy, all[0].Health)

	paused, err := f.srv.List(ctx, &registry.ListFilter{Mode: api.ModePaused})
	require.NoError(t, err)
	require.Equal(t, 1, len(paused))
	assert.Equal(t, "a2", paused[0].ID)
}

func TestReject_PurgesAgent(t *testing.T) {
	f := setup(t)
	f.enroll(t, "a1", true)
	require.NoError(t, f.srv.Reject(context.Background(), "a1"))
	_, err := f.srv.Heartbeat(context.Background(), "a1", nil)
	assert.Equal(t, api.CodeAgentNotRegistered, api.CodeOf(err))
}

func TestPublicKeyOf_ResolvesEnrolledKey(t *testing.T) {
	f := setup(t)
	priv := f.enroll(t, "a1", true)
	pub, err := f.srv.PublicKeyOf("a1")
	require.NoError(t, err)
	assert.Equal(t, true, ed25519.PublicKey(priv.Public().(ed25519.PublicKey)).Equal(pub))
}
