package rpc_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/auth"
	"github.com/enclavecode/swarm/coordinator/blacklist"
	dbtest "github.com/enclavecode/swarm/coordinator/db/testing"
	"github.com/enclavecode/swarm/coordinator/economy"
	"github.com/enclavecode/swarm/coordinator/inference"
	"github.com/enclavecode/swarm/coordinator/ledger"
	"github.com/enclavecode/swarm/coordinator/mesh"
	"github.com/enclavecode/swarm/coordinator/pipeline"
	"github.com/enclavecode/swarm/coordinator/registry"
	"github.com/enclavecode/swarm/coordinator/rpc"
	"github.com/enclavecode/swarm/shared/testutil/assert"
	"github.com/enclavecode/swarm/shared/testutil/require"
	"github.com/enclavecode/swarm/shared/timeutils"
)

const (
	meshToken   = "test-mesh-token"
	portalToken = "test-portal-token"
)

type fixture struct {
	srv       *rpc.Service
	registry  *registry.Service
	portalKey ed25519.PrivateKey
}

// lazyKeys breaks the blacklist/registry construction cycle: the blacklist
// needs reporter keys from the registry, which needs the blacklist for
// admission checks.
type lazyKeys struct {
	resolver auth.KeyResolver
}

func (l *lazyKeys) PublicKeyOf(id string) (ed25519.PublicKey, error) {
	if l.resolver == nil {
		return nil, errors.New("no key resolver bound")
	}
	return l.resolver.PublicKeyOf(id)
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	database := dbtest.SetupDB(t)

	portalPub, portalKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, coordKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	led, err := ledger.NewService(ctx, &ledger.Config{
		Database:      database,
		CoordinatorID: "coord-test",
		SigningKey:    coordKey,
	})
	require.NoError(t, err)
	led.Start()
	t.Cleanup(func() { require.NoError(t, led.Stop()) })

	keys := &lazyKeys{}
	bl, err := blacklist.NewService(ctx, &blacklist.Config{
		Database:      database,
		Ledger:        led,
		Keys:          keys,
		CoordinatorID: "coord-test",
	})
	require.NoError(t, err)

	reg, err := registry.NewService(ctx, &registry.Config{
		Database:  database,
		Blacklist: bl,
		PortalKey: portalPub,
	})
	require.NoError(t, err)
	keys.resolver = reg

	eco, err := economy.NewService(ctx, &economy.Config{
		Database:      database,
		Ledger:        led,
		Lightning:     economy.NewMockLightning(),
		CoordinatorID: "coord-test",
	})
	require.NoError(t, err)

	msh, err := mesh.NewService(ctx, &mesh.Config{
		Database:      database,
		Blacklist:     bl,
		Ledger:        led,
		CoordinatorID: "coord-test",
		PublicKey:     coordKey.Public().(ed25519.PublicKey),
		SelfURL:       "https://coord-test.example.com",
		DataDir:       t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, msh.Stop()) })

	pipe, err := pipeline.NewService(ctx, &pipeline.Config{
		Database:      database,
		Registry:      reg,
		Blacklist:     bl,
		Ledger:        led,
		Inference:     &inference.MockClient{},
		Economy:       eco,
		SigningKey:    coordKey,
		CoordinatorID: "coord-test",
	})
	require.NoError(t, err)

	gate, err := auth.NewTokenGate(meshToken, portalToken, nil)
	require.NoError(t, err)
	verifier := auth.NewVerifier(reg, auth.NewNonceStore(), nil, nil)

	srv, err := rpc.NewService(ctx, &rpc.Config{
		Address:   "127.0.0.1:0",
		TokenGate: gate,
		Verifier:  verifier,
		Database:  database,
		Registry:  reg,
		Pipeline:  pipe,
		Blacklist: bl,
		Ledger:    led,
		Economy:   eco,
		Mesh:      msh,
	})
	require.NoError(t, err)
	return &fixture{srv: srv, registry: reg, portalKey: portalKey}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)
	return rec
}

// meshReq builds a token-gated but unsigned request.
func meshReq(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(auth.HeaderMeshToken, meshToken)
	return req
}

// signedReq builds a fully signed request from an agent key.
func signedReq(t *testing.T, method, path string, body interface{}, agentID string, key ed25519.PrivateKey) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	signed := auth.Sign(method, path, raw, agentID, uuid.NewString(), timeutils.NowUnixMilli(), key)
	return applySignature(t, signed, raw)
}

func applySignature(t *testing.T, signed *auth.SignedRequest, raw []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(signed.Method, signed.Path, bytes.NewReader(raw))
	req.Header.Set(auth.HeaderMeshToken, meshToken)
	req.Header.Set(auth.HeaderAgentID, signed.SourceID)
	req.Header.Set(auth.HeaderTimestampMs, strconv.FormatInt(signed.TimestampMs, 10))
	req.Header.Set(auth.HeaderNonce, signed.Nonce)
	req.Header.Set(auth.HeaderSignature, signed.Signature)
	if signed.BodyHash != "" {
		req.Header.Set(auth.HeaderBodySha256, signed.BodyHash)
	}
	return req
}

// enrollAgent registers a pre-approved agent and returns its signing key.
func enrollAgent(t *testing.T, f *fixture, agentID string) ed25519.PrivateKey {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	token, err := registry.IssueRegistrationToken(&registry.RegistrationClaims{
		PreApproved: true,
		ExpiresAtMs: timeutils.NowUnixMilli() + 60_000,
	}, f.portalKey)
	require.NoError(t, err)
	rec := f.do(t, meshReq(t, http.MethodPost, "/enroll", &api.EnrollRequest{
		AgentID:           agentID,
		PublicKey:         pub,
		OS:                api.OSLinux,
		Role:              api.RoleSwarmOnly,
		MaxSlots:          2,
		Languages:         []string{"go"},
		RegistrationToken: token,
	}))
	require.Equal(t, http.StatusOK, rec.Code, "enroll failed: %s", rec.Body.String())
	return priv
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := &api.Error{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), body))
	return body.Code
}

func TestStatus_RequiresMeshToken(t *testing.T) {
	f := setup(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, api.CodeMeshTokenRequired, errorCode(t, rec))

	rec = f.do(t, meshReq(t, http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	status := &api.StatusResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), status))
	assert.Equal(t, 0, status.Queued)
	assert.NotEqual(t, "", status.HeadHash)
}

func TestHeartbeat_SignedOnceThenReplayRejected(t *testing.T) {
	f := setup(t)
	key := enrollAgent(t, f, "agent-1")

	body := &api.HeartbeatRequest{AgentID: "agent-1"}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	signed := auth.Sign(http.MethodPost, "/heartbeat", raw, "agent-1", uuid.NewString(), timeutils.NowUnixMilli(), key)

	rec := f.do(t, applySignature(t, signed, raw))
	require.Equal(t, http.StatusOK, rec.Code, "heartbeat failed: %s", rec.Body.String())
	resp := &api.HeartbeatResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), resp))
	require.NotNil(t, resp.Policy)
	assert.Equal(t, true, resp.Policy.AllowCoordinatorTasks)

	// Same nonce, same signature: the replay is turned away.
	rec = f.do(t, applySignature(t, signed, raw))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, api.CodeReplay, errorCode(t, rec))
}

func TestHeartbeat_TamperedBodyRejected(t *testing.T) {
	f := setup(t)
	key := enrollAgent(t, f, "agent-1")

	raw, err := json.Marshal(&api.HeartbeatRequest{AgentID: "agent-1"})
	require.NoError(t, err)
	signed := auth.Sign(http.MethodPost, "/heartbeat", raw, "agent-1", uuid.NewString(), timeutils.NowUnixMilli(), key)

	tampered, err := json.Marshal(&api.HeartbeatRequest{AgentID: "agent-2"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/heartbeat", bytes.NewReader(tampered))
	req.Header.Set(auth.HeaderMeshToken, meshToken)
	req.Header.Set(auth.HeaderAgentID, "agent-1")
	req.Header.Set(auth.HeaderTimestampMs, strconv.FormatInt(signed.TimestampMs, 10))
	req.Header.Set(auth.HeaderNonce, signed.Nonce)
	req.Header.Set(auth.HeaderSignature, signed.Signature)

	rec := f.do(t, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, api.CodeBadSignature, errorCode(t, rec))
}

func TestPull_BlacklistedAgentGets403(t *testing.T) {
	f := setup(t)
	agentKey := enrollAgent(t, f, "a1")
	reporterKey := enrollAgent(t, f, "reporter-1")

	evidence := strings.Repeat("a", 64)
	rec := f.do(t, meshReq(t, http.MethodPost, "/security/blacklist", &api.BlacklistSubmitRequest{
		AgentID:            "a1",
		ReasonCode:         api.ReasonAbuseSpam,
		EvidenceHashSha256: evidence,
		ReporterID:         "reporter-1",
		Signature:          blacklist.SignReport("a1", api.ReasonAbuseSpam, evidence, reporterKey),
	}))
	require.Equal(t, http.StatusOK, rec.Code, "blacklist submit failed: %s", rec.Body.String())

	rec = f.do(t, signedReq(t, http.MethodPost, "/pull", &api.PullRequest{AgentID: "a1"}, "a1", agentKey))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, api.CodeAgentSuspended, errorCode(t, rec))
}

func TestSubmitPullAckResult_EndToEnd(t *testing.T) {
	f := setup(t)
	key := enrollAgent(t, f, "worker-1")

	rec := f.do(t, meshReq(t, http.MethodPost, "/submit", &api.SubmitRequest{
		Prompt:      "write a parser",
		Language:    "go",
		SnapshotRef: strings.Repeat("ab", 20),
	}))
	require.Equal(t, http.StatusOK, rec.Code, "submit failed: %s", rec.Body.String())
	submitted := &api.SubmitResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), submitted))
	require.NotEqual(t, "", submitted.TaskID)

	rec = f.do(t, signedReq(t, http.MethodPost, "/pull", &api.PullRequest{AgentID: "worker-1"}, "worker-1", key))
	require.Equal(t, http.StatusOK, rec.Code, "pull failed: %s", rec.Body.String())
	pulled := &api.PullResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), pulled))
	require.NotNil(t, pulled.Offer)

	rec = f.do(t, signedReq(t, http.MethodPost, "/pull/ack", &api.PullAckRequest{
		AgentID: "worker-1",
		OfferID: pulled.Offer.OfferID,
		Accept:  true,
	}, "worker-1", key))
	require.Equal(t, http.StatusOK, rec.Code, "ack failed: %s", rec.Body.String())

	rec = f.do(t, signedReq(t, http.MethodPost, "/progress", &api.ProgressRequest{
		AgentID:   "worker-1",
		SubtaskID: pulled.Offer.Subtask.ID,
	}, "worker-1", key))
	require.Equal(t, http.StatusOK, rec.Code)
	progress := &api.ProgressResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), progress))
	assert.Equal(t, false, progress.Cancelled)

	rec = f.do(t, signedReq(t, http.MethodPost, "/result", &api.ResultRequest{
		SubtaskID: pulled.Offer.Subtask.ID,
		AgentID:   "worker-1",
		OK:        true,
		Output:    "done",
	}, "worker-1", key))
	require.Equal(t, http.StatusOK, rec.Code, "result failed: %s", rec.Body.String())

	rec = f.do(t, meshReq(t, http.MethodGet, "/tasks/"+submitted.TaskID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	detail := &api.TaskResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), detail))
	assert.Equal(t, api.TaskSucceeded, detail.Task.Status)
}

func TestCancel_StatusMapping(t *testing.T) {
	f := setup(t)

	rec := f.do(t, meshReq(t, http.MethodPost, "/tasks/nope/cancel", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, api.CodeTaskNotFound, errorCode(t, rec))

	rec = f.do(t, meshReq(t, http.MethodPost, "/submit", &api.SubmitRequest{
		Prompt:      "refactor",
		Language:    "go",
		SnapshotRef: strings.Repeat("ab", 20),
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	submitted := &api.SubmitResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), submitted))

	rec = f.do(t, meshReq(t, http.MethodPost, "/tasks/"+submitted.TaskID+"/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, meshReq(t, http.MethodPost, "/tasks/"+submitted.TaskID+"/cancel", nil))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, api.CodeAlreadyCancelled, errorCode(t, rec))
}

func TestSubmit_BadSnapshotRefIs400(t *testing.T) {
	f := setup(t)

	rec := f.do(t, meshReq(t, http.MethodPost, "/submit", &api.SubmitRequest{
		Prompt:      "anything",
		Language:    "go",
		SnapshotRef: "debug",
	}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, api.CodeBadSnapshotRef, errorCode(t, rec))
}

func TestAdmin_PortalTokenOrAllowlist(t *testing.T) {
	f := setup(t)
	enrollAgent(t, f, "agent-1")

	// httptest requests come from a non-loopback test address.
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/admin/agents", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/agents", nil)
	req.Header.Set(auth.HeaderPortalToken, portalToken)
	rec = f.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := &api.AgentListResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), listed))
	require.Equal(t, 1, len(listed.Agents))
	assert.Equal(t, "agent-1", listed.Agents[0].ID)
}

func TestBlacklistDelta_SinceFilter(t *testing.T) {
	f := setup(t)
	reporterKey := enrollAgent(t, f, "reporter-1")

	evidence := strings.Repeat("b", 64)
	rec := f.do(t, meshReq(t, http.MethodPost, "/security/blacklist", &api.BlacklistSubmitRequest{
		AgentID:            "rogue-1",
		ReasonCode:         api.ReasonInvalidResult,
		EvidenceHashSha256: evidence,
		ReporterID:         "reporter-1",
		Signature:          blacklist.SignReport("rogue-1", api.ReasonInvalidResult, evidence, reporterKey),
	}))
	require.Equal(t, http.StatusOK, rec.Code, "blacklist submit failed: %s", rec.Body.String())
	accepted := &api.BlacklistSubmitResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), accepted))

	rec = f.do(t, meshReq(t, http.MethodGet, "/security/blacklist?since=0", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	delta := &api.BlacklistDeltaResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), delta))
	require.Equal(t, 1, len(delta.Records))
	assert.Equal(t, "rogue-1", delta.Records[0].AgentID)

	rec = f.do(t, meshReq(t, http.MethodGet, "/security/blacklist?since="+
		strconv.FormatUint(accepted.Version, 10), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	delta = &api.BlacklistDeltaResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), delta))
	assert.Equal(t, 0, len(delta.Records))
}

func TestHeartbeat_BodyNamingAnotherAgentRejected(t *testing.T) {
	f := setup(t)
	keyA := enrollAgent(t, f, "agent-a")
	enrollAgent(t, f, "agent-b")

	// agent-a signs a heartbeat whose body claims to be agent-b, carrying
	// server-class telemetry that would upgrade b's power policy.
	rec := f.do(t, signedReq(t, http.MethodPost, "/heartbeat", &api.HeartbeatRequest{
		AgentID: "agent-b",
		Telemetry: &api.PowerTelemetry{
			DeviceClass:     "server",
			OnExternalPower: true,
			ReportedAtMs:    timeutils.NowUnixMilli(),
		},
	}, "agent-a", keyA))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, api.CodeAgentMismatch, errorCode(t, rec))

	// agent-b's record was not touched.
	req := httptest.NewRequest(http.MethodGet, "/admin/agents", nil)
	req.Header.Set(auth.HeaderPortalToken, portalToken)
	rec = f.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := &api.AgentListResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), listed))
	for _, agent := range listed.Agents {
		if agent.ID == "agent-b" {
			assert.Equal(t, float64(0), agent.Score)
		}
	}
}

func TestResult_BodyNamingAnotherAgentRejected(t *testing.T) {
	f := setup(t)
	keyA := enrollAgent(t, f, "agent-a")
	enrollAgent(t, f, "agent-b")

	rec := f.do(t, signedReq(t, http.MethodPost, "/result", &api.ResultRequest{
		SubtaskID: "task-1:a",
		AgentID:   "agent-b",
		OK:        true,
		Output:    "not mine to report",
	}, "agent-a", keyA))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, api.CodeAgentMismatch, errorCode(t, rec))
}

func TestPull_PendingApprovalGets403(t *testing.T) {
	f := setup(t)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	token, err := registry.IssueRegistrationToken(&registry.RegistrationClaims{
		PreApproved: false,
		ExpiresAtMs: timeutils.NowUnixMilli() + 60_000,
	}, f.portalKey)
	require.NoError(t, err)
	rec := f.do(t, meshReq(t, http.MethodPost, "/enroll", &api.EnrollRequest{
		AgentID:           "agent-pending",
		PublicKey:         pub,
		OS:                api.OSLinux,
		Role:              api.RoleSwarmOnly,
		MaxSlots:          2,
		Languages:         []string{"go"},
		RegistrationToken: token,
	}))
	require.Equal(t, http.StatusOK, rec.Code, "enroll failed: %s", rec.Body.String())

	// Known but unapproved is a 403, distinct from the 404 of an agent
	// nobody has heard of.
	rec = f.do(t, signedReq(t, http.MethodPost, "/pull",
		&api.PullRequest{AgentID: "agent-pending"}, "agent-pending", priv))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, api.CodeAgentUnapproved, errorCode(t, rec))
}
