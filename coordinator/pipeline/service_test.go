package pipeline_test

import (
	"context"
	"crypto/ed25519"
	"strings"
	"testing"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/db"
	dbtest "github.com/enclavecode/swarm/coordinator/db/testing"
	"github.com/enclavecode/swarm/coordinator/inference"
	"github.com/enclavecode/swarm/coordinator/pipeline"
	"github.com/enclavecode/swarm/shared/testutil/assert"
	"github.com/enclavecode/swarm/shared/testutil/require"
	"github.com/enclavecode/swarm/shared/timeutils"
)

type fakeRegistry struct {
	assigned map[string]int64
	outcomes map[string][]bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{assigned: make(map[string]int64), outcomes: make(map[string][]bool)}
}

func (r *fakeRegistry) MarkAssigned(_ context.Context, agentID string, atMs int64) error {
	r.assigned[agentID] = atMs
	return nil
}

func (r *fakeRegistry) ReportOutcome(_ context.Context, agentID string, success bool) {
	r.outcomes[agentID] = append(r.outcomes[agentID], success)
}

type fakeBlacklist struct {
	denied map[string]bool
}

func (b *fakeBlacklist) IsBlacklisted(_ context.Context, agentID string) (bool, error) {
	return b.denied[agentID], nil
}

type fixture struct {
	srv       *pipeline.Service
	database  db.Database
	registry  *fakeRegistry
	blacklist *fakeBlacklist
	mock      *inference.MockClient
	pub       ed25519.PublicKey
}

func setup(t *testing.T) *fixture {
	t.Helper()
	database := dbtest.SetupDB(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	reg := newFakeRegistry()
	bl := &fakeBlacklist{denied: make(map[string]bool)}
	mock := &inference.MockClient{}
	srv, err := pipeline.NewService(context.Background(), &pipeline.Config{
		Database:      database,
		Registry:      reg,
		Blacklist:     bl,
		Inference:     mock,
		SigningKey:    priv,
		CoordinatorID: "coord-test",
	})
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(func() { require.NoError(t, srv.Stop()) })
	return &fixture{srv: srv, database: database, registry: reg, blacklist: bl, mock: mock, pub: pub}
}

func (f *fixture) addAgent(t *testing.T, id string) {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	require.NoError(t, f.database.SaveAgent(context.Background(), &api.Agent{
		ID:         id,
		PublicKey:  pub,
		OS:         api.OSLinux,
		Role:       api.RoleSwarmOnly,
		MaxSlots:   2,
		Mode:       api.ModeAuto,
		Approval:   api.ApprovalApproved,
		LastSeenMs: timeutils.NowUnixMilli(),
	}))
}

func submitReq(prompt string) *api.SubmitRequest {
	return &api.SubmitRequest{
		Prompt:      prompt,
		Language:    "python",
		SnapshotRef: strings.Repeat("ab", 20),
	}
}

func TestSubmit_RejectsBadSnapshotRef(t *testing.T) {
	f := setup(t)
	_, err := f.srv.Submit(context.Background(), &api.SubmitRequest{
		Prompt:      "do something",
		SnapshotRef: "debug",
	})
	assert.Equal(t, api.CodeBadSnapshotRef, api.CodeOf(err))

	// An https snapshot URL is fine.
	_, err = f.srv.Submit(context.Background(), &api.SubmitRequest{
		Prompt:      "do something",
		SnapshotRef: "https://snapshots.example.com/repo.tar.gz",
	})
	require.NoError(t, err)
}

func TestSubmit_RejectsCyclicDecomposition(t *testing.T) {
	f := setup(t)
	f.mock.DecomposeFn = func(_ context.Context, _ *api.Task) ([]inference.SubtaskSpec, error) {
		return []inference.SubtaskSpec{
			{ID: "a", Input: "one", DependsOn: []string{"b"}},
			{ID: "b", Input: "two", DependsOn: []string{"a"}},
		}, nil
	}
	_, err := f.srv.Submit(context.Background(), submitReq("cyclic work"))
	assert.Equal(t, api.CodeInvalidSubtaskGraph, api.CodeOf(err))

	// Nothing was enqueued.
	queued, running := f.srv.Counts()
	assert.Equal(t, 0, queued)
	assert.Equal(t, 0, running)
}

func TestSubmit_IdempotentByFingerprint(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.srv.Submit(ctx, submitReq("same prompt"))
	require.NoError(t, err)
	second, err := f.srv.Submit(ctx, submitReq("same prompt"))
	require.NoError(t, err)
	assert.Equal(t, first.TaskID, second.TaskID)
	assert.Equal(t, 1, f.mock.Calls())
}

func TestPullAckResult_DependencyRelease(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.addAgent(t, "w1")
	f.mock.DecomposeFn = func(_ context.Context, _ *api.Task) ([]inference.SubtaskSpec, error) {
		return []inference.SubtaskSpec{
			{ID: "a", Input: "analyse struct Foo"},
			{ID: "b", Input: "update call sites", DependsOn: []string{"a"}},
		}, nil
	}
	resp, err := f.srv.Submit(ctx, submitReq("add field X to struct Foo and update call sites"))
	require.NoError(t, err)

	// Only A is pullable; B waits on it.
	pull, err := f.srv.Pull(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, pull.Offer)
	offerA := pull.Offer
	assert.Equal(t, resp.TaskID+":a", offerA.Subtask.ID)
	assert.Equal(t, true, pipeline.VerifyOfferSignature(offerA, "w1", f.pub))

	empty, err := f.srv.Pull(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, (*api.SubtaskOffer)(nil), empty.Offer)

	require.NoError(t, f.srv.Ack(ctx, &api.PullAckRequest{AgentID: "w1", OfferID: offerA.OfferID, Accept: true}))
	_, err = f.srv.Result(ctx, &api.ResultRequest{
		SubtaskID: offerA.Subtask.ID,
		AgentID:   "w1",
		OK:        true,
		Output:    "field added",
	})
	require.NoError(t, err)

	// B is released with the dependency context prepended.
	pull, err = f.srv.Pull(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, pull.Offer)
	assert.Equal(t, resp.TaskID+":b", pull.Offer.Subtask.ID)
	wantPrefix := "[Context from previous subtasks]\nSubtask 1 result: field added\n\n[Your task]\nupdate call sites"
	assert.Equal(t, wantPrefix, pull.Offer.Subtask.Input)

	require.NoError(t, f.srv.Ack(ctx, &api.PullAckRequest{AgentID: "w1", OfferID: pull.Offer.OfferID, Accept: true}))
	_, err = f.srv.Result(ctx, &api.ResultRequest{
		SubtaskID: pull.Offer.Subtask.ID,
		AgentID:   "w1",
		OK:        true,
		Output:    "call sites updated",
	})
	require.NoError(t, err)

	task, _, err := f.srv.Task(ctx, resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, api.TaskSucceeded, task.Status)
	assert.DeepEqual(t, []bool{true, true}, f.registry.outcomes["w1"])
}

func TestPull_BlacklistedAgentRejected(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.addAgent(t, "a1")
	f.blacklist.denied["a1"] = true

	_, err := f.srv.Pull(ctx, "a1")
	assert.Equal(t, api.CodeAgentSuspended, api.CodeOf(err))
}

func TestAck_DeclineRequeues(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.addAgent(t, "w1")

	_, err := f.srv.Submit(ctx, submitReq("simple job"))
	require.NoError(t, err)

	pull, err := f.srv.Pull(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, pull.Offer)

	require.NoError(t, f.srv.Ack(ctx, &api.PullAckRequest{AgentID: "w1", OfferID: pull.Offer.OfferID, Accept: false}))

	// Declined work is immediately pullable again.
	pull2, err := f.srv.Pull(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, pull2.Offer)
	assert.Equal(t, pull.Offer.Subtask.ID, pull2.Offer.Subtask.ID)
}

func TestCancel_MarksPendingAndReady(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.mock.DecomposeFn = func(_ context.Context, _ *api.Task) ([]inference.SubtaskSpec, error) {
		return []inference.SubtaskSpec{
			{ID: "a", Input: "one"},
			{ID: "b", Input: "two", DependsOn: []string{"a"}},
		}, nil
	}
	resp, err := f.srv.Submit(ctx, submitReq("cancel me"))
	require.NoError(t, err)

	require.NoError(t, f.srv.Cancel(ctx, resp.TaskID))

	task, subtasks, err := f.srv.Task(ctx, resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, api.TaskCancelled, task.Status)
	for _, subtask := range subtasks {
		assert.Equal(t, api.SubtaskCancelled, subtask.Status)
	}

	// Cancelling twice is a state conflict.
	err = f.srv.Cancel(ctx, resp.TaskID)
	assert.Equal(t, api.CodeAlreadyCancelled, api.CodeOf(err))
}

func TestResult_FailureRetriesThenFailsTask(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.addAgent(t, "w1")

	resp, err := f.srv.Submit(ctx, submitReq("flaky job"))
	require.NoError(t, err)

	for attempt := 0; attempt < 3; attempt++ {
		pull, err := f.srv.Pull(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, pull.Offer, "attempt %d should be pullable", attempt)
		require.NoError(t, f.srv.Ack(ctx, &api.PullAckRequest{AgentID: "w1", OfferID: pull.Offer.OfferID, Accept: true}))
		_, err = f.srv.Result(ctx, &api.ResultRequest{
			SubtaskID: pull.Offer.Subtask.ID,
			AgentID:   "w1",
			OK:        false,
			Error:     "worker crashed",
		})
		require.NoError(t, err)
	}

	task, _, err := f.srv.Task(ctx, resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, api.TaskFailed, task.Status)

	pull, err := f.srv.Pull(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, (*api.SubtaskOffer)(nil), pull.Offer)
}

func TestCancel_WhileOffered_OfferWithdrawn(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.addAgent(t, "w1")

	resp, err := f.srv.Submit(ctx, submitReq("tidy the imports"))
	require.NoError(t, err)
	pull, err := f.srv.Pull(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, pull.Offer)

	require.NoError(t, f.srv.Cancel(ctx, resp.TaskID))

	// The outstanding offer died with the task: accepting it now is an
	// unknown offer, and nothing returns to the ready queue.
	err = f.srv.Ack(ctx, &api.PullAckRequest{AgentID: "w1", OfferID: pull.Offer.OfferID, Accept: true})
	assert.Equal(t, api.CodeTaskNotFound, api.CodeOf(err))

	queued, running := f.srv.Counts()
	assert.Equal(t, 0, queued)
	assert.Equal(t, 0, running)

	subtask, err := f.database.Subtask(ctx, pull.Offer.Subtask.ID)
	require.NoError(t, err)
	assert.Equal(t, api.SubtaskCancelled, subtask.Status)

	// The slot freed by the withdrawn offer is usable again.
	next, err := f.srv.Submit(ctx, submitReq("a fresh task"))
	require.NoError(t, err)
	pull, err = f.srv.Pull(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, pull.Offer)
	assert.Equal(t, next.TaskID, pull.Offer.Subtask.TaskID)
}
