package economy_test

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/pkg/errors"

	"github.com/enclavecode/swarm/coordinator/api"
	dbtest "github.com/enclavecode/swarm/coordinator/db/testing"
	"github.com/enclavecode/swarm/coordinator/economy"
	"github.com/enclavecode/swarm/coordinator/ledger"
	"github.com/enclavecode/swarm/shared/testutil/assert"
	"github.com/enclavecode/swarm/shared/testutil/require"
)

type fixture struct {
	srv       *economy.Service
	lightning *economy.MockLightning
}

func setup(t *testing.T) *fixture {
	t.Helper()
	database := dbtest.SetupDB(t)
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	led, err := ledger.NewService(context.Background(), &ledger.Config{
		Database:      database,
		CoordinatorID: "coord-test",
		SigningKey:    priv,
	})
	require.NoError(t, err)
	led.Start()
	t.Cleanup(func() { require.NoError(t, led.Stop()) })

	lightning := economy.NewMockLightning()
	srv, err := economy.NewService(context.Background(), &economy.Config{
		Database:      database,
		Ledger:        led,
		Lightning:     lightning,
		CoordinatorID: "coord-test",
	})
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(func() { require.NoError(t, srv.Stop()) })
	return &fixture{srv: srv, lightning: lightning}
}

func TestBalanceOf_FoldsLedger(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.srv.EnsureAccount(ctx, "acct-1", "user-1")
	require.NoError(t, err)

	require.NoError(t, f.srv.Earn(ctx, "acct-1", 500, false, "task-1"))
	require.NoError(t, f.srv.Earn(ctx, "acct-1", 300, false, "task-2"))
	require.NoError(t, f.srv.Spend(ctx, "acct-1", 200, "purchase", ""))

	balances, err := f.srv.BalanceOf(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(600), balances.AvailableSats)
	assert.Equal(t, int64(0), balances.HeldSats)

	// Another account's entries never leak into the fold.
	_, err = f.srv.EnsureAccount(ctx, "acct-2", "user-2")
	require.NoError(t, err)
	require.NoError(t, f.srv.Earn(ctx, "acct-2", 9999, false, "task-3"))
	balances, err = f.srv.BalanceOf(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(600), balances.AvailableSats)
}

func TestEarnHeld_ReleasedOnWalletLink(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.srv.EnsureAccount(ctx, "acct-1", "user-1")
	require.NoError(t, err)
	require.NoError(t, f.srv.Earn(ctx, "acct-1", 400, true, "task-1"))

	balances, err := f.srv.BalanceOf(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balances.AvailableSats)
	assert.Equal(t, int64(400), balances.HeldSats)

	require.NoError(t, f.srv.LinkWallet(ctx, "acct-1", "lnwallet-abc"))
	balances, err = f.srv.BalanceOf(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(400), balances.AvailableSats)
	assert.Equal(t, int64(0), balances.HeldSats)
}

func TestIntentLifecycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.srv.EnsureAccount(ctx, "acct-1", "user-1")
	require.NoError(t, err)
	require.NoError(t, f.srv.Earn(ctx, "acct-1", 10000, false, "task-1"))

	// Wallet-less accounts cannot open intents.
	_, err = f.srv.CreateIntent(ctx, &api.IntentCreateRequest{AccountID: "acct-1", AmountSats: 1000, FeeBps: 150})
	assert.Equal(t, api.CodeWalletRequiredForIdeEnabled, api.CodeOf(err))

	require.NoError(t, f.srv.LinkWallet(ctx, "acct-1", "lnwallet-abc"))

	// Cannot spend more than the available balance.
	_, err = f.srv.CreateIntent(ctx, &api.IntentCreateRequest{AccountID: "acct-1", AmountSats: 20000, FeeBps: 150})
	assert.Equal(t, api.CodeValidationFailed, api.CodeOf(err))

	intent, err := f.srv.CreateIntent(ctx, &api.IntentCreateRequest{AccountID: "acct-1", AmountSats: 10000, FeeBps: 150})
	require.NoError(t, err)
	assert.Equal(t, api.IntentCreated, intent.Status)
	assert.Equal(t, int64(150), intent.FeeSats)
	assert.Equal(t, int64(9850), intent.NetSats)
	require.Equal(t, true, intent.InvoiceRef != "")

	// Confirming before the invoice settles is rejected.
	_, err = f.srv.ConfirmIntent(ctx, intent.ID, intent.InvoiceRef)
	assert.Equal(t, api.CodeValidationFailed, api.CodeOf(err))

	f.lightning.Settle(intent.InvoiceRef)
	confirmed, err := f.srv.ConfirmIntent(ctx, intent.ID, intent.InvoiceRef)
	require.NoError(t, err)
	assert.Equal(t, api.IntentConfirmed, confirmed.Status)

	balances, err := f.srv.BalanceOf(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balances.AvailableSats)

	// A second confirm is a state conflict, not a double spend.
	_, err = f.srv.ConfirmIntent(ctx, intent.ID, intent.InvoiceRef)
	assert.Equal(t, api.CodeAlreadyCancelled, api.CodeOf(err))
}

func TestReconcileIntents(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.srv.EnsureAccount(ctx, "acct-1", "user-1")
	require.NoError(t, err)
	require.NoError(t, f.srv.Earn(ctx, "acct-1", 5000, false, "task-1"))
	require.NoError(t, f.srv.LinkWallet(ctx, "acct-1", "lnwallet-abc"))

	intent, err := f.srv.CreateIntent(ctx, &api.IntentCreateRequest{AccountID: "acct-1", AmountSats: 2000, FeeBps: 100})
	require.NoError(t, err)

	// Unsettled intents are left alone.
	resp, err := f.srv.ReconcileIntents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Reconciled)
	assert.Equal(t, 0, resp.Failed)

	f.lightning.Settle(intent.InvoiceRef)
	resp, err = f.srv.ReconcileIntents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Reconciled)

	got, err := f.srv.Intent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, api.IntentReconciled, got.Status)
}

func TestTreasuryPolicy_QuorumAndTransitions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.srv.CreateTreasuryPolicy(ctx, &api.TreasuryPolicyRequest{
		Descriptor: "wsh(multi(2,...))", QuorumThreshold: 3, TotalCustodians: 2,
	})
	assert.Equal(t, api.CodeValidationFailed, api.CodeOf(err))

	policy, err := f.srv.CreateTreasuryPolicy(ctx, &api.TreasuryPolicyRequest{
		Descriptor: "wsh(multi(2,...))", QuorumThreshold: 2, TotalCustodians: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, api.TreasuryDraft, policy.State)

	// Below quorum, activation is refused.
	_, err = f.srv.ActivateTreasuryPolicy(ctx, policy.ID, []string{"sig-a"})
	assert.Equal(t, api.CodeValidationFailed, api.CodeOf(err))

	active, err := f.srv.ActivateTreasuryPolicy(ctx, policy.ID, []string{"sig-a", "sig-b"})
	require.NoError(t, err)
	assert.Equal(t, api.TreasuryActive, active.State)

	// Activating twice is a state conflict.
	_, err = f.srv.ActivateTreasuryPolicy(ctx, policy.ID, []string{"sig-a", "sig-b"})
	assert.Equal(t, api.CodeAlreadyCancelled, api.CodeOf(err))

	retired, err := f.srv.RetireTreasuryPolicy(ctx, policy.ID, []string{"sig-a", "sig-c"})
	require.NoError(t, err)
	assert.Equal(t, api.TreasuryRetired, retired.State)
}

func TestRollout_PromoteAndRollback(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rollout, err := f.srv.CreateRollout(ctx, "model-v2", []int{10, 50, 100})
	require.NoError(t, err)
	assert.Equal(t, api.RolloutActive, rollout.State)
	assert.Equal(t, 0, rollout.Stage)

	rollout, err = f.srv.PromoteRollout(ctx, rollout.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rollout.Stage)
	assert.Equal(t, api.RolloutActive, rollout.State)

	rollout, err = f.srv.PromoteRollout(ctx, rollout.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rollout.Stage)
	assert.Equal(t, api.RolloutComplete, rollout.State)

	_, err = f.srv.PromoteRollout(ctx, rollout.ID)
	assert.Equal(t, api.CodeAlreadyFullyRolledOut, api.CodeOf(err))
}

func TestRollout_CannotPromoteRolledBack(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rollout, err := f.srv.CreateRollout(ctx, "model-v3", []int{25, 100})
	require.NoError(t, err)

	rollout, err = f.srv.RollbackRollout(ctx, rollout.ID)
	require.NoError(t, err)
	assert.Equal(t, api.RolloutRolledBack, rollout.State)

	_, err = f.srv.PromoteRollout(ctx, rollout.ID)
	assert.Equal(t, api.CodeCannotPromoteRolledBack, api.CodeOf(err))
}

func TestPriceConsensus_WeightedMedianOverProposals(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.srv.ProposePrice(ctx, &api.PriceProposal{CoordinatorID: "coord-a", ValueMilliSats: 1000, Weight: 1}))
	require.NoError(t, f.srv.ProposePrice(ctx, &api.PriceProposal{CoordinatorID: "coord-b", ValueMilliSats: 2000, Weight: 1}))

	resp := f.srv.RunPriceConsensus(ctx)
	assert.Equal(t, 2, resp.Participants)
	assert.Equal(t, uint64(1000), resp.PriceMilliSats)

	current := f.srv.CurrentPrice()
	assert.Equal(t, uint64(1000), current.PriceMilliSats)
}

// flakyLightning fails IsSettled on demand, standing in for a rail that
// is temporarily unreachable.
type flakyLightning struct {
	*economy.MockLightning
	down bool
}

func (f *flakyLightning) IsSettled(ctx context.Context, invoiceRef string) (bool, error) {
	if f.down {
		return false, errors.New("rail unreachable")
	}
	return f.MockLightning.IsSettled(ctx, invoiceRef)
}

func TestReconcileIntents_RailOutageLeavesIntentOpen(t *testing.T) {
	database := dbtest.SetupDB(t)
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	led, err := ledger.NewService(context.Background(), &ledger.Config{
		Database:      database,
		CoordinatorID: "coord-test",
		SigningKey:    priv,
	})
	require.NoError(t, err)
	led.Start()
	t.Cleanup(func() { require.NoError(t, led.Stop()) })

	lightning := &flakyLightning{MockLightning: economy.NewMockLightning()}
	srv, err := economy.NewService(context.Background(), &economy.Config{
		Database:      database,
		Ledger:        led,
		Lightning:     lightning,
		CoordinatorID: "coord-test",
	})
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(func() { require.NoError(t, srv.Stop()) })
	ctx := context.Background()

	_, err = srv.EnsureAccount(ctx, "acct-1", "user-1")
	require.NoError(t, err)
	require.NoError(t, srv.Earn(ctx, "acct-1", 5000, false, "task-1"))
	require.NoError(t, srv.LinkWallet(ctx, "acct-1", "lnwallet-abc"))

	intent, err := srv.CreateIntent(ctx, &api.IntentCreateRequest{AccountID: "acct-1", AmountSats: 2000, FeeBps: 100})
	require.NoError(t, err)
	lightning.Settle(intent.InvoiceRef)

	// An outage mid-sweep is not a settlement verdict.
	lightning.down = true
	resp, err := srv.ReconcileIntents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Reconciled)
	assert.Equal(t, 0, resp.Failed)

	got, err := srv.Intent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, api.IntentCreated, got.Status)

	// The next sweep after recovery picks the intent up.
	lightning.down = false
	resp, err = srv.ReconcileIntents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Reconciled)
	got, err = srv.Intent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, api.IntentReconciled, got.Status)
}
