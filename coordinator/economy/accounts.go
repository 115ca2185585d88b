package economy

import (
	"context"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/db"
	"github.com/enclavecode/swarm/shared/timeutils"
)

// Balances of a credit account, derived entirely by replaying the ledger:
// Available = earn + release - spend - held; Held is the outstanding
// held sub-ledger (held - release) accumulated before a wallet is linked.
type Balances struct {
	AvailableSats int64
	HeldSats      int64
}

// BalanceOf folds every credit transaction of the account across the
// ledger. Nothing is cached; the ledger is the only source of truth.
func (s *Service) BalanceOf(ctx context.Context, accountID string) (*Balances, error) {
	head, _, err := s.cfg.Database.LedgerHead(ctx)
	if err != nil {
		return nil, err
	}
	balances := &Balances{}
	if head == 0 {
		return balances, nil
	}
	entries, err := s.cfg.Database.LedgerEntries(ctx, 1, head)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		tx := creditTxOf(entry)
		if tx == nil || tx.Account != accountID {
			continue
		}
		switch tx.Kind {
		case api.CreditEarn:
			balances.AvailableSats += tx.AmountSats
		case api.CreditSpend:
			balances.AvailableSats -= tx.AmountSats
		case api.CreditHeld:
			balances.AvailableSats -= tx.AmountSats
			balances.HeldSats += tx.AmountSats
		case api.CreditRelease:
			balances.AvailableSats += tx.AmountSats
			balances.HeldSats -= tx.AmountSats
		}
	}
	return balances, nil
}

// EnsureAccount fetches or creates account metadata.
func (s *Service) EnsureAccount(ctx context.Context, accountID, ownerUserID string) (*api.CreditAccount, error) {
	account, err := s.cfg.Database.Account(ctx, accountID)
	if err == nil {
		return account, nil
	}
	if !db.IsNotFound(err) {
		return nil, err
	}
	account = &api.CreditAccount{
		ID:          accountID,
		OwnerUserID: ownerUserID,
		CreatedAtMs: timeutils.NowUnixMilli(),
	}
	if err := s.cfg.Database.SaveAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// Earn credits an account, into the held sub-ledger when the earning
// agent is ide-enabled but has no wallet linked yet.
func (s *Service) Earn(ctx context.Context, accountID string, amountSats int64, held bool, memo string) error {
	kind := api.CreditEarn
	if held {
		// Book the earn, then immediately hold it. The two entries keep
		// the fold invariant intact and the hold reversible on release.
		if err := s.appendTx(ctx, accountID, api.CreditEarn, amountSats, memo, ""); err != nil {
			return err
		}
		kind = api.CreditHeld
	}
	return s.appendTx(ctx, accountID, kind, amountSats, memo, "")
}

// Spend debits an account. Guarded by the wallet requirement for
// ide-enabled agents at the RPC layer.
func (s *Service) Spend(ctx context.Context, accountID string, amountSats int64, memo, refID string) error {
	return s.appendTx(ctx, accountID, api.CreditSpend, amountSats, memo, refID)
}

// LinkWallet attaches a wallet to the account and releases the held
// sub-ledger with a compensating release entry.
func (s *Service) LinkWallet(ctx context.Context, accountID, wallet string) error {
	account, err := s.cfg.Database.Account(ctx, accountID)
	if err != nil {
		return err
	}
	balances, err := s.BalanceOf(ctx, accountID)
	if err != nil {
		return err
	}
	account.Wallet = wallet
	if err := s.cfg.Database.SaveAccount(ctx, account); err != nil {
		return err
	}
	if balances.HeldSats > 0 {
		return s.appendTx(ctx, accountID, api.CreditRelease, balances.HeldSats, "held-released", "")
	}
	return nil
}

func (s *Service) appendTx(ctx context.Context, accountID, kind string, amountSats int64, memo, refID string) error {
	_, err := s.cfg.Ledger.Append(ctx, api.PayloadCreditTx, &api.CreditTx{
		Account:    accountID,
		Kind:       kind,
		AmountSats: amountSats,
		Memo:       memo,
		RefID:      refID,
	}, s.cfg.CoordinatorID)
	return err
}
