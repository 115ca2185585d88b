package economy

import (
	"context"

	"github.com/google/uuid"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/db"
	"github.com/enclavecode/swarm/shared/timeutils"
)

// CreateIntent opens a payment intent for an account: fee math applied,
// invoice created on the settlement rail, row persisted.
func (s *Service) CreateIntent(ctx context.Context, req *api.IntentCreateRequest) (*api.PaymentIntent, error) {
	if req.AccountID == "" || req.AmountSats <= 0 {
		return nil, api.NewError(api.CodeValidationFailed, "accountId and a positive amountSats are required")
	}
	if req.FeeBps < 0 || req.FeeBps > 10000 {
		return nil, api.NewError(api.CodeValidationFailed, "feeBps must be within [0, 10000]")
	}
	account, err := s.cfg.Database.Account(ctx, req.AccountID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, api.NewErrorf(api.CodeTaskNotFound, "account %q does not exist", req.AccountID)
		}
		return nil, err
	}
	if account.Wallet == "" {
		return nil, api.NewError(api.CodeWalletRequiredForIdeEnabled, "account has no wallet linked")
	}
	balances, err := s.BalanceOf(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if balances.AvailableSats < req.AmountSats {
		return nil, api.NewErrorf(api.CodeValidationFailed, "insufficient balance: have %d, want %d", balances.AvailableSats, req.AmountSats)
	}

	fee, net := ComputeIntentFee(req.AmountSats, req.FeeBps)
	intent := &api.PaymentIntent{
		ID:          uuid.NewString(),
		AccountID:   req.AccountID,
		AmountSats:  req.AmountSats,
		FeeBps:      req.FeeBps,
		FeeSats:     fee,
		NetSats:     net,
		Status:      api.IntentCreated,
		CreatedAtMs: timeutils.NowUnixMilli(),
	}
	if s.cfg.Lightning != nil {
		invoiceRef, err := s.cfg.Lightning.CreateInvoice(ctx, net, "swarm-intent-"+intent.ID)
		if err != nil {
			return nil, api.NewErrorf(api.CodePeerUnreachable, "settlement rail unavailable: %v", err)
		}
		intent.InvoiceRef = invoiceRef
	}
	if err := s.cfg.Database.SavePaymentIntent(ctx, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// Intent fetches a payment intent by id.
func (s *Service) Intent(ctx context.Context, id string) (*api.PaymentIntent, error) {
	intent, err := s.cfg.Database.PaymentIntent(ctx, id)
	if db.IsNotFound(err) {
		return nil, api.NewErrorf(api.CodeTaskNotFound, "intent %q does not exist", id)
	}
	return intent, err
}

// ConfirmIntent settles an intent against its invoice: the settlement
// rail must report paid, then the debit lands on the ledger and the
// intent is confirmed. Confirming twice is a state conflict.
func (s *Service) ConfirmIntent(ctx context.Context, id, invoiceRef string) (*api.PaymentIntent, error) {
	intent, err := s.Intent(ctx, id)
	if err != nil {
		return nil, err
	}
	if intent.Status != api.IntentCreated {
		return nil, api.NewErrorf(api.CodeAlreadyCancelled, "intent %q is already %s", id, intent.Status)
	}
	if invoiceRef != "" && intent.InvoiceRef != "" && invoiceRef != intent.InvoiceRef {
		return nil, api.NewError(api.CodeValidationFailed, "invoiceRef does not match the intent")
	}
	if s.cfg.Lightning != nil {
		settled, err := s.cfg.Lightning.IsSettled(ctx, intent.InvoiceRef)
		if err != nil {
			return nil, api.NewErrorf(api.CodePeerUnreachable, "settlement rail unavailable: %v", err)
		}
		if !settled {
			return nil, api.NewError(api.CodeValidationFailed, "invoice is not settled")
		}
	}
	if err := s.Spend(ctx, intent.AccountID, intent.AmountSats, "intent-settled", intent.ID); err != nil {
		return nil, err
	}
	intent.Status = api.IntentConfirmed
	intent.ConfirmedAtMs = timeutils.NowUnixMilli()
	if err := s.cfg.Database.SavePaymentIntent(ctx, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// ReconcileIntents sweeps open intents against the settlement rail,
// confirming the settled. Intents the rail cannot answer for stay open
// until a later sweep.
func (s *Service) ReconcileIntents(ctx context.Context) (*api.ReconcileResponse, error) {
	intents, err := s.cfg.Database.PaymentIntents(ctx)
	if err != nil {
		return nil, err
	}
	resp := &api.ReconcileResponse{}
	for _, intent := range intents {
		if intent.Status != api.IntentCreated || s.cfg.Lightning == nil {
			continue
		}
		settled, err := s.cfg.Lightning.IsSettled(ctx, intent.InvoiceRef)
		if err != nil {
			// A transient rail failure says nothing about the invoice.
			// The intent stays open for the next sweep.
			log.WithError(err).WithField("intentId", intent.ID).Warn("Settlement rail unavailable, intent left open")
			continue
		}
		if !settled {
			continue
		}
		confirmed, err := s.ConfirmIntent(ctx, intent.ID, intent.InvoiceRef)
		if err != nil {
			log.WithError(err).WithField("intentId", intent.ID).Error("Reconcile confirmation failed")
			resp.Failed++
			continue
		}
		confirmed.Status = api.IntentReconciled
		if err := s.cfg.Database.SavePaymentIntent(ctx, confirmed); err != nil {
			return nil, err
		}
		resp.Reconciled++
	}
	return resp, nil
}
