package kv

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"

	"github.com/enclavecode/swarm/coordinator/api"
)

// Account retrieves credit account metadata by id.
func (s *Store) Account(ctx context.Context, id string) (*api.CreditAccount, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Account")
	defer span.End()
	var account *api.CreditAccount
	err := s.view(func(tx *bolt.Tx) error {
		enc := tx.Bucket(accountsBucket).Get([]byte(id))
		if enc == nil {
			return ErrNotFound
		}
		account = &api.CreditAccount{}
		return json.Unmarshal(enc, account)
	})
	return account, err
}

// SaveAccount upserts credit account metadata. Balances are never stored;
// they are derived from the ledger.
func (s *Store) SaveAccount(ctx context.Context, account *api.CreditAccount) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.SaveAccount")
	defer span.End()
	if account == nil || account.ID == "" {
		return errors.New("nil account or empty account id")
	}
	enc, err := json.Marshal(account)
	if err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(accountsBucket).Put([]byte(account.ID), enc)
	})
}

// PaymentIntent retrieves a payment intent by id.
func (s *Store) PaymentIntent(ctx context.Context, id string) (*api.PaymentIntent, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.PaymentIntent")
	defer span.End()
	var intent *api.PaymentIntent
	err := s.view(func(tx *bolt.Tx) error {
		enc := tx.Bucket(intentsBucket).Get([]byte(id))
		if enc == nil {
			return ErrNotFound
		}
		intent = &api.PaymentIntent{}
		return json.Unmarshal(enc, intent)
	})
	return intent, err
}

// SavePaymentIntent upserts a payment intent row.
func (s *Store) SavePaymentIntent(ctx context.Context, intent *api.PaymentIntent) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.SavePaymentIntent")
	defer span.End()
	if intent == nil || intent.ID == "" {
		return errors.New("nil intent or empty intent id")
	}
	enc, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(intentsBucket).Put([]byte(intent.ID), enc)
	})
}

// PaymentIntents returns every stored payment intent.
func (s *Store) PaymentIntents(ctx context.Context) ([]*api.PaymentIntent, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.PaymentIntents")
	defer span.End()
	var intents []*api.PaymentIntent
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(intentsBucket).ForEach(func(_, enc []byte) error {
			intent := &api.PaymentIntent{}
			if err := json.Unmarshal(enc, intent); err != nil {
				return err
			}
			intents = append(intents, intent)
			return nil
		})
	})
	return intents, err
}

// TreasuryPolicy retrieves a custody policy by id.
func (s *Store) TreasuryPolicy(ctx context.Context, id string) (*api.TreasuryPolicy, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.TreasuryPolicy")
	defer span.End()
	var policy *api.TreasuryPolicy
	err := s.view(func(tx *bolt.Tx) error {
		enc := tx.Bucket(treasuryBucket).Get([]byte(id))
		if enc == nil {
			return ErrNotFound
		}
		policy = &api.TreasuryPolicy{}
		return json.Unmarshal(enc, policy)
	})
	return policy, err
}

// SaveTreasuryPolicy upserts a custody policy row.
func (s *Store) SaveTreasuryPolicy(ctx context.Context, policy *api.TreasuryPolicy) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.SaveTreasuryPolicy")
	defer span.End()
	if policy == nil || policy.ID == "" {
		return errors.New("nil policy or empty policy id")
	}
	enc, err := json.Marshal(policy)
	if err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(treasuryBucket).Put([]byte(policy.ID), enc)
	})
}

// TreasuryPolicies returns every custody policy.
func (s *Store) TreasuryPolicies(ctx context.Context) ([]*api.TreasuryPolicy, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.TreasuryPolicies")
	defer span.End()
	var policies []*api.TreasuryPolicy
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(treasuryBucket).ForEach(func(_, enc []byte) error {
			policy := &api.TreasuryPolicy{}
			if err := json.Unmarshal(enc, policy); err != nil {
				return err
			}
			policies = append(policies, policy)
			return nil
		})
	})
	return policies, err
}

// Rollout retrieves a staged rollout record by id.
func (s *Store) Rollout(ctx context.Context, id string) (*api.Rollout, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Rollout")
	defer span.End()
	var rollout *api.Rollout
	err := s.view(func(tx *bolt.Tx) error {
		enc := tx.Bucket(rolloutsBucket).Get([]byte(id))
		if enc == nil {
			return ErrNotFound
		}
		rollout = &api.Rollout{}
		return json.Unmarshal(enc, rollout)
	})
	return rollout, err
}

// SaveRollout upserts a staged rollout record.
func (s *Store) SaveRollout(ctx context.Context, rollout *api.Rollout) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.SaveRollout")
	defer span.End()
	if rollout == nil || rollout.ID == "" {
		return errors.New("nil rollout or empty rollout id")
	}
	enc, err := json.Marshal(rollout)
	if err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(rolloutsBucket).Put([]byte(rollout.ID), enc)
	})
}

// Rollouts returns every staged rollout record.
func (s *Store) Rollouts(ctx context.Context) ([]*api.Rollout, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Rollouts")
	defer span.End()
	var rollouts []*api.Rollout
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(rolloutsBucket).ForEach(func(_, enc []byte) error {
			rollout := &api.Rollout{}
			if err := json.Unmarshal(enc, rollout); err != nil {
				return err
			}
			rollouts = append(rollouts, rollout)
			return nil
		})
	})
	return rollouts, err
}
