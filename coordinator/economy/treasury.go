package economy

import (
	"context"

	"github.com/google/uuid"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/db"
	"github.com/enclavecode/swarm/shared/timeutils"
)

// treasuryAction is the ledger payload of a custody state transition.
type treasuryAction struct {
	PolicyID   string   `json:"policyId"`
	Action     string   `json:"action"`
	Signatures []string `json:"signatures,omitempty"`
}

// CreateTreasuryPolicy drafts a custody policy.
func (s *Service) CreateTreasuryPolicy(ctx context.Context, req *api.TreasuryPolicyRequest) (*api.TreasuryPolicy, error) {
	if req.Descriptor == "" {
		return nil, api.NewError(api.CodeValidationFailed, "descriptor is required")
	}
	if req.QuorumThreshold <= 0 || req.TotalCustodians <= 0 || req.QuorumThreshold > req.TotalCustodians {
		return nil, api.NewError(api.CodeValidationFailed, "quorumThreshold must be within [1, totalCustodians]")
	}
	policy := &api.TreasuryPolicy{
		ID:              uuid.NewString(),
		Descriptor:      req.Descriptor,
		QuorumThreshold: req.QuorumThreshold,
		TotalCustodians: req.TotalCustodians,
		State:           api.TreasuryDraft,
		CreatedAtMs:     timeutils.NowUnixMilli(),
	}
	if err := s.cfg.Database.SaveTreasuryPolicy(ctx, policy); err != nil {
		return nil, err
	}
	if _, err := s.cfg.Ledger.Append(ctx, api.PayloadTreasury, &treasuryAction{
		PolicyID: policy.ID,
		Action:   "draft",
	}, s.cfg.CoordinatorID); err != nil {
		return nil, err
	}
	return policy, nil
}

// ActivateTreasuryPolicy moves a draft policy to active. The custody
// action must carry at least quorumThreshold custodian signatures; they
// are recorded verbatim in the ledger event.
func (s *Service) ActivateTreasuryPolicy(ctx context.Context, policyID string, custodianSignatures []string) (*api.TreasuryPolicy, error) {
	policy, err := s.treasuryPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if policy.State != api.TreasuryDraft {
		return nil, api.NewErrorf(api.CodeAlreadyCancelled, "policy %q is %s, not draft", policyID, policy.State)
	}
	if len(custodianSignatures) < policy.QuorumThreshold {
		return nil, api.NewErrorf(api.CodeValidationFailed, "activation requires %d custodian signatures, got %d", policy.QuorumThreshold, len(custodianSignatures))
	}
	policy.State = api.TreasuryActive
	if err := s.cfg.Database.SaveTreasuryPolicy(ctx, policy); err != nil {
		return nil, err
	}
	if _, err := s.cfg.Ledger.Append(ctx, api.PayloadTreasury, &treasuryAction{
		PolicyID:   policy.ID,
		Action:     "activate",
		Signatures: custodianSignatures,
	}, s.cfg.CoordinatorID); err != nil {
		return nil, err
	}
	return policy, nil
}

// RetireTreasuryPolicy moves an active policy to retired.
func (s *Service) RetireTreasuryPolicy(ctx context.Context, policyID string, custodianSignatures []string) (*api.TreasuryPolicy, error) {
	policy, err := s.treasuryPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if policy.State != api.TreasuryActive {
		return nil, api.NewErrorf(api.CodeAlreadyCancelled, "policy %q is %s, not active", policyID, policy.State)
	}
	if len(custodianSignatures) < policy.QuorumThreshold {
		return nil, api.NewErrorf(api.CodeValidationFailed, "retirement requires %d custodian signatures, got %d", policy.QuorumThreshold, len(custodianSignatures))
	}
	policy.State = api.TreasuryRetired
	if err := s.cfg.Database.SaveTreasuryPolicy(ctx, policy); err != nil {
		return nil, err
	}
	if _, err := s.cfg.Ledger.Append(ctx, api.PayloadTreasury, &treasuryAction{
		PolicyID:   policy.ID,
		Action:     "retire",
		Signatures: custodianSignatures,
	}, s.cfg.CoordinatorID); err != nil {
		return nil, err
	}
	return policy, nil
}

// TreasuryPolicies lists every custody policy.
func (s *Service) TreasuryPolicies(ctx context.Context) ([]api.TreasuryPolicy, error) {
	policies, err := s.cfg.Database.TreasuryPolicies(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]api.TreasuryPolicy, 0, len(policies))
	for _, p := range policies {
		out = append(out, *p)
	}
	return out, nil
}

func (s *Service) treasuryPolicy(ctx context.Context, policyID string) (*api.TreasuryPolicy, error) {
	policy, err := s.cfg.Database.TreasuryPolicy(ctx, policyID)
	if db.IsNotFound(err) {
		return nil, api.NewErrorf(api.CodeTaskNotFound, "policy %q does not exist", policyID)
	}
	return policy, err
}
