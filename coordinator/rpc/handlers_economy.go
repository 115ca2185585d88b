package rpc

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/enclavecode/swarm/coordinator/api"
)

func (s *Service) handlePriceCurrent(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.cfg.Economy.CurrentPrice())
}

func (s *Service) handlePricePropose(w http.ResponseWriter, r *http.Request) {
	req := &api.PriceProposeRequest{}
	if err := decodeJSON(r, req); err != nil {
		writeError(w, err)
		return
	}
	proposal := &api.PriceProposal{
		CoordinatorID:  req.CoordinatorID,
		ValueMilliSats: req.ValueMilliSats,
		Signature:      req.Signature,
	}
	if err := s.cfg.Economy.ProposePrice(r.Context(), proposal); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, &api.OKResponse{OK: true})
}

func (s *Service) handlePriceConsensus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.cfg.Economy.RunPriceConsensus(r.Context()))
}

func (s *Service) handleIntentCreate(w http.ResponseWriter, r *http.Request) {
	req := &api.IntentCreateRequest{}
	if err := decodeJSON(r, req); err != nil {
		writeError(w, err)
		return
	}
	intent, err := s.cfg.Economy.CreateIntent(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, intent)
}

func (s *Service) handleIntentGet(w http.ResponseWriter, r *http.Request) {
	intent, err := s.cfg.Economy.Intent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, intent)
}

func (s *Service) handleIntentConfirm(w http.ResponseWriter, r *http.Request) {
	req := &api.IntentConfirmRequest{}
	if err := decodeJSON(r, req); err != nil {
		writeError(w, err)
		return
	}
	intent, err := s.cfg.Economy.ConfirmIntent(r.Context(), mux.Vars(r)["id"], req.InvoiceRef)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, intent)
}

func (s *Service) handleReconcile(w http.ResponseWriter, r *http.Request) {
	resp, err := s.cfg.Economy.ReconcileIntents(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s *Service) handleTreasuryCreate(w http.ResponseWriter, r *http.Request) {
	req := &api.TreasuryPolicyRequest{}
	if err := decodeJSON(r, req); err != nil {
		writeError(w, err)
		return
	}
	policy, err := s.cfg.Economy.CreateTreasuryPolicy(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, policy)
}

// treasuryActionRequest carries custodian signatures for a policy state
// transition.
type treasuryActionRequest struct {
	Signatures []string `json:"signatures"`
}

func (s *Service) handleTreasuryActivate(w http.ResponseWriter, r *http.Request) {
	req := &treasuryActionRequest{}
	if err := decodeJSON(r, req); err != nil {
		writeError(w, err)
		return
	}
	policy, err := s.cfg.Economy.ActivateTreasuryPolicy(r.Context(), mux.Vars(r)["id"], req.Signatures)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, policy)
}

func (s *Service) handleTreasuryRetire(w http.ResponseWriter, r *http.Request) {
	req := &treasuryActionRequest{}
	if err := decodeJSON(r, req); err != nil {
		writeError(w, err)
		return
	}
	policy, err := s.cfg.Economy.RetireTreasuryPolicy(r.Context(), mux.Vars(r)["id"], req.Signatures)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, policy)
}

func (s *Service) handleTreasuryList(w http.ResponseWriter, r *http.Request) {
	policies, err := s.cfg.Economy.TreasuryPolicies(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, &api.TreasuryResponse{Policies: policies})
}

// rolloutCreateRequest drafts a staged rollout.
type rolloutCreateRequest struct {
	Name   string `json:"name"`
	Stages []int  `json:"stages"`
}

func (s *Service) handleRolloutCreate(w http.ResponseWriter, r *http.Request) {
	req := &rolloutCreateRequest{}
	if err := decodeJSON(r, req); err != nil {
		writeError(w, err)
		return
	}
	rollout, err := s.cfg.Economy.CreateRollout(r.Context(), req.Name, req.Stages)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rollout)
}

func (s *Service) handleRolloutList(w http.ResponseWriter, r *http.Request) {
	rollouts, err := s.cfg.Economy.Rollouts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rollouts)
}

func (s *Service) handleRolloutPromote(w http.ResponseWriter, r *http.Request) {
	rollout, err := s.cfg.Economy.PromoteRollout(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rollout)
}

func (s *Service) handleRolloutRollback(w http.ResponseWriter, r *http.Request) {
	rollout, err := s.cfg.Economy.RollbackRollout(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rollout)
}
