package rpc

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/registry"
)

func (s *Service) handleAgentList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	agents, err := s.cfg.Registry.List(r.Context(), &registry.ListFilter{
		OS:       q.Get("os"),
		Role:     q.Get("role"),
		Mode:     q.Get("mode"),
		Approval: q.Get("approval"),
		Health:   q.Get("health"),
		Language: q.Get("language"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, &api.AgentListResponse{Agents: agents})
}

func (s *Service) handleAgentApprove(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Registry.Approve(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, &api.OKResponse{OK: true})
}

func (s *Service) handleAgentSuspend(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Registry.Suspend(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, &api.OKResponse{OK: true})
}

func (s *Service) handleAgentReject(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Registry.Reject(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, &api.OKResponse{OK: true})
}

// agentModeRequest switches an agent's work-acceptance mode.
type agentModeRequest struct {
	Mode string `json:"mode"`
}

func (s *Service) handleAgentMode(w http.ResponseWriter, r *http.Request) {
	req := &agentModeRequest{}
	if err := decodeJSON(r, req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.cfg.Registry.SetMode(r.Context(), mux.Vars(r)["id"], req.Mode); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, &api.OKResponse{OK: true})
}

// agentModelRequest pins the local model an agent should run.
type agentModelRequest struct {
	Model string `json:"model"`
}

func (s *Service) handleAgentModel(w http.ResponseWriter, r *http.Request) {
	req := &agentModelRequest{}
	if err := decodeJSON(r, req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.cfg.Registry.SetLocalModel(r.Context(), mux.Vars(r)["id"], req.Model); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, &api.OKResponse{OK: true})
}

func (s *Service) handleBackup(w http.ResponseWriter, r *http.Request) {
	log.Info("Performing database backup")
	if err := s.cfg.Database.Backup(r.Context(), r.URL.Query().Get("output-dir")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, &api.OKResponse{OK: true})
}
