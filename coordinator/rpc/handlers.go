package rpc

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/power"
	"github.com/enclavecode/swarm/shared/timeutils"
	"github.com/enclavecode/swarm/shared/version"
)

func (s *Service) handleEnroll(w http.ResponseWriter, r *http.Request) {
	req := &api.EnrollRequest{}
	if err := decodeJSON(r, req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.cfg.Registry.Enroll(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s *Service) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	req := &api.HeartbeatRequest{}
	if err := decodeJSON(r, req); err != nil {
		writeError(w, err)
		return
	}
	if err := bindAgent(r, req.AgentID); err != nil {
		writeError(w, err)
		return
	}
	agent, err := s.cfg.Registry.Heartbeat(r.Context(), req.AgentID, req.Telemetry)
	if err != nil {
		writeError(w, err)
		return
	}
	policy := power.Decide(agent.OS, agent.Telemetry, agent.LastAssignedAtMs, timeutils.NowUnixMilli(), nil)
	writeJSON(w, &api.HeartbeatResponse{OK: true, Policy: policy})
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	req := &api.SubmitRequest{}
	if err := decodeJSON(r, req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.cfg.Pipeline.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s *Service) handleTask(w http.ResponseWriter, r *http.Request) {
	task, subtasks, err := s.cfg.Pipeline.Task(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, &api.TaskResponse{Task: task, Subtasks: subtasks})
}

func (s *Service) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Pipeline.Cancel(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, &api.OKResponse{OK: true})
}

func (s *Service) handlePull(w http.ResponseWriter, r *http.Request) {
	req := &api.PullRequest{}
	if err := decodeJSON(r, req); err != nil {
		writeError(w, err)
		return
	}
	if err := bindAgent(r, req.AgentID); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.cfg.Pipeline.Pull(r.Context(), req.AgentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s *Service) handlePullAck(w http.ResponseWriter, r *http.Request) {
	req := &api.PullAckRequest{}
	if err := decodeJSON(r, req); err != nil {
		writeError(w, err)
		return
	}
	if err := bindAgent(r, req.AgentID); err != nil {
		writeError(w, err)
		return
	}
	if err := s.cfg.Pipeline.Ack(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, &api.OKResponse{OK: true})
}

func (s *Service) handleProgress(w http.ResponseWriter, r *http.Request) {
	req := &api.ProgressRequest{}
	if err := decodeJSON(r, req); err != nil {
		writeError(w, err)
		return
	}
	if err := bindAgent(r, req.AgentID); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.cfg.Pipeline.Progress(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s *Service) handleResult(w http.ResponseWriter, r *http.Request) {
	req := &api.ResultRequest{}
	if err := decodeJSON(r, req); err != nil {
		writeError(w, err)
		return
	}
	if err := bindAgent(r, req.AgentID); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.cfg.Pipeline.Result(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	queued, running := s.cfg.Pipeline.Counts()
	online, err := s.cfg.Registry.OnlineCount(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	completed := 0
	tasks, err := s.cfg.Database.Tasks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	for _, task := range tasks {
		if task.Status == api.TaskSucceeded {
			completed++
		}
	}
	_, headHash := s.cfg.Ledger.Head()
	writeJSON(w, &api.StatusResponse{
		Queued:       queued,
		Running:      running,
		Completed:    completed,
		AgentsOnline: online,
		Version:      version.GetVersion(),
		HeadHash:     headHash,
	})
}
