package rpc

import (
	"net/http"
	"strconv"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/mesh"
)

func (s *Service) handleMeshPeers(w http.ResponseWriter, _ *http.Request) {
	known := s.cfg.Mesh.Peers()
	resp := &api.PeerListResponse{Peers: make([]api.Peer, 0, len(known))}
	for _, peer := range known {
		resp.Peers = append(resp.Peers, *peer)
	}
	writeJSON(w, resp)
}

func (s *Service) handleMeshHello(w http.ResponseWriter, r *http.Request) {
	hello := &mesh.Hello{}
	if err := decodeJSON(r, hello); err != nil {
		writeError(w, err)
		return
	}
	welcome, reject := s.cfg.Mesh.HandleHello(r.Context(), hello)
	if reject != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		writeJSON(w, reject)
		return
	}
	writeJSON(w, welcome)
}

func (s *Service) handleMeshWS(w http.ResponseWriter, r *http.Request) {
	s.cfg.Mesh.ServeWS(w, r)
}

func (s *Service) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	cps, err := s.cfg.Database.Checkpoints(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := &api.CheckpointListResponse{Checkpoints: make([]api.Checkpoint, 0, len(cps))}
	for _, cp := range cps {
		resp.Checkpoints = append(resp.Checkpoints, *cp)
	}
	writeJSON(w, resp)
}

func (s *Service) handleBlacklistSubmit(w http.ResponseWriter, r *http.Request) {
	req := &api.BlacklistSubmitRequest{}
	if err := decodeJSON(r, req); err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.cfg.Blacklist.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, &api.BlacklistSubmitResponse{OK: true, Version: rec.Version})
}

func (s *Service) handleBlacklistDelta(w http.ResponseWriter, r *http.Request) {
	since := uint64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, api.NewErrorf(api.CodeValidationFailed, "malformed since version %q", raw))
			return
		}
		since = parsed
	}
	records, ver, err := s.cfg.Blacklist.Delta(r.Context(), since)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := &api.BlacklistDeltaResponse{Version: ver, Records: make([]api.BlacklistRecord, 0, len(records))}
	for _, rec := range records {
		resp.Records = append(resp.Records, *rec)
	}
	writeJSON(w, resp)
}
