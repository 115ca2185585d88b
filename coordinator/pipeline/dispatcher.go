package pipeline

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/ledger/canonical"
	"github.com/enclavecode/swarm/coordinator/power"
	"github.com/enclavecode/swarm/shared/params"
	"github.com/enclavecode/swarm/shared/timeutils"
)

// offer is an outstanding assignment awaiting a signed accept.
type offer struct {
	id          string
	subtask     *api.Subtask
	agentID     string
	expiresAtMs int64
}

// offerPreimage is the signed portion of an assignment offer.
type offerPreimage struct {
	OfferID     string `json:"offerId"`
	SubtaskID   string `json:"subtaskId"`
	AgentID     string `json:"agentId"`
	ExpiresAtMs int64  `json:"expiresAtMs"`
}

// SignOffer signs an assignment offer with the coordinator key.
func SignOffer(offerID, subtaskID, agentID string, expiresAtMs int64, key ed25519.PrivateKey) (string, error) {
	preimage, err := canonical.Marshal(&offerPreimage{
		OfferID:     offerID,
		SubtaskID:   subtaskID,
		AgentID:     agentID,
		ExpiresAtMs: expiresAtMs,
	})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(ed25519.Sign(key, preimage)), nil
}

// VerifyOfferSignature checks an offer against the coordinator public key.
func VerifyOfferSignature(o *api.SubtaskOffer, agentID string, pub ed25519.PublicKey) bool {
	preimage, err := canonical.Marshal(&offerPreimage{
		OfferID:     o.OfferID,
		SubtaskID:   o.Subtask.ID,
		AgentID:     agentID,
		ExpiresAtMs: o.ExpiresAtMs,
	})
	if err != nil {
		return false
	}
	sig, err := base64.RawURLEncoding.DecodeString(o.Signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, preimage, sig)
}

// Pull hands the requesting agent at most one offer: the highest-priority
// ready subtask it qualifies for. The offer lapses unless acknowledged
// within the ack timeout.
func (s *Service) Pull(ctx context.Context, agentID string) (*api.PullResponse, error) {
	agent, err := s.admittedAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	now := timeutils.NowUnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Scan the ready queue in priority order; anything the agent does not
	// qualify for goes back.
	var skipped []*api.Subtask
	var picked *api.Subtask
	for {
		subtask := s.queue.Pop()
		if subtask == nil {
			break
		}
		task, err := s.cfg.Database.Task(ctx, subtask.TaskID)
		if err != nil {
			skipped = append(skipped, subtask)
			continue
		}
		if len(selectWorkers([]*api.Agent{agent}, subtask, task, s.inFlight, now)) > 0 {
			picked = subtask
			break
		}
		skipped = append(skipped, subtask)
	}
	for _, subtask := range skipped {
		s.queue.Enqueue(subtask)
	}
	if picked == nil {
		return &api.PullResponse{}, nil
	}

	o := &offer{
		id:          uuid.NewString(),
		subtask:     picked,
		agentID:     agentID,
		expiresAtMs: now + params.Coordinator().OfferAckTimeout.Milliseconds(),
	}
	sig, err := SignOffer(o.id, picked.ID, agentID, o.expiresAtMs, s.cfg.SigningKey)
	if err != nil {
		s.queue.Enqueue(picked)
		return nil, err
	}
	picked.Status = api.SubtaskOffered
	if err := s.cfg.Database.SaveSubtask(ctx, picked); err != nil {
		s.queue.Enqueue(picked)
		return nil, err
	}
	s.offers[o.id] = o
	s.inFlight[agentID]++
	log.WithFields(logrus.Fields{
		"subtaskId": picked.ID,
		"agentId":   agentID,
		"offerId":   o.id,
	}).Debug("Subtask offered")
	return &api.PullResponse{Offer: &api.SubtaskOffer{
		OfferID:     o.id,
		Subtask:     picked,
		ExpiresAtMs: o.expiresAtMs,
		Signature:   sig,
	}}, nil
}

// Ack accepts or declines an outstanding offer. Accepting after the
// deadline behaves like an unknown offer: the subtask has already
// returned to ready.
func (s *Service) Ack(ctx context.Context, req *api.PullAckRequest) error {
	now := timeutils.NowUnixMilli()

	s.mu.Lock()
	o, ok := s.offers[req.OfferID]
	if ok {
		delete(s.offers, req.OfferID)
		s.inFlight[o.agentID]--
	}
	s.mu.Unlock()

	if !ok || o.agentID != req.AgentID {
		return api.NewErrorf(api.CodeTaskNotFound, "offer %q is not outstanding", req.OfferID)
	}
	if !req.Accept || now > o.expiresAtMs {
		s.requeue(ctx, o.subtask)
		return nil
	}

	subtask := o.subtask
	subtask.Status = api.SubtaskRunning
	subtask.AssignedTo = req.AgentID
	subtask.AssignedAtMs = now
	subtask.LastProgressMs = now
	if err := s.cfg.Database.SaveSubtask(ctx, subtask); err != nil {
		return err
	}
	s.mu.Lock()
	s.running[subtask.ID] = subtask
	s.inFlight[req.AgentID]++
	s.mu.Unlock()

	if err := s.cfg.Registry.MarkAssigned(ctx, req.AgentID, now); err != nil {
		log.WithError(err).WithField("agentId", req.AgentID).Debug("Could not stamp assignment time")
	}
	if err := s.markTaskRunning(ctx, subtask.TaskID); err != nil {
		log.WithError(err).WithField("taskId", subtask.TaskID).Error("Could not mark task running")
	}
	return nil
}

// Progress records an in-flight work report. The response tells the
// worker whether the subtask has been cancelled underneath it.
func (s *Service) Progress(ctx context.Context, req *api.ProgressRequest) (*api.ProgressResponse, error) {
	s.mu.Lock()
	subtask, running := s.running[req.SubtaskID]
	_, cancelled := s.cancels[req.SubtaskID]
	s.mu.Unlock()

	if !running {
		if cancelled {
			return &api.ProgressResponse{OK: true, Cancelled: true}, nil
		}
		return nil, api.NewErrorf(api.CodeTaskNotFound, "subtask %q is not running", req.SubtaskID)
	}
	if subtask.AssignedTo != req.AgentID {
		return nil, api.NewErrorf(api.CodeValidationFailed, "subtask %q is assigned to another agent", req.SubtaskID)
	}
	subtask.LastProgressMs = timeutils.NowUnixMilli()
	if err := s.cfg.Database.SaveSubtask(ctx, subtask); err != nil {
		return nil, err
	}
	return &api.ProgressResponse{OK: true, Cancelled: cancelled}, nil
}

// sweepOffers returns lapsed offers to the ready queue.
func (s *Service) sweepOffers() {
	now := timeutils.NowUnixMilli()
	var lapsed []*offer

	s.mu.Lock()
	for id, o := range s.offers {
		if now > o.expiresAtMs {
			delete(s.offers, id)
			s.inFlight[o.agentID]--
			lapsed = append(lapsed, o)
		}
	}
	s.mu.Unlock()

	for _, o := range lapsed {
		log.WithFields(logrus.Fields{
			"subtaskId": o.subtask.ID,
			"agentId":   o.agentID,
		}).Debug("Offer lapsed")
		s.requeue(s.ctx, o.subtask)
	}
}

// sweepStale re-enqueues running subtasks whose worker went silent past
// the missed-progress horizon, and force-finishes cancelled subtasks
// whose grace period ran out.
func (s *Service) sweepStale() {
	cfg := params.Coordinator()
	horizon := cfg.ProgressInterval.Milliseconds() * int64(cfg.MaxMissedProgress)
	now := timeutils.NowUnixMilli()

	s.mu.Lock()
	var stale []*api.Subtask
	for id, subtask := range s.running {
		if deadline, ok := s.cancels[id]; ok {
			if now > deadline {
				delete(s.running, id)
				delete(s.cancels, id)
				s.inFlight[subtask.AssignedTo]--
				subtask.Status = api.SubtaskCancelled
				if err := s.cfg.Database.SaveSubtask(s.ctx, subtask); err != nil {
					log.WithError(err).Error("Could not persist forced cancel")
				}
			}
			continue
		}
		if now-subtask.LastProgressMs > horizon {
			delete(s.running, id)
			s.inFlight[subtask.AssignedTo]--
			stale = append(stale, subtask)
		}
	}
	s.mu.Unlock()

	for _, subtask := range stale {
		log.WithFields(logrus.Fields{
			"subtaskId": subtask.ID,
			"agentId":   subtask.AssignedTo,
		}).Warn("Subtask stale, reassigning")
		s.cfg.Registry.ReportOutcome(s.ctx, subtask.AssignedTo, false)
		s.retryOrFail(s.ctx, subtask, "progress reports missed")
	}
}

// dropOffersLocked withdraws any outstanding offer of a subtask. The
// caller holds s.mu.
func (s *Service) dropOffersLocked(subtaskID string) {
	for id, o := range s.offers {
		if o.subtask.ID == subtaskID {
			delete(s.offers, id)
			s.inFlight[o.agentID]--
		}
	}
}

// requeue returns a subtask to ready, unless its parent task has been
// cancelled in the meantime.
func (s *Service) requeue(ctx context.Context, subtask *api.Subtask) {
	task, err := s.cfg.Database.Task(ctx, subtask.TaskID)
	if err == nil && task.Status == api.TaskCancelled {
		subtask.Status = api.SubtaskCancelled
		if err := s.cfg.Database.SaveSubtask(ctx, subtask); err != nil {
			log.WithError(err).WithField("subtaskId", subtask.ID).Error("Could not persist cancel")
		}
		return
	}
	subtask.Status = api.SubtaskReady
	subtask.AssignedTo = ""
	if err := s.cfg.Database.SaveSubtask(ctx, subtask); err != nil {
		log.WithError(err).WithField("subtaskId", subtask.ID).Error("Could not persist requeue")
	}
	s.mu.Lock()
	s.queue.Enqueue(subtask)
	s.mu.Unlock()
}

// retryOrFail re-enqueues with an incremented attempt counter, or ends
// the parent task once attempts are exhausted.
func (s *Service) retryOrFail(ctx context.Context, subtask *api.Subtask, cause string) {
	subtask.Attempts++
	if subtask.Attempts < params.Coordinator().MaxSubtaskAttempts {
		s.requeue(ctx, subtask)
		return
	}
	subtask.Status = api.SubtaskFailed
	subtask.Error = cause
	if err := s.cfg.Database.SaveSubtask(ctx, subtask); err != nil {
		log.WithError(err).Error("Could not persist subtask failure")
	}
	s.finishTask(ctx, subtask.TaskID, subtask, cause)
}

// admittedAgent gates a pulling agent: registered, not blacklisted, not
// suspended, and allowed by its own power policy.
func (s *Service) admittedAgent(ctx context.Context, agentID string) (*api.Agent, error) {
	if s.cfg.Blacklist != nil {
		blacklisted, err := s.cfg.Blacklist.IsBlacklisted(ctx, agentID)
		if err != nil {
			return nil, err
		}
		if blacklisted {
			return nil, api.NewErrorf(api.CodeAgentSuspended, "agent %q is blacklisted", agentID)
		}
	}
	agent, err := s.cfg.Database.Agent(ctx, agentID)
	if err != nil {
		return nil, api.NewErrorf(api.CodeAgentNotRegistered, "agent %q is not registered", agentID)
	}
	if agent.Approval == api.ApprovalSuspended {
		return nil, api.NewErrorf(api.CodeAgentSuspended, "agent %q is suspended", agentID)
	}
	if agent.Approval != api.ApprovalApproved {
		return nil, api.NewErrorf(api.CodeAgentUnapproved, "agent %q is pending approval", agentID)
	}
	decision := power.Decide(agent.OS, agent.Telemetry, agent.LastAssignedAtMs, timeutils.NowUnixMilli(), params.Coordinator())
	if !decision.AllowCoordinatorTasks {
		return nil, api.NewErrorf(api.CodeNoAgentsAvailable, "power policy blocks assignment: %s", decision.Reason)
	}
	return agent, nil
}
