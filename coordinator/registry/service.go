// Package registry tracks registered workers: identity, capabilities,
// approval state, liveness and power telemetry. Rows are persisted in the
// database; updates take a per-agent lock so two different agents can be
// mutated in parallel.
package registry

import (
	"context"
	"crypto/ed25519"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/enclavecode/swarm/async"
	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/db"
	"github.com/enclavecode/swarm/shared/params"
	"github.com/enclavecode/swarm/shared/timeutils"
)

var log = logrus.WithField("prefix", "registry")

// Score adjustments applied per subtask outcome, decayed by the sweep.
const (
	scoreSuccessDelta = 1
	scoreFailureDelta = -2
	scoreDecayFactor  = 0.95
)

// BlacklistChecker is the admission hook consulted on enroll, heartbeat
// and task acceptance.
type BlacklistChecker interface {
	IsBlacklisted(ctx context.Context, agentID string) (bool, error)
}

// Config options for the registry service.
type Config struct {
	Database  db.Database
	Blacklist BlacklistChecker
	// PortalKey verifies portal-issued registration tokens. A nil key
	// rejects every enrolment.
	PortalKey ed25519.PublicKey
}

// Service implements the agent registry.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *Config

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewService creates the registry service.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	if cfg.Database == nil {
		return nil, errors.New("registry requires a database")
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Start launches the periodic liveness sweep.
func (s *Service) Start() {
	async.RunEvery(s.ctx, params.Coordinator().AgentSweepInterval, s.sweep)
}

// Stop terminates the sweep.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// Status always reports healthy; the registry has no failure mode beyond
// its database.
func (s *Service) Status() error {
	return nil
}

func (s *Service) lockFor(agentID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[agentID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[agentID] = mu
	}
	return mu
}

// Enroll registers a new agent under a portal-issued registration token.
// Re-enrolment of an existing id must present the same public key.
func (s *Service) Enroll(ctx context.Context, req *api.EnrollRequest) (*api.EnrollResponse, error) {
	if req.AgentID == "" || len(req.PublicKey) != ed25519.PublicKeySize {
		return nil, api.NewError(api.CodeValidationFailed, "agentId and a 32-byte publicKey are required")
	}
	if s.cfg.PortalKey == nil {
		return nil, api.NewError(api.CodeValidationFailed, "coordinator has no portal key configured")
	}
	claims, err := VerifyRegistrationToken(req.RegistrationToken, s.cfg.PortalKey)
	if err != nil {
		return nil, api.NewErrorf(api.CodeValidationFailed, "registration token rejected: %v", err)
	}
	if claims.AgentID != "" && claims.AgentID != req.AgentID {
		return nil, api.NewError(api.CodeValidationFailed, "registration token bound to a different agent")
	}
	if err := s.checkBlacklist(ctx, req.AgentID); err != nil {
		return nil, err
	}

	mu := s.lockFor(req.AgentID)
	mu.Lock()
	defer mu.Unlock()

	now := timeutils.NowUnixMilli()
	existing, err := s.cfg.Database.Agent(ctx, req.AgentID)
	switch {
	case err == nil:
		// Public key is immutable; changing it requires admin-approved
		// re-enrolment through Reject followed by a fresh enroll.
		if !ed25519.PublicKey(existing.PublicKey).Equal(ed25519.PublicKey(req.PublicKey)) {
			return nil, api.NewError(api.CodeValidationFailed, "public key change requires re-enrolment under admin approval")
		}
	case db.IsNotFound(err):
		existing = nil
	default:
		return nil, err
	}

	approval := api.ApprovalPending
	if claims.PreApproved {
		approval = api.ApprovalApproved
	}
	agent := &api.Agent{
		ID:           req.AgentID,
		PublicKey:    req.PublicKey,
		OS:           req.OS,
		Version:      req.Version,
		Role:         req.Role,
		MaxSlots:     req.MaxSlots,
		Languages:    req.Languages,
		SandboxMode:  req.SandboxMode,
		GPU:          req.GPU,
		Mode:         api.ModeAuto,
		Approval:     approval,
		EnrolledAtMs: now,
		LastSeenMs:   now,
	}
	if existing != nil {
		// Keep operational state across re-enrolment.
		agent.Mode = existing.Mode
		agent.LocalModel = existing.LocalModel
		agent.Approval = existing.Approval
		agent.WalletAccount = existing.WalletAccount
		agent.EnrolledAtMs = existing.EnrolledAtMs
		agent.Score = existing.Score
		agent.LastAssignedAtMs = existing.LastAssignedAtMs
	}
	if agent.MaxSlots <= 0 {
		agent.MaxSlots = 1
	}
	if err := s.cfg.Database.SaveAgent(ctx, agent); err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"agentId":  agent.ID,
		"os":       agent.OS,
		"role":     agent.Role,
		"approval": agent.Approval,
	}).Info("Agent enrolled")

	return &api.EnrollResponse{
		AgentID:        agent.ID,
		Status:         agent.Approval,
		WalletRequired: agent.Role == api.RoleIdeEnabled && agent.WalletAccount == "",
	}, nil
}

// Heartbeat updates liveness and power telemetry.
func (s *Service) Heartbeat(ctx context.Context, agentID string, telemetry *api.PowerTelemetry) (*api.Agent, error) {
	if err := s.checkBlacklist(ctx, agentID); err != nil {
		return nil, err
	}
	mu := s.lockFor(agentID)
	mu.Lock()
	defer mu.Unlock()

	agent, err := s.cfg.Database.Agent(ctx, agentID)
	if db.IsNotFound(err) {
		return nil, api.NewErrorf(api.CodeAgentNotRegistered, "agent %q is not registered", agentID)
	}
	if err != nil {
		return nil, err
	}
	if agent.Approval == api.ApprovalSuspended {
		return nil, api.NewErrorf(api.CodeAgentSuspended, "agent %q is suspended", agentID)
	}
	now := timeutils.NowUnixMilli()
	agent.LastSeenMs = now
	agent.MissCount = 0
	agent.Retired = false
	if telemetry != nil {
		telemetry.ReportedAtMs = now
		agent.Telemetry = telemetry
	}
	if err := s.cfg.Database.SaveAgent(ctx, agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// SetMode changes the agent's work-acceptance mode. Mode changes also
// refresh liveness.
func (s *Service) SetMode(ctx context.Context, agentID, mode string) error {
	switch mode {
	case api.ModeAuto, api.ModeLocalOnly, api.ModePaused:
	default:
		return api.NewErrorf(api.CodeValidationFailed, "unknown mode %q", mode)
	}
	return s.mutate(ctx, agentID, func(agent *api.Agent) error {
		agent.Mode = mode
		agent.LastSeenMs = timeutils.NowUnixMilli()
		return nil
	})
}

// SetLocalModel records the local inference model an agent advertises.
func (s *Service) SetLocalModel(ctx context.Context, agentID, model string) error {
	return s.mutate(ctx, agentID, func(agent *api.Agent) error {
		agent.LocalModel = model
		agent.LastSeenMs = timeutils.NowUnixMilli()
		return nil
	})
}

// Approve admits a pending agent.
func (s *Service) Approve(ctx context.Context, agentID string) error {
	return s.mutate(ctx, agentID, func(agent *api.Agent) error {
		agent.Approval = api.ApprovalApproved
		return nil
	})
}

// Suspend blocks an agent from all admission paths until re-approved.
func (s *Service) Suspend(ctx context.Context, agentID string) error {
	return s.mutate(ctx, agentID, func(agent *api.Agent) error {
		agent.Approval = api.ApprovalSuspended
		return nil
	})
}

// Reject hard-purges an agent row. A rejected agent must re-enroll from
// scratch.
func (s *Service) Reject(ctx context.Context, agentID string) error {
	mu := s.lockFor(agentID)
	mu.Lock()
	defer mu.Unlock()
	if _, err := s.cfg.Database.Agent(ctx, agentID); db.IsNotFound(err) {
		return api.NewErrorf(api.CodeAgentNotRegistered, "agent %q is not registered", agentID)
	} else if err != nil {
		return err
	}
	log.WithField("agentId", agentID).Warn("Agent revoked")
	return s.cfg.Database.DeleteAgent(ctx, agentID)
}

// LinkWallet attaches a wallet account to an agent.
func (s *Service) LinkWallet(ctx context.Context, agentID, walletAccount string) error {
	return s.mutate(ctx, agentID, func(agent *api.Agent) error {
		agent.WalletAccount = walletAccount
		return nil
	})
}

// ReportOutcome folds a subtask outcome into the agent's rolling score
// and assignment bookkeeping.
func (s *Service) ReportOutcome(ctx context.Context, agentID string, success bool) {
	err := s.mutate(ctx, agentID, func(agent *api.Agent) error {
		if success {
			agent.Score += scoreSuccessDelta
		} else {
			agent.Score += scoreFailureDelta
		}
		return nil
	})
	if err != nil {
		log.WithError(err).WithField("agentId", agentID).Debug("Could not record outcome")
	}
}

// MarkAssigned stamps the agent's last-assignment time, consumed by the
// power policy cooldown and the selection round-robin.
func (s *Service) MarkAssigned(ctx context.Context, agentID string, atMs int64) error {
	return s.mutate(ctx, agentID, func(agent *api.Agent) error {
		agent.LastAssignedAtMs = atMs
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, agentID string, fn func(*api.Agent) error) error {
	mu := s.lockFor(agentID)
	mu.Lock()
	defer mu.Unlock()

	agent, err := s.cfg.Database.Agent(ctx, agentID)
	if db.IsNotFound(err) {
		return api.NewErrorf(api.CodeAgentNotRegistered, "agent %q is not registered", agentID)
	}
	if err != nil {
		return err
	}
	if err := fn(agent); err != nil {
		return err
	}
	return s.cfg.Database.SaveAgent(ctx, agent)
}

func (s *Service) checkBlacklist(ctx context.Context, agentID string) error {
	if s.cfg.Blacklist == nil {
		return nil
	}
	blacklisted, err := s.cfg.Blacklist.IsBlacklisted(ctx, agentID)
	if err != nil {
		return err
	}
	if blacklisted {
		return api.NewErrorf(api.CodeAgentSuspended, "agent %q is blacklisted", agentID)
	}
	return nil
}

// PublicKeyOf satisfies the auth key resolver over registered agents.
func (s *Service) PublicKeyOf(sourceID string) (ed25519.PublicKey, error) {
	agent, err := s.cfg.Database.Agent(s.ctx, sourceID)
	if err != nil {
		return nil, err
	}
	return agent.PublicKey, nil
}

// sweep re-derives liveness, decays scores and soft-deletes agents past
// the sustained-miss horizon.
func (s *Service) sweep() {
	agents, err := s.cfg.Database.Agents(s.ctx)
	if err != nil {
		log.WithError(err).Error("Liveness sweep failed")
		return
	}
	now := timeutils.NowUnixMilli()
	cfg := params.Coordinator()
	for _, agent := range agents {
		mu := s.lockFor(agent.ID)
		mu.Lock()
		changed := false
		if now-agent.LastSeenMs > cfg.AgentHealthyThreshold.Milliseconds() {
			agent.MissCount++
			changed = true
		}
		if !agent.Retired && now-agent.LastSeenMs > cfg.AgentRetirementThreshold.Milliseconds() {
			agent.Retired = true
			changed = true
			log.WithField("agentId", agent.ID).Info("Agent retired after sustained miss")
		}
		if agent.Score != 0 {
			agent.Score *= scoreDecayFactor
			changed = true
		}
		if changed {
			if err := s.cfg.Database.SaveAgent(s.ctx, agent); err != nil {
				log.WithError(err).WithField("agentId", agent.ID).Error("Could not persist sweep update")
			}
		}
		mu.Unlock()
	}
}
