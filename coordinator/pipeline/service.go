// Package pipeline runs submitted tasks through decomposition, dependency
// tracking, power-aware dispatch and result collection. Agents work in a
// pull model: they fetch signed offers, acknowledge them and stream
// progress until a result lands.
package pipeline

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulbellamy/ratecounter"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/enclavecode/swarm/async"
	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/db"
	"github.com/enclavecode/swarm/coordinator/inference"
	"github.com/enclavecode/swarm/shared/params"
	"github.com/enclavecode/swarm/shared/timeutils"
)

var log = logrus.WithField("prefix", "pipeline")

// AgentRegistry is the slice of the registry the pipeline drives.
type AgentRegistry interface {
	MarkAssigned(ctx context.Context, agentID string, atMs int64) error
	ReportOutcome(ctx context.Context, agentID string, success bool)
}

// BlacklistChecker gates task admission and pulls.
type BlacklistChecker interface {
	IsBlacklisted(ctx context.Context, agentID string) (bool, error)
}

// LedgerAppender records escalations and work credits.
type LedgerAppender interface {
	Append(ctx context.Context, payloadType string, payload interface{}, actor string) (*api.LedgerEntry, error)
}

// CreditBooker credits workers for completed subtasks.
type CreditBooker interface {
	EnsureAccount(ctx context.Context, accountID, ownerUserID string) (*api.CreditAccount, error)
	Earn(ctx context.Context, accountID string, amountSats int64, held bool, memo string) error
}

// Config options for the pipeline service.
type Config struct {
	Database  db.Database
	Registry  AgentRegistry
	Blacklist BlacklistChecker
	Ledger    LedgerAppender
	Inference inference.Client
	Economy   CreditBooker
	Escalator Escalator
	// RewardSats resolves the per-subtask work credit. Nil disables
	// crediting.
	RewardSats    func() int64
	SigningKey    ed25519.PrivateKey
	CoordinatorID string
}

// Service implements the task pipeline.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *Config

	mu       sync.Mutex
	queue    *readyQueue
	tracker  *depTracker
	offers   map[string]*offer
	running  map[string]*api.Subtask
	inFlight map[string]int   // agent id -> offered+running subtasks
	cancels  map[string]int64 // subtask id -> cancel grace deadline

	fingerprints *fingerprintCache
	completed    *ratecounter.RateCounter
}

// NewService creates the pipeline service.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	if cfg.Database == nil || cfg.Registry == nil || cfg.Inference == nil {
		return nil, errors.New("pipeline requires a database, a registry and an inference client")
	}
	if len(cfg.SigningKey) != ed25519.PrivateKeySize {
		return nil, errors.New("pipeline requires a coordinator signing key")
	}
	fingerprints, err := newFingerprintCache(params.Coordinator().FingerprintCacheSize)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		ctx:          ctx,
		cancel:       cancel,
		cfg:          cfg,
		queue:        newReadyQueue(),
		tracker:      newDepTracker(),
		offers:       make(map[string]*offer),
		running:      make(map[string]*api.Subtask),
		inFlight:     make(map[string]int),
		cancels:      make(map[string]int64),
		fingerprints: fingerprints,
		completed:    ratecounter.NewRateCounter(time.Minute),
	}, nil
}

// Start recovers persisted work and launches the dispatcher sweeps.
func (s *Service) Start() {
	if err := s.recover(); err != nil {
		log.WithError(err).Error("Pipeline recovery failed")
	}
	async.RunEvery(s.ctx, params.Coordinator().DispatchInterval, s.sweepOffers)
	async.RunEvery(s.ctx, params.Coordinator().ProgressInterval, s.sweepStale)
	async.RunEvery(s.ctx, time.Minute, s.logThroughput)
}

// Stop terminates the sweeps.
func (s *Service) Stop() error {
	s.cancel()
	return nil
}

// Status always reports healthy; dispatch failures surface per task.
func (s *Service) Status() error {
	return nil
}

// Counts reports queued and running subtasks for the status endpoint.
func (s *Service) Counts() (queued, running int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len(), len(s.running)
}

// logThroughput reports subtask completions over the last minute.
func (s *Service) logThroughput() {
	rate := s.completed.Rate()
	if rate == 0 {
		return
	}
	queued, running := s.Counts()
	log.WithFields(logrus.Fields{
		"completedPerMin": rate,
		"queued":          queued,
		"running":         running,
	}).Info("Pipeline throughput")
}

// Submit validates, decomposes and admits a task. Resubmitting an
// identical prompt+snapshot+language returns the already-admitted task.
func (s *Service) Submit(ctx context.Context, req *api.SubmitRequest) (*api.SubmitResponse, error) {
	if req.Prompt == "" {
		return nil, api.NewError(api.CodeValidationFailed, "prompt is required")
	}
	if err := validateSnapshotRef(req.SnapshotRef); err != nil {
		return nil, err
	}
	fingerprint := Fingerprint(req.Prompt, req.SnapshotRef, req.Language)
	if taskID, ok := s.fingerprints.TaskID(fingerprint); ok {
		return &api.SubmitResponse{TaskID: taskID}, nil
	}
	if taskID, err := s.cfg.Database.TaskIDByFingerprint(ctx, fingerprint); err == nil {
		s.fingerprints.Remember(fingerprint, taskID)
		return &api.SubmitResponse{TaskID: taskID}, nil
	} else if !db.IsNotFound(err) {
		return nil, err
	}

	timeoutMs := req.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = params.Coordinator().DefaultTaskTimeout.Milliseconds()
	}
	task := &api.Task{
		ID:            uuid.NewString(),
		Account:       req.Account,
		Prompt:        req.Prompt,
		Language:      req.Language,
		SnapshotRef:   req.SnapshotRef,
		ResourceClass: req.ResourceClass,
		Priority:      req.Priority,
		TimeoutMs:     timeoutMs,
		SubmittedAtMs: timeutils.NowUnixMilli(),
		Status:        api.TaskDecomposing,
		Fingerprint:   fingerprint,
	}

	specs, err := s.cfg.Inference.Decompose(ctx, task)
	if err != nil {
		return nil, api.NewErrorf(api.CodePeerUnreachable, "decomposition failed: %v", err)
	}
	if max := params.Coordinator().MaxSubtasksPerTask; len(specs) > max {
		return nil, api.NewErrorf(api.CodeValidationFailed, "decomposition produced %d subtasks, limit is %d", len(specs), max)
	}
	if err := ValidateGraph(specs); err != nil {
		return nil, err
	}

	subtasks := buildSubtasks(task, specs)
	task.Status = api.TaskQueued
	for _, subtask := range subtasks {
		task.SubtaskIDs = append(task.SubtaskIDs, subtask.ID)
	}
	if err := s.cfg.Database.AdmitTask(ctx, task, subtasks); err != nil {
		return nil, err
	}
	s.fingerprints.Remember(fingerprint, task.ID)

	s.mu.Lock()
	for _, subtask := range subtasks {
		if s.tracker.Add(subtask) {
			subtask.Status = api.SubtaskReady
			s.queue.Enqueue(subtask)
		}
	}
	s.mu.Unlock()

	log.WithFields(logrus.Fields{
		"taskId":   task.ID,
		"subtasks": len(subtasks),
	}).Info("Task admitted")
	return &api.SubmitResponse{TaskID: task.ID}, nil
}

// Task returns a task with its subtasks.
func (s *Service) Task(ctx context.Context, taskID string) (*api.Task, []*api.Subtask, error) {
	task, err := s.cfg.Database.Task(ctx, taskID)
	if db.IsNotFound(err) {
		return nil, nil, api.NewErrorf(api.CodeTaskNotFound, "task %q does not exist", taskID)
	}
	if err != nil {
		return nil, nil, err
	}
	subtasks, err := s.cfg.Database.SubtasksByTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	return task, subtasks, nil
}

// Cancel ends a task: ready and pending subtasks are cancelled outright,
// in-flight workers get the cancel grace period to stop and report.
func (s *Service) Cancel(ctx context.Context, taskID string) error {
	task, err := s.cfg.Database.Task(ctx, taskID)
	if db.IsNotFound(err) {
		return api.NewErrorf(api.CodeTaskNotFound, "task %q does not exist", taskID)
	}
	if err != nil {
		return err
	}
	switch task.Status {
	case api.TaskCancelled:
		return api.NewErrorf(api.CodeAlreadyCancelled, "task %q is already cancelled", taskID)
	case api.TaskSucceeded, api.TaskFailed:
		return api.NewErrorf(api.CodeAlreadyCancelled, "task %q already finished as %s", taskID, task.Status)
	}

	subtasks, err := s.cfg.Database.SubtasksByTask(ctx, taskID)
	if err != nil {
		return err
	}
	deadline := timeutils.NowUnixMilli() + params.Coordinator().CancelGracePeriod.Milliseconds()

	s.mu.Lock()
	for _, subtask := range subtasks {
		switch subtask.Status {
		case api.SubtaskReady, api.SubtaskOffered:
			s.queue.Remove(subtask.ID)
			s.dropOffersLocked(subtask.ID)
			subtask.Status = api.SubtaskCancelled
		case api.SubtaskPending:
			s.tracker.Drop(subtask.ID)
			subtask.Status = api.SubtaskCancelled
		case api.SubtaskRunning:
			// Grace period: the worker learns through its next progress
			// report and must stop within it.
			s.cancels[subtask.ID] = deadline
			continue
		default:
			continue
		}
		if err := s.cfg.Database.SaveSubtask(ctx, subtask); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()

	task.Status = api.TaskCancelled
	if err := s.cfg.Database.SaveTask(ctx, task); err != nil {
		return err
	}
	log.WithField("taskId", taskID).Info("Task cancelled")
	return nil
}

// Result lands a subtask outcome: success stores the output and releases
// dependents; failure retries, fails the parent or escalates.
func (s *Service) Result(ctx context.Context, req *api.ResultRequest) (*api.ResultResponse, error) {
	s.mu.Lock()
	subtask, ok := s.running[req.SubtaskID]
	if ok {
		delete(s.running, req.SubtaskID)
		delete(s.cancels, req.SubtaskID)
		s.inFlight[subtask.AssignedTo]--
	}
	s.mu.Unlock()

	if !ok {
		return nil, api.NewErrorf(api.CodeTaskNotFound, "subtask %q is not running", req.SubtaskID)
	}
	if subtask.AssignedTo != req.AgentID {
		return nil, api.NewErrorf(api.CodeValidationFailed, "subtask %q is assigned to another agent", req.SubtaskID)
	}

	if !req.OK {
		s.cfg.Registry.ReportOutcome(ctx, req.AgentID, false)
		if req.ErrorCode == errCodeExceedsLocalCapability {
			subtask.Status = api.SubtaskFailed
			subtask.Error = req.Error
			if err := s.cfg.Database.SaveSubtask(ctx, subtask); err != nil {
				return nil, err
			}
			s.finishTask(ctx, subtask.TaskID, subtask, req.ErrorCode)
			return &api.ResultResponse{Ack: true}, nil
		}
		s.retryOrFail(ctx, subtask, req.Error)
		return &api.ResultResponse{Ack: true}, nil
	}

	subtask.Status = api.SubtaskSucceeded
	subtask.Output = req.Output
	subtask.Envelope = req.Envelope
	if err := s.cfg.Database.SaveSubtask(ctx, subtask); err != nil {
		return nil, err
	}
	s.cfg.Registry.ReportOutcome(ctx, req.AgentID, true)
	s.creditWorker(ctx, req.AgentID, subtask)
	s.completed.Incr(1)

	s.mu.Lock()
	released := s.tracker.Complete(subtask.ID, req.Output)
	for _, next := range released {
		next.Status = api.SubtaskReady
		if err := s.cfg.Database.SaveSubtask(ctx, next); err != nil {
			log.WithError(err).WithField("subtaskId", next.ID).Error("Could not persist release")
		}
		s.queue.Enqueue(next)
	}
	s.mu.Unlock()

	s.maybeCompleteTask(ctx, subtask.TaskID)
	return &api.ResultResponse{Ack: true}, nil
}

// creditWorker books the subtask reward, held when the agent is
// ide-enabled without a linked wallet.
func (s *Service) creditWorker(ctx context.Context, agentID string, subtask *api.Subtask) {
	if s.cfg.Economy == nil || s.cfg.RewardSats == nil {
		return
	}
	reward := s.cfg.RewardSats()
	if reward <= 0 {
		return
	}
	agent, err := s.cfg.Database.Agent(ctx, agentID)
	if err != nil {
		log.WithError(err).WithField("agentId", agentID).Error("Could not load agent for crediting")
		return
	}
	if _, err := s.cfg.Economy.EnsureAccount(ctx, agentID, ""); err != nil {
		log.WithError(err).WithField("agentId", agentID).Error("Could not ensure credit account")
		return
	}
	held := agent.Role == api.RoleIdeEnabled && agent.WalletAccount == ""
	if err := s.cfg.Economy.Earn(ctx, agentID, reward, held, subtask.ID); err != nil {
		log.WithError(err).WithField("agentId", agentID).Error("Could not credit work")
	}
}

// maybeCompleteTask marks the parent succeeded once every subtask is
// terminal and none failed.
func (s *Service) maybeCompleteTask(ctx context.Context, taskID string) {
	subtasks, err := s.cfg.Database.SubtasksByTask(ctx, taskID)
	if err != nil {
		log.WithError(err).WithField("taskId", taskID).Error("Could not inspect task completion")
		return
	}
	for _, subtask := range subtasks {
		if subtask.Status != api.SubtaskSucceeded {
			return
		}
	}
	task, err := s.cfg.Database.Task(ctx, taskID)
	if err != nil {
		log.WithError(err).Error("Could not load completing task")
		return
	}
	task.Status = api.TaskSucceeded
	if err := s.cfg.Database.SaveTask(ctx, task); err != nil {
		log.WithError(err).Error("Could not persist completed task")
		return
	}
	log.WithField("taskId", taskID).Info("Task succeeded")
}

// finishTask ends the parent after a subtask exhausted its attempts:
// escalated when an escalator is configured, failed otherwise.
func (s *Service) finishTask(ctx context.Context, taskID string, subtask *api.Subtask, cause string) {
	task, err := s.cfg.Database.Task(ctx, taskID)
	if err != nil {
		log.WithError(err).WithField("taskId", taskID).Error("Could not load failing task")
		return
	}
	if task.Status == api.TaskCancelled {
		return
	}
	if s.cfg.Escalator != nil {
		s.escalate(ctx, task, subtask, cause)
		return
	}
	task.Status = api.TaskFailed
	task.FailureCode = cause
	if err := s.cfg.Database.SaveTask(ctx, task); err != nil {
		log.WithError(err).Error("Could not persist failed task")
	}
	log.WithFields(logrus.Fields{
		"taskId": taskID,
		"cause":  cause,
	}).Warn("Task failed")
}

// recover rebuilds the in-memory queue and tracker from persisted state
// after a restart. Offered and running subtasks return to ready: their
// workers re-pull.
func (s *Service) recover() error {
	tasks, err := s.cfg.Database.Tasks(s.ctx)
	if err != nil {
		return err
	}
	recovered := 0
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range tasks {
		if task.Status != api.TaskQueued && task.Status != api.TaskRunning {
			continue
		}
		subtasks, err := s.cfg.Database.SubtasksByTask(s.ctx, task.ID)
		if err != nil {
			return err
		}
		// Replay completed outputs first so pending release logic holds.
		for _, subtask := range subtasks {
			if subtask.Status == api.SubtaskSucceeded {
				s.tracker.Complete(subtask.ID, subtask.Output)
			}
		}
		for _, subtask := range subtasks {
			switch subtask.Status {
			case api.SubtaskPending:
				if s.tracker.Add(subtask) {
					subtask.Status = api.SubtaskReady
					s.queue.Enqueue(subtask)
				}
			case api.SubtaskReady, api.SubtaskOffered, api.SubtaskRunning:
				subtask.Status = api.SubtaskReady
				subtask.AssignedTo = ""
				if err := s.cfg.Database.SaveSubtask(s.ctx, subtask); err != nil {
					return err
				}
				s.queue.Enqueue(subtask)
			}
		}
		recovered++
	}
	if recovered > 0 {
		log.WithField("tasks", recovered).Info("Recovered in-flight tasks")
	}
	return nil
}

// markTaskRunning advances a queued task on first assignment.
func (s *Service) markTaskRunning(ctx context.Context, taskID string) error {
	task, err := s.cfg.Database.Task(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != api.TaskQueued {
		return nil
	}
	task.Status = api.TaskRunning
	return s.cfg.Database.SaveTask(ctx, task)
}

// buildSubtasks materialises decomposition specs into persisted subtask
// rows. Spec-local ids are namespaced by the task id.
func buildSubtasks(task *api.Task, specs []inference.SubtaskSpec) []*api.Subtask {
	globalID := func(local string) string { return task.ID + ":" + local }
	subtasks := make([]*api.Subtask, 0, len(specs))
	for _, spec := range specs {
		kind := spec.Kind
		if kind == "" {
			kind = api.SubtaskSingleStep
		}
		resourceClass := spec.ResourceClass
		if resourceClass == "" {
			resourceClass = task.ResourceClass
		}
		timeoutMs := spec.TimeoutMs
		if timeoutMs <= 0 {
			timeoutMs = task.TimeoutMs
		}
		deps := make([]string, 0, len(spec.DependsOn))
		for _, dep := range spec.DependsOn {
			deps = append(deps, globalID(dep))
		}
		status := api.SubtaskPending
		if len(deps) == 0 {
			status = api.SubtaskReady
		}
		subtasks = append(subtasks, &api.Subtask{
			ID:            globalID(spec.ID),
			TaskID:        task.ID,
			Kind:          kind,
			Input:         spec.Input,
			TimeoutMs:     timeoutMs,
			DependsOn:     deps,
			ResourceClass: resourceClass,
			Priority:      task.Priority,
			Status:        status,
		})
	}
	return subtasks
}

// validateSnapshotRef accepts a 40-hex VCS revision or an https snapshot
// URL, nothing else.
func validateSnapshotRef(ref string) error {
	if ref == "" {
		return api.NewError(api.CodeBadSnapshotRef, "snapshotRef is required")
	}
	if len(ref) == 40 && isHex(ref) {
		return nil
	}
	if strings.HasPrefix(ref, "https://") {
		if u, err := url.Parse(ref); err == nil && u.Host != "" {
			return nil
		}
	}
	return api.NewErrorf(api.CodeBadSnapshotRef, "snapshotRef %q is neither a 40-hex revision nor an https URL", ref)
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}
