package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/enclavecode/swarm/coordinator/api"
)

// Subtask error code that triggers immediate escalation.
const errCodeExceedsLocalCapability = "exceeds_local_capability"

// Escalator hands a task that exhausted local capability to a peer
// coordinator or to an external larger-model endpoint.
type Escalator interface {
	Escalate(ctx context.Context, task *api.Task, subtask *api.Subtask) (target string, err error)
}

// escalationEvent is the ledger payload recording a handoff.
type escalationEvent struct {
	TaskID    string `json:"taskId"`
	SubtaskID string `json:"subtaskId"`
	Target    string `json:"target"`
	Cause     string `json:"cause"`
}

// HTTPEscalator forwards the original prompt to an external model
// endpoint. The response is accepted as the subtask output.
type HTTPEscalator struct {
	Endpoint string
	Client   *http.Client
}

// NewHTTPEscalator creates an escalator against an external endpoint.
func NewHTTPEscalator(endpoint string, timeout time.Duration) *HTTPEscalator {
	return &HTTPEscalator{Endpoint: endpoint, Client: &http.Client{Timeout: timeout}}
}

// Escalate posts the task to the external endpoint.
func (e *HTTPEscalator) Escalate(ctx context.Context, task *api.Task, subtask *api.Subtask) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"taskId":   task.ID,
		"prompt":   task.Prompt,
		"input":    subtask.Input,
		"language": task.Language,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.Client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "escalation endpoint unreachable")
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("escalation endpoint returned %d", resp.StatusCode)
	}
	return e.Endpoint, nil
}

// escalate hands the task off and records the handoff on the ledger. A
// failed handoff leaves the task failed.
func (s *Service) escalate(ctx context.Context, task *api.Task, subtask *api.Subtask, cause string) {
	target, err := s.cfg.Escalator.Escalate(ctx, task, subtask)
	if err != nil {
		log.WithError(err).WithField("taskId", task.ID).Error("Escalation failed")
		task.Status = api.TaskFailed
		task.FailureCode = api.CodePeerUnreachable
	} else {
		task.Status = api.TaskEscalated
		log.WithFields(logrus.Fields{
			"taskId": task.ID,
			"target": target,
		}).Info("Task escalated")
		if s.cfg.Ledger != nil {
			if _, err := s.cfg.Ledger.Append(ctx, api.PayloadEscalation, &escalationEvent{
				TaskID:    task.ID,
				SubtaskID: subtask.ID,
				Target:    target,
				Cause:     cause,
			}, s.cfg.CoordinatorID); err != nil {
				log.WithError(err).Error("Could not record escalation")
			}
		}
	}
	if err := s.cfg.Database.SaveTask(ctx, task); err != nil {
		log.WithError(err).Error("Could not persist escalated task")
	}
}
