package economy

import (
	"context"

	"github.com/google/uuid"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/db"
	"github.com/enclavecode/swarm/shared/timeutils"
)

// rolloutMilestone is the ledger payload of a rollout transition.
type rolloutMilestone struct {
	RolloutID string `json:"rolloutId"`
	Name      string `json:"name"`
	Action    string `json:"action"`
	Stage     int    `json:"stage"`
	Percent   int    `json:"percent"`
}

// CreateRollout starts a staged rollout at its first stage.
func (s *Service) CreateRollout(ctx context.Context, name string, stages []int) (*api.Rollout, error) {
	if name == "" || len(stages) == 0 {
		return nil, api.NewError(api.CodeValidationFailed, "name and at least one stage are required")
	}
	prev := 0
	for _, pct := range stages {
		if pct <= prev || pct > 100 {
			return nil, api.NewError(api.CodeValidationFailed, "stages must be strictly increasing percentages within (0, 100]")
		}
		prev = pct
	}
	rollout := &api.Rollout{
		ID:          uuid.NewString(),
		Name:        name,
		Stage:       0,
		Stages:      stages,
		State:       api.RolloutActive,
		UpdatedAtMs: timeutils.NowUnixMilli(),
	}
	if err := s.cfg.Database.SaveRollout(ctx, rollout); err != nil {
		return nil, err
	}
	if err := s.appendRolloutMilestone(ctx, rollout, "create"); err != nil {
		return nil, err
	}
	return rollout, nil
}

// PromoteRollout advances the rollout one stage. Promoting past the last
// stage or after a rollback is rejected.
func (s *Service) PromoteRollout(ctx context.Context, id string) (*api.Rollout, error) {
	rollout, err := s.rollout(ctx, id)
	if err != nil {
		return nil, err
	}
	switch rollout.State {
	case api.RolloutRolledBack:
		return nil, api.NewErrorf(api.CodeCannotPromoteRolledBack, "rollout %q was rolled back", id)
	case api.RolloutComplete:
		return nil, api.NewErrorf(api.CodeAlreadyFullyRolledOut, "rollout %q is already at 100%%", id)
	}
	rollout.Stage++
	if rollout.Stage >= len(rollout.Stages)-1 {
		rollout.Stage = len(rollout.Stages) - 1
		rollout.State = api.RolloutComplete
	}
	rollout.UpdatedAtMs = timeutils.NowUnixMilli()
	if err := s.cfg.Database.SaveRollout(ctx, rollout); err != nil {
		return nil, err
	}
	if err := s.appendRolloutMilestone(ctx, rollout, "promote"); err != nil {
		return nil, err
	}
	return rollout, nil
}

// RollbackRollout halts the rollout at its current stage. Terminal.
func (s *Service) RollbackRollout(ctx context.Context, id string) (*api.Rollout, error) {
	rollout, err := s.rollout(ctx, id)
	if err != nil {
		return nil, err
	}
	if rollout.State == api.RolloutRolledBack {
		return rollout, nil
	}
	rollout.State = api.RolloutRolledBack
	rollout.UpdatedAtMs = timeutils.NowUnixMilli()
	if err := s.cfg.Database.SaveRollout(ctx, rollout); err != nil {
		return nil, err
	}
	if err := s.appendRolloutMilestone(ctx, rollout, "rollback"); err != nil {
		return nil, err
	}
	return rollout, nil
}

// Rollouts lists every rollout record.
func (s *Service) Rollouts(ctx context.Context) ([]api.Rollout, error) {
	rollouts, err := s.cfg.Database.Rollouts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]api.Rollout, 0, len(rollouts))
	for _, r := range rollouts {
		out = append(out, *r)
	}
	return out, nil
}

func (s *Service) rollout(ctx context.Context, id string) (*api.Rollout, error) {
	rollout, err := s.cfg.Database.Rollout(ctx, id)
	if db.IsNotFound(err) {
		return nil, api.NewErrorf(api.CodeTaskNotFound, "rollout %q does not exist", id)
	}
	return rollout, err
}

func (s *Service) appendRolloutMilestone(ctx context.Context, rollout *api.Rollout, action string) error {
	_, err := s.cfg.Ledger.Append(ctx, api.PayloadRollout, &rolloutMilestone{
		RolloutID: rollout.ID,
		Name:      rollout.Name,
		Action:    action,
		Stage:     rollout.Stage,
		Percent:   rollout.Stages[rollout.Stage],
	}, s.cfg.CoordinatorID)
	return err
}
