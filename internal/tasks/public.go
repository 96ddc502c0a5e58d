package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/school-parliament/portal/internal/domain"
	"github.com/school-parliament/portal/internal/ledger"
	"github.com/school-parliament/portal/internal/storage"
)

// TakeInstance starts the actor's attempt at a public task. Each user may
// take a task once, and only before its deadline.
func (m *Manager) TakeInstance(ctx context.Context, actor domain.Actor, taskID uuid.UUID) (*domain.PublicTaskInstance, error) {
	now := m.clock()
	var inst *domain.PublicTaskInstance
	err := m.store.InTx(ctx, func(tx storage.Store) error {
		t, err := tx.LockTask(ctx, taskID)
		if err != nil {
			return err
		}
		if t.Type != domain.TaskPublic {
			return fmt.Errorf("%w: only public tasks can be taken", domain.ErrInvalidTransition)
		}
		if !t.TargetAudience.Admits(actor.Role) {
			return domain.ErrForbidden
		}
		if t.DeadlinePassed(now) || t.TopAwarded {
			return domain.ErrDeadlinePassed
		}
		inst = &domain.PublicTaskInstance{
			ID:        uuid.New(),
			TaskID:    taskID,
			UserID:    actor.UserID,
			Status:    domain.InstanceInProgress,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.CreateInstance(ctx, inst)
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("public task taken", "task", taskID, "instance", inst.ID, "user", actor.UserID)
	m.commit(ctx, "instance", ActionTake, []domain.Event{{
		Type:       domain.EventInstanceTransitioned,
		UserID:     inst.UserID,
		TaskID:     taskID,
		InstanceID: inst.ID,
		Action:     string(ActionTake),
		Status:     string(inst.Status),
		At:         now,
	}})
	return inst, nil
}

type instanceStep struct {
	action    Action
	authorize func(t *domain.Task, inst *domain.PublicTaskInstance) error
	apply     func(ctx context.Context, tx storage.Store, t *domain.Task, inst *domain.PublicTaskInstance, now time.Time) ([]*domain.LedgerEntry, error)
}

func (m *Manager) transitionInstance(ctx context.Context, id uuid.UUID, step instanceStep) (*domain.PublicTaskInstance, error) {
	var (
		out     *domain.PublicTaskInstance
		entries []*domain.LedgerEntry
		noop    bool
	)
	now := m.clock()
	err := m.store.InTx(ctx, func(tx storage.Store) error {
		// Task before instance, the same order AwardTop locks in.
		peek, err := tx.GetInstance(ctx, id)
		if err != nil {
			return err
		}
		t, err := tx.LockTask(ctx, peek.TaskID)
		if err != nil {
			return err
		}
		inst, err := tx.LockInstance(ctx, id)
		if err != nil {
			return err
		}
		if step.authorize != nil {
			if err := step.authorize(t, inst); err != nil {
				return err
			}
		}
		next, isNoop, err := NextInstanceStatus(inst.Status, step.action)
		if err != nil {
			return err
		}
		if isNoop {
			out, noop = inst, true
			return nil
		}
		prev := inst.Status
		inst.Status = next
		inst.UpdatedAt = now
		if step.apply != nil {
			if entries, err = step.apply(ctx, tx, t, inst, now); err != nil {
				return err
			}
		}
		if err := tx.UpdateInstance(ctx, inst, prev); err != nil {
			return err
		}
		out = inst
		return nil
	})
	if err != nil {
		return nil, err
	}
	if noop {
		m.log.Debug("repeated transition ignored", "instance", id, "action", step.action)
		return out, nil
	}

	evs := append([]domain.Event{{
		Type:       domain.EventInstanceTransitioned,
		UserID:     out.UserID,
		TaskID:     out.TaskID,
		InstanceID: out.ID,
		Action:     string(step.action),
		Status:     string(out.Status),
		Feedback:   out.Feedback,
		At:         now,
	}}, ledger.Committed(entries, "")...)
	m.log.Info("instance transitioned", "instance", out.ID, "task", out.TaskID, "action", step.action, "status", out.Status)
	m.commit(ctx, "instance", step.action, evs)
	return out, nil
}

func curatesInstance(actor domain.Actor) func(*domain.Task, *domain.PublicTaskInstance) error {
	return func(t *domain.Task, _ *domain.PublicTaskInstance) error {
		if !actor.CanCurate(t.Ministry) {
			return domain.ErrForbidden
		}
		return nil
	}
}

// SubmitInstance hands the owner's evidence in for review.
func (m *Manager) SubmitInstance(ctx context.Context, actor domain.Actor, id uuid.UUID, sub Submission) (*domain.PublicTaskInstance, error) {
	sub, err := sub.normalize()
	if err != nil {
		return nil, err
	}
	return m.transitionInstance(ctx, id, instanceStep{
		action: ActionSubmit,
		authorize: func(_ *domain.Task, inst *domain.PublicTaskInstance) error {
			if inst.UserID != actor.UserID {
				return domain.ErrForbidden
			}
			return nil
		},
		apply: func(_ context.Context, _ storage.Store, _ *domain.Task, inst *domain.PublicTaskInstance, now time.Time) ([]*domain.LedgerEntry, error) {
			inst.Description = sub.Description
			inst.EvidenceLinks = sub.EvidenceLinks
			inst.Verification = sub.Verification
			inst.Feedback = ""
			submitted := now
			inst.SubmittedAt = &submitted
			return nil, nil
		},
	})
}

// ApproveOptions tunes ApproveInstance.
type ApproveOptions struct {
	// Immediate pays a ranked task's instance on approval instead of leaving
	// it to the top-N award. Unranked tasks always pay on approval.
	Immediate bool `json:"immediate"`
}

// ApproveInstance completes an instance under review. Unranked tasks (and
// ranked ones with opts.Immediate) pay the task reward to the owner at once;
// otherwise the instance becomes eligible for top-N selection. Approving a
// COMPLETED instance changes nothing.
func (m *Manager) ApproveInstance(ctx context.Context, actor domain.Actor, id uuid.UUID, opts ApproveOptions) (*domain.PublicTaskInstance, error) {
	return m.transitionInstance(ctx, id, instanceStep{
		action:    ActionApprove,
		authorize: curatesInstance(actor),
		apply: func(ctx context.Context, tx storage.Store, t *domain.Task, inst *domain.PublicTaskInstance, now time.Time) ([]*domain.LedgerEntry, error) {
			if t.Ranked() && !opts.Immediate {
				return nil, nil
			}
			if inst.Rewarded {
				return nil, nil
			}
			c, amount := t.Reward()
			entry, err := ledger.Append(ctx, tx, inst.UserID, c, amount, instanceReason(t.ID, inst.ID), now)
			if err != nil {
				return nil, err
			}
			inst.Rewarded = true
			return []*domain.LedgerEntry{entry}, nil
		},
	})
}

// RejectInstance rejects an instance under review. feedback is required.
func (m *Manager) RejectInstance(ctx context.Context, actor domain.Actor, id uuid.UUID, feedback string) (*domain.PublicTaskInstance, error) {
	feedback, err := requireFeedback(feedback)
	if err != nil {
		return nil, err
	}
	return m.transitionInstance(ctx, id, instanceStep{
		action:    ActionReject,
		authorize: curatesInstance(actor),
		apply: func(_ context.Context, _ storage.Store, _ *domain.Task, inst *domain.PublicTaskInstance, _ time.Time) ([]*domain.LedgerEntry, error) {
			inst.Feedback = feedback
			return nil, nil
		},
	})
}

// ReopenInstance lets the owner resubmit a rejected instance.
func (m *Manager) ReopenInstance(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.PublicTaskInstance, error) {
	return m.transitionInstance(ctx, id, instanceStep{
		action:    ActionReopen,
		authorize: curatesInstance(actor),
	})
}

func instanceReason(taskID, instanceID uuid.UUID) string {
	return fmt.Sprintf("task:%s:instance:%s", taskID, instanceID)
}
