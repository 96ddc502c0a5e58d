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

// taskStep describes one private-task transition.
type taskStep struct {
	action Action
	// authorize runs on the locked task before the state table is consulted.
	authorize func(t *domain.Task) error
	// apply mutates the task after the status change and may append ledger
	// entries through tx.
	apply func(ctx context.Context, tx storage.Store, t *domain.Task, now time.Time) ([]*domain.LedgerEntry, error)
}

func (m *Manager) transitionTask(ctx context.Context, id uuid.UUID, step taskStep) (*domain.Task, error) {
	var (
		out     *domain.Task
		entries []*domain.LedgerEntry
		noop    bool
	)
	now := m.clock()
	err := m.store.InTx(ctx, func(tx storage.Store) error {
		t, err := tx.LockTask(ctx, id)
		if err != nil {
			return err
		}
		if t.Type != domain.TaskPrivate {
			return fmt.Errorf("%w: public tasks change state through their instances", domain.ErrInvalidTransition)
		}
		if step.authorize != nil {
			if err := step.authorize(t); err != nil {
				return err
			}
		}
		next, isNoop, err := NextTaskStatus(t.Status, step.action)
		if err != nil {
			return err
		}
		if isNoop {
			out, noop = t, true
			return nil
		}
		prev := t.Status
		t.Status = next
		t.UpdatedAt = now
		if step.apply != nil {
			if entries, err = step.apply(ctx, tx, t, now); err != nil {
				return err
			}
		}
		if err := tx.UpdateTask(ctx, t, prev); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if noop {
		m.log.Debug("repeated transition ignored", "task", id, "action", step.action)
		return out, nil
	}

	ev := domain.Event{
		Type:     domain.EventTaskTransitioned,
		TaskID:   out.ID,
		Action:   string(step.action),
		Status:   string(out.Status),
		Feedback: out.Feedback,
		At:       now,
	}
	if out.AssignedToID != nil {
		ev.UserID = *out.AssignedToID
	}
	evs := append([]domain.Event{ev}, ledger.Committed(entries, "")...)
	m.log.Info("task transitioned", "task", out.ID, "action", step.action, "status", out.Status)
	m.commit(ctx, "task", step.action, evs)
	return out, nil
}

func isAssignee(t *domain.Task, actor domain.Actor) bool {
	return t.AssignedToID != nil && *t.AssignedToID == actor.UserID
}

// Start moves a NEW task to IN_PROGRESS. An assigned task is started by its
// assignee; an unassigned one by any user the audience admits, who becomes
// the assignee.
func (m *Manager) Start(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Task, error) {
	return m.transitionTask(ctx, id, taskStep{
		action: ActionStart,
		authorize: func(t *domain.Task) error {
			if t.AssignedToID != nil {
				if !isAssignee(t, actor) {
					return domain.ErrForbidden
				}
				return nil
			}
			if !t.TargetAudience.Admits(actor.Role) {
				return domain.ErrForbidden
			}
			return nil
		},
		apply: func(_ context.Context, _ storage.Store, t *domain.Task, _ time.Time) ([]*domain.LedgerEntry, error) {
			if t.AssignedToID == nil {
				uid := actor.UserID
				t.AssignedToID = &uid
				t.SelfAssigned = true
			}
			return nil, nil
		},
	})
}

// ReturnToQueue moves an IN_PROGRESS task back to NEW. A self-assignment
// made by Start is released.
func (m *Manager) ReturnToQueue(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Task, error) {
	return m.transitionTask(ctx, id, taskStep{
		action:    ActionReturnToQueue,
		authorize: curates(actor),
		apply: func(_ context.Context, _ storage.Store, t *domain.Task, _ time.Time) ([]*domain.LedgerEntry, error) {
			if t.SelfAssigned {
				t.AssignedToID = nil
				t.SelfAssigned = false
			}
			return nil, nil
		},
	})
}

// SubmitTask hands the assignee's report in for review.
func (m *Manager) SubmitTask(ctx context.Context, actor domain.Actor, id uuid.UUID, sub Submission) (*domain.Task, error) {
	sub, err := sub.normalize()
	if err != nil {
		return nil, err
	}
	return m.transitionTask(ctx, id, taskStep{
		action: ActionSubmit,
		authorize: func(t *domain.Task) error {
			if !isAssignee(t, actor) {
				return domain.ErrForbidden
			}
			return nil
		},
		apply: func(_ context.Context, _ storage.Store, t *domain.Task, _ time.Time) ([]*domain.LedgerEntry, error) {
			t.Report = sub.Description
			t.EvidenceLinks = sub.EvidenceLinks
			t.Verification = sub.Verification
			t.Feedback = ""
			return nil, nil
		},
	})
}

// ApproveTask completes a task under review and grants its reward to the
// assignee. Approving an already COMPLETED task changes nothing.
func (m *Manager) ApproveTask(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Task, error) {
	return m.transitionTask(ctx, id, taskStep{
		action:    ActionApprove,
		authorize: curates(actor),
		apply: func(ctx context.Context, tx storage.Store, t *domain.Task, now time.Time) ([]*domain.LedgerEntry, error) {
			completed := now
			t.CompletedAt = &completed
			if t.AssignedToID == nil {
				return nil, fmt.Errorf("%w: task %s has no assignee", domain.ErrInvalidTransition, t.ID)
			}
			c, amount := t.Reward()
			entry, err := ledger.Append(ctx, tx, *t.AssignedToID, c, amount, taskReason(t.ID), now)
			if err != nil {
				return nil, err
			}
			return []*domain.LedgerEntry{entry}, nil
		},
	})
}

// RejectTask rejects a task under review. feedback is required.
func (m *Manager) RejectTask(ctx context.Context, actor domain.Actor, id uuid.UUID, feedback string) (*domain.Task, error) {
	feedback, err := requireFeedback(feedback)
	if err != nil {
		return nil, err
	}
	return m.transitionTask(ctx, id, taskStep{
		action:    ActionReject,
		authorize: curates(actor),
		apply: func(_ context.Context, _ storage.Store, t *domain.Task, _ time.Time) ([]*domain.LedgerEntry, error) {
			t.Feedback = feedback
			return nil, nil
		},
	})
}

// ReopenTask lets the assignee rework a rejected task.
func (m *Manager) ReopenTask(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Task, error) {
	return m.transitionTask(ctx, id, taskStep{
		action:    ActionReopen,
		authorize: curates(actor),
	})
}

func curates(actor domain.Actor) func(*domain.Task) error {
	return func(t *domain.Task) error {
		if !actor.CanCurate(t.Ministry) {
			return domain.ErrForbidden
		}
		return nil
	}
}

func taskReason(id uuid.UUID) string { return "task:" + id.String() }
