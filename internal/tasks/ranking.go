package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/school-parliament/portal/internal/domain"
	"github.com/school-parliament/portal/internal/ledger"
	"github.com/school-parliament/portal/internal/metrics"
	"github.com/school-parliament/portal/internal/storage"
)

// SelectTop records the curator's shortlist for a ranked public task,
// replacing any earlier one. It grants nothing. Every id must name a
// completed, unpaid instance of the task, and at most topRanking ids are
// accepted. The shortlist is frozen once the deadline passes.
func (m *Manager) SelectTop(ctx context.Context, actor domain.Actor, taskID uuid.UUID, ids []uuid.UUID) (*domain.Task, error) {
	now := m.clock()
	var out *domain.Task
	err := m.store.InTx(ctx, func(tx storage.Store) error {
		t, err := tx.LockTask(ctx, taskID)
		if err != nil {
			return err
		}
		if !actor.CanCurate(t.Ministry) {
			return domain.ErrForbidden
		}
		if !t.Ranked() {
			return domain.ErrNotRanked
		}
		if t.TopAwarded {
			return domain.ErrAlreadyAwarded
		}
		if t.Deadline == nil || !now.Before(*t.Deadline) {
			return domain.ErrDeadlinePassed
		}
		if len(ids) > *t.TopRanking {
			return fmt.Errorf("%w: %d selected, top %d", domain.ErrTooManySelected, len(ids), *t.TopRanking)
		}

		seen := make(map[uuid.UUID]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				return fmt.Errorf("%w: %s listed twice", domain.ErrUnknownInstance, id)
			}
			seen[id] = true
			inst, err := tx.GetInstance(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%w: %s", domain.ErrUnknownInstance, id)
			}
			if err != nil {
				return err
			}
			if inst.TaskID != taskID || inst.Status != domain.InstanceCompleted || inst.Rewarded {
				return fmt.Errorf("%w: %s", domain.ErrUnknownInstance, id)
			}
		}

		t.SelectedTopInstances = append([]uuid.UUID(nil), ids...)
		t.UpdatedAt = now
		if err := tx.UpdateTask(ctx, t, t.Status); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("top selection recorded", "task", taskID, "selected", len(ids), "by", actor.UserID)
	m.pub.Publish(ctx, domain.Event{
		Type:      domain.EventTopSelected,
		TaskID:    taskID,
		Positions: out.SelectedTopInstances,
		At:        now,
	})
	return out, nil
}

// AwardTop pays the shortlist of a ranked task once its deadline has
// passed. In one transaction each selected instance, in selection order,
// gets topPosition i+1 and the task reward, then the task is marked
// awarded. Any failure leaves no grant behind and the task unawarded.
func (m *Manager) AwardTop(ctx context.Context, actor domain.Actor, taskID uuid.UUID) (*domain.Task, error) {
	now := m.clock()
	var (
		out     *domain.Task
		entries []*domain.LedgerEntry
	)
	err := m.store.InTx(ctx, func(tx storage.Store) error {
		t, err := tx.LockTask(ctx, taskID)
		if err != nil {
			return err
		}
		if !actor.CanCurate(t.Ministry) {
			return domain.ErrForbidden
		}
		if !t.Ranked() {
			return domain.ErrNotRanked
		}
		if t.TopAwarded {
			return domain.ErrAlreadyAwarded
		}
		if t.Deadline == nil || now.Before(*t.Deadline) {
			return domain.ErrDeadlineNotReached
		}
		if len(t.SelectedTopInstances) == 0 {
			return domain.ErrNoSelection
		}

		c, amount := t.Reward()
		for i, id := range t.SelectedTopInstances {
			inst, err := tx.LockInstance(ctx, id)
			if err != nil {
				return fmt.Errorf("loading selected instance %s: %w", id, err)
			}
			if inst.TaskID != taskID || inst.Status != domain.InstanceCompleted || inst.Rewarded {
				return fmt.Errorf("%w: %s is no longer awardable", domain.ErrUnknownInstance, id)
			}
			pos := i + 1
			inst.TopPosition = &pos
			inst.Rewarded = true
			inst.UpdatedAt = now
			if err := tx.UpdateInstance(ctx, inst, domain.InstanceCompleted); err != nil {
				return err
			}
			entry, err := ledger.Append(ctx, tx, inst.UserID, c, amount, topReason(taskID, pos), now)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}

		t.TopAwarded = true
		t.UpdatedAt = now
		if err := tx.UpdateTask(ctx, t, t.Status); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TopAwards.Inc()
	m.log.Info("top ranking awarded", "task", taskID, "winners", len(entries), "by", actor.Role)
	evs := []domain.Event{{
		Type:      domain.EventTopAwarded,
		TaskID:    taskID,
		Positions: out.SelectedTopInstances,
		At:        now,
	}}
	m.pub.Publish(ctx, append(evs, ledger.Committed(entries, "")...)...)
	return out, nil
}

func topReason(taskID uuid.UUID, pos int) string {
	return fmt.Sprintf("task:%s:top:%d", taskID, pos)
}

// awardDue reports whether t is ready for the batch award at now.
func awardDue(t *domain.Task, now time.Time) bool {
	return t.Ranked() && !t.TopAwarded && len(t.SelectedTopInstances) > 0 &&
		t.Deadline != nil && !now.Before(*t.Deadline)
}

// AwardDue runs AwardTop as the system actor for every ranked task whose
// deadline has passed. Tasks awarded concurrently by someone else are
// skipped. It returns how many tasks this call awarded.
func (m *Manager) AwardDue(ctx context.Context) (int, error) {
	due, err := m.store.DueRankedTasks(ctx, m.clock())
	if err != nil {
		return 0, fmt.Errorf("listing due tasks: %w", err)
	}
	var (
		awarded int
		errs    []error
	)
	for _, t := range due {
		if err := ctx.Err(); err != nil {
			return awarded, err
		}
		_, err := m.AwardTop(ctx, domain.SystemActor(), t.ID)
		switch {
		case err == nil:
			awarded++
		case errors.Is(err, domain.ErrAlreadyAwarded), errors.Is(err, domain.ErrNoSelection):
		default:
			m.log.Error("due award failed", "task", t.ID, "error", err)
			errs = append(errs, fmt.Errorf("task %s: %w", t.ID, err))
		}
	}
	return awarded, errors.Join(errs...)
}

// RunSweeper calls AwardDue every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.log.Info("award sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			m.log.Info("award sweeper stopped")
			return
		case <-ticker.C:
			if n, err := m.AwardDue(ctx); err != nil {
				m.log.Warn("award sweep incomplete", "awarded", n, "error", err)
			} else if n > 0 {
				m.log.Info("award sweep", "awarded", n)
			}
		}
	}
}
