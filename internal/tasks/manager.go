// Package tasks is the task lifecycle manager: private task and public
// instance state machines, reward application on approval, top-N selection
// and the deadline-gated batch award.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/school-parliament/portal/internal/domain"
	"github.com/school-parliament/portal/internal/events"
	"github.com/school-parliament/portal/internal/logger"
	"github.com/school-parliament/portal/internal/metrics"
	"github.com/school-parliament/portal/internal/storage"
	"github.com/school-parliament/portal/internal/validation"
)

// Manager runs every task and instance transition.
type Manager struct {
	store     storage.Store
	pub       events.Publisher
	now       func() time.Time
	log       *logger.Logger
	lazyAward bool
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(now func() time.Time) Option   { return func(m *Manager) { m.now = now } }
func WithPublisher(p events.Publisher) Option { return func(m *Manager) { m.pub = p } }
func WithLazyAward(enabled bool) Option       { return func(m *Manager) { m.lazyAward = enabled } }
func WithLogger(log *logger.Logger) Option {
	return func(m *Manager) { m.log = log.Named("tasks") }
}

// NewManager creates a Manager over store.
func NewManager(store storage.Store, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		pub:   events.Discard{},
		now:   time.Now,
		log:   logger.Nop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) clock() time.Time { return m.now().UTC() }

// commit records transition metrics and publishes evs once the
// transaction that produced them is durable.
func (m *Manager) commit(ctx context.Context, entity string, action Action, evs []domain.Event) {
	metrics.Transitions.WithLabelValues(entity, string(action)).Inc()
	m.pub.Publish(ctx, evs...)
}

// NewTask is the input of CreateTask.
type NewTask struct {
	Title          string          `json:"title" validate:"notblank,max=200"`
	Description    string          `json:"description" validate:"max=5000"`
	Ministry       *string         `json:"ministry,omitempty"`
	AssignedToID   *uuid.UUID      `json:"assignedToId,omitempty"`
	Priority       domain.Priority `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	Deadline       *time.Time      `json:"deadline,omitempty"`
	TargetAudience domain.Audience `json:"targetAudience" validate:"required,oneof=PARLIAMENT_MEMBER STUDENT PUBLIC"`
	Type           domain.TaskType `json:"taskType" validate:"required,oneof=PRIVATE PUBLIC"`
	XPReward       int64           `json:"xpReward"`
	EPReward       int64           `json:"epReward"`
	TopRanking     *int            `json:"topRanking,omitempty" validate:"omitempty,gte=1"`
}

// CreateTask stores a new task in NEW. Only curators may create tasks, and
// ministry-bound curators only for their own ministry.
func (m *Manager) CreateTask(ctx context.Context, actor domain.Actor, in NewTask) (*domain.Task, error) {
	if !actor.CanCurate(in.Ministry) {
		return nil, domain.ErrForbidden
	}
	if in.XPReward < 0 || in.EPReward < 0 {
		return nil, fmt.Errorf("%w: rewards must not be negative", domain.ErrInvalidAmount)
	}
	if err := validation.Check(in); err != nil {
		return nil, err
	}
	if in.TopRanking != nil {
		if in.Type != domain.TaskPublic {
			return nil, fmt.Errorf("%w: only public tasks can be ranked", domain.ErrInvalidInput)
		}
		if in.Deadline == nil {
			return nil, fmt.Errorf("%w: ranked tasks need a deadline", domain.ErrInvalidInput)
		}
	}
	if in.AssignedToID != nil && in.Type != domain.TaskPrivate {
		return nil, fmt.Errorf("%w: public tasks cannot be assigned", domain.ErrInvalidInput)
	}

	now := m.clock()
	t := &domain.Task{
		ID:             uuid.New(),
		Title:          strings.TrimSpace(in.Title),
		Description:    in.Description,
		Ministry:       in.Ministry,
		AssignedToID:   in.AssignedToID,
		CreatedByID:    actor.UserID,
		Priority:       in.Priority,
		TargetAudience: in.TargetAudience,
		Type:           in.Type,
		XPReward:       in.XPReward,
		EPReward:       in.EPReward,
		Status:         domain.TaskNew,
		TopRanking:     in.TopRanking,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	if in.Deadline != nil {
		d := in.Deadline.UTC()
		t.Deadline = &d
	}
	if err := m.store.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}
	m.log.Info("task created", "task", t.ID, "type", t.Type, "audience", t.TargetAudience, "by", actor.UserID)
	return t, nil
}

// Task returns a task. With lazy awarding enabled, reading a ranked task
// whose deadline has passed runs the batch award first.
func (m *Manager) Task(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	t, err := m.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.lazyAward && awardDue(t, m.clock()) {
		if _, err := m.AwardTop(ctx, domain.SystemActor(), id); err != nil &&
			!errors.Is(err, domain.ErrAlreadyAwarded) && !errors.Is(err, domain.ErrNoSelection) {
			m.log.Warn("lazy award failed", "task", id, "error", err)
		}
		return m.store.GetTask(ctx, id)
	}
	return t, nil
}

// Tasks lists tasks matching f.
func (m *Manager) Tasks(ctx context.Context, f storage.TaskFilter) ([]*domain.Task, error) {
	return m.store.ListTasks(ctx, f)
}

// Instance returns one public task instance.
func (m *Manager) Instance(ctx context.Context, id uuid.UUID) (*domain.PublicTaskInstance, error) {
	return m.store.GetInstance(ctx, id)
}

// Instances lists the instances of a public task in creation order.
func (m *Manager) Instances(ctx context.Context, taskID uuid.UUID) ([]*domain.PublicTaskInstance, error) {
	return m.store.ListInstances(ctx, taskID)
}

// ReviewView is what a curator sees when reviewing a task: the task, its
// instances and their advisory verification reports.
type ReviewView struct {
	Task      *domain.Task                 `json:"task"`
	Instances []*domain.PublicTaskInstance `json:"instances,omitempty"`
}

// Review returns the curator view of a task.
func (m *Manager) Review(ctx context.Context, actor domain.Actor, taskID uuid.UUID) (*ReviewView, error) {
	t, err := m.Task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !actor.CanCurate(t.Ministry) {
		return nil, domain.ErrForbidden
	}
	view := &ReviewView{Task: t}
	if t.Type == domain.TaskPublic {
		if view.Instances, err = m.store.ListInstances(ctx, taskID); err != nil {
			return nil, err
		}
	}
	return view, nil
}

// Submission is the evidence handed in with a task or instance.
// Verification is the advisory report the caller obtained from an
// evidence.Verifier before submitting; it is stored as given.
type Submission struct {
	Description   string                     `json:"description" validate:"max=5000"`
	EvidenceLinks []string                   `json:"evidenceLinks" validate:"max=20,dive,max=2048"`
	Verification  *domain.VerificationReport `json:"-"`
}

// normalize trims the submission and enforces that it carries a description
// or at least one evidence link.
func (s Submission) normalize() (Submission, error) {
	out := Submission{Description: strings.TrimSpace(s.Description), Verification: s.Verification}
	for _, l := range s.EvidenceLinks {
		if l = strings.TrimSpace(l); l != "" {
			out.EvidenceLinks = append(out.EvidenceLinks, l)
		}
	}
	if out.Description == "" && len(out.EvidenceLinks) == 0 {
		return out, domain.ErrEmptySubmission
	}
	if err := validation.Check(out); err != nil {
		return out, err
	}
	return out, nil
}

func requireFeedback(feedback string) (string, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return "", fmt.Errorf("%w: rejection needs a reason", domain.ErrInvalidInput)
	}
	return feedback, nil
}
