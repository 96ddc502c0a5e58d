// Package storage defines the persistence contract of the progression
// engine. Implementations live in the memory and sqldb subpackages.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/school-parliament/portal/internal/domain"
)

// LedgerStore is append-only.
type LedgerStore interface {
	AppendEntries(ctx context.Context, entries ...*domain.LedgerEntry) error
	SumFor(ctx context.Context, userID uuid.UUID, c domain.Currency) (int64, error)
	EntriesFor(ctx context.Context, userID uuid.UUID, c domain.Currency) ([]domain.LedgerEntry, error)
	// Totals returns one row per user holding any entry in c.
	Totals(ctx context.Context, c domain.Currency) ([]domain.UserTotal, error)
}

// TaskFilter narrows ListTasks. Zero fields match everything.
type TaskFilter struct {
	Type       domain.TaskType
	Status     domain.TaskStatus
	Ministry   string
	AssignedTo *uuid.UUID
}

// TaskStore holds tasks and public task instances. Update methods are
// compare-and-set on the status the caller read: they fail with
// domain.ErrConflict when the stored status differs.
type TaskStore interface {
	CreateTask(ctx context.Context, t *domain.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	// LockTask reads a task and holds a row lock until the transaction ends.
	LockTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	UpdateTask(ctx context.Context, t *domain.Task, expected domain.TaskStatus) error
	ListTasks(ctx context.Context, f TaskFilter) ([]*domain.Task, error)
	// DueRankedTasks returns ranked public tasks that are not yet awarded,
	// have a selection and whose deadline is at or before now.
	DueRankedTasks(ctx context.Context, now time.Time) ([]*domain.Task, error)

	// CreateInstance fails with domain.ErrAlreadyTaken when the user already
	// holds an instance of the task.
	CreateInstance(ctx context.Context, inst *domain.PublicTaskInstance) error
	GetInstance(ctx context.Context, id uuid.UUID) (*domain.PublicTaskInstance, error)
	LockInstance(ctx context.Context, id uuid.UUID) (*domain.PublicTaskInstance, error)
	UpdateInstance(ctx context.Context, inst *domain.PublicTaskInstance, expected domain.InstanceStatus) error
	ListInstances(ctx context.Context, taskID uuid.UUID) ([]*domain.PublicTaskInstance, error)
	// CountEvidenceLink counts submissions other than exclude that cite link.
	CountEvidenceLink(ctx context.Context, link string, exclude uuid.UUID) (int, error)
}

// CompletionStats aggregates a user's finished work.
type CompletionStats struct {
	PrivateCompleted int
	PublicCompleted  int
	TopPlacements    int
	LastApprovalAt   *time.Time
}

// AchievementStore records unlocks. InsertUnlock fails with
// domain.ErrAlreadyUnlocked when (user, achievement) already exists.
type AchievementStore interface {
	UnlockedFor(ctx context.Context, userID uuid.UUID) ([]domain.UnlockedAchievement, error)
	InsertUnlock(ctx context.Context, u *domain.UnlockedAchievement) error
	CompletionStats(ctx context.Context, userID uuid.UUID) (CompletionStats, error)
}

// ActivityStore keeps streaks and collaborator-fed counters.
type ActivityStore interface {
	// GetActivity returns a zero record for unknown users.
	GetActivity(ctx context.Context, userID uuid.UUID) (*domain.UserActivity, error)
	// LockActivity is GetActivity holding a row lock until the transaction ends.
	LockActivity(ctx context.Context, userID uuid.UUID) (*domain.UserActivity, error)
	SaveActivity(ctx context.Context, a *domain.UserActivity) error
}

// UserStore is the engine's copy of the identity directory.
type UserStore interface {
	UpsertUser(ctx context.Context, u *domain.UserProfile) error
	GetUser(ctx context.Context, id uuid.UUID) (*domain.UserProfile, error)
	ListUsers(ctx context.Context) ([]domain.UserProfile, error)
	// ActivityScores sums priority weights of completed private tasks per assignee.
	ActivityScores(ctx context.Context) (map[uuid.UUID]int, error)
}

// Store is everything the engine persists.
type Store interface {
	LedgerStore
	TaskStore
	AchievementStore
	ActivityStore
	UserStore

	// InTx runs fn against a store bound to a single transaction. Changes
	// made through tx are committed only when fn returns nil.
	InTx(ctx context.Context, fn func(tx Store) error) error
}
