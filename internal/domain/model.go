// Package domain holds the types shared by the progression engine and its
// storage and transport adapters. It has no infrastructure dependencies.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Currency identifies one of the two point currencies.
type Currency string

const (
	// XP is earned by governance-body members for assigned work.
	XP Currency = "XP"
	// EP is earned by the general student population.
	EP Currency = "EP"
)

// Valid reports whether c is a known currency.
func (c Currency) Valid() bool { return c == XP || c == EP }

// Role is the caller's role as supplied by the identity collaborator.
type Role string

const (
	RoleStudent Role = "student"
	RoleMember  Role = "member"
	RoleCurator Role = "curator"
	RoleAdmin   Role = "admin"
	// RoleSystem is used by the deadline-triggered award path.
	RoleSystem Role = "system"
)

// Actor is the identity behind an operation. The engine trusts it as given.
type Actor struct {
	UserID   uuid.UUID
	Role     Role
	Ministry string
}

// SystemActor returns the actor used by time-based triggers.
func SystemActor() Actor { return Actor{Role: RoleSystem} }

// IsCurator reports whether the actor may run curator-only operations.
func (a Actor) IsCurator() bool {
	switch a.Role {
	case RoleCurator, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// IsGovernance reports whether the actor belongs to the governance body.
func (a Actor) IsGovernance() bool {
	return a.Role == RoleMember || a.Role == RoleCurator || a.Role == RoleAdmin
}

// CanCurate reports whether the actor may curate tasks of the given ministry.
// Curators bound to a ministry only curate that ministry and ministry-less tasks.
func (a Actor) CanCurate(ministry *string) bool {
	if !a.IsCurator() {
		return false
	}
	if a.Role != RoleCurator || a.Ministry == "" || ministry == nil {
		return true
	}
	return *ministry == a.Ministry
}

// UserProfile is the engine's view of a user, upserted by the identity
// collaborator.
type UserProfile struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"displayName"`
	Role        Role      `json:"role"`
	Ministry    string    `json:"ministry,omitempty"`
}

// Audience is the population a task targets.
type Audience string

const (
	AudienceParliamentMember Audience = "PARLIAMENT_MEMBER"
	AudienceStudent          Audience = "STUDENT"
	AudiencePublic           Audience = "PUBLIC"
)

// Valid reports whether a is a known audience.
func (a Audience) Valid() bool {
	switch a {
	case AudienceParliamentMember, AudienceStudent, AudiencePublic:
		return true
	}
	return false
}

// Admits reports whether a user with role r belongs to the audience.
func (a Audience) Admits(r Role) bool {
	switch a {
	case AudiencePublic:
		return true
	case AudienceStudent:
		return r == RoleStudent
	case AudienceParliamentMember:
		return r == RoleMember || r == RoleCurator || r == RoleAdmin
	}
	return false
}

// TaskType distinguishes single-assignee tasks from shared public tasks.
type TaskType string

const (
	TaskPrivate TaskType = "PRIVATE"
	TaskPublic  TaskType = "PUBLIC"
)

// TaskStatus is the lifecycle state of a private task.
type TaskStatus string

const (
	TaskNew        TaskStatus = "NEW"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskInReview   TaskStatus = "IN_REVIEW"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskRejected   TaskStatus = "REJECTED"
)

// Priority orders private tasks and weighs member activity.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Weight returns the activity weight of p. Unknown priorities weigh as medium.
func (p Priority) Weight() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	default:
		return 2
	}
}

// Task is a unit of work, either assigned (PRIVATE) or shared (PUBLIC).
type Task struct {
	ID             uuid.UUID  `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Ministry       *string    `json:"ministry,omitempty"`
	AssignedToID   *uuid.UUID `json:"assignedToId,omitempty"`
	CreatedByID    uuid.UUID  `json:"createdById"`
	Priority       Priority   `json:"priority"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	TargetAudience Audience   `json:"targetAudience"`
	Type           TaskType   `json:"taskType"`
	XPReward       int64      `json:"xpReward"`
	EPReward       int64      `json:"epReward"`
	Status         TaskStatus `json:"status"`

	// Submission fields for PRIVATE tasks.
	Report        string              `json:"report,omitempty"`
	EvidenceLinks []string            `json:"evidenceLinks,omitempty"`
	Verification  *VerificationReport `json:"verification,omitempty"`
	Feedback      string              `json:"feedback,omitempty"`
	// SelfAssigned is set when the assignee was bound by starting the task.
	SelfAssigned bool `json:"selfAssigned,omitempty"`

	// Ranking fields for PUBLIC tasks.
	TopRanking           *int        `json:"topRanking,omitempty"`
	SelectedTopInstances []uuid.UUID `json:"selectedTopInstances,omitempty"`
	TopAwarded           bool        `json:"topAwarded"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Reward returns the currency and amount a completion of t is worth.
// PARLIAMENT_MEMBER tasks pay XP, every other audience pays EP.
func (t *Task) Reward() (Currency, int64) {
	if t.TargetAudience == AudienceParliamentMember {
		return XP, t.XPReward
	}
	return EP, t.EPReward
}

// Ranked reports whether t is a public task with a top-N ranking.
func (t *Task) Ranked() bool {
	return t.Type == TaskPublic && t.TopRanking != nil && *t.TopRanking > 0
}

// DeadlinePassed reports whether the deadline is set and strictly before now.
func (t *Task) DeadlinePassed(now time.Time) bool {
	return t.Deadline != nil && t.Deadline.Before(now)
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	cp := *t
	if t.Ministry != nil {
		m := *t.Ministry
		cp.Ministry = &m
	}
	if t.AssignedToID != nil {
		id := *t.AssignedToID
		cp.AssignedToID = &id
	}
	if t.Deadline != nil {
		d := *t.Deadline
		cp.Deadline = &d
	}
	if t.TopRanking != nil {
		n := *t.TopRanking
		cp.TopRanking = &n
	}
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		cp.CompletedAt = &c
	}
	cp.EvidenceLinks = append([]string(nil), t.EvidenceLinks...)
	cp.SelectedTopInstances = append([]uuid.UUID(nil), t.SelectedTopInstances...)
	cp.Verification = t.Verification.Clone()
	return &cp
}

// InstanceStatus is the lifecycle state of a public task attempt.
type InstanceStatus string

const (
	InstanceInProgress InstanceStatus = "IN_PROGRESS"
	InstanceInReview   InstanceStatus = "IN_REVIEW"
	InstanceCompleted  InstanceStatus = "COMPLETED"
	InstanceRejected   InstanceStatus = "REJECTED"
)

// PublicTaskInstance is one participant's attempt at a PUBLIC task.
type PublicTaskInstance struct {
	ID            uuid.UUID           `json:"id"`
	TaskID        uuid.UUID           `json:"taskId"`
	UserID        uuid.UUID           `json:"userId"`
	Status        InstanceStatus      `json:"status"`
	Description   string              `json:"description,omitempty"`
	EvidenceLinks []string            `json:"evidenceLinks,omitempty"`
	Verification  *VerificationReport `json:"verification,omitempty"`
	TopPosition   *int                `json:"topPosition,omitempty"`
	Feedback      string              `json:"feedback,omitempty"`
	// Rewarded is the per-instance single-grant fence.
	Rewarded    bool       `json:"rewarded"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
}

// Clone returns a deep copy of inst.
func (inst *PublicTaskInstance) Clone() *PublicTaskInstance {
	cp := *inst
	cp.EvidenceLinks = append([]string(nil), inst.EvidenceLinks...)
	if inst.TopPosition != nil {
		p := *inst.TopPosition
		cp.TopPosition = &p
	}
	if inst.SubmittedAt != nil {
		s := *inst.SubmittedAt
		cp.SubmittedAt = &s
	}
	cp.Verification = inst.Verification.Clone()
	return &cp
}

// VerificationReport is the advisory output of the evidence verifier.
type VerificationReport struct {
	Passed   bool     `json:"passed"`
	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// Clone returns a deep copy of r; nil stays nil.
func (r *VerificationReport) Clone() *VerificationReport {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Warnings = append([]string(nil), r.Warnings...)
	cp.Errors = append([]string(nil), r.Errors...)
	return &cp
}

// LedgerEntry is an immutable point grant.
type LedgerEntry struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"userId"`
	Currency  Currency  `json:"currency"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserTotal is a user's cumulative total in one currency together with the
// time that total was reached (the time of the latest grant).
type UserTotal struct {
	UserID    uuid.UUID
	Total     int64
	ReachedAt time.Time
}

// UnlockedAchievement records a one-time achievement unlock.
type UnlockedAchievement struct {
	UserID        uuid.UUID `json:"userId"`
	AchievementID string    `json:"achievementId"`
	Title         string    `json:"title"`
	UnlockedAt    time.Time `json:"unlockedAt"`
}

// UserActivity holds the non-ledger counters achievement rules read.
type UserActivity struct {
	UserID        uuid.UUID `json:"userId"`
	CurrentStreak int       `json:"currentStreak"`
	LongestStreak int       `json:"longestStreak"`
	LastLoginDay  time.Time `json:"lastLoginDay"`
	EventsCreated int       `json:"eventsCreated"`
	Mentees       int       `json:"mentees"`
}
