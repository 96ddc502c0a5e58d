package sqldb

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/school-parliament/portal/internal/domain"
)

type userRow struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	DisplayName string    `gorm:"not null"`
	Role        string    `gorm:"not null;index"`
	Ministry    string    `gorm:"index"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (userRow) TableName() string { return "users" }

type ledgerEntryRow struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement"`
	ID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index:idx_ledger_user_currency,priority:1"`
	Currency  string    `gorm:"not null;index:idx_ledger_user_currency,priority:2"`
	Amount    int64     `gorm:"not null"`
	Reason    string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}

func (ledgerEntryRow) TableName() string { return "ledger_entries" }

type taskRow struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Title          string     `gorm:"not null"`
	Description    string     `gorm:"not null"`
	Ministry       *string    `gorm:"index"`
	AssignedToID   *uuid.UUID `gorm:"type:uuid;index"`
	CreatedByID    uuid.UUID  `gorm:"type:uuid;not null"`
	Priority       string     `gorm:"not null"`
	Deadline       *time.Time
	TargetAudience string `gorm:"not null"`
	Type           string `gorm:"not null;index"`
	XPReward       int64  `gorm:"column:xp_reward;not null"`
	EPReward       int64  `gorm:"column:ep_reward;not null"`
	Status         string `gorm:"not null;index"`

	Report        string
	EvidenceLinks datatypes.JSONSlice[string]
	Verification  datatypes.JSON
	Feedback      string
	SelfAssigned  bool `gorm:"not null"`

	TopRanking           *int
	SelectedTopInstances datatypes.JSONSlice[uuid.UUID]
	TopAwarded           bool `gorm:"not null;index"`

	CreatedAt   time.Time `gorm:"not null;index;autoCreateTime:false"`
	UpdatedAt   time.Time `gorm:"not null;autoUpdateTime:false"`
	CompletedAt *time.Time
}

func (taskRow) TableName() string { return "tasks" }

type instanceRow struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	TaskID        uuid.UUID `gorm:"type:uuid;not null;index:idx_instance_task_user,unique,priority:1"`
	UserID        uuid.UUID `gorm:"type:uuid;not null;index:idx_instance_task_user,unique,priority:2"`
	Status        string    `gorm:"not null;index"`
	Description   string
	EvidenceLinks datatypes.JSONSlice[string]
	Verification  datatypes.JSON
	TopPosition   *int
	Feedback      string
	Rewarded      bool      `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null;index;autoCreateTime:false"`
	UpdatedAt     time.Time `gorm:"not null;autoUpdateTime:false"`
	SubmittedAt   *time.Time
}

func (instanceRow) TableName() string { return "public_task_instances" }

type unlockRow struct {
	UserID        uuid.UUID `gorm:"type:uuid;not null;index:idx_unlock_user_achievement,unique,priority:1"`
	AchievementID string    `gorm:"not null;index:idx_unlock_user_achievement,unique,priority:2"`
	Title         string    `gorm:"not null"`
	UnlockedAt    time.Time `gorm:"not null"`
}

func (unlockRow) TableName() string { return "unlocked_achievements" }

type activityRow struct {
	UserID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CurrentStreak int       `gorm:"not null"`
	LongestStreak int       `gorm:"not null"`
	LastLoginDay  time.Time
	EventsCreated int `gorm:"not null"`
	Mentees       int `gorm:"not null"`
}

func (activityRow) TableName() string { return "user_activity" }

// ─── Conversions ────────────────────────────────────────────────────────────

func encodeReport(r *domain.VerificationReport) datatypes.JSON {
	if r == nil {
		return nil
	}
	b, _ := json.Marshal(r)
	return datatypes.JSON(b)
}

func decodeReport(raw datatypes.JSON) *domain.VerificationReport {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var r domain.VerificationReport
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil
	}
	return &r
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func fromTask(t *domain.Task) *taskRow {
	return &taskRow{
		ID:                   t.ID,
		Title:                t.Title,
		Description:          t.Description,
		Ministry:             t.Ministry,
		AssignedToID:         t.AssignedToID,
		CreatedByID:          t.CreatedByID,
		Priority:             string(t.Priority),
		Deadline:             utcPtr(t.Deadline),
		TargetAudience:       string(t.TargetAudience),
		Type:                 string(t.Type),
		XPReward:             t.XPReward,
		EPReward:             t.EPReward,
		Status:               string(t.Status),
		Report:               t.Report,
		EvidenceLinks:        datatypes.JSONSlice[string](t.EvidenceLinks),
		Verification:         encodeReport(t.Verification),
		Feedback:             t.Feedback,
		SelfAssigned:         t.SelfAssigned,
		TopRanking:           t.TopRanking,
		SelectedTopInstances: datatypes.JSONSlice[uuid.UUID](t.SelectedTopInstances),
		TopAwarded:           t.TopAwarded,
		CreatedAt:            t.CreatedAt.UTC(),
		UpdatedAt:            t.UpdatedAt.UTC(),
		CompletedAt:          utcPtr(t.CompletedAt),
	}
}

func (r *taskRow) toDomain() *domain.Task {
	return &domain.Task{
		ID:                   r.ID,
		Title:                r.Title,
		Description:          r.Description,
		Ministry:             r.Ministry,
		AssignedToID:         r.AssignedToID,
		CreatedByID:          r.CreatedByID,
		Priority:             domain.Priority(r.Priority),
		Deadline:             utcPtr(r.Deadline),
		TargetAudience:       domain.Audience(r.TargetAudience),
		Type:                 domain.TaskType(r.Type),
		XPReward:             r.XPReward,
		EPReward:             r.EPReward,
		Status:               domain.TaskStatus(r.Status),
		Report:               r.Report,
		EvidenceLinks:        []string(r.EvidenceLinks),
		Verification:         decodeReport(r.Verification),
		Feedback:             r.Feedback,
		SelfAssigned:         r.SelfAssigned,
		TopRanking:           r.TopRanking,
		SelectedTopInstances: []uuid.UUID(r.SelectedTopInstances),
		TopAwarded:           r.TopAwarded,
		CreatedAt:            r.CreatedAt.UTC(),
		UpdatedAt:            r.UpdatedAt.UTC(),
		CompletedAt:          utcPtr(r.CompletedAt),
	}
}

func fromInstance(inst *domain.PublicTaskInstance) *instanceRow {
	return &instanceRow{
		ID:            inst.ID,
		TaskID:        inst.TaskID,
		UserID:        inst.UserID,
		Status:        string(inst.Status),
		Description:   inst.Description,
		EvidenceLinks: datatypes.JSONSlice[string](inst.EvidenceLinks),
		Verification:  encodeReport(inst.Verification),
		TopPosition:   inst.TopPosition,
		Feedback:      inst.Feedback,
		Rewarded:      inst.Rewarded,
		CreatedAt:     inst.CreatedAt.UTC(),
		UpdatedAt:     inst.UpdatedAt.UTC(),
		SubmittedAt:   utcPtr(inst.SubmittedAt),
	}
}

func (r *instanceRow) toDomain() *domain.PublicTaskInstance {
	return &domain.PublicTaskInstance{
		ID:            r.ID,
		TaskID:        r.TaskID,
		UserID:        r.UserID,
		Status:        domain.InstanceStatus(r.Status),
		Description:   r.Description,
		EvidenceLinks: []string(r.EvidenceLinks),
		Verification:  decodeReport(r.Verification),
		TopPosition:   r.TopPosition,
		Feedback:      r.Feedback,
		Rewarded:      r.Rewarded,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
		SubmittedAt:   utcPtr(r.SubmittedAt),
	}
}

func (r *ledgerEntryRow) toDomain() domain.LedgerEntry {
	return domain.LedgerEntry{
		ID:        r.ID,
		UserID:    r.UserID,
		Currency:  domain.Currency(r.Currency),
		Amount:    r.Amount,
		Reason:    r.Reason,
		CreatedAt: r.CreatedAt.UTC(),
	}
}
