package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies domain events emitted after a committed state change.
type EventType string

const (
	EventRewardGranted        EventType = "reward_granted"
	EventTaskTransitioned     EventType = "task_transitioned"
	EventInstanceTransitioned EventType = "instance_transitioned"
	EventTopSelected          EventType = "top_selected"
	EventTopAwarded           EventType = "top_awarded"
	EventAchievementUnlocked  EventType = "achievement_unlocked"
	EventActivityChanged      EventType = "activity_changed"
)

// Event carries the data of a committed change to subscribers. Only the
// fields relevant to Type are populated.
type Event struct {
	Type       EventType    `json:"type"`
	UserID     uuid.UUID    `json:"userId,omitempty"`
	TaskID     uuid.UUID    `json:"taskId,omitempty"`
	InstanceID uuid.UUID    `json:"instanceId,omitempty"`
	Action     string       `json:"action,omitempty"`
	Status     string       `json:"status,omitempty"`
	Feedback   string       `json:"feedback,omitempty"`
	Entry      *LedgerEntry `json:"entry,omitempty"`
	// Achievement is set for EventAchievementUnlocked and for reward grants
	// paid out by an achievement.
	Achievement string      `json:"achievement,omitempty"`
	Positions   []uuid.UUID `json:"positions,omitempty"`
	At          time.Time   `json:"at"`
}

// FromAchievement reports whether the event is an achievement payout.
// The rule engine skips these so evaluation stays single-pass.
func (e Event) FromAchievement() bool {
	return e.Type == EventRewardGranted && e.Achievement != ""
}
