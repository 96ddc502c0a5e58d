package ws

import (
	"time"

	"github.com/google/uuid"

	"github.com/school-parliament/portal/internal/domain"
)

type MessageType string

const (
	MsgHello               MessageType = "hello"
	MsgRewardGranted       MessageType = "reward_granted"
	MsgTaskApproved        MessageType = "task_approved"
	MsgTaskRejected        MessageType = "task_rejected"
	MsgAchievementUnlocked MessageType = "achievement_unlocked"
	MsgTopAwarded          MessageType = "top_awarded"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
	At      time.Time   `json:"at"`
}

type HelloPayload struct {
	UserID uuid.UUID `json:"userId"`
}

type RewardPayload struct {
	EntryID     uuid.UUID       `json:"entryId"`
	Currency    domain.Currency `json:"currency"`
	Amount      int64           `json:"amount"`
	Reason      string          `json:"reason"`
	Achievement string          `json:"achievement,omitempty"`
}

// ReviewPayload reports a curator decision on a task or an instance.
type ReviewPayload struct {
	TaskID     uuid.UUID `json:"taskId"`
	InstanceID uuid.UUID `json:"instanceId,omitempty"`
	Status     string    `json:"status"`
	Feedback   string    `json:"feedback,omitempty"`
}

type AchievementUnlockedPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Rarity      string `json:"rarity"`
	RewardXP    int64  `json:"rewardXp,omitempty"`
	RewardEP    int64  `json:"rewardEp,omitempty"`
}

type TopAwardedPayload struct {
	TaskID    uuid.UUID   `json:"taskId"`
	Instances []uuid.UUID `json:"instances"`
}
