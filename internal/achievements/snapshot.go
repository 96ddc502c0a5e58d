package achievements

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/school-parliament/portal/internal/domain"
	"github.com/school-parliament/portal/internal/progression"
	"github.com/school-parliament/portal/internal/storage"
)

// Snapshot is the aggregate of a user's history that conditions read.
type Snapshot struct {
	UserID          uuid.UUID  `json:"userId"`
	XP              int64      `json:"xp"`
	EP              int64      `json:"ep"`
	XPLevel         int        `json:"xpLevel"`
	EPLevel         int        `json:"epLevel"`
	TasksCompleted  int        `json:"tasksCompleted"`
	ReportsApproved int        `json:"reportsApproved"`
	PublicCompleted int        `json:"publicCompleted"`
	TopPlacements   int        `json:"topPlacements"`
	CurrentStreak   int        `json:"currentStreak"`
	LongestStreak   int        `json:"longestStreak"`
	EventsCreated   int        `json:"eventsCreated"`
	Mentees         int        `json:"mentees"`
	LastApprovalAt  *time.Time `json:"lastApprovalAt,omitempty"`
}

// Total returns the ledger total in c.
func (s Snapshot) Total(c domain.Currency) int64 {
	if c == domain.XP {
		return s.XP
	}
	return s.EP
}

// Level returns the rank level in c.
func (s Snapshot) Level(c domain.Currency) int {
	if c == domain.XP {
		return s.XPLevel
	}
	return s.EPLevel
}

// LoadSnapshot aggregates the user's state from store.
func LoadSnapshot(ctx context.Context, store storage.Store, userID uuid.UUID) (Snapshot, error) {
	s := Snapshot{UserID: userID}
	var err error
	if s.XP, err = store.SumFor(ctx, userID, domain.XP); err != nil {
		return s, fmt.Errorf("summing XP: %w", err)
	}
	if s.EP, err = store.SumFor(ctx, userID, domain.EP); err != nil {
		return s, fmt.Errorf("summing EP: %w", err)
	}
	s.XPLevel = progression.RankFor(domain.XP, s.XP).Level
	s.EPLevel = progression.RankFor(domain.EP, s.EP).Level

	st, err := store.CompletionStats(ctx, userID)
	if err != nil {
		return s, fmt.Errorf("loading completion stats: %w", err)
	}
	s.ReportsApproved = st.PrivateCompleted
	s.PublicCompleted = st.PublicCompleted
	s.TasksCompleted = st.PrivateCompleted + st.PublicCompleted
	s.TopPlacements = st.TopPlacements
	s.LastApprovalAt = st.LastApprovalAt

	act, err := store.GetActivity(ctx, userID)
	if err != nil {
		return s, fmt.Errorf("loading activity: %w", err)
	}
	s.CurrentStreak = act.CurrentStreak
	s.LongestStreak = act.LongestStreak
	s.EventsCreated = act.EventsCreated
	s.Mentees = act.Mentees
	return s, nil
}
