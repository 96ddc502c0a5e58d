package achievements

import (
	"fmt"
	"strings"

	"github.com/school-parliament/portal/internal/domain"
)

// Condition is a predicate over a Snapshot. The set of variants is closed:
// only the types in this file implement it.
type Condition interface {
	isCondition()
}

// TotalAtLeast holds when the ledger total in Currency reaches Amount.
type TotalAtLeast struct {
	Currency domain.Currency
	Amount   int64
}

// TasksCompletedAtLeast counts approved private tasks and completed public
// instances together.
type TasksCompletedAtLeast struct{ N int }

// ReportsApprovedAtLeast counts approved private task reports.
type ReportsApprovedAtLeast struct{ N int }

// PublicCompletedAtLeast counts completed public task instances.
type PublicCompletedAtLeast struct{ N int }

// TopPlacementsAtLeast counts instances that placed in a top-N award.
type TopPlacementsAtLeast struct{ N int }

// LoginStreakAtLeast holds when the current daily login streak reaches N.
type LoginStreakAtLeast struct{ N int }

// RankAtLeast holds when the rank level in Currency reaches Level.
type RankAtLeast struct {
	Currency domain.Currency
	Level    int
}

// EventsCreatedAtLeast counts school events the user organised.
type EventsCreatedAtLeast struct{ N int }

// MenteesAtLeast counts students the user mentors.
type MenteesAtLeast struct{ N int }

// ApprovedBetweenHours holds when the latest approval of the user's work
// happened in [From, To) UTC hours. From > To wraps past midnight.
type ApprovedBetweenHours struct{ From, To int }

// AllOf holds when every inner condition holds.
type AllOf []Condition

func (TotalAtLeast) isCondition()           {}
func (TasksCompletedAtLeast) isCondition()  {}
func (ReportsApprovedAtLeast) isCondition() {}
func (PublicCompletedAtLeast) isCondition() {}
func (TopPlacementsAtLeast) isCondition()   {}
func (LoginStreakAtLeast) isCondition()     {}
func (RankAtLeast) isCondition()            {}
func (EventsCreatedAtLeast) isCondition()   {}
func (MenteesAtLeast) isCondition()         {}
func (ApprovedBetweenHours) isCondition()   {}
func (AllOf) isCondition()                  {}

// Met evaluates c against s.
func Met(c Condition, s Snapshot) bool {
	switch c := c.(type) {
	case TotalAtLeast:
		return s.Total(c.Currency) >= c.Amount
	case TasksCompletedAtLeast:
		return s.TasksCompleted >= c.N
	case ReportsApprovedAtLeast:
		return s.ReportsApproved >= c.N
	case PublicCompletedAtLeast:
		return s.PublicCompleted >= c.N
	case TopPlacementsAtLeast:
		return s.TopPlacements >= c.N
	case LoginStreakAtLeast:
		return s.CurrentStreak >= c.N
	case RankAtLeast:
		return s.Level(c.Currency) >= c.Level
	case EventsCreatedAtLeast:
		return s.EventsCreated >= c.N
	case MenteesAtLeast:
		return s.Mentees >= c.N
	case ApprovedBetweenHours:
		if s.LastApprovalAt == nil {
			return false
		}
		h := s.LastApprovalAt.UTC().Hour()
		if c.From <= c.To {
			return h >= c.From && h < c.To
		}
		return h >= c.From || h < c.To
	case AllOf:
		for _, inner := range c {
			if !Met(inner, s) {
				return false
			}
		}
		return len(c) > 0
	default:
		panic(fmt.Sprintf("achievements: unhandled condition %T", c))
	}
}

// Describe renders c for listings.
func Describe(c Condition) string {
	switch c := c.(type) {
	case TotalAtLeast:
		return fmt.Sprintf("earn %d %s", c.Amount, c.Currency)
	case TasksCompletedAtLeast:
		return fmt.Sprintf("complete %d task(s)", c.N)
	case ReportsApprovedAtLeast:
		return fmt.Sprintf("get %d report(s) approved", c.N)
	case PublicCompletedAtLeast:
		return fmt.Sprintf("complete %d public task(s)", c.N)
	case TopPlacementsAtLeast:
		return fmt.Sprintf("place in a top ranking %d time(s)", c.N)
	case LoginStreakAtLeast:
		return fmt.Sprintf("log in %d days in a row", c.N)
	case RankAtLeast:
		return fmt.Sprintf("reach %s level %d", c.Currency, c.Level)
	case EventsCreatedAtLeast:
		return fmt.Sprintf("organise %d event(s)", c.N)
	case MenteesAtLeast:
		return fmt.Sprintf("mentor %d student(s)", c.N)
	case ApprovedBetweenHours:
		return fmt.Sprintf("get work approved between %02d:00 and %02d:00", c.From, c.To)
	case AllOf:
		parts := make([]string, 0, len(c))
		for _, inner := range c {
			parts = append(parts, Describe(inner))
		}
		return strings.Join(parts, " and ")
	default:
		panic(fmt.Sprintf("achievements: unhandled condition %T", c))
	}
}
