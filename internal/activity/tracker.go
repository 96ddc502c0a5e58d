// Package activity tracks daily login streaks and the counters fed by
// external collaborators (events organized, students mentored). Every
// change is published so the achievement engine can re-evaluate the user.
package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/school-parliament/portal/internal/domain"
	"github.com/school-parliament/portal/internal/events"
	"github.com/school-parliament/portal/internal/logger"
	"github.com/school-parliament/portal/internal/storage"
)

// Tracker updates a user's activity record.
type Tracker struct {
	store storage.Store
	pub   events.Publisher
	now   func() time.Time
	log   *logger.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithClock(now func() time.Time) Option   { return func(t *Tracker) { t.now = now } }
func WithPublisher(p events.Publisher) Option { return func(t *Tracker) { t.pub = p } }
func WithLogger(log *logger.Logger) Option {
	return func(t *Tracker) { t.log = log.Named("activity") }
}

// NewTracker creates a Tracker over store.
func NewTracker(store storage.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store: store,
		pub:   events.Discard{},
		now:   time.Now,
		log:   logger.Nop(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Delta is a counter increment reported by a collaborator.
type Delta struct {
	EventsCreated int `json:"eventsCreated" validate:"gte=0"`
	Mentees       int `json:"mentees" validate:"gte=0"`
}

// day truncates at to its UTC calendar day.
func day(at time.Time) time.Time {
	y, m, d := at.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// advance applies a login on the UTC day of at. It reports whether the
// record changed.
func advance(a *domain.UserActivity, at time.Time) bool {
	today := day(at)
	last := a.LastLoginDay
	switch {
	case !last.IsZero() && !today.After(last):
		// Same day, or a late-arriving login for a day already counted.
		return false
	case !last.IsZero() && today.Equal(last.AddDate(0, 0, 1)):
		a.CurrentStreak++
	default:
		a.CurrentStreak = 1
	}
	a.LastLoginDay = today
	if a.CurrentStreak > a.LongestStreak {
		a.LongestStreak = a.CurrentStreak
	}
	return true
}

// RecordLogin counts a login at the given time. Repeated logins on one UTC
// day change nothing; a login on the next day extends the streak and a
// longer gap restarts it at 1.
func (t *Tracker) RecordLogin(ctx context.Context, userID uuid.UUID, at time.Time) (*domain.UserActivity, error) {
	if at.IsZero() {
		at = t.now()
	}
	return t.update(ctx, userID, "login", func(a *domain.UserActivity) (bool, error) {
		return advance(a, at), nil
	})
}

// Add increments the collaborator-fed counters.
func (t *Tracker) Add(ctx context.Context, userID uuid.UUID, d Delta) (*domain.UserActivity, error) {
	if d.EventsCreated < 0 || d.Mentees < 0 {
		return nil, fmt.Errorf("%w: counters only grow", domain.ErrInvalidInput)
	}
	return t.update(ctx, userID, "counters", func(a *domain.UserActivity) (bool, error) {
		a.EventsCreated += d.EventsCreated
		a.Mentees += d.Mentees
		return d.EventsCreated > 0 || d.Mentees > 0, nil
	})
}

// Get returns the user's activity record.
func (t *Tracker) Get(ctx context.Context, userID uuid.UUID) (*domain.UserActivity, error) {
	return t.store.GetActivity(ctx, userID)
}

func (t *Tracker) update(ctx context.Context, userID uuid.UUID, what string, fn func(*domain.UserActivity) (bool, error)) (*domain.UserActivity, error) {
	var (
		out     *domain.UserActivity
		changed bool
	)
	err := t.store.InTx(ctx, func(tx storage.Store) error {
		a, err := tx.LockActivity(ctx, userID)
		if err != nil {
			return err
		}
		a.UserID = userID
		if changed, err = fn(a); err != nil || !changed {
			out = a
			return err
		}
		out = a
		return tx.SaveActivity(ctx, a)
	})
	if err != nil {
		return nil, fmt.Errorf("updating activity: %w", err)
	}
	if changed {
		t.log.Debug("activity changed", "user", userID, "kind", what,
			"streak", out.CurrentStreak, "events", out.EventsCreated, "mentees", out.Mentees)
		t.pub.Publish(ctx, domain.Event{
			Type:   domain.EventActivityChanged,
			UserID: userID,
			Action: what,
			At:     t.now().UTC(),
		})
	}
	return out, nil
}
