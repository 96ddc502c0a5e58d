package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/school-parliament/portal/internal/domain"
	"github.com/school-parliament/portal/internal/events"
	"github.com/school-parliament/portal/internal/storage/memory"
)

func TestRecordLoginStreaks(t *testing.T) {
	day1 := time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)
	logins := []struct {
		name            string
		at              time.Time
		current, longer int
		changed         bool
	}{
		{"first login", day1, 1, 1, true},
		{"same day", day1.Add(10 * time.Hour), 1, 1, false},
		{"next day", day1.AddDate(0, 0, 1), 2, 2, true},
		{"next day just after midnight", time.Date(2026, 3, 4, 0, 5, 0, 0, time.UTC), 3, 3, true},
		{"late arrival for past day", day1, 3, 3, false},
		{"gap resets", day1.AddDate(0, 0, 5), 1, 3, true},
		{"streak grows again", day1.AddDate(0, 0, 6), 2, 3, true},
	}

	ctx := context.Background()
	rec := &events.Recorder{}
	tr := NewTracker(memory.NewStore(), WithPublisher(rec))
	user := uuid.New()
	published := 0
	for _, l := range logins {
		a, err := tr.RecordLogin(ctx, user, l.at)
		if err != nil {
			t.Fatalf("%s: %v", l.name, err)
		}
		if a.CurrentStreak != l.current || a.LongestStreak != l.longer {
			t.Errorf("%s: streak = %d/%d, want %d/%d", l.name, a.CurrentStreak, a.LongestStreak, l.current, l.longer)
		}
		if l.changed {
			published++
		}
		if n := len(rec.OfType(domain.EventActivityChanged)); n != published {
			t.Errorf("%s: events = %d, want %d", l.name, n, published)
		}
	}
}

func TestLoginUsesUTCDays(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(memory.NewStore())
	user := uuid.New()
	msk := time.FixedZone("MSK", 3*3600)

	// 23:30 UTC on the 2nd and 01:30 MSK on the 3rd are the same UTC day.
	if _, err := tr.RecordLogin(ctx, user, time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	a, err := tr.RecordLogin(ctx, user, time.Date(2026, 3, 3, 1, 30, 0, 0, msk))
	if err != nil {
		t.Fatal(err)
	}
	if a.CurrentStreak != 1 {
		t.Errorf("streak = %d, want 1", a.CurrentStreak)
	}
}

func TestAddCounters(t *testing.T) {
	ctx := context.Background()
	rec := &events.Recorder{}
	store := memory.NewStore()
	tr := NewTracker(store, WithPublisher(rec))
	user := uuid.New()

	if _, err := tr.Add(ctx, user, Delta{EventsCreated: 2}); err != nil {
		t.Fatal(err)
	}
	a, err := tr.Add(ctx, user, Delta{EventsCreated: 1, Mentees: 1})
	if err != nil {
		t.Fatal(err)
	}
	if a.EventsCreated != 3 || a.Mentees != 1 {
		t.Errorf("counters = %d/%d, want 3/1", a.EventsCreated, a.Mentees)
	}
	if _, err := tr.Add(ctx, user, Delta{}); err != nil {
		t.Fatal(err)
	}
	if n := len(rec.OfType(domain.EventActivityChanged)); n != 2 {
		t.Errorf("events = %d, want 2", n)
	}
	if _, err := tr.Add(ctx, user, Delta{Mentees: -1}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("negative delta err = %v", err)
	}

	got, _ := tr.Get(ctx, user)
	if got.EventsCreated != 3 || got.Mentees != 1 {
		t.Errorf("stored counters = %d/%d", got.EventsCreated, got.Mentees)
	}
}
