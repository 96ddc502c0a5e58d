// Package ledger is the append-only record of point grants and the single
// source of truth for XP and EP totals.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/school-parliament/portal/internal/domain"
	"github.com/school-parliament/portal/internal/events"
	"github.com/school-parliament/portal/internal/logger"
	"github.com/school-parliament/portal/internal/metrics"
)

// Store is the persistence the ledger needs. Entries are only ever appended.
type Store interface {
	AppendEntries(ctx context.Context, entries ...*domain.LedgerEntry) error
	SumFor(ctx context.Context, userID uuid.UUID, c domain.Currency) (int64, error)
	EntriesFor(ctx context.Context, userID uuid.UUID, c domain.Currency) ([]domain.LedgerEntry, error)
}

// Ledger grants points and reads totals.
type Ledger struct {
	store Store
	pub   events.Publisher
	now   func() time.Time
	log   *logger.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

// WithPublisher sets where reward_granted events go.
func WithPublisher(p events.Publisher) Option { return func(l *Ledger) { l.pub = p } }

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(l *Ledger) { l.log = log.Named("ledger") }
}

// New creates a Ledger over store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		pub:   events.Discard{},
		now:   time.Now,
		log:   logger.Nop(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// NewEntry validates a grant and builds its entry without persisting it.
func NewEntry(userID uuid.UUID, c domain.Currency, amount int64, reason string, at time.Time) (*domain.LedgerEntry, error) {
	if amount < 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidAmount, amount)
	}
	if !c.Valid() {
		return nil, fmt.Errorf("%w: unknown currency %q", domain.ErrInvalidInput, c)
	}
	return &domain.LedgerEntry{
		ID:        uuid.New(),
		UserID:    userID,
		Currency:  c,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: at.UTC(),
	}, nil
}

// Append validates and appends a grant through store, which may be bound to
// an open transaction. It publishes nothing: callers emit the returned
// entries once their transaction commits (see Committed).
func Append(ctx context.Context, store Store, userID uuid.UUID, c domain.Currency, amount int64, reason string, at time.Time) (*domain.LedgerEntry, error) {
	entry, err := NewEntry(userID, c, amount, reason, at)
	if err != nil {
		return nil, err
	}
	if err := store.AppendEntries(ctx, entry); err != nil {
		return nil, fmt.Errorf("appending ledger entry: %w", err)
	}
	return entry, nil
}

// Committed records metrics for entries whose transaction has committed and
// returns their reward_granted events. achievement names the achievement that
// paid them out, if any.
func Committed(entries []*domain.LedgerEntry, achievement string) []domain.Event {
	out := make([]domain.Event, 0, len(entries))
	for _, e := range entries {
		metrics.LedgerGrants.WithLabelValues(string(e.Currency)).Inc()
		metrics.LedgerPoints.WithLabelValues(string(e.Currency)).Add(float64(e.Amount))
		out = append(out, domain.Event{
			Type:        domain.EventRewardGranted,
			UserID:      e.UserID,
			Entry:       e,
			Achievement: achievement,
			At:          e.CreatedAt,
		})
	}
	return out
}

// Grant appends a single entry outside any larger transaction and publishes
// its reward_granted event.
func (l *Ledger) Grant(ctx context.Context, userID uuid.UUID, c domain.Currency, amount int64, reason string) (*domain.LedgerEntry, error) {
	entry, err := Append(ctx, l.store, userID, c, amount, reason, l.now())
	if err != nil {
		return nil, err
	}
	l.log.Debug("points granted", "user", userID, "currency", c, "amount", amount, "reason", reason)
	l.pub.Publish(ctx, Committed([]*domain.LedgerEntry{entry}, "")...)
	return entry, nil
}

// TotalFor returns the sum of every entry of userID in currency c.
func (l *Ledger) TotalFor(ctx context.Context, userID uuid.UUID, c domain.Currency) (int64, error) {
	if !c.Valid() {
		return 0, fmt.Errorf("%w: unknown currency %q", domain.ErrInvalidInput, c)
	}
	return l.store.SumFor(ctx, userID, c)
}

// Entries returns the entries of userID in currency c, oldest first.
func (l *Ledger) Entries(ctx context.Context, userID uuid.UUID, c domain.Currency) ([]domain.LedgerEntry, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: unknown currency %q", domain.ErrInvalidInput, c)
	}
	return l.store.EntriesFor(ctx, userID, c)
}

// Totals returns both currency totals of userID.
func (l *Ledger) Totals(ctx context.Context, userID uuid.UUID) (xp, ep int64, err error) {
	if xp, err = l.store.SumFor(ctx, userID, domain.XP); err != nil {
		return 0, 0, err
	}
	if ep, err = l.store.SumFor(ctx, userID, domain.EP); err != nil {
		return 0, 0, err
	}
	return xp, ep, nil
}
