package achievements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/school-parliament/portal/internal/domain"
	"github.com/school-parliament/portal/internal/events"
	"github.com/school-parliament/portal/internal/ledger"
	"github.com/school-parliament/portal/internal/logger"
	"github.com/school-parliament/portal/internal/metrics"
	"github.com/school-parliament/portal/internal/storage"
)

// Engine evaluates the registry for a user and records unlocks.
type Engine struct {
	store    storage.Store
	registry []Definition
	pub      events.Publisher
	now      func() time.Time
	log      *logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(now func() time.Time) Option   { return func(e *Engine) { e.now = now } }
func WithPublisher(p events.Publisher) Option { return func(e *Engine) { e.pub = p } }
func WithRegistry(defs []Definition) Option   { return func(e *Engine) { e.registry = defs } }
func WithLogger(log *logger.Logger) Option {
	return func(e *Engine) { e.log = log.Named("achievements") }
}

// NewEngine creates an engine with the default registry.
func NewEngine(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		registry: DefaultRegistry(),
		pub:      events.Discard{},
		now:      time.Now,
		log:      logger.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Registry returns a copy of the definitions.
func (e *Engine) Registry() []Definition {
	out := make([]Definition, len(e.registry))
	copy(out, e.registry)
	return out
}

// Evaluate unlocks every definition the user now satisfies and has not
// unlocked yet, paying its reward in the same transaction as the unlock
// record. The pass is single: rewards paid here are not re-evaluated until
// the next call. A concurrent evaluation that wins the unlock insert makes
// this one skip the definition.
func (e *Engine) Evaluate(ctx context.Context, userID uuid.UUID) ([]Definition, error) {
	have, err := e.store.UnlockedFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading unlocks: %w", err)
	}
	unlocked := make(map[string]bool, len(have))
	for _, u := range have {
		unlocked[u.AchievementID] = true
	}
	snap, err := LoadSnapshot(ctx, e.store, userID)
	if err != nil {
		return nil, err
	}

	var out []Definition
	for _, def := range e.registry {
		if unlocked[def.ID] || !Met(def.Condition, snap) {
			continue
		}
		ok, err := e.unlock(ctx, userID, def)
		if err != nil {
			return out, fmt.Errorf("unlocking %s: %w", def.ID, err)
		}
		if ok {
			out = append(out, def)
		}
	}
	return out, nil
}

func (e *Engine) unlock(ctx context.Context, userID uuid.UUID, def Definition) (bool, error) {
	now := e.now().UTC()
	var entries []*domain.LedgerEntry
	err := e.store.InTx(ctx, func(tx storage.Store) error {
		if err := tx.InsertUnlock(ctx, &domain.UnlockedAchievement{
			UserID:        userID,
			AchievementID: def.ID,
			Title:         def.Name,
			UnlockedAt:    now,
		}); err != nil {
			return err
		}
		reason := "achievement:" + def.ID
		for _, r := range []struct {
			c      domain.Currency
			amount int64
		}{{domain.XP, def.Reward.XP}, {domain.EP, def.Reward.EP}} {
			if r.amount <= 0 {
				continue
			}
			entry, err := ledger.Append(ctx, tx, userID, r.c, r.amount, reason, now)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if errors.Is(err, domain.ErrAlreadyUnlocked) {
		e.log.Debug("achievement already unlocked", "user", userID, "achievement", def.ID)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	metrics.AchievementsUnlocked.WithLabelValues(string(def.Rarity)).Inc()
	e.log.Info("achievement unlocked", "user", userID, "achievement", def.ID)
	evs := []domain.Event{{
		Type:        domain.EventAchievementUnlocked,
		UserID:      userID,
		Achievement: def.ID,
		At:          now,
	}}
	e.pub.Publish(ctx, append(evs, ledger.Committed(entries, def.ID)...)...)
	return true, nil
}

// Handle is an events.Handler: it evaluates the user touched by a ledger
// grant, a completed task or instance, or an activity change.
// Achievement payouts are ignored so a pass never triggers another.
func (e *Engine) Handle(ctx context.Context, ev domain.Event) {
	if ev.UserID == uuid.Nil || !triggers(ev) {
		return
	}
	if _, err := e.Evaluate(ctx, ev.UserID); err != nil {
		e.log.Error("achievement evaluation failed", "user", ev.UserID, "trigger", ev.Type, "error", err)
	}
}

func triggers(ev domain.Event) bool {
	switch ev.Type {
	case domain.EventRewardGranted:
		return !ev.FromAchievement()
	case domain.EventTaskTransitioned:
		return ev.Status == string(domain.TaskCompleted)
	case domain.EventInstanceTransitioned:
		return ev.Status == string(domain.InstanceCompleted)
	case domain.EventActivityChanged:
		return true
	}
	return false
}

// Listing is one row of a user's achievement overview.
type Listing struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Rarity      Rarity     `json:"rarity"`
	Reward      Reward     `json:"reward"`
	Hidden      bool       `json:"hidden,omitempty"`
	Unlocked    bool       `json:"unlocked"`
	UnlockedAt  *time.Time `json:"unlockedAt,omitempty"`
}

// Available lists every achievement the user may see: all visible ones
// plus hidden ones already unlocked.
func (e *Engine) Available(ctx context.Context, userID uuid.UUID) ([]Listing, error) {
	have, err := e.store.UnlockedFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	at := make(map[string]time.Time, len(have))
	for _, u := range have {
		at[u.AchievementID] = u.UnlockedAt
	}
	out := make([]Listing, 0, len(e.registry))
	for _, def := range e.registry {
		when, ok := at[def.ID]
		if def.Hidden && !ok {
			continue
		}
		l := Listing{
			ID:          def.ID,
			Name:        def.Name,
			Description: def.Description,
			Rarity:      def.Rarity,
			Reward:      def.Reward,
			Hidden:      def.Hidden,
			Unlocked:    ok,
		}
		if ok {
			l.UnlockedAt = &when
		}
		out = append(out, l)
	}
	return out, nil
}

// Unlocked returns the user's unlock records, oldest first.
func (e *Engine) Unlocked(ctx context.Context, userID uuid.UUID) ([]domain.UnlockedAchievement, error) {
	return e.store.UnlockedFor(ctx, userID)
}
