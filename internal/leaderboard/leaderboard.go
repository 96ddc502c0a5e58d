// Package leaderboard projects ledger totals into ordered standings with
// rank, level and league.
package leaderboard

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/school-parliament/portal/internal/domain"
	"github.com/school-parliament/portal/internal/progression"
)

// Source is the read side the projector needs.
type Source interface {
	Totals(ctx context.Context, c domain.Currency) ([]domain.UserTotal, error)
	ListUsers(ctx context.Context) ([]domain.UserProfile, error)
	ActivityScores(ctx context.Context) (map[uuid.UUID]int, error)
}

// Scope narrows standings to part of the user directory. The zero Scope
// includes every user with a ledger entry, known to the directory or not.
type Scope struct {
	Ministry string
	Roles    []domain.Role
}

// GovernanceScope selects the governance body, optionally one ministry.
func GovernanceScope(ministry string) Scope {
	return Scope{Ministry: ministry, Roles: []domain.Role{domain.RoleMember, domain.RoleCurator, domain.RoleAdmin}}
}

func (s Scope) all() bool { return s.Ministry == "" && len(s.Roles) == 0 }

func (s Scope) admits(p domain.UserProfile) bool {
	if s.Ministry != "" && p.Ministry != s.Ministry {
		return false
	}
	return len(s.Roles) == 0 || slices.Contains(s.Roles, p.Role)
}

// Entry is one row of the standings.
type Entry struct {
	// Position is the 1-based place in the total-based ranking.
	Position    int                `json:"position"`
	UserID      uuid.UUID          `json:"userId"`
	DisplayName string             `json:"displayName,omitempty"`
	Ministry    string             `json:"ministry,omitempty"`
	Total       int64              `json:"total"`
	Level       int                `json:"level"`
	RankName    string             `json:"rank"`
	League      progression.League `json:"league,omitempty"`
}

// Projector builds standings from the ledger and the user directory.
type Projector struct {
	src     Source
	leagues progression.LeagueCutoffs
}

// New creates a projector. Invalid cutoffs fall back to the defaults.
func New(src Source, leagues progression.LeagueCutoffs) *Projector {
	if !leagues.Valid() {
		leagues = progression.DefaultLeagueCutoffs
	}
	return &Projector{src: src, leagues: leagues}
}

// Standings orders users in scope by descending total in c. Equal totals
// keep the user who reached the total first ahead, then ledger order.
func (p *Projector) Standings(ctx context.Context, c domain.Currency, scope Scope) ([]Entry, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: unknown currency %q", domain.ErrInvalidInput, c)
	}
	totals, err := p.src.Totals(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("loading totals: %w", err)
	}
	users, err := p.src.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading users: %w", err)
	}
	profiles := make(map[uuid.UUID]domain.UserProfile, len(users))
	for _, u := range users {
		profiles[u.ID] = u
	}

	rows := make([]domain.UserTotal, 0, len(totals))
	for _, t := range totals {
		prof, known := profiles[t.UserID]
		if !scope.all() && (!known || !scope.admits(prof)) {
			continue
		}
		rows = append(rows, t)
	}
	slices.SortStableFunc(rows, func(a, b domain.UserTotal) int {
		if a.Total != b.Total {
			return cmp.Compare(b.Total, a.Total)
		}
		return a.ReachedAt.Compare(b.ReachedAt)
	})

	out := make([]Entry, len(rows))
	for i, t := range rows {
		r := progression.RankFor(c, t.Total)
		prof := profiles[t.UserID]
		out[i] = Entry{
			Position:    i + 1,
			UserID:      t.UserID,
			DisplayName: prof.DisplayName,
			Ministry:    prof.Ministry,
			Total:       t.Total,
			Level:       r.Level,
			RankName:    r.RankName,
		}
		if c == domain.EP {
			out[i].League = p.leagues.Of(t.Total)
		}
	}
	return out, nil
}

// ForViewer returns a copy of standings re-sorted for display to viewer:
// among equal totals, members of the viewer's ministry come first, then
// higher priority-weighted activity. Totals still dominate and standings
// itself is left untouched.
func (p *Projector) ForViewer(ctx context.Context, standings []Entry, viewer domain.Actor) ([]Entry, error) {
	scores, err := p.src.ActivityScores(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading activity scores: %w", err)
	}
	out := slices.Clone(standings)
	own := func(e Entry) int {
		if viewer.Ministry != "" && e.Ministry == viewer.Ministry {
			return 0
		}
		return 1
	}
	slices.SortStableFunc(out, func(a, b Entry) int {
		if a.Total != b.Total {
			return cmp.Compare(b.Total, a.Total)
		}
		if c := cmp.Compare(own(a), own(b)); c != 0 {
			return c
		}
		return cmp.Compare(scores[b.UserID], scores[a.UserID])
	})
	return out, nil
}

// Governance returns the governance-body XP standings as shown to viewer.
func (p *Projector) Governance(ctx context.Context, viewer domain.Actor, ministry string) ([]Entry, error) {
	base, err := p.Standings(ctx, domain.XP, GovernanceScope(ministry))
	if err != nil {
		return nil, err
	}
	return p.ForViewer(ctx, base, viewer)
}

// League buckets an EP total with the projector's cutoffs.
func (p *Projector) League(ep int64) progression.League {
	return p.leagues.Of(ep)
}
