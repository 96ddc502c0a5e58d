// Package progression maps cumulative point totals to levels, rank titles
// and leaderboard leagues. Everything here is pure.
package progression

import (
	"math"
	"sort"

	"github.com/school-parliament/portal/internal/domain"
)

// Unbounded is the NextThreshold reported at the top tier.
const Unbounded int64 = math.MaxInt64

// Tier is one row of a rank table: the cumulative total needed and its title.
type Tier struct {
	Threshold int64  `json:"threshold"`
	Name      string `json:"name"`
}

// Table is an ascending list of tiers. The first tier must start at 0.
type Table []Tier

// governanceTiers ranks governance-body members by XP.
var governanceTiers = Table{
	{0, "Стажёр"},
	{100, "Помощник министра"},
	{300, "Специалист"},
	{600, "Советник"},
	{1000, "Заместитель министра"},
	{1600, "Министр"},
	{2500, "Спикер парламента"},
}

// studentTiers ranks the student population by EP.
var studentTiers = Table{
	{0, "Наблюдатель"},
	{50, "Участник"},
	{150, "Активист"},
	{400, "Лидер мнений"},
	{800, "Амбассадор"},
	{1500, "Легенда школы"},
}

// TableFor returns the rank table of currency c.
func TableFor(c domain.Currency) Table {
	if c == domain.XP {
		return governanceTiers
	}
	return studentTiers
}

// Rank is the display-ready progression of a total.
type Rank struct {
	Level         int    `json:"level"`
	RankName      string `json:"rankName"`
	Total         int64  `json:"total"`
	Threshold     int64  `json:"threshold"`
	NextThreshold int64  `json:"nextThreshold"`
	// Pct is progress within the current tier, 0.0–1.0; 1.0 at the top tier.
	Pct float64 `json:"pct"`
}

// AtTop reports whether the rank is the last tier of its table.
func (r Rank) AtTop() bool { return r.NextThreshold == Unbounded }

// RankFor looks up total in the table of currency c.
func RankFor(c domain.Currency, total int64) Rank {
	return TableFor(c).Lookup(total)
}

// Lookup returns the rank for total: the largest tier index i with
// total >= Threshold(i). Negative totals clamp to the first tier.
func (t Table) Lookup(total int64) Rank {
	if len(t) == 0 {
		return Rank{Total: total, NextThreshold: Unbounded, Pct: 1}
	}
	// First index whose threshold exceeds total, minus one.
	i := sort.Search(len(t), func(i int) bool { return t[i].Threshold > total }) - 1
	i = max(i, 0)

	r := Rank{
		Level:         i,
		RankName:      t[i].Name,
		Total:         total,
		Threshold:     t[i].Threshold,
		NextThreshold: Unbounded,
		Pct:           1,
	}
	if i+1 < len(t) {
		r.NextThreshold = t[i+1].Threshold
		span := float64(r.NextThreshold - r.Threshold)
		r.Pct = min(max(float64(total-r.Threshold)/span, 0), 1)
	}
	return r
}

// ToNext returns the points still needed for the next tier, or 0 at the top.
func (r Rank) ToNext() int64 {
	if r.AtTop() {
		return 0
	}
	return r.NextThreshold - r.Total
}
