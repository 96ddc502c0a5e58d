package progression

// League is the coarse three-bucket grouping shown on leaderboards. It is
// derived from the EP total only and is independent of the EP rank table.
type League string

const (
	LeagueBronze League = "bronze"
	LeagueSilver League = "silver"
	LeagueGold   League = "gold"
)

// LeagueCutoffs holds the EP totals at which the silver and gold leagues start.
type LeagueCutoffs struct {
	SilverFrom int64 `yaml:"silver_from" json:"silverFrom"`
	GoldFrom   int64 `yaml:"gold_from" json:"goldFrom"`
}

// DefaultLeagueCutoffs are used when configuration leaves the cutoffs unset.
var DefaultLeagueCutoffs = LeagueCutoffs{SilverFrom: 200, GoldFrom: 600}

// Of buckets an EP total.
func (c LeagueCutoffs) Of(ep int64) League {
	switch {
	case ep >= c.GoldFrom:
		return LeagueGold
	case ep >= c.SilverFrom:
		return LeagueSilver
	default:
		return LeagueBronze
	}
}

// Valid reports whether the cutoffs are positive and ascending.
func (c LeagueCutoffs) Valid() bool {
	return c.SilverFrom > 0 && c.GoldFrom > c.SilverFrom
}
