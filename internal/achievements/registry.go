// Package achievements is the rule engine: a static registry of
// declarative conditions evaluated against a user's history, unlocking and
// paying each achievement at most once per user.
package achievements

import "github.com/school-parliament/portal/internal/domain"

// Rarity grades an achievement for display and metrics.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Reward is paid through the ledger on unlock. Zero fields pay nothing.
type Reward struct {
	XP int64 `json:"xp,omitempty"`
	EP int64 `json:"ep,omitempty"`
}

// Definition describes one achievement.
type Definition struct {
	ID          string
	Name        string
	Description string
	Condition   Condition
	Reward      Reward
	Rarity      Rarity
	// Hidden definitions are left out of listings until unlocked.
	Hidden bool
}

// DefaultRegistry returns the built-in achievement set.
func DefaultRegistry() []Definition {
	defs := []Definition{
		// Tasks
		{ID: "first_task", Name: "Первый шаг", Condition: TasksCompletedAtLeast{1}, Reward: Reward{EP: 10}, Rarity: RarityCommon},
		{ID: "tasks_10", Name: "Трудяга", Condition: TasksCompletedAtLeast{10}, Reward: Reward{EP: 50}, Rarity: RarityRare},
		{ID: "tasks_50", Name: "Незаменимый", Condition: TasksCompletedAtLeast{50}, Reward: Reward{EP: 150}, Rarity: RarityEpic},
		{ID: "reports_5", Name: "Отчёт принят", Condition: ReportsApprovedAtLeast{5}, Reward: Reward{XP: 30}, Rarity: RarityRare},
		{ID: "public_5", Name: "Активный гражданин", Condition: PublicCompletedAtLeast{5}, Reward: Reward{EP: 40}, Rarity: RarityRare},

		// Rankings
		{ID: "top_1", Name: "На пьедестале", Condition: TopPlacementsAtLeast{1}, Reward: Reward{EP: 25}, Rarity: RarityRare},
		{ID: "top_5", Name: "Чемпион", Condition: TopPlacementsAtLeast{5}, Reward: Reward{EP: 100}, Rarity: RarityEpic},

		// Streaks
		{ID: "streak_7", Name: "Неделя в строю", Condition: LoginStreakAtLeast{7}, Reward: Reward{EP: 20}, Rarity: RarityCommon},
		{ID: "streak_30", Name: "Месяц без пропусков", Condition: LoginStreakAtLeast{30}, Reward: Reward{EP: 100}, Rarity: RarityEpic},

		// Totals and ranks
		{ID: "xp_1000", Name: "Тысячник", Condition: TotalAtLeast{domain.XP, 1000}, Reward: Reward{XP: 50}, Rarity: RarityEpic},
		{ID: "ep_500", Name: "Копилка", Condition: TotalAtLeast{domain.EP, 500}, Rarity: RarityRare},
		{ID: "rank_minister", Name: "Министр", Condition: RankAtLeast{domain.XP, 5}, Rarity: RarityLegendary},
		{ID: "rank_legend", Name: "Легенда", Condition: RankAtLeast{domain.EP, 5}, Rarity: RarityLegendary, Hidden: true},

		// Community
		{ID: "organizer", Name: "Организатор", Condition: EventsCreatedAtLeast{3}, Reward: Reward{XP: 30}, Rarity: RarityRare},
		{ID: "mentor", Name: "Наставник", Condition: MenteesAtLeast{1}, Reward: Reward{XP: 20}, Rarity: RarityCommon},

		// Hidden
		{ID: "night_owl", Name: "Сова", Condition: ApprovedBetweenHours{0, 5}, Reward: Reward{EP: 15}, Rarity: RarityRare, Hidden: true},
		{ID: "early_bird", Name: "Жаворонок", Condition: AllOf{ApprovedBetweenHours{5, 8}, TasksCompletedAtLeast{3}}, Reward: Reward{EP: 15}, Rarity: RarityEpic, Hidden: true},
	}
	for i := range defs {
		if defs[i].Description == "" {
			defs[i].Description = Describe(defs[i].Condition)
		}
	}
	return defs
}
