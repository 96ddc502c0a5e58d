// Package mock seeds a store with demo users and tasks by driving the real
// engine services, so every seeded grant goes through the ledger and every
// unlock through the rule engine.
package mock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/school-parliament/portal/internal/activity"
	"github.com/school-parliament/portal/internal/domain"
	"github.com/school-parliament/portal/internal/logger"
	"github.com/school-parliament/portal/internal/storage"
	"github.com/school-parliament/portal/internal/tasks"
)

// Summary reports what a seed run created.
type Summary struct {
	Users         int
	Tasks         int
	Instances     int
	RankedTaskID  uuid.UUID
	RankedDueAt   time.Time
	SelectedCount int
}

type mockUser struct {
	name     string
	role     domain.Role
	ministry string
}

var demoUsers = []mockUser{
	{"Admin", domain.RoleAdmin, ""},
	{"Ирина Куратор", domain.RoleCurator, "culture"},
	{"Павел Куратор", domain.RoleCurator, "sport"},
	{"Олег", domain.RoleMember, "culture"},
	{"Мария", domain.RoleMember, "culture"},
	{"Денис", domain.RoleMember, "sport"},
	{"Аня", domain.RoleStudent, ""},
	{"Борис", domain.RoleStudent, ""},
	{"Вера", domain.RoleStudent, ""},
	{"Глеб", domain.RoleStudent, ""},
	{"Даша", domain.RoleStudent, ""},
	{"Егор", domain.RoleStudent, ""},
}

var privateTitles = []string{
	"Подготовить протокол заседания",
	"Собрать предложения по школьной ярмарке",
	"Провести опрос в параллели",
	"Организовать турнир по настольному теннису",
	"Обновить стенд министерства",
}

var priorities = []domain.Priority{domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh, domain.PriorityCritical}

// Generator seeds demo data.
type Generator struct {
	store    storage.Store
	tasks    *tasks.Manager
	activity *activity.Tracker
	now      func() time.Time
	rng      *rand.Rand
	log      *logger.Logger
	// rankedIn is how long after seeding the ranked demo task is due.
	rankedIn time.Duration
}

func NewGenerator(store storage.Store, mgr *tasks.Manager, tracker *activity.Tracker, log *logger.Logger) *Generator {
	if log == nil {
		log = logger.Nop()
	}
	return &Generator{
		store:    store,
		tasks:    mgr,
		activity: tracker,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(42)),
		log:      log.Named("mock"),
		rankedIn: 2 * time.Minute,
	}
}

// SetClock overrides the time used for logins and the ranked deadline.
func (g *Generator) SetClock(now func() time.Time) { g.now = now }

// SetRankedDelay sets how long after seeding the ranked task is due.
func (g *Generator) SetRankedDelay(d time.Duration) { g.rankedIn = d }

// Seed creates the demo dataset.
func (g *Generator) Seed(ctx context.Context) (*Summary, error) {
	sum := &Summary{}
	actors := make([]domain.Actor, 0, len(demoUsers))
	for _, u := range demoUsers {
		p := &domain.UserProfile{ID: uuid.New(), DisplayName: u.name, Role: u.role, Ministry: u.ministry}
		if err := g.store.UpsertUser(ctx, p); err != nil {
			return nil, fmt.Errorf("seeding user %s: %w", u.name, err)
		}
		actors = append(actors, domain.Actor{UserID: p.ID, Role: p.Role, Ministry: p.Ministry})
	}
	sum.Users = len(actors)
	admin := actors[0]
	var members, students []domain.Actor
	for _, a := range actors {
		switch a.Role {
		case domain.RoleMember:
			members = append(members, a)
		case domain.RoleStudent:
			students = append(students, a)
		}
	}

	if err := g.seedPrivate(ctx, admin, members, sum); err != nil {
		return nil, err
	}
	if err := g.seedPublic(ctx, admin, students, sum); err != nil {
		return nil, err
	}
	if err := g.seedRanked(ctx, admin, students, sum); err != nil {
		return nil, err
	}
	g.seedLogins(ctx, students)

	g.log.Info("demo data seeded", "users", sum.Users, "tasks", sum.Tasks,
		"instances", sum.Instances, "ranked_task", sum.RankedTaskID)
	return sum, nil
}

// seedPrivate assigns each title to a member and walks most of them to
// COMPLETED.
func (g *Generator) seedPrivate(ctx context.Context, admin domain.Actor, members []domain.Actor, sum *Summary) error {
	for i, title := range privateTitles {
		m := members[i%len(members)]
		ministry := m.Ministry
		t, err := g.tasks.CreateTask(ctx, admin, tasks.NewTask{
			Title:          title,
			Ministry:       &ministry,
			AssignedToID:   &m.UserID,
			Priority:       priorities[g.rng.Intn(len(priorities))],
			TargetAudience: domain.AudienceParliamentMember,
			Type:           domain.TaskPrivate,
			XPReward:       int64(20 + 10*g.rng.Intn(5)),
		})
		if err != nil {
			return fmt.Errorf("seeding task %q: %w", title, err)
		}
		sum.Tasks++
		if i == len(privateTitles)-1 {
			continue // left NEW
		}
		if _, err := g.tasks.Start(ctx, m, t.ID); err != nil {
			return err
		}
		if _, err := g.tasks.SubmitTask(ctx, m, t.ID, tasks.Submission{Description: "Готово: " + title}); err != nil {
			return err
		}
		if _, err := g.tasks.ApproveTask(ctx, admin, t.ID); err != nil {
			return err
		}
	}
	return nil
}

func (g *Generator) seedPublic(ctx context.Context, admin domain.Actor, students []domain.Actor, sum *Summary) error {
	t, err := g.tasks.CreateTask(ctx, admin, tasks.NewTask{
		Title:          "Субботник во дворе школы",
		Description:    "Приложите фото до и после.",
		TargetAudience: domain.AudiencePublic,
		Type:           domain.TaskPublic,
		EPReward:       50,
	})
	if err != nil {
		return fmt.Errorf("seeding public task: %w", err)
	}
	sum.Tasks++
	for i, s := range students {
		inst, err := g.complete(ctx, admin, s, t.ID, i)
		if err != nil {
			return err
		}
		if inst != nil {
			sum.Instances++
		}
	}
	return nil
}

// seedRanked creates a top-3 contest due shortly after seeding with a
// shortlist already selected, so the sweeper has something to award.
func (g *Generator) seedRanked(ctx context.Context, admin domain.Actor, students []domain.Actor, sum *Summary) error {
	top := 3
	due := g.now().UTC().Add(g.rankedIn)
	t, err := g.tasks.CreateTask(ctx, admin, tasks.NewTask{
		Title:          "Конкурс плакатов ко Дню науки",
		TargetAudience: domain.AudienceStudent,
		Type:           domain.TaskPublic,
		EPReward:       100,
		TopRanking:     &top,
		Deadline:       &due,
	})
	if err != nil {
		return fmt.Errorf("seeding ranked task: %w", err)
	}
	sum.Tasks++
	sum.RankedTaskID, sum.RankedDueAt = t.ID, due

	var done []uuid.UUID
	for i, s := range students {
		inst, err := g.complete(ctx, admin, s, t.ID, i)
		if err != nil {
			return err
		}
		if inst != nil && inst.Status == domain.InstanceCompleted {
			sum.Instances++
			done = append(done, inst.ID)
		}
	}
	g.rng.Shuffle(len(done), func(i, j int) { done[i], done[j] = done[j], done[i] })
	if len(done) > top {
		done = done[:top]
	}
	if _, err := g.tasks.SelectTop(ctx, admin, t.ID, done); err != nil {
		return fmt.Errorf("selecting top: %w", err)
	}
	sum.SelectedCount = len(done)
	return nil
}

// complete takes, submits and approves an instance for s. Every fourth
// student only takes the task.
func (g *Generator) complete(ctx context.Context, admin, s domain.Actor, taskID uuid.UUID, i int) (*domain.PublicTaskInstance, error) {
	inst, err := g.tasks.TakeInstance(ctx, s, taskID)
	if err != nil {
		return nil, fmt.Errorf("taking task: %w", err)
	}
	if i%4 == 3 {
		return inst, nil
	}
	link := fmt.Sprintf("https://photos.school.example/%s/%d.jpg", taskID, i)
	if _, err := g.tasks.SubmitInstance(ctx, s, inst.ID, tasks.Submission{Description: "Сделано", EvidenceLinks: []string{link}}); err != nil {
		return nil, fmt.Errorf("submitting instance: %w", err)
	}
	return g.tasks.ApproveInstance(ctx, admin, inst.ID, tasks.ApproveOptions{})
}

// seedLogins gives each student a login streak ending today.
func (g *Generator) seedLogins(ctx context.Context, students []domain.Actor) {
	today := g.now().UTC()
	for _, s := range students {
		days := 1 + g.rng.Intn(9)
		for d := days - 1; d >= 0; d-- {
			if _, err := g.activity.RecordLogin(ctx, s.UserID, today.AddDate(0, 0, -d)); err != nil {
				g.log.Warn("seeding login failed", "user", s.UserID, "error", err)
				return
			}
		}
	}
}
