package sqldb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/school-parliament/portal/internal/domain"
	"github.com/school-parliament/portal/internal/storage"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "portal.db"), 0, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewStore(db)
}

func publicTask() *domain.Task {
	n := 2
	deadline := t0.Add(48 * time.Hour)
	ministry := "culture"
	return &domain.Task{
		ID:             uuid.New(),
		Title:          "essay contest",
		Ministry:       &ministry,
		CreatedByID:    uuid.New(),
		Priority:       domain.PriorityHigh,
		Deadline:       &deadline,
		TargetAudience: domain.AudienceStudent,
		Type:           domain.TaskPublic,
		EPReward:       40,
		Status:         domain.TaskNew,
		TopRanking:     &n,
		CreatedAt:      t0,
		UpdatedAt:      t0,
	}
}

func TestTaskRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	task := publicTask()
	task.EvidenceLinks = []string{"https://example.org/a?x=1&y=2"}
	task.Verification = &domain.VerificationReport{Passed: true, Warnings: []string{"slow host"}}
	task.SelectedTopInstances = []uuid.UUID{uuid.New()}

	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	got, err := s.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Title != task.Title || *got.Ministry != "culture" || *got.TopRanking != 2 {
		t.Errorf("scalar fields lost: %+v", got)
	}
	if !got.Deadline.Equal(*task.Deadline) || !got.CreatedAt.Equal(t0) {
		t.Errorf("times = %v / %v", got.Deadline, got.CreatedAt)
	}
	if len(got.EvidenceLinks) != 1 || got.EvidenceLinks[0] != task.EvidenceLinks[0] {
		t.Errorf("EvidenceLinks = %v", got.EvidenceLinks)
	}
	if got.Verification == nil || !got.Verification.Passed || len(got.Verification.Warnings) != 1 {
		t.Errorf("Verification = %+v", got.Verification)
	}
	if len(got.SelectedTopInstances) != 1 || got.SelectedTopInstances[0] != task.SelectedTopInstances[0] {
		t.Errorf("SelectedTopInstances = %v", got.SelectedTopInstances)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetTask(context.Background(), uuid.New()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateTaskCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	task := publicTask()
	_ = s.CreateTask(ctx, task)

	task.Status = domain.TaskInProgress
	task.UpdatedAt = t0.Add(time.Minute)
	if err := s.UpdateTask(ctx, task, domain.TaskNew); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if err := s.UpdateTask(ctx, task, domain.TaskNew); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("stale update err = %v, want ErrConflict", err)
	}
	missing := publicTask()
	if err := s.UpdateTask(ctx, missing, domain.TaskNew); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing update err = %v, want ErrNotFound", err)
	}
	got, _ := s.GetTask(ctx, task.ID)
	if got.Status != domain.TaskInProgress || !got.UpdatedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("after update: status %s updated %v", got.Status, got.UpdatedAt)
	}
}

func TestInstanceUniquePerUser(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	taskID, user := uuid.New(), uuid.New()
	mk := func(u uuid.UUID) *domain.PublicTaskInstance {
		return &domain.PublicTaskInstance{ID: uuid.New(), TaskID: taskID, UserID: u, Status: domain.InstanceInProgress, CreatedAt: t0, UpdatedAt: t0}
	}
	if err := s.CreateInstance(ctx, mk(user)); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateInstance(ctx, mk(user)); !errors.Is(err, domain.ErrAlreadyTaken) {
		t.Errorf("duplicate err = %v, want ErrAlreadyTaken", err)
	}
}

func TestInTxRollback(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	user := uuid.New()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx storage.Store) error {
		if err := tx.AppendEntries(ctx, &domain.LedgerEntry{ID: uuid.New(), UserID: user, Currency: domain.XP, Amount: 10, CreatedAt: t0}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if sum, _ := s.SumFor(ctx, user, domain.XP); sum != 0 {
		t.Errorf("XP after rollback = %d, want 0", sum)
	}
}

func TestLedgerTotals(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	a, b := uuid.New(), uuid.New()
	e := func(u uuid.UUID, amt int64, at time.Time) *domain.LedgerEntry {
		return &domain.LedgerEntry{ID: uuid.New(), UserID: u, Currency: domain.EP, Amount: amt, Reason: "test", CreatedAt: at}
	}
	if err := s.AppendEntries(ctx, e(a, 10, t0), e(b, 15, t0.Add(time.Hour)), e(a, 5, t0.Add(2*time.Hour))); err != nil {
		t.Fatal(err)
	}
	if sum, _ := s.SumFor(ctx, a, domain.EP); sum != 15 {
		t.Errorf("SumFor(a) = %d, want 15", sum)
	}
	entries, _ := s.EntriesFor(ctx, a, domain.EP)
	if len(entries) != 2 || entries[0].Amount != 10 {
		t.Errorf("EntriesFor(a) = %+v", entries)
	}
	totals, _ := s.Totals(ctx, domain.EP)
	if len(totals) != 2 || totals[0].UserID != a || !totals[0].ReachedAt.Equal(t0.Add(2*time.Hour)) {
		t.Errorf("Totals = %+v", totals)
	}
	if err := s.AppendEntries(ctx, e(a, -1, t0)); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("negative err = %v", err)
	}
}

func TestUnlockUnique(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	u := &domain.UnlockedAchievement{UserID: uuid.New(), AchievementID: "first_task", Title: "First task", UnlockedAt: t0}
	if err := s.InsertUnlock(ctx, u); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertUnlock(ctx, u); !errors.Is(err, domain.ErrAlreadyUnlocked) {
		t.Errorf("duplicate err = %v, want ErrAlreadyUnlocked", err)
	}
}

func TestDueRankedAndEvidence(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	due := publicTask()
	due.SelectedTopInstances = []uuid.UUID{uuid.New()}
	due.EvidenceLinks = []string{"https://x"}
	_ = s.CreateTask(ctx, due)
	unselected := publicTask()
	_ = s.CreateTask(ctx, unselected)

	got, err := s.DueRankedTasks(ctx, due.Deadline.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Errorf("DueRankedTasks = %d tasks", len(got))
	}

	_ = s.CreateInstance(ctx, &domain.PublicTaskInstance{
		ID: uuid.New(), TaskID: due.ID, UserID: uuid.New(), Status: domain.InstanceInReview,
		EvidenceLinks: []string{"https://x"}, CreatedAt: t0, UpdatedAt: t0,
	})
	if n, _ := s.CountEvidenceLink(ctx, "https://x", due.ID); n != 1 {
		t.Errorf("CountEvidenceLink = %d, want 1", n)
	}
}

func TestActivityAndUsers(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	user := uuid.New()

	a, err := s.GetActivity(ctx, user)
	if err != nil || a.CurrentStreak != 0 {
		t.Fatalf("GetActivity = %+v, %v", a, err)
	}
	a.CurrentStreak, a.LongestStreak, a.LastLoginDay = 2, 5, t0
	if err := s.SaveActivity(ctx, a); err != nil {
		t.Fatal(err)
	}
	a.CurrentStreak = 3
	if err := s.SaveActivity(ctx, a); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetActivity(ctx, user)
	if got.CurrentStreak != 3 || got.LongestStreak != 5 || !got.LastLoginDay.Equal(t0) {
		t.Errorf("activity = %+v", got)
	}

	if err := s.UpsertUser(ctx, &domain.UserProfile{ID: user, DisplayName: "Ann", Role: domain.RoleMember, Ministry: "sport"}); err != nil {
		t.Fatal(err)
	}
	_ = s.UpsertUser(ctx, &domain.UserProfile{ID: user, DisplayName: "Anna", Role: domain.RoleCurator, Ministry: "sport"})
	p, err := s.GetUser(ctx, user)
	if err != nil || p.DisplayName != "Anna" || p.Role != domain.RoleCurator {
		t.Errorf("GetUser = %+v, %v", p, err)
	}

	done := publicTask()
	done.Type = domain.TaskPrivate
	done.Status = domain.TaskCompleted
	done.AssignedToID = &user
	done.Priority = domain.PriorityCritical
	_ = s.CreateTask(ctx, done)
	scores, err := s.ActivityScores(ctx)
	if err != nil || scores[user] != 4 {
		t.Errorf("ActivityScores = %v, %v", scores, err)
	}
	st, _ := s.CompletionStats(ctx, user)
	if st.PrivateCompleted != 1 {
		t.Errorf("CompletionStats = %+v", st)
	}
}
