package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/school-parliament/portal/internal/domain"
	"github.com/school-parliament/portal/internal/storage"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTask(status domain.TaskStatus) *domain.Task {
	return &domain.Task{
		ID:             uuid.New(),
		Title:          "poster",
		Type:           domain.TaskPrivate,
		TargetAudience: domain.AudienceParliamentMember,
		Priority:       domain.PriorityMedium,
		Status:         status,
		CreatedAt:      t0,
		UpdatedAt:      t0,
	}
}

func entry(user uuid.UUID, c domain.Currency, amount int64, at time.Time) *domain.LedgerEntry {
	return &domain.LedgerEntry{ID: uuid.New(), UserID: user, Currency: c, Amount: amount, CreatedAt: at}
}

func TestGetTaskReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	task := newTask(domain.TaskNew)
	task.EvidenceLinks = []string{"https://a"}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	got.Title = "mutated"
	got.EvidenceLinks[0] = "mutated"

	again, _ := s.GetTask(ctx, task.ID)
	if again.Title != "poster" || again.EvidenceLinks[0] != "https://a" {
		t.Errorf("GetTask did not return a copy: %+v", again)
	}
}

func TestGetTaskMissing(t *testing.T) {
	_, err := NewStore().GetTask(context.Background(), uuid.New())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateTaskCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	task := newTask(domain.TaskInReview)
	_ = s.CreateTask(ctx, task)

	task.Status = domain.TaskCompleted
	if err := s.UpdateTask(ctx, task, domain.TaskInReview); err != nil {
		t.Fatalf("first update: %v", err)
	}
	// A second writer that read IN_REVIEW loses.
	task.Status = domain.TaskRejected
	if err := s.UpdateTask(ctx, task, domain.TaskInReview); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("stale update err = %v, want ErrConflict", err)
	}
	got, _ := s.GetTask(ctx, task.ID)
	if got.Status != domain.TaskCompleted {
		t.Errorf("status = %s, want COMPLETED", got.Status)
	}
}

func TestCreateInstanceDuplicate(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	taskID, user := uuid.New(), uuid.New()
	first := &domain.PublicTaskInstance{ID: uuid.New(), TaskID: taskID, UserID: user, Status: domain.InstanceInProgress}
	if err := s.CreateInstance(ctx, first); err != nil {
		t.Fatal(err)
	}
	dup := &domain.PublicTaskInstance{ID: uuid.New(), TaskID: taskID, UserID: user, Status: domain.InstanceInProgress}
	if err := s.CreateInstance(ctx, dup); !errors.Is(err, domain.ErrAlreadyTaken) {
		t.Errorf("duplicate err = %v, want ErrAlreadyTaken", err)
	}
	other := &domain.PublicTaskInstance{ID: uuid.New(), TaskID: taskID, UserID: uuid.New(), Status: domain.InstanceInProgress}
	if err := s.CreateInstance(ctx, other); err != nil {
		t.Errorf("second user: %v", err)
	}
	list, _ := s.ListInstances(ctx, taskID)
	if len(list) != 2 || list[0].ID != first.ID {
		t.Errorf("ListInstances = %d entries, want 2 in creation order", len(list))
	}
}

func TestInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	user := uuid.New()
	task := newTask(domain.TaskInReview)
	_ = s.CreateTask(ctx, task)

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx storage.Store) error {
		cp := task.Clone()
		cp.Status = domain.TaskCompleted
		if err := tx.UpdateTask(ctx, cp, domain.TaskInReview); err != nil {
			return err
		}
		if err := tx.AppendEntries(ctx, entry(user, domain.XP, 50, t0)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx err = %v, want boom", err)
	}

	got, _ := s.GetTask(ctx, task.ID)
	if got.Status != domain.TaskInReview {
		t.Errorf("status after rollback = %s, want IN_REVIEW", got.Status)
	}
	if sum, _ := s.SumFor(ctx, user, domain.XP); sum != 0 {
		t.Errorf("XP after rollback = %d, want 0", sum)
	}
}

func TestInTxWritesHiddenUntilCommit(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	user := uuid.New()

	written := make(chan struct{})
	release := make(chan error)
	done := make(chan error, 1)
	go func() {
		done <- s.InTx(ctx, func(tx storage.Store) error {
			if err := tx.AppendEntries(ctx, entry(user, domain.EP, 500, t0)); err != nil {
				return err
			}
			if sum, _ := tx.SumFor(ctx, user, domain.EP); sum != 500 {
				t.Errorf("EP inside tx = %d, want 500", sum)
			}
			close(written)
			return <-release
		})
	}()

	<-written
	if sum, _ := s.SumFor(ctx, user, domain.EP); sum != 0 {
		t.Errorf("EP seen outside an open tx = %d, want 0", sum)
	}
	totals, _ := s.Totals(ctx, domain.EP)
	if len(totals) != 0 {
		t.Errorf("Totals outside an open tx = %+v, want none", totals)
	}

	boom := errors.New("boom")
	release <- boom
	if err := <-done; !errors.Is(err, boom) {
		t.Fatalf("InTx err = %v, want boom", err)
	}
	if sum, _ := s.SumFor(ctx, user, domain.EP); sum != 0 {
		t.Errorf("EP after rollback = %d, want 0", sum)
	}

	// A committed tx becomes visible as a whole.
	if err := s.InTx(ctx, func(tx storage.Store) error {
		return tx.AppendEntries(ctx, entry(user, domain.EP, 20, t0), entry(user, domain.EP, 30, t0))
	}); err != nil {
		t.Fatal(err)
	}
	if sum, _ := s.SumFor(ctx, user, domain.EP); sum != 50 {
		t.Errorf("EP after commit = %d, want 50", sum)
	}
}

func TestInTxNestedJoinsOuter(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	user := uuid.New()
	err := s.InTx(ctx, func(tx storage.Store) error {
		return tx.InTx(ctx, func(inner storage.Store) error {
			return inner.AppendEntries(ctx, entry(user, domain.EP, 5, t0))
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if sum, _ := s.SumFor(ctx, user, domain.EP); sum != 5 {
		t.Errorf("EP = %d, want 5", sum)
	}
}

func TestAppendEntriesRejectsNegative(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	user := uuid.New()
	err := s.AppendEntries(ctx, entry(user, domain.XP, 10, t0), entry(user, domain.XP, -1, t0))
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
	if sum, _ := s.SumFor(ctx, user, domain.XP); sum != 0 {
		t.Errorf("partial append: XP = %d, want 0", sum)
	}
}

func TestTotalsReachedAt(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	a, b := uuid.New(), uuid.New()
	_ = s.AppendEntries(ctx,
		entry(a, domain.XP, 30, t0),
		entry(b, domain.XP, 50, t0.Add(time.Hour)),
		entry(a, domain.XP, 20, t0.Add(2*time.Hour)),
		entry(a, domain.XP, 0, t0.Add(3*time.Hour)),
		entry(a, domain.EP, 99, t0),
	)
	totals, err := s.Totals(ctx, domain.XP)
	if err != nil {
		t.Fatal(err)
	}
	if len(totals) != 2 {
		t.Fatalf("got %d totals, want 2", len(totals))
	}
	byUser := map[uuid.UUID]domain.UserTotal{}
	for _, tt := range totals {
		byUser[tt.UserID] = tt
	}
	if got := byUser[a]; got.Total != 50 || !got.ReachedAt.Equal(t0.Add(2*time.Hour)) {
		t.Errorf("a = %+v, want 50 reached at +2h (zero grants do not move it)", got)
	}
	if got := byUser[b]; got.Total != 50 || !got.ReachedAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("b = %+v, want 50 reached at +1h", got)
	}
}

func TestInsertUnlockOnce(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	user := uuid.New()
	u := &domain.UnlockedAchievement{UserID: user, AchievementID: "first_task", UnlockedAt: t0}
	if err := s.InsertUnlock(ctx, u); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertUnlock(ctx, u); !errors.Is(err, domain.ErrAlreadyUnlocked) {
		t.Errorf("second insert err = %v, want ErrAlreadyUnlocked", err)
	}
	list, _ := s.UnlockedFor(ctx, user)
	if len(list) != 1 {
		t.Errorf("UnlockedFor = %d, want 1", len(list))
	}
}

func TestCompletionStats(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	user := uuid.New()

	done := newTask(domain.TaskCompleted)
	done.AssignedToID = &user
	at := t0.Add(time.Hour)
	done.CompletedAt = &at
	_ = s.CreateTask(ctx, done)

	open := newTask(domain.TaskInProgress)
	open.AssignedToID = &user
	_ = s.CreateTask(ctx, open)

	pos := 1
	_ = s.CreateInstance(ctx, &domain.PublicTaskInstance{
		ID: uuid.New(), TaskID: uuid.New(), UserID: user,
		Status: domain.InstanceCompleted, TopPosition: &pos, UpdatedAt: t0.Add(2 * time.Hour),
	})

	st, err := s.CompletionStats(ctx, user)
	if err != nil {
		t.Fatal(err)
	}
	if st.PrivateCompleted != 1 || st.PublicCompleted != 1 || st.TopPlacements != 1 {
		t.Errorf("stats = %+v", st)
	}
	if st.LastApprovalAt == nil || !st.LastApprovalAt.Equal(t0.Add(2*time.Hour)) {
		t.Errorf("LastApprovalAt = %v, want +2h", st.LastApprovalAt)
	}
}

func TestDueRankedTasks(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	n := 2
	deadline := t0.Add(24 * time.Hour)
	mk := func(selected bool, awarded bool) *domain.Task {
		task := newTask(domain.TaskNew)
		task.Type = domain.TaskPublic
		task.TopRanking = &n
		task.Deadline = &deadline
		task.TopAwarded = awarded
		if selected {
			task.SelectedTopInstances = []uuid.UUID{uuid.New()}
		}
		_ = s.CreateTask(ctx, task)
		return task
	}
	due := mk(true, false)
	mk(false, false)
	mk(true, true)

	if got, _ := s.DueRankedTasks(ctx, deadline.Add(-time.Second)); len(got) != 0 {
		t.Errorf("before deadline: %d due, want 0", len(got))
	}
	got, _ := s.DueRankedTasks(ctx, deadline)
	if len(got) != 1 || got[0].ID != due.ID {
		t.Errorf("at deadline: got %d due, want only the selected unawarded task", len(got))
	}
}

func TestActivityAndUsers(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	user := uuid.New()

	a, _ := s.GetActivity(ctx, user)
	if a.UserID != user || a.CurrentStreak != 0 {
		t.Errorf("zero activity = %+v", a)
	}
	a.CurrentStreak = 3
	_ = s.SaveActivity(ctx, a)
	if got, _ := s.GetActivity(ctx, user); got.CurrentStreak != 3 {
		t.Errorf("streak = %d, want 3", got.CurrentStreak)
	}

	_ = s.UpsertUser(ctx, &domain.UserProfile{ID: user, DisplayName: "Ann", Role: domain.RoleMember})
	_ = s.UpsertUser(ctx, &domain.UserProfile{ID: user, DisplayName: "Anna", Role: domain.RoleMember})
	users, _ := s.ListUsers(ctx)
	if len(users) != 1 || users[0].DisplayName != "Anna" {
		t.Errorf("users = %+v", users)
	}

	high := newTask(domain.TaskCompleted)
	high.Priority = domain.PriorityHigh
	high.AssignedToID = &user
	_ = s.CreateTask(ctx, high)
	scores, _ := s.ActivityScores(ctx)
	if scores[user] != 3 {
		t.Errorf("activity score = %d, want 3", scores[user])
	}
}

func TestConcurrentTransactionsSerialize(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	user := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.InTx(ctx, func(tx storage.Store) error {
				return tx.AppendEntries(ctx, entry(user, domain.XP, 2, t0))
			})
		}()
	}
	wg.Wait()
	if sum, _ := s.SumFor(ctx, user, domain.XP); sum != 100 {
		t.Errorf("XP = %d, want 100", sum)
	}
}
