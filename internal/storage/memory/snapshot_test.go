package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/school-parliament/portal/internal/domain"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	users, _ := s.ListUsers(context.Background())
	if len(users) != 0 {
		t.Errorf("users = %d, want 0", len(users))
	}
}

func TestSaveFileReloadKeepsState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "portal.json")
	s := NewStore()

	alice := domain.UserProfile{ID: uuid.New(), DisplayName: "Alice", Role: domain.RoleStudent}
	bob := domain.UserProfile{ID: uuid.New(), DisplayName: "Bob", Role: domain.RoleMember, Ministry: "culture"}
	for _, u := range []domain.UserProfile{alice, bob} {
		if err := s.UpsertUser(ctx, &u); err != nil {
			t.Fatalf("UpsertUser: %v", err)
		}
	}
	task := newTask(domain.TaskNew)
	task.Type = domain.TaskPublic
	task.TargetAudience = domain.AudiencePublic
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	inst := &domain.PublicTaskInstance{ID: uuid.New(), TaskID: task.ID, UserID: alice.ID, Status: domain.InstanceInProgress, CreatedAt: t0}
	if err := s.CreateInstance(ctx, inst); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if err := s.AppendEntries(ctx, entry(alice.ID, domain.EP, 30, t0), entry(alice.ID, domain.EP, 20, t0)); err != nil {
		t.Fatalf("AppendEntries: %v", err)
	}
	if err := s.InsertUnlock(ctx, &domain.UnlockedAchievement{UserID: alice.ID, AchievementID: "first_task", UnlockedAt: t0}); err != nil {
		t.Fatalf("InsertUnlock: %v", err)
	}
	if err := s.SaveActivity(ctx, &domain.UserActivity{UserID: alice.ID, CurrentStreak: 3, LongestStreak: 5}); err != nil {
		t.Fatalf("SaveActivity: %v", err)
	}

	if err := s.SaveFile(path); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".portal-*.tmp"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}

	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	users, _ := r.ListUsers(ctx)
	if len(users) != 2 || users[0].ID != alice.ID || users[1].Ministry != "culture" {
		t.Errorf("users = %+v", users)
	}
	if sum, _ := r.SumFor(ctx, alice.ID, domain.EP); sum != 50 {
		t.Errorf("EP sum = %d, want 50", sum)
	}
	dup := &domain.PublicTaskInstance{ID: uuid.New(), TaskID: task.ID, UserID: alice.ID, Status: domain.InstanceInProgress}
	if err := r.CreateInstance(ctx, dup); !errors.Is(err, domain.ErrAlreadyTaken) {
		t.Errorf("second take after reload: err = %v, want ErrAlreadyTaken", err)
	}
	err = r.InsertUnlock(ctx, &domain.UnlockedAchievement{UserID: alice.ID, AchievementID: "first_task", UnlockedAt: t0})
	if !errors.Is(err, domain.ErrAlreadyUnlocked) {
		t.Errorf("unlock after reload: err = %v, want ErrAlreadyUnlocked", err)
	}
	act, _ := r.GetActivity(ctx, alice.ID)
	if act.CurrentStreak != 3 || act.LongestStreak != 5 {
		t.Errorf("activity = %+v", act)
	}
}

func TestLoadRejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portal.json")
	if err := os.WriteFile(path, []byte(`{"version": 99}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for a newer snapshot version")
	}
}
