// Package memory is an in-process storage.Store. Transactions are serialized
// by a single mutex and run against a copy that is swapped in on commit.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/school-parliament/portal/internal/domain"
	"github.com/school-parliament/portal/internal/storage"
)

type unlockKey struct {
	user        uuid.UUID
	achievement string
}

type data struct {
	mu sync.RWMutex

	tasks         map[uuid.UUID]*domain.Task
	taskOrder     []uuid.UUID
	instances     map[uuid.UUID]*domain.PublicTaskInstance
	instanceOrder []uuid.UUID
	taken         map[[2]uuid.UUID]uuid.UUID // (task, user) -> instance
	entries       []domain.LedgerEntry
	unlocks       map[unlockKey]domain.UnlockedAchievement
	activity      map[uuid.UUID]domain.UserActivity
	users         map[uuid.UUID]domain.UserProfile
	userOrder     []uuid.UUID
}

func newData() *data {
	return &data{
		tasks:     make(map[uuid.UUID]*domain.Task),
		instances: make(map[uuid.UUID]*domain.PublicTaskInstance),
		taken:     make(map[[2]uuid.UUID]uuid.UUID),
		unlocks:   make(map[unlockKey]domain.UnlockedAchievement),
		activity:  make(map[uuid.UUID]domain.UserActivity),
		users:     make(map[uuid.UUID]domain.UserProfile),
	}
}

// clone deep-copies the dataset. Callers hold mu.
func (d *data) clone() *data {
	cp := newData()
	for id, t := range d.tasks {
		cp.tasks[id] = t.Clone()
	}
	cp.taskOrder = slices.Clone(d.taskOrder)
	for id, inst := range d.instances {
		cp.instances[id] = inst.Clone()
	}
	cp.instanceOrder = slices.Clone(d.instanceOrder)
	for k, v := range d.taken {
		cp.taken[k] = v
	}
	cp.entries = slices.Clone(d.entries)
	for k, v := range d.unlocks {
		cp.unlocks[k] = v
	}
	for k, v := range d.activity {
		cp.activity[k] = v
	}
	for k, v := range d.users {
		cp.users[k] = v
	}
	cp.userOrder = slices.Clone(d.userOrder)
	return cp
}

// restore replaces the dataset with snap's. Callers hold mu.
func (d *data) restore(snap *data) {
	d.tasks, d.taskOrder = snap.tasks, snap.taskOrder
	d.instances, d.instanceOrder = snap.instances, snap.instanceOrder
	d.taken = snap.taken
	d.entries = snap.entries
	d.unlocks = snap.unlocks
	d.activity = snap.activity
	d.users, d.userOrder = snap.users, snap.userOrder
}

// Store implements storage.Store in memory.
type Store struct {
	d    *data
	tx   *sync.Mutex // serializes transactions and out-of-transaction writes
	inTx bool
}

var _ storage.Store = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{d: newData(), tx: &sync.Mutex{}}
}

// InTx runs fn with every other writer excluded. fn works on a private copy
// of the dataset that replaces the shared one only when fn returns nil, so
// readers outside the transaction never see its writes before commit.
// Nested calls join the outer one.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.tx.Lock()
	defer s.tx.Unlock()

	s.d.mu.RLock()
	work := s.d.clone()
	s.d.mu.RUnlock()

	if err := fn(&Store{d: work, tx: s.tx, inTx: true}); err != nil {
		return err
	}
	s.d.mu.Lock()
	s.d.restore(work)
	s.d.mu.Unlock()
	return nil
}

func (s *Store) write(fn func() error) error {
	if !s.inTx {
		s.tx.Lock()
		defer s.tx.Unlock()
	}
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return fn()
}

func (s *Store) read(fn func()) {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()
	fn()
}

// ─── Ledger ─────────────────────────────────────────────────────────────────

func (s *Store) AppendEntries(_ context.Context, entries ...*domain.LedgerEntry) error {
	return s.write(func() error {
		for _, e := range entries {
			if e.Amount < 0 {
				return fmt.Errorf("%w: %d", domain.ErrInvalidAmount, e.Amount)
			}
		}
		for _, e := range entries {
			s.d.entries = append(s.d.entries, *e)
		}
		return nil
	})
}

func (s *Store) SumFor(_ context.Context, userID uuid.UUID, c domain.Currency) (int64, error) {
	var total int64
	s.read(func() {
		for _, e := range s.d.entries {
			if e.UserID == userID && e.Currency == c {
				total += e.Amount
			}
		}
	})
	return total, nil
}

func (s *Store) EntriesFor(_ context.Context, userID uuid.UUID, c domain.Currency) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	s.read(func() {
		for _, e := range s.d.entries {
			if e.UserID == userID && e.Currency == c {
				out = append(out, e)
			}
		}
	})
	return out, nil
}

func (s *Store) Totals(_ context.Context, c domain.Currency) ([]domain.UserTotal, error) {
	var out []domain.UserTotal
	s.read(func() {
		idx := make(map[uuid.UUID]int)
		for _, e := range s.d.entries {
			if e.Currency != c {
				continue
			}
			i, ok := idx[e.UserID]
			if !ok {
				i = len(out)
				idx[e.UserID] = i
				out = append(out, domain.UserTotal{UserID: e.UserID, ReachedAt: e.CreatedAt})
			}
			out[i].Total += e.Amount
			if e.Amount > 0 {
				out[i].ReachedAt = e.CreatedAt
			}
		}
	})
	return out, nil
}

// ─── Tasks ──────────────────────────────────────────────────────────────────

func (s *Store) CreateTask(_ context.Context, t *domain.Task) error {
	return s.write(func() error {
		if _, ok := s.d.tasks[t.ID]; ok {
			return fmt.Errorf("%w: task %s exists", domain.ErrConflict, t.ID)
		}
		s.d.tasks[t.ID] = t.Clone()
		s.d.taskOrder = append(s.d.taskOrder, t.ID)
		return nil
	})
}

func (s *Store) GetTask(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	var out *domain.Task
	s.read(func() {
		if t, ok := s.d.tasks[id]; ok {
			out = t.Clone()
		}
	})
	if out == nil {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return out, nil
}

// LockTask is GetTask: InTx already excludes every other writer.
func (s *Store) LockTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return s.GetTask(ctx, id)
}

func (s *Store) UpdateTask(_ context.Context, t *domain.Task, expected domain.TaskStatus) error {
	return s.write(func() error {
		cur, ok := s.d.tasks[t.ID]
		if !ok {
			return fmt.Errorf("task %s: %w", t.ID, domain.ErrNotFound)
		}
		if cur.Status != expected {
			return fmt.Errorf("%w: task %s is %s, expected %s", domain.ErrConflict, t.ID, cur.Status, expected)
		}
		s.d.tasks[t.ID] = t.Clone()
		return nil
	})
}

func (s *Store) ListTasks(_ context.Context, f storage.TaskFilter) ([]*domain.Task, error) {
	var out []*domain.Task
	s.read(func() {
		for _, id := range s.d.taskOrder {
			t := s.d.tasks[id]
			if f.Type != "" && t.Type != f.Type {
				continue
			}
			if f.Status != "" && t.Status != f.Status {
				continue
			}
			if f.Ministry != "" && (t.Ministry == nil || *t.Ministry != f.Ministry) {
				continue
			}
			if f.AssignedTo != nil && (t.AssignedToID == nil || *t.AssignedToID != *f.AssignedTo) {
				continue
			}
			out = append(out, t.Clone())
		}
	})
	return out, nil
}

func (s *Store) DueRankedTasks(_ context.Context, now time.Time) ([]*domain.Task, error) {
	var out []*domain.Task
	s.read(func() {
		for _, id := range s.d.taskOrder {
			t := s.d.tasks[id]
			if !t.Ranked() || t.TopAwarded || len(t.SelectedTopInstances) == 0 {
				continue
			}
			if t.Deadline == nil || t.Deadline.After(now) {
				continue
			}
			out = append(out, t.Clone())
		}
	})
	return out, nil
}

func (s *Store) CreateInstance(_ context.Context, inst *domain.PublicTaskInstance) error {
	return s.write(func() error {
		key := [2]uuid.UUID{inst.TaskID, inst.UserID}
		if _, ok := s.d.taken[key]; ok {
			return domain.ErrAlreadyTaken
		}
		s.d.instances[inst.ID] = inst.Clone()
		s.d.instanceOrder = append(s.d.instanceOrder, inst.ID)
		s.d.taken[key] = inst.ID
		return nil
	})
}

func (s *Store) GetInstance(_ context.Context, id uuid.UUID) (*domain.PublicTaskInstance, error) {
	var out *domain.PublicTaskInstance
	s.read(func() {
		if inst, ok := s.d.instances[id]; ok {
			out = inst.Clone()
		}
	})
	if out == nil {
		return nil, fmt.Errorf("instance %s: %w", id, domain.ErrNotFound)
	}
	return out, nil
}

// LockInstance is GetInstance: InTx already excludes every other writer.
func (s *Store) LockInstance(ctx context.Context, id uuid.UUID) (*domain.PublicTaskInstance, error) {
	return s.GetInstance(ctx, id)
}

func (s *Store) UpdateInstance(_ context.Context, inst *domain.PublicTaskInstance, expected domain.InstanceStatus) error {
	return s.write(func() error {
		cur, ok := s.d.instances[inst.ID]
		if !ok {
			return fmt.Errorf("instance %s: %w", inst.ID, domain.ErrNotFound)
		}
		if cur.Status != expected {
			return fmt.Errorf("%w: instance %s is %s, expected %s", domain.ErrConflict, inst.ID, cur.Status, expected)
		}
		s.d.instances[inst.ID] = inst.Clone()
		return nil
	})
}

func (s *Store) ListInstances(_ context.Context, taskID uuid.UUID) ([]*domain.PublicTaskInstance, error) {
	var out []*domain.PublicTaskInstance
	s.read(func() {
		for _, id := range s.d.instanceOrder {
			if inst := s.d.instances[id]; inst.TaskID == taskID {
				out = append(out, inst.Clone())
			}
		}
	})
	return out, nil
}

func (s *Store) CountEvidenceLink(_ context.Context, link string, exclude uuid.UUID) (int, error) {
	n := 0
	s.read(func() {
		for id, t := range s.d.tasks {
			if id != exclude && slices.Contains(t.EvidenceLinks, link) {
				n++
			}
		}
		for id, inst := range s.d.instances {
			if id != exclude && slices.Contains(inst.EvidenceLinks, link) {
				n++
			}
		}
	})
	return n, nil
}

// ─── Achievements ───────────────────────────────────────────────────────────

func (s *Store) UnlockedFor(_ context.Context, userID uuid.UUID) ([]domain.UnlockedAchievement, error) {
	var out []domain.UnlockedAchievement
	s.read(func() {
		for k, u := range s.d.unlocks {
			if k.user == userID {
				out = append(out, u)
			}
		}
	})
	slices.SortFunc(out, func(a, b domain.UnlockedAchievement) int {
		if c := a.UnlockedAt.Compare(b.UnlockedAt); c != 0 {
			return c
		}
		if a.AchievementID < b.AchievementID {
			return -1
		}
		if a.AchievementID > b.AchievementID {
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *Store) InsertUnlock(_ context.Context, u *domain.UnlockedAchievement) error {
	return s.write(func() error {
		key := unlockKey{u.UserID, u.AchievementID}
		if _, ok := s.d.unlocks[key]; ok {
			return domain.ErrAlreadyUnlocked
		}
		s.d.unlocks[key] = *u
		return nil
	})
}

func (s *Store) CompletionStats(_ context.Context, userID uuid.UUID) (storage.CompletionStats, error) {
	var st storage.CompletionStats
	latest := func(at time.Time) {
		if st.LastApprovalAt == nil || at.After(*st.LastApprovalAt) {
			t := at
			st.LastApprovalAt = &t
		}
	}
	s.read(func() {
		for _, t := range s.d.tasks {
			if t.Type != domain.TaskPrivate || t.Status != domain.TaskCompleted {
				continue
			}
			if t.AssignedToID == nil || *t.AssignedToID != userID {
				continue
			}
			st.PrivateCompleted++
			if t.CompletedAt != nil {
				latest(*t.CompletedAt)
			}
		}
		for _, inst := range s.d.instances {
			if inst.UserID != userID || inst.Status != domain.InstanceCompleted {
				continue
			}
			st.PublicCompleted++
			if inst.TopPosition != nil {
				st.TopPlacements++
			}
			latest(inst.UpdatedAt)
		}
	})
	return st, nil
}

// ─── Activity ───────────────────────────────────────────────────────────────

func (s *Store) GetActivity(_ context.Context, userID uuid.UUID) (*domain.UserActivity, error) {
	a := domain.UserActivity{UserID: userID}
	s.read(func() {
		if cur, ok := s.d.activity[userID]; ok {
			a = cur
		}
	})
	return &a, nil
}

// LockActivity is GetActivity: InTx already excludes every other writer.
func (s *Store) LockActivity(ctx context.Context, userID uuid.UUID) (*domain.UserActivity, error) {
	return s.GetActivity(ctx, userID)
}

func (s *Store) SaveActivity(_ context.Context, a *domain.UserActivity) error {
	return s.write(func() error {
		s.d.activity[a.UserID] = *a
		return nil
	})
}

// ─── Users ──────────────────────────────────────────────────────────────────

func (s *Store) UpsertUser(_ context.Context, u *domain.UserProfile) error {
	return s.write(func() error {
		if _, ok := s.d.users[u.ID]; !ok {
			s.d.userOrder = append(s.d.userOrder, u.ID)
		}
		s.d.users[u.ID] = *u
		return nil
	})
}

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (*domain.UserProfile, error) {
	var (
		u  domain.UserProfile
		ok bool
	)
	s.read(func() { u, ok = s.d.users[id] })
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	return &u, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserProfile, error) {
	var out []domain.UserProfile
	s.read(func() {
		for _, id := range s.d.userOrder {
			out = append(out, s.d.users[id])
		}
	})
	return out, nil
}

func (s *Store) ActivityScores(_ context.Context) (map[uuid.UUID]int, error) {
	out := make(map[uuid.UUID]int)
	s.read(func() {
		for _, t := range s.d.tasks {
			if t.Type == domain.TaskPrivate && t.Status == domain.TaskCompleted && t.AssignedToID != nil {
				out[*t.AssignedToID] += t.Priority.Weight()
			}
		}
	})
	return out, nil
}
