package sqldb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/school-parliament/portal/internal/domain"
	"github.com/school-parliament/portal/internal/storage"
)

// Store implements storage.Store on a *gorm.DB.
type Store struct {
	db   *gorm.DB
	inTx bool
}

var _ storage.Store = (*Store)(nil)

// NewStore wraps db. Call Migrate first.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for tooling.
func (s *Store) DB() *gorm.DB { return s.db }

// InTx runs fn in a database transaction. Nested calls join the outer one.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, inTx: true})
	})
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// locking adds FOR UPDATE where the dialect has row locks. SQLite runs
// on a single connection so every transaction is already exclusive.
func (s *Store) locking(ctx context.Context) *gorm.DB {
	db := s.conn(ctx)
	if db.Dialector.Name() == DriverPostgres {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

func notFound(err error, what string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %v: %w", what, id, domain.ErrNotFound)
	}
	return err
}

// ─── Ledger ─────────────────────────────────────────────────────────────────

func (s *Store) AppendEntries(ctx context.Context, entries ...*domain.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]ledgerEntryRow, 0, len(entries))
	for _, e := range entries {
		if e.Amount < 0 {
			return fmt.Errorf("%w: %d", domain.ErrInvalidAmount, e.Amount)
		}
		rows = append(rows, ledgerEntryRow{
			ID:        e.ID,
			UserID:    e.UserID,
			Currency:  string(e.Currency),
			Amount:    e.Amount,
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt.UTC(),
		})
	}
	return s.conn(ctx).Create(&rows).Error
}

func (s *Store) SumFor(ctx context.Context, userID uuid.UUID, c domain.Currency) (int64, error) {
	var total int64
	err := s.conn(ctx).Model(&ledgerEntryRow{}).
		Where("user_id = ? AND currency = ?", userID, string(c)).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

func (s *Store) EntriesFor(ctx context.Context, userID uuid.UUID, c domain.Currency) ([]domain.LedgerEntry, error) {
	var rows []ledgerEntryRow
	if err := s.conn(ctx).
		Where("user_id = ? AND currency = ?", userID, string(c)).
		Order("seq ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.LedgerEntry, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// Totals folds the entries in append order. Aggregating in SQL would lose
// the column type of created_at on SQLite.
func (s *Store) Totals(ctx context.Context, c domain.Currency) ([]domain.UserTotal, error) {
	var rows []ledgerEntryRow
	if err := s.conn(ctx).
		Select("user_id", "amount", "created_at").
		Where("currency = ?", string(c)).
		Order("seq ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	var out []domain.UserTotal
	idx := make(map[uuid.UUID]int)
	for _, r := range rows {
		i, ok := idx[r.UserID]
		if !ok {
			i = len(out)
			idx[r.UserID] = i
			out = append(out, domain.UserTotal{UserID: r.UserID, ReachedAt: r.CreatedAt.UTC()})
		}
		out[i].Total += r.Amount
		if r.Amount > 0 {
			out[i].ReachedAt = r.CreatedAt.UTC()
		}
	}
	return out, nil
}

// ─── Tasks ──────────────────────────────────────────────────────────────────

func (s *Store) CreateTask(ctx context.Context, t *domain.Task) error {
	if err := s.conn(ctx).Create(fromTask(t)).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: task %s exists", domain.ErrConflict, t.ID)
		}
		return err
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	var row taskRow
	if err := s.conn(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err, "task", id)
	}
	return row.toDomain(), nil
}

func (s *Store) LockTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	var row taskRow
	if err := s.locking(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err, "task", id)
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateTask(ctx context.Context, t *domain.Task, expected domain.TaskStatus) error {
	res := s.conn(ctx).Model(&taskRow{}).
		Where("id = ? AND status = ?", t.ID, string(expected)).
		Select("*").Omit("id", "created_at").
		Updates(fromTask(t))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.missOrConflict(ctx, &taskRow{}, "task", t.ID)
	}
	return nil
}

func (s *Store) missOrConflict(ctx context.Context, model any, what string, id uuid.UUID) error {
	var n int64
	if err := s.conn(ctx).Model(model).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
	}
	return fmt.Errorf("%w: %s %s changed status", domain.ErrConflict, what, id)
}

func (s *Store) ListTasks(ctx context.Context, f storage.TaskFilter) ([]*domain.Task, error) {
	q := s.conn(ctx).Model(&taskRow{})
	if f.Type != "" {
		q = q.Where("type = ?", string(f.Type))
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.Ministry != "" {
		q = q.Where("ministry = ?", f.Ministry)
	}
	if f.AssignedTo != nil {
		q = q.Where("assigned_to_id = ?", *f.AssignedTo)
	}
	var rows []taskRow
	if err := q.Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Task, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (s *Store) DueRankedTasks(ctx context.Context, now time.Time) ([]*domain.Task, error) {
	var rows []taskRow
	if err := s.conn(ctx).
		Where("type = ? AND top_awarded = ? AND top_ranking > 0", string(domain.TaskPublic), false).
		Where("deadline IS NOT NULL AND deadline <= ?", now.UTC()).
		Order("deadline ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	var out []*domain.Task
	for i := range rows {
		if len(rows[i].SelectedTopInstances) > 0 {
			out = append(out, rows[i].toDomain())
		}
	}
	return out, nil
}

func (s *Store) CreateInstance(ctx context.Context, inst *domain.PublicTaskInstance) error {
	if err := s.conn(ctx).Create(fromInstance(inst)).Error; err != nil {
		if isDuplicateKey(err) {
			return domain.ErrAlreadyTaken
		}
		return err
	}
	return nil
}

func (s *Store) GetInstance(ctx context.Context, id uuid.UUID) (*domain.PublicTaskInstance, error) {
	var row instanceRow
	if err := s.conn(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err, "instance", id)
	}
	return row.toDomain(), nil
}

func (s *Store) LockInstance(ctx context.Context, id uuid.UUID) (*domain.PublicTaskInstance, error) {
	var row instanceRow
	if err := s.locking(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err, "instance", id)
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateInstance(ctx context.Context, inst *domain.PublicTaskInstance, expected domain.InstanceStatus) error {
	res := s.conn(ctx).Model(&instanceRow{}).
		Where("id = ? AND status = ?", inst.ID, string(expected)).
		Select("*").Omit("id", "task_id", "user_id", "created_at").
		Updates(fromInstance(inst))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.missOrConflict(ctx, &instanceRow{}, "instance", inst.ID)
	}
	return nil
}

func (s *Store) ListInstances(ctx context.Context, taskID uuid.UUID) ([]*domain.PublicTaskInstance, error) {
	var rows []instanceRow
	if err := s.conn(ctx).
		Where("task_id = ?", taskID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.PublicTaskInstance, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// CountEvidenceLink matches in Go: JSON containment differs between
// PostgreSQL and SQLite.
func (s *Store) CountEvidenceLink(ctx context.Context, link string, exclude uuid.UUID) (int, error) {
	var tasks []taskRow
	if err := s.conn(ctx).Select("id", "evidence_links").
		Where("id <> ? AND evidence_links IS NOT NULL", exclude).
		Find(&tasks).Error; err != nil {
		return 0, err
	}
	var insts []instanceRow
	if err := s.conn(ctx).Select("id", "evidence_links").
		Where("id <> ? AND evidence_links IS NOT NULL", exclude).
		Find(&insts).Error; err != nil {
		return 0, err
	}
	n := 0
	for _, t := range tasks {
		if slices.Contains(t.EvidenceLinks, link) {
			n++
		}
	}
	for _, i := range insts {
		if slices.Contains(i.EvidenceLinks, link) {
			n++
		}
	}
	return n, nil
}

// ─── Achievements ───────────────────────────────────────────────────────────

func (s *Store) UnlockedFor(ctx context.Context, userID uuid.UUID) ([]domain.UnlockedAchievement, error) {
	var rows []unlockRow
	if err := s.conn(ctx).
		Where("user_id = ?", userID).
		Order("unlocked_at ASC, achievement_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.UnlockedAchievement, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.UnlockedAchievement{
			UserID:        r.UserID,
			AchievementID: r.AchievementID,
			Title:         r.Title,
			UnlockedAt:    r.UnlockedAt.UTC(),
		})
	}
	return out, nil
}

func (s *Store) InsertUnlock(ctx context.Context, u *domain.UnlockedAchievement) error {
	row := unlockRow{
		UserID:        u.UserID,
		AchievementID: u.AchievementID,
		Title:         u.Title,
		UnlockedAt:    u.UnlockedAt.UTC(),
	}
	if err := s.conn(ctx).Create(&row).Error; err != nil {
		if isDuplicateKey(err) {
			return domain.ErrAlreadyUnlocked
		}
		return err
	}
	return nil
}

func (s *Store) CompletionStats(ctx context.Context, userID uuid.UUID) (storage.CompletionStats, error) {
	var st storage.CompletionStats
	db := s.conn(ctx)

	var private []taskRow
	if err := db.Select("id", "completed_at").
		Where("type = ? AND status = ? AND assigned_to_id = ?",
			string(domain.TaskPrivate), string(domain.TaskCompleted), userID).
		Find(&private).Error; err != nil {
		return st, err
	}
	var public []instanceRow
	if err := db.Select("id", "top_position", "updated_at").
		Where("user_id = ? AND status = ?", userID, string(domain.InstanceCompleted)).
		Find(&public).Error; err != nil {
		return st, err
	}

	latest := func(at time.Time) {
		if st.LastApprovalAt == nil || at.After(*st.LastApprovalAt) {
			t := at.UTC()
			st.LastApprovalAt = &t
		}
	}
	st.PrivateCompleted = len(private)
	for _, r := range private {
		if r.CompletedAt != nil {
			latest(*r.CompletedAt)
		}
	}
	st.PublicCompleted = len(public)
	for _, r := range public {
		if r.TopPosition != nil {
			st.TopPlacements++
		}
		latest(r.UpdatedAt)
	}
	return st, nil
}

// ─── Activity ───────────────────────────────────────────────────────────────

func (s *Store) getActivity(db *gorm.DB, userID uuid.UUID) (*domain.UserActivity, error) {
	var row activityRow
	err := db.Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.UserActivity{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.UserActivity{
		UserID:        row.UserID,
		CurrentStreak: row.CurrentStreak,
		LongestStreak: row.LongestStreak,
		LastLoginDay:  row.LastLoginDay.UTC(),
		EventsCreated: row.EventsCreated,
		Mentees:       row.Mentees,
	}, nil
}

func (s *Store) GetActivity(ctx context.Context, userID uuid.UUID) (*domain.UserActivity, error) {
	return s.getActivity(s.conn(ctx), userID)
}

func (s *Store) LockActivity(ctx context.Context, userID uuid.UUID) (*domain.UserActivity, error) {
	return s.getActivity(s.locking(ctx), userID)
}

func (s *Store) SaveActivity(ctx context.Context, a *domain.UserActivity) error {
	row := activityRow{
		UserID:        a.UserID,
		CurrentStreak: a.CurrentStreak,
		LongestStreak: a.LongestStreak,
		LastLoginDay:  a.LastLoginDay.UTC(),
		EventsCreated: a.EventsCreated,
		Mentees:       a.Mentees,
	}
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"current_streak", "longest_streak", "last_login_day", "events_created", "mentees"}),
	}).Create(&row).Error
}

// ─── Users ──────────────────────────────────────────────────────────────────

func (s *Store) UpsertUser(ctx context.Context, u *domain.UserProfile) error {
	row := userRow{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Role:        string(u.Role),
		Ministry:    u.Ministry,
		CreatedAt:   time.Now().UTC(),
	}
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "role", "ministry"}),
	}).Create(&row).Error
}

func toProfile(r userRow) domain.UserProfile {
	return domain.UserProfile{
		ID:          r.ID,
		DisplayName: r.DisplayName,
		Role:        domain.Role(r.Role),
		Ministry:    r.Ministry,
	}
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*domain.UserProfile, error) {
	var row userRow
	if err := s.conn(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err, "user", id)
	}
	p := toProfile(row)
	return &p, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserProfile, error) {
	var rows []userRow
	if err := s.conn(ctx).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.UserProfile, 0, len(rows))
	for _, r := range rows {
		out = append(out, toProfile(r))
	}
	return out, nil
}

func (s *Store) ActivityScores(ctx context.Context) (map[uuid.UUID]int, error) {
	var rows []struct {
		AssignedToID uuid.UUID
		Priority     string
		N            int
	}
	if err := s.conn(ctx).Model(&taskRow{}).
		Select("assigned_to_id, priority, COUNT(*) AS n").
		Where("type = ? AND status = ? AND assigned_to_id IS NOT NULL",
			string(domain.TaskPrivate), string(domain.TaskCompleted)).
		Group("assigned_to_id, priority").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]int)
	for _, r := range rows {
		out[r.AssignedToID] += r.N * domain.Priority(r.Priority).Weight()
	}
	return out, nil
}
