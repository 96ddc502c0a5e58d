package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/school-parliament/portal/internal/domain"
)

// snapshotVersion is bumped when the file layout changes.
const snapshotVersion = 1

// snapshot is the on-disk form of a Store. Slices keep insertion order.
type snapshot struct {
	Version      int                          `json:"version"`
	Users        []domain.UserProfile         `json:"users"`
	Tasks        []*domain.Task               `json:"tasks"`
	Instances    []*domain.PublicTaskInstance `json:"instances"`
	Entries      []domain.LedgerEntry         `json:"entries"`
	Achievements []domain.UnlockedAchievement `json:"achievements"`
	Activity     []domain.UserActivity        `json:"activity"`
	SavedAt      time.Time                    `json:"savedAt"`
}

// Load reads a store saved with SaveFile. A missing file yields an empty
// store so the first run of a file-backed memory driver needs no setup.
func Load(path string) (*Store, error) {
	s := NewStore()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	if snap.Version > snapshotVersion {
		return nil, fmt.Errorf("snapshot version %d is newer than supported %d", snap.Version, snapshotVersion)
	}

	d := s.d
	for _, u := range snap.Users {
		d.users[u.ID] = u
		d.userOrder = append(d.userOrder, u.ID)
	}
	for _, t := range snap.Tasks {
		d.tasks[t.ID] = t
		d.taskOrder = append(d.taskOrder, t.ID)
	}
	for _, inst := range snap.Instances {
		d.instances[inst.ID] = inst
		d.instanceOrder = append(d.instanceOrder, inst.ID)
		d.taken[[2]uuid.UUID{inst.TaskID, inst.UserID}] = inst.ID
	}
	d.entries = snap.Entries
	for _, u := range snap.Achievements {
		d.unlocks[unlockKey{u.UserID, u.AchievementID}] = u
	}
	for _, a := range snap.Activity {
		d.activity[a.UserID] = a
	}
	return s, nil
}

// SaveFile writes the store to path using a temp file and rename, so a crash
// mid-write leaves the previous snapshot intact.
func (s *Store) SaveFile(path string) error {
	s.tx.Lock()
	s.d.mu.RLock()
	snap := s.d.export()
	s.d.mu.RUnlock()
	s.tx.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".portal-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming snapshot: %w", err)
	}
	committed = true
	return nil
}

// export copies the dataset into its file form. Callers hold mu.
func (d *data) export() *snapshot {
	snap := &snapshot{
		Version: snapshotVersion,
		Entries: slices.Clone(d.entries),
		SavedAt: time.Now().UTC(),
	}
	for _, id := range d.userOrder {
		snap.Users = append(snap.Users, d.users[id])
	}
	for _, id := range d.taskOrder {
		snap.Tasks = append(snap.Tasks, d.tasks[id].Clone())
	}
	for _, id := range d.instanceOrder {
		snap.Instances = append(snap.Instances, d.instances[id].Clone())
	}
	for _, u := range d.unlocks {
		snap.Achievements = append(snap.Achievements, u)
	}
	slices.SortFunc(snap.Achievements, func(a, b domain.UnlockedAchievement) int {
		return a.UnlockedAt.Compare(b.UnlockedAt)
	})
	for _, a := range d.activity {
		snap.Activity = append(snap.Activity, a)
	}
	slices.SortFunc(snap.Activity, func(a, b domain.UserActivity) int {
		return strings.Compare(a.UserID.String(), b.UserID.String())
	})
	return snap
}
