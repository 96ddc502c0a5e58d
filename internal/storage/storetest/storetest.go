// Package storetest opens every storage backend for tests that must hold
// on each of them.
package storetest

import (
	"path/filepath"
	"testing"

	"github.com/school-parliament/portal/internal/storage"
	"github.com/school-parliament/portal/internal/storage/memory"
	"github.com/school-parliament/portal/internal/storage/sqldb"
)

// Driver names a backend and opens a fresh, empty store on it.
type Driver struct {
	Name string
	Open func(t *testing.T) storage.Store
}

// Drivers lists the backends: the in-memory store and SQLite on a file in
// the test's temp dir.
var Drivers = []Driver{
	{Name: "memory", Open: func(*testing.T) storage.Store { return memory.NewStore() }},
	{Name: "sqlite", Open: OpenSQLite},
}

// OpenSQLite migrates a new SQLite database and closes it when t ends.
func OpenSQLite(t *testing.T) storage.Store {
	t.Helper()
	db, err := sqldb.Open(sqldb.DriverSQLite, filepath.Join(t.TempDir(), "portal.db"), 0, nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := sqldb.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return sqldb.NewStore(db)
}

// Each runs fn once per driver as a subtest with a fresh store.
func Each(t *testing.T, fn func(t *testing.T, store storage.Store)) {
	t.Helper()
	for _, d := range Drivers {
		d := d
		t.Run(d.Name, func(t *testing.T) {
			fn(t, d.Open(t))
		})
	}
}
