package database

import (
	"path/filepath"
	"testing"

	"github.com/xuecangming/drivefetch/internal/common/types"
)

func TestRebind(t *testing.T) {
	query := "UPDATE t SET a = ?, b = ? WHERE id = ?"

	if got := SQLite.Rebind(query); got != query {
		t.Errorf("SQLite.Rebind() = %q, want unchanged", got)
	}
	want := "UPDATE t SET a = $1, b = $2 WHERE id = $3"
	if got := Postgres.Rebind(query); got != want {
		t.Errorf("Postgres.Rebind() = %q, want %q", got, want)
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	if _, err := Open(types.StoreConfig{Driver: "mysql"}, types.DatabaseConfig{}); err == nil {
		t.Error("Open() error = nil, want error for unsupported driver")
	}
}

func TestRunMigrations_SQLite(t *testing.T) {
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "nested", "drivefetch.db"))
	if err != nil {
		t.Fatalf("NewSQLiteDB() error = %v", err)
	}
	defer db.Close()

	categories := []types.Category{types.CategoryList, types.CategoryDownload}
	if err := RunMigrations(db, categories); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	// idempotent
	if err := RunMigrations(db, categories); err != nil {
		t.Fatalf("second RunMigrations() error = %v", err)
	}

	for _, table := range []string{"list_jobs", "download_jobs", "items", "downloads"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}
