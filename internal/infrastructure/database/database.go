// Package database opens the relational stores backing jobs and results.
package database

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuecangming/drivefetch/internal/common/types"
)

// Dialect captures the SQL differences between supported drivers
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// Rebind rewrites ? placeholders into the dialect's form
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DB is a database handle together with its dialect
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open connects to the store selected by config. The postgres driver uses
// config.DSN when set and the database section otherwise.
func Open(config types.StoreConfig, pg types.DatabaseConfig) (*DB, error) {
	switch config.Driver {
	case "sqlite":
		return NewSQLiteDB(config.DSN)
	case "postgres":
		return NewPostgresDB(pg, config.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", config.Driver)
	}
}

// JobTable returns the table holding jobs of a category
func JobTable(category types.Category) string {
	return string(category) + "_jobs"
}

// RunMigrations creates the job tables for the given categories and the result tables
func RunMigrations(db *DB, categories []types.Category) error {
	migrations := make([]string, 0, len(categories)*2+3)
	for _, c := range categories {
		table := JobTable(c)
		migrations = append(migrations,
			fmt.Sprintf(createJobsTable, table),
			fmt.Sprintf(createJobsIndex, table, table),
		)
	}
	migrations = append(migrations, createItemsTable, createDownloadsTable, createDownloadsIndex)

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

const createJobsTable = `
CREATE TABLE IF NOT EXISTS %s (
    id          VARCHAR(255) PRIMARY KEY,
    func        VARCHAR(255) NOT NULL,
    args        TEXT NOT NULL DEFAULT '',
    status      VARCHAR(20) NOT NULL,
    retries     INTEGER NOT NULL DEFAULT 0,
    next_run_at BIGINT NOT NULL,
    created_at  BIGINT NOT NULL,
    updated_at  BIGINT NOT NULL
)`

const createJobsIndex = `CREATE INDEX IF NOT EXISTS idx_%s_due ON %s (status, next_run_at)`

const createItemsTable = `
CREATE TABLE IF NOT EXISTS items (
    id          VARCHAR(255) PRIMARY KEY,
    parent_id   VARCHAR(255) NOT NULL DEFAULT '',
    name        TEXT NOT NULL,
    path        TEXT NOT NULL,
    path_name   TEXT NOT NULL,
    level       INTEGER NOT NULL DEFAULT 0,
    version     BIGINT NOT NULL DEFAULT 0,
    is_folder   INTEGER NOT NULL DEFAULT 0,
    is_root     INTEGER NOT NULL DEFAULT 0,
    size        BIGINT NOT NULL DEFAULT 0,
    extension   VARCHAR(255) NOT NULL DEFAULT '',
    mime        VARCHAR(255) NOT NULL DEFAULT '',
    nonce       TEXT NOT NULL DEFAULT '',
    blid        TEXT NOT NULL DEFAULT '',
    digest      TEXT NOT NULL DEFAULT '',
    payload     TEXT NOT NULL DEFAULT '',
    created     BIGINT NOT NULL DEFAULT 0,
    modified    BIGINT NOT NULL DEFAULT 0
)`

const createDownloadsTable = `
CREATE TABLE IF NOT EXISTS downloads (
    id              VARCHAR(255) PRIMARY KEY,
    name            TEXT NOT NULL,
    size            BIGINT NOT NULL DEFAULT 0,
    size_downloaded BIGINT NOT NULL DEFAULT 0,
    destination     TEXT NOT NULL DEFAULT '',
    attempts        INTEGER NOT NULL DEFAULT 0,
    error           TEXT NOT NULL DEFAULT '',
    success         INTEGER NOT NULL DEFAULT 0,
    updated_at      BIGINT NOT NULL DEFAULT 0
)`

const createDownloadsIndex = `CREATE INDEX IF NOT EXISTS idx_downloads_success ON downloads (success)`
