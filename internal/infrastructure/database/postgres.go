package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/xuecangming/drivefetch/internal/common/types"
)

// NewPostgresDB creates a new PostgreSQL database connection. A non-empty dsn
// takes precedence over the individual connection fields.
func NewPostgresDB(config types.DatabaseConfig, dsn string) (*DB, error) {
	connStr := dsn
	if connStr == "" {
		connStr = fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			config.Host,
			config.Port,
			config.User,
			config.Password,
			config.Name,
		)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	if config.MaxConnections > 0 {
		db.SetMaxOpenConns(config.MaxConnections)
		db.SetMaxIdleConns(config.MaxConnections / 2)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, Dialect: Postgres}, nil
}
