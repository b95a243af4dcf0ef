package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/noah-isme/timetable-api/pkg/config"
)

// Schema creates the catalog, timetable and ledger tables used by the engine.
const Schema = `
CREATE TABLE IF NOT EXISTS subject_offerings (
    id             TEXT PRIMARY KEY,
    subject        TEXT NOT NULL,
    session_type   TEXT NOT NULL CHECK (session_type IN ('Theory', 'Lab', 'Tutorial')),
    instructor     TEXT NOT NULL,
    year           INTEGER NOT NULL,
    semester       INTEGER NOT NULL,
    specialization TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS rooms (
    room_no  TEXT PRIMARY KEY,
    capacity INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS labs (
    lab_no   TEXT PRIMARY KEY,
    capacity INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS batch_strengths (
    year           INTEGER NOT NULL,
    specialization TEXT NOT NULL DEFAULT '',
    sections       INTEGER NOT NULL,
    total_students INTEGER NOT NULL,
    PRIMARY KEY (year, specialization)
);

CREATE TABLE IF NOT EXISTS timetables (
    id             TEXT PRIMARY KEY,
    year           INTEGER NOT NULL,
    semester       INTEGER NOT NULL,
    batch          INTEGER NOT NULL,
    specialization TEXT NOT NULL DEFAULT '',
    total_students INTEGER NOT NULL,
    batch_strength INTEGER NOT NULL,
    grid           JSONB NOT NULL,
    generated_at   TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL,
    UNIQUE (year, semester, batch, specialization)
);

CREATE TABLE IF NOT EXISTS occupancy_ledgers (
    name       TEXT PRIMARY KEY,
    version    BIGINT NOT NULL,
    payload    JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgres returns a configured PostgreSQL client.
func NewPostgres(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate applies Schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
