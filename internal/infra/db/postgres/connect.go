package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Schema creates the analyses table when it does not exist.
const Schema = `
CREATE TABLE IF NOT EXISTS analyses (
  id             TEXT        PRIMARY KEY,
  run_id         TEXT        NOT NULL,
  repository     TEXT        NOT NULL,
  success        BOOLEAN     NOT NULL,
  state          TEXT        NOT NULL,
  critical       INT         NOT NULL DEFAULT 0,
  high           INT         NOT NULL DEFAULT 0,
  medium         INT         NOT NULL DEFAULT 0,
  low            INT         NOT NULL DEFAULT 0,
  findings_total INT         NOT NULL DEFAULT 0,
  duration_ms    BIGINT      NOT NULL DEFAULT 0,
  archive_url    TEXT        NULL,
  stages_json    JSONB       NOT NULL,
  warnings_json  JSONB       NOT NULL,
  options_json   JSONB       NOT NULL,
  created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses (created_at DESC);`

// Migrate applies Schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}
