package mysql

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	// test ping
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
  id             VARCHAR(36)  NOT NULL PRIMARY KEY,
  run_id         VARCHAR(128) NOT NULL,
  repository     VARCHAR(512) NOT NULL,
  success        BOOLEAN      NOT NULL,
  state          VARCHAR(16)  NOT NULL,
  critical       INT          NOT NULL DEFAULT 0,
  high           INT          NOT NULL DEFAULT 0,
  medium         INT          NOT NULL DEFAULT 0,
  low            INT          NOT NULL DEFAULT 0,
  findings_total INT          NOT NULL DEFAULT 0,
  duration_ms    BIGINT       NOT NULL DEFAULT 0,
  archive_url    VARCHAR(1024) NULL,
  stages_json    JSON         NOT NULL,
  warnings_json  JSON         NOT NULL,
  options_json   JSON         NOT NULL,
  created_at     DATETIME(3)  NOT NULL,
  KEY idx_analyses_created (created_at),
  KEY idx_analyses_repository (repository(191))
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`

// Migrate applies Schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}
