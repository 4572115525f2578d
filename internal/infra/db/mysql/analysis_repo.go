package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bryanwahyu/vulnrisk/internal/domain/history"
	"github.com/bryanwahyu/vulnrisk/internal/infra/db"
)

type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Save insert/update analysis record
func (r *AnalysisRepository) Save(ctx context.Context, rec *history.Record) error {
	const q = `
INSERT INTO analyses
(` + db.Columns + `)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 success=VALUES(success), state=VALUES(state),
 critical=VALUES(critical), high=VALUES(high), medium=VALUES(medium), low=VALUES(low),
 findings_total=VALUES(findings_total), duration_ms=VALUES(duration_ms),
 archive_url=VALUES(archive_url), stages_json=VALUES(stages_json), warnings_json=VALUES(warnings_json);
`
	args, err := db.RecordArgs(rec)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	return err
}

// Get by ID
func (r *AnalysisRepository) Get(ctx context.Context, id history.RecordID) (*history.Record, error) {
	const q = `SELECT ` + db.Columns + ` FROM analyses WHERE id=? LIMIT 1;`
	return db.ScanRecord(r.db.QueryRowContext(ctx, q, string(id)))
}

// Latest analyses, newest first
func (r *AnalysisRepository) Latest(ctx context.Context, limit int) ([]*history.Record, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `SELECT ` + db.Columns + ` FROM analyses ORDER BY created_at DESC LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*history.Record{}
	for rows.Next() {
		rec, err := db.ScanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Paginate with offset + limit, optionally filtered by repository substring.
func (r *AnalysisRepository) Paginate(ctx context.Context, page, pageSize int, repository string) (history.PaginatedResult, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	where := ""
	var args []any
	if repository != "" {
		where = " WHERE repository LIKE ?"
		args = append(args, "%"+db.EscapeLike(repository)+"%")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM analyses"+where, args...).Scan(&total); err != nil {
		return history.PaginatedResult{}, fmt.Errorf("counting analyses: %w", err)
	}

	query := "SELECT " + db.Columns + " FROM analyses" + where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(args, pageSize, offset)...)
	if err != nil {
		return history.PaginatedResult{}, fmt.Errorf("querying analyses: %w", err)
	}
	defer rows.Close()

	data := []*history.Record{}
	for rows.Next() {
		rec, err := db.ScanRecord(rows)
		if err != nil {
			return history.PaginatedResult{}, fmt.Errorf("scanning row: %w", err)
		}
		data = append(data, rec)
	}
	if err := rows.Err(); err != nil {
		return history.PaginatedResult{}, fmt.Errorf("iterating rows: %w", err)
	}

	return history.PaginatedResult{
		Data:       data,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: db.TotalPages(total, pageSize),
	}, nil
}
