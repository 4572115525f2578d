package postgres

import (
    "context"
    "database/sql"
    "fmt"

    "github.com/bryanwahyu/vulnrisk/internal/domain/history"
    "github.com/bryanwahyu/vulnrisk/internal/infra/db"
)

type AnalysisRepository struct{ db *sql.DB }

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository { return &AnalysisRepository{db: db} }

// Save insert/update analysis record
func (r *AnalysisRepository) Save(ctx context.Context, rec *history.Record) error {
    const q = `
INSERT INTO analyses
(` + db.Columns + `)
VALUES ($1,$2,$3,$4,$5,
        $6,$7,$8,$9,$10,
        $11,$12,$13,$14,$15,$16)
ON CONFLICT (id) DO UPDATE SET
 success = EXCLUDED.success,
 state = EXCLUDED.state,
 critical = EXCLUDED.critical,
 high = EXCLUDED.high,
 medium = EXCLUDED.medium,
 low = EXCLUDED.low,
 findings_total = EXCLUDED.findings_total,
 duration_ms = EXCLUDED.duration_ms,
 archive_url = EXCLUDED.archive_url,
 stages_json = EXCLUDED.stages_json,
 warnings_json = EXCLUDED.warnings_json;`

    args, err := db.RecordArgs(rec)
    if err != nil { return err }
    _, err = r.db.ExecContext(ctx, q, args...)
    return err
}

// Get by ID
func (r *AnalysisRepository) Get(ctx context.Context, id history.RecordID) (*history.Record, error) {
    const q = `SELECT ` + db.Columns + ` FROM analyses WHERE id=$1 LIMIT 1;`
    return db.ScanRecord(r.db.QueryRowContext(ctx, q, string(id)))
}

// Latest analyses, newest first
func (r *AnalysisRepository) Latest(ctx context.Context, limit int) ([]*history.Record, error) {
    if limit <= 0 { limit = 20 }
    const q = `SELECT ` + db.Columns + ` FROM analyses ORDER BY created_at DESC LIMIT $1;`
    rows, err := r.db.QueryContext(ctx, q, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []*history.Record{}
    for rows.Next() {
        rec, err := db.ScanRecord(rows)
        if err != nil { return nil, err }
        out = append(out, rec)
    }
    return out, rows.Err()
}

// Paginate with offset + limit (classic pagination)
func (r *AnalysisRepository) Paginate(ctx context.Context, page, pageSize int, repository string) (history.PaginatedResult, error) {
    if page <= 0 { page = 1 }
    if pageSize <= 0 { pageSize = 20 }
    offset := (page - 1) * pageSize

    where := ""
    args := []any{}
    next := 1
    if repository != "" {
        where = fmt.Sprintf(" WHERE repository LIKE $%d", next)
        args = append(args, "%"+db.EscapeLike(repository)+"%")
        next++
    }

    var total int64
    if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM analyses"+where, args...).Scan(&total); err != nil {
        return history.PaginatedResult{}, fmt.Errorf("counting analyses: %w", err)
    }

    query := "SELECT " + db.Columns + " FROM analyses" + where +
        fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", next, next+1)
    rows, err := r.db.QueryContext(ctx, query, append(args, pageSize, offset)...)
    if err != nil {
        return history.PaginatedResult{}, fmt.Errorf("querying analyses: %w", err)
    }
    defer rows.Close()

    data := []*history.Record{}
    for rows.Next() {
        rec, err := db.ScanRecord(rows)
        if err != nil { return history.PaginatedResult{}, fmt.Errorf("scanning row: %w", err) }
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
