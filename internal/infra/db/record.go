// Package db holds the row mapping shared by the SQL history repositories.
package db

import (
	"database/sql"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/bryanwahyu/vulnrisk/internal/domain/analysis"
	"github.com/bryanwahyu/vulnrisk/internal/domain/history"
)

// Columns of the analyses table, in the order ScanRecord and RecordArgs use.
const Columns = `id, run_id, repository, success, state,
       critical, high, medium, low, findings_total,
       duration_ms, archive_url, stages_json, warnings_json, options_json, created_at`

// RowScanner is satisfied by *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}

// RecordArgs returns the insert arguments for r, matching Columns.
func RecordArgs(r *history.Record) ([]any, error) {
	stages, err := encode(r.Stages, "[]")
	if err != nil {
		return nil, errors.Wrap(err, "encode stages")
	}
	warnings, err := encode(r.Warnings, "[]")
	if err != nil {
		return nil, errors.Wrap(err, "encode warnings")
	}
	options, err := encode(r.Options, "{}")
	if err != nil {
		return nil, errors.Wrap(err, "encode options")
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return []any{
		string(r.ID), StringOrDash(r.RunID), r.Repository, r.Success, StringOrDash(string(r.State)),
		r.Counts.Critical, r.Counts.High, r.Counts.Medium, r.Counts.Low, r.Counts.Total,
		r.DurationMS, r.ArchiveURL, stages, warnings, options, created,
	}, nil
}

// ScanRecord reads one row selected with Columns.
func ScanRecord(s RowScanner) (*history.Record, error) {
	var (
		r                         history.Record
		id, state                 string
		archive                   sql.NullString
		stages, warnings, options []byte
		crit, high, med, low, tot int
	)
	if err := s.Scan(
		&id, &r.RunID, &r.Repository, &r.Success, &state,
		&crit, &high, &med, &low, &tot,
		&r.DurationMS, &archive, &stages, &warnings, &options, &r.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Mark(err, history.ErrNotFound)
		}
		return nil, err
	}
	r.ID = history.RecordID(id)
	r.State = analysis.RunState(state)
	r.ArchiveURL = archive.String
	r.Counts = analysis.SeverityCounts{Critical: crit, High: high, Medium: med, Low: low, Total: tot}
	if err := decode(stages, &r.Stages); err != nil {
		return nil, errors.Wrap(err, "decode stages")
	}
	if err := decode(warnings, &r.Warnings); err != nil {
		return nil, errors.Wrap(err, "decode warnings")
	}
	if err := decode(options, &r.Options); err != nil {
		return nil, errors.Wrap(err, "decode options")
	}
	return &r, nil
}

// StringOrDash returns "-" when the input is empty/whitespace
func StringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// EscapeLike escapes LIKE wildcards so user input matches literally.
func EscapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}

// TotalPages for total rows split in pages of pageSize.
func TotalPages(total int64, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return int(math.Ceil(float64(total) / float64(pageSize)))
}

func encode(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

func decode(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}
