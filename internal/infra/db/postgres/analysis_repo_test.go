package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/vulnrisk/internal/domain/analysis"
	"github.com/bryanwahyu/vulnrisk/internal/domain/history"
)

var columns = []string{
	"id", "run_id", "repository", "success", "state",
	"critical", "high", "medium", "low", "findings_total",
	"duration_ms", "archive_url", "stages_json", "warnings_json", "options_json", "created_at",
}

func TestSave_UsesNumberedPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE")).
		WithArgs("a-1", "-", "https://github.com/a/b", true, "success",
			0, 0, 0, 0, 0, int64(0), "s3://x", `[{"stage":"audit","status":"succeeded","durationMs":5}]`, "[]", `{"depth":1}`, created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewAnalysisRepository(db).Save(context.Background(), &history.Record{
		ID:         "a-1",
		Repository: "https://github.com/a/b",
		Success:    true,
		State:      analysis.RunSucceeded,
		ArchiveURL: "s3://x",
		Stages:     []analysis.StageResult{{Stage: analysis.StageAudit, Status: analysis.StageSucceeded, DurationMS: 5}},
		Options:    map[string]any{"depth": 1},
		CreatedAt:  created,
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaginate_NoFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM analyses")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC LIMIT $1 OFFSET $2")).
		WithArgs(20, 0).
		WillReturnRows(sqlmock.NewRows(columns))

	res, err := NewAnalysisRepository(db).Paginate(context.Background(), 0, 0, "")

	require.NoError(t, err)
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, 20, res.PageSize)
	assert.NotNil(t, res.Data)
	assert.Empty(t, res.Data)
	assert.Zero(t, res.TotalPages)
	assert.NoError(t, mock.ExpectationsWereMet())
}
