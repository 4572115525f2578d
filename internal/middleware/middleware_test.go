package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	domain "github.com/bryanwahyu/vulnrisk/internal/domain/analysis"
)

func TestLogging_RecordsStatusAndBytes(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := Logging(zap.New(core).Sugar())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/brew", nil))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "/brew", fields["path"])
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
	assert.EqualValues(t, 15, fields["bytes"])
}

func TestMetrics_MiddlewareUsesRoutePattern(t *testing.T) {
	m := NewMetrics()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/analyses/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) })

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/analyses/"+id, nil))
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("/analyses/{id}", "GET", "404")))
	assert.Zero(t, testutil.ToFloat64(m.requestsInProgress))
}

func TestMetrics_AnalysisAndStages(t *testing.T) {
	m := NewMetrics()

	m.AnalysisCompleted(domain.RunPartial, 3*time.Second, 2)
	m.AnalysisFailed("fetch_timeout", time.Second)
	m.ObserveStage(domain.StageResult{Stage: domain.StageAudit, Status: domain.StageTimedOut, DurationMS: 1500})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.analysesTotal.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.analysesTotal.WithLabelValues("rejected_fetch_timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageResults.WithLabelValues("audit", "timed_out")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "vulnrisk_stage_results_total")
}

func TestHealthHandler(t *testing.T) {
	ok := CheckerFunc(func(context.Context) error { return nil })
	bad := CheckerFunc(func(context.Context) error { return errors.New("db down") })

	rec := httptest.NewRecorder()
	HealthHandler("1.0.0", map[string]HealthChecker{"a": ok})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"1.0.0"`)

	rec = httptest.NewRecorder()
	HealthHandler("1.0.0", map[string]HealthChecker{"a": ok, "db": bad})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "db down")
}

func TestHealthHandler_OptionalFailureDegrades(t *testing.T) {
	ok := CheckerFunc(func(context.Context) error { return nil })
	bad := Optional{CheckerFunc(func(context.Context) error { return errors.New("minio unreachable") })}

	rec := httptest.NewRecorder()
	HealthHandler("1.0.0", map[string]HealthChecker{"workspace": ok, "archive": bad})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.True(t, body.Checks["workspace"].Required)
	assert.False(t, body.Checks["archive"].Required)
	assert.Equal(t, "unhealthy", body.Checks["archive"].Status)
	assert.Equal(t, "minio unreachable", body.Checks["archive"].Message)
	assert.GreaterOrEqual(t, body.Checks["workspace"].LatencyMS, int64(0))
}

func TestReadinessHandler_IgnoresOptionalChecks(t *testing.T) {
	calls := 0
	optional := Optional{CheckerFunc(func(context.Context) error { calls++; return errors.New("db down") })}
	ok := CheckerFunc(func(context.Context) error { return nil })
	bad := CheckerFunc(func(context.Context) error { return errors.New("missing binaries: [npm]") })

	rec := httptest.NewRecorder()
	ReadinessHandler(map[string]HealthChecker{"workspace": ok, "database": optional})(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ready"`)
	assert.Zero(t, calls)

	rec = httptest.NewRecorder()
	ReadinessHandler(map[string]HealthChecker{"binaries": bad})(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_ready")
	assert.Contains(t, rec.Body.String(), "missing binaries")
}

func TestWritableDirChecker(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ws")
	require.NoError(t, WritableDirChecker{Dir: dir}.Check(context.Background()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file removed")
}

func TestBinaryChecker(t *testing.T) {
	assert.NoError(t, BinaryChecker{Names: []string{"sh"}}.Check(context.Background()))
	err := BinaryChecker{Names: []string{"sh", "definitely-not-installed-xyz"}}.Check(context.Background())
	assert.ErrorContains(t, err, "definitely-not-installed-xyz")
}

func TestValidateAnalyzeRequest(t *testing.T) {
	err := ValidateStruct(AnalyzeRequest{})
	assert.True(t, MissingField(err, "githubUrl"))

	err = ValidateStruct(AnalyzeRequest{GithubURL: "https://github.com/a/" + strings.Repeat("b", 3000)})
	require.Error(t, err)
	assert.False(t, MissingField(err, "githubUrl"))

	assert.NoError(t, ValidateStruct(AnalyzeRequest{GithubURL: "https://github.com/a/b"}))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "https://github.com/a/b", SanitizeString("  https://github.com/a/b\x00\r "))
	assert.Equal(t, 20, ValidateLimit(0))
	assert.Equal(t, 100, ValidateLimit(1000))
}
