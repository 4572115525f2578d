package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// HealthChecker defines interface for health checking
type HealthChecker interface {
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to HealthChecker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Check(ctx context.Context) error { return f(ctx) }

// DatabaseHealthChecker checks database health
type DatabaseHealthChecker struct {
	DB *sql.DB
}

func (d *DatabaseHealthChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.DB.PingContext(ctx)
}

// WritableDirChecker verifies the workspace root accepts new files.
type WritableDirChecker struct {
	Dir string
}

func (c WritableDirChecker) Check(context.Context) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return errors.Wrap(err, "create workspace root")
	}
	f, err := os.CreateTemp(c.Dir, ".health-*")
	if err != nil {
		return errors.Wrap(err, "workspace root not writable")
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(filepath.Clean(name))
}

// BinaryChecker verifies external tools are on PATH.
type BinaryChecker struct {
	Names []string
}

func (c BinaryChecker) Check(context.Context) error {
	var missing []string
	for _, n := range c.Names {
		if _, err := exec.LookPath(n); err != nil {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return errors.Newf("missing binaries: %v", missing)
	}
	return nil
}

// Optional wraps a checker whose failure degrades the service instead of
// taking it out of rotation. History and the report archive are best effort.
type Optional struct {
	HealthChecker
}

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks"`
}

// CheckStatus is the outcome of one named checker.
type CheckStatus struct {
	Status    string `json:"status"`
	Required  bool   `json:"required"`
	LatencyMS int64  `json:"latencyMs"`
	Message   string `json:"message,omitempty"`
}

// runChecks runs every checker concurrently and folds the results: a failed
// required check is unhealthy, a failed optional one only degraded.
func runChecks(ctx context.Context, checkers map[string]HealthChecker, requiredOnly bool) (string, map[string]CheckStatus) {
	var (
		mu      sync.Mutex
		results = make(map[string]CheckStatus, len(checkers))
		g       errgroup.Group
	)
	for name, checker := range checkers {
		name, checker := name, checker // per-iteration copies for the goroutine below (go < 1.22)
		_, optional := checker.(Optional)
		if requiredOnly && optional {
			continue
		}
		g.Go(func() error {
			start := time.Now()
			err := checker.Check(ctx)
			cs := CheckStatus{Status: statusHealthy, Required: !optional, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				cs.Status = statusUnhealthy
				cs.Message = err.Error()
			}
			mu.Lock()
			results[name] = cs
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	overall := statusHealthy
	for _, cs := range results {
		if cs.Status == statusHealthy {
			continue
		}
		if cs.Required {
			overall = statusUnhealthy
			break
		}
		overall = statusDegraded
	}
	return overall, results
}

// HealthHandler reports every check. Only required failures return 503.
func HealthHandler(version string, checkers map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status, checks := runChecks(ctx, checkers, false)
		code := http.StatusOK
		if status == statusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeHealth(w, code, HealthStatus{
			Status:    status,
			Version:   version,
			Timestamp: time.Now().UTC(),
			Checks:    checks,
		})
	}
}

// ReadinessHandler runs the required checks only: an instance without git,
// npm or a writable workspace root cannot analyze anything.
func ReadinessHandler(checkers map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status, checks := runChecks(ctx, checkers, true)
		body := map[string]any{"status": "ready", "timestamp": time.Now().UTC()}
		code := http.StatusOK
		if status != statusHealthy {
			code = http.StatusServiceUnavailable
			body["status"] = "not_ready"
			body["checks"] = checks
		}
		writeHealth(w, code, body)
	}
}

// LivenessHandler only proves the process serves HTTP.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeHealth(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
