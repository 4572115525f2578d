package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	appanalysis "github.com/bryanwahyu/vulnrisk/internal/application/analysis"
	"github.com/bryanwahyu/vulnrisk/internal/domain/analysis"
	"github.com/bryanwahyu/vulnrisk/internal/domain/history"
	"github.com/bryanwahyu/vulnrisk/internal/infra/logging"
	"github.com/bryanwahyu/vulnrisk/internal/middleware"
)

const maxBodyBytes = 10 << 20

// Analyzer is the application service behind the routes.
type Analyzer interface {
	Analyze(ctx context.Context, in appanalysis.Input) (*analysis.Report, error)
	Latest(ctx context.Context, limit int) ([]*history.Record, error)
	Get(ctx context.Context, id string) (*history.Record, error)
	List(ctx context.Context, page, pageSize int, repository string) (history.PaginatedResult, error)
}

// Options configures NewRouter. Zero values are usable.
type Options struct {
	Version    string
	CORSOrigin string
	Log        *zap.SugaredLogger
	Metrics    *middleware.Metrics
	Health     map[string]middleware.HealthChecker
}

type Router struct {
	svc     Analyzer
	version string
	log     *zap.SugaredLogger
}

var endpoints = map[string]string{
	"POST /analyze":        "Analyze a GitHub repository for vulnerabilities",
	"GET /analyses":        "List past analyses (page, pageSize, repository)",
	"GET /analyses/latest": "Most recent analyses (limit)",
	"GET /analyses/{id}":   "One past analysis",
	"GET /health":          "Health check endpoint",
	"GET /health/ready":    "Readiness probe",
	"GET /health/live":     "Liveness probe",
	"GET /metrics":         "Prometheus metrics",
	"GET /api-docs":        "API documentation",
}

var availableEndpoints = []string{"/analyze", "/analyses", "/health", "/api-docs"}

func NewRouter(svc Analyzer, opt Options) http.Handler {
	log := opt.Log
	if log == nil {
		log = logging.Nop()
	}
	version := opt.Version
	if version == "" {
		version = appanalysis.DefaultVersion
	}
	r := &Router{svc: svc, version: version, log: log}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.RealIP)
	mux.Use(r.recoverer)
	mux.Use(middleware.Logging(log))
	if opt.Metrics != nil {
		mux.Use(opt.Metrics.Middleware)
	}
	origin := opt.CORSOrigin
	if origin == "" {
		origin = "*"
	}
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{origin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	mux.Get("/health", middleware.HealthHandler(version, opt.Health))
	mux.Get("/health/ready", middleware.ReadinessHandler(opt.Health))
	mux.Get("/health/live", middleware.LivenessHandler)
	if opt.Metrics != nil {
		mux.Method(http.MethodGet, "/metrics", opt.Metrics.Handler())
	}
	mux.Get("/api-docs", r.wrap(r.handleDocs))

	mux.Post("/analyze", r.wrap(r.handleAnalyze))
	mux.Route("/analyses", func(rt chi.Router) {
		rt.Get("/", r.wrap(r.handleList))
		rt.Get("/latest", r.wrap(r.handleLatest))
		rt.Get("/{id}", r.wrap(r.handleGet))
	})

	mux.NotFound(r.handleNotFound)
	mux.MethodNotAllowed(r.handleNotFound)
	return mux
}

// apiError is an error with a response status and code.
type apiError struct {
	status int
	code   string
	msg    string
	extra  map[string]any
	cause  error
}

func (e *apiError) Error() string { return e.msg }
func (e *apiError) Unwrap() error { return e.cause }

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var ae *apiError
		if !errors.As(err, &ae) {
			r.log.Errorw("unhandled error",
				logging.FieldError, err,
				"url", req.URL.String(),
				"method", req.Method,
			)
			ae = &apiError{status: http.StatusInternalServerError, code: "INTERNAL_ERROR", msg: "Internal server error"}
		}
		body := map[string]any{
			"success":   false,
			"error":     ae.msg,
			"code":      ae.code,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}
		for k, v := range ae.extra {
			body[k] = v
		}
		writeJSON(w, ae.status, body)
	}
}

func (r *Router) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				r.wrap(func(http.ResponseWriter, *http.Request) error {
					return errors.Newf("panic: %v", rec)
				})(w, req)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

// POST /analyze
// Body: {"githubUrl": "https://github.com/owner/repo", "options": {}}
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	var body middleware.AnalyzeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		r.security("invalid_input", req, "reason", "malformed_body")
		return &apiError{status: http.StatusBadRequest, code: "INVALID_REQUEST", msg: "Request body must be a JSON object", cause: err}
	}
	body.Normalize()
	if err := middleware.ValidateStruct(body); err != nil {
		if middleware.MissingField(err, "githubUrl") {
			r.security("invalid_input", req, "reason", "missing_github_url")
			return &apiError{status: http.StatusBadRequest, code: "MISSING_URL", msg: "GitHub repository URL is required", cause: err}
		}
		r.security("invalid_input", req, "reason", "invalid_body")
		return invalidURL(err)
	}

	start := time.Now()
	report, err := r.svc.Analyze(req.Context(), appanalysis.Input{RepositoryURL: body.GithubURL, Options: body.Options})
	if err != nil {
		return r.analysisError(err, req, start)
	}
	writeJSON(w, http.StatusOK, report)
	return nil
}

func invalidURL(err error) *apiError {
	return &apiError{
		status: http.StatusBadRequest,
		code:   "INVALID_URL_FORMAT",
		msg:    "Invalid GitHub repository URL format",
		extra:  map[string]any{"expected": "https://github.com/owner/repository"},
		cause:  err,
	}
}

func (r *Router) analysisError(err error, req *http.Request, start time.Time) error {
	took := map[string]any{"analysisTime": elapsed(start)}
	switch {
	case errors.Is(err, analysis.ErrMissingReference):
		r.security("invalid_input", req, "reason", "missing_github_url")
		return &apiError{status: http.StatusBadRequest, code: "MISSING_URL", msg: "GitHub repository URL is required", cause: err}
	case errors.Is(err, analysis.ErrInvalidReference):
		r.security("invalid_input", req, "reason", "invalid_github_url")
		return invalidURL(err)
	case errors.Is(err, analysis.ErrFetchTimeout):
		return &apiError{status: http.StatusGatewayTimeout, code: "ANALYSIS_FAILED", msg: "Repository clone timed out", extra: took, cause: err}
	case errors.Is(err, analysis.ErrFetch):
		return &apiError{status: http.StatusBadGateway, code: "ANALYSIS_FAILED", msg: "Failed to clone repository", extra: took, cause: err}
	case errors.Is(err, analysis.ErrNotARecognizedProject):
		return &apiError{status: http.StatusUnprocessableEntity, code: "ANALYSIS_FAILED", msg: err.Error(), extra: took, cause: err}
	}
	return err
}

func elapsed(start time.Time) string {
	return strconv.FormatInt(time.Since(start).Milliseconds(), 10) + "ms"
}

// GET /analyses?page=&pageSize=&repository=
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("pageSize"))

	res, err := r.svc.List(req.Context(), page, size, middleware.SanitizeString(q.Get("repository")))
	if err != nil {
		return historyError(err)
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

// GET /analyses/latest?limit=20
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.svc.Latest(req.Context(), middleware.ValidateLimit(limit))
	if err != nil {
		return historyError(err)
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

// GET /analyses/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	rec, err := r.svc.Get(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		return historyError(err)
	}
	writeJSON(w, http.StatusOK, rec)
	return nil
}

func historyError(err error) error {
	switch {
	case errors.Is(err, history.ErrNotFound):
		return &apiError{status: http.StatusNotFound, code: "NOT_FOUND", msg: "Analysis not found", cause: err}
	case errors.Is(err, appanalysis.ErrHistoryDisabled):
		return &apiError{status: http.StatusServiceUnavailable, code: "HISTORY_DISABLED", msg: "Analysis history is not configured", cause: err}
	}
	return err
}

// GET /api-docs
func (r *Router) handleDocs(w http.ResponseWriter, _ *http.Request) error {
	writeJSON(w, http.StatusOK, map[string]any{
		"endpoints": endpoints,
		"version":   r.version,
	})
	return nil
}

func (r *Router) handleNotFound(w http.ResponseWriter, req *http.Request) {
	r.security("endpoint_not_found", req, "url", req.URL.String(), "method", req.Method)
	writeJSON(w, http.StatusNotFound, map[string]any{
		"success":            false,
		"error":              "Endpoint not found",
		"code":               "NOT_FOUND",
		"availableEndpoints": availableEndpoints,
	})
}

func (r *Router) security(event string, req *http.Request, kv ...any) {
	args := append([]any{logging.FieldEvent, event, "ip", req.RemoteAddr}, kv...)
	r.log.Warnw("security event", args...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
