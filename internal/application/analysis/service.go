// Package analysis is the request-level use case: provision a workspace, run
// the pipeline, aggregate, archive, record and tear down.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryanwahyu/vulnrisk/internal/application"
	"github.com/bryanwahyu/vulnrisk/internal/application/aggregate"
	"github.com/bryanwahyu/vulnrisk/internal/application/pipeline"
	domain "github.com/bryanwahyu/vulnrisk/internal/domain/analysis"
	"github.com/bryanwahyu/vulnrisk/internal/domain/history"
	"github.com/bryanwahyu/vulnrisk/internal/infra/logging"
)

const (
	DefaultFetchTimeout    = 60 * time.Second
	DefaultAnalysisTimeout = 5 * time.Minute
	DefaultVersion         = "1.0.0"

	// bookkeeping after the run gets its own budget so a client disconnect
	// does not lose the history row
	persistTimeout = 10 * time.Second
)

// Workspaces is the workspace manager as the service sees it.
type Workspaces interface {
	Provision(ctx context.Context, raw string, fetchTimeout time.Duration) (*domain.Workspace, error)
	Teardown(ws *domain.Workspace)
}

// Pipeline runs the stages of one workspace.
type Pipeline interface {
	Run(ctx context.Context, ws *domain.Workspace, store domain.ArtifactStore, total time.Duration) pipeline.Outcome
}

// Recorder receives run-level metrics. Optional.
type Recorder interface {
	AnalysisCompleted(state domain.RunState, d time.Duration, vulnerabilities int)
	AnalysisFailed(reason string, d time.Duration)
}

// Service orchestrates one analysis per call. All fields except History,
// Archive and Metrics are required.
type Service struct {
	Workspaces Workspaces
	Stores     domain.ArtifactStoreFactory
	Pipeline   Pipeline
	Aggregator *aggregate.Aggregator
	Stages     domain.Stages
	History    history.Repository
	Archive    history.Archive
	Metrics    Recorder
	Clock      application.Clock
	Log        *zap.SugaredLogger

	FetchTimeout    time.Duration
	AnalysisTimeout time.Duration
	Version         string
	NewID           func() string
}

// Input is an unvalidated analysis request.
type Input struct {
	RepositoryURL string         `json:"githubUrl"`
	Options       map[string]any `json:"options,omitempty"`
}

// Analyze runs a full analysis. An error is returned only for pre-stage
// failures (validation, fetch, unrecognized project, workspace I/O); once the
// pipeline starts, every degradation is reported inside the Report. The
// workspace is torn down exactly once before Analyze returns.
func (s *Service) Analyze(ctx context.Context, in Input) (*domain.Report, error) {
	start := s.Clock.Now()
	log := s.log().With(logging.FieldRepository, in.RepositoryURL)
	log.Infow("analysis started", logging.FieldEvent, "analysis_started", "options", in.Options)

	ws, err := s.Workspaces.Provision(ctx, in.RepositoryURL, s.fetchTimeout())
	if err != nil {
		s.failed(log, err, start)
		return nil, err
	}
	defer s.Workspaces.Teardown(ws)
	log = log.With(logging.FieldRunID, ws.RunID)

	store, err := s.Stores.Open(ws)
	if err != nil {
		err = errors.Wrap(err, "open artifact store")
		s.failed(log, err, start)
		return nil, err
	}

	outcome := s.Pipeline.Run(ctx, ws, store, s.analysisTimeout())
	summary := s.Aggregator.Aggregate(context.WithoutCancel(ctx), store, outcome.Results)

	elapsed := application.Since(s.Clock, start)
	report := &domain.Report{
		Success:            true,
		AnalysisID:         s.newID(),
		RunID:              ws.RunID,
		Repository:         ws.Ref.URL,
		State:              outcome.State,
		AnalysisTime:       application.FormatMillis(elapsed),
		DurationMS:         elapsed.Milliseconds(),
		Timestamp:          s.Clock.Now().UTC(),
		Vulnerabilities:    summary.Vulnerabilities,
		VulnerabilityCount: len(summary.Vulnerabilities),
		SeverityCounts:     summary.Counts,
		ThreatModel:        summary.ThreatModel,
		Stages:             outcome.Results,
		Warnings:           summary.Warnings,
		DeadlineExceeded:   outcome.DeadlineExceeded,
		Metadata: domain.Metadata{
			AnalysisVersion: s.version(),
			ToolsUsed:       s.toolsUsed(outcome.Results),
		},
	}
	if outcome.DeadlineExceeded {
		report.Warnings = append(report.Warnings, domain.Warning{
			Source:  "pipeline",
			Message: fmt.Sprintf("analysis deadline of %s exceeded, results are partial", s.analysisTimeout()),
		})
	}

	s.persist(ctx, log, report, in.Options)

	log.Infow("analysis completed",
		logging.FieldEvent, "analysis_completed",
		logging.FieldAnalysisID, report.AnalysisID,
		logging.FieldStatus, report.State,
		"analysisTime", report.AnalysisTime,
		"vulnerabilityCount", report.VulnerabilityCount,
	)
	if s.Metrics != nil {
		s.Metrics.AnalysisCompleted(report.State, elapsed, report.VulnerabilityCount)
	}
	return report, nil
}

// persist archives the report and saves its history row. Both are best
// effort: failures become warnings, never errors.
func (s *Service) persist(ctx context.Context, log *zap.SugaredLogger, report *domain.Report, options map[string]any) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if s.Archive != nil {
		body, err := json.Marshal(report)
		if err == nil {
			key := fmt.Sprintf("analyses/%s/%s.json", report.Timestamp.Format("2006/01/02"), report.AnalysisID)
			report.ArchiveURL, err = s.Archive.Put(pctx, key, body)
		}
		if err != nil {
			log.Warnw("report archive failed", logging.FieldError, err)
			report.Warnings = append(report.Warnings, domain.Warning{Source: "archive", Message: "report archive failed"})
		}
	}

	if s.History != nil {
		if err := s.History.Save(pctx, history.FromReport(report, options)); err != nil {
			log.Warnw("history save failed", logging.FieldError, err)
			report.Warnings = append(report.Warnings, domain.Warning{Source: "history", Message: "analysis record not saved"})
		}
	}
}

func (s *Service) failed(log *zap.SugaredLogger, err error, start time.Time) {
	elapsed := application.Since(s.Clock, start)
	log.Errorw("analysis failed",
		logging.FieldEvent, "analysis_failed",
		logging.FieldError, err,
		"analysisTime", application.FormatMillis(elapsed),
	)
	if s.Metrics != nil {
		s.Metrics.AnalysisFailed(FailureReason(err), elapsed)
	}
}

// FailureReason is a low-cardinality label for a pre-stage error.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrMissingReference):
		return "missing_reference"
	case errors.Is(err, domain.ErrInvalidReference):
		return "invalid_reference"
	case errors.Is(err, domain.ErrFetchTimeout):
		return "fetch_timeout"
	case errors.Is(err, domain.ErrFetch):
		return "fetch"
	case errors.Is(err, domain.ErrNotARecognizedProject):
		return "not_a_project"
	default:
		return "internal"
	}
}

func (s *Service) toolsUsed(results []domain.StageResult) []string {
	byName := map[domain.StageName]domain.Stage{
		domain.StageAudit:       s.Stages.Audit,
		domain.StageThreatModel: s.Stages.ThreatModel,
		domain.StageResearch:    s.Stages.Research,
		domain.StageSynthesis:   s.Stages.Synthesis,
	}
	tools := []string{}
	seen := map[string]bool{}
	for _, r := range results {
		st := byName[r.Stage]
		if !r.Succeeded() || st == nil || seen[st.Tool()] {
			continue
		}
		seen[st.Tool()] = true
		tools = append(tools, st.Tool())
	}
	return tools
}

func (s *Service) fetchTimeout() time.Duration {
	if s.FetchTimeout > 0 {
		return s.FetchTimeout
	}
	return DefaultFetchTimeout
}

func (s *Service) analysisTimeout() time.Duration {
	if s.AnalysisTimeout > 0 {
		return s.AnalysisTimeout
	}
	return DefaultAnalysisTimeout
}

func (s *Service) version() string {
	if s.Version != "" {
		return s.Version
	}
	return DefaultVersion
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) log() *zap.SugaredLogger {
	if s.Log == nil {
		return logging.Nop()
	}
	return s.Log
}
