// Package pipeline sequences the analysis stages of one run under a single
// deadline and turns every stage outcome into a StageResult.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/vulnrisk/internal/application"
	domain "github.com/bryanwahyu/vulnrisk/internal/domain/analysis"
	"github.com/bryanwahyu/vulnrisk/internal/infra/logging"
)

// DefaultGrace is how long the controller waits for a cancelled stage to
// return before abandoning it.
const DefaultGrace = 2 * time.Second

// Phase of a run.
type Phase string

const (
	PhaseParallel    Phase = "parallel_stage_1"
	PhaseResearch    Phase = "dependent_stage_2"
	PhaseSynthesis   Phase = "dependent_stage_3"
	PhaseAggregating Phase = "aggregating"
)

// Outcome is what the controller hands to aggregation.
type Outcome struct {
	Results          []domain.StageResult
	State            domain.RunState
	DeadlineExceeded bool
	// Cancelled is set when the parent context was cancelled mid-run.
	Cancelled bool
}

// Result returns the result recorded for stage.
func (o Outcome) Result(stage domain.StageName) (domain.StageResult, bool) {
	for _, r := range o.Results {
		if r.Stage == stage {
			return r, true
		}
	}
	return domain.StageResult{}, false
}

// Controller drives stage order and concurrency. It holds no per-run state
// and may be shared across concurrent runs.
type Controller struct {
	Stages domain.Stages
	Clock  application.Clock
	Log    *zap.SugaredLogger
	Grace  time.Duration
	// Observe, when set, is called once per recorded StageResult.
	Observe func(domain.StageResult)
}

// Run executes audit and threat-model concurrently, then research (only if
// audit produced its artifact), then synthesis, all bounded by total. When
// total expires the remaining stages are skipped and the store is sealed so
// aggregation sees a stable set of artifacts. Run never returns an error:
// stage failures are recorded in the outcome.
func (c *Controller) Run(ctx context.Context, ws *domain.Workspace, store domain.ArtifactStore, total time.Duration) Outcome {
	rctx, cancel := context.WithTimeout(ctx, total)
	defer cancel()

	log := c.log().With(logging.FieldRunID, ws.RunID)
	in := domain.StageInput{Workspace: ws, Artifacts: store}
	var out Outcome

	c.enter(log, PhaseParallel)
	var audit, threat domain.StageResult
	var g errgroup.Group
	g.Go(func() error {
		audit = c.invoke(rctx, log, domain.StageAudit, c.Stages.Audit, in)
		return nil
	})
	g.Go(func() error {
		threat = c.invoke(rctx, log, domain.StageThreatModel, c.Stages.ThreatModel, in)
		return nil
	})
	_ = g.Wait()
	out.add(c, audit, threat)

	var research domain.StageResult
	switch {
	case rctx.Err() != nil:
		research = domain.Skipped(domain.StageResearch, stopReason(rctx))
	case !audit.Succeeded():
		research = domain.Skipped(domain.StageResearch, "audit produced no findings")
	default:
		c.enter(log, PhaseResearch)
		research = c.invoke(rctx, log, domain.StageResearch, c.Stages.Research, in)
	}
	out.add(c, research)

	// Synthesis runs even with missing inputs; the adapter fills defaults.
	var synthesis domain.StageResult
	if rctx.Err() != nil {
		synthesis = domain.Skipped(domain.StageSynthesis, stopReason(rctx))
	} else {
		c.enter(log, PhaseSynthesis)
		synthesis = c.invoke(rctx, log, domain.StageSynthesis, c.Stages.Synthesis, in)
	}
	out.add(c, synthesis)

	c.enter(log, PhaseAggregating)
	store.Seal()
	out.DeadlineExceeded = errors.Is(rctx.Err(), context.DeadlineExceeded)
	out.Cancelled = errors.Is(rctx.Err(), context.Canceled)
	out.State = stateOf(out.Results)
	switch {
	case out.DeadlineExceeded:
		log.Warnw("analysis deadline exceeded, aggregating partial results", "timeout_ms", total.Milliseconds())
	case out.Cancelled:
		log.Warnw("analysis cancelled, aggregating partial results")
	}
	return out
}

func (o *Outcome) add(c *Controller, rs ...domain.StageResult) {
	for _, r := range rs {
		o.Results = append(o.Results, r)
		if c.Observe != nil {
			c.Observe(r)
		}
	}
}

// invoke runs one stage, waiting at most Grace past cancellation.
func (c *Controller) invoke(ctx context.Context, log *zap.SugaredLogger, name domain.StageName, stage domain.Stage, in domain.StageInput) domain.StageResult {
	if stage == nil {
		return domain.Skipped(name, "stage not configured")
	}
	slog := log.With(logging.FieldStage, name)
	slog.Infow("stage started")

	start := c.Clock.Now()
	done := make(chan domain.StageResult, 1)
	go func() { done <- c.call(ctx, name, stage, in, start) }()

	var res domain.StageResult
	select {
	case res = <-done:
	case <-ctx.Done():
		grace := c.Grace
		if grace <= 0 {
			grace = DefaultGrace
		}
		timer := time.NewTimer(grace)
		select {
		case res = <-done:
		case <-timer.C:
			slog.Warnw("stage ignored cancellation, abandoning", "grace_ms", grace.Milliseconds())
			res = interrupted(ctx, name, application.Since(c.Clock, start))
		}
		timer.Stop()
	}

	fields := []any{logging.FieldStatus, res.Status, logging.FieldDurationMS, res.DurationMS}
	if res.Succeeded() {
		slog.Infow("stage finished", fields...)
	} else {
		fields = append(fields, logging.FieldErrorKind, res.ErrorKind, logging.FieldError, res.Message)
		slog.Warnw("stage finished", fields...)
	}
	return res
}

// call converts whatever the stage does, including panics, into a result.
func (c *Controller) call(ctx context.Context, name domain.StageName, stage domain.Stage, in domain.StageInput, start time.Time) (res domain.StageResult) {
	defer func() {
		if p := recover(); p != nil {
			res = domain.Failed(name, domain.KindUnhandled, fmt.Sprintf("stage panicked: %v", p), application.Since(c.Clock, start))
		}
	}()

	err := stage.Run(ctx, in)
	elapsed := application.Since(c.Clock, start)
	if err != nil {
		if ctx.Err() != nil || domain.IsDeadline(err) {
			return interrupted(ctx, name, elapsed)
		}
		return domain.Failed(name, domain.KindOf(err), err.Error(), elapsed)
	}
	// A committed write survives cancellation, so check without ctx.
	if !in.Artifacts.Exists(context.WithoutCancel(ctx), stage.Produces()) {
		return domain.Failed(name, domain.KindUnhandled, "stage returned without persisting "+string(stage.Produces()), elapsed)
	}
	return domain.Success(name, stage.Produces(), elapsed)
}

// interrupted records a stage stopped by ctx: cancelled if the caller went
// away, timed out otherwise.
func interrupted(ctx context.Context, name domain.StageName, d time.Duration) domain.StageResult {
	if errors.Is(ctx.Err(), context.Canceled) {
		return domain.Cancelled(name, d)
	}
	return domain.TimedOut(name, d)
}

func stopReason(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.Canceled) {
		return "analysis cancelled"
	}
	return "analysis deadline exceeded"
}

func (c *Controller) enter(log *zap.SugaredLogger, p Phase) {
	log.Debugw("pipeline phase", "phase", p)
}

func (c *Controller) log() *zap.SugaredLogger {
	if c.Log == nil {
		return logging.Nop()
	}
	return c.Log
}

func stateOf(results []domain.StageResult) domain.RunState {
	succeeded := 0
	for _, r := range results {
		if r.Succeeded() {
			succeeded++
		}
	}
	switch {
	case succeeded == len(results):
		return domain.RunSucceeded
	case succeeded == 0:
		return domain.RunFailed
	default:
		return domain.RunPartial
	}
}
