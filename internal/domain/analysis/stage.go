package analysis

import (
	"context"
	"time"
)

// StageName identifies one analysis step.
type StageName string

const (
	StageAudit       StageName = "audit"
	StageThreatModel StageName = "threat-model"
	StageResearch    StageName = "research"
	StageSynthesis   StageName = "synthesis"
)

// StageStatus enum
type StageStatus string

const (
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageTimedOut  StageStatus = "timed_out"
	// StageCancelled means the caller went away, not the analysis deadline.
	StageCancelled StageStatus = "cancelled"
	// StageSkipped is recorded for stages that were never invoked.
	StageSkipped StageStatus = "skipped"
)

// StageResult is the outcome of exactly one stage invocation.
type StageResult struct {
	Stage      StageName    `json:"stage"`
	Status     StageStatus  `json:"status"`
	Artifact   ArtifactName `json:"artifact,omitempty"`
	ErrorKind  ErrorKind    `json:"errorKind,omitempty"`
	Message    string       `json:"message,omitempty"`
	DurationMS int64        `json:"durationMs"`
}

// Succeeded reports whether the stage persisted its artifact.
func (r StageResult) Succeeded() bool { return r.Status == StageSucceeded }

func Success(stage StageName, artifact ArtifactName, d time.Duration) StageResult {
	return StageResult{Stage: stage, Status: StageSucceeded, Artifact: artifact, DurationMS: d.Milliseconds()}
}

func Failed(stage StageName, kind ErrorKind, msg string, d time.Duration) StageResult {
	return StageResult{Stage: stage, Status: StageFailed, ErrorKind: kind, Message: msg, DurationMS: d.Milliseconds()}
}

func TimedOut(stage StageName, d time.Duration) StageResult {
	return StageResult{Stage: stage, Status: StageTimedOut, Message: "stage deadline exceeded", DurationMS: d.Milliseconds()}
}

func Cancelled(stage StageName, d time.Duration) StageResult {
	return StageResult{Stage: stage, Status: StageCancelled, Message: "analysis cancelled", DurationMS: d.Milliseconds()}
}

func Skipped(stage StageName, reason string) StageResult {
	return StageResult{Stage: stage, Status: StageSkipped, Message: reason}
}

// StageInput is what every adapter receives: the workspace and the store that
// holds upstream artifacts.
type StageInput struct {
	Workspace *Workspace
	Artifacts ArtifactStore
}

// Stage port. Run must persist exactly the artifact named by Produces before
// returning nil, must not write any other artifact, and must return promptly
// once ctx is done.
type Stage interface {
	Name() StageName
	Produces() ArtifactName
	// Tool is the label reported in toolsUsed when the stage succeeds.
	Tool() string
	Run(ctx context.Context, in StageInput) error
}

// Stages bundles the four adapters the controller schedules.
type Stages struct {
	Audit       Stage
	ThreatModel Stage
	Research    Stage
	Synthesis   Stage
}
