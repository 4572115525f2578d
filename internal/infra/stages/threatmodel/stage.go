// Package threatmodel collects project metadata and asks the completion
// service for a Markdown threat model.
package threatmodel

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/bryanwahyu/vulnrisk/internal/domain/ai"
	domain "github.com/bryanwahyu/vulnrisk/internal/domain/analysis"
	"github.com/bryanwahyu/vulnrisk/internal/infra/ai/prompt"
	"github.com/bryanwahyu/vulnrisk/internal/infra/logging"
)

const Tool = "threat-modeling"

type Stage struct {
	AI    ai.Client
	Model string
	Log   *zap.SugaredLogger
}

func New(client ai.Client, model string, log *zap.SugaredLogger) *Stage {
	if log == nil {
		log = logging.Nop()
	}
	return &Stage{AI: client, Model: model, Log: log}
}

func (s *Stage) Name() domain.StageName       { return domain.StageThreatModel }
func (s *Stage) Produces() domain.ArtifactName { return domain.ArtifactThreatModel }
func (s *Stage) Tool() string                  { return Tool }

func (s *Stage) Run(ctx context.Context, in domain.StageInput) error {
	pc, err := Collect(in.Workspace.SourceDir())
	if err != nil {
		return domain.Unparsable(err, "collect project metadata")
	}
	s.Log.Debugw("project metadata collected",
		logging.FieldRunID, in.Workspace.RunID,
		"security_files", len(pc.SecurityFiles),
		"exposed_ports", pc.ExposedPorts,
	)

	out, err := s.AI.Complete(ctx, ai.Prompt{
		Model:  s.Model,
		System: prompt.GetThreatModelSystemPrompt(),
		User:   prompt.GetThreatModelUserPrompt(pc),
	})
	if err != nil {
		return domain.Upstream(err, "generate threat model")
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return domain.Upstream(ai.ErrEmptyResponse, "generate threat model")
	}
	return in.Artifacts.Put(ctx, domain.ArtifactThreatModel, []byte(out+"\n"))
}
