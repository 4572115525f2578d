// Package report asks the completion service to judge each high or critical
// finding against the threat model and persists the final report.
package report

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/bryanwahyu/vulnrisk/internal/domain/ai"
	domain "github.com/bryanwahyu/vulnrisk/internal/domain/analysis"
	"github.com/bryanwahyu/vulnrisk/internal/infra/ai/prompt"
	"github.com/bryanwahyu/vulnrisk/internal/infra/logging"
	"github.com/bryanwahyu/vulnrisk/internal/infra/stages/research"
)

const (
	Tool = "openai-analysis"

	noThreatModel = "No threat model is available for this project. Assess conservatively and state which context is missing."
)

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

func (s *Stage) Name() domain.StageName       { return domain.StageSynthesis }
func (s *Stage) Produces() domain.ArtifactName { return domain.ArtifactFinalReport }
func (s *Stage) Tool() string                  { return Tool }

// Run works with whatever upstream artifacts exist. Without research findings
// it falls back to the audit; with neither it writes an empty report.
func (s *Stage) Run(ctx context.Context, in domain.StageInput) error {
	log := s.Log.With(logging.FieldRunID, in.Workspace.RunID)

	threatModel := noThreatModel
	if b, err := in.Artifacts.Get(ctx, domain.ArtifactThreatModel); err == nil && len(strings.TrimSpace(string(b))) > 0 {
		threatModel = string(b)
	} else {
		log.Infow("synthesizing without threat model")
	}

	var audit *domain.AuditReport
	if b, err := in.Artifacts.Get(ctx, domain.ArtifactAuditFindings); err == nil {
		var r domain.AuditReport
		if err := json.Unmarshal(b, &r); err == nil {
			audit = &r
		}
	}

	findings, err := s.findings(ctx, in.Artifacts, audit)
	if err != nil {
		return err
	}

	high := make([]domain.ResearchedFinding, 0, len(findings))
	for _, f := range findings {
		if domain.IsHighSeverity(f.Severity) {
			high = append(high, f)
		}
	}
	if len(high) == 0 {
		log.Infow("no high or critical findings, skipping assessment")
		return in.Artifacts.Put(ctx, domain.ArtifactFinalReport, []byte("[]"))
	}

	out, err := s.AI.Complete(ctx, ai.Prompt{
		Model:  s.Model,
		System: prompt.GetExploitabilitySystemPrompt(),
		User:   prompt.GetExploitabilityUserPrompt(threatModel, high, auditContext(audit, high)),
		JSON:   true,
	})
	if err != nil {
		return domain.Upstream(err, "assess exploitability")
	}

	vulns, err := domain.ParseFinalReport([]byte(out))
	if err != nil {
		return domain.Unparsable(err, "decode exploitability assessment")
	}
	normalize(vulns, high)

	body, err := json.MarshalIndent(vulns, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode final report")
	}
	log.Infow("exploitability assessed", logging.FieldCount, len(vulns))
	return in.Artifacts.Put(ctx, domain.ArtifactFinalReport, body)
}

func (s *Stage) findings(ctx context.Context, r domain.ArtifactReader, audit *domain.AuditReport) ([]domain.ResearchedFinding, error) {
	if b, err := r.Get(ctx, domain.ArtifactResearchFindings); err == nil {
		var out []domain.ResearchedFinding
		if err := json.Unmarshal(b, &out); err != nil {
			return nil, domain.Unparsable(err, "decode research findings")
		}
		return out, nil
	}
	if audit != nil {
		return research.Extract(*audit), nil
	}
	return nil, nil
}

// auditContext is the audit entries for the assessed packages only.
func auditContext(audit *domain.AuditReport, high []domain.ResearchedFinding) map[string]domain.AuditVulnerability {
	out := map[string]domain.AuditVulnerability{}
	if audit == nil {
		return out
	}
	for _, f := range high {
		if v, ok := audit.Vulnerabilities[f.PackageName]; ok {
			out[f.PackageName] = v
		}
	}
	return out
}

// normalize lowercases risk levels and copies severity and advisory from the
// matching finding.
func normalize(vulns []domain.Vulnerability, high []domain.ResearchedFinding) {
	byName := make(map[string]domain.ResearchedFinding, len(high))
	for _, f := range high {
		byName[f.PackageName] = f
	}
	for i := range vulns {
		v := &vulns[i]
		v.Vulnerability.ContextualRiskLevel = strings.ToLower(strings.TrimSpace(v.Vulnerability.ContextualRiskLevel))
		f, ok := byName[v.PackageName]
		if !ok {
			continue
		}
		if v.Severity == "" {
			v.Severity = f.Severity
		}
		if v.Advisory == "" {
			v.Advisory = f.Advisory
		}
	}
}
