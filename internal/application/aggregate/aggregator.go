// Package aggregate reads the sealed artifact store after a run and assembles
// the report body. It never fails: every missing or unreadable artifact turns
// into a default value plus a warning.
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	domain "github.com/bryanwahyu/vulnrisk/internal/domain/analysis"
	"github.com/bryanwahyu/vulnrisk/internal/infra/logging"
)

// ThreatModelUnavailable replaces the threat model when none was produced.
const ThreatModelUnavailable = "Threat model generation failed"

// Summary is the aggregated content of one run.
type Summary struct {
	Vulnerabilities []domain.Vulnerability
	ThreatModel     string
	Counts          domain.SeverityCounts
	Warnings        []domain.Warning
}

type Aggregator struct {
	Log *zap.SugaredLogger
}

// Aggregate builds a Summary from whatever artifacts exist. results are the
// stage results recorded by the controller, used for warnings.
func (a *Aggregator) Aggregate(ctx context.Context, r domain.ArtifactReader, results []domain.StageResult) Summary {
	var s Summary
	for _, res := range results {
		if !res.Succeeded() {
			s.warn(string(res.Stage), stageWarning(res))
		}
	}

	s.ThreatModel = a.threatModel(ctx, r, &s)

	research := a.researchFindings(ctx, r, &s)
	audit := a.auditFindings(ctx, r, &s)

	vulns, ok := a.finalReport(ctx, r, &s)
	switch {
	case ok:
	case research != nil:
		vulns = fromResearch(research)
		s.warn("aggregate", "exploitability assessment unavailable, reporting researched findings unassessed")
	case audit != nil:
		vulns = fromAudit(audit)
		s.warn("aggregate", "exploitability assessment unavailable, reporting audit findings unassessed")
	default:
		vulns = []domain.Vulnerability{}
	}

	fillSeverity(vulns, research, audit)
	for _, v := range vulns {
		s.Counts.Add(v.Severity)
	}
	s.Vulnerabilities = vulns
	if s.Warnings == nil {
		s.Warnings = []domain.Warning{}
	}

	a.log().Debugw("aggregated artifacts", logging.FieldCount, len(vulns), "warnings", len(s.Warnings))
	return s
}

func (s *Summary) warn(source, msg string) {
	s.Warnings = append(s.Warnings, domain.Warning{Source: source, Message: msg})
}

func stageWarning(r domain.StageResult) string {
	switch r.Status {
	case domain.StageTimedOut:
		return "stage timed out"
	case domain.StageCancelled:
		return "stage cancelled"
	case domain.StageSkipped:
		return "stage skipped: " + r.Message
	default:
		if r.ErrorKind != "" {
			return fmt.Sprintf("stage failed (%s): %s", r.ErrorKind, r.Message)
		}
		return "stage failed: " + r.Message
	}
}

func (a *Aggregator) threatModel(ctx context.Context, r domain.ArtifactReader, s *Summary) string {
	b, ok := a.read(ctx, r, domain.ArtifactThreatModel, s)
	if !ok || strings.TrimSpace(string(b)) == "" {
		return ThreatModelUnavailable
	}
	return string(b)
}

func (a *Aggregator) researchFindings(ctx context.Context, r domain.ArtifactReader, s *Summary) []domain.ResearchedFinding {
	b, ok := a.read(ctx, r, domain.ArtifactResearchFindings, s)
	if !ok {
		return nil
	}
	var out []domain.ResearchedFinding
	if err := json.Unmarshal(b, &out); err != nil {
		s.warn(string(domain.ArtifactResearchFindings), "unreadable research findings: "+err.Error())
		return nil
	}
	if out == nil {
		out = []domain.ResearchedFinding{}
	}
	return out
}

func (a *Aggregator) auditFindings(ctx context.Context, r domain.ArtifactReader, s *Summary) *domain.AuditReport {
	b, ok := a.read(ctx, r, domain.ArtifactAuditFindings, s)
	if !ok {
		return nil
	}
	var out domain.AuditReport
	if err := json.Unmarshal(b, &out); err != nil {
		s.warn(string(domain.ArtifactAuditFindings), "unreadable audit findings: "+err.Error())
		return nil
	}
	return &out
}

func (a *Aggregator) finalReport(ctx context.Context, r domain.ArtifactReader, s *Summary) ([]domain.Vulnerability, bool) {
	b, ok := a.read(ctx, r, domain.ArtifactFinalReport, s)
	if !ok {
		return nil, false
	}
	vulns, err := domain.ParseFinalReport(b)
	if err != nil {
		s.warn(string(domain.ArtifactFinalReport), "unreadable final report: "+err.Error())
		return nil, false
	}
	if vulns == nil {
		vulns = []domain.Vulnerability{}
	}
	return vulns, true
}

// read returns the artifact bytes. Absence is expected after a stage failure
// and is already covered by the stage warning, so only read errors warn.
func (a *Aggregator) read(ctx context.Context, r domain.ArtifactReader, name domain.ArtifactName, s *Summary) ([]byte, bool) {
	if !r.Exists(ctx, name) {
		return nil, false
	}
	b, err := r.Get(ctx, name)
	if err != nil {
		a.log().Warnw("artifact read failed", "artifact", name, logging.FieldError, err)
		s.warn(string(name), "artifact unreadable: "+err.Error())
		return nil, false
	}
	return b, true
}

func (a *Aggregator) log() *zap.SugaredLogger {
	if a.Log == nil {
		return logging.Nop()
	}
	return a.Log
}

func fromResearch(findings []domain.ResearchedFinding) []domain.Vulnerability {
	out := make([]domain.Vulnerability, 0, len(findings))
	for _, f := range findings {
		v := domain.Vulnerability{PackageName: f.PackageName, Severity: f.Severity, Advisory: f.Advisory}
		if f.Research != nil {
			v.Vulnerability.Summary = f.Research.Description
		}
		if f.ResearchError != "" && v.Vulnerability.Summary == "" {
			v.Vulnerability.Summary = "advisory lookup failed: " + f.ResearchError
		}
		v.Vulnerability.ExploitabilityReasoning = "not assessed"
		out = append(out, v)
	}
	return out
}

func fromAudit(r *domain.AuditReport) []domain.Vulnerability {
	names := make([]string, 0, len(r.Vulnerabilities))
	for name, v := range r.Vulnerabilities {
		if domain.IsHighSeverity(v.Severity) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]domain.Vulnerability, 0, len(names))
	for _, name := range names {
		v := r.Vulnerabilities[name]
		entry := domain.Vulnerability{PackageName: name, Severity: v.Severity}
		if urls := v.AdvisoryURLs(); len(urls) > 0 {
			entry.Advisory = urls[0]
		}
		for _, via := range v.Via {
			if via.Title != "" {
				entry.Vulnerability.Summary = via.Title
				break
			}
		}
		entry.Vulnerability.ExploitabilityReasoning = "not assessed"
		out = append(out, entry)
	}
	return out
}

// fillSeverity copies severity and advisory onto entries the model returned
// without them, matching by package name.
func fillSeverity(vulns []domain.Vulnerability, research []domain.ResearchedFinding, audit *domain.AuditReport) {
	for i := range vulns {
		v := &vulns[i]
		for _, f := range research {
			if f.PackageName != v.PackageName {
				continue
			}
			if v.Severity == "" {
				v.Severity = f.Severity
			}
			if v.Advisory == "" {
				v.Advisory = f.Advisory
			}
			break
		}
		if v.Severity == "" && audit != nil {
			if a, ok := audit.Vulnerabilities[v.PackageName]; ok {
				v.Severity = a.Severity
			}
		}
	}
}
