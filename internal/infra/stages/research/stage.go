// Package research enriches high and critical audit findings with advisory
// data and persists them as the research-findings artifact.
package research

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/vulnrisk/internal/domain/advisory"
	domain "github.com/bryanwahyu/vulnrisk/internal/domain/analysis"
	"github.com/bryanwahyu/vulnrisk/internal/infra/logging"
)

const (
	Tool               = "github-advisories"
	DefaultConcurrency = 4
	pendingReasoning   = "Pending threat model integration"
)

type Stage struct {
	Advisories  advisory.Source
	Concurrency int
	Log         *zap.SugaredLogger
}

func New(src advisory.Source, concurrency int, log *zap.SugaredLogger) *Stage {
	if log == nil {
		log = logging.Nop()
	}
	return &Stage{Advisories: src, Concurrency: concurrency, Log: log}
}

func (s *Stage) Name() domain.StageName       { return domain.StageResearch }
func (s *Stage) Produces() domain.ArtifactName { return domain.ArtifactResearchFindings }
func (s *Stage) Tool() string                  { return Tool }

func (s *Stage) Run(ctx context.Context, in domain.StageInput) error {
	raw, err := in.Artifacts.Get(ctx, domain.ArtifactAuditFindings)
	if err != nil {
		return errors.Wrap(err, "read audit findings")
	}
	var audit domain.AuditReport
	if err := json.Unmarshal(raw, &audit); err != nil {
		return domain.Unparsable(err, "decode audit findings")
	}

	findings := Extract(audit)

	limit := s.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i := range findings {
		i := i // per-iteration copy for the goroutine below (go < 1.22)
		g.Go(func() error {
			s.research(ctx, &findings[i])
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "research interrupted")
	}

	failed := 0
	for _, f := range findings {
		if f.ResearchError != "" {
			failed++
		}
	}
	s.Log.Infow("vulnerability research finished",
		logging.FieldRunID, in.Workspace.RunID,
		logging.FieldCount, len(findings),
		"failed", failed,
	)

	out, err := json.MarshalIndent(findings, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode research findings")
	}
	return in.Artifacts.Put(ctx, domain.ArtifactResearchFindings, out)
}

// Extract returns the high and critical findings of an audit, ordered by
// package name.
func Extract(audit domain.AuditReport) []domain.ResearchedFinding {
	out := []domain.ResearchedFinding{}
	for name, v := range audit.Vulnerabilities {
		if !domain.IsHighSeverity(v.Severity) {
			continue
		}
		f := domain.ResearchedFinding{
			PackageName: name,
			Severity:    strings.ToLower(v.Severity),
			Via:         v.Via,
			Effects:     v.Effects,
			Range:       v.Range,
			Nodes:       v.Nodes,
		}
		if urls := v.AdvisoryURLs(); len(urls) > 0 {
			f.Advisory = urls[0]
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PackageName < out[j].PackageName })
	return out
}

// research fills f.Research, or f.ResearchError when the lookup fails.
func (s *Stage) research(ctx context.Context, f *domain.ResearchedFinding) {
	id := advisory.GHSAFromURL(f.Advisory)
	if id == "" {
		var via []string
		for _, v := range f.Via {
			if v.Package != "" {
				via = append(via, v.Package)
			}
		}
		if len(via) > 0 {
			f.ResearchError = "no advisory linked, vulnerable through " + strings.Join(via, ", ")
		} else {
			f.ResearchError = "no advisory linked"
		}
		return
	}

	a, err := s.Advisories.Lookup(ctx, id)
	if err != nil {
		s.Log.Warnw("advisory lookup failed", "advisory", id, "package", f.PackageName, logging.FieldError, err)
		f.ResearchError = err.Error()
		return
	}

	description := a.Description
	if description == "" {
		description = a.Summary
	}
	f.Research = &domain.Research{
		AdvisoryID:      a.ID,
		Source:          a.Source,
		Description:     description,
		AttackVectors:   a.Details,
		Impact:          a.Severity,
		CVSSScore:       a.CVSSScore,
		CWEs:            a.CWEs,
		References:      a.References,
		PatchedVersions: SortVersions(a.PatchedVersions),
		ExploitabilityAssessment: domain.ExploitabilityPlaceholder{
			Reasoning:       pendingReasoning,
			MitigationSteps: []string{},
			RequiresAction:  true,
		},
	}
}

// SortVersions dedupes and orders versions ascending by semver. Strings that
// are not valid versions keep their relative order at the end.
func SortVersions(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := map[string]bool{}
	var valid []*semver.Version
	var invalid []string
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		v, err := semver.NewVersion(s)
		if err != nil {
			invalid = append(invalid, s)
			continue
		}
		valid = append(valid, v)
	}
	sort.Sort(semver.Collection(valid))
	out := make([]string, 0, len(valid)+len(invalid))
	for _, v := range valid {
		out = append(out, v.Original())
	}
	return append(out, invalid...)
}
