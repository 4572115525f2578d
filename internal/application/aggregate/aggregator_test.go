package aggregate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/vulnrisk/internal/domain/analysis"
	"github.com/bryanwahyu/vulnrisk/internal/infra/artifacts/memstore"
)

const (
	auditJSON = `{"auditReportVersion":2,"vulnerabilities":{
		"lodash":{"name":"lodash","severity":"high","via":[{"title":"Prototype Pollution","url":"https://github.com/advisories/GHSA-p6mc-m468-83gw","severity":"high"}],"effects":[],"range":"<4.17.19","nodes":["node_modules/lodash"]},
		"minimist":{"name":"minimist","severity":"critical","via":[{"title":"Prototype Pollution","url":"https://github.com/advisories/GHSA-xvch-5gv4-984h","severity":"critical"}],"effects":[],"range":"<0.2.4","nodes":["node_modules/minimist"]},
		"debug":{"name":"debug","severity":"low","via":[],"effects":[],"range":"<2.6.9","nodes":["node_modules/debug"]}}}`
	researchJSON = `[
		{"packageName":"lodash","advisory":"GHSA-p6mc-m468-83gw","severity":"high","research":{"description":"Prototype pollution in zipObjectDeep","attackVectors":"","impact":"","exploitabilityAssessment":{"isExploitable":null,"reasoning":"","mitigationSteps":[],"requiresAction":false}}},
		{"packageName":"minimist","advisory":"GHSA-xvch-5gv4-984h","severity":"critical","researchError":"advisory not found"}]`
	reportJSON = `[
		{"packageName":"lodash","vulnerability":{"summary":"Prototype pollution","isExploitable":false,"exploitabilityReasoning":"zipObjectDeep unused","requiredConditions":[],"contextualRiskLevel":"low","recommendedMitigations":["upgrade"]}},
		{"packageName":"minimist","severity":"critical","vulnerability":{"summary":"Prototype pollution","isExploitable":true,"exploitabilityReasoning":"parses argv","requiredConditions":["cli input"],"contextualRiskLevel":"high","recommendedMitigations":["upgrade"]}}]`
)

func store(t *testing.T, files map[domain.ArtifactName]string) *memstore.Store {
	t.Helper()
	s := memstore.New()
	for name, body := range files {
		require.NoError(t, s.Put(context.Background(), name, []byte(body)))
	}
	s.Seal()
	return s
}

func allSucceeded() []domain.StageResult {
	return []domain.StageResult{
		domain.Success(domain.StageAudit, domain.ArtifactAuditFindings, 0),
		domain.Success(domain.StageThreatModel, domain.ArtifactThreatModel, 0),
		domain.Success(domain.StageResearch, domain.ArtifactResearchFindings, 0),
		domain.Success(domain.StageSynthesis, domain.ArtifactFinalReport, 0),
	}
}

func TestAggregate_FullRun(t *testing.T) {
	s := store(t, map[domain.ArtifactName]string{
		domain.ArtifactAuditFindings:    auditJSON,
		domain.ArtifactThreatModel:      "# Threat model\nExpress API",
		domain.ArtifactResearchFindings: researchJSON,
		domain.ArtifactFinalReport:      reportJSON,
	})

	sum := (&Aggregator{}).Aggregate(context.Background(), s, allSucceeded())

	require.Len(t, sum.Vulnerabilities, 2)
	assert.Equal(t, "# Threat model\nExpress API", sum.ThreatModel)
	assert.Empty(t, sum.Warnings)
	assert.Equal(t, domain.SeverityCounts{Critical: 1, High: 1, Total: 2}, sum.Counts)

	lodash := sum.Vulnerabilities[0]
	assert.True(t, lodash.Assessed)
	assert.Equal(t, "high", lodash.Severity, "severity filled from research")
	assert.Equal(t, "GHSA-p6mc-m468-83gw", lodash.Advisory)
	require.NotNil(t, lodash.Vulnerability.IsExploitable)
	assert.False(t, *lodash.Vulnerability.IsExploitable)
}

func TestAggregate_NoHighFindings(t *testing.T) {
	s := store(t, map[domain.ArtifactName]string{
		domain.ArtifactAuditFindings:    `{"auditReportVersion":2,"vulnerabilities":{}}`,
		domain.ArtifactThreatModel:      "tm",
		domain.ArtifactResearchFindings: `[]`,
		domain.ArtifactFinalReport:      `[]`,
	})

	sum := (&Aggregator{}).Aggregate(context.Background(), s, allSucceeded())

	assert.NotNil(t, sum.Vulnerabilities)
	assert.Empty(t, sum.Vulnerabilities)
	assert.Zero(t, sum.Counts.Total)
	assert.Empty(t, sum.Warnings)
}

func TestAggregate_AuditTimedOut(t *testing.T) {
	s := store(t, map[domain.ArtifactName]string{
		domain.ArtifactThreatModel: "tm",
		domain.ArtifactFinalReport: `[]`,
	})
	results := []domain.StageResult{
		domain.TimedOut(domain.StageAudit, 0),
		domain.Success(domain.StageThreatModel, domain.ArtifactThreatModel, 0),
		domain.Skipped(domain.StageResearch, "audit produced no findings"),
		domain.Success(domain.StageSynthesis, domain.ArtifactFinalReport, 0),
	}

	sum := (&Aggregator{}).Aggregate(context.Background(), s, results)

	assert.Empty(t, sum.Vulnerabilities)
	assert.Equal(t, "tm", sum.ThreatModel)
	require.Len(t, sum.Warnings, 2)
	assert.Equal(t, "audit", sum.Warnings[0].Source)
	assert.Equal(t, "stage timed out", sum.Warnings[0].Message)
	assert.Equal(t, "research", sum.Warnings[1].Source)
}

func TestAggregate_FallsBackToResearchFindings(t *testing.T) {
	s := store(t, map[domain.ArtifactName]string{
		domain.ArtifactAuditFindings:    auditJSON,
		domain.ArtifactResearchFindings: researchJSON,
	})
	results := allSucceeded()[:3]
	results = append(results, domain.Failed(domain.StageSynthesis, domain.KindUpstreamService, "429", 0))

	sum := (&Aggregator{}).Aggregate(context.Background(), s, results)

	require.Len(t, sum.Vulnerabilities, 2)
	for _, v := range sum.Vulnerabilities {
		assert.False(t, v.Assessed)
		assert.Nil(t, v.Vulnerability.IsExploitable)
	}
	assert.Equal(t, "Prototype pollution in zipObjectDeep", sum.Vulnerabilities[0].Vulnerability.Summary)
	assert.Contains(t, sum.Vulnerabilities[1].Vulnerability.Summary, "advisory not found")
	assert.Equal(t, ThreatModelUnavailable, sum.ThreatModel)
	assert.Equal(t, 2, sum.Counts.Total)
	assert.Contains(t, sum.Warnings, domain.Warning{Source: "aggregate",
		Message: "exploitability assessment unavailable, reporting researched findings unassessed"})
}

func TestAggregate_FallsBackToAuditFindings(t *testing.T) {
	s := store(t, map[domain.ArtifactName]string{domain.ArtifactAuditFindings: auditJSON})

	sum := (&Aggregator{}).Aggregate(context.Background(), s, nil)

	require.Len(t, sum.Vulnerabilities, 2, "only high and critical are reported")
	assert.Equal(t, "lodash", sum.Vulnerabilities[0].PackageName)
	assert.Equal(t, "minimist", sum.Vulnerabilities[1].PackageName)
	assert.Equal(t, "Prototype Pollution", sum.Vulnerabilities[0].Vulnerability.Summary)
	assert.Equal(t, "https://github.com/advisories/GHSA-p6mc-m468-83gw", sum.Vulnerabilities[0].Advisory)
}

func TestAggregate_UnparsableFinalReport(t *testing.T) {
	s := store(t, map[domain.ArtifactName]string{
		domain.ArtifactResearchFindings: researchJSON,
		domain.ArtifactFinalReport:      "I cannot help with that.",
	})

	sum := (&Aggregator{}).Aggregate(context.Background(), s, nil)

	assert.Len(t, sum.Vulnerabilities, 2)
	var sources []string
	for _, w := range sum.Warnings {
		sources = append(sources, w.Source)
	}
	assert.Contains(t, sources, "final-report")
}

func TestAggregate_EmptyStore(t *testing.T) {
	sum := (&Aggregator{}).Aggregate(context.Background(), store(t, nil), nil)

	assert.NotNil(t, sum.Vulnerabilities)
	assert.Empty(t, sum.Vulnerabilities)
	assert.Equal(t, ThreatModelUnavailable, sum.ThreatModel)
	assert.NotNil(t, sum.Warnings)
}
