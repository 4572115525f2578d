package research

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/vulnrisk/internal/domain/advisory"
	domain "github.com/bryanwahyu/vulnrisk/internal/domain/analysis"
	advchain "github.com/bryanwahyu/vulnrisk/internal/infra/advisory"
	"github.com/bryanwahyu/vulnrisk/internal/infra/advisory/github"
	"github.com/bryanwahyu/vulnrisk/internal/infra/advisory/osv"
	"github.com/bryanwahyu/vulnrisk/internal/infra/artifacts/memstore"
)

const audit = `{"auditReportVersion":2,"vulnerabilities":{
	"minimist":{"name":"minimist","severity":"critical","via":[{"source":1,"title":"Prototype Pollution","url":"https://github.com/advisories/GHSA-xvch-5gv4-984h","severity":"critical"}],"effects":["mkdirp"],"range":"<0.2.4","nodes":["node_modules/minimist"]},
	"mkdirp":{"name":"mkdirp","severity":"high","via":["minimist"],"effects":[],"range":"0.4.1 - 0.5.1","nodes":["node_modules/mkdirp"]},
	"lodash":{"name":"lodash","severity":"high","via":[{"source":2,"title":"Prototype Pollution","url":"https://github.com/advisories/GHSA-p6mc-m468-83gw","severity":"high"}],"effects":[],"range":"<4.17.19","nodes":["node_modules/lodash"]},
	"debug":{"name":"debug","severity":"moderate","via":[{"source":3,"title":"ReDoS","url":"https://github.com/advisories/GHSA-gxpj-cx7g-858c","severity":"moderate"}],"effects":[],"range":"<2.6.9","nodes":["node_modules/debug"]}}}`

type mapSource struct {
	advisories map[string]advisory.Advisory
	err        map[string]error
	calls      atomic.Int32
}

func (m *mapSource) Name() string { return "map" }

func (m *mapSource) Lookup(_ context.Context, id string) (advisory.Advisory, error) {
	m.calls.Add(1)
	if err, ok := m.err[id]; ok {
		return advisory.Advisory{}, err
	}
	if a, ok := m.advisories[id]; ok {
		return a, nil
	}
	return advisory.Advisory{}, advisory.ErrNotFound
}

func input(t *testing.T, auditJSON string) (domain.StageInput, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	if auditJSON != "" {
		require.NoError(t, st.Put(context.Background(), domain.ArtifactAuditFindings, []byte(auditJSON)))
	}
	return domain.StageInput{Workspace: &domain.Workspace{RunID: "r-1"}, Artifacts: st}, st
}

func findings(t *testing.T, st *memstore.Store) []domain.ResearchedFinding {
	t.Helper()
	b, err := st.Get(context.Background(), domain.ArtifactResearchFindings)
	require.NoError(t, err)
	var out []domain.ResearchedFinding
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func TestExtract_HighAndCriticalOnly(t *testing.T) {
	var r domain.AuditReport
	require.NoError(t, json.Unmarshal([]byte(audit), &r))

	got := Extract(r)

	require.Len(t, got, 3)
	assert.Equal(t, "lodash", got[0].PackageName)
	assert.Equal(t, "minimist", got[1].PackageName)
	assert.Equal(t, "mkdirp", got[2].PackageName)
	assert.Equal(t, "https://github.com/advisories/GHSA-xvch-5gv4-984h", got[1].Advisory)
	assert.Empty(t, got[2].Advisory)
}

func TestRun_EnrichesAndKeepsFailures(t *testing.T) {
	in, st := input(t, audit)
	src := &mapSource{
		advisories: map[string]advisory.Advisory{
			"GHSA-xvch-5gv4-984h": {ID: "GHSA-xvch-5gv4-984h", Source: "osv", Description: "pp in minimist", Details: "via index.js",
				Severity: "critical", CWEs: []string{"CWE-1321"}, PatchedVersions: []string{"1.2.6", "0.2.4", "1.2.6"}},
		},
		err: map[string]error{"GHSA-p6mc-m468-83gw": errors.New("github api rate limited")},
	}

	require.NoError(t, New(src, 2, nil).Run(context.Background(), in))

	got := findings(t, st)
	require.Len(t, got, 3)

	lodash := got[0]
	assert.Nil(t, lodash.Research)
	assert.Contains(t, lodash.ResearchError, "rate limited")

	minimist := got[1]
	require.NotNil(t, minimist.Research)
	assert.Equal(t, "pp in minimist", minimist.Research.Description)
	assert.Equal(t, "via index.js", minimist.Research.AttackVectors)
	assert.Equal(t, "critical", minimist.Research.Impact)
	assert.Equal(t, []string{"0.2.4", "1.2.6"}, minimist.Research.PatchedVersions)
	assert.Nil(t, minimist.Research.ExploitabilityAssessment.IsExploitable)
	assert.True(t, minimist.Research.ExploitabilityAssessment.RequiresAction)

	mkdirp := got[2]
	assert.Nil(t, mkdirp.Research)
	assert.Equal(t, "no advisory linked, vulnerable through minimist", mkdirp.ResearchError)

	assert.EqualValues(t, 2, src.calls.Load())
}

func TestRun_NoHighFindingsWritesEmptyArray(t *testing.T) {
	in, st := input(t, `{"auditReportVersion":2,"vulnerabilities":{}}`)

	require.NoError(t, New(&mapSource{}, 0, nil).Run(context.Background(), in))

	b, err := st.Get(context.Background(), domain.ArtifactResearchFindings)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(b))
}

func TestRun_MissingOrBadAudit(t *testing.T) {
	in, _ := input(t, "")
	err := New(&mapSource{}, 0, nil).Run(context.Background(), in)
	assert.Truef(t, errors.Is(err, domain.ErrArtifactNotFound), "%v", err)

	in, _ = input(t, "{{")
	err = New(&mapSource{}, 0, nil).Run(context.Background(), in)
	assert.Truef(t, errors.Is(err, domain.ErrUnparsableOutput), "%v", err)
}

func TestRun_DeadlineDuringLookups(t *testing.T) {
	in, st := input(t, audit)
	slow := advisorySourceFunc(func(ctx context.Context, _ string) (advisory.Advisory, error) {
		<-ctx.Done()
		return advisory.Advisory{}, ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := New(slow, 4, nil).Run(ctx, in)

	assert.Truef(t, errors.Is(err, context.DeadlineExceeded), "%v", err)
	assert.False(t, st.Exists(context.Background(), domain.ArtifactResearchFindings))
}

// GitHub fails, OSV answers: the finding is still researched.
func TestRun_GitHubFallsBackToOSV(t *testing.T) {
	ghSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ghSrv.Close()
	osvSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/vulns/")
		_, _ = w.Write([]byte(`{"id":"` + id + `","summary":"from osv","database_specific":{"severity":"HIGH"}}`))
	}))
	defer osvSrv.Close()

	gh := github.New("", 1000)
	gh.BaseURL = ghSrv.URL
	ov := osv.New(1000)
	ov.BaseURL = osvSrv.URL

	in, st := input(t, audit)
	require.NoError(t, New(advchain.NewChain(nil, gh, ov), 2, nil).Run(context.Background(), in))

	got := findings(t, st)
	require.NotNil(t, got[0].Research)
	assert.Equal(t, osv.SourceName, got[0].Research.Source)
	assert.Equal(t, "from osv", got[0].Research.Description)
}

func TestSortVersions(t *testing.T) {
	assert.Equal(t, []string{"0.2.4", "1.2.6", "10.0.0", "next"}, SortVersions([]string{"10.0.0", "next", "1.2.6", "0.2.4", "1.2.6"}))
	assert.Nil(t, SortVersions(nil))
}

type advisorySourceFunc func(ctx context.Context, id string) (advisory.Advisory, error)

func (f advisorySourceFunc) Name() string { return "func" }
func (f advisorySourceFunc) Lookup(ctx context.Context, id string) (advisory.Advisory, error) {
	return f(ctx, id)
}
