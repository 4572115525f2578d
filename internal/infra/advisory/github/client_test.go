package github

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/vulnrisk/internal/domain/advisory"
)

const lodashAdvisory = `{
  "ghsa_id": "GHSA-p6mc-m468-83gw",
  "cve_id": "CVE-2020-8203",
  "summary": "Prototype Pollution in lodash",
  "description": "Prototype pollution attack when using _.zipObjectDeep.",
  "severity": "high",
  "cvss": {"vector_string": "CVSS:3.1/AV:N/AC:H/PR:N/UI:N/S:U/C:N/I:H/A:H", "score": 7.4},
  "cwes": [{"cwe_id": "CWE-770", "name": "Allocation of Resources"}, {"cwe_id": "CWE-1321", "name": "Prototype Pollution"}],
  "references": ["https://nvd.nist.gov/vuln/detail/CVE-2020-8203"],
  "vulnerabilities": [{"package": {"ecosystem": "npm", "name": "lodash"}, "vulnerable_version_range": "< 4.17.19", "first_patched_version": "4.17.19"}]
}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New("ghp_test", 1000)
	c.BaseURL = srv.URL
	return c
}

func TestLookup(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/advisories/GHSA-p6mc-m468-83gw", r.URL.Path)
		assert.Equal(t, "Bearer ghp_test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(lodashAdvisory))
	})

	a, err := c.Lookup(context.Background(), "GHSA-p6mc-m468-83gw")

	require.NoError(t, err)
	assert.Equal(t, "GHSA-p6mc-m468-83gw", a.ID)
	assert.Equal(t, SourceName, a.Source)
	assert.Equal(t, "high", a.Severity)
	assert.InDelta(t, 7.4, a.CVSSScore, 0.001)
	assert.Equal(t, []string{"CWE-770", "CWE-1321"}, a.CWEs)
	assert.Equal(t, []string{"4.17.19"}, a.PatchedVersions)
	assert.Contains(t, a.Description, "zipObjectDeep")
}

func TestLookup_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		headers map[string]string
		want    error
	}{
		{"not found", http.StatusNotFound, nil, advisory.ErrNotFound},
		{"too many requests", http.StatusTooManyRequests, nil, ErrRateLimited},
		{"forbidden exhausted", http.StatusForbidden, map[string]string{"X-RateLimit-Remaining": "0"}, ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
			})

			_, err := c.Lookup(context.Background(), "GHSA-xxxx-xxxx-xxxx")

			assert.Truef(t, errors.Is(err, tt.want), "%v", err)
		})
	}
}

func TestLookup_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream broke", http.StatusBadGateway)
	})

	_, err := c.Lookup(context.Background(), "GHSA-xxxx-xxxx-xxxx")

	require.Error(t, err)
	assert.Falsef(t, errors.Is(err, advisory.ErrNotFound), "%v", err)
	assert.Contains(t, err.Error(), "502")
}

func TestLookup_NoTokenNoAuthHeader(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(lodashAdvisory))
	})
	c.Token = ""

	_, err := c.Lookup(context.Background(), "GHSA-p6mc-m468-83gw")
	require.NoError(t, err)
}
