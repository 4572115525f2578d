// Package github looks advisories up in the GitHub global advisory database.
package github

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"github.com/bryanwahyu/vulnrisk/internal/domain/advisory"
)

const (
	DefaultBaseURL = "https://api.github.com"
	SourceName     = "github-advisories"
	apiVersion     = "2022-11-28"
)

// ErrRateLimited is returned on 403/429 responses from the API.
var ErrRateLimited = errors.New("github api rate limited")

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	Limiter *rate.Limiter
}

// New returns a client limited to rps requests per second.
func New(token string, rps float64) *Client {
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		BaseURL: DefaultBaseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
		Limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (c *Client) Name() string { return SourceName }

type ghAdvisory struct {
	GHSAID      string `json:"ghsa_id"`
	CVEID       string `json:"cve_id"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	CVSS        *struct {
		Score float64 `json:"score"`
	} `json:"cvss"`
	CWEs []struct {
		CWEID string `json:"cwe_id"`
	} `json:"cwes"`
	References      []string `json:"references"`
	Vulnerabilities []struct {
		Package struct {
			Ecosystem string `json:"ecosystem"`
			Name      string `json:"name"`
		} `json:"package"`
		VulnerableVersionRange string `json:"vulnerable_version_range"`
		FirstPatchedVersion    string `json:"first_patched_version"`
	} `json:"vulnerabilities"`
}

// Lookup fetches a GHSA advisory by id.
func (c *Client) Lookup(ctx context.Context, id string) (advisory.Advisory, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return advisory.Advisory{}, errors.Wrap(err, "wait for github rate limiter")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/advisories/"+url.PathEscape(id), nil)
	if err != nil {
		return advisory.Advisory{}, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return advisory.Advisory{}, errors.Wrapf(err, "get advisory %s", id)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return advisory.Advisory{}, errors.Wrapf(advisory.ErrNotFound, "github %s", id)
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return advisory.Advisory{}, errors.Wrapf(ErrRateLimited, "github %s", id)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return advisory.Advisory{}, errors.Newf("github advisory %s: status %d: %s", id, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var gh ghAdvisory
	if err := json.NewDecoder(resp.Body).Decode(&gh); err != nil {
		return advisory.Advisory{}, errors.Wrapf(err, "decode advisory %s", id)
	}
	return gh.normalize(), nil
}

func (g ghAdvisory) normalize() advisory.Advisory {
	a := advisory.Advisory{
		ID:          g.GHSAID,
		Source:      SourceName,
		Summary:     g.Summary,
		Description: g.Description,
		Details:     g.Description,
		Severity:    strings.ToLower(g.Severity),
		References:  g.References,
	}
	if g.CVSS != nil {
		a.CVSSScore = g.CVSS.Score
	}
	for _, c := range g.CWEs {
		a.CWEs = append(a.CWEs, c.CWEID)
	}
	for _, v := range g.Vulnerabilities {
		if v.FirstPatchedVersion != "" {
			a.PatchedVersions = append(a.PatchedVersions, v.FirstPatchedVersion)
		}
	}
	return a
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}
