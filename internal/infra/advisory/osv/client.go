// Package osv looks advisories up in the OSV.dev database, which mirrors GHSA
// identifiers and needs no credentials.
package osv

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"github.com/bryanwahyu/vulnrisk/internal/domain/advisory"
)

const (
	DefaultBaseURL = "https://api.osv.dev/v1"
	SourceName     = "osv"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
	Limiter *rate.Limiter
}

func New(rps float64) *Client {
	if rps <= 0 {
		rps = 10
	}
	return &Client{
		BaseURL: DefaultBaseURL,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
		Limiter: rate.NewLimiter(rate.Limit(rps), 2),
	}
}

func (c *Client) Name() string { return SourceName }

type vuln struct {
	ID       string   `json:"id"`
	Summary  string   `json:"summary"`
	Details  string   `json:"details"`
	Aliases  []string `json:"aliases"`
	Severity []struct {
		Type  string `json:"type"`
		Score string `json:"score"`
	} `json:"severity"`
	Affected []struct {
		Ranges []struct {
			Events []struct {
				Fixed string `json:"fixed"`
			} `json:"events"`
		} `json:"ranges"`
	} `json:"affected"`
	References []struct {
		URL string `json:"url"`
	} `json:"references"`
	DatabaseSpecific struct {
		Severity string   `json:"severity"`
		CWEIDs   []string `json:"cwe_ids"`
	} `json:"database_specific"`
}

func (c *Client) Lookup(ctx context.Context, id string) (advisory.Advisory, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return advisory.Advisory{}, errors.Wrap(err, "wait for osv rate limiter")
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/vulns/"+url.PathEscape(id), nil)
	if err != nil {
		return advisory.Advisory{}, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return advisory.Advisory{}, errors.Wrapf(err, "get vuln %s", id)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return advisory.Advisory{}, errors.Wrapf(advisory.ErrNotFound, "osv %s", id)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return advisory.Advisory{}, errors.Newf("osv vuln %s: status %d: %s", id, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var v vuln
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return advisory.Advisory{}, errors.Wrapf(err, "decode vuln %s", id)
	}
	return v.normalize(), nil
}

func (v vuln) normalize() advisory.Advisory {
	a := advisory.Advisory{
		ID:          v.ID,
		Source:      SourceName,
		Summary:     v.Summary,
		Description: v.Details,
		Details:     v.Details,
		Severity:    normalizeSeverity(v.DatabaseSpecific.Severity),
		CWEs:        v.DatabaseSpecific.CWEIDs,
	}
	if a.Description == "" {
		a.Description = v.Summary
	}
	for _, s := range v.Severity {
		// OSV carries vectors; a bare number appears for some databases
		if f, err := strconv.ParseFloat(s.Score, 64); err == nil {
			a.CVSSScore = f
		}
	}
	for _, r := range v.References {
		a.References = append(a.References, r.URL)
	}
	for _, aff := range v.Affected {
		for _, r := range aff.Ranges {
			for _, e := range r.Events {
				if e.Fixed != "" {
					a.PatchedVersions = append(a.PatchedVersions, e.Fixed)
				}
			}
		}
	}
	return a
}

// normalizeSeverity maps GHSA-style labels ("MODERATE") onto the lowercase
// scale used elsewhere.
func normalizeSeverity(s string) string {
	s = strings.ToLower(s)
	if s == "moderate" {
		return "medium"
	}
	return s
}
