package advisory

import (
	"regexp"
	"strings"
)

// Advisory is the normalized view of one security advisory, regardless of
// which database answered.
type Advisory struct {
	ID          string   `json:"id"`
	Source      string   `json:"source"`
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	Details     string   `json:"details"`
	Severity    string   `json:"severity"`
	CVSSScore   float64  `json:"cvss_score,omitempty"`
	CWEs        []string `json:"cwes,omitempty"`
	References  []string `json:"references,omitempty"`

	// PatchedVersions lists the first fixed version per affected range.
	PatchedVersions []string `json:"patched_versions,omitempty"`
}

var ghsaPattern = regexp.MustCompile(`GHSA(-[23456789cfghjmpqrvwx]{4}){3}`)

// GHSAFromURL extracts the GHSA identifier from an advisory link such as
// https://github.com/advisories/GHSA-xxxx-xxxx-xxxx. Returns "" when absent.
func GHSAFromURL(u string) string {
	return ghsaPattern.FindString(strings.TrimSpace(u))
}
