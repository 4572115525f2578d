package analysis

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
)

// AuditReport is the subset of `npm audit --json` (report version 2) the
// pipeline relies on. The raw document is persisted as-is.
type AuditReport struct {
	AuditReportVersion int                           `json:"auditReportVersion"`
	Vulnerabilities    map[string]AuditVulnerability `json:"vulnerabilities"`
	Metadata           struct {
		Vulnerabilities map[string]int `json:"vulnerabilities"`
	} `json:"metadata"`
}

// AuditVulnerability is one entry of the audit's vulnerabilities map.
type AuditVulnerability struct {
	Name         string          `json:"name"`
	Severity     string          `json:"severity"`
	IsDirect     bool            `json:"isDirect"`
	Via          []AuditVia      `json:"via"`
	Effects      []string        `json:"effects"`
	Range        string          `json:"range"`
	Nodes        []string        `json:"nodes"`
	FixAvailable json.RawMessage `json:"fixAvailable,omitempty"`
}

// AuditVia is either a transitive package name or an advisory object.
type AuditVia struct {
	Package  string   `json:"-"`
	Source   int      `json:"source,omitempty"`
	Name     string   `json:"name,omitempty"`
	Title    string   `json:"title,omitempty"`
	URL      string   `json:"url,omitempty"`
	Severity string   `json:"severity,omitempty"`
	CWE      []string `json:"cwe,omitempty"`
	Range    string   `json:"range,omitempty"`
}

// UnmarshalJSON accepts both forms npm emits for "via".
func (v *AuditVia) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		*v = AuditVia{Package: name}
		return nil
	}
	type plain AuditVia
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*v = AuditVia(p)
	return nil
}

// MarshalJSON writes the string form back for package references.
func (v AuditVia) MarshalJSON() ([]byte, error) {
	if v.Package != "" && v.URL == "" && v.Title == "" {
		return json.Marshal(v.Package)
	}
	type plain AuditVia
	return json.Marshal(plain(v))
}

// AdvisoryURLs returns the advisory links found in via, in order.
func (a AuditVulnerability) AdvisoryURLs() []string {
	var out []string
	for _, v := range a.Via {
		if v.URL != "" {
			out = append(out, v.URL)
		}
	}
	return out
}

// IsHighSeverity reports whether severity is high or critical.
func IsHighSeverity(severity string) bool {
	switch strings.ToLower(severity) {
	case "high", "critical":
		return true
	}
	return false
}

// ResearchedFinding is one element of the research-findings artifact.
type ResearchedFinding struct {
	PackageName string     `json:"packageName"`
	Advisory    string     `json:"advisory,omitempty"`
	Severity    string     `json:"severity"`
	Via         []AuditVia `json:"via,omitempty"`
	Effects     []string   `json:"effects,omitempty"`
	Range       string     `json:"range,omitempty"`
	Nodes       []string   `json:"nodes,omitempty"`
	Research    *Research  `json:"research,omitempty"`
	// ResearchError is set when advisory lookup failed for this finding.
	ResearchError string `json:"researchError,omitempty"`
}

// Research is the advisory enrichment attached to a finding.
type Research struct {
	AdvisoryID               string                    `json:"advisoryId,omitempty"`
	Source                   string                    `json:"source,omitempty"`
	Description              string                    `json:"description"`
	AttackVectors            string                    `json:"attackVectors"`
	Impact                   string                    `json:"impact"`
	CVSSScore                float64                   `json:"cvssScore,omitempty"`
	CWEs                     []string                  `json:"cwes,omitempty"`
	References               []string                  `json:"references,omitempty"`
	PatchedVersions          []string                  `json:"patchedVersions,omitempty"`
	ExploitabilityAssessment ExploitabilityPlaceholder `json:"exploitabilityAssessment"`
}

// ExploitabilityPlaceholder is filled in later by the synthesis stage.
type ExploitabilityPlaceholder struct {
	IsExploitable   *bool    `json:"isExploitable"`
	Reasoning       string   `json:"reasoning"`
	MitigationSteps []string `json:"mitigationSteps"`
	RequiresAction  bool     `json:"requiresAction"`
}

// Vulnerability is one entry of the final report.
type Vulnerability struct {
	PackageName   string     `json:"packageName"`
	Severity      string     `json:"severity,omitempty"`
	Advisory      string     `json:"advisory,omitempty"`
	Vulnerability Assessment `json:"vulnerability"`
	// Assessed is false when the entry was derived from research findings
	// because no final report was available.
	Assessed bool `json:"assessed"`
}

// Assessment is the contextual exploitability verdict for one vulnerability.
type Assessment struct {
	Summary                 string   `json:"summary"`
	IsExploitable           *bool    `json:"isExploitable"`
	ExploitabilityReasoning string   `json:"exploitabilityReasoning"`
	RequiredConditions      []string `json:"requiredConditions"`
	ContextualRiskLevel     string   `json:"contextualRiskLevel"`
	RecommendedMitigations  []string `json:"recommendedMitigations"`
}

// ParseFinalReport decodes the final-report artifact. It accepts a bare array
// or an object wrapping the array under "assessments" or "vulnerabilities".
func ParseFinalReport(b []byte) ([]Vulnerability, error) {
	b = []byte(StripCodeFence(string(b)))
	var list []Vulnerability
	if err := json.Unmarshal(b, &list); err != nil {
		var wrapped struct {
			Assessments     []Vulnerability `json:"assessments"`
			Vulnerabilities []Vulnerability `json:"vulnerabilities"`
		}
		if werr := json.Unmarshal(b, &wrapped); werr != nil {
			return nil, err
		}
		switch {
		case wrapped.Assessments != nil:
			list = wrapped.Assessments
		case wrapped.Vulnerabilities != nil:
			list = wrapped.Vulnerabilities
		default:
			return nil, errors.New("report object has no assessments array")
		}
	}
	for i := range list {
		list[i].Assessed = true
	}
	return list, nil
}

// StripCodeFence removes a surrounding ``` or ```json fence from model output.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
