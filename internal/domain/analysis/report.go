package analysis

import (
	"strings"
	"time"
)

// Request is a validated, immutable analysis request.
type Request struct {
	Ref     RepoRef        `json:"repository"`
	Options map[string]any `json:"options,omitempty"`
}

// SeverityCounts value object
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Total    int `json:"total"`
}

// Add counts one finding of the given severity. npm's "moderate" maps to
// medium and "info" to low.
func (c *SeverityCounts) Add(severity string) {
	switch strings.ToLower(severity) {
	case "critical":
		c.Critical++
	case "high":
		c.High++
	case "medium", "moderate":
		c.Medium++
	case "low", "info", "informational":
		c.Low++
	}
	c.Total++
}

// Warning records a non-fatal degradation.
type Warning struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// Metadata describes how a report was produced.
type Metadata struct {
	AnalysisVersion string   `json:"analysisVersion"`
	ToolsUsed       []string `json:"toolsUsed"`
}

// RunState is the terminal state of the pipeline controller.
type RunState string

const (
	RunSucceeded RunState = "success"
	RunPartial   RunState = "partial"
	RunFailed    RunState = "failed"
)

// Report is the aggregated, client-facing result of one analysis.
type Report struct {
	Success            bool            `json:"success"`
	AnalysisID         string          `json:"analysisId"`
	RunID              string          `json:"runId"`
	Repository         string          `json:"repository"`
	State              RunState        `json:"state"`
	AnalysisTime       string          `json:"analysisTime"`
	DurationMS         int64           `json:"durationMs"`
	Timestamp          time.Time       `json:"timestamp"`
	Vulnerabilities    []Vulnerability `json:"vulnerabilities"`
	VulnerabilityCount int             `json:"vulnerabilityCount"`
	SeverityCounts     SeverityCounts  `json:"severityCounts"`
	ThreatModel        string          `json:"threatModel"`
	Stages             []StageResult   `json:"stages"`
	Warnings           []Warning       `json:"warnings"`
	DeadlineExceeded   bool            `json:"deadlineExceeded"`
	Metadata           Metadata        `json:"metadata"`
	ArchiveURL         string          `json:"archiveUrl,omitempty"`
}
