package history

import (
	"time"

	"github.com/bryanwahyu/vulnrisk/internal/domain/analysis"
)

// RecordID tipe untuk Record
type RecordID string

// Record is the persisted summary of one completed analysis.
type Record struct {
	ID         RecordID                `json:"id"`
	RunID      string                  `json:"run_id"`
	Repository string                  `json:"repository"`
	Success    bool                    `json:"success"`
	State      analysis.RunState       `json:"state"`
	Counts     analysis.SeverityCounts `json:"counts"`
	DurationMS int64                   `json:"duration_ms"`
	ArchiveURL string                  `json:"archive_url,omitempty"`
	Stages     []analysis.StageResult  `json:"stages"`
	Warnings   []analysis.Warning      `json:"warnings"`
	Options    map[string]any          `json:"options,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
}

// FromReport builds the record for a finished report.
func FromReport(r *analysis.Report, options map[string]any) *Record {
	return &Record{
		ID:         RecordID(r.AnalysisID),
		RunID:      r.RunID,
		Repository: r.Repository,
		Success:    r.Success,
		State:      r.State,
		Counts:     r.SeverityCounts,
		DurationMS: r.DurationMS,
		ArchiveURL: r.ArchiveURL,
		Stages:     r.Stages,
		Warnings:   r.Warnings,
		Options:    options,
		CreatedAt:  r.Timestamp,
	}
}
