package analysis

import "context"

// ArtifactName is the fixed logical name a stage persists its output under.
type ArtifactName string

const (
	ArtifactAuditFindings    ArtifactName = "audit-findings"
	ArtifactThreatModel      ArtifactName = "threat-model"
	ArtifactResearchFindings ArtifactName = "research-findings"
	ArtifactFinalReport      ArtifactName = "final-report"
)

// FileName returns the on-disk file name for a logical artifact.
func (n ArtifactName) FileName() string {
	switch n {
	case ArtifactAuditFindings:
		return "npm-audit-results.json"
	case ArtifactThreatModel:
		return "threat-model.md"
	case ArtifactResearchFindings:
		return "vuln-research-results.json"
	case ArtifactFinalReport:
		return "security-assessment-report.json"
	default:
		return string(n)
	}
}

// Valid reports whether n is one of the known artifact names.
func (n ArtifactName) Valid() bool {
	switch n {
	case ArtifactAuditFindings, ArtifactThreatModel, ArtifactResearchFindings, ArtifactFinalReport:
		return true
	}
	return false
}

// ArtifactReader is the read side of the artifact store. The aggregator only
// ever gets this half.
type ArtifactReader interface {
	Get(ctx context.Context, name ArtifactName) ([]byte, error)
	Exists(ctx context.Context, name ArtifactName) bool
}

// ArtifactStore port (handoff between stages, scoped to one workspace).
// Put is write-once: a second Put for the same name returns ErrArtifactExists.
// After Seal every Put returns ErrStoreSealed.
type ArtifactStore interface {
	ArtifactReader
	Put(ctx context.Context, name ArtifactName, data []byte) error
	Seal()
}

// ArtifactStoreFactory opens the store backing a workspace.
type ArtifactStoreFactory interface {
	Open(ws *Workspace) (ArtifactStore, error)
}
