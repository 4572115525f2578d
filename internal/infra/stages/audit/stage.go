// Package audit runs `npm audit --json` against the fetched project and
// persists the raw document as the audit-findings artifact.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	domain "github.com/bryanwahyu/vulnrisk/internal/domain/analysis"
	"github.com/bryanwahyu/vulnrisk/internal/infra/executor"
	"github.com/bryanwahyu/vulnrisk/internal/infra/logging"
)

const Tool = "npm-audit"

// lockfiles npm audit can work from without resolving the tree first.
var lockfiles = []string{"package-lock.json", "npm-shrinkwrap.json"}

// resolveInputs are copied next to the manifest before lockfile resolution.
var resolveInputs = []string{"package.json", ".npmrc"}

type Stage struct {
	Exec executor.Commander
	Log  *zap.SugaredLogger
	// NPM is the npm binary, default "npm".
	NPM string
}

func New(exec executor.Commander, log *zap.SugaredLogger) *Stage {
	if log == nil {
		log = logging.Nop()
	}
	return &Stage{Exec: exec, Log: log, NPM: "npm"}
}

func (s *Stage) Name() domain.StageName       { return domain.StageAudit }
func (s *Stage) Produces() domain.ArtifactName { return domain.ArtifactAuditFindings }
func (s *Stage) Tool() string                  { return Tool }

func (s *Stage) Run(ctx context.Context, in domain.StageInput) error {
	dir := in.Workspace.SourceDir()

	if !hasLockfile(dir) {
		// SourceDir stays read-only; resolve in a private copy of the manifest
		scratch, err := prepareScratch(dir, in.Workspace.ScratchDir(domain.StageAudit))
		if err != nil {
			return domain.ExternalTool(err, "prepare lockfile resolution")
		}
		dir = scratch
		// resolve the dependency tree without running install scripts
		res, err := s.Exec.Run(ctx, dir, s.npm(), "install", "--package-lock-only", "--ignore-scripts", "--no-audit", "--no-fund")
		if err != nil {
			return domain.ExternalTool(err, "npm install")
		}
		if res.ExitCode != 0 {
			return domain.ExternalTool(errors.Newf("exit code %d: %s", res.ExitCode, executor.Tail(res.Stderr, 512)), "npm install")
		}
	}

	// npm audit exits non-zero when it finds vulnerabilities; the JSON
	// document decides success.
	res, err := s.Exec.Run(ctx, dir, s.npm(), "audit", "--json")
	if err != nil {
		return domain.ExternalTool(err, "npm audit")
	}
	out := bytes.TrimSpace(res.Stdout)
	if len(out) == 0 {
		return domain.ExternalTool(errors.Newf("exit code %d, no output: %s", res.ExitCode, executor.Tail(res.Stderr, 512)), "npm audit")
	}

	var doc struct {
		domain.AuditReport
		Error *struct {
			Code    string `json:"code"`
			Summary string `json:"summary"`
		} `json:"error"`
	}
	if err := json.Unmarshal(out, &doc); err != nil {
		return domain.Unparsable(err, "decode npm audit output")
	}
	if doc.Error != nil {
		return domain.ExternalTool(errors.Newf("%s: %s", doc.Error.Code, doc.Error.Summary), "npm audit")
	}
	if doc.Vulnerabilities == nil {
		return domain.Unparsable(errors.New("missing vulnerabilities object"), "decode npm audit output")
	}

	s.Log.Infow("npm audit finished",
		logging.FieldRunID, in.Workspace.RunID,
		logging.FieldCount, len(doc.Vulnerabilities),
		"exit_code", res.ExitCode,
	)
	return in.Artifacts.Put(ctx, domain.ArtifactAuditFindings, out)
}

func (s *Stage) npm() string {
	if s.NPM == "" {
		return "npm"
	}
	return s.NPM
}

func prepareScratch(src, dst string) (string, error) {
	if err := os.MkdirAll(dst, 0o700); err != nil {
		return "", errors.Wrap(err, "create scratch dir")
	}
	for _, name := range resolveInputs {
		b, err := os.ReadFile(filepath.Join(src, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", errors.Wrapf(err, "read %s", name)
		}
		if err := os.WriteFile(filepath.Join(dst, name), b, 0o600); err != nil {
			return "", errors.Wrapf(err, "copy %s", name)
		}
	}
	return dst, nil
}

func hasLockfile(dir string) bool {
	for _, name := range lockfiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}
