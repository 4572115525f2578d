package workspace

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryanwahyu/vulnrisk/internal/application"
	domain "github.com/bryanwahyu/vulnrisk/internal/domain/analysis"
	"github.com/bryanwahyu/vulnrisk/internal/infra/logging"
)

// DefaultManifest is the file a fetched tree must contain to be analyzable.
const DefaultManifest = "package.json"

// Manager provisions and tears down per-run workspaces under Root.
// Manager is safe for concurrent use; runs never share a directory.
type Manager struct {
	Root     string
	Fetcher  domain.Fetcher
	Parser   *domain.RefParser
	Manifest string
	Clock    application.Clock
	Log      *zap.SugaredLogger

	// RemoveAll defaults to os.RemoveAll.
	RemoveAll func(path string) error
	// NewID defaults to a short random suffix.
	NewID func() string
}

// Provision validates raw, creates a namespaced directory and fetches the
// repository into it within fetchTimeout. Validation happens before any
// filesystem or network action. On any failure after the directory exists it
// is removed before returning, so callers only tear down what they receive.
func (m *Manager) Provision(ctx context.Context, raw string, fetchTimeout time.Duration) (*domain.Workspace, error) {
	ref, err := m.Parser.Parse(raw)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(m.Root, 0o755); err != nil {
		return nil, errors.Wrap(err, "create workspace root")
	}

	runID := runIDFor(ref, m.newID())
	ws := &domain.Workspace{
		RunID:     runID,
		Ref:       ref,
		RootPath:  filepath.Join(m.Root, runID),
		CreatedAt: m.Clock.Now(),
	}
	if err := os.Mkdir(ws.RootPath, 0o700); err != nil {
		return nil, errors.Wrap(err, "create workspace")
	}

	ok := false
	defer func() {
		if !ok {
			m.Teardown(ws)
		}
	}()

	if err := os.Mkdir(ws.ArtifactDir(), 0o700); err != nil {
		return nil, errors.Wrap(err, "create artifact directory")
	}

	log := m.log().With(logging.FieldRunID, runID, logging.FieldRepository, ref.URL)
	log.Infow("fetching repository", "timeout_ms", fetchTimeout.Milliseconds())

	start := m.Clock.Now()
	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	if err := m.Fetcher.Fetch(fctx, ref, ws.SourceDir()); err != nil {
		if errors.Is(fctx.Err(), context.DeadlineExceeded) {
			log.Warnw("repository fetch timed out", logging.FieldError, err)
			return nil, errors.Mark(errors.Wrapf(err, "fetch %s after %s", ref.FullName(), fetchTimeout), domain.ErrFetchTimeout)
		}
		log.Warnw("repository fetch failed", logging.FieldError, err)
		return nil, errors.Mark(errors.Wrapf(err, "fetch %s", ref.FullName()), domain.ErrFetch)
	}
	log.Infow("repository fetched", logging.FieldDurationMS, application.Since(m.Clock, start).Milliseconds())

	manifest := m.Manifest
	if manifest == "" {
		manifest = DefaultManifest
	}
	if _, err := os.Stat(filepath.Join(ws.SourceDir(), manifest)); err != nil {
		return nil, errors.WithHintf(
			errors.Wrapf(domain.ErrNotARecognizedProject, "no %s found", manifest),
			"only Node.js projects with a %s at the repository root can be analyzed", manifest)
	}

	ok = true
	return ws, nil
}

// Teardown removes the workspace directory. It never fails the caller:
// errors are logged and swallowed.
func (m *Manager) Teardown(ws *domain.Workspace) {
	if ws == nil || ws.RootPath == "" {
		return
	}
	log := m.log().With(logging.FieldRunID, ws.RunID)
	if !m.owns(ws.RootPath) {
		log.Errorw("refusing to remove path outside workspace root", logging.FieldPath, ws.RootPath)
		return
	}
	remove := m.RemoveAll
	if remove == nil {
		remove = os.RemoveAll
	}
	if err := remove(ws.RootPath); err != nil {
		log.Errorw("cleanup failed", logging.FieldPath, ws.RootPath, logging.FieldError, err)
		return
	}
	log.Infow("cleaned up analysis workspace", logging.FieldPath, ws.RootPath)
}

// Sweep removes leftover workspaces older than maxAge, e.g. from a crashed
// process. It returns how many directories were removed.
func (m *Manager) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "read workspace root")
	}
	cutoff := m.Clock.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		m.Teardown(&domain.Workspace{RunID: e.Name(), RootPath: filepath.Join(m.Root, e.Name())})
		removed++
	}
	return removed, nil
}

func (m *Manager) owns(path string) bool {
	root, err := filepath.Abs(m.Root)
	if err != nil {
		return false
	}
	p, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..") && !strings.ContainsRune(rel, filepath.Separator)
}

func (m *Manager) newID() string {
	if m.NewID != nil {
		return m.NewID()
	}
	return uuid.NewString()[:8]
}

func (m *Manager) log() *zap.SugaredLogger {
	if m.Log == nil {
		return logging.Nop()
	}
	return m.Log
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// runIDFor derives the run id from the repository name plus a unique suffix so
// concurrent runs of the same repository never collide.
func runIDFor(ref domain.RepoRef, suffix string) string {
	name := strings.Trim(unsafeChars.ReplaceAllString(ref.Name, "-"), "-")
	if name == "" {
		name = "repo"
	}
	if len(name) > 48 {
		name = name[:48]
	}
	return name + "-" + suffix
}
