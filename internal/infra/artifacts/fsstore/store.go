// Package fsstore keeps stage artifacts as files inside the workspace.
package fsstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"

	domain "github.com/bryanwahyu/vulnrisk/internal/domain/analysis"
)

// Store is a write-once artifact store rooted at one workspace's artifact
// directory. Each Put lands atomically (temp file + rename), so a reader sees
// either nothing or the complete artifact.
type Store struct {
	dir string

	mu     sync.Mutex
	sealed bool
}

// New returns a store rooted at dir. dir must already exist.
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(name domain.ArtifactName) string {
	return filepath.Join(s.dir, name.FileName())
}

// Put persists data under name. It fails with ErrArtifactExists if the
// artifact was already written and with ErrStoreSealed after Seal.
func (s *Store) Put(ctx context.Context, name domain.ArtifactName, data []byte) error {
	if !name.Valid() {
		return errors.Newf("unknown artifact %q", name)
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "put %s", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return errors.Wrapf(domain.ErrStoreSealed, "put %s", name)
	}
	target := s.path(name)
	if _, err := os.Stat(target); err == nil {
		return errors.Wrapf(domain.ErrArtifactExists, "put %s", name)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name.FileName()+".*")
	if err != nil {
		return errors.Wrapf(err, "create temp for %s", name)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(err, "write %s", name)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "close %s", name)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "commit %s", name)
	}
	return nil
}

// Get returns the artifact bytes exactly as written.
func (s *Store) Get(ctx context.Context, name domain.ArtifactName) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(err, "get %s", name)
	}
	b, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(domain.ErrArtifactNotFound, "get %s", name)
		}
		return nil, errors.Wrapf(err, "get %s", name)
	}
	return b, nil
}

// Exists reports whether name has been committed.
func (s *Store) Exists(_ context.Context, name domain.ArtifactName) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

// Seal rejects every later Put. Used when the run moves to aggregation so
// stragglers past the deadline cannot change what gets reported.
func (s *Store) Seal() {
	s.mu.Lock()
	s.sealed = true
	s.mu.Unlock()
}

// Factory opens a Store on a workspace's artifact directory.
type Factory struct{}

func (Factory) Open(ws *domain.Workspace) (domain.ArtifactStore, error) {
	dir := ws.ArtifactDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "open artifact store")
	}
	return New(dir), nil
}
