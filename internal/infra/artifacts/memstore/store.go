// Package memstore is an in-memory artifact store with the same contract as
// the filesystem store.
package memstore

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	domain "github.com/bryanwahyu/vulnrisk/internal/domain/analysis"
)

type Store struct {
	mu     sync.RWMutex
	data   map[domain.ArtifactName][]byte
	sealed bool
}

func New() *Store {
	return &Store{data: make(map[domain.ArtifactName][]byte)}
}

func (s *Store) Put(ctx context.Context, name domain.ArtifactName, data []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "put %s", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return errors.Wrapf(domain.ErrStoreSealed, "put %s", name)
	}
	if _, ok := s.data[name]; ok {
		return errors.Wrapf(domain.ErrArtifactExists, "put %s", name)
	}
	s.data[name] = append([]byte(nil), data...)
	return nil
}

func (s *Store) Get(_ context.Context, name domain.ArtifactName) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[name]
	if !ok {
		return nil, errors.Wrapf(domain.ErrArtifactNotFound, "get %s", name)
	}
	return append([]byte(nil), b...), nil
}

func (s *Store) Exists(_ context.Context, name domain.ArtifactName) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[name]
	return ok
}

func (s *Store) Seal() {
	s.mu.Lock()
	s.sealed = true
	s.mu.Unlock()
}

// Factory hands out one fresh store per workspace.
type Factory struct{}

func (Factory) Open(*domain.Workspace) (domain.ArtifactStore, error) {
	return New(), nil
}
