package analysis

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/bryanwahyu/vulnrisk/internal/domain/history"
)

// ErrHistoryDisabled is returned by the query methods when no history
// repository is configured.
var ErrHistoryDisabled = errors.New("analysis history is not configured")

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Latest returns the most recent analysis records.
func (s *Service) Latest(ctx context.Context, limit int) ([]*history.Record, error) {
	if s.History == nil {
		return nil, ErrHistoryDisabled
	}
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	return s.History.Latest(ctx, limit)
}

// Get returns one analysis record.
func (s *Service) Get(ctx context.Context, id string) (*history.Record, error) {
	if s.History == nil {
		return nil, ErrHistoryDisabled
	}
	return s.History.Get(ctx, history.RecordID(id))
}

// List pages through analysis records, optionally filtered by repository URL.
func (s *Service) List(ctx context.Context, page, pageSize int, repository string) (history.PaginatedResult, error) {
	if s.History == nil {
		return history.PaginatedResult{}, ErrHistoryDisabled
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return s.History.Paginate(ctx, page, pageSize, repository)
}
