package history

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned by Get when no record matches.
var ErrNotFound = errors.New("analysis record not found")

// Repository port (interface untuk persistence)
type Repository interface {
	Save(ctx context.Context, r *Record) error
	Get(ctx context.Context, id RecordID) (*Record, error)
	Latest(ctx context.Context, limit int) ([]*Record, error)
	Paginate(ctx context.Context, page, pageSize int, repository string) (PaginatedResult, error)
}

// Archive port (interface untuk penyimpanan report JSON)
type Archive interface {
	Put(ctx context.Context, key string, body []byte) (string, error)
}
