package advisory

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned when a database has no record for the advisory.
var ErrNotFound = errors.New("advisory not found")

// Source port: one advisory database.
type Source interface {
	Name() string
	Lookup(ctx context.Context, id string) (Advisory, error)
}
