// Package advisory combines advisory databases into one lookup with fallback.
package advisory

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	domain "github.com/bryanwahyu/vulnrisk/internal/domain/advisory"
	"github.com/bryanwahyu/vulnrisk/internal/infra/logging"
)

// Chain asks each source in order and returns the first answer.
type Chain struct {
	Sources []domain.Source
	Log     *zap.SugaredLogger
}

func NewChain(log *zap.SugaredLogger, sources ...domain.Source) *Chain {
	if log == nil {
		log = logging.Nop()
	}
	return &Chain{Sources: sources, Log: log}
}

func (c *Chain) Name() string { return "chain" }

// Lookup returns ErrNotFound only when every source reported not found;
// otherwise the last non-notfound error is returned.
func (c *Chain) Lookup(ctx context.Context, id string) (domain.Advisory, error) {
	if len(c.Sources) == 0 {
		return domain.Advisory{}, errors.Wrap(domain.ErrNotFound, "no advisory sources configured")
	}
	var lastErr error
	for _, src := range c.Sources {
		a, err := src.Lookup(ctx, id)
		if err == nil {
			return a, nil
		}
		if ctx.Err() != nil {
			return domain.Advisory{}, errors.Wrapf(ctx.Err(), "lookup %s", id)
		}
		c.Log.Debugw("advisory source failed, trying next", "source", src.Name(), "advisory", id, logging.FieldError, err)
		if lastErr == nil || !errors.Is(err, domain.ErrNotFound) {
			lastErr = err
		}
	}
	return domain.Advisory{}, lastErr
}
