// Package gogit fetches repositories in-process with go-git, for hosts where
// the git binary is not installed.
package gogit

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	domain "github.com/bryanwahyu/vulnrisk/internal/domain/analysis"
	"github.com/bryanwahyu/vulnrisk/internal/infra/logging"
)

type Fetcher struct {
	// Tokens maps a host to the credential sent when cloning from it. Hosts
	// without an entry are cloned anonymously.
	Tokens map[string]string
	Log    *zap.SugaredLogger
}

func New(tokens map[string]string, log *zap.SugaredLogger) *Fetcher {
	if log == nil {
		log = logging.Nop()
	}
	return &Fetcher{Tokens: tokens, Log: log}
}

func (f *Fetcher) Fetch(ctx context.Context, ref domain.RepoRef, dest string) error {
	opts := &git.CloneOptions{
		URL:          ref.CloneURL(),
		Depth:        1,
		SingleBranch: true,
		Tags:         git.NoTags,
	}
	if auth := f.auth(ref); auth != nil {
		opts.Auth = auth
	}

	f.Log.Debugw("performing shallow clone", logging.FieldRepository, ref.FullName(), logging.FieldPath, dest)
	if _, err := git.PlainCloneContext(ctx, dest, false, opts); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Wrap(ctxErr, "clone interrupted")
		}
		return errors.Wrapf(err, "clone %s", ref.CloneURL())
	}
	return nil
}

func (f *Fetcher) auth(ref domain.RepoRef) *http.BasicAuth {
	token := f.Tokens[strings.ToLower(ref.Host)]
	if token == "" {
		return nil
	}
	return &http.BasicAuth{Username: "x-access-token", Password: token}
}
