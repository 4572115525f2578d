// Package gitcli fetches repositories with the git binary.
package gitcli

import (
	"context"

	"github.com/cockroachdb/errors"

	domain "github.com/bryanwahyu/vulnrisk/internal/domain/analysis"
	"github.com/bryanwahyu/vulnrisk/internal/infra/executor"
)

// Fetcher does a shallow, non-interactive clone.
type Fetcher struct {
	Exec executor.Commander
}

func New() *Fetcher {
	// never block on a credential prompt
	return &Fetcher{Exec: executor.NewRunner("GIT_TERMINAL_PROMPT=0", "GIT_ASKPASS=true")}
}

func (f *Fetcher) Fetch(ctx context.Context, ref domain.RepoRef, dest string) error {
	res, err := f.Exec.Run(ctx, "", "git", "clone", "--depth", "1", "--single-branch", "--quiet", "--", ref.CloneURL(), dest)
	if err != nil {
		return errors.Wrap(err, "git clone")
	}
	if res.ExitCode != 0 {
		return errors.Newf("git clone exited with code %d: %s", res.ExitCode, executor.Tail(res.Stderr, 512))
	}
	return nil
}
