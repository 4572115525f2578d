package gitcli

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/vulnrisk/internal/domain/analysis"
	"github.com/bryanwahyu/vulnrisk/internal/infra/executor"
)

type recordingExec struct {
	name string
	args []string
	res  executor.Result
	err  error
}

func (r *recordingExec) Run(_ context.Context, _ string, name string, args ...string) (executor.Result, error) {
	r.name, r.args = name, args
	return r.res, r.err
}

var ref = domain.RepoRef{Host: "github.com", Owner: "expressjs", Name: "express", URL: "https://github.com/expressjs/express"}

func TestFetch_ShallowClonesIntoDest(t *testing.T) {
	rec := &recordingExec{}
	f := &Fetcher{Exec: rec}

	require.NoError(t, f.Fetch(context.Background(), ref, "/work/src"))

	assert.Equal(t, "git", rec.name)
	assert.Equal(t, []string{"clone", "--depth", "1", "--single-branch", "--quiet", "--",
		"https://github.com/expressjs/express.git", "/work/src"}, rec.args)
}

func TestFetch_NonZeroExitIsError(t *testing.T) {
	rec := &recordingExec{res: executor.Result{ExitCode: 128, Stderr: []byte("fatal: repository not found\n")}}
	f := &Fetcher{Exec: rec}

	err := f.Fetch(context.Background(), ref, "/work/src")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "repository not found")
}

func TestFetch_PropagatesDeadline(t *testing.T) {
	rec := &recordingExec{err: context.DeadlineExceeded}
	f := &Fetcher{Exec: rec}

	err := f.Fetch(context.Background(), ref, "/work/src")

	assert.Truef(t, errors.Is(err, context.DeadlineExceeded), "%v", err)
}
