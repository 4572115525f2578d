package analysis

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Pre-stage errors. These abort a request before any stage runs.
var (
	ErrMissingReference      = errors.New("repository reference is required")
	ErrInvalidReference      = errors.New("invalid repository reference")
	ErrFetch                 = errors.New("repository fetch failed")
	ErrFetchTimeout          = errors.New("repository fetch timed out")
	ErrNotARecognizedProject = errors.New("not a recognized project")
)

// Stage failures. Adapters mark their errors with one of these via errors.Mark
// so the controller can classify them without string matching. Marks are only
// visible to github.com/cockroachdb/errors.Is, not the standard library's.
var (
	ErrExternalTool     = errors.New("external tool failure")
	ErrUnparsableOutput = errors.New("unparsable output")
	ErrUpstreamService  = errors.New("upstream service failure")
)

// Artifact store errors.
var (
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrArtifactExists   = errors.New("artifact already written")
	ErrStoreSealed      = errors.New("artifact store sealed")
)

// ErrorKind classifies a failed stage invocation.
type ErrorKind string

const (
	KindExternalTool     ErrorKind = "ExternalToolFailure"
	KindUnparsableOutput ErrorKind = "UnparsableOutput"
	KindUpstreamService  ErrorKind = "UpstreamServiceFailure"
	KindUnhandled        ErrorKind = "UnhandledError"
)

// KindOf maps a stage error onto the stage failure taxonomy.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrExternalTool):
		return KindExternalTool
	case errors.Is(err, ErrUnparsableOutput):
		return KindUnparsableOutput
	case errors.Is(err, ErrUpstreamService):
		return KindUpstreamService
	default:
		return KindUnhandled
	}
}

// ExternalTool marks err as an external process failure.
func ExternalTool(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrExternalTool)
}

// Unparsable marks err as an output parsing failure.
func Unparsable(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrUnparsableOutput)
}

// Upstream marks err as a hosted service failure.
func Upstream(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrUpstreamService)
}

// IsDeadline reports whether err was caused by context expiry.
func IsDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
