package analysis

import "context"

// Fetcher port (interface untuk ambil source repository ke workspace).
// Fetch must honour ctx: on expiry it returns an error wrapping
// context.DeadlineExceeded and leaves no running process behind.
type Fetcher interface {
	Fetch(ctx context.Context, ref RepoRef, dest string) error
}
