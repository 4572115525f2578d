package application

import (
	"strconv"
	"time"
)

// Clock interface supaya gampang ditest
type Clock interface {
	Now() time.Time
}

// SystemClock implementasi default, pakai time.Now()
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Since is time.Since against an injected clock.
func Since(c Clock, t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// FormatMillis renders d the way reports show it, e.g. "1532ms".
func FormatMillis(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
}
