package ai

import "github.com/cockroachdb/errors"

// ErrQuotaExceeded indicates the AI provider returned a quota/limit error (HTTP 429 or similar).
var ErrQuotaExceeded = errors.New("ai quota exceeded")

// ErrEmptyResponse indicates the provider answered without any content.
var ErrEmptyResponse = errors.New("ai returned an empty response")
