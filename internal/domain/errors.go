package domain

import (
	"errors"
	"fmt"
)

// Sentinel failure kinds the orchestration layer matches with errors.Is.
// Each maps to a distinct recovery path: a rate limit stops the remaining
// run, a too-long video is skipped without an operator alert, the rest are
// alerted and skipped per item.
var (
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrTooLong            = errors.New("content exceeds token budget")
	ErrEmptyOutput        = errors.New("model returned no output")
	ErrNoMarkup           = errors.New("no markup in model output")
	ErrInvalidCredentials = errors.New("invalid or unauthorized API key")
)

// StatusError is a terminal HTTP failure that will not self-resolve by retrying.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}
