package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound marks a match that has expired from the remote retention
// window. Permanent: callers must not retry.
var ErrNotFound = errors.New("entity not found upstream")

// ErrStorage marks a storage-layer failure. The caller decides retry vs
// abort; repository implementations wrap their errors with it.
var ErrStorage = errors.New("storage failure")

// RateLimitedError signals the remote API rejected a request for quota
// reasons. Always retried after the cooldown; never counted against the
// attempt ceiling.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// TransientError covers network faults and upstream 5xx responses.
// Retried with exponential backoff up to the attempt ceiling.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient upstream failure (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient upstream failure (status %d)", e.Status)
}

func (e *TransientError) Unwrap() error { return e.Err }

// AsRateLimited extracts the cooldown from an error chain, if present.
func AsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// IsTransient reports whether the error is retryable with backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
