package dispatch

import (
	"errors"
	"time"
)

// ErrLockBusy is returned by the guard when another owner holds the pair
// lock. The job is deferred, not retried.
var ErrLockBusy = errors.New("dispatch: pair lock busy")

type noRetryError struct{ err error }

func (e *noRetryError) Error() string { return e.err.Error() }
func (e *noRetryError) Unwrap() error { return e.err }

// NoRetry marks a delivery error as permanent: bad recipient, malformed
// payload, revoked credentials. The worker writes a failed ledger row and
// completes the job instead of retrying.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &noRetryError{err: err}
}

// IsNoRetry reports whether err (or anything it wraps) is marked permanent.
func IsNoRetry(err error) bool {
	var nr *noRetryError
	return errors.As(err, &nr)
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e *retryAfterError) Error() string { return e.err.Error() }
func (e *retryAfterError) Unwrap() error { return e.err }

// RetryAfter marks a delivery error as transient with a channel-provided
// minimum delay (e.g. flood control). The worker honors the hint when it is
// longer than its own backoff.
func RetryAfter(err error, d time.Duration) error {
	if err == nil {
		return nil
	}
	return &retryAfterError{err: err, after: d}
}

// RetryAfterHint extracts the channel's minimum-delay hint, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var ra *retryAfterError
	if errors.As(err, &ra) {
		return ra.after, true
	}
	return 0, false
}

// Transient reports whether a delivery error is worth retrying. Everything
// not explicitly marked permanent is treated as transient: an unknown
// network-level failure retries, a known-bad request does not. Context
// cancellation counts as transient too, so a shutdown mid-send leaves the
// job retryable for the next run.
func Transient(err error) bool {
	return err != nil && !IsNoRetry(err)
}
