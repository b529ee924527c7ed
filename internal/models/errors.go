package models

import "errors"

var (
	// ErrFrozenDate rejects mutation of a finalized historical date.
	// Never retried.
	ErrFrozenDate = errors.New("cannot modify historical stats for date")

	// ErrValidation rejects malformed input (correct > total, negatives).
	// Never retried; a caller bug.
	ErrValidation = errors.New("invalid test result")
)

// IsPermanent reports whether err should not be retried. Anything else
// (network failure, timeout, transient store error) is retryable via the
// offline sync queue.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrFrozenDate) || errors.Is(err, ErrValidation)
}
