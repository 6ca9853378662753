package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPayload marks a single item that cannot be normalized.
	// Callers skip the item and continue the batch; it is never retried.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrDuplicateContent is surfaced by the single-item create path when the
	// dedup key already exists. Upserts resolve it silently.
	ErrDuplicateContent = errors.New("duplicate content")

	// ErrConstraintViolation marks input rejected before any queueing occurs.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrInvalidTransition is returned when a snapshot status change would
	// move backwards or leave a terminal state.
	ErrInvalidTransition = errors.New("invalid snapshot transition")

	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
)

// UpstreamError wraps a failure talking to an external provider. Transient
// failures are governed by the job backoff policy; permanent ones mark the
// owning snapshot or job failed immediately.
type UpstreamError struct {
	Op        string
	Permanent bool
	Err       error
}

func (e *UpstreamError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s upstream error in %s: %v", kind, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// TransientUpstream wraps err as a retriable upstream failure.
func TransientUpstream(op string, err error) *UpstreamError {
	return &UpstreamError{Op: op, Err: err}
}

// PermanentUpstream wraps err as a non-retriable upstream failure.
func PermanentUpstream(op string, err error) *UpstreamError {
	return &UpstreamError{Op: op, Permanent: true, Err: err}
}

// IsPermanentUpstream reports whether err carries a permanent upstream failure.
func IsPermanentUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Permanent
}

// IsTransientUpstream reports whether err carries a retriable upstream failure.
func IsTransientUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && !ue.Permanent
}
