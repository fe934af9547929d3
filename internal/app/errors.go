package app

import (
	"errors"
	"fmt"
	"time"

	"tenantchat/internal/quota"
	"tenantchat/internal/stream"
)

var (
	// ErrInvalidCredential covers both unknown handles and wrong
	// passwords; callers never learn which.
	ErrInvalidCredential = errors.New("invalid handle or credential")

	// ErrUnauthorized is returned for missing, unknown, and expired
	// session tokens alike.
	ErrUnauthorized = errors.New("authentication required")

	// ErrForbidden is returned when a non-administrator invokes an
	// administrator-scoped operation.
	ErrForbidden = errors.New("administrator privileges required")

	// ErrNotFound is returned for records that do not exist or are not
	// owned by the caller; the two are indistinguishable.
	ErrNotFound = errors.New("not found")

	// ErrHandleTaken is returned when registering an existing handle.
	ErrHandleTaken = errors.New("handle already registered")

	// ErrValidation is the base for input validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrDocumentTooLarge is returned for uploads over the size cap.
	ErrDocumentTooLarge = errors.New("document exceeds size limit")

	// ErrUnsupportedType is returned for non-extractable content types.
	ErrUnsupportedType = errors.New("unsupported document type")

	// ErrConcurrentStream mirrors the coordinator's single-active-stream
	// rule at the facade boundary.
	ErrConcurrentStream = stream.ErrStreamConflict
)

// LockedError reports an identity lockout with the remaining wait.
type LockedError struct {
	Until      time.Time
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked for %s", e.RetryAfter.Round(time.Second))
}

// RateLimitedError reports origin-address throttling.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many attempts, retry in %s", e.RetryAfter.Round(time.Second))
}

// QuotaExceededError reports a write refused for lack of storage room.
// Plan identifies the conversations that would need to go, without
// having deleted anything.
type QuotaExceededError struct {
	Plan quota.EvictionPlan
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("storage quota exceeded: %d of %d bytes used", e.Plan.Usage, e.Plan.Ceiling)
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
