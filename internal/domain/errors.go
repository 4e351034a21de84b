package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrRateLimited         = errors.New("rate limited")
	ErrLockHeld            = errors.New("lock already held")
	ErrLockLost            = errors.New("lock lost")
	ErrTransientSource     = errors.New("transient source failure")
	ErrPermanentSource     = errors.New("permanent source failure")
	ErrPersistenceConflict = errors.New("persistence conflict")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrRunInProgress       = errors.New("pipeline run already in progress")
)

// IsSourceFailure reports whether err came from the order source, either
// transient or permanent. Such failures are contained to a single
// (item, region) unit of work.
func IsSourceFailure(err error) bool {
	return errors.Is(err, ErrTransientSource) || errors.Is(err, ErrPermanentSource)
}
