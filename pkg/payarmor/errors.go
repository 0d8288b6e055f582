package payarmor

import "errors"

var (
	// ErrStoreUnavailable is returned when a required backing store is nil.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrEntryNotFound is returned by retry stores when no live entry
	// exists for a transaction id.
	ErrEntryNotFound = errors.New("retry entry not found")

	// ErrUnknownTier is returned when a check names a plan tier with no
	// configured rule set and no default tier is configured.
	ErrUnknownTier = errors.New("unknown plan tier")

	// ErrSchedulerStopped is returned by scheduler operations after Shutdown.
	ErrSchedulerStopped = errors.New("scheduler stopped")
)
