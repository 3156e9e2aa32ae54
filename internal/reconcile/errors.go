package reconcile

import "errors"

// Domain errors for reconciliation.
var (
	// ErrFetchFailed is returned when a device's user list cannot be read
	// and no cached snapshot exists to plan against.
	ErrFetchFailed = errors.New("reconcile: device user list unavailable")

	// ErrDeviceNotFound is returned when a sync targets an unknown device.
	ErrDeviceNotFound = errors.New("reconcile: device not found")

	// ErrNotParticipating is returned when a sync targets a device that has
	// opted out of access management.
	ErrNotParticipating = errors.New("reconcile: device does not participate")

	// ErrSchedulerStopped is returned by scheduler calls made after Stop.
	ErrSchedulerStopped = errors.New("reconcile: scheduler stopped")
)
