package akuvox

import "errors"

// Domain errors for device protocol operations.
var (
	// ErrUnreachable is returned when no probe combination answers.
	ErrUnreachable = errors.New("akuvox: device unreachable")

	// ErrAllAttemptsFailed is returned after every base URL and path
	// combination of a data request has failed.
	ErrAllAttemptsFailed = errors.New("akuvox: all request attempts failed")

	// ErrBadResponse is returned when a device answers with a body that
	// cannot be decoded.
	ErrBadResponse = errors.New("akuvox: malformed device response")

	// ErrDeviceRejected is returned when the device answers with a negative
	// return code.
	ErrDeviceRejected = errors.New("akuvox: device rejected request")

	// ErrUserNotFound is returned by UserSet when an item's user cannot be
	// matched to a device record.
	ErrUserNotFound = errors.New("akuvox: user not found on device")
)
