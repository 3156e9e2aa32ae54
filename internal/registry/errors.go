package registry

import "errors"

// Domain errors for the registry package.
var (
	// ErrUserNotFound is returned when a user ID is not in the registry.
	ErrUserNotFound = errors.New("registry: user not found")

	// ErrInvalidUserID is returned when an identifier is not of the HA### form.
	ErrInvalidUserID = errors.New("registry: invalid user id")

	// ErrInvalidUser is returned when a user profile fails validation.
	ErrInvalidUser = errors.New("registry: invalid user")

	// ErrInvalidGroup is returned when a group name is empty or too long.
	ErrInvalidGroup = errors.New("registry: invalid group")

	// ErrGroupNotFound is returned when a group does not exist.
	ErrGroupNotFound = errors.New("registry: group not found")

	// ErrGroupExists is returned when creating a group that already exists.
	ErrGroupExists = errors.New("registry: group already exists")

	// ErrProtectedGroup is returned when deleting the Default group.
	ErrProtectedGroup = errors.New("registry: group cannot be deleted")

	// ErrScheduleNotFound is returned when a schedule name is unknown.
	ErrScheduleNotFound = errors.New("registry: schedule not found")

	// ErrProtectedSchedule is returned when changing a built-in schedule.
	ErrProtectedSchedule = errors.New("registry: built-in schedule cannot be changed")

	// ErrInvalidSchedule is returned when a schedule fails validation.
	ErrInvalidSchedule = errors.New("registry: invalid schedule")

	// ErrInvalidSettings is returned when settings fail validation.
	ErrInvalidSettings = errors.New("registry: invalid settings")

	// ErrKeyNotFound is returned by a Store when nothing was saved under a key.
	ErrKeyNotFound = errors.New("registry: key not found")
)
