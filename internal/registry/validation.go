package registry

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxNameLength  = 100
	maxPINLength   = 8
	maxSpansPerDay = 8
)

var (
	timePattern  = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
	digitPattern = regexp.MustCompile(`^\d+$`)
)

var validExitPermissions = map[ExitPermission]struct{}{
	"":              {},
	ExitMatch:       {},
	ExitWorkingDays: {},
	ExitAlways:      {},
}

// ValidTime reports whether s is an "HH:MM" 24-hour time.
func ValidTime(s string) bool {
	return timePattern.MatchString(s)
}

// validateUser checks the fields a caller may set on a profile.
func validateUser(u *UserProfile) error {
	if len(u.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidUser, maxNameLength)
	}
	if u.PIN != "" && (!digitPattern.MatchString(u.PIN) || len(u.PIN) > maxPINLength) {
		return fmt.Errorf("%w: pin must be up to %d digits", ErrInvalidUser, maxPINLength)
	}
	if u.ScheduleID != "" && !digitPattern.MatchString(u.ScheduleID) {
		return fmt.Errorf("%w: schedule_id must be numeric", ErrInvalidUser)
	}
	if _, ok := validExitPermissions[u.ExitPermission]; !ok {
		return fmt.Errorf("%w: unknown exit_permission %q", ErrInvalidUser, u.ExitPermission)
	}
	switch u.FaceStatus {
	case FaceNone, FacePending, FaceActive:
	default:
		return fmt.Errorf("%w: unknown face_status %q", ErrInvalidUser, u.FaceStatus)
	}
	for _, g := range u.Groups {
		if strings.TrimSpace(g) == "" {
			return fmt.Errorf("%w: empty group name", ErrInvalidUser)
		}
	}
	return nil
}

// validateSchedule checks a custom schedule.
func validateSchedule(s Schedule) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidSchedule)
	}
	if len(s.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidSchedule, maxNameLength)
	}

	for day, spans := range s.Days {
		if !validWeekday(day) {
			return fmt.Errorf("%w: unknown day %q", ErrInvalidSchedule, day)
		}
		if len(spans) > maxSpansPerDay {
			return fmt.Errorf("%w: %s has more than %d spans", ErrInvalidSchedule, day, maxSpansPerDay)
		}
		for _, span := range spans {
			if !ValidTime(span.Start) || !ValidTime(span.End) {
				return fmt.Errorf("%w: %s span %s-%s is not HH:MM", ErrInvalidSchedule, day, span.Start, span.End)
			}
			if span.Start > span.End {
				return fmt.Errorf("%w: %s span %s-%s ends before it starts", ErrInvalidSchedule, day, span.Start, span.End)
			}
		}
	}
	return nil
}

// validateAutoReboot checks the daily reboot settings.
func validateAutoReboot(a AutoReboot) error {
	if a.Enabled && !ValidTime(a.Time) {
		return fmt.Errorf("%w: auto reboot time %q is not HH:MM", ErrInvalidSettings, a.Time)
	}
	if a.Time != "" && !ValidTime(a.Time) {
		return fmt.Errorf("%w: auto reboot time %q is not HH:MM", ErrInvalidSettings, a.Time)
	}
	for _, d := range a.Days {
		if !validWeekday(d) {
			return fmt.Errorf("%w: unknown day %q", ErrInvalidSettings, d)
		}
	}
	return nil
}

func validWeekday(day string) bool {
	for _, k := range weekdayKeys {
		if k == day {
			return true
		}
	}
	return false
}
