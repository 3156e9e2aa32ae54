package device

import (
	"fmt"
	"strings"
)

// RelayRole is what a physical relay is wired to.
type RelayRole string

// Relay roles.
const (
	RoleNone      RelayRole = "none"
	RoleDoor      RelayRole = "door"
	RoleAlarm     RelayRole = "alarm"
	RoleDoorAlarm RelayRole = "door_alarm"
)

// ParseRelayRole validates a role name. Empty parses to "" (unset).
func ParseRelayRole(s string) (RelayRole, error) {
	switch r := RelayRole(strings.ToLower(strings.TrimSpace(s))); r {
	case "", RoleNone, RoleDoor, RoleAlarm, RoleDoorAlarm:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRelayRole, s)
	}
}

// RelayRoles assigns a role to relay A ("1") and relay B ("2").
type RelayRoles struct {
	A RelayRole `json:"relay_a,omitempty"`
	B RelayRole `json:"relay_b,omitempty"`
}

// IsZero reports whether no role is configured.
func (r RelayRoles) IsZero() bool {
	return r.A == "" && r.B == ""
}

// DefaultRelayRoles returns the wiring assumed for an unconfigured device.
func DefaultRelayRoles(t Type) RelayRoles {
	if t == TypeKeypad {
		return RelayRoles{A: RoleDoor, B: RoleNone}
	}
	return RelayRoles{A: RoleDoor, B: RoleAlarm}
}

// Effective resolves unset roles. With nothing configured the device-type
// defaults apply; otherwise an unset relay has no role.
func (r RelayRoles) Effective(t Type) RelayRoles {
	if r.IsZero() {
		return DefaultRelayRoles(t)
	}
	if r.A == "" {
		r.A = RoleNone
	}
	if r.B == "" {
		r.B = RoleNone
	}
	return r
}

// RelaySuffix computes which relays a user may trigger on a device.
//
// A door relay is granted to everyone. An alarm relay is granted to key
// holders only. A door_alarm relay is granted to key holders and blocks
// everyone else. Keypads only ever drive relay "1". When nothing was
// granted and nothing blocked, the result is "1". A blocked user gets "".
func RelaySuffix(t Type, roles RelayRoles, keyHolder bool) string {
	eff := roles.Effective(t)
	slots := []struct {
		digit string
		role  RelayRole
	}{
		{"1", eff.A},
		{"2", eff.B},
	}
	if t == TypeKeypad {
		slots = slots[:1]
	}

	var out strings.Builder
	blocked := false
	for _, slot := range slots {
		switch slot.role {
		case RoleDoor:
			out.WriteString(slot.digit)
		case RoleAlarm:
			if keyHolder {
				out.WriteString(slot.digit)
			}
		case RoleDoorAlarm:
			if keyHolder {
				out.WriteString(slot.digit)
			} else {
				blocked = true
			}
		}
	}

	if out.Len() == 0 && !blocked {
		return "1"
	}
	return out.String()
}
