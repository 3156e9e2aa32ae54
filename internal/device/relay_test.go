package device

import (
	"errors"
	"testing"
)

func TestRelaySuffix(t *testing.T) {
	tests := []struct {
		name      string
		typ       Type
		roles     RelayRoles
		keyHolder bool
		want      string
	}{
		{"intercom defaults, resident", TypeIntercom, RelayRoles{}, false, "1"},
		{"intercom defaults, key holder", TypeIntercom, RelayRoles{}, true, "12"},
		{"keypad defaults, key holder", TypeKeypad, RelayRoles{}, true, "1"},
		{"door on B only", TypeIntercom, RelayRoles{B: RoleDoor}, false, "2"},
		{"two doors", TypeIntercom, RelayRoles{A: RoleDoor, B: RoleDoor}, false, "12"},
		{"door_alarm blocks non key holder", TypeIntercom, RelayRoles{A: RoleDoorAlarm}, false, ""},
		{"door_alarm grants key holder", TypeIntercom, RelayRoles{A: RoleDoorAlarm}, true, "1"},
		{"door plus door_alarm, resident", TypeIntercom, RelayRoles{A: RoleDoor, B: RoleDoorAlarm}, false, "1"},
		{"alarm only, resident falls back", TypeIntercom, RelayRoles{A: RoleAlarm}, false, "1"},
		{"alarm only on B, key holder", TypeIntercom, RelayRoles{A: RoleNone, B: RoleAlarm}, true, "2"},
		{"all none", TypeIntercom, RelayRoles{A: RoleNone, B: RoleNone}, true, "1"},
		{"keypad ignores relay B", TypeKeypad, RelayRoles{A: RoleNone, B: RoleDoor}, false, "1"},
		{"keypad door_alarm blocks", TypeKeypad, RelayRoles{A: RoleDoorAlarm}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RelaySuffix(tt.typ, tt.roles, tt.keyHolder)
			if got != tt.want {
				t.Errorf("RelaySuffix(%s, %+v, %v) = %q, want %q", tt.typ, tt.roles, tt.keyHolder, got, tt.want)
			}
		})
	}
}

func TestRelayRoles_Effective(t *testing.T) {
	if got := (RelayRoles{}).Effective(TypeIntercom); got != (RelayRoles{A: RoleDoor, B: RoleAlarm}) {
		t.Errorf("intercom defaults = %+v", got)
	}
	if got := (RelayRoles{}).Effective(TypeKeypad); got != (RelayRoles{A: RoleDoor, B: RoleNone}) {
		t.Errorf("keypad defaults = %+v", got)
	}
	if got := (RelayRoles{B: RoleAlarm}).Effective(TypeIntercom); got.A != RoleNone {
		t.Errorf("partially configured A = %q, want none", got.A)
	}
}

func TestParseRelayRole(t *testing.T) {
	for _, in := range []string{"", "none", "Door", " alarm ", "door_alarm"} {
		if _, err := ParseRelayRole(in); err != nil {
			t.Errorf("ParseRelayRole(%q) error = %v", in, err)
		}
	}
	if _, err := ParseRelayRole("buzzer"); !errors.Is(err, ErrInvalidRelayRole) {
		t.Errorf("ParseRelayRole(buzzer) error = %v, want ErrInvalidRelayRole", err)
	}
}
