package device

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength = 100
	maxIDLength   = 64
	idPattern     = `^[a-z0-9][a-z0-9_-]*$`

	// Limits for user-supplied JSON so a bad request cannot bloat the
	// devices table or every user payload.
	maxUserFieldKeys  = 32
	maxSyncGroups     = 32
	maxStringValueLen = 1024
	maxNestingDepth   = 4
)

var idRegex = regexp.MustCompile(idPattern)

var validTypes = map[Type]struct{}{
	TypeIntercom: {},
	TypeKeypad:   {},
}

// ValidateRecord performs comprehensive validation on a device record.
// Returns an error describing the first validation failure found.
func ValidateRecord(r *Record) error {
	if r == nil {
		return ErrInvalidDevice
	}
	if err := ValidateID(r.ID); err != nil {
		return err
	}
	if err := ValidateName(r.Name); err != nil {
		return err
	}
	if err := ValidateConnection(r.Connection); err != nil {
		return err
	}
	if r.Health.DeviceType != "" {
		if _, ok := validTypes[r.Health.DeviceType]; !ok {
			return fmt.Errorf("%w: unknown device type %q", ErrInvalidDevice, r.Health.DeviceType)
		}
	}
	return ValidateOptions(r.Options)
}

// ValidateID checks a device identifier.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidID)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: id exceeds %d characters", ErrInvalidID, maxIDLength)
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("%w: id must be lowercase alphanumeric with hyphens or underscores", ErrInvalidID)
	}
	return nil
}

// ValidateName checks if a device name is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateConnection checks the network settings of a device.
func ValidateConnection(c Connection) error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConnection)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConnection, c.Port)
	}
	switch c.Scheme {
	case "", "http", "https":
	default:
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidConnection)
	}
	return nil
}

// ValidateOptions checks relay roles, sync groups and firmware extras.
func ValidateOptions(o Options) error {
	if _, err := ParseRelayRole(string(o.Relays.A)); err != nil {
		return err
	}
	if _, err := ParseRelayRole(string(o.Relays.B)); err != nil {
		return err
	}

	if len(o.SyncGroups) > maxSyncGroups {
		return fmt.Errorf("%w: more than %d sync groups", ErrInvalidDevice, maxSyncGroups)
	}
	for _, g := range o.SyncGroups {
		if strings.TrimSpace(g) == "" {
			return fmt.Errorf("%w: empty sync group name", ErrInvalidDevice)
		}
	}

	if len(o.UserFields) > maxUserFieldKeys {
		return fmt.Errorf("%w: user_fields exceeds max keys (%d)", ErrInvalidDevice, maxUserFieldKeys)
	}
	return validateValueSize(o.UserFields, "user_fields", 0)
}

// validateValueSize recursively validates a value's size.
func validateValueSize(v any, fieldName string, depth int) error {
	if depth > maxNestingDepth {
		return fmt.Errorf("%w: %s exceeds maximum nesting depth", ErrInvalidDevice, fieldName)
	}

	switch val := v.(type) {
	case string:
		if len(val) > maxStringValueLen {
			return fmt.Errorf("%w: %s string value too long", ErrInvalidDevice, fieldName)
		}
	case map[string]any:
		if len(val) > maxUserFieldKeys {
			return fmt.Errorf("%w: %s nested map too large", ErrInvalidDevice, fieldName)
		}
		for k, elem := range val {
			if len(k) > maxStringValueLen {
				return fmt.Errorf("%w: %s key too long", ErrInvalidDevice, fieldName)
			}
			if err := validateValueSize(elem, fieldName, depth+1); err != nil {
				return err
			}
		}
	case []any:
		if len(val) > maxUserFieldKeys {
			return fmt.Errorf("%w: %s array too large", ErrInvalidDevice, fieldName)
		}
		for _, elem := range val {
			if err := validateValueSize(elem, fieldName, depth+1); err != nil {
				return err
			}
		}
	}
	// Primitives (bool, int, float64, etc.) are safe
	return nil
}

// GenerateID derives a device ID from its name, falling back to a random
// "dev-" prefixed ID when the name has no usable characters.
func GenerateID(name string) string {
	id := strings.ToLower(name)
	id = strings.ReplaceAll(id, " ", "-")

	var result strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	id = strings.Trim(result.String(), "-_")
	for strings.Contains(id, "--") {
		id = strings.ReplaceAll(id, "--", "-")
	}

	if len(id) > maxIDLength {
		id = strings.TrimRight(id[:maxIDLength], "-_")
	}
	if id == "" {
		return "dev-" + uuid.NewString()[:8]
	}
	return id
}
