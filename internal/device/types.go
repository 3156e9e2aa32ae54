package device

import (
	"slices"
	"strings"
	"time"
)

// Type classifies an access-control device.
type Type string

// Device types.
const (
	TypeIntercom Type = "intercom"
	TypeKeypad   Type = "keypad"
)

// SyncStatus reports whether a device reflects the registry.
type SyncStatus string

// Sync statuses.
const (
	SyncPending SyncStatus = "pending"
	SyncInSync  SyncStatus = "in_sync"
)

// DefaultGroup is the group every user and device falls back to.
const DefaultGroup = "Default"

// Record is one managed device: how to reach it, how it takes part in
// sync, and what was last observed on it.
type Record struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Connection Connection `json:"connection"`
	Options    Options    `json:"options"`
	Health     Health     `json:"health"`

	// LocalUsers is the last user list fetched from the device, nil until
	// the first successful read.
	LocalUsers []map[string]string `json:"local_users,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Connection holds the device's network address and credentials.
type Connection struct {
	Host      string `json:"host"`
	Port      int    `json:"port,omitempty"`
	Scheme    string `json:"scheme,omitempty"`
	VerifyTLS bool   `json:"verify_tls"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
}

// Redacted returns a copy safe to expose over the API.
func (c Connection) Redacted() Connection {
	if c.Password != "" {
		c.Password = "[REDACTED]"
	}
	return c
}

// Options controls how a device takes part in reconciliation.
type Options struct {
	// Participate excludes the device from every sync pass when false.
	Participate bool `json:"participate"`

	// SyncGroups limits the device to users in these groups.
	// Empty means the Default group only.
	SyncGroups []string `json:"sync_groups,omitempty"`

	// ExitDevice forces the always-on schedule for every user.
	ExitDevice bool `json:"exit_device"`

	Relays RelayRoles `json:"relays"`

	// UserFields are firmware-specific extras sent with every user record.
	UserFields map[string]any `json:"user_fields,omitempty"`
}

// Health is the last observed state of a device.
type Health struct {
	Online     bool       `json:"online"`
	SyncStatus SyncStatus `json:"sync_status"`
	DeviceType Type       `json:"device_type"`
	Model      string     `json:"model,omitempty"`
	Firmware   string     `json:"firmware,omitempty"`
	Endpoint   string     `json:"endpoint,omitempty"`

	LastSeen           *time.Time `json:"last_seen,omitempty"`
	LastSync           *time.Time `json:"last_sync,omitempty"`
	LastSyncResult     string     `json:"last_sync_result,omitempty"`
	LastError          string     `json:"last_error,omitempty"`
	LastIntegrityCheck *time.Time `json:"last_integrity_check,omitempty"`
}

// Type returns the device type, defaulting to intercom.
func (r *Record) Type() Type {
	if r.Health.DeviceType == TypeKeypad {
		return TypeKeypad
	}
	return TypeIntercom
}

// EffectiveSyncGroups returns the device's sync groups, defaulting to Default.
func (r *Record) EffectiveSyncGroups() []string {
	if len(r.Options.SyncGroups) == 0 {
		return []string{DefaultGroup}
	}
	return r.Options.SyncGroups
}

// ServesGroups reports whether any of the user groups is synced to the device.
// Group names compare case-insensitively.
func (r *Record) ServesGroups(userGroups []string) bool {
	if len(userGroups) == 0 {
		userGroups = []string{DefaultGroup}
	}
	for _, g := range userGroups {
		if slices.ContainsFunc(r.EffectiveSyncGroups(), func(s string) bool {
			return strings.EqualFold(s, g)
		}) {
			return true
		}
	}
	return false
}

// DeepCopy creates a complete independent copy of the Record.
// This is essential for cache isolation.
func (r *Record) DeepCopy() *Record {
	if r == nil {
		return nil
	}

	cpy := *r
	cpy.Options.SyncGroups = slices.Clone(r.Options.SyncGroups)
	cpy.Options.UserFields = deepCopyMap(r.Options.UserFields)
	cpy.Health.LastSeen = copyTime(r.Health.LastSeen)
	cpy.Health.LastSync = copyTime(r.Health.LastSync)
	cpy.Health.LastIntegrityCheck = copyTime(r.Health.LastIntegrityCheck)

	if r.LocalUsers != nil {
		cpy.LocalUsers = make([]map[string]string, len(r.LocalUsers))
		for i, u := range r.LocalUsers {
			m := make(map[string]string, len(u))
			for k, v := range u {
				m[k] = v
			}
			cpy.LocalUsers[i] = m
		}
	}

	return &cpy
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}
