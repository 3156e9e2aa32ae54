package registry

import (
	"slices"
	"strings"
	"time"
)

// DefaultGroup is the permanent group every user belongs to when none is set.
const DefaultGroup = "Default"

// Built-in schedules. Both always exist and cannot be changed.
const (
	ScheduleAlways = "24/7 Access"
	ScheduleNever  = "No Access"
)

// workingDaysSuffix names the Monday to Friday clone of a schedule.
const workingDaysSuffix = " - Working Days"

// Status is the lifecycle of a user profile.
type Status string

// User statuses.
const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
	StatusDeleted  Status = "deleted"
)

// FaceStatus tracks a user's face credential.
type FaceStatus string

// Face statuses. The zero value means no face is enrolled.
const (
	FaceNone    FaceStatus = ""
	FacePending FaceStatus = "pending"
	FaceActive  FaceStatus = "active"
)

// ExitPermission selects which schedule applies to a user's egress.
type ExitPermission string

// Exit permissions.
const (
	ExitMatch       ExitPermission = "match"
	ExitWorkingDays ExitPermission = "working_days"
	ExitAlways      ExitPermission = "always"
)

// UserProfile is the desired state of one user.
type UserProfile struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Groups         []string       `json:"groups,omitempty"`
	PIN            string         `json:"pin,omitempty"`
	CardCode       string         `json:"card_code,omitempty"`
	FaceURL        string         `json:"face_url,omitempty"`
	FaceStatus     FaceStatus     `json:"face_status,omitempty"`
	FaceSyncedAt   *time.Time     `json:"face_synced_at,omitempty"`
	Phone          string         `json:"phone,omitempty"`
	ScheduleName   string         `json:"schedule_name,omitempty"`
	ScheduleID     string         `json:"schedule_id,omitempty"`
	KeyHolder      bool           `json:"key_holder"`
	Status         Status         `json:"status"`
	ExitPermission ExitPermission `json:"exit_permission,omitempty"`
	ReservedAt     *time.Time     `json:"reserved_at,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// EffectiveGroups returns the user's groups, defaulting to Default.
func (u *UserProfile) EffectiveGroups() []string {
	if len(u.Groups) == 0 {
		return []string{DefaultGroup}
	}
	return u.Groups
}

// EffectiveSchedule returns the configured schedule name, defaulting to
// the always-on built-in.
func (u *UserProfile) EffectiveSchedule() string {
	if strings.TrimSpace(u.ScheduleName) == "" {
		return ScheduleAlways
	}
	return u.ScheduleName
}

// HasContent reports whether the profile carries anything beyond a bare
// reservation. Such a profile is never treated as abandoned.
func (u *UserProfile) HasContent() bool {
	return u.Name != "" || u.PIN != "" || u.Phone != "" || u.CardCode != ""
}

// HasFace reports whether a face credential is enrolled.
func (u *UserProfile) HasFace() bool {
	return u.FaceStatus != FaceNone || u.FaceURL != ""
}

// Disabled reports whether the user must lose access everywhere.
func (u *UserProfile) Disabled() bool {
	return u.Status == StatusDisabled || u.Status == StatusDeleted
}

// syncContentEqual reports whether two profiles would produce the same
// device payloads.
func (u *UserProfile) syncContentEqual(o *UserProfile) bool {
	return u.Name == o.Name &&
		slices.Equal(u.EffectiveGroups(), o.EffectiveGroups()) &&
		u.PIN == o.PIN &&
		u.CardCode == o.CardCode &&
		u.FaceURL == o.FaceURL &&
		u.HasFace() == o.HasFace() &&
		u.Phone == o.Phone &&
		u.EffectiveSchedule() == o.EffectiveSchedule() &&
		u.ScheduleID == o.ScheduleID &&
		u.KeyHolder == o.KeyHolder &&
		u.ExitPermission == o.ExitPermission
}

// DeepCopy creates a complete independent copy of the profile.
func (u *UserProfile) DeepCopy() *UserProfile {
	if u == nil {
		return nil
	}
	cpy := *u
	cpy.Groups = slices.Clone(u.Groups)
	if u.FaceSyncedAt != nil {
		t := *u.FaceSyncedAt
		cpy.FaceSyncedAt = &t
	}
	if u.ReservedAt != nil {
		t := *u.ReservedAt
		cpy.ReservedAt = &t
	}
	return &cpy
}

// Span is one allowed time window within a day, "HH:MM" inclusive.
type Span struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// weekdayKeys index Schedule.Days, Sunday first to line up with time.Weekday.
var weekdayKeys = [7]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// Schedule is a named weekly access window.
type Schedule struct {
	Name string `json:"name"`
	// Days maps "mon".."sun" to the allowed spans. A missing day has none.
	Days map[string][]Span `json:"days"`
}

// Week returns the spans as [start, end] pairs indexed by time.Weekday.
func (s Schedule) Week() [7][][2]string {
	var week [7][][2]string
	for i, key := range weekdayKeys {
		for _, span := range s.Days[key] {
			week[i] = append(week[i], [2]string{span.Start, span.End})
		}
	}
	return week
}

// WorkingDaysClone returns a copy limited to Monday through Friday.
func (s Schedule) WorkingDaysClone() Schedule {
	clone := Schedule{Name: WorkingDaysName(s.Name), Days: make(map[string][]Span)}
	for _, key := range []string{"mon", "tue", "wed", "thu", "fri"} {
		if spans := s.Days[key]; len(spans) > 0 {
			clone.Days[key] = slices.Clone(spans)
		}
	}
	return clone
}

// DeepCopy creates a complete independent copy of the schedule.
func (s Schedule) DeepCopy() Schedule {
	cpy := Schedule{Name: s.Name, Days: make(map[string][]Span, len(s.Days))}
	for k, v := range s.Days {
		cpy.Days[k] = slices.Clone(v)
	}
	return cpy
}

// WorkingDaysName returns the name of the working-days clone of base.
func WorkingDaysName(base string) string {
	return base + workingDaysSuffix
}

// IsBuiltinSchedule reports whether name is one of the fixed schedules.
func IsBuiltinSchedule(name string) bool {
	return strings.EqualFold(name, ScheduleAlways) || strings.EqualFold(name, ScheduleNever)
}

func builtinSchedules() []Schedule {
	always := Schedule{Name: ScheduleAlways, Days: make(map[string][]Span, 7)}
	for _, key := range weekdayKeys {
		always.Days[key] = []Span{{Start: "00:00", End: "23:59"}}
	}
	return []Schedule{always, {Name: ScheduleNever, Days: map[string][]Span{}}}
}

// AutoReboot schedules a daily device restart.
type AutoReboot struct {
	Enabled bool   `json:"enabled"`
	Time    string `json:"time,omitempty"`
	// Days limits the reboot to these weekdays ("mon".."sun"). Empty means every day.
	Days []string `json:"days,omitempty"`
}

// RunsOn reports whether the reboot is due on day.
func (a AutoReboot) RunsOn(day time.Weekday) bool {
	if !a.Enabled {
		return false
	}
	if len(a.Days) == 0 {
		return true
	}
	return slices.Contains(a.Days, weekdayKeys[day])
}

// Settings holds registry-wide options.
type Settings struct {
	// AutoSyncTime is a daily "HH:MM" full sync. Empty disables it.
	AutoSyncTime string     `json:"auto_sync_time,omitempty"`
	AutoReboot   AutoReboot `json:"auto_reboot"`
}

// Bundle is a point-in-time copy of the whole registry.
type Bundle struct {
	Users     map[string]*UserProfile `json:"users"`
	Groups    []string                `json:"groups"`
	Schedules map[string]Schedule     `json:"schedules"`
	Settings  Settings                `json:"settings"`
}

// UserIDs returns the registry's user keys in ascending order.
func (b *Bundle) UserIDs() []string {
	ids := make([]string, 0, len(b.Users))
	for id := range b.Users {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// LookupSchedule finds a schedule by name, ignoring case.
func (b *Bundle) LookupSchedule(name string) (Schedule, bool) {
	if s, ok := b.Schedules[name]; ok {
		return s, true
	}
	for k, s := range b.Schedules {
		if strings.EqualFold(k, name) {
			return s, true
		}
	}
	return Schedule{}, false
}

// DeepCopy creates a complete independent copy of the bundle.
func (b *Bundle) DeepCopy() *Bundle {
	cpy := &Bundle{
		Users:     make(map[string]*UserProfile, len(b.Users)),
		Groups:    slices.Clone(b.Groups),
		Schedules: make(map[string]Schedule, len(b.Schedules)),
		Settings:  b.Settings,
	}
	cpy.Settings.AutoReboot.Days = slices.Clone(b.Settings.AutoReboot.Days)
	for k, u := range b.Users {
		cpy.Users[k] = u.DeepCopy()
	}
	for k, s := range b.Schedules {
		cpy.Schedules[k] = s.DeepCopy()
	}
	return cpy
}
