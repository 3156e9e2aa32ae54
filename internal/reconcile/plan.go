package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nerrad567/akuvox-access-core/internal/akuvox"
	"github.com/nerrad567/akuvox-access-core/internal/device"
	"github.com/nerrad567/akuvox-access-core/internal/registry"
)

// ActionKind says what must happen to one user on one device.
type ActionKind int

// Action kinds.
const (
	// ActionAdd pushes a user the device does not have.
	ActionAdd ActionKind = iota + 1
	// ActionReplace deletes the device's records for a user and adds it again.
	// Field-level updates are unreliable across firmware versions.
	ActionReplace
	// ActionDeleteOnly removes a user that must no longer have access.
	ActionDeleteOnly
)

// String returns the kind as used in logs and metrics.
func (k ActionKind) String() string {
	switch k {
	case ActionAdd:
		return "add"
	case ActionReplace:
		return "replace"
	case ActionDeleteOnly:
		return "delete"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// DesiredAction is one queued change for one registry user.
type DesiredAction struct {
	Kind   ActionKind
	UserID string
	// Item is the payload to add. Unset for ActionDeleteOnly.
	Item akuvox.UserItem
	// Prior holds the device records to delete first. Unset for ActionAdd.
	Prior []akuvox.Record
}

// Plan is the full set of changes needed to converge one device.
type Plan struct {
	// RemoveMissing are device records with no registry user behind them.
	RemoveMissing []akuvox.Record
	Actions       []DesiredAction
	// Unchanged lists users already converged on the device.
	Unchanged []string
}

// Empty reports whether the plan would change nothing.
func (p Plan) Empty() bool {
	return len(p.RemoveMissing) == 0 && len(p.Actions) == 0
}

// Count returns how many actions of kind are queued.
func (p Plan) Count(kind ActionKind) int {
	n := 0
	for _, a := range p.Actions {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

// PlanInput is everything BuildPlan needs to know about one device.
type PlanInput struct {
	Device *device.Record
	Bundle *registry.Bundle
	Local  []akuvox.Record
	// ScheduleIDs maps lower-cased schedule names to device IDs.
	ScheduleIDs map[string]string
	// FaceBaseURL is where devices fetch face images from. Empty disables faces.
	FaceBaseURL string
}

// BuildPlan diffs the registry against a device's user list. It performs
// no I/O.
func BuildPlan(in PlanInput) Plan {
	var plan Plan

	local := make(map[string][]akuvox.Record)
	for _, rec := range in.Local {
		key, ok := localKey(rec)
		if !ok {
			plan.RemoveMissing = append(plan.RemoveMissing, rec)
			continue
		}
		if _, inRegistry := in.Bundle.Users[key]; !inRegistry {
			plan.RemoveMissing = append(plan.RemoveMissing, rec)
			continue
		}
		local[key] = append(local[key], rec)
	}

	for _, id := range in.Bundle.UserIDs() {
		u := in.Bundle.Users[id]
		prior := local[id]

		if !u.HasContent() && !u.Disabled() {
			// Bare reservation: not ready to push, not a rogue record either.
			continue
		}

		if !ShouldHaveAccess(in.Device, u) {
			if len(prior) > 0 {
				plan.Actions = append(plan.Actions, DesiredAction{Kind: ActionDeleteOnly, UserID: id, Prior: prior})
			}
			continue
		}

		item := DesiredUser(in, u)

		switch {
		case len(prior) == 0:
			plan.Actions = append(plan.Actions, DesiredAction{Kind: ActionAdd, UserID: id, Item: item})
		case u.Status == registry.StatusPending || len(prior) > 1 || !Matches(prior[0], item):
			plan.Actions = append(plan.Actions, DesiredAction{Kind: ActionReplace, UserID: id, Item: item, Prior: prior})
		default:
			plan.Unchanged = append(plan.Unchanged, id)
		}
	}

	return plan
}

// ShouldHaveAccess reports whether u belongs on the device.
func ShouldHaveAccess(dev *device.Record, u *registry.UserProfile) bool {
	if u.Disabled() {
		return false
	}
	return dev.ServesGroups(u.EffectiveGroups())
}

// localKey returns the canonical registry key of a device record, taken
// from its UserID or, failing that, its Name.
func localKey(rec akuvox.Record) (string, bool) {
	for _, candidate := range []string{rec.UserID(), rec.Name()} {
		if key, err := registry.NormalizeUserID(candidate); err == nil {
			return key, true
		}
	}
	return "", false
}

// EffectiveScheduleName picks the schedule a user gets on a device. Exit
// devices always grant the always-on schedule. The working-days policy
// uses the base schedule's clone when one exists.
func EffectiveScheduleName(dev *device.Record, b *registry.Bundle, u *registry.UserProfile) string {
	if dev.Options.ExitDevice {
		return registry.ScheduleAlways
	}
	base := u.EffectiveSchedule()
	if u.ExitPermission == registry.ExitWorkingDays {
		if clone, ok := b.LookupSchedule(registry.WorkingDaysName(base)); ok {
			return clone.Name
		}
	}
	return base
}

// ResolveScheduleID maps the effective schedule onto a device schedule ID.
// A numeric override on the profile wins; unknown names get the always-on ID.
func ResolveScheduleID(u *registry.UserProfile, name string, ids map[string]string) string {
	if u.ScheduleID != "" {
		return u.ScheduleID
	}
	if id, ok := ids[strings.ToLower(strings.TrimSpace(name))]; ok && id != "" {
		return id
	}
	return akuvox.ScheduleAlwaysID
}

// DesiredUser builds the payload u should have on the device.
func DesiredUser(in PlanInput, u *registry.UserProfile) akuvox.UserItem {
	dev := in.Device
	schedName := EffectiveScheduleName(dev, in.Bundle, u)
	schedID := ResolveScheduleID(u, schedName, in.ScheduleIDs)

	relays := device.RelaySuffix(dev.Type(), dev.Options.Relays, u.KeyHolder)
	if relays == "" {
		// A door_alarm relay withheld from a non key holder leaves nothing
		// to open; the user stays on the device without access.
		schedID = akuvox.ScheduleNeverID
	}

	name := u.Name
	if name == "" {
		name = u.ID
	}

	item := akuvox.UserItem{
		UserID:        u.ID,
		Name:          name,
		Schedule:      akuvox.ScheduleByID(schedID),
		ScheduleRelay: akuvox.NormalizeScheduleRelay(schedID + "," + relays),
		PrivatePIN:    u.PIN,
		CardCode:      u.CardCode,
		Extra:         dev.Options.UserFields,
	}
	if dev.Type() == device.TypeIntercom {
		item.Phone = u.Phone
	}
	if u.HasFace() && in.FaceBaseURL != "" {
		item.FaceURL = FaceURL(in.FaceBaseURL, u.ID)
	}
	return item
}

// FaceURL is the device-fetchable location of a user's face image.
func FaceURL(base, userID string) string {
	return strings.TrimRight(base, "/") + "/" + userID + ".jpg"
}

// coreFields are compared even when the device does not echo them.
var coreFields = map[string]bool{"UserID": true, "Name": true, "ScheduleRelay": true}

// Matches reports whether a device record already carries every desired
// field. Comparison is over canonical key/value pairs; fields the device
// does not echo back are skipped unless they are core fields.
func Matches(local akuvox.Record, item akuvox.UserItem) bool {
	for key, want := range item.Fields() {
		if !local.Has(key) {
			if coreFields[key] && want != "" {
				return false
			}
			continue
		}
		got := local.Get(key)
		if key == "ScheduleRelay" {
			got = akuvox.NormalizeScheduleRelay(got)
		}
		if got != want {
			return false
		}
	}
	return true
}

// sortedKeys returns the keys of a set in ascending order.
func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
