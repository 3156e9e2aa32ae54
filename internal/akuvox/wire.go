package akuvox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Built-in device schedules. Every Akuvox device ships with these two IDs.
const (
	ScheduleAlwaysID = "1001"
	ScheduleNeverID  = "1002"

	scheduleAlwaysName = "24/7 access"
	scheduleNeverName  = "no access"
)

// request is the action envelope POSTed to the device.
type request struct {
	Target string `json:"target"`
	Action string `json:"action"`
	Data   any    `json:"data,omitempty"`
}

// itemList wraps the item array every list-shaped payload uses.
type itemList[T any] struct {
	Item []T `json:"item"`
}

type idItem struct {
	ID string `json:"ID"`
}

// response is the device's reply envelope.
type response struct {
	RetCode int             `json:"retcode"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// decodeResponse parses a reply and rejects negative return codes.
func decodeResponse(body []byte) (response, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return response{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if resp.RetCode < 0 {
		return resp, fmt.Errorf("%w: retcode %d: %s", ErrDeviceRejected, resp.RetCode, resp.Message)
	}
	return resp, nil
}

// checkAction validates the reply to a mutating action. Firmware that
// answers in plain text (for example "OK") has accepted the request; only a
// JSON object reply can carry a rejecting retcode.
func checkAction(body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil
	}
	_, err := decodeResponse(trimmed)
	return err
}

// decodeItems extracts data.item from a reply as canonical records.
func decodeItems(body []byte) ([]Record, error) {
	resp, err := decodeResponse(body)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return []Record{}, nil
	}

	var data struct {
		Item []map[string]any `json:"item"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: data.item: %v", ErrBadResponse, err)
	}

	records := make([]Record, 0, len(data.Item))
	for _, raw := range data.Item {
		records = append(records, newRecord(raw))
	}
	return records, nil
}

// decodeObject extracts data as a single canonical record.
func decodeObject(body []byte) (Record, error) {
	resp, err := decodeResponse(body)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(resp.Data, &raw); err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrBadResponse, err)
	}
	return newRecord(raw), nil
}

// Record is a device-side record with every value canonicalised to a string.
type Record map[string]string

func newRecord(raw map[string]any) Record {
	r := make(Record, len(raw))
	for k, v := range raw {
		r[k] = normalizeValue(v)
	}
	return r
}

// Get returns the value for key, falling back to a case-insensitive match.
func (r Record) Get(key string) string {
	if v, ok := r[key]; ok {
		return v
	}
	for k, v := range r {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// Has reports whether the record carries key, ignoring case.
func (r Record) Has(key string) bool {
	if _, ok := r[key]; ok {
		return true
	}
	for k := range r {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

// ID returns the device-internal record ID.
func (r Record) ID() string { return r.Get("ID") }

// UserID returns the user identifier the record was created with.
func (r Record) UserID() string { return r.Get("UserID") }

// Name returns the record's display name.
func (r Record) Name() string { return r.Get("Name") }

// normalizeValue renders a decoded JSON value the way the device firmware
// compares it: booleans as "1"/"0", numbers without exponent.
func normalizeValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// ScheduleRef points a user at a device schedule either by numeric ID or by
// name. The zero value means "unset".
type ScheduleRef struct {
	id   string
	name string
}

// ScheduleByID references a device schedule by its numeric ID.
func ScheduleByID(id string) ScheduleRef { return ScheduleRef{id: id} }

// ScheduleByName references a device schedule by name.
func ScheduleByName(name string) ScheduleRef { return ScheduleRef{name: name} }

// ResolveSchedule maps a registry schedule reference onto a ScheduleRef.
// The two built-in names map to their fixed IDs, all-digit strings are IDs,
// anything else is a name. Empty resolves to the always-on schedule.
func ResolveSchedule(nameOrID string) ScheduleRef {
	s := strings.TrimSpace(nameOrID)
	switch strings.ToLower(s) {
	case "", scheduleAlwaysName:
		return ScheduleByID(ScheduleAlwaysID)
	case scheduleNeverName:
		return ScheduleByID(ScheduleNeverID)
	}
	if isDigits(s) {
		return ScheduleByID(s)
	}
	return ScheduleByName(s)
}

// ID returns the referenced schedule ID, or "" for a by-name reference.
func (s ScheduleRef) ID() string { return s.id }

// Name returns the referenced schedule name, or "" for a by-ID reference.
func (s ScheduleRef) Name() string { return s.name }

// IsZero reports whether the reference is unset.
func (s ScheduleRef) IsZero() bool { return s.id == "" && s.name == "" }

func (s ScheduleRef) apply(fields map[string]string) {
	switch {
	case s.id != "":
		fields["ScheduleID"] = s.id
	case s.name != "":
		fields["Schedule"] = s.name
	}
}

// reservedUserKeys can never be supplied through UserItem.Extra.
var reservedUserKeys = map[string]bool{
	"id": true, "userid": true, "name": true, "scheduleid": true, "schedule": true,
	"schedulerelay": true, "privatepin": true, "cardcode": true, "phonenum": true, "faceurl": true,
}

// UserItem is a user record as pushed to a device.
type UserItem struct {
	// ID is the device-internal record ID. Only set for updates.
	ID            string
	UserID        string
	Name          string
	Schedule      ScheduleRef
	ScheduleRelay string
	PrivatePIN    string
	CardCode      string
	Phone         string
	FaceURL       string

	// Extra carries firmware-specific fields. Values are normalised like
	// device records and never override the typed fields above.
	Extra map[string]any
}

// Fields renders the item as the canonical key/value set sent on the wire.
// The same set is used to decide whether a device record is stale.
func (u UserItem) Fields() map[string]string {
	fields := make(map[string]string, 10+len(u.Extra))
	for k, v := range u.Extra {
		if reservedUserKeys[strings.ToLower(k)] {
			continue
		}
		fields[k] = normalizeValue(v)
	}

	if u.ID != "" {
		fields["ID"] = u.ID
	}
	fields["UserID"] = u.UserID
	fields["Name"] = u.Name
	fields["ScheduleRelay"] = u.ScheduleRelay
	fields["PrivatePIN"] = u.PrivatePIN
	fields["CardCode"] = u.CardCode
	fields["PhoneNum"] = u.Phone
	if u.FaceURL != "" {
		fields["FaceUrl"] = u.FaceURL
	}
	u.Schedule.apply(fields)

	return fields
}

// MarshalJSON implements json.Marshaler.
func (u UserItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.Fields())
}

// weekdayKeys are the per-day keys of a weekly schedule, Sunday first to
// line up with time.Weekday.
var weekdayKeys = [7]string{"Sun", "Mon", "Tue", "Wed", "Thur", "Fri", "Sat"}

// ScheduleItem is a weekly access schedule as stored on a device.
type ScheduleItem struct {
	ID   string
	Name string
	// Days holds "HH:MM-HH:MM" spans indexed by time.Weekday.
	Days [7][]string
}

// WeeklySchedule builds a ScheduleItem from per-weekday [start, end] pairs
// indexed by time.Weekday.
func WeeklySchedule(name string, spans [7][][2]string) ScheduleItem {
	item := ScheduleItem{Name: name}
	for day, list := range spans {
		out := make([]string, 0, len(list))
		for _, span := range list {
			out = append(out, span[0]+"-"+span[1])
		}
		item.Days[day] = out
	}
	return item
}

// MarshalJSON implements json.Marshaler.
func (s ScheduleItem) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"Name": s.Name,
		"Type": "1", // weekly
	}
	if s.ID != "" {
		m["ID"] = s.ID
	}
	for day, key := range weekdayKeys {
		spans := s.Days[day]
		if spans == nil {
			spans = []string{}
		}
		m[key] = spans
	}
	return json.Marshal(m)
}

// ContactItem is a phonebook entry on an intercom.
type ContactItem struct {
	Name  string `json:"Name"`
	Phone string `json:"Phone"`
	Group string `json:"Group,omitempty"`
}

// ScheduleIDsByName maps lower-cased schedule names to device IDs, including
// the built-ins even when the device omits them from its list.
func ScheduleIDsByName(records []Record) map[string]string {
	ids := map[string]string{
		scheduleAlwaysName: ScheduleAlwaysID,
		scheduleNeverName:  ScheduleNeverID,
	}
	for _, r := range records {
		name := strings.ToLower(strings.TrimSpace(r.Name()))
		if name == "" || r.ID() == "" {
			continue
		}
		ids[name] = r.ID()
	}
	return ids
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
