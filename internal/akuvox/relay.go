package akuvox

import (
	"strings"
)

// defaultRelays is used whenever a segment names no usable relay.
const defaultRelays = "1"

// NormalizeScheduleRelay renders a schedule/relay binding in the firmware's
// "<scheduleID>,<relays>;" form.
//
// The input is a string or a list of strings. Each entry may hold several
// ";"-separated segments and uses "-" or "," between schedule ID and relay
// digits ("1001-12" and "1001,12" are equivalent). Relay characters other
// than 1 and 2 are dropped, duplicates are removed with order preserved,
// and an empty relay set becomes "1".
//
// Examples:
//
//	NormalizeScheduleRelay("1001-12")                 // "1001,12;"
//	NormalizeScheduleRelay([]string{"1001-1", "1002"}) // "1001,1;1002,1;"
//	NormalizeScheduleRelay("1001,3")                  // "1001,1;"
func NormalizeScheduleRelay(v any) string {
	var entries []string
	switch t := v.(type) {
	case string:
		entries = []string{t}
	case []string:
		entries = t
	case []any:
		for _, e := range t {
			entries = append(entries, normalizeValue(e))
		}
	case nil:
		return ""
	default:
		entries = []string{normalizeValue(t)}
	}

	var b strings.Builder
	for _, entry := range entries {
		for _, segment := range strings.Split(entry, ";") {
			segment = strings.TrimSpace(segment)
			if segment == "" {
				continue
			}
			id, relays, _ := strings.Cut(strings.Replace(segment, "-", ",", 1), ",")
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			b.WriteString(id)
			b.WriteByte(',')
			b.WriteString(FilterRelays(relays))
			b.WriteByte(';')
		}
	}
	return b.String()
}

// FilterRelays keeps the relay digits 1 and 2 in first-seen order and
// defaults to "1".
func FilterRelays(s string) string {
	var seen [3]bool
	out := make([]byte, 0, 2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '1' && c != '2' {
			continue
		}
		if seen[c-'0'] {
			continue
		}
		seen[c-'0'] = true
		out = append(out, c)
	}
	if len(out) == 0 {
		return defaultRelays
	}
	return string(out)
}
