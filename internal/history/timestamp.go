package history

import (
	"strconv"
	"strings"
	"time"
)

// timestampLayouts are tried in order. Layouts without a zone are read as
// local time, the way devices write their logs.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"02/01/2006 15:04:05",
	"02-01-2006 15:04:05",
	"Jan 2 2006 15:04:05",
	"2006-01-02",
}

// epoch is returned for timestamps nothing can parse.
var epoch = time.Unix(0, 0).UTC()

// ParseTimestamp reads a device timestamp. ISO-8601 with or without
// fractional seconds and zone, common date-time text forms and Unix
// seconds are accepted. Anything else yields the Unix epoch so the event
// sorts last.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return epoch
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC()
	}
	return epoch
}
