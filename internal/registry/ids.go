package registry

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// UserIDPrefix starts every canonical user identifier.
const UserIDPrefix = "HA"

var userIDPattern = regexp.MustCompile(`(?i)^HA-?(\d+)$`)

// NormalizeUserID canonicalises a user identifier. The prefix is matched
// case-insensitively and an optional "-" separator is removed, so "ha-7"
// becomes "HA7". Anything else is rejected.
func NormalizeUserID(s string) (string, error) {
	m := userIDPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidUserID, s)
	}
	return UserIDPrefix + m[1], nil
}

// userIDNumber returns the numeric part of an identifier.
func userIDNumber(s string) (int, bool) {
	m := userIDPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// NextUserID returns the lowest free identifier not present in existing or
// seen. IDs are compared by numeric value, so "HA1" occupies HA001.
// Strings that are not user identifiers are ignored.
func NextUserID(existing, seen []string) string {
	taken := make(map[int]struct{}, len(existing)+len(seen))
	for _, list := range [][]string{existing, seen} {
		for _, id := range list {
			if n, ok := userIDNumber(id); ok {
				taken[n] = struct{}{}
			}
		}
	}

	n := 1
	for {
		if _, ok := taken[n]; !ok {
			return FormatUserID(n)
		}
		n++
	}
}

// FormatUserID renders n as a canonical three-digit identifier.
func FormatUserID(n int) string {
	return fmt.Sprintf("%s%03d", UserIDPrefix, n)
}
