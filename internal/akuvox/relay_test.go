package akuvox

import "testing"

func TestNormalizeScheduleRelay(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"dash separator", "1001-12", "1001,12;"},
		{"comma separator", "1001,12", "1001,12;"},
		{"already normalised", "1001,1;", "1001,1;"},
		{"missing relays default to 1", "1002", "1002,1;"},
		{"unknown relay digits dropped", "1001-3", "1001,1;"},
		{"mixed digits filtered", "1001-3241", "1001,21;"},
		{"duplicates removed in order", "1001-2121", "1001,21;"},
		{"multiple segments", "1001-1;1003-2;", "1001,1;1003,2;"},
		{"string list", []string{"1001-1", "1002-12"}, "1001,1;1002,12;"},
		{"any list", []any{"1001-2", 1005}, "1001,2;1005,1;"},
		{"empty segments skipped", ";;1001-1;", "1001,1;"},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeScheduleRelay(tt.in); got != tt.want {
				t.Errorf("NormalizeScheduleRelay(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFilterRelays(t *testing.T) {
	tests := map[string]string{
		"":    "1",
		"12":  "12",
		"21":  "21",
		"2":   "2",
		"345": "1",
		"1a2": "12",
	}
	for in, want := range tests {
		if got := FilterRelays(in); got != want {
			t.Errorf("FilterRelays(%q) = %q, want %q", in, got, want)
		}
	}
}
