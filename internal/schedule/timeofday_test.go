package schedule

import (
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		input    string
		expected int
		ok       bool
	}{
		{"10:00", 600, true},
		{"10:02:30", 602, true},
		{"00:00:00", 0, true},
		{"25:15:00", 25*60 + 15, true},
		{"9:05", 0, false},
		{"", 0, false},
		{"ab:cd", 0, false},
		{"10:75", 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, ok := ParseClock(tc.input)
			if ok != tc.ok || got != tc.expected {
				t.Errorf("ParseClock(%q) = %d, %v, expected %d, %v", tc.input, got, ok, tc.expected, tc.ok)
			}
		})
	}
}

func TestParseClockSeconds(t *testing.T) {
	if got, ok := ParseClockSeconds("10:02:30"); !ok || got != 36150 {
		t.Errorf("ParseClockSeconds(10:02:30) = %d, %v", got, ok)
	}
	if got, ok := ParseClockSeconds("10:02"); !ok || got != 36120 {
		t.Errorf("ParseClockSeconds(10:02) = %d, %v", got, ok)
	}
}

func TestFormatClock(t *testing.T) {
	if got := FormatClock(602); got != "10:02" {
		t.Errorf("FormatClock(602) = %q", got)
	}
	if got := FormatClock(5); got != "00:05" {
		t.Errorf("FormatClock(5) = %q", got)
	}
	if got := FormatClock(24*60 + 1); got != "24:01" {
		t.Errorf("FormatClock(1441) = %q", got)
	}
}

func TestSinceMidnight(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 5, 30, 0, time.UTC)
	if got := MinutesSinceMidnight(ts); got != 605 {
		t.Errorf("MinutesSinceMidnight = %d", got)
	}
	if got := SecondsSinceMidnight(ts); got != 36330 {
		t.Errorf("SecondsSinceMidnight = %d", got)
	}
}

func TestClientMinutes(t *testing.T) {
	if got, err := ClientMinutes("10", "05"); err != nil || got != 605 {
		t.Errorf("ClientMinutes(10, 05) = %d, %v", got, err)
	}
	for _, bad := range [][2]string{{"", "1"}, {"24", "0"}, {"1", "60"}, {"x", "1"}} {
		if _, err := ClientMinutes(bad[0], bad[1]); err == nil {
			t.Errorf("ClientMinutes(%q, %q) expected error", bad[0], bad[1])
		}
	}
}
