package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseClock reads the HH:MM prefix of a GTFS time string into minutes since
// midnight. Hours past 23 are kept for trips running after midnight.
func ParseClock(s string) (int, bool) {
	if len(s) < 5 || s[2] != ':' {
		return 0, false
	}
	h, err := strconv.Atoi(s[0:2])
	if err != nil || h < 0 {
		return 0, false
	}
	m, err := strconv.Atoi(s[3:5])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// ParseClockSeconds reads HH:MM[:SS] into seconds since midnight
func ParseClockSeconds(s string) (int, bool) {
	minutes, ok := ParseClock(s)
	if !ok {
		return 0, false
	}
	sec := 0
	if len(s) >= 8 && s[5] == ':' {
		v, err := strconv.Atoi(s[6:8])
		if err != nil || v < 0 || v > 59 {
			return 0, false
		}
		sec = v
	}
	return minutes*60 + sec, true
}

// FormatClock formats minutes since midnight as zero-padded HH:MM
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// MinutesSinceMidnight returns the wall-clock minute of t in its location
func MinutesSinceMidnight(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// SecondsSinceMidnight returns the number of seconds since midnight for the given time
func SecondsSinceMidnight(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// ClientMinutes parses the h and m query values sent by browsers
func ClientMinutes(h, m string) (int, error) {
	hours, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("invalid hour %q", h)
	}
	mins, err := strconv.Atoi(strings.TrimSpace(m))
	if err != nil || mins < 0 || mins > 59 {
		return 0, fmt.Errorf("invalid minute %q", m)
	}
	return hours*60 + mins, nil
}
