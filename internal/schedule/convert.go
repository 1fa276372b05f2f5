package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrInvalidTime is returned when a local time is not in HH:mm form.
var ErrInvalidTime = errors.New("schedule time must be in HH:mm format")

// clockRE accepts 0-23 hours (optionally unpadded) and two-digit minutes.
var clockRE = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):([0-5][0-9])$`)

// UTCTime is an absolute trigger expressed as an hour and minute in UTC.
type UTCTime struct {
	Hour   int `json:"utcHour"`
	Minute int `json:"utcMinute"`
}

// String formats the trigger as HH:MM.
func (t UTCTime) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ValidClock reports whether s is a valid HH:mm local time.
func ValidClock(s string) bool {
	return clockRE.MatchString(s)
}

// ParseClock splits an HH:mm string into hour and minute.
func ParseClock(s string) (hour, minute int, err error) {
	m := clockRE.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	return hour, minute, nil
}

// ToUTC converts localTime at the given whole-hour offset into a UTC trigger.
//
// The hour wraps across midnight in either direction; the minute is carried
// through unchanged because only whole-hour offsets are modeled.
//
//	ToUTC("08:00", 7)  -> 01:00
//	ToUTC("05:00", 7)  -> 22:00 (previous day)
//	ToUTC("23:30", -5) -> 04:30 (next day)
func ToUTC(localTime string, offsetHours int) (UTCTime, error) {
	h, m, err := ParseClock(localTime)
	if err != nil {
		return UTCTime{}, err
	}
	return UTCTime{Hour: wrapHour(h - offsetHours), Minute: m}, nil
}

// Convert resolves timezone through the offset table and calls ToUTC.
func Convert(localTime, timezone string) (UTCTime, error) {
	return ToUTC(localTime, ResolveOffset(timezone))
}

// wrapHour normalizes any integer hour into [0,23].
func wrapHour(h int) int {
	h %= 24
	if h < 0 {
		h += 24
	}
	return h
}
