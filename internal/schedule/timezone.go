// Package schedule converts a user's local delivery time into the absolute
// UTC trigger that the digest scheduler matches against on every tick.
//
// Offsets are whole hours taken from a static table. Daylight saving is not
// modeled; unknown zones resolve to DefaultOffset so that a settings write
// never fails because of an unrecognized timezone identifier.
package schedule

import "sort"

// DefaultOffset is the UTC offset (hours) used for unrecognized timezones (WIB).
const DefaultOffset = 7

// offsets maps supported timezone identifiers to fixed UTC offsets in hours.
var offsets = map[string]int{
	"Asia/Jakarta":     7,
	"Asia/Bangkok":     7,
	"Asia/Makassar":    8,
	"Asia/Singapore":   8,
	"Asia/Jayapura":    9,
	"Asia/Tokyo":       9,
	"Australia/Sydney": 11,
	"Europe/London":    0, // GMT, BST ignored
	"America/New_York": -5,
	"UTC":              0,
}

// ResolveOffset returns the fixed UTC offset in hours for timezone.
// It is total: any identifier missing from the table yields DefaultOffset.
func ResolveOffset(timezone string) int {
	if off, ok := offsets[timezone]; ok {
		return off
	}
	return DefaultOffset
}

// IsKnownTimezone reports whether timezone has an explicit table entry.
func IsKnownTimezone(timezone string) bool {
	_, ok := offsets[timezone]
	return ok
}

// KnownTimezones returns the supported timezone identifiers, sorted.
func KnownTimezones() []string {
	out := make([]string, 0, len(offsets))
	for tz := range offsets {
		out = append(out, tz)
	}
	sort.Strings(out)
	return out
}
