package attendance

import (
	"strconv"
	"strings"
	"time"
)

// LoadZone resolves an IANA timezone name, falling back to UTC so a
// misconfigured tenant degrades instead of failing every event.
func LoadZone(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DateOnlyInZone returns the tenant-local calendar day of t, represented as
// UTC midnight. Daily attendance rows are keyed by this value.
func DateOnlyInZone(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// MinutesInZone returns minutes since local midnight for t in loc.
func MinutesInZone(t time.Time, loc *time.Location) int {
	local := t.In(loc)
	return local.Hour()*60 + local.Minute()
}

// ParseHHMM parses a "HH:mm" schedule time into minutes from midnight.
func ParseHHMM(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// ParseEventTime parses the dateTime string reported by a device. Devices
// send ISO 8601 with an offset; some firmware omits the offset, in which
// case the time is interpreted in the tenant's zone.
func ParseEventTime(s string, loc *time.Location) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, loc); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", s, loc); err == nil {
		return t, true
	}
	return time.Time{}, false
}
