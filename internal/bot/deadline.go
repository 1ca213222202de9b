package bot

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var errBadDeadline = errors.New("unrecognised deadline")

var relativeRe = regexp.MustCompile(`^\+\s*(\d+)\s*(m|h|d|w)$`)

// maxRelative bounds "+N<unit>" offsets.
const maxRelative = 100 * 365 * 24 * time.Hour

var deadlineLayouts = []struct {
	layout   string
	endOfDay bool
}{
	{"2006-01-02 15:04", false},
	{"02.01.2006 15:04", false},
	{"2006-01-02", true},
	{"02.01.2006", true},
}

// parseDeadline reads an absolute date (optionally with time) in loc, or an
// offset such as "+30m", "+2h", "+1d", "+1w" from now. A bare date means 23:59.
func parseDeadline(raw string, loc *time.Location, now time.Time) (time.Time, error) {
	s := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	if s == "" {
		return time.Time{}, errBadDeadline
	}

	if m := relativeRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return time.Time{}, errBadDeadline
		}
		unit := map[string]time.Duration{
			"m": time.Minute,
			"h": time.Hour,
			"d": 24 * time.Hour,
			"w": 7 * 24 * time.Hour,
		}[m[2]]
		if time.Duration(n) > maxRelative/unit {
			return time.Time{}, errBadDeadline
		}
		return now.Add(time.Duration(n) * unit).Truncate(time.Minute), nil
	}

	for _, l := range deadlineLayouts {
		t, err := time.ParseInLocation(l.layout, s, loc)
		if err != nil {
			continue
		}
		if l.endOfDay {
			t = time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 0, 0, loc)
		}
		return t, nil
	}
	return time.Time{}, errBadDeadline
}
