package reminder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidWindow = errors.New("invalid active window")

// Window is a daily active-hours range [Start, End) in minutes since local
// midnight. Start > End wraps past midnight.
type Window struct {
	Start int
	End   int
}

// ParseClock parses "HH:MM" (or "H:MM") into minutes since midnight.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q, expected HH:MM", ErrInvalidWindow, s)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: invalid hour in %q", ErrInvalidWindow, s)
	}
	if len(mm) != 2 {
		return 0, fmt.Errorf("%w: invalid minute in %q", ErrInvalidWindow, s)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: invalid minute in %q", ErrInvalidWindow, s)
	}
	return hour*60 + minute, nil
}

// ParseWindow builds a window from stored bounds. ok is false when both bounds
// are empty, meaning reminders may fire at any hour.
func ParseWindow(start, end string) (w Window, ok bool, err error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" && end == "" {
		return Window{}, false, nil
	}
	if start == "" || end == "" {
		return Window{}, false, fmt.Errorf("%w: both start and end are required", ErrInvalidWindow)
	}
	if w.Start, err = ParseClock(start); err != nil {
		return Window{}, false, err
	}
	if w.End, err = ParseClock(end); err != nil {
		return Window{}, false, err
	}
	if w.Start == w.End {
		return Window{}, false, fmt.Errorf("%w: start and end are both %s", ErrInvalidWindow, start)
	}
	return w, true, nil
}

// ParseWindowRange parses "08:00-22:00".
func ParseWindowRange(s string) (Window, error) {
	start, end, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Window{}, fmt.Errorf("%w: %q, expected HH:MM-HH:MM", ErrInvalidWindow, s)
	}
	w, _, err := ParseWindow(start, end)
	if err != nil {
		return Window{}, err
	}
	return w, nil
}

// Contains reports whether the wall-clock time of t falls inside the window.
// t must already be in the owner's location.
func (w Window) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	if w.Start < w.End {
		return m >= w.Start && m < w.End
	}
	return m >= w.Start || m < w.End
}

func (w Window) StartClock() string { return formatClock(w.Start) }
func (w Window) EndClock() string   { return formatClock(w.End) }

func (w Window) String() string {
	return w.StartClock() + "-" + w.EndClock()
}

func formatClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
