package reminder

import "time"

// Clock is the scheduler's only source of "now".
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC, truncated to the precision the
// store keeps so values read back compare equal to what was written.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
