package bot

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeadline(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	now := time.Date(2025, 3, 1, 10, 15, 30, 0, berlin)

	cases := []struct {
		in   string
		want time.Time
	}{
		{"2025-03-05 18:30", time.Date(2025, 3, 5, 18, 30, 0, 0, berlin)},
		{"05.03.2025 07:00", time.Date(2025, 3, 5, 7, 0, 0, 0, berlin)},
		{"2025-03-05", time.Date(2025, 3, 5, 23, 59, 0, 0, berlin)},
		{"05.03.2025", time.Date(2025, 3, 5, 23, 59, 0, 0, berlin)},
		{"+30m", time.Date(2025, 3, 1, 10, 45, 0, 0, berlin)},
		{"+2h", time.Date(2025, 3, 1, 12, 15, 0, 0, berlin)},
		{"+ 1d", time.Date(2025, 3, 2, 10, 15, 0, 0, berlin)},
		{"+1W", time.Date(2025, 3, 8, 10, 15, 0, 0, berlin)},
		{"+52w", time.Date(2026, 2, 28, 10, 15, 0, 0, berlin)},
	}
	for _, tc := range cases {
		got, err := parseDeadline(tc.in, berlin, now)
		require.NoError(t, err, tc.in)
		assert.True(t, tc.want.Equal(got), "%s: want %s, got %s", tc.in, tc.want, got)
	}
}

func TestParseDeadlineRejects(t *testing.T) {
	for _, in := range []string{"", "tomorrow", "+0h", "+3y", "+99999999999w", "+99999999999999999999m", "+6000w", "2025-13-01", "31.02.2025 10:00"} {
		_, err := parseDeadline(in, time.UTC, time.Now())
		assert.ErrorIs(t, err, errBadDeadline, in)
	}
}
