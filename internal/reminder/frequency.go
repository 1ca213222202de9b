package reminder

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"nagger/internal/model"
)

var ErrInvalidFrequency = errors.New("invalid frequency")

// Frequency is the base nagging interval of a task.
type Frequency struct {
	Kind  string
	Value int
}

var frequencyShortcuts = map[string]Frequency{
	"15m":    {model.FrequencyMinutes, 15},
	"30m":    {model.FrequencyMinutes, 30},
	"45m":    {model.FrequencyMinutes, 45},
	"1h":     {model.FrequencyHours, 1},
	"2h":     {model.FrequencyHours, 2},
	"3h":     {model.FrequencyHours, 3},
	"4h":     {model.FrequencyHours, 4},
	"6h":     {model.FrequencyHours, 6},
	"8h":     {model.FrequencyHours, 8},
	"12h":    {model.FrequencyHours, 12},
	"hourly": {model.FrequencyHours, 1},
	"daily":  {model.FrequencyDaily, 1},
}

var (
	everyRe = regexp.MustCompile(`^(?:every\s+)?(\d+)\s*(m|min|mins|minute|minutes|h|hr|hrs|hour|hours|d|day|days)$`)
	timesRe = regexp.MustCompile(`^(\d+)\s*(?:times|x)\s*(?:per|a)\s*(day|hour)$`)
)

// ParseFrequency accepts shortcuts ("30m", "daily"), "every N minutes|hours|days",
// "N times per day|hour" and plain Go durations ("90m").
func ParseFrequency(raw string) (Frequency, error) {
	s := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	if s == "" {
		return Frequency{}, fmt.Errorf("%w: empty", ErrInvalidFrequency)
	}
	if f, ok := frequencyShortcuts[s]; ok {
		return f, nil
	}
	if s == "every minute" {
		return Frequency{model.FrequencyMinutes, 1}, nil
	}
	if s == "every hour" {
		return Frequency{model.FrequencyHours, 1}, nil
	}
	if s == "every day" {
		return Frequency{model.FrequencyDaily, 1}, nil
	}

	if m := everyRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return Frequency{}, fmt.Errorf("%w: %q", ErrInvalidFrequency, raw)
		}
		switch m[2][0] {
		case 'm':
			return Frequency{model.FrequencyMinutes, n}, nil
		case 'h':
			return Frequency{model.FrequencyHours, n}, nil
		default:
			return Frequency{model.FrequencyDaily, n}, nil
		}
	}

	if m := timesRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return Frequency{}, fmt.Errorf("%w: %q", ErrInvalidFrequency, raw)
		}
		span := 60
		if m[2] == "day" {
			span = 24 * 60
		}
		if n > span {
			return Frequency{}, fmt.Errorf("%w: %q is more than once a minute", ErrInvalidFrequency, raw)
		}
		return Frequency{model.FrequencyMinutes, span / n}, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		return FrequencyFromDuration(d)
	}
	return Frequency{}, fmt.Errorf("%w: %q", ErrInvalidFrequency, raw)
}

// FrequencyFromDuration picks the coarsest whole unit that represents d.
func FrequencyFromDuration(d time.Duration) (Frequency, error) {
	switch {
	case d <= 0 || d%time.Minute != 0:
		return Frequency{}, fmt.Errorf("%w: %s is not a positive whole number of minutes", ErrInvalidFrequency, d)
	case d%(24*time.Hour) == 0:
		return Frequency{model.FrequencyDaily, int(d / (24 * time.Hour))}, nil
	case d%time.Hour == 0:
		return Frequency{model.FrequencyHours, int(d / time.Hour)}, nil
	default:
		return Frequency{model.FrequencyMinutes, int(d / time.Minute)}, nil
	}
}

// FrequencyOf reads the frequency stored on a reminder.
func FrequencyOf(r *model.Reminder) Frequency {
	return Frequency{Kind: r.FrequencyKind, Value: r.FrequencyValue}
}

// Interval returns the base interval, or 0 for an unknown kind.
func (f Frequency) Interval() time.Duration {
	n := time.Duration(f.Value)
	switch f.Kind {
	case model.FrequencyMinutes:
		return n * time.Minute
	case model.FrequencyHours:
		return n * time.Hour
	case model.FrequencyDaily:
		return n * 24 * time.Hour
	default:
		return 0
	}
}

// Validate rejects non-positive values and intervals shorter than min.
func (f Frequency) Validate(min time.Duration) error {
	if f.Value <= 0 {
		return fmt.Errorf("%w: value must be positive", ErrInvalidFrequency)
	}
	iv := f.Interval()
	if iv == 0 {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidFrequency, f.Kind)
	}
	if min > 0 && iv < min {
		return fmt.Errorf("%w: every %s is shorter than the minimum %s", ErrInvalidFrequency, HumanDuration(iv), HumanDuration(min))
	}
	return nil
}

func (f Frequency) String() string {
	switch {
	case f.Kind == model.FrequencyDaily && f.Value == 1:
		return "daily"
	case f.Kind == model.FrequencyDaily:
		return fmt.Sprintf("every %d days", f.Value)
	case f.Kind == model.FrequencyHours && f.Value == 1:
		return "hourly"
	case f.Kind == model.FrequencyHours:
		return fmt.Sprintf("every %d hours", f.Value)
	case f.Value == 1:
		return "every minute"
	default:
		return fmt.Sprintf("every %d minutes", f.Value)
	}
}

// HumanDuration formats d as "2d 3h", "1h 5m" or "8m".
func HumanDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Minute {
		return "<1m"
	}
	d = d.Truncate(time.Minute)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	mins := d / time.Minute

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if mins > 0 && days == 0 {
		parts = append(parts, fmt.Sprintf("%dm", mins))
	}
	if len(parts) == 0 {
		return "<1m"
	}
	return strings.Join(parts, " ")
}
