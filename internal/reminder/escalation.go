package reminder

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidPolicy = errors.New("invalid escalation policy")

// Band tightens the interval once less than Within is left until the deadline.
type Band struct {
	Within   time.Duration
	Interval time.Duration
}

// Policy is the escalation curve. Bands are ordered by Within ascending and
// their Interval never decreases, so reminders only get denser as the deadline
// approaches. Floor is the interval used once the deadline has passed and the
// lower clamp for every band.
type Policy struct {
	Floor time.Duration
	Bands []Band
}

func DefaultPolicy() Policy {
	return Policy{
		Floor: 5 * time.Minute,
		Bands: []Band{
			{Within: 10 * time.Minute, Interval: 5 * time.Minute},
			{Within: 30 * time.Minute, Interval: 15 * time.Minute},
			{Within: time.Hour, Interval: 30 * time.Minute},
		},
	}
}

func (p Policy) Validate() error {
	if p.Floor <= 0 {
		return fmt.Errorf("%w: floor must be positive", ErrInvalidPolicy)
	}
	for i, b := range p.Bands {
		if b.Within <= 0 || b.Interval <= 0 {
			return fmt.Errorf("%w: band %d must have positive bounds", ErrInvalidPolicy, i+1)
		}
		if i == 0 {
			continue
		}
		prev := p.Bands[i-1]
		if b.Within <= prev.Within {
			return fmt.Errorf("%w: band thresholds must be ascending (%s after %s)", ErrInvalidPolicy, b.Within, prev.Within)
		}
		if b.Interval < prev.Interval {
			return fmt.Errorf("%w: band %s interval %s is denser than closer band %s", ErrInvalidPolicy, b.Within, b.Interval, prev.Interval)
		}
	}
	return nil
}

// EffectiveInterval applies the curve to a base interval given the time left
// until the deadline. The result is never above base, and never below Floor
// as long as base is not (task validation keeps base >= Floor).
func (p Policy) EffectiveInterval(base, remaining time.Duration) time.Duration {
	if remaining <= 0 {
		return min(base, p.Floor)
	}
	for _, b := range p.Bands {
		if remaining < b.Within {
			return min(base, max(p.Floor, b.Interval))
		}
	}
	return base
}

// Engaged reports whether remaining falls inside the escalation zone.
func (p Policy) Engaged(remaining time.Duration) bool {
	if remaining <= 0 {
		return true
	}
	if len(p.Bands) == 0 {
		return false
	}
	return remaining < p.Bands[len(p.Bands)-1].Within
}

// ParseBands parses "10m:5m,30m:15m" into bands.
func ParseBands(s string) ([]Band, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var bands []Band
	for _, part := range strings.Split(s, ",") {
		within, interval, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("%w: band %q, expected WITHIN:INTERVAL", ErrInvalidPolicy, part)
		}
		w, err := time.ParseDuration(strings.TrimSpace(within))
		if err != nil {
			return nil, fmt.Errorf("%w: band %q: %v", ErrInvalidPolicy, part, err)
		}
		iv, err := time.ParseDuration(strings.TrimSpace(interval))
		if err != nil {
			return nil, fmt.Errorf("%w: band %q: %v", ErrInvalidPolicy, part, err)
		}
		bands = append(bands, Band{Within: w, Interval: iv})
	}
	return bands, nil
}

func (p Policy) String() string {
	parts := make([]string, 0, len(p.Bands))
	for _, b := range p.Bands {
		parts = append(parts, b.Within.String()+":"+b.Interval.String())
	}
	return fmt.Sprintf("floor=%s bands=%s", p.Floor, strings.Join(parts, ","))
}
