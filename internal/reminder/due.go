package reminder

import (
	"fmt"
	"time"

	"nagger/internal/model"
	"nagger/internal/notifier"
)

// Reasons reported by Evaluate.
const (
	ReasonDue           = "due"
	ReasonFirst         = "first reminder"
	ReasonInactive      = "task not active"
	ReasonNoReminder    = "no reminder configured"
	ReasonOutsideWindow = "outside active hours"
	ReasonNotElapsed    = "interval not elapsed"
)

// Evaluation is the outcome of the due-ness check for one task.
type Evaluation struct {
	Due       bool
	Reason    string
	Interval  time.Duration
	Remaining time.Duration
	Severity  notifier.Severity
	// NextAt is when the interval elapses, ignoring the active window.
	NextAt time.Time
}

// Evaluate decides whether task should be nagged at now. loc is the owner's
// location used for the active window. It has no side effects.
func Evaluate(task *model.Task, loc *time.Location, now time.Time, policy Policy) (Evaluation, error) {
	if !task.IsActive() {
		return Evaluation{Reason: ReasonInactive}, nil
	}
	r := task.Reminder
	if r == nil {
		return Evaluation{Reason: ReasonNoReminder}, nil
	}

	freq := FrequencyOf(r)
	if err := freq.Validate(0); err != nil {
		return Evaluation{}, fmt.Errorf("task %d: %w", task.ID, err)
	}
	window, hasWindow, err := ParseWindow(r.WindowStart, r.WindowEnd)
	if err != nil {
		return Evaluation{}, fmt.Errorf("task %d: %w", task.ID, err)
	}

	ev := Evaluation{
		Remaining: task.Deadline.Sub(now),
		Interval:  freq.Interval(),
		Severity:  notifier.SeverityNormal,
	}
	if r.EscalationEnabled {
		ev.Interval = policy.EffectiveInterval(ev.Interval, ev.Remaining)
		if policy.Engaged(ev.Remaining) {
			ev.Severity = notifier.SeverityEscalated
		}
	}

	if r.LastSent != nil {
		ev.NextAt = r.LastSent.Add(ev.Interval)
	} else {
		ev.NextAt = now
	}

	if hasWindow {
		if loc == nil {
			loc = time.UTC
		}
		if !window.Contains(now.In(loc)) {
			ev.Reason = ReasonOutsideWindow
			return ev, nil
		}
	}

	switch {
	case r.LastSent == nil:
		ev.Due, ev.Reason = true, ReasonFirst
	case now.Sub(*r.LastSent) >= ev.Interval:
		ev.Due, ev.Reason = true, ReasonDue
	default:
		ev.Reason = ReasonNotElapsed
	}
	return ev, nil
}
