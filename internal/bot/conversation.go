package bot

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"nagger/internal/reminder"
	"nagger/internal/service"
)

type conversationState int

const (
	stateTitle conversationState = iota
	stateDescription
	stateDeadline
	stateFrequency
	stateWindow
	stateWindowStart
	stateWindowEnd
	stateEscalation
	stateMessage
	stateDone
	stateCancelled
)

var stateNames = map[conversationState]string{
	stateTitle:       "title",
	stateDescription: "description",
	stateDeadline:    "deadline",
	stateFrequency:   "frequency",
	stateWindow:      "window",
	stateWindowStart: "window-start",
	stateWindowEnd:   "window-end",
	stateEscalation:  "escalation",
	stateMessage:     "message",
	stateDone:        "done",
	stateCancelled:   "cancelled",
}

func (s conversationState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// retryError is shown to the user; the conversation stays in its state.
type retryError struct {
	msg string
}

func (e *retryError) Error() string { return e.msg }

func retry(format string, args ...any) error {
	return &retryError{msg: fmt.Sprintf(format, args...)}
}

// conversation collects a new task step by step. Every state accepts the
// cancel input and moves to stateCancelled.
type conversation struct {
	state       conversationState
	input       service.TaskInput
	loc         *time.Location
	minInterval time.Duration
	quick       reminder.Window
}

func newConversation(loc *time.Location, minInterval time.Duration, quick reminder.Window) *conversation {
	return &conversation{
		state:       stateTitle,
		loc:         loc,
		minInterval: minInterval,
		quick:       quick,
		input:       service.TaskInput{Escalation: true},
	}
}

func (c *conversation) finished() bool {
	return c.state == stateDone || c.state == stateCancelled
}

// advance feeds one user message into the state machine. A *retryError means
// the input was rejected and the same question should be asked again.
func (c *conversation) advance(text string, now time.Time) error {
	text = strings.TrimSpace(text)
	if isCancelDialogInput(text) {
		c.state = stateCancelled
		return nil
	}

	switch c.state {
	case stateTitle:
		if text == "" {
			return retry("The title can't be empty.")
		}
		if utf8.RuneCountInString(text) > service.MaxTitleLen {
			return retry("Keep the title under %d characters.", service.MaxTitleLen)
		}
		c.input.Title = text
		c.state = stateDescription

	case stateDescription:
		if !isSkipInput(text) {
			if utf8.RuneCountInString(text) > service.MaxDescriptionLen {
				return retry("Keep the description under %d characters.", service.MaxDescriptionLen)
			}
			c.input.Description = text
		}
		c.state = stateDeadline

	case stateDeadline:
		deadline, err := parseDeadline(text, c.loc, now.In(c.loc))
		if err != nil {
			return retry("I can't read that date. Try <code>2025-11-30 18:00</code>, <code>30.11.2025 18:00</code> or <code>+2h</code>.")
		}
		if !deadline.After(now) {
			return retry("The deadline must be in the future.")
		}
		c.input.Deadline = deadline
		c.state = stateFrequency

	case stateFrequency:
		freq, err := reminder.ParseFrequency(text)
		if err != nil {
			return retry("I don't understand that frequency. Try <code>30m</code>, <code>2h</code>, <code>every 45 minutes</code> or <code>3 times per day</code>.")
		}
		if err := freq.Validate(c.minInterval); err != nil {
			return retry("Reminders can't be more often than every %s.", reminder.HumanDuration(c.minInterval))
		}
		c.input.Frequency = freq
		c.state = stateWindow

	case stateWindow:
		switch {
		case isAnyTimeInput(text):
			c.input.WindowStart, c.input.WindowEnd = "", ""
			c.state = stateEscalation
		case isCustomWindowInput(text):
			c.state = stateWindowStart
		case strings.EqualFold(text, quickWindowLabel(c.quick)):
			c.input.WindowStart, c.input.WindowEnd = c.quick.StartClock(), c.quick.EndClock()
			c.state = stateEscalation
		default:
			w, err := reminder.ParseWindowRange(text)
			if err != nil {
				return retry("Pick one of the buttons or send hours like <code>09:00-21:00</code>.")
			}
			c.input.WindowStart, c.input.WindowEnd = w.StartClock(), w.EndClock()
			c.state = stateEscalation
		}

	case stateWindowStart:
		if _, err := reminder.ParseClock(text); err != nil {
			return retry("Send the start time as <code>HH:MM</code>, for example <code>09:00</code>.")
		}
		c.input.WindowStart = text
		c.state = stateWindowEnd

	case stateWindowEnd:
		w, _, err := reminder.ParseWindow(c.input.WindowStart, text)
		if err != nil {
			return retry("Send the end time as <code>HH:MM</code>, different from %s.", c.input.WindowStart)
		}
		c.input.WindowStart, c.input.WindowEnd = w.StartClock(), w.EndClock()
		c.state = stateEscalation

	case stateEscalation:
		switch {
		case isYesInput(text):
			c.input.Escalation = true
		case isNoInput(text):
			c.input.Escalation = false
		default:
			return retry("Answer «%s» or «%s».", btnYes, btnNo)
		}
		c.state = stateMessage

	case stateMessage:
		if !isSkipInput(text) {
			if utf8.RuneCountInString(text) > service.MaxMessageLen {
				return retry("Keep the message under %d characters.", service.MaxMessageLen)
			}
			c.input.CustomMessage = text
		}
		c.state = stateDone

	default:
		return fmt.Errorf("conversation already %s", c.state)
	}
	return nil
}

// prompt is the question asked in the current state.
func (c *conversation) prompt() (string, keyboardKind) {
	switch c.state {
	case stateTitle:
		return "🆕 New task.\n<b>Step 1:</b> what should I call it?", keyboardCancel
	case stateDescription:
		return "✏️ Add a short description (or press «Skip»).", keyboardSkip
	case stateDeadline:
		return fmt.Sprintf("⏰ When is it due? Send <code>2025-11-30 18:00</code>, <code>30.11.2025</code> or <code>+2h</code>.\nTimes are in %s.", c.loc), keyboardCancel
	case stateFrequency:
		return "🔁 How often should I nag you? Pick one or send something like <code>every 20 minutes</code>.", keyboardFrequency
	case stateWindow:
		return "🕐 When may I send reminders?", keyboardWindow
	case stateWindowStart:
		return "From what time? (<code>HH:MM</code>)", keyboardCancel
	case stateWindowEnd:
		return "Until what time? (<code>HH:MM</code>, may be past midnight)", keyboardCancel
	case stateEscalation:
		return "🚨 Remind more often as the deadline gets close?", keyboardYesNo
	case stateMessage:
		return "💬 Custom reminder text? (or press «Skip»)", keyboardSkip
	default:
		return "", keyboardMenu
	}
}
