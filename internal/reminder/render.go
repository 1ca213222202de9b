package reminder

import (
	"fmt"
	"html"
	"strings"
	"time"

	"nagger/internal/model"
	"nagger/internal/notifier"
)

const deadlineLayout = "Mon 02 Jan 15:04"

// Render builds the HTML body of a reminder. It is shared by scheduled
// reminders and test triggers so both look the same.
func Render(task *model.Task, loc *time.Location, now time.Time, sev notifier.Severity, test bool) string {
	if loc == nil {
		loc = time.UTC
	}
	escape := html.EscapeString
	remaining := task.Deadline.Sub(now)

	var b strings.Builder
	if test {
		b.WriteString("🧪 <b>Test Reminder</b>\n\n")
	}

	if sev == notifier.SeverityEscalated {
		b.WriteString("🚨 <b>URGENT REMINDER</b> 🚨\n\n")
	} else {
		b.WriteString("⏰ <b>Reminder</b>\n\n")
	}

	fmt.Fprintf(&b, "📝 <b>#%d %s</b>\n", task.Number, escape(task.Title))
	if task.Reminder != nil && task.Reminder.CustomMessage != "" {
		fmt.Fprintf(&b, "💬 %s\n", escape(task.Reminder.CustomMessage))
	} else if task.Description != "" {
		fmt.Fprintf(&b, "%s\n", escape(task.Description))
	}

	fmt.Fprintf(&b, "\n📅 Deadline: %s\n", task.Deadline.In(loc).Format(deadlineLayout))
	switch {
	case remaining <= 0:
		fmt.Fprintf(&b, "⚠️ Overdue by %s\n", HumanDuration(remaining))
	case sev == notifier.SeverityEscalated:
		fmt.Fprintf(&b, "⏳ Time left: <b>%s</b>\n", HumanDuration(remaining))
	default:
		fmt.Fprintf(&b, "⏳ Time left: %s\n", HumanDuration(remaining))
	}

	fmt.Fprintf(&b, "\nSend /done %d when it's finished.", task.Number)
	return b.String()
}
