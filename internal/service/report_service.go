package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"nagger/internal/model"
	"nagger/internal/reminder"
	"nagger/internal/repository"
)

// ReportService builds human-readable task summaries.
type ReportService struct {
	tasks *repository.TaskRepository
}

func NewReportService(tasks *repository.TaskRepository) *ReportService {
	return &ReportService{tasks: tasks}
}

// Summary renders the user's active tasks. now must be in the user's location.
func (s *ReportService) Summary(ctx context.Context, user model.User, now time.Time) (string, error) {
	tasks, err := s.tasks.ListActive(ctx, user.ID)
	if err != nil {
		return "", err
	}

	var overdue, pending []model.Task
	for _, task := range tasks {
		if now.After(task.Deadline) {
			overdue = append(overdue, task)
		} else {
			pending = append(pending, task)
		}
	}

	var builder strings.Builder
	builder.WriteString("📋 <b>Task report</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", now.Format("Mon 02 Jan 2006 15:04")))

	if len(tasks) == 0 {
		builder.WriteString("- no active tasks 🎉\n")
		return strings.TrimSpace(builder.String()), nil
	}

	if len(overdue) > 0 {
		builder.WriteString("⚠️ <b>Overdue</b>\n")
		for _, task := range overdue {
			builder.WriteString(FormatTask(task, now))
		}
		builder.WriteByte('\n')
	}

	builder.WriteString("🔥 <b>Upcoming</b>\n")
	if len(pending) == 0 {
		builder.WriteString("- nothing else pending\n")
	}
	for _, task := range pending {
		builder.WriteString(FormatTask(task, now))
	}

	return strings.TrimSpace(builder.String()), nil
}

// FormatTask renders one task line block for lists and reports.
func FormatTask(task model.Task, now time.Time) string {
	var sb strings.Builder

	d := task.Deadline.In(now.Location())
	icon := "🟢"
	switch {
	case now.After(d):
		icon = "⚠️"
	case d.Sub(now) <= 24*time.Hour:
		icon = "⏳"
	}

	title := html.EscapeString(strings.TrimSpace(task.Title))
	sb.WriteString(fmt.Sprintf("%s <b>#%d</b> %s", icon, task.Number, title))

	if now.After(d) {
		sb.WriteString(fmt.Sprintf("\n   ⏰ %s · <b>overdue by %s</b>", d.Format("2006-01-02 15:04"), reminder.HumanDuration(now.Sub(d))))
	} else {
		sb.WriteString(fmt.Sprintf("\n   ⏰ %s · %s left", d.Format("2006-01-02 15:04"), reminder.HumanDuration(d.Sub(now))))
	}

	if r := task.Reminder; r != nil {
		sb.WriteString(fmt.Sprintf("\n   🔔 %s", reminder.FrequencyOf(r)))
		if r.HasWindow() {
			sb.WriteString(fmt.Sprintf(", %s-%s", r.WindowStart, r.WindowEnd))
		}
		if r.EscalationEnabled {
			sb.WriteString(", escalates")
		}
	}

	if task.Description != "" {
		sb.WriteString(fmt.Sprintf("\n   📝 %s", html.EscapeString(strings.TrimSpace(task.Description))))
	}

	sb.WriteByte('\n')
	return sb.String()
}
