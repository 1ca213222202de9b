package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"nagger/internal/model"
	"nagger/internal/notifier"
	"nagger/internal/reminder"
	"nagger/internal/service"
)

const (
	historyLimit     = 10
	quickDefaultFreq = "1h"
	settleTimeout    = 5 * time.Second
)

func (b *Bot) handleStart(msg *tgbotapi.Message, user *model.User) error {
	text := fmt.Sprintf(
		"👋 Hi, %s!\n<b>I nag you about tasks until they are done.</b>\n\n"+
			"• /add - create a task step by step\n"+
			"• /q title | deadline | frequency - quick add\n"+
			"• /list - your active tasks\n"+
			"• /done &lt;n&gt; - mark a task done\n"+
			"• /help - everything else",
		escape(user.DisplayName()),
	)
	if !b.users.HasTimezone(user) {
		text += fmt.Sprintf("\n\n⚠️ Your timezone isn't set, so I use <b>%s</b>. Send /timezone Europe/Berlin to change it.", escape(b.users.Location(user).String()))
	}
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	text := "ℹ️ <b>Commands</b>\n" +
		"• /add - create a task step by step\n" +
		"• /q title | deadline | frequency - quick add (hours " + b.quickWindow.String() + ", escalation on)\n" +
		"• /list - active tasks with buttons\n" +
		"• /done &lt;n&gt; - mark task #n done\n" +
		"• /delete &lt;n&gt; - delete task #n\n" +
		"• /test &lt;n&gt; - send a test reminder now\n" +
		"• /history &lt;n&gt; - recent reminders for task #n\n" +
		"• /timezone [Area/City] - show or set your timezone\n" +
		"• /info - your stats\n" +
		"• /report - summary of all active tasks\n" +
		"• /clear - delete every task\n" +
		"• /cancel - cancel the current input\n\n" +
		"Deadlines: <code>2025-11-30 18:00</code>, <code>30.11.2025 18:00</code>, <code>2025-11-30</code> or <code>+30m</code>, <code>+2h</code>, <code>+1d</code>, <code>+1w</code>.\n" +
		"Frequencies: <code>15m</code>, <code>2h</code>, <code>daily</code>, <code>every 20 minutes</code>, <code>3 times per day</code>."
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) startNewTaskConversation(msg *tgbotapi.Message, user *model.User) error {
	b.clearConfirmation(msg.From.ID)
	conv := newConversation(b.users.Location(user), b.tasks.MinInterval(), b.quickWindow)
	b.setConversation(msg.From.ID, conv)
	b.log.Debug().Int64("user", msg.From.ID).Msg("start new task conversation")

	text, kb := conv.prompt()
	return b.sendWithReplyMarkup(msg.Chat.ID, text, b.keyboard(kb))
}

func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message, user *model.User, conv *conversation) error {
	err := conv.advance(msg.Text, b.now())

	var retryErr *retryError
	switch {
	case errors.As(err, &retryErr):
		text, kb := conv.prompt()
		return b.sendWithReplyMarkup(msg.Chat.ID, retryErr.msg+"\n\n"+text, b.keyboard(kb))
	case err != nil:
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "The dialog was reset. Try again with /add.")
	}

	switch conv.state {
	case stateCancelled:
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Task creation cancelled.")
	case stateDone:
		b.clearConversation(msg.From.ID)
		return b.finishTaskCreation(ctx, msg.Chat.ID, user, conv.input)
	}

	text, kb := conv.prompt()
	return b.sendWithReplyMarkup(msg.Chat.ID, text, b.keyboard(kb))
}

// handleQuickAdd parses "/q title | deadline | frequency".
func (b *Bot) handleQuickAdd(ctx context.Context, msg *tgbotapi.Message, user *model.User) error {
	usage := "Usage: <code>/q title | deadline | frequency</code>\nFor example: <code>/q Pay rent | +2d | 4h</code>"
	parts := strings.Split(msg.CommandArguments(), "|")
	if len(parts) < 2 || len(parts) > 3 {
		return b.sendText(msg.Chat.ID, usage)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	loc := b.users.Location(user)
	deadline, err := parseDeadline(parts[1], loc, b.now().In(loc))
	if err != nil {
		return b.sendText(msg.Chat.ID, "I can't read that deadline.\n"+usage)
	}

	rawFreq := quickDefaultFreq
	if len(parts) == 3 && parts[2] != "" {
		rawFreq = parts[2]
	}
	freq, err := reminder.ParseFrequency(rawFreq)
	if err != nil {
		return b.sendText(msg.Chat.ID, "I don't understand that frequency.\n"+usage)
	}

	input := service.TaskInput{
		Title:       parts[0],
		Deadline:    deadline,
		Frequency:   freq,
		WindowStart: b.quickWindow.StartClock(),
		WindowEnd:   b.quickWindow.EndClock(),
		Escalation:  true,
	}
	return b.finishTaskCreation(ctx, msg.Chat.ID, user, input)
}

func (b *Bot) finishTaskCreation(ctx context.Context, chatID int64, user *model.User, input service.TaskInput) error {
	task, err := b.tasks.CreateTask(ctx, user, input)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			return b.sendText(chatID, fmt.Sprintf("Couldn't save the task: %s", escape(err.Error())))
		}
		return err
	}

	b.log.Info().Uint("task", task.ID).Int("number", task.Number).Uint("user", user.ID).Msg("task created")

	loc := b.users.Location(user)
	r := task.Reminder

	var summary strings.Builder
	summary.WriteString("✅ <b>Task saved</b>\n")
	summary.WriteString(fmt.Sprintf("• <b>Number:</b> #%d\n", task.Number))
	summary.WriteString(fmt.Sprintf("• <b>Title:</b> %s\n", escape(normalizeTitle(task.Title))))
	if task.Description != "" {
		summary.WriteString(fmt.Sprintf("• <b>Description:</b> %s\n", escape(task.Description)))
	}
	summary.WriteString(fmt.Sprintf("• <b>Deadline:</b> %s (%s)\n", task.Deadline.In(loc).Format("2006-01-02 15:04"), escape(loc.String())))
	summary.WriteString(fmt.Sprintf("• <b>Reminders:</b> %s", reminder.FrequencyOf(r)))
	if r.HasWindow() {
		summary.WriteString(fmt.Sprintf(", %s-%s", r.WindowStart, r.WindowEnd))
	}
	if r.EscalationEnabled {
		summary.WriteString(", escalating")
	}
	summary.WriteString("\n")
	if r.CustomMessage != "" {
		summary.WriteString(fmt.Sprintf("• <b>Message:</b> %s\n", escape(r.CustomMessage)))
	}
	summary.WriteString(fmt.Sprintf("\nSend /done %d when it's finished.", task.Number))

	return b.sendText(chatID, summary.String())
}

func (b *Bot) sendTaskList(ctx context.Context, chatID int64, user *model.User) error {
	tasks, err := b.tasks.ListActive(ctx, user)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return b.sendText(chatID, "You have no active tasks. Add one with /add.")
	}

	now := b.now().In(b.users.Location(user))

	var builder strings.Builder
	builder.WriteString("📋 <b>Active tasks</b>\n")
	builder.WriteString("Tap ✅ to finish, 🧪 to test or 🗑 to delete.\n\n")

	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, task := range tasks {
		builder.WriteString(service.FormatTask(task, now))
		builder.WriteByte('\n')
		buttons = append(buttons, taskButtons(task.Number, task.Title))
	}

	msg := tgbotapi.NewMessage(chatID, strings.TrimSpace(builder.String()))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err = b.api.Send(msg)
	return err
}

func (b *Bot) handleDone(ctx context.Context, msg *tgbotapi.Message, user *model.User) error {
	number, ok := parseNumber(msg.CommandArguments())
	if !ok {
		return b.sendText(msg.Chat.ID, "Give me the task number: /done 3")
	}
	return b.completeTask(ctx, msg.Chat.ID, user, number)
}

func (b *Bot) completeTask(ctx context.Context, chatID int64, user *model.User, number int) error {
	task, err := b.tasks.GetTask(ctx, user, number)
	if err != nil {
		return b.replyError(chatID, err)
	}
	if !task.IsActive() {
		return b.sendText(chatID, fmt.Sprintf("Task #%d is already done.", number))
	}

	task, err = b.tasks.CompleteTask(ctx, user, number)
	if err != nil {
		return b.replyError(chatID, err)
	}
	b.log.Info().Uint("task", task.ID).Int("number", number).Uint("user", user.ID).Msg("task completed")
	return b.sendText(chatID, fmt.Sprintf("✅ Task #%d «%s» is done. No more reminders for it.", task.Number, escape(normalizeTitle(task.Title))))
}

func (b *Bot) handleDelete(ctx context.Context, msg *tgbotapi.Message, user *model.User) error {
	number, ok := parseNumber(msg.CommandArguments())
	if !ok {
		return b.sendText(msg.Chat.ID, "Give me the task number: /delete 3")
	}
	return b.askConfirmation(ctx, msg.Chat.ID, msg.From.ID, user, number, actionDelete)
}

func (b *Bot) handleTest(ctx context.Context, msg *tgbotapi.Message, user *model.User) error {
	number, ok := parseNumber(msg.CommandArguments())
	if !ok {
		return b.sendText(msg.Chat.ID, "Give me the task number: /test 3")
	}
	return b.fireTest(ctx, msg.Chat.ID, user, number)
}

func (b *Bot) fireTest(ctx context.Context, chatID int64, user *model.User, number int) error {
	if _, err := b.tasks.GetTask(ctx, user, number); err != nil {
		return b.replyError(chatID, err)
	}
	id, err := b.tester.FireTest(ctx, user.ID, number)
	if err != nil {
		if errors.Is(err, reminder.ErrNoReminder) {
			return b.sendText(chatID, fmt.Sprintf("Task #%d has no reminder configured.", number))
		}
		b.log.Warn().Err(err).Int("number", number).Uint("user", user.ID).Msg("test reminder not queued")
		return b.sendText(chatID, "Couldn't queue the test reminder. Try again in a minute.")
	}
	b.log.Info().Str("request_id", id).Int("number", number).Uint("user", user.ID).Msg("test reminder queued")
	return nil
}

func (b *Bot) handleHistory(ctx context.Context, msg *tgbotapi.Message, user *model.User) error {
	number, ok := parseNumber(msg.CommandArguments())
	if !ok {
		return b.sendText(msg.Chat.ID, "Give me the task number: /history 3")
	}
	task, deliveries, err := b.tasks.History(ctx, user, number, historyLimit)
	if err != nil {
		return b.replyError(msg.Chat.ID, err)
	}

	loc := b.users.Location(user)
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("🕘 <b>Reminders for #%d</b> %s\n", task.Number, escape(normalizeTitle(task.Title))))
	if len(deliveries) == 0 {
		builder.WriteString("Nothing sent yet.")
	}
	for _, d := range deliveries {
		builder.WriteString(fmt.Sprintf("• %s · %s", d.CreatedAt.In(loc).Format("2006-01-02 15:04"), outcomeLabel(d.Outcome)))
		if d.Severity == string(notifier.SeverityEscalated) {
			builder.WriteString(" · urgent")
		}
		if d.Attempts > 1 {
			builder.WriteString(fmt.Sprintf(" · %d attempts", d.Attempts))
		}
		builder.WriteByte('\n')
	}
	return b.sendText(msg.Chat.ID, builder.String())
}

func outcomeLabel(outcome string) string {
	switch outcome {
	case model.OutcomeSent:
		return "sent"
	case model.OutcomeTest:
		return "test"
	case model.OutcomeBlocked:
		return "blocked"
	case model.OutcomeFailed:
		return "failed, retried later"
	default:
		return outcome
	}
}

func (b *Bot) handleTimezone(ctx context.Context, msg *tgbotapi.Message, user *model.User) error {
	name := strings.TrimSpace(msg.CommandArguments())
	if name == "" {
		current := b.users.Location(user).String()
		if !b.users.HasTimezone(user) {
			current += " (default)"
		}
		return b.sendText(msg.Chat.ID, fmt.Sprintf("🌍 Your timezone: <b>%s</b>\nChange it with /timezone Area/City, for example /timezone Asia/Tokyo.", escape(current)))
	}

	loc, err := b.users.SetTimezone(ctx, user, name)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			return b.sendText(msg.Chat.ID, fmt.Sprintf("Unknown timezone %q. Use an IANA name like Europe/Berlin.", escape(name)))
		}
		return err
	}
	local := b.now().In(loc)
	return b.sendText(msg.Chat.ID, fmt.Sprintf("🌍 Timezone set to <b>%s</b>. Local time there is %s.", escape(loc.String()), local.Format("15:04")))
}

func (b *Bot) handleInfo(ctx context.Context, msg *tgbotapi.Message, user *model.User) error {
	loc := b.users.Location(user)
	stats, err := b.tasks.Stats(ctx, user, loc)
	if err != nil {
		return err
	}

	zone := loc.String()
	if !b.users.HasTimezone(user) {
		zone += " (default)"
	}
	state := "on"
	if user.NotificationsPaused {
		state = "paused"
	}

	text := fmt.Sprintf(
		"📊 <b>Your stats</b>\n"+
			"• Active: %d\n"+
			"• Overdue: %d\n"+
			"• Completed: %d\n"+
			"• Reminders today: %d\n"+
			"• Timezone: %s\n"+
			"• Notifications: %s",
		stats.Active, stats.Overdue, stats.Completed, stats.SentToday, escape(zone), state,
	)
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleReport(ctx context.Context, msg *tgbotapi.Message, user *model.User) error {
	text, err := b.reports.Summary(ctx, *user, b.now().In(b.users.Location(user)))
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Couldn't build the report: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleClear(ctx context.Context, msg *tgbotapi.Message, user *model.User) error {
	tasks, err := b.tasks.ListActive(ctx, user)
	if err != nil {
		return err
	}
	b.clearConversation(msg.From.ID)
	b.setConfirmation(msg.From.ID, confirmationRequest{action: actionClear})
	text := fmt.Sprintf("Delete <b>all</b> your tasks (%d active)? Task numbers will keep counting up.", len(tasks))
	return b.sendWithReplyMarkup(msg.Chat.ID, text, confirmKeyboard())
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		return nil
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Debug().Err(err).Msg("callback ack")
	}

	var (
		prefix string
		action confirmationAction
		test   bool
	)
	switch {
	case strings.HasPrefix(cb.Data, cbCompletePrefix):
		prefix, action = cbCompletePrefix, actionComplete
	case strings.HasPrefix(cb.Data, cbDeletePrefix):
		prefix, action = cbDeletePrefix, actionDelete
	case strings.HasPrefix(cb.Data, cbTestPrefix):
		prefix, test = cbTestPrefix, true
	default:
		return nil
	}

	number, ok := parseNumber(strings.TrimPrefix(cb.Data, prefix))
	if !ok {
		return nil
	}
	b.log.Info().Int64("user", cb.From.ID).Str("data", cb.Data).Msg("callback")

	chatID := cb.Message.Chat.ID
	user, err := b.ensureUser(ctx, chatID, cb.From)
	if err != nil {
		return err
	}
	if test {
		return b.fireTest(ctx, chatID, user, number)
	}
	return b.askConfirmation(ctx, chatID, cb.From.ID, user, number, action)
}

func (b *Bot) askConfirmation(ctx context.Context, chatID, fromID int64, user *model.User, number int, action confirmationAction) error {
	task, err := b.tasks.GetTask(ctx, user, number)
	if err != nil {
		return b.replyError(chatID, err)
	}

	var text string
	switch action {
	case actionComplete:
		if !task.IsActive() {
			return b.sendText(chatID, fmt.Sprintf("Task #%d is already done.", number))
		}
		text = fmt.Sprintf("Mark task «%s» (#%d) as done?", escape(normalizeTitle(task.Title)), task.Number)
	default:
		text = fmt.Sprintf("Delete task «%s» (#%d)?", escape(normalizeTitle(task.Title)), task.Number)
	}

	b.clearConversation(fromID)
	b.setConfirmation(fromID, confirmationRequest{number: task.Number, action: action})
	return b.sendWithReplyMarkup(chatID, text, confirmKeyboard())
}

func (b *Bot) handleConfirmationResponse(ctx context.Context, msg *tgbotapi.Message, user *model.User, req confirmationRequest) error {
	switch {
	case isConfirmInput(msg.Text):
		b.clearConfirmation(msg.From.ID)
		switch req.action {
		case actionDelete:
			return b.deleteTask(ctx, msg.Chat.ID, user, req.number)
		case actionClear:
			return b.clearTasks(ctx, msg.Chat.ID, user)
		default:
			return b.completeTask(ctx, msg.Chat.ID, user, req.number)
		}
	case isCancelInput(msg.Text), isCancelDialogInput(msg.Text):
		b.clearConfirmation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "OK, nothing changed.")
	default:
		return b.sendWithReplyMarkup(msg.Chat.ID, "Confirm or go back.", confirmKeyboard())
	}
}

func (b *Bot) deleteTask(ctx context.Context, chatID int64, user *model.User, number int) error {
	task, err := b.tasks.GetTask(ctx, user, number)
	if err != nil {
		return b.replyError(chatID, err)
	}
	if err := b.tasks.DeleteTask(ctx, user, number); err != nil {
		return b.replyError(chatID, err)
	}
	b.log.Info().Uint("task", task.ID).Int("number", number).Uint("user", user.ID).Msg("task deleted")
	return b.sendText(chatID, fmt.Sprintf("\U0001F5D1 Task #%d «%s» deleted.", task.Number, escape(normalizeTitle(task.Title))))
}

func (b *Bot) clearTasks(ctx context.Context, chatID int64, user *model.User) error {
	n, err := b.tasks.ClearTasks(ctx, user)
	if err != nil {
		return err
	}
	b.log.Info().Int64("deleted", n).Uint("user", user.ID).Msg("tasks cleared")
	return b.sendText(chatID, fmt.Sprintf("\U0001F5D1 Deleted %d task(s).", n))
}

// SendReports queues a summary for every user with active tasks. Users the
// bot can no longer reach are paused.
func (b *Bot) SendReports(ctx context.Context) error {
	users, err := b.users.ListWithActiveTasks(ctx)
	if err != nil {
		return err
	}
	now := b.now()
	queued := 0
	for _, user := range users {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if user.NotificationsPaused {
			continue
		}
		text, err := b.reports.Summary(ctx, user, now.In(b.users.Location(&user)))
		if err != nil {
			b.log.Warn().Err(err).Int64("user", user.TelegramID).Msg("build summary")
			continue
		}
		req := notifier.Request{
			ID:       uuid.NewString(),
			ChatID:   user.TelegramID,
			Text:     text,
			Severity: notifier.SeverityNormal,
		}
		req.OnResult = func(res notifier.Result) {
			b.settleReport(&user, req, res)
		}
		if err := b.outbox.Notify(ctx, req); err != nil {
			b.log.Warn().Err(err).Int64("user", user.TelegramID).Msg("queue summary")
			continue
		}
		queued++
	}
	b.log.Info().Int("users", len(users)).Int("queued", queued).Msg("reports queued")
	return nil
}

func (b *Bot) settleReport(user *model.User, req notifier.Request, res notifier.Result) {
	log := b.log.With().Int64("user", user.TelegramID).Str("delivery_id", req.ID).Logger()
	switch res.Class {
	case notifier.FailureNone:
		return
	case notifier.FailurePermanent:
		reason := "unreachable"
		if res.Err != nil {
			reason = res.Err.Error()
		}
		ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
		defer cancel()
		if err := b.users.Pause(ctx, user, reason); err != nil {
			log.Error().Err(err).Msg("pause notifications")
			return
		}
		log.Warn().Err(res.Err).Msg("recipient unreachable, notifications paused")
	default:
		log.Warn().Err(res.Err).Int("attempts", res.Attempts).Msg("summary not delivered")
	}
}

func (b *Bot) replyError(chatID int64, err error) error {
	if errors.Is(err, service.ErrTaskNotFound) {
		return b.sendText(chatID, "Task not found.")
	}
	return err
}

func parseNumber(raw string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(raw), "#"))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

