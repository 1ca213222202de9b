package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"nagger/internal/model"
	"nagger/internal/notifier"
	"nagger/internal/reminder"
	"nagger/internal/service"
)

const (
	cbCompletePrefix = "complete:"
	cbDeletePrefix   = "delete:"
	cbTestPrefix     = "test:"
)

type confirmationAction int

const (
	actionComplete confirmationAction = iota
	actionDelete
	actionClear
)

type confirmationRequest struct {
	number int
	action confirmationAction
}

// messenger is the part of *tgbotapi.BotAPI the bot talks to.
type messenger interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Tester sends a one-off test reminder for a task.
type Tester interface {
	FireTest(ctx context.Context, userID uint, number int) (string, error)
}

// Outbox queues messages that are not replies, such as digests.
type Outbox interface {
	Notify(ctx context.Context, req notifier.Request) error
}

// Bot aggregates Telegram API with services.
type Bot struct {
	api         messenger
	users       *service.UserService
	tasks       *service.TaskService
	reports     *service.ReportService
	tester      Tester
	outbox      Outbox
	quickWindow reminder.Window
	log         zerolog.Logger
	now         func() time.Time

	conversations map[int64]*conversation
	confirmations map[int64]confirmationRequest
	mu            sync.Mutex
}

// NewAPI authorises the bot token.
func NewAPI(token string, log zerolog.Logger) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	log.Info().Str("account", api.Self.UserName).Msg("bot authorized")
	return api, nil
}

func New(api messenger, users *service.UserService, tasks *service.TaskService, reports *service.ReportService, tester Tester, outbox Outbox, quickWindow reminder.Window, log zerolog.Logger) *Bot {
	return &Bot{
		api:           api,
		users:         users,
		tasks:         tasks,
		reports:       reports,
		tester:        tester,
		outbox:        outbox,
		quickWindow:   quickWindow,
		log:           log.With().Str("comp", "bot").Logger(),
		now:           time.Now,
		conversations: make(map[int64]*conversation),
		confirmations: make(map[int64]confirmationRequest),
	}
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.log.Info().Msg("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		b.handleUpdate(ctx, update)
	}
	return ctx.Err()
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Int("update", update.UpdateID).Msg("update handler panicked")
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
			b.log.Warn().Err(err).Msg("handle callback")
		}
	case update.Message != nil:
		if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
			return
		}
		if err := b.handleMessage(ctx, update.Message); err != nil {
			b.log.Warn().Err(err).Msg("handle message")
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	user, err := b.ensureUser(ctx, msg.Chat.ID, msg.From)
	if err != nil {
		return err
	}

	if msg.IsCommand() {
		return b.handleCommand(ctx, msg, user)
	}

	if handled, err := b.handleMenuAlias(ctx, msg, user); handled {
		return err
	}

	if pending, ok := b.getConfirmation(msg.From.ID); ok {
		return b.handleConfirmationResponse(ctx, msg, user, pending)
	}

	if conv := b.getConversation(msg.From.ID); conv != nil {
		b.log.Debug().Int64("user", msg.From.ID).Stringer("state", conv.state).Msg("conversation step")
		return b.handleConversation(ctx, msg, user, conv)
	}

	if isCancelDialogInput(msg.Text) {
		return b.sendText(msg.Chat.ID, "Nothing to cancel.")
	}
	return b.sendText(msg.Chat.ID, "I didn't get that. Send /add to create a task or /help for the command list.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, user *model.User) error {
	started := time.Now()
	err := b.dispatchCommand(ctx, msg, user)

	ev := b.log.Info()
	if err != nil {
		ev = b.log.Warn().Err(err)
	}
	ev.Str("cmd", msg.Command()).
		Int64("user", msg.From.ID).
		Dur("took", time.Since(started)).
		Msg("command handled")
	return err
}

func (b *Bot) dispatchCommand(ctx context.Context, msg *tgbotapi.Message, user *model.User) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(msg, user)
	case "help":
		return b.handleHelp(msg)
	case "add", "newtask":
		return b.startNewTaskConversation(msg, user)
	case "q":
		return b.handleQuickAdd(ctx, msg, user)
	case "list", "tasks":
		return b.sendTaskList(ctx, msg.Chat.ID, user)
	case "done", "complete":
		return b.handleDone(ctx, msg, user)
	case "delete":
		return b.handleDelete(ctx, msg, user)
	case "test":
		return b.handleTest(ctx, msg, user)
	case "history":
		return b.handleHistory(ctx, msg, user)
	case "timezone", "tz":
		return b.handleTimezone(ctx, msg, user)
	case "info":
		return b.handleInfo(ctx, msg, user)
	case "report":
		return b.handleReport(ctx, msg, user)
	case "clear":
		return b.handleClear(ctx, msg, user)
	case "cancel":
		b.clearConversation(msg.From.ID)
		b.clearConfirmation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Cancelled.")
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. See /help.")
	}
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message, user *model.User) (bool, error) {
	switch normalized(msg.Text) {
	case normalized(menuLabelNewTask):
		return true, b.startNewTaskConversation(msg, user)
	case normalized(menuLabelTasks):
		return true, b.sendTaskList(ctx, msg.Chat.ID, user)
	case normalized(menuLabelInfo):
		return true, b.handleInfo(ctx, msg, user)
	case normalized(menuLabelHelp):
		return true, b.handleHelp(msg)
	default:
		return false, nil
	}
}

// ensureUser records the sender and lifts a delivery pause.
func (b *Bot) ensureUser(ctx context.Context, chatID int64, from *tgbotapi.User) (*model.User, error) {
	user, resumed, err := b.users.Touch(ctx, from.ID, from.FirstName, from.LastName, from.UserName)
	if err != nil {
		return nil, err
	}
	if resumed {
		b.log.Info().Int64("user", from.ID).Msg("notifications resumed")
		if err := b.sendText(chatID, "🔔 Welcome back! Reminders are on again."); err != nil {
			b.log.Warn().Err(err).Msg("send resume notice")
		}
	}
	return user, nil
}

func (b *Bot) sendText(chatID int64, text string) error {
	return b.sendWithReplyMarkup(chatID, text, mainMenuKeyboard())
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, strings.TrimSpace(text))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) getConfirmation(userID int64) (confirmationRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.confirmations[userID]
	return req, ok
}

func (b *Bot) setConfirmation(userID int64, req confirmationRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirmations[userID] = req
}

func (b *Bot) clearConfirmation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.confirmations, userID)
}

func (b *Bot) setConversation(userID int64, conv *conversation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[userID] = conv
}

func (b *Bot) getConversation(userID int64) *conversation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[userID]
}

func (b *Bot) clearConversation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, userID)
}
