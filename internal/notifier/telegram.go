package notifier

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MessageSender is the part of *tgbotapi.BotAPI used for delivery.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender delivers HTML messages through the Bot API.
type TelegramSender struct {
	api MessageSender
}

func NewTelegramSender(api MessageSender) *TelegramSender {
	return &TelegramSender{api: api}
}

func (t *TelegramSender) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	errCh := make(chan error, 1)
	go func() {
		_, err := t.api.Send(msg)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return wrapTelegramError(err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

type telegramError struct {
	err        error
	retryAfter time.Duration
}

func (e *telegramError) Error() string             { return e.err.Error() }
func (e *telegramError) Unwrap() error             { return e.err }
func (e *telegramError) RetryAfter() time.Duration { return e.retryAfter }

func wrapTelegramError(err error) error {
	if err == nil {
		return nil
	}
	if apiErr := asAPIError(err); apiErr != nil && apiErr.RetryAfter > 0 {
		return &telegramError{err: err, retryAfter: time.Duration(apiErr.RetryAfter) * time.Second}
	}
	return err
}

func asAPIError(err error) *tgbotapi.Error {
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) && ptr != nil {
		return ptr
	}
	var val tgbotapi.Error
	if errors.As(err, &val) {
		return &val
	}
	return nil
}

// Phrases Telegram uses when the chat can no longer receive messages.
var unreachablePhrases = []string{
	"bot was blocked by the user",
	"chat not found",
	"user is deactivated",
	"bot was kicked",
	"bot can't initiate conversation",
}

// ClassifyTelegramError maps Bot API errors to failure classes.
func ClassifyTelegramError(err error) FailureClass {
	if err == nil {
		return FailureNone
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return FailureTransient
	}

	if apiErr := asAPIError(err); apiErr != nil {
		msg := strings.ToLower(apiErr.Message)
		switch {
		case apiErr.Code == 403:
			return FailurePermanent
		case apiErr.Code == 400 && containsAny(msg, unreachablePhrases):
			return FailurePermanent
		default:
			return FailureTransient
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureTransient
	}
	if containsAny(strings.ToLower(err.Error()), unreachablePhrases) {
		return FailurePermanent
	}
	return FailureTransient
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
