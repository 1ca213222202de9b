package notifier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessageSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeMessageSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, f.err
}

func TestTelegramSenderSendsHTML(t *testing.T) {
	api := &fakeMessageSender{}
	require.NoError(t, NewTelegramSender(api).Send(context.Background(), 55, "<b>hi</b>"))

	require.Len(t, api.sent, 1)
	assert.Equal(t, int64(55), api.sent[0].ChatID)
	assert.Equal(t, "<b>hi</b>", api.sent[0].Text)
	assert.Equal(t, tgbotapi.ModeHTML, api.sent[0].ParseMode)
}

func TestTelegramSenderRetryAfter(t *testing.T) {
	api := &fakeMessageSender{err: &tgbotapi.Error{
		Code:               429,
		Message:            "Too Many Requests: retry after 7",
		ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 7},
	}}
	err := NewTelegramSender(api).Send(context.Background(), 1, "x")

	var ra RetryAfterError
	require.ErrorAs(t, err, &ra)
	assert.Equal(t, 7*time.Second, ra.RetryAfter())
	assert.Equal(t, FailureTransient, ClassifyTelegramError(err))
}

func TestTelegramSenderCancelled(t *testing.T) {
	api := &fakeMessageSender{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, NewTelegramSender(api).Send(ctx, 1, "x"), context.Canceled)
	assert.Empty(t, api.sent)
}

func TestClassifyTelegramError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want FailureClass
	}{
		{"nil", nil, FailureNone},
		{"blocked", &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}, FailurePermanent},
		{"deactivated", &tgbotapi.Error{Code: 403, Message: "Forbidden: user is deactivated"}, FailurePermanent},
		{"chat not found", &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}, FailurePermanent},
		{"wrapped value", fmt.Errorf("send: %w", tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}), FailurePermanent},
		{"other bad request", &tgbotapi.Error{Code: 400, Message: "Bad Request: message is too long"}, FailureTransient},
		{"rate limited", &tgbotapi.Error{Code: 429, Message: "Too Many Requests"}, FailureTransient},
		{"server error", &tgbotapi.Error{Code: 502, Message: "Bad Gateway"}, FailureTransient},
		{"network", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, FailureTransient},
		{"deadline", context.DeadlineExceeded, FailureTransient},
		{"plain text", errors.New("Forbidden: bot was blocked by the user"), FailurePermanent},
		{"unknown", errors.New("something odd"), FailureTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyTelegramError(tc.err))
		})
	}
}
