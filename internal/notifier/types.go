package notifier

import (
	"context"
	"time"
)

// Severity marks how urgent a reminder is.
type Severity string

const (
	SeverityNormal    Severity = "normal"
	SeverityEscalated Severity = "escalated"
)

// FailureClass tells the caller what to do after a failed delivery.
type FailureClass int

const (
	FailureNone FailureClass = iota
	// FailureTransient means the message may succeed later.
	FailureTransient
	// FailurePermanent means the recipient is unreachable (blocked bot, deleted chat).
	FailurePermanent
)

func (c FailureClass) String() string {
	switch c {
	case FailureNone:
		return "none"
	case FailureTransient:
		return "transient"
	case FailurePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Request is a single message to deliver.
type Request struct {
	ID         string
	ChatID     int64
	TaskID     uint
	TaskNumber int
	Text       string
	Severity   Severity
	Test       bool
	// OnResult is called once from a worker goroutine when delivery finishes.
	OnResult func(Result)
}

// Result is the final outcome of a Request.
type Result struct {
	RequestID string
	Attempts  int
	Class     FailureClass
	Err       error
}

func (r Result) Delivered() bool {
	return r.Class == FailureNone && r.Err == nil
}

// Sender performs one delivery attempt.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, chatID int64, text string) error

func (f SenderFunc) Send(ctx context.Context, chatID int64, text string) error {
	return f(ctx, chatID, text)
}

// Classifier maps a send error to a failure class.
type Classifier func(err error) FailureClass

// Config controls the async delivery pipeline.
type Config struct {
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}

// RetryAfterError is implemented by errors that carry a server-provided backoff.
type RetryAfterError interface {
	RetryAfter() time.Duration
}
