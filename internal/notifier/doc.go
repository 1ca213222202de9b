// Package notifier delivers rendered reminders to chat users.
//
// Requests are queued and drained by a small worker pool. Sends are rate
// limited and transient failures are retried with exponential backoff. Every
// request ends with exactly one Result passed to its OnResult callback, which
// tells the caller whether the message was delivered, failed transiently, or
// failed permanently (the recipient can no longer be reached).
package notifier
