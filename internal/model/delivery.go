package model

import "time"

// Delivery outcomes recorded in the reminder journal.
const (
	OutcomeSent    = "sent"
	OutcomeTest    = "test"
	OutcomeBlocked = "blocked"
	OutcomeFailed  = "failed"
)

// Delivery is one row of reminder history.
type Delivery struct {
	ID         uint   `gorm:"primaryKey"`
	DeliveryID string `gorm:"size:36;uniqueIndex"`
	TaskID     uint   `gorm:"index"`
	UserID     uint   `gorm:"index"`
	Severity   string `gorm:"size:16"`
	Outcome    string `gorm:"size:16;index"`
	Attempts   int
	Error      string `gorm:"size:500"`
	CreatedAt  time.Time
}
