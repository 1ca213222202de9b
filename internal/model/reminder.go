package model

import "time"

// Frequency kinds accepted by the scheduler.
const (
	FrequencyMinutes = "minutes"
	FrequencyHours   = "hours"
	FrequencyDaily   = "daily"
)

// Reminder holds the schedule of a task. Only the scheduler writes LastSent.
type Reminder struct {
	ID             uint   `gorm:"primaryKey"`
	TaskID         uint   `gorm:"uniqueIndex;not null"`
	FrequencyKind  string `gorm:"size:16;not null"`
	FrequencyValue int    `gorm:"not null"`
	// WindowStart and WindowEnd are HH:MM in the owner's local time. Both empty
	// means "any time".
	WindowStart       string `gorm:"size:5"`
	WindowEnd         string `gorm:"size:5"`
	EscalationEnabled bool   `gorm:"not null"`
	CustomMessage     string `gorm:"size:500"`
	LastSent          *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (r *Reminder) HasWindow() bool {
	return r.WindowStart != "" && r.WindowEnd != ""
}
