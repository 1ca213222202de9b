package model

import (
	"time"

	"gorm.io/gorm"
)

// TaskStatus is the lifecycle state of a task. It only moves active -> completed.
type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskCompleted TaskStatus = "completed"
)

// Task is a single thing the owner is nagged about until it is done.
type Task struct {
	ID          uint       `gorm:"primaryKey"`
	UserID      uint       `gorm:"index;uniqueIndex:idx_task_owner_number,priority:1"`
	Number      int        `gorm:"uniqueIndex:idx_task_owner_number,priority:2"`
	Title       string     `gorm:"size:100;not null"`
	Description string     `gorm:"size:500"`
	Deadline    time.Time  `gorm:"not null"`
	Status      TaskStatus `gorm:"size:16;not null;default:active;index"`
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   gorm.DeletedAt `gorm:"index"`

	Reminder *Reminder `gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE"`
	User     *User     `gorm:"foreignKey:UserID"`
}

func (t *Task) IsActive() bool {
	return t.Status == TaskActive
}
