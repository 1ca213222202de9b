package model

import "time"

// User stores Telegram user metadata and per-owner scheduling state.
type User struct {
	ID         uint  `gorm:"primaryKey"`
	TelegramID int64 `gorm:"uniqueIndex"`
	FirstName  string
	LastName   string
	Username   string
	// Timezone is an IANA zone name. Empty means the user never set one.
	Timezone string
	// NextTaskNumber is the next owner-scoped task number. It only grows.
	NextTaskNumber      int    `gorm:"not null;default:1"`
	NotificationsPaused bool   `gorm:"not null;default:false"`
	PausedReason        string
	LastActiveAt        *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// DisplayName returns the best human label for the user.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return "@" + u.Username
	default:
		return "there"
	}
}
