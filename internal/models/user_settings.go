package models

import (
	"time"

	"gorm.io/gorm"
)

// UserSettings is the preference snapshot attached to every connection at
// handshake time. ShowOnlineStatus is the user-controlled visibility flag
// that gates presence broadcasts.
type UserSettings struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	UserID           uint           `gorm:"uniqueIndex;not null" json:"user_id"`
	ShowOnlineStatus bool           `gorm:"default:true" json:"show_online_status"`
	ReadReceipts     bool           `gorm:"default:true" json:"read_receipts"`
	TypingIndicators bool           `gorm:"default:true" json:"typing_indicators"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

func (UserSettings) TableName() string {
	return "user_settings"
}
