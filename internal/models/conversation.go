package models

import (
	"time"

	"gorm.io/gorm"
)

// Conversation rows are owned by the messaging CRUD layer; the signaling
// server only reads them to authorize room joins and to scope presence
// broadcasts to conversation partners.
type Conversation struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	IsGroup   bool           `gorm:"default:false" json:"is_group"`
	Name      string         `gorm:"size:128" json:"name"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
}

type ConversationParticipant struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID uint      `gorm:"not null;uniqueIndex:idx_conv_user" json:"conversation_id"`
	UserID         uint      `gorm:"not null;uniqueIndex:idx_conv_user;index" json:"user_id"`
	JoinedAt       time.Time `json:"joined_at"`
}

func (ConversationParticipant) TableName() string {
	return "conversation_participants"
}
