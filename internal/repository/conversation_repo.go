package repository

import (
	"errors"

	"parley/internal/models"

	"gorm.io/gorm"
)

type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) GetByID(id uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.First(&conv, id).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// IsParticipant reports whether the user belongs to the conversation. The
// chat gateway must check this before joining a connection to a
// conversation room.
func (r *ConversationRepository) IsParticipant(conversationID, userID uint) (bool, error) {
	var p models.ConversationParticipant
	err := r.db.Where("conversation_id = ? AND user_id = ?", conversationID, userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListPartnerIDs returns the distinct users sharing at least one
// conversation with userID, excluding userID itself. Presence broadcasts
// are scoped to this set.
func (r *ConversationRepository) ListPartnerIDs(userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.ConversationParticipant{}).
		Distinct("user_id").
		Where("user_id <> ?", userID).
		Where("conversation_id IN (?)", r.db.Model(&models.ConversationParticipant{}).
			Select("conversation_id").Where("user_id = ?", userID)).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
