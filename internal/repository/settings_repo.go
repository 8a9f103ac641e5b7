package repository

import (
	"errors"

	"parley/internal/models"

	"gorm.io/gorm"
)

type SettingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetByUserID returns the user's settings, creating the default row on
// first access so every connection gets a usable snapshot.
func (r *SettingsRepository) GetByUserID(userID uint) (*models.UserSettings, error) {
	var s models.UserSettings
	err := r.db.Where("user_id = ?", userID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s = models.UserSettings{UserID: userID, ShowOnlineStatus: true, ReadReceipts: true, TypingIndicators: true}
		if err := r.db.Create(&s).Error; err != nil {
			return nil, err
		}
		return &s, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SettingsRepository) UpdateShowOnlineStatus(userID uint, show bool) error {
	return r.db.Model(&models.UserSettings{}).Where("user_id = ?", userID).
		Update("show_online_status", show).Error
}
