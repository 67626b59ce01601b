package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/smiletrip-api/internal/models"
)

// UserProfileRepository loads display data for conversation participants.
type UserProfileRepository interface {
	FindByIDs(ctx context.Context, ids []uint) (map[uint]models.UserProfile, error)
}

type userProfileRepository struct {
	db *gorm.DB
}

// NewUserProfileRepository constructs a profile repository backed by GORM.
func NewUserProfileRepository(db *gorm.DB) UserProfileRepository {
	return &userProfileRepository{db: db}
}

func (r *userProfileRepository) FindByIDs(ctx context.Context, ids []uint) (map[uint]models.UserProfile, error) {
	result := make(map[uint]models.UserProfile, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var profiles []models.UserProfile
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&profiles).Error; err != nil {
		return nil, err
	}
	for _, profile := range profiles {
		result[profile.ID] = profile
	}
	return result, nil
}
