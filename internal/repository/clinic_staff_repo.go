package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/smiletrip-api/internal/models"
)

// ClinicStaffRepository answers clinic membership questions for staff users.
type ClinicStaffRepository interface {
	ClinicIDsForUser(ctx context.Context, userID uint) ([]uint, error)
	IsActiveMember(ctx context.Context, clinicID, userID uint) (bool, error)
	FirstAvailable(ctx context.Context, clinicID uint) (models.ClinicStaff, error)
}

type clinicStaffRepository struct {
	db *gorm.DB
}

// NewClinicStaffRepository constructs a clinic staff repository backed by GORM.
func NewClinicStaffRepository(db *gorm.DB) ClinicStaffRepository {
	return &clinicStaffRepository{db: db}
}

func (r *clinicStaffRepository) ClinicIDsForUser(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).
		Model(&models.ClinicStaff{}).
		Where("user_id = ? AND active = ?", userID, true).
		Order("clinic_id ASC").
		Pluck("clinic_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *clinicStaffRepository) IsActiveMember(ctx context.Context, clinicID, userID uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.ClinicStaff{}).
		Where("clinic_id = ? AND user_id = ? AND active = ?", clinicID, userID, true).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// FirstAvailable returns the earliest active membership of the clinic.
func (r *clinicStaffRepository) FirstAvailable(ctx context.Context, clinicID uint) (models.ClinicStaff, error) {
	var member models.ClinicStaff
	if err := r.db.WithContext(ctx).
		Where("clinic_id = ? AND active = ?", clinicID, true).
		Order("id ASC").
		First(&member).Error; err != nil {
		return models.ClinicStaff{}, err
	}
	return member, nil
}
