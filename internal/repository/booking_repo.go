package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/smiletrip-api/internal/models"
)

// BookingScope narrows the bookings a viewer may list. A zero scope matches nothing.
type BookingScope struct {
	All       bool
	PatientID *uint
	ClinicIDs []uint
}

// BookingRepository reads bookings and owns the sticky staff assignment column.
type BookingRepository interface {
	FindByID(ctx context.Context, id uint) (models.Booking, error)
	AssignStaffIfAbsent(ctx context.Context, bookingID, staffID uint) (uint, error)
	List(ctx context.Context, scope BookingScope, limit, offset int) ([]models.Booking, error)
}

type bookingRepository struct {
	db *gorm.DB
}

// NewBookingRepository constructs a booking repository backed by GORM.
func NewBookingRepository(db *gorm.DB) BookingRepository {
	return &bookingRepository{db: db}
}

func (r *bookingRepository) FindByID(ctx context.Context, id uint) (models.Booking, error) {
	var booking models.Booking
	if err := r.db.WithContext(ctx).First(&booking, id).Error; err != nil {
		return models.Booking{}, err
	}
	return booking, nil
}

// AssignStaffIfAbsent sets the sticky recipient only when none is stored yet and
// returns whichever staff id the booking holds afterwards.
func (r *bookingRepository) AssignStaffIfAbsent(ctx context.Context, bookingID, staffID uint) (uint, error) {
	db := r.db.WithContext(ctx)
	if err := db.Model(&models.Booking{}).
		Where("id = ? AND assigned_staff_id IS NULL", bookingID).
		Update("assigned_staff_id", staffID).Error; err != nil {
		return 0, err
	}

	var booking models.Booking
	if err := db.Select("id", "assigned_staff_id").First(&booking, bookingID).Error; err != nil {
		return 0, err
	}
	if booking.AssignedStaffID == nil {
		return 0, gorm.ErrRecordNotFound
	}
	return *booking.AssignedStaffID, nil
}

func (r *bookingRepository) List(ctx context.Context, scope BookingScope, limit, offset int) ([]models.Booking, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := r.db.WithContext(ctx).Model(&models.Booking{})
	switch {
	case scope.All:
	case scope.PatientID != nil:
		query = query.Where("patient_id = ?", *scope.PatientID)
	case len(scope.ClinicIDs) > 0:
		query = query.Where("clinic_id IN ?", scope.ClinicIDs)
	default:
		return []models.Booking{}, nil
	}

	var bookings []models.Booking
	err := query.
		Order("COALESCE((SELECT MAX(messages.created_at) FROM messages WHERE messages.booking_id = bookings.id), bookings.created_at) DESC").
		Order("bookings.id DESC").
		Offset(offset).
		Limit(limit).
		Find(&bookings).Error
	if err != nil {
		return nil, err
	}
	return bookings, nil
}
