package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/smiletrip-api/internal/models"
)

// MessageRepository persists booking conversation messages and their read state.
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	FindByID(ctx context.Context, id uint) (models.Message, error)
	ListByBooking(ctx context.Context, bookingID uint) ([]models.Message, error)
	LatestByBooking(ctx context.Context, bookingID uint) (models.Message, error)
	CountUnread(ctx context.Context, bookingID, recipientID uint) (int64, error)
	MarkReadForRecipient(ctx context.Context, bookingID, recipientID uint, at time.Time) (int64, error)
	MarkOneRead(ctx context.Context, id, recipientID uint, at time.Time) (int64, error)
	ExistsForAttachment(ctx context.Context, attachmentID uint) (bool, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Omit("Attachment").Create(message).Error
}

func (r *messageRepository) FindByID(ctx context.Context, id uint) (models.Message, error) {
	var message models.Message
	if err := r.db.WithContext(ctx).Preload("Attachment").First(&message, id).Error; err != nil {
		return models.Message{}, err
	}
	return message, nil
}

// ListByBooking returns every message of the booking in creation order.
func (r *messageRepository) ListByBooking(ctx context.Context, bookingID uint) ([]models.Message, error) {
	var messages []models.Message
	if err := r.db.WithContext(ctx).
		Preload("Attachment").
		Where("booking_id = ?", bookingID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) LatestByBooking(ctx context.Context, bookingID uint) (models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).
		Preload("Attachment").
		Where("booking_id = ?", bookingID).
		Order("created_at DESC").
		Order("id DESC").
		First(&message).Error
	if err != nil {
		return models.Message{}, err
	}
	return message, nil
}

func (r *messageRepository) CountUnread(ctx context.Context, bookingID, recipientID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("booking_id = ? AND recipient_id = ? AND is_read = ?", bookingID, recipientID, false).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// MarkReadForRecipient flips every unread message addressed to the recipient in
// one conditional statement, so concurrent callers never double count.
func (r *messageRepository) MarkReadForRecipient(ctx context.Context, bookingID, recipientID uint, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("booking_id = ? AND recipient_id = ? AND is_read = ?", bookingID, recipientID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *messageRepository) MarkOneRead(ctx context.Context, id, recipientID uint, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ? AND recipient_id = ? AND is_read = ?", id, recipientID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *messageRepository) ExistsForAttachment(ctx context.Context, attachmentID uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("attachment_id = ?", attachmentID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
