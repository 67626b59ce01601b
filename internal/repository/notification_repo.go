package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/smiletrip-api/internal/models"
)

// NotificationRepository handles persistence for notification entities.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListByUser(ctx context.Context, userID uint, unreadOnly bool, limit, offset int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, userID uint, at time.Time) (models.Notification, error)
	MarkAllRead(ctx context.Context, userID uint, at time.Time) (int64, error)
	CountUnread(ctx context.Context, userID uint) (int64, error)
	CountByMessage(ctx context.Context, messageID uint) (int64, error)
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository constructs a repository backed by GORM.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *notificationRepository) ListByUser(ctx context.Context, userID uint, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("read = ?", false)
	}

	var notifications []models.Notification
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&notifications).Error; err != nil {
		return nil, err
	}

	return notifications, nil
}

// MarkRead is idempotent; an already read notification keeps its first read time.
func (r *notificationRepository) MarkRead(ctx context.Context, id, userID uint, at time.Time) (models.Notification, error) {
	db := r.db.WithContext(ctx)

	var notification models.Notification
	if err := db.Where("id = ? AND user_id = ?", id, userID).First(&notification).Error; err != nil {
		return models.Notification{}, err
	}

	if notification.Read {
		return notification, nil
	}

	if err := db.Model(&models.Notification{}).
		Where("id = ? AND read = ?", id, false).
		Updates(map[string]interface{}{"read": true, "read_at": at}).Error; err != nil {
		return models.Notification{}, err
	}

	if err := db.First(&notification, id).Error; err != nil {
		return models.Notification{}, err
	}
	return notification, nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID uint, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Updates(map[string]interface{}{"read": true, "read_at": at})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *notificationRepository) CountUnread(ctx context.Context, userID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *notificationRepository) CountByMessage(ctx context.Context, messageID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("message_id = ?", messageID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
