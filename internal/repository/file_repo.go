package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/smiletrip-api/internal/models"
)

// FileRepository persists metadata about uploaded attachments.
type FileRepository interface {
	Create(ctx context.Context, file *models.FileAttachment) error
	FindByID(ctx context.Context, id uint) (models.FileAttachment, error)
}

type fileRepository struct {
	db *gorm.DB
}

// NewFileRepository constructs a repository for attachment records.
func NewFileRepository(db *gorm.DB) FileRepository {
	return &fileRepository{db: db}
}

func (r *fileRepository) Create(ctx context.Context, file *models.FileAttachment) error {
	return r.db.WithContext(ctx).Create(file).Error
}

func (r *fileRepository) FindByID(ctx context.Context, id uint) (models.FileAttachment, error) {
	var file models.FileAttachment
	if err := r.db.WithContext(ctx).First(&file, id).Error; err != nil {
		return models.FileAttachment{}, err
	}
	return file, nil
}
