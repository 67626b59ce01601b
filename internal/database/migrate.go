package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/noah-isme/smiletrip-api/internal/models"
)

// Migrate creates or updates the tables owned by the messaging subsystem.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Booking{},
		&models.ClinicStaff{},
		&models.UserProfile{},
		&models.FileAttachment{},
		&models.Message{},
		&models.Notification{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
