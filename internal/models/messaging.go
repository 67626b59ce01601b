package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Role identifies which portal an authenticated user acts through.
type Role string

const (
	RolePatient     Role = "patient"
	RoleClinicStaff Role = "clinic_staff"
	RoleAdmin       Role = "admin"
)

// ParseRole normalises a role claim. Unknown values are returned as-is so
// callers can reject them explicitly.
func ParseRole(value string) Role {
	return Role(strings.ToLower(strings.TrimSpace(value)))
}

// MessageKind distinguishes plain messages from attachment-bearing ones.
type MessageKind string

const (
	MessageKindText       MessageKind = "text"
	MessageKindAttachment MessageKind = "attachment"
)

// FileVisibilityParticipants limits an attachment to the booking participants.
const FileVisibilityParticipants = "participants"

// NotificationTypeNewMessage marks notifications emitted for inbound messages.
const NotificationTypeNewMessage = "new_message"

// Booking is the context a conversation belongs to. Only AssignedStaffID is
// written by the messaging subsystem.
type Booking struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	PatientID       uint      `gorm:"index;not null" json:"patient_id"`
	ClinicID        uint      `gorm:"index;not null" json:"clinic_id"`
	AssignedStaffID *uint     `gorm:"index" json:"assigned_staff_id,omitempty"`
	Status          string    `gorm:"size:32;not null;default:pending" json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ClinicStaff links a staff user to the clinic they work for.
type ClinicStaff struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ClinicID  uint      `gorm:"uniqueIndex:idx_clinic_staff_member;not null" json:"clinic_id"`
	UserID    uint      `gorm:"uniqueIndex:idx_clinic_staff_member;index;not null" json:"user_id"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName pins the membership table name.
func (ClinicStaff) TableName() string {
	return "clinic_staff"
}

// UserProfile carries display data for conversation counterparts.
type UserProfile struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	DisplayName string    `gorm:"size:255" json:"display_name"`
	Role        Role      `gorm:"size:32" json:"role"`
	AvatarURL   string    `gorm:"size:512" json:"avatar_url"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Message is a single entry in a booking conversation. Once created only the
// read flag and read timestamp change, and only from unread to read.
type Message struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	BookingID       uint            `gorm:"index:idx_messages_booking_created,priority:1;not null" json:"booking_id"`
	SenderID        uint            `gorm:"index;not null" json:"sender_id"`
	SenderRole      Role            `gorm:"size:32;not null" json:"sender_role"`
	RecipientID     *uint           `gorm:"index:idx_messages_recipient_unread,priority:1" json:"recipient_id,omitempty"`
	Content         string          `gorm:"type:text" json:"content"`
	Kind            MessageKind     `gorm:"size:32;not null;default:text" json:"kind"`
	AttachmentID    *uint           `gorm:"uniqueIndex" json:"attachment_id,omitempty"`
	Attachment      *FileAttachment `gorm:"foreignKey:AttachmentID" json:"attachment,omitempty"`
	ClientMessageID string          `gorm:"size:64" json:"client_message_id,omitempty"`
	IsRead          bool            `gorm:"index:idx_messages_recipient_unread,priority:2;not null;default:false" json:"is_read"`
	ReadAt          *time.Time      `json:"read_at,omitempty"`
	CreatedAt       time.Time       `gorm:"index:idx_messages_booking_created,priority:2" json:"created_at"`
}

// HasAttachment reports whether the message references an uploaded file.
func (m Message) HasAttachment() bool {
	return m.AttachmentID != nil
}

// FileAttachment records an uploaded file. FileURL is the opaque handle
// returned by the object storage collaborator.
type FileAttachment struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	BookingID   uint      `gorm:"index;not null" json:"booking_id"`
	UploaderID  uint      `gorm:"index;not null" json:"uploader_id"`
	FileName    string    `gorm:"size:255;not null" json:"file_name"`
	ContentType string    `gorm:"size:128;not null" json:"content_type"`
	SizeBytes   int64     `gorm:"not null" json:"size_bytes"`
	Checksum    string    `gorm:"size:128;index" json:"checksum"`
	FileURL     string    `gorm:"size:1024;not null" json:"file_url"`
	Visibility  string    `gorm:"size:32;not null;default:participants" json:"visibility"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName keeps attachment rows in the shared files table.
func (FileAttachment) TableName() string {
	return "files"
}

// Notification is a durable, independently readable record of a message event.
// MessageID is a weak back-reference; no cascading delete is declared.
type Notification struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	UserID    uint              `gorm:"index:idx_notifications_user_read,priority:1;not null" json:"user_id"`
	Type      string            `gorm:"size:64;not null" json:"type"`
	Title     string            `gorm:"size:255;not null" json:"title"`
	Message   string            `gorm:"type:text" json:"message"`
	ActionURL string            `gorm:"size:512" json:"action_url"`
	MessageID *uint             `gorm:"index" json:"message_id,omitempty"`
	BookingID *uint             `gorm:"index" json:"booking_id,omitempty"`
	Data      datatypes.JSONMap `gorm:"type:json" json:"data"`
	Read      bool              `gorm:"index:idx_notifications_user_read,priority:2;not null;default:false" json:"read"`
	ReadAt    *time.Time        `json:"read_at,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
