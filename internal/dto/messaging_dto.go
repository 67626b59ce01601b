package dto

import (
	"time"

	"github.com/noah-isme/smiletrip-api/internal/models"
)

// MessageCreateRequest represents the payload used to send a message into a booking conversation.
type MessageCreateRequest struct {
	ContextID       uint   `json:"contextId" validate:"required"`
	Content         string `json:"content" validate:"max=4000"`
	MessageType     string `json:"messageType" validate:"omitempty,oneof=text attachment"`
	AttachmentID    *uint  `json:"attachmentId,omitempty" validate:"omitempty,gt=0"`
	ClientMessageID string `json:"clientMessageId,omitempty" validate:"omitempty,max=64"`
}

// AttachmentResponse describes an uploaded file and a resolvable download reference.
type AttachmentResponse struct {
	AttachmentID uint      `json:"attachmentId"`
	ContextID    uint      `json:"contextId"`
	FileName     string    `json:"filename"`
	ContentType  string    `json:"contentType"`
	Size         int64     `json:"size"`
	URL          string    `json:"url"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NewAttachmentResponse converts a file model into a DTO. The URL is resolved by the caller.
func NewAttachmentResponse(file models.FileAttachment, url string) AttachmentResponse {
	return AttachmentResponse{
		AttachmentID: file.ID,
		ContextID:    file.BookingID,
		FileName:     file.FileName,
		ContentType:  file.ContentType,
		Size:         file.SizeBytes,
		URL:          url,
		CreatedAt:    file.CreatedAt,
	}
}

// MessageResponse is the serialized representation of a message.
type MessageResponse struct {
	ID            uint                `json:"id"`
	ContextID     uint                `json:"contextId"`
	SenderID      uint                `json:"senderId"`
	SenderRole    string              `json:"senderRole"`
	RecipientID   *uint               `json:"recipientId,omitempty"`
	Content       string              `json:"content"`
	MessageType   string              `json:"messageType"`
	HasAttachment bool                `json:"hasAttachment"`
	Attachment    *AttachmentResponse `json:"attachment,omitempty"`
	IsRead        bool                `json:"isRead"`
	ReadAt        *time.Time          `json:"readAt,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
}

// NewMessageResponse converts a model into a DTO. attachment may be nil.
func NewMessageResponse(message models.Message, attachment *AttachmentResponse) MessageResponse {
	return MessageResponse{
		ID:            message.ID,
		ContextID:     message.BookingID,
		SenderID:      message.SenderID,
		SenderRole:    string(message.SenderRole),
		RecipientID:   message.RecipientID,
		Content:       message.Content,
		MessageType:   string(message.Kind),
		HasAttachment: message.HasAttachment(),
		Attachment:    attachment,
		IsRead:        message.IsRead,
		ReadAt:        message.ReadAt,
		CreatedAt:     message.CreatedAt,
	}
}

// ConversationSummary is the per-booking view of a conversation for one viewer.
type ConversationSummary struct {
	ContextID          uint       `json:"contextId"`
	CounterpartID      *uint      `json:"counterpartId,omitempty"`
	CounterpartName    string     `json:"counterpartName,omitempty"`
	CounterpartRole    string     `json:"counterpartRole"`
	LastMessagePreview string     `json:"lastMessagePreview"`
	LastMessageTime    *time.Time `json:"lastMessageTime,omitempty"`
	UnreadCount        int64      `json:"unreadCount"`
	ContextStatus      string     `json:"contextStatus"`
	HasMessages        bool       `json:"hasMessages"`
}

// MarkReadResponse reports how many messages transitioned to read.
type MarkReadResponse struct {
	Updated int64 `json:"updated"`
}

// RealtimeEvent is pushed over a recipient's live channel.
type RealtimeEvent struct {
	Type    string          `json:"type"`
	Payload MessageResponse `json:"payload"`
	Target  uint            `json:"target"`
}

// NotificationResponse represents notification data returned to clients.
type NotificationResponse struct {
	ID        uint                   `json:"id"`
	UserID    uint                   `json:"userId"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	ActionURL string                 `json:"actionUrl,omitempty"`
	MessageID *uint                  `json:"messageId,omitempty"`
	ContextID *uint                  `json:"contextId,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Read      bool                   `json:"read"`
	ReadAt    *time.Time             `json:"readAt,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// NewNotificationResponse converts a notification model to DTO.
func NewNotificationResponse(model models.Notification) NotificationResponse {
	response := NotificationResponse{
		ID:        model.ID,
		UserID:    model.UserID,
		Type:      model.Type,
		Title:     model.Title,
		Message:   model.Message,
		ActionURL: model.ActionURL,
		MessageID: model.MessageID,
		ContextID: model.BookingID,
		Read:      model.Read,
		ReadAt:    model.ReadAt,
		CreatedAt: model.CreatedAt,
	}
	if len(model.Data) > 0 {
		response.Data = map[string]interface{}(model.Data)
	}
	return response
}

// NewNotificationResponseSlice converts a slice to DTOs.
func NewNotificationResponseSlice(items []models.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewNotificationResponse(item))
	}
	return out
}

// UnreadCountResponse wraps an unread notification counter.
type UnreadCountResponse struct {
	Count int64 `json:"count"`
}
