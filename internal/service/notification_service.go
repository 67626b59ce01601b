package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/smiletrip-api/internal/dto"
	"github.com/noah-isme/smiletrip-api/internal/models"
	"github.com/noah-isme/smiletrip-api/internal/observability"
	"github.com/noah-isme/smiletrip-api/internal/repository"
)

const (
	notificationBufferSize      = 16
	defaultNotificationPreview  = 120
	notificationPreviewEllipsis = "..."
)

// EmitRequest describes the message a notification is derived from.
type EmitRequest struct {
	Message        models.Message
	AttachmentName string
}

// NotificationEmitter writes the durable notification for a created message.
type NotificationEmitter interface {
	Emit(ctx context.Context, req EmitRequest) (dto.NotificationResponse, error)
}

// NotificationService persists notifications and streams them to end users via SSE.
type NotificationService interface {
	NotificationEmitter
	List(ctx context.Context, userID uint, unreadOnly bool, limit, offset int) ([]dto.NotificationResponse, error)
	UnreadCount(ctx context.Context, userID uint) (int64, error)
	MarkRead(ctx context.Context, id, userID uint) (dto.NotificationResponse, error)
	MarkAllRead(ctx context.Context, userID uint) (int64, error)
	Subscribe(userID uint) (<-chan dto.NotificationResponse, func())
	Start(ctx context.Context) error
}

type notificationService struct {
	repo        repository.NotificationRepository
	profiles    repository.UserProfileRepository
	relay       Relay
	previewSize int
	logger      zerolog.Logger
	tracer      trace.Tracer
	sanitizer   *bluemonday.Policy
	broker      *notificationBroker
	now         func() time.Time
}

type notificationBroker struct {
	mu          sync.RWMutex
	subscribers map[uint]map[chan dto.NotificationResponse]struct{}
}

// NewNotificationService constructs a notification service. relay may be nil.
func NewNotificationService(repo repository.NotificationRepository, profiles repository.UserProfileRepository, relay Relay, previewSize int, logger zerolog.Logger) NotificationService {
	if previewSize <= 0 {
		previewSize = defaultNotificationPreview
	}

	return &notificationService{
		repo:        repo,
		profiles:    profiles,
		relay:       relay,
		previewSize: previewSize,
		logger:      logger.With().Str("component", "notification_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/smiletrip-api/internal/service/notification"),
		sanitizer:   bluemonday.StrictPolicy(),
		broker: &notificationBroker{
			subscribers: make(map[uint]map[chan dto.NotificationResponse]struct{}),
		},
		now: time.Now,
	}
}

func (s *notificationService) Start(ctx context.Context) error {
	if s.relay == nil {
		return nil
	}
	return s.relay.Subscribe(ctx, relayTopicNotifications, s.handleEvent)
}

// Emit writes exactly one notification addressed to the message recipient.
func (s *notificationService) Emit(ctx context.Context, req EmitRequest) (dto.NotificationResponse, error) {
	message := req.Message
	if message.RecipientID == nil {
		return dto.NotificationResponse{}, fmt.Errorf("%w: message %d has no recipient", ErrNotificationEmit, message.ID)
	}

	attrs := []attribute.KeyValue{
		attribute.Int64("notification.user_id", int64(*message.RecipientID)),
		attribute.Int64("notification.message_id", int64(message.ID)),
	}
	spanCtx, span := s.tracer.Start(ctx, "notifications.emit", trace.WithAttributes(attrs...))
	defer span.End()

	messageID := message.ID
	bookingID := message.BookingID
	model := models.Notification{
		UserID:    *message.RecipientID,
		Type:      models.NotificationTypeNewMessage,
		Title:     "New message from " + s.senderName(spanCtx, message),
		Message:   s.preview(message, req.AttachmentName),
		ActionURL: fmt.Sprintf("/conversations/%d", message.BookingID),
		MessageID: &messageID,
		BookingID: &bookingID,
		Data: datatypes.JSONMap{
			"booking_id":  message.BookingID,
			"message_id":  message.ID,
			"sender_id":   message.SenderID,
			"sender_role": string(message.SenderRole),
		},
	}

	if err := s.repo.Create(spanCtx, &model); err != nil {
		span.RecordError(err)
		observability.NotificationsEmitted().WithLabelValues("failed").Inc()
		return dto.NotificationResponse{}, fmt.Errorf("%w: %v", ErrNotificationEmit, err)
	}

	response := dto.NewNotificationResponse(model)
	s.broadcast(response)
	s.publish(spanCtx, response)

	observability.NotificationsEmitted().WithLabelValues("created").Inc()

	return response, nil
}

func (s *notificationService) senderName(ctx context.Context, message models.Message) string {
	if s.profiles != nil {
		profiles, err := s.profiles.FindByIDs(ctx, []uint{message.SenderID})
		if err != nil {
			s.logger.Warn().Err(err).Uint("user_id", message.SenderID).Msg("failed to load sender profile")
		} else if profile, ok := profiles[message.SenderID]; ok && strings.TrimSpace(profile.DisplayName) != "" {
			return strings.TrimSpace(profile.DisplayName)
		}
	}
	return roleLabel(message.SenderRole)
}

func (s *notificationService) preview(message models.Message, attachmentName string) string {
	clean := visibleText(s.sanitizer, message.Content)
	if message.HasAttachment() && (clean == "" || clean == attachmentName) {
		name := attachmentName
		if name == "" {
			name = clean
		}
		return "Sent an attachment: " + name
	}
	return truncatePreview(clean, s.previewSize)
}

func truncatePreview(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:limit])) + notificationPreviewEllipsis
}

func roleLabel(role models.Role) string {
	switch role {
	case models.RolePatient:
		return "your patient"
	case models.RoleClinicStaff:
		return "your clinic"
	case models.RoleAdmin:
		return "SmileTrip support"
	default:
		return "SmileTrip"
	}
}

func (s *notificationService) List(ctx context.Context, userID uint, unreadOnly bool, limit, offset int) ([]dto.NotificationResponse, error) {
	if userID == 0 {
		return nil, errors.New("user id is required")
	}

	notifications, err := s.repo.ListByUser(ctx, userID, unreadOnly, limit, offset)
	if err != nil {
		return nil, err
	}

	return dto.NewNotificationResponseSlice(notifications), nil
}

func (s *notificationService) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	return s.repo.CountUnread(ctx, userID)
}

// MarkRead dismisses a notification. The underlying message read state is untouched.
func (s *notificationService) MarkRead(ctx context.Context, id, userID uint) (dto.NotificationResponse, error) {
	attrs := []attribute.KeyValue{
		attribute.Int64("notification.user_id", int64(userID)),
		attribute.Int64("notification.id", int64(id)),
	}
	spanCtx, span := s.tracer.Start(ctx, "notifications.mark_read", trace.WithAttributes(attrs...))
	defer span.End()

	notification, err := s.repo.MarkRead(spanCtx, id, userID, s.now())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.NotificationResponse{}, ErrNotificationNotFound
		}
		span.RecordError(err)
		return dto.NotificationResponse{}, err
	}

	return dto.NewNotificationResponse(notification), nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	spanCtx, span := s.tracer.Start(ctx, "notifications.mark_all_read",
		trace.WithAttributes(attribute.Int64("notification.user_id", int64(userID))))
	defer span.End()

	updated, err := s.repo.MarkAllRead(spanCtx, userID, s.now())
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return updated, nil
}

func (s *notificationService) Subscribe(userID uint) (<-chan dto.NotificationResponse, func()) {
	channel := make(chan dto.NotificationResponse, notificationBufferSize)

	s.broker.subscribe(userID, channel)
	observability.SSEClientsActive().Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.broker.unsubscribe(userID, channel)
			observability.SSEClientsActive().Dec()
		})
	}

	return channel, cleanup
}

func (s *notificationService) broadcast(notification dto.NotificationResponse) {
	s.broker.broadcast(notification.UserID, notification)
}

func (s *notificationService) publish(ctx context.Context, notification dto.NotificationResponse) {
	if s.relay == nil {
		return
	}

	payload, err := json.Marshal(notification)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode notification for relay")
		return
	}
	if err := s.relay.Publish(ctx, relayTopicNotifications, payload); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish notification to relay")
	}
}

func (s *notificationService) handleEvent(payload []byte) {
	var notification dto.NotificationResponse
	if err := json.Unmarshal(payload, &notification); err != nil {
		s.logger.Warn().Err(err).Msg("invalid notification event payload")
		return
	}
	s.broadcast(notification)
}

func (b *notificationBroker) subscribe(userID uint, ch chan dto.NotificationResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[userID]; !exists {
		b.subscribers[userID] = make(map[chan dto.NotificationResponse]struct{})
	}
	b.subscribers[userID][ch] = struct{}{}
}

func (b *notificationBroker) unsubscribe(userID uint, ch chan dto.NotificationResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[userID]; ok {
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, userID)
		}
	}
}

func (b *notificationBroker) broadcast(userID uint, notification dto.NotificationResponse) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[userID] {
		select {
		case ch <- notification:
		default:
		}
	}
}
