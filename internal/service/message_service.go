package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/smiletrip-api/internal/dto"
	"github.com/noah-isme/smiletrip-api/internal/models"
	"github.com/noah-isme/smiletrip-api/internal/observability"
	"github.com/noah-isme/smiletrip-api/internal/repository"
)

const defaultDedupeTTL = 10 * time.Minute

// MessageService owns booking conversation messages and their read state.
type MessageService interface {
	Create(ctx context.Context, actor Actor, req dto.MessageCreateRequest) (dto.MessageResponse, error)
	List(ctx context.Context, actor Actor, contextID uint) ([]dto.MessageResponse, error)
	Open(ctx context.Context, actor Actor, contextID uint) ([]dto.MessageResponse, error)
	MarkRead(ctx context.Context, actor Actor, contextID uint) (int64, error)
	MarkMessageRead(ctx context.Context, actor Actor, messageID uint) (dto.MessageResponse, error)
}

// MessageDependencies groups the collaborators of the message service.
// Redis, Notifier and Pusher are optional.
type MessageDependencies struct {
	Messages    repository.MessageRepository
	Files       repository.FileRepository
	Resolver    *ParticipantResolver
	Attachments AttachmentURLResolver
	Notifier    NotificationEmitter
	Pusher      Pusher
	Redis       *redis.Client
	DedupeTTL   time.Duration
	Validator   *validator.Validate
}

type messageService struct {
	messages    repository.MessageRepository
	files       repository.FileRepository
	resolver    *ParticipantResolver
	attachments AttachmentURLResolver
	notifier    NotificationEmitter
	pusher      Pusher
	redis       *redis.Client
	dedupeTTL   time.Duration
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewMessageService constructs the message service.
func NewMessageService(deps MessageDependencies, logger zerolog.Logger) MessageService {
	ttl := deps.DedupeTTL
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	validate := deps.Validator
	if validate == nil {
		validate = validator.New()
	}

	return &messageService{
		messages:    deps.Messages,
		files:       deps.Files,
		resolver:    deps.Resolver,
		attachments: deps.Attachments,
		notifier:    deps.Notifier,
		pusher:      deps.Pusher,
		redis:       deps.Redis,
		dedupeTTL:   ttl,
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger.With().Str("component", "message_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/smiletrip-api/internal/service/message"),
		now:         time.Now,
	}
}

func (s *messageService) Create(ctx context.Context, actor Actor, req dto.MessageCreateRequest) (dto.MessageResponse, error) {
	ctx, span := s.tracer.Start(ctx, "messages.create", trace.WithAttributes(
		attribute.Int64("message.context_id", int64(req.ContextID)),
		attribute.Int64("message.sender_id", int64(actor.UserID)),
		attribute.String("message.sender_role", string(actor.Role)),
	))
	defer span.End()

	fail := func(err error) (dto.MessageResponse, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dto.MessageResponse{}, err
	}

	req.Content = strings.TrimSpace(req.Content)
	req.MessageType = strings.ToLower(strings.TrimSpace(req.MessageType))
	req.ClientMessageID = strings.TrimSpace(req.ClientMessageID)
	if err := s.validator.Struct(req); err != nil {
		return fail(fromValidator(err))
	}

	kind, err := messageKind(req)
	if err != nil {
		return fail(err)
	}

	participation, err := s.resolver.Authorize(ctx, actor, req.ContextID)
	if err != nil {
		return fail(err)
	}

	var attachment *models.FileAttachment
	if req.AttachmentID != nil {
		file, err := s.linkableAttachment(ctx, actor, req.ContextID, *req.AttachmentID)
		if err != nil {
			return fail(err)
		}
		attachment = &file
	}

	content := visibleText(s.sanitizer, req.Content)
	if content == "" {
		if attachment == nil {
			return fail(invalid("content", "is required"))
		}
		content = attachment.FileName
	}

	recipient, err := participation.Recipient(ctx)
	if err != nil {
		return fail(err)
	}

	dedupeKey, err := s.claimClientID(ctx, actor, req.ClientMessageID)
	if err != nil {
		return fail(err)
	}

	model := models.Message{
		BookingID:       req.ContextID,
		SenderID:        actor.UserID,
		SenderRole:      actor.Role,
		RecipientID:     recipient,
		Content:         content,
		Kind:            kind,
		AttachmentID:    req.AttachmentID,
		ClientMessageID: req.ClientMessageID,
	}

	if err := s.messages.Create(ctx, &model); err != nil {
		s.releaseClientID(dedupeKey)
		if errors.Is(err, gorm.ErrDuplicatedKey) && attachment != nil {
			return fail(invalid("attachmentId", "is already attached to a message"))
		}
		return fail(fmt.Errorf("persist message: %w", err))
	}
	model.Attachment = attachment

	observability.MessagesCreated().WithLabelValues(string(kind)).Inc()
	response := s.toResponse(ctx, model)

	if recipient == nil {
		s.logger.Info().Ctx(ctx).Uint("booking_id", model.BookingID).Uint("message_id", model.ID).Msg("message stored without resolvable recipient")
		return response, nil
	}

	s.emitNotification(ctx, model, attachment)
	s.push(ctx, *recipient, response)

	return response, nil
}

// visibleText strips markup and returns the text as a reader would see it.
// Message bodies are plain text; clients escape on render.
func visibleText(policy *bluemonday.Policy, input string) string {
	return strings.TrimSpace(html.UnescapeString(policy.Sanitize(input)))
}

func messageKind(req dto.MessageCreateRequest) (models.MessageKind, error) {
	switch models.MessageKind(req.MessageType) {
	case "":
		if req.AttachmentID != nil {
			return models.MessageKindAttachment, nil
		}
		return models.MessageKindText, nil
	case models.MessageKindText:
		if req.AttachmentID != nil {
			return "", invalid("messageType", "text messages cannot reference an attachment")
		}
		return models.MessageKindText, nil
	case models.MessageKindAttachment:
		if req.AttachmentID == nil {
			return "", invalid("attachmentId", "is required for attachment messages")
		}
		return models.MessageKindAttachment, nil
	default:
		return "", invalid("messageType", "must be one of [text attachment]")
	}
}

// linkableAttachment checks the file was uploaded by the sender into the same
// booking and has not been sent yet.
func (s *messageService) linkableAttachment(ctx context.Context, actor Actor, contextID, attachmentID uint) (models.FileAttachment, error) {
	file, err := s.files.FindByID(ctx, attachmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.FileAttachment{}, invalid("attachmentId", "attachment not found")
		}
		return models.FileAttachment{}, err
	}
	if file.BookingID != contextID {
		return models.FileAttachment{}, invalid("attachmentId", "belongs to another conversation")
	}
	if file.UploaderID != actor.UserID {
		return models.FileAttachment{}, invalid("attachmentId", "was uploaded by another participant")
	}

	used, err := s.messages.ExistsForAttachment(ctx, attachmentID)
	if err != nil {
		return models.FileAttachment{}, err
	}
	if used {
		return models.FileAttachment{}, invalid("attachmentId", "is already attached to a message")
	}
	return file, nil
}

func (s *messageService) dedupeKey(actor Actor, clientID string) string {
	return fmt.Sprintf("messages:dedupe:%d:%s", actor.UserID, clientID)
}

// claimClientID reserves the client message id. Redis outages only disable deduplication.
func (s *messageService) claimClientID(ctx context.Context, actor Actor, clientID string) (string, error) {
	if s.redis == nil || clientID == "" {
		return "", nil
	}

	key := s.dedupeKey(actor, clientID)
	ok, err := s.redis.SetNX(ctx, key, "1", s.dedupeTTL).Result()
	if err != nil {
		s.logger.Warn().Ctx(ctx).Err(err).Msg("message dedupe unavailable")
		return "", nil
	}
	if !ok {
		return "", ErrDuplicateMessage
	}
	return key, nil
}

func (s *messageService) releaseClientID(key string) {
	if s.redis == nil || key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to release message dedupe key")
	}
}

func (s *messageService) emitNotification(ctx context.Context, message models.Message, attachment *models.FileAttachment) {
	if s.notifier == nil {
		return
	}

	req := EmitRequest{Message: message}
	if attachment != nil {
		req.AttachmentName = attachment.FileName
	}
	if _, err := s.notifier.Emit(ctx, req); err != nil {
		if !errors.Is(err, ErrNotificationEmit) {
			observability.NotificationsEmitted().WithLabelValues("failed").Inc()
		}
		s.logger.Error().Ctx(ctx).Err(err).Uint("message_id", message.ID).Msg("failed to emit message notification")
	}
}

func (s *messageService) push(ctx context.Context, recipient uint, payload dto.MessageResponse) {
	if s.pusher == nil {
		return
	}
	outcome := s.pusher.Push(ctx, recipient, dto.RealtimeEvent{
		Type:    EventTypeNewMessage,
		Payload: payload,
		Target:  recipient,
	})
	s.logger.Debug().Ctx(ctx).Uint("user_id", recipient).Uint("message_id", payload.ID).Str("outcome", string(outcome)).Msg("message push attempted")
}

// List returns the booking conversation in creation order without side effects.
func (s *messageService) List(ctx context.Context, actor Actor, contextID uint) ([]dto.MessageResponse, error) {
	ctx, span := s.tracer.Start(ctx, "messages.list", trace.WithAttributes(
		attribute.Int64("message.context_id", int64(contextID)),
	))
	defer span.End()

	if _, err := s.resolver.Authorize(ctx, actor, contextID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	messages, err := s.messages.ListByBooking(ctx, contextID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	out := make([]dto.MessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, s.toResponse(ctx, message))
	}
	return out, nil
}

// Open lists the conversation and then marks everything addressed to the viewer as read.
func (s *messageService) Open(ctx context.Context, actor Actor, contextID uint) ([]dto.MessageResponse, error) {
	messages, err := s.List(ctx, actor, contextID)
	if err != nil {
		return nil, err
	}
	if _, err := s.markRead(ctx, actor, contextID); err != nil {
		s.logger.Warn().Ctx(ctx).Err(err).Uint("booking_id", contextID).Msg("failed to mark conversation read on open")
	}
	return messages, nil
}

func (s *messageService) MarkRead(ctx context.Context, actor Actor, contextID uint) (int64, error) {
	if _, err := s.resolver.Authorize(ctx, actor, contextID); err != nil {
		return 0, err
	}
	return s.markRead(ctx, actor, contextID)
}

func (s *messageService) markRead(ctx context.Context, actor Actor, contextID uint) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "messages.mark_read", trace.WithAttributes(
		attribute.Int64("message.context_id", int64(contextID)),
		attribute.Int64("message.viewer_id", int64(actor.UserID)),
	))
	defer span.End()

	updated, err := s.messages.MarkReadForRecipient(ctx, contextID, actor.UserID, s.now())
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if updated > 0 {
		observability.MessagesMarkedRead().Add(float64(updated))
	}
	span.SetAttributes(attribute.Int64("message.updated", updated))
	return updated, nil
}

// MarkMessageRead acknowledges a single message. Only its recipient may do so.
func (s *messageService) MarkMessageRead(ctx context.Context, actor Actor, messageID uint) (dto.MessageResponse, error) {
	message, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.MessageResponse{}, ErrMessageNotFound
		}
		return dto.MessageResponse{}, err
	}

	if _, err := s.resolver.Authorize(ctx, actor, message.BookingID); err != nil {
		return dto.MessageResponse{}, err
	}
	if message.RecipientID == nil || *message.RecipientID != actor.UserID {
		return dto.MessageResponse{}, ErrForbidden
	}

	if message.IsRead {
		return s.toResponse(ctx, message), nil
	}

	updated, err := s.messages.MarkOneRead(ctx, messageID, actor.UserID, s.now())
	if err != nil {
		return dto.MessageResponse{}, err
	}
	if updated > 0 {
		observability.MessagesMarkedRead().Add(float64(updated))
	}

	message, err = s.messages.FindByID(ctx, messageID)
	if err != nil {
		return dto.MessageResponse{}, err
	}
	return s.toResponse(ctx, message), nil
}

func (s *messageService) toResponse(ctx context.Context, message models.Message) dto.MessageResponse {
	var attachment *dto.AttachmentResponse
	if message.Attachment != nil {
		url := ""
		if s.attachments != nil {
			url = s.attachments.ResolveURL(ctx, *message.Attachment)
		}
		resolved := dto.NewAttachmentResponse(*message.Attachment, url)
		attachment = &resolved
	}
	return dto.NewMessageResponse(message, attachment)
}
