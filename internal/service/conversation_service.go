package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/smiletrip-api/internal/dto"
	"github.com/noah-isme/smiletrip-api/internal/repository"
)

const conversationPreviewLength = 120

// ConversationService derives per-viewer conversation summaries on every call.
type ConversationService interface {
	List(ctx context.Context, actor Actor, limit, offset int) ([]dto.ConversationSummary, error)
}

type conversationService struct {
	bookings repository.BookingRepository
	messages repository.MessageRepository
	profiles repository.UserProfileRepository
	resolver *ParticipantResolver
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// NewConversationService constructs the conversation aggregator.
func NewConversationService(bookings repository.BookingRepository, messages repository.MessageRepository, profiles repository.UserProfileRepository, resolver *ParticipantResolver, logger zerolog.Logger) ConversationService {
	return &conversationService{
		bookings: bookings,
		messages: messages,
		profiles: profiles,
		resolver: resolver,
		logger:   logger.With().Str("component", "conversation_service").Logger(),
		tracer:   otel.Tracer("github.com/noah-isme/smiletrip-api/internal/service/conversation"),
	}
}

func (s *conversationService) List(ctx context.Context, actor Actor, limit, offset int) ([]dto.ConversationSummary, error) {
	ctx, span := s.tracer.Start(ctx, "conversations.list", trace.WithAttributes(
		attribute.Int64("conversation.viewer_id", int64(actor.UserID)),
		attribute.String("conversation.viewer_role", string(actor.Role)),
	))
	defer span.End()

	scope, err := s.resolver.Scope(ctx, actor)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	bookings, err := s.bookings.List(ctx, scope, limit, offset)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	summaries := make([]dto.ConversationSummary, 0, len(bookings))
	counterpartIDs := make([]uint, 0, len(bookings))
	for _, booking := range bookings {
		counterpartID, counterpartRole, err := s.resolver.Counterpart(actor, booking)
		if err != nil {
			return nil, err
		}

		summary := dto.ConversationSummary{
			ContextID:       booking.ID,
			CounterpartID:   counterpartID,
			CounterpartRole: string(counterpartRole),
			ContextStatus:   booking.Status,
		}
		if counterpartID != nil {
			counterpartIDs = append(counterpartIDs, *counterpartID)
		}

		latest, err := s.messages.LatestByBooking(ctx, booking.ID)
		switch {
		case err == nil:
			createdAt := latest.CreatedAt
			summary.HasMessages = true
			summary.LastMessagePreview = truncatePreview(latest.Content, conversationPreviewLength)
			summary.LastMessageTime = &createdAt
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			span.RecordError(err)
			return nil, fmt.Errorf("latest message for booking %d: %w", booking.ID, err)
		}

		unread, err := s.messages.CountUnread(ctx, booking.ID, actor.UserID)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("unread count for booking %d: %w", booking.ID, err)
		}
		summary.UnreadCount = unread

		summaries = append(summaries, summary)
	}

	s.attachNames(ctx, summaries, counterpartIDs)
	span.SetAttributes(attribute.Int("conversation.count", len(summaries)))
	return summaries, nil
}

// attachNames fills display names; a profile lookup failure only degrades the view.
func (s *conversationService) attachNames(ctx context.Context, summaries []dto.ConversationSummary, ids []uint) {
	if s.profiles == nil || len(ids) == 0 {
		return
	}
	profiles, err := s.profiles.FindByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load counterpart profiles")
		return
	}
	for i := range summaries {
		if summaries[i].CounterpartID == nil {
			continue
		}
		if profile, ok := profiles[*summaries[i].CounterpartID]; ok {
			summaries[i].CounterpartName = profile.DisplayName
		}
	}
}
