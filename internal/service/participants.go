package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/smiletrip-api/internal/models"
	"github.com/noah-isme/smiletrip-api/internal/repository"
)

// Actor is the authenticated caller of a messaging operation.
type Actor struct {
	UserID uint
	Role   models.Role
}

// participantPolicy captures everything that differs between portals.
type participantPolicy interface {
	canAccess(ctx context.Context, booking models.Booking) (bool, error)
	resolveRecipient(ctx context.Context, booking models.Booking) (*uint, error)
	counterpart(booking models.Booking) (*uint, models.Role)
	scope(ctx context.Context) (repository.BookingScope, error)
}

// Participation is a verified actor/booking pair.
type Participation struct {
	Actor   Actor
	Booking models.Booking
	policy  participantPolicy
}

// Recipient resolves who receives a message the actor sends into the booking.
// A nil id means nobody can currently be addressed.
func (p Participation) Recipient(ctx context.Context) (*uint, error) {
	return p.policy.resolveRecipient(ctx, p.Booking)
}

// ParticipantResolver decides who may read and write a booking conversation.
type ParticipantResolver struct {
	bookings repository.BookingRepository
	staff    repository.ClinicStaffRepository
	logger   zerolog.Logger
}

// NewParticipantResolver constructs a resolver over the booking and staff directories.
func NewParticipantResolver(bookings repository.BookingRepository, staff repository.ClinicStaffRepository, logger zerolog.Logger) *ParticipantResolver {
	return &ParticipantResolver{
		bookings: bookings,
		staff:    staff,
		logger:   logger.With().Str("component", "participant_resolver").Logger(),
	}
}

func (r *ParticipantResolver) policyFor(actor Actor) (participantPolicy, error) {
	switch actor.Role {
	case models.RolePatient:
		return patientPolicy{resolver: r, userID: actor.UserID}, nil
	case models.RoleClinicStaff:
		return clinicStaffPolicy{resolver: r, userID: actor.UserID}, nil
	case models.RoleAdmin:
		return adminPolicy{}, nil
	default:
		return nil, ErrForbidden
	}
}

// Authorize loads the booking and verifies the actor participates in it.
func (r *ParticipantResolver) Authorize(ctx context.Context, actor Actor, bookingID uint) (Participation, error) {
	policy, err := r.policyFor(actor)
	if err != nil {
		return Participation{}, err
	}

	booking, err := r.bookings.FindByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Participation{}, ErrContextNotFound
		}
		return Participation{}, fmt.Errorf("load booking %d: %w", bookingID, err)
	}

	ok, err := policy.canAccess(ctx, booking)
	if err != nil {
		return Participation{}, err
	}
	if !ok {
		return Participation{}, ErrForbidden
	}

	return Participation{Actor: actor, Booking: booking, policy: policy}, nil
}

// Scope returns the bookings the actor may list conversations for.
func (r *ParticipantResolver) Scope(ctx context.Context, actor Actor) (repository.BookingScope, error) {
	policy, err := r.policyFor(actor)
	if err != nil {
		return repository.BookingScope{}, err
	}
	return policy.scope(ctx)
}

// Counterpart resolves the other party of a booking for a listed conversation.
func (r *ParticipantResolver) Counterpart(actor Actor, booking models.Booking) (*uint, models.Role, error) {
	policy, err := r.policyFor(actor)
	if err != nil {
		return nil, "", err
	}
	id, role := policy.counterpart(booking)
	return id, role, nil
}

type patientPolicy struct {
	resolver *ParticipantResolver
	userID   uint
}

func (p patientPolicy) canAccess(_ context.Context, booking models.Booking) (bool, error) {
	return booking.PatientID == p.userID, nil
}

// resolveRecipient returns the sticky staff member, assigning the clinic's first
// available staff when the booking has none yet.
func (p patientPolicy) resolveRecipient(ctx context.Context, booking models.Booking) (*uint, error) {
	if booking.AssignedStaffID != nil {
		assigned := *booking.AssignedStaffID
		return &assigned, nil
	}

	candidate, err := p.resolver.staff.FirstAvailable(ctx, booking.ClinicID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			p.resolver.logger.Warn().Ctx(ctx).
				Uint("booking_id", booking.ID).
				Uint("clinic_id", booking.ClinicID).
				Msg("clinic has no active staff to receive patient message")
			return nil, nil
		}
		return nil, fmt.Errorf("find clinic staff: %w", err)
	}

	assigned, err := p.resolver.bookings.AssignStaffIfAbsent(ctx, booking.ID, candidate.UserID)
	if err != nil {
		return nil, fmt.Errorf("assign staff to booking %d: %w", booking.ID, err)
	}
	if assigned != candidate.UserID {
		p.resolver.logger.Debug().Ctx(ctx).
			Uint("booking_id", booking.ID).
			Uint("assigned_staff_id", assigned).
			Msg("booking already assigned by a concurrent sender")
	}
	return &assigned, nil
}

func (p patientPolicy) counterpart(booking models.Booking) (*uint, models.Role) {
	if booking.AssignedStaffID == nil {
		return nil, models.RoleClinicStaff
	}
	staffID := *booking.AssignedStaffID
	return &staffID, models.RoleClinicStaff
}

func (p patientPolicy) scope(context.Context) (repository.BookingScope, error) {
	patientID := p.userID
	return repository.BookingScope{PatientID: &patientID}, nil
}

type clinicStaffPolicy struct {
	resolver *ParticipantResolver
	userID   uint
}

func (p clinicStaffPolicy) canAccess(ctx context.Context, booking models.Booking) (bool, error) {
	ok, err := p.resolver.staff.IsActiveMember(ctx, booking.ClinicID, p.userID)
	if err != nil {
		return false, fmt.Errorf("check clinic membership: %w", err)
	}
	return ok, nil
}

func (p clinicStaffPolicy) resolveRecipient(_ context.Context, booking models.Booking) (*uint, error) {
	patientID := booking.PatientID
	return &patientID, nil
}

func (p clinicStaffPolicy) counterpart(booking models.Booking) (*uint, models.Role) {
	patientID := booking.PatientID
	return &patientID, models.RolePatient
}

func (p clinicStaffPolicy) scope(ctx context.Context) (repository.BookingScope, error) {
	clinicIDs, err := p.resolver.staff.ClinicIDsForUser(ctx, p.userID)
	if err != nil {
		return repository.BookingScope{}, fmt.Errorf("list staff clinics: %w", err)
	}
	return repository.BookingScope{ClinicIDs: clinicIDs}, nil
}

// adminPolicy oversees every booking and always addresses the patient.
type adminPolicy struct{}

func (adminPolicy) canAccess(context.Context, models.Booking) (bool, error) {
	return true, nil
}

func (adminPolicy) resolveRecipient(_ context.Context, booking models.Booking) (*uint, error) {
	patientID := booking.PatientID
	return &patientID, nil
}

func (adminPolicy) counterpart(booking models.Booking) (*uint, models.Role) {
	patientID := booking.PatientID
	return &patientID, models.RolePatient
}

func (adminPolicy) scope(context.Context) (repository.BookingScope, error) {
	return repository.BookingScope{All: true}, nil
}
