package service

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrForbidden indicates the actor is not a participant of the booking.
	ErrForbidden = errors.New("not a participant of this conversation")
	// ErrContextNotFound indicates the referenced booking does not exist.
	ErrContextNotFound = errors.New("conversation context not found")
	// ErrValidationFailed is matched by every *ValidationError.
	ErrValidationFailed = errors.New("validation failed")
	// ErrStorageUnavailable indicates the object storage rejected or timed out an upload.
	ErrStorageUnavailable = errors.New("attachment storage unavailable")
	// ErrNotificationEmit wraps notification persistence failures. It is logged, never returned to callers.
	ErrNotificationEmit = errors.New("notification emit failed")
	// ErrMessageNotFound indicates the message id is unknown.
	ErrMessageNotFound = errors.New("message not found")
	// ErrAttachmentNotFound indicates the attachment id is unknown.
	ErrAttachmentNotFound = errors.New("attachment not found")
	// ErrNotificationNotFound indicates the notification is unknown or belongs to someone else.
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrDuplicateMessage indicates a client message id was already used by the sender.
	ErrDuplicateMessage = errors.New("duplicate message")
)

// ValidationError names the offending field and why it was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidationFailed) match any validation error.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// fromValidator converts the first struct validation failure into a ValidationError.
func fromValidator(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	first := verrs[0]
	field := lowerFirst(first.Field())
	switch first.Tag() {
	case "required":
		return invalid(field, "is required")
	case "max":
		return invalid(field, fmt.Sprintf("must be at most %s characters", first.Param()))
	case "oneof":
		return invalid(field, fmt.Sprintf("must be one of [%s]", first.Param()))
	default:
		return invalid(field, fmt.Sprintf("failed %s validation", first.Tag()))
	}
}

func lowerFirst(value string) string {
	if value == "" {
		return value
	}
	runes := []rune(value)
	if runes[0] >= 'A' && runes[0] <= 'Z' {
		runes[0] = runes[0] + ('a' - 'A')
	}
	// ContextID -> contextId to match the JSON payload.
	out := string(runes)
	if len(out) > 2 && out[len(out)-2:] == "ID" {
		out = out[:len(out)-2] + "Id"
	}
	return out
}
