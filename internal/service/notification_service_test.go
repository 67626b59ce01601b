package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/smiletrip-api/internal/models"
)

func uintRef(v uint) *uint {
	return &v
}

func TestNotificationEmitBuildsSummary(t *testing.T) {
	db := setupServiceDB(t)
	seedClinic(t, db)
	repos := newRepositories(db)
	svc := NewNotificationService(repos.notifications, repos.profiles, nil, 10, testLogger())

	message := models.Message{ID: 5, BookingID: testBookingID, SenderID: testStaffB, SenderRole: models.RoleClinicStaff, RecipientID: uintRef(testPatientID), Content: "Your <i>crown</i> is ready for fitting", Kind: models.MessageKindText}

	notification, err := svc.Emit(context.Background(), EmitRequest{Message: message})
	require.NoError(t, err)
	require.Equal(t, testPatientID, notification.UserID)
	require.Equal(t, models.NotificationTypeNewMessage, notification.Type)
	require.Equal(t, "New message from your clinic", notification.Title, "falls back to the role label without a profile")
	require.Equal(t, "Your crown...", notification.Message)
	require.Equal(t, "/conversations/42", notification.ActionURL)
	require.False(t, notification.Read)
}

func TestNotificationEmitRequiresRecipient(t *testing.T) {
	db := setupServiceDB(t)
	repos := newRepositories(db)
	svc := NewNotificationService(repos.notifications, repos.profiles, nil, 0, testLogger())

	_, err := svc.Emit(context.Background(), EmitRequest{Message: models.Message{ID: 1, BookingID: 1, Content: "hi"}})
	require.ErrorIs(t, err, ErrNotificationEmit)
}

func TestNotificationPreviewKeepsShortBodies(t *testing.T) {
	require.Equal(t, "Hello", truncatePreview("Hello", 120))
	require.Equal(t, "Zahnärzt...", truncatePreview("Zahnärztin", 8))
	require.Equal(t, strings.Repeat("a", 120)+"...", truncatePreview(strings.Repeat("a", 200), 120))
}

func TestNotificationReadStateIsIndependent(t *testing.T) {
	db := setupServiceDB(t)
	seedClinic(t, db)
	repos := newRepositories(db)
	svc := NewNotificationService(repos.notifications, repos.profiles, nil, 0, testLogger())
	ctx := context.Background()

	message := models.Message{BookingID: testBookingID, SenderID: testPatientID, SenderRole: models.RolePatient, RecipientID: uintRef(testStaffA), Content: "Hello", Kind: models.MessageKindText}
	require.NoError(t, repos.messages.Create(ctx, &message))

	notification, err := svc.Emit(ctx, EmitRequest{Message: message})
	require.NoError(t, err)

	read, err := svc.MarkRead(ctx, notification.ID, testStaffA)
	require.NoError(t, err)
	require.True(t, read.Read)

	stored, err := repos.messages.FindByID(ctx, message.ID)
	require.NoError(t, err)
	require.False(t, stored.IsRead, "dismissing a notification leaves the message unread")

	_, err = svc.MarkRead(ctx, notification.ID, testPatientID)
	require.ErrorIs(t, err, ErrNotificationNotFound)

	count, err := svc.UnreadCount(ctx, testStaffA)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestNotificationMarkAllRead(t *testing.T) {
	db := setupServiceDB(t)
	seedClinic(t, db)
	repos := newRepositories(db)
	svc := NewNotificationService(repos.notifications, repos.profiles, nil, 0, testLogger())
	ctx := context.Background()

	for i := uint(1); i <= 3; i++ {
		_, err := svc.Emit(ctx, EmitRequest{Message: models.Message{ID: i, BookingID: testBookingID, SenderID: testPatientID, SenderRole: models.RolePatient, RecipientID: uintRef(testStaffA), Content: "hi"}})
		require.NoError(t, err)
	}

	updated, err := svc.MarkAllRead(ctx, testStaffA)
	require.NoError(t, err)
	require.Equal(t, int64(3), updated)

	unread, err := svc.List(ctx, testStaffA, true, 0, 0)
	require.NoError(t, err)
	require.Empty(t, unread)
}

func TestNotificationSubscribeReceivesEmits(t *testing.T) {
	db := setupServiceDB(t)
	seedClinic(t, db)
	repos := newRepositories(db)
	svc := NewNotificationService(repos.notifications, repos.profiles, nil, 0, testLogger())

	stream, cleanup := svc.Subscribe(testStaffA)
	defer cleanup()

	_, err := svc.Emit(context.Background(), EmitRequest{Message: models.Message{ID: 1, BookingID: testBookingID, SenderID: testPatientID, SenderRole: models.RolePatient, RecipientID: uintRef(testStaffA), Content: "Hello"}})
	require.NoError(t, err)

	select {
	case notification := <-stream:
		require.Equal(t, "New message from Ana Patient", notification.Title)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive notification")
	}

	cleanup()
	_, open := <-stream
	require.False(t, open)
}
