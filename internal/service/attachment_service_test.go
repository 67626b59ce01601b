package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/smiletrip-api/internal/dto"
	"github.com/noah-isme/smiletrip-api/internal/models"
)

type brokenFileRepo struct {
	created int
}

func (b *brokenFileRepo) Create(context.Context, *models.FileAttachment) error {
	b.created++
	return errors.New("files table is read-only")
}

func (b *brokenFileRepo) FindByID(context.Context, uint) (models.FileAttachment, error) {
	return models.FileAttachment{}, errors.New("files table is read-only")
}

func countFiles(t *testing.T, f *messagingFixture) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&models.FileAttachment{}).Count(&count).Error)
	return count
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "temporary upload copies must be removed")
}

func TestAttachmentRoundTripIntoMessage(t *testing.T) {
	f := newMessagingFixture(t, nil)
	ctx := context.Background()

	payload := pdfBytes(2 * 1024 * 1024)
	upload, err := f.attachments.Upload(ctx, patientActor, testBookingID, buildFileHeader(t, "X-Ray Scan.pdf", "application/pdf", payload))
	require.NoError(t, err)
	require.NotZero(t, upload.AttachmentID)
	require.Equal(t, "x-ray-scan.pdf", upload.FileName)
	require.Equal(t, "application/pdf", upload.ContentType)
	require.Equal(t, int64(len(payload)), upload.Size)
	require.Contains(t, upload.URL, "https://files.test/bookings/42/")
	require.Equal(t, 1, f.storage.count())

	attachmentID := upload.AttachmentID
	message, err := f.messages.Create(ctx, patientActor, dto.MessageCreateRequest{ContextID: testBookingID, AttachmentID: &attachmentID})
	require.NoError(t, err)
	require.True(t, message.HasAttachment)
	require.Equal(t, "attachment", message.MessageType)
	require.Equal(t, "x-ray-scan.pdf", message.Content)
	require.NotNil(t, message.Attachment)
	require.Equal(t, "application/pdf", message.Attachment.ContentType)
	require.Equal(t, int64(len(payload)), message.Attachment.Size)
	require.NotEmpty(t, message.Attachment.URL)

	listed, err := f.messages.List(ctx, staffActorA, testBookingID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.NotNil(t, listed[0].Attachment)
	require.Equal(t, upload.URL, listed[0].Attachment.URL)

	notifications, err := f.notifications.List(ctx, testStaffA, false, 0, 0)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	require.Equal(t, "Sent an attachment: x-ray-scan.pdf", notifications[0].Message)

	_, err = f.messages.Create(ctx, patientActor, dto.MessageCreateRequest{ContextID: testBookingID, AttachmentID: &attachmentID})
	require.ErrorIs(t, err, ErrValidationFailed, "an attachment can be linked to one message only")

	fetched, err := f.attachments.Get(ctx, staffActorA, attachmentID)
	require.NoError(t, err)
	require.Equal(t, upload.URL, fetched.URL)

	_, err = f.attachments.Get(ctx, outsiderActor, attachmentID)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.attachments.Get(ctx, staffActorA, 999)
	require.ErrorIs(t, err, ErrAttachmentNotFound)
}

func TestAttachmentRejectsDisallowedType(t *testing.T) {
	f := newMessagingFixture(t, nil)

	_, err := f.attachments.Upload(context.Background(), patientActor, testBookingID,
		buildFileHeader(t, "setup.exe", "application/x-msdownload", []byte("MZ\x90\x00binary")))
	require.ErrorIs(t, err, ErrValidationFailed)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "contentType", verr.Field)
	require.Zero(t, countFiles(t, f))
	require.Zero(t, f.storage.putCalled)
}

func TestAttachmentRejectsMismatchedContent(t *testing.T) {
	f := newMessagingFixture(t, nil)

	_, err := f.attachments.Upload(context.Background(), patientActor, testBookingID,
		buildFileHeader(t, "photo.png", "image/png", []byte("just some text pretending to be an image")))
	require.ErrorIs(t, err, ErrValidationFailed)
	require.Zero(t, countFiles(t, f))
}

func TestAttachmentSniffsGenericContentType(t *testing.T) {
	f := newMessagingFixture(t, nil)

	upload, err := f.attachments.Upload(context.Background(), patientActor, testBookingID,
		buildFileHeader(t, "notes.txt", "application/octet-stream", []byte("Allergic to penicillin.")))
	require.NoError(t, err)
	require.Equal(t, "text/plain", upload.ContentType)
}

func TestAttachmentRejectsOversizeFile(t *testing.T) {
	f := newMessagingFixture(t, nil)

	_, err := f.attachments.Upload(context.Background(), patientActor, testBookingID,
		buildFileHeader(t, "big.pdf", "application/pdf", pdfBytes(6*1024*1024)))
	require.ErrorIs(t, err, ErrValidationFailed)
	require.Contains(t, err.Error(), "5.0 MiB")
	require.Zero(t, countFiles(t, f))
}

func TestAttachmentRequiresParticipant(t *testing.T) {
	f := newMessagingFixture(t, nil)

	_, err := f.attachments.Upload(context.Background(), outsiderActor, testBookingID,
		buildFileHeader(t, "scan.pdf", "application/pdf", pdfBytes(128)))
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.attachments.Upload(context.Background(), patientActor, 404,
		buildFileHeader(t, "scan.pdf", "application/pdf", pdfBytes(128)))
	require.ErrorIs(t, err, ErrContextNotFound)
}

func TestAttachmentStorageFailureLeavesNoRow(t *testing.T) {
	db := setupServiceDB(t)
	seedClinic(t, db)
	repos := newRepositories(db)
	storage := newMemoryStorage()
	storage.putErr = errors.New("bucket unreachable")
	tempDir := t.TempDir()

	svc := NewAttachmentService(storage, repos.files, NewParticipantResolver(repos.bookings, repos.staff, testLogger()), AttachmentOptions{MaxSizeMB: 5, TempDir: tempDir}, testLogger())

	_, err := svc.Upload(context.Background(), patientActor, testBookingID, buildFileHeader(t, "scan.pdf", "application/pdf", pdfBytes(4096)))
	require.ErrorIs(t, err, ErrStorageUnavailable)

	var count int64
	require.NoError(t, db.Model(&models.FileAttachment{}).Count(&count).Error)
	require.Zero(t, count)
	requireEmptyDir(t, tempDir)
}

func TestAttachmentPersistenceFailureDeletesStoredObject(t *testing.T) {
	db := setupServiceDB(t)
	seedClinic(t, db)
	repos := newRepositories(db)
	storage := newMemoryStorage()
	files := &brokenFileRepo{}
	tempDir := t.TempDir()

	svc := NewAttachmentService(storage, files, NewParticipantResolver(repos.bookings, repos.staff, testLogger()), AttachmentOptions{MaxSizeMB: 5, TempDir: tempDir}, testLogger())

	_, err := svc.Upload(context.Background(), patientActor, testBookingID, buildFileHeader(t, "scan.pdf", "application/pdf", pdfBytes(4096)))
	require.Error(t, err)
	require.Equal(t, 1, files.created)
	require.Len(t, storage.deleted, 1)
	require.Zero(t, storage.count())
	requireEmptyDir(t, tempDir)
}

func TestAttachmentFromAnotherUploaderCannotBeLinked(t *testing.T) {
	f := newMessagingFixture(t, nil)
	ctx := context.Background()

	upload, err := f.attachments.Upload(ctx, staffActorA, testBookingID, buildFileHeader(t, "plan.pdf", "application/pdf", bytes.Clone(pdfBytes(256))))
	require.NoError(t, err)

	attachmentID := upload.AttachmentID
	_, err = f.messages.Create(ctx, patientActor, dto.MessageCreateRequest{ContextID: testBookingID, AttachmentID: &attachmentID})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "attachmentId", verr.Field)

	_, err = f.messages.Create(ctx, staffActorA, dto.MessageCreateRequest{ContextID: testBookingID, MessageType: "text", Content: "see file", AttachmentID: &attachmentID})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "messageType", verr.Field)
}
