package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/smiletrip-api/internal/dto"
	"github.com/noah-isme/smiletrip-api/internal/models"
	"github.com/noah-isme/smiletrip-api/internal/repository"
)

const (
	testBookingID = uint(42)
	testClinicID  = uint(10)
	testPatientID = uint(1)
	testStaffA    = uint(20)
	testStaffB    = uint(21)
	testAdminID   = uint(99)
	testOutsider  = uint(500)
)

var (
	patientActor  = Actor{UserID: testPatientID, Role: models.RolePatient}
	staffActorA   = Actor{UserID: testStaffA, Role: models.RoleClinicStaff}
	staffActorB   = Actor{UserID: testStaffB, Role: models.RoleClinicStaff}
	adminActor    = Actor{UserID: testAdminID, Role: models.RoleAdmin}
	outsiderActor = Actor{UserID: testOutsider, Role: models.RolePatient}
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func setupServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Booking{},
		&models.ClinicStaff{},
		&models.UserProfile{},
		&models.FileAttachment{},
		&models.Message{},
		&models.Notification{},
	))
	return db
}

// seedClinic creates booking 42 for patient 1 at clinic 10, staffed by users 20 and 21.
func seedClinic(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create(&models.Booking{ID: testBookingID, PatientID: testPatientID, ClinicID: testClinicID, Status: "confirmed"}).Error)
	require.NoError(t, db.Create(&models.ClinicStaff{ClinicID: testClinicID, UserID: testStaffA, Active: true}).Error)
	require.NoError(t, db.Create(&models.ClinicStaff{ClinicID: testClinicID, UserID: testStaffB, Active: true}).Error)
	require.NoError(t, db.Create(&models.UserProfile{ID: testPatientID, DisplayName: "Ana Patient", Role: models.RolePatient}).Error)
	require.NoError(t, db.Create(&models.UserProfile{ID: testStaffA, DisplayName: "Dr. Kovacs", Role: models.RoleClinicStaff}).Error)
}

type repositories struct {
	bookings      repository.BookingRepository
	staff         repository.ClinicStaffRepository
	profiles      repository.UserProfileRepository
	messages      repository.MessageRepository
	files         repository.FileRepository
	notifications repository.NotificationRepository
}

func newRepositories(db *gorm.DB) repositories {
	return repositories{
		bookings:      repository.NewBookingRepository(db),
		staff:         repository.NewClinicStaffRepository(db),
		profiles:      repository.NewUserProfileRepository(db),
		messages:      repository.NewMessageRepository(db),
		files:         repository.NewFileRepository(db),
		notifications: repository.NewNotificationRepository(db),
	}
}

// memoryStorage keeps objects in memory and can be told to fail.
type memoryStorage struct {
	mu        sync.Mutex
	objects   map[string][]byte
	types     map[string]string
	putErr    error
	deleted   []string
	putCalled int
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryStorage) Put(_ context.Context, key string, body io.Reader, _ int64, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalled++
	if m.putErr != nil {
		return "", m.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.objects[key] = data
	m.types[key] = contentType
	return key, nil
}

func (m *memoryStorage) URL(_ context.Context, handle string) (string, error) {
	return "https://files.test/" + handle, nil
}

func (m *memoryStorage) Delete(_ context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, handle)
	m.deleted = append(m.deleted, handle)
	return nil
}

func (m *memoryStorage) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// recordingPusher captures pushes instead of delivering them.
type recordingPusher struct {
	mu     sync.Mutex
	events []dto.RealtimeEvent
}

func (p *recordingPusher) Push(_ context.Context, recipient uint, event dto.RealtimeEvent) PushOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return PushMissed
}

func (p *recordingPusher) all() []dto.RealtimeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]dto.RealtimeEvent(nil), p.events...)
}

type failingEmitter struct {
	calls int
}

func (f *failingEmitter) Emit(context.Context, EmitRequest) (dto.NotificationResponse, error) {
	f.calls++
	return dto.NotificationResponse{}, errors.New("notifications table unavailable")
}

func buildFileHeader(t *testing.T, filename, contentType string, content []byte) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {"form-data; name=\"file\"; filename=\"" + filename + "\""},
		"Content-Type":        {contentType},
	})
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	reader := multipart.NewReader(body, writer.Boundary())
	form, err := reader.ReadForm(int64(len(content) + 1024))
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })
	files := form.File["file"]
	require.Len(t, files, 1)
	return files[0]
}

func pdfBytes(size int) []byte {
	header := []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
	if size <= len(header) {
		return header
	}
	return append(header, bytes.Repeat([]byte("0"), size-len(header))...)
}
