package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/smiletrip-api/internal/config"
	"github.com/noah-isme/smiletrip-api/internal/database"
	"github.com/noah-isme/smiletrip-api/internal/handler"
	"github.com/noah-isme/smiletrip-api/internal/middleware"
	"github.com/noah-isme/smiletrip-api/internal/models"
	"github.com/noah-isme/smiletrip-api/internal/repository"
	"github.com/noah-isme/smiletrip-api/internal/router"
	"github.com/noah-isme/smiletrip-api/internal/service"
)

const (
	jwtSecret   = "handler-test-secret"
	bookingID   = uint(42)
	patientID   = uint(1)
	staffID     = uint(20)
	outsiderID  = uint(500)
	clinicID    = uint(10)
	fileBaseURL = "https://files.test/"
)

type memoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryStorage) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return key, nil
}

func (m *memoryStorage) URL(_ context.Context, handle string) (string, error) {
	return fileBaseURL + handle, nil
}

func (m *memoryStorage) Delete(_ context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, handle)
	return nil
}

type apiFixture struct {
	app         *fiber.App
	db          *gorm.DB
	broadcaster *service.Broadcaster
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := zerolog.Nop()

	dsn := fmt.Sprintf("file:handler_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	require.NoError(t, db.Create(&models.Booking{ID: bookingID, PatientID: patientID, ClinicID: clinicID, Status: "confirmed"}).Error)
	require.NoError(t, db.Create(&models.ClinicStaff{ClinicID: clinicID, UserID: staffID, Active: true}).Error)
	require.NoError(t, db.Create(&models.UserProfile{ID: patientID, DisplayName: "Ana Patient", Role: models.RolePatient}).Error)
	require.NoError(t, db.Create(&models.UserProfile{ID: staffID, DisplayName: "Dr. Kovacs", Role: models.RoleClinicStaff}).Error)

	bookings := repository.NewBookingRepository(db)
	staff := repository.NewClinicStaffRepository(db)
	profiles := repository.NewUserProfileRepository(db)
	messages := repository.NewMessageRepository(db)
	files := repository.NewFileRepository(db)
	notificationsRepo := repository.NewNotificationRepository(db)

	resolver := service.NewParticipantResolver(bookings, staff, logger)
	broadcaster := service.NewBroadcaster(service.BroadcasterOptions{SendBuffer: 8}, logger)
	t.Cleanup(broadcaster.Close)

	notifications := service.NewNotificationService(notificationsRepo, profiles, nil, 0, logger)
	attachments := service.NewAttachmentService(&memoryStorage{objects: map[string][]byte{}}, files, resolver,
		service.AttachmentOptions{MaxSizeMB: 1, TempDir: t.TempDir()}, logger)
	messageService := service.NewMessageService(service.MessageDependencies{
		Messages:    messages,
		Files:       files,
		Resolver:    resolver,
		Attachments: attachments,
		Notifier:    notifications,
		Pusher:      broadcaster,
	}, logger)
	conversations := service.NewConversationService(bookings, messages, profiles, resolver, logger)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	cfg := config.Config{AppName: "SmileTrip API", AppEnv: "test", MessageRateLimitPerMinute: 1000}
	router.Register(app, cfg, router.Dependencies{
		MessagingHandler:    handler.NewMessagingHandler(conversations, messageService, logger),
		AttachmentHandler:   handler.NewAttachmentHandler(attachments, logger),
		NotificationHandler: handler.NewNotificationHandler(notifications, logger, time.Second),
		RealtimeHandler:     handler.NewRealtimeHandler(broadcaster, logger),
		JWTMiddleware:       middleware.JWTProtected(jwtSecret),
	})

	return &apiFixture{app: app, db: db, broadcaster: broadcaster}
}

func tokenFor(t *testing.T, userID uint, role models.Role) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  fmt.Sprint(userID),
		"role": string(role),
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (f *apiFixture) upload(t *testing.T, token, contextID, filename string, content []byte) *http.Response {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if contextID != "" {
		require.NoError(t, writer.WriteField("contextId", contextID))
	}
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/attachments", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

type envelope[T any] struct {
	Success bool              `json:"success"`
	Data    T                 `json:"data"`
	Message string            `json:"message"`
	Details map[string]string `json:"details"`
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, json.Unmarshal(data, target))
}

func pdfPayload(size int) []byte {
	header := "%PDF-1.4\n"
	return []byte(header + strings.Repeat("0", size-len(header)))
}
