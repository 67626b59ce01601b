package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
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

const defaultUploadTimeout = 30 * time.Second

// allowedContentTypes lists images, PDF, plain office documents and text.
var allowedContentTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/heic",
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"text/plain",
}

// ObjectStorage abstracts where attachment bytes live. The handle returned by
// Put is opaque and stored as the file URL.
type ObjectStorage interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
	URL(ctx context.Context, handle string) (string, error)
	Delete(ctx context.Context, handle string) error
}

// AttachmentURLResolver turns a stored attachment into a download reference.
type AttachmentURLResolver interface {
	ResolveURL(ctx context.Context, file models.FileAttachment) string
}

// AttachmentService validates uploads and links them to booking conversations.
type AttachmentService interface {
	AttachmentURLResolver
	Upload(ctx context.Context, actor Actor, contextID uint, file *multipart.FileHeader) (dto.AttachmentResponse, error)
	Get(ctx context.Context, actor Actor, attachmentID uint) (dto.AttachmentResponse, error)
}

// AttachmentOptions tunes the upload pipeline.
type AttachmentOptions struct {
	MaxSizeMB int
	Timeout   time.Duration
	TempDir   string
}

type attachmentService struct {
	storage  ObjectStorage
	repo     repository.FileRepository
	resolver *ParticipantResolver
	logger   zerolog.Logger
	maxSize  int64
	timeout  time.Duration
	tempDir  string
	tracer   trace.Tracer
}

// NewAttachmentService constructs an attachment service.
func NewAttachmentService(storage ObjectStorage, repo repository.FileRepository, resolver *ParticipantResolver, opts AttachmentOptions, logger zerolog.Logger) AttachmentService {
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultUploadTimeout
	}
	return &attachmentService{
		storage:  storage,
		repo:     repo,
		resolver: resolver,
		logger:   logger.With().Str("component", "attachment_service").Logger(),
		maxSize:  int64(opts.MaxSizeMB) * 1024 * 1024,
		timeout:  opts.Timeout,
		tempDir:  opts.TempDir,
		tracer:   otel.Tracer("github.com/noah-isme/smiletrip-api/internal/service/attachment"),
	}
}

func (s *attachmentService) Upload(ctx context.Context, actor Actor, contextID uint, file *multipart.FileHeader) (dto.AttachmentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "attachment.upload", trace.WithAttributes(
		attribute.Int64("attachment.context_id", int64(contextID)),
		attribute.Int64("attachment.max_bytes", s.maxSize),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		observability.UploadLatency().Observe(time.Since(start).Seconds())
	}()

	reject := func(reason string, err error) (dto.AttachmentResponse, error) {
		if reason != "" {
			observability.UploadRejected().WithLabelValues(reason).Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		return dto.AttachmentResponse{}, err
	}

	if contextID == 0 {
		return reject("validation", invalid("contextId", "is required"))
	}
	if file == nil {
		return reject("validation", invalid("file", "is required"))
	}
	span.SetAttributes(
		attribute.String("attachment.original_name", strings.TrimSpace(file.Filename)),
		attribute.Int64("attachment.request_size", file.Size),
	)

	if _, err := s.resolver.Authorize(ctx, actor, contextID); err != nil {
		return reject("", err)
	}

	declared := normalizeContentType(file.Header.Get("Content-Type"))
	if declared != "" && declared != "application/octet-stream" && !isAllowedContentType(declared) {
		return reject("type", invalid("contentType", fmt.Sprintf("%s is not an allowed attachment type", declared)))
	}

	if file.Size > s.maxSize {
		return reject("size", s.tooLarge())
	}

	spooled, err := s.spool(file)
	if err != nil {
		return reject("read", err)
	}
	defer spooled.cleanup()

	if spooled.size > s.maxSize {
		return reject("size", s.tooLarge())
	}
	if spooled.size == 0 {
		return reject("validation", invalid("file", "is empty"))
	}

	contentType, err := matchContentType(declared, spooled.detected)
	if err != nil {
		return reject("type", err)
	}

	fileName := sanitizeFileName(file.Filename)
	key := fmt.Sprintf("bookings/%d/%s-%s", contextID, uuid.NewString(), fileName)
	span.SetAttributes(
		attribute.String("attachment.content_type", contentType),
		attribute.Int64("attachment.size_bytes", spooled.size),
	)

	if _, err := spooled.file.Seek(0, io.SeekStart); err != nil {
		return reject("read", err)
	}

	putCtx, cancel := context.WithTimeout(ctx, s.timeout)
	handle, err := s.storage.Put(putCtx, key, spooled.file, spooled.size, contentType)
	cancel()
	if err != nil {
		s.logger.Error().Err(err).Uint("booking_id", contextID).Msg("attachment storage failed")
		return reject("storage", fmt.Errorf("%w: %v", ErrStorageUnavailable, err))
	}

	record := models.FileAttachment{
		BookingID:   contextID,
		UploaderID:  actor.UserID,
		FileName:    fileName,
		ContentType: contentType,
		SizeBytes:   spooled.size,
		Checksum:    spooled.checksum,
		FileURL:     handle,
		Visibility:  models.FileVisibilityParticipants,
	}

	if err := s.repo.Create(ctx, &record); err != nil {
		s.discard(handle)
		return reject("persistence", fmt.Errorf("persist attachment: %w", err))
	}

	observability.UploadRequests().WithLabelValues(contentType).Inc()
	span.SetStatus(codes.Ok, "stored")

	return dto.NewAttachmentResponse(record, s.ResolveURL(ctx, record)), nil
}

func (s *attachmentService) Get(ctx context.Context, actor Actor, attachmentID uint) (dto.AttachmentResponse, error) {
	record, err := s.repo.FindByID(ctx, attachmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AttachmentResponse{}, ErrAttachmentNotFound
		}
		return dto.AttachmentResponse{}, err
	}

	if _, err := s.resolver.Authorize(ctx, actor, record.BookingID); err != nil {
		return dto.AttachmentResponse{}, err
	}

	return dto.NewAttachmentResponse(record, s.ResolveURL(ctx, record)), nil
}

// ResolveURL returns a fresh download reference, or an empty string when the
// storage cannot produce one.
func (s *attachmentService) ResolveURL(ctx context.Context, file models.FileAttachment) string {
	url, err := s.storage.URL(ctx, file.FileURL)
	if err != nil {
		s.logger.Warn().Err(err).Uint("attachment_id", file.ID).Msg("failed to resolve attachment url")
		return ""
	}
	return url
}

func (s *attachmentService) tooLarge() error {
	return invalid("file", fmt.Sprintf("exceeds maximum size of %s", humanize.IBytes(uint64(s.maxSize))))
}

// discard removes stored bytes whose metadata row could not be written.
func (s *attachmentService) discard(handle string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.storage.Delete(ctx, handle); err != nil {
		s.logger.Error().Err(err).Str("handle", handle).Msg("failed to delete orphaned attachment object")
	}
}

type spooledUpload struct {
	file     *os.File
	size     int64
	checksum string
	detected *mimetype.MIME
}

func (u *spooledUpload) cleanup() {
	name := u.file.Name()
	_ = u.file.Close()
	_ = os.Remove(name)
}

// spool copies at most maxSize+1 bytes to a temp file so oversize bodies are
// detected without buffering them in memory.
func (s *attachmentService) spool(header *multipart.FileHeader) (*spooledUpload, error) {
	src, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(s.tempDir, "attachment-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	upload := &spooledUpload{file: tmp}

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), io.LimitReader(src, s.maxSize+1))
	if err != nil {
		upload.cleanup()
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	upload.size = written
	upload.checksum = hex.EncodeToString(hasher.Sum(nil))

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		upload.cleanup()
		return nil, err
	}
	detected, err := mimetype.DetectReader(tmp)
	if err != nil {
		upload.cleanup()
		return nil, fmt.Errorf("detect content type: %w", err)
	}
	upload.detected = detected

	return upload, nil
}

// matchContentType checks the sniffed content against the declared type. An
// absent or generic declaration falls back to the sniffed type.
func matchContentType(declared string, detected *mimetype.MIME) (string, error) {
	if declared != "" && declared != "application/octet-stream" {
		for node := detected; node != nil; node = node.Parent() {
			if node.Is(declared) {
				return declared, nil
			}
		}
		return "", invalid("file", fmt.Sprintf("content does not match declared type %s", declared))
	}

	for node := detected; node != nil; node = node.Parent() {
		candidate := normalizeContentType(node.String())
		if isAllowedContentType(candidate) {
			return candidate, nil
		}
	}
	return "", invalid("contentType", fmt.Sprintf("%s is not an allowed attachment type", normalizeContentType(detected.String())))
}

func normalizeContentType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return strings.ToLower(value)
	}
	return strings.ToLower(mediaType)
}

func isAllowedContentType(contentType string) bool {
	for _, allowed := range allowedContentTypes {
		if contentType == allowed {
			return true
		}
	}
	return false
}

func sanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.ToLower(base)
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		if r == '-' || r == '_' {
			return r
		}
		return '-'
	}, base)
	base = strings.Trim(base, "-")
	if base == "" {
		base = fmt.Sprintf("attachment-%d", time.Now().Unix())
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" || ext == "." {
		ext = ".bin"
	}
	return base + ext
}
