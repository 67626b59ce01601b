package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"
)

// CloudinaryConfig contains credentials required to talk to Cloudinary.
type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

type cloudinaryAPI interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
	Destroy(ctx context.Context, params uploader.DestroyParams) (*uploader.DestroyResult, error)
}

// Cloudinary stores attachments as Cloudinary assets. Handles are secure delivery URLs.
type Cloudinary struct {
	client cloudinaryAPI
	folder string
	logger zerolog.Logger
}

var versionSegment = regexp.MustCompile(`^v\d+$`)

// NewCloudinary constructs a Cloudinary backed object store.
func NewCloudinary(cfg CloudinaryConfig, logger zerolog.Logger) (*Cloudinary, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return newCloudinary(&cld.Upload, cfg.Folder, logger), nil
}

func newCloudinary(client cloudinaryAPI, folder string, logger zerolog.Logger) *Cloudinary {
	return &Cloudinary{
		client: client,
		folder: strings.Trim(folder, "/"),
		logger: logger.With().Str("component", "cloudinary_storage").Logger(),
	}
}

// Put uploads the body and returns its secure URL as handle.
func (c *Cloudinary) Put(ctx context.Context, key string, body io.Reader, _ int64, _ string) (string, error) {
	publicID := strings.TrimSuffix(strings.Trim(key, "/"), path.Ext(key))
	if publicID == "" {
		return "", fmt.Errorf("object key must not be empty")
	}

	result, err := c.client.Upload(ctx, body, uploader.UploadParams{
		Folder:       c.folder,
		PublicID:     publicID,
		ResourceType: "auto",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload asset: %w", err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("failed to upload asset: %s", result.Error.Message)
	}

	c.logger.Info().Str("public_id", result.PublicID).Msg("file uploaded to cloudinary")

	return result.SecureURL, nil
}

// URL returns the stored delivery URL.
func (c *Cloudinary) URL(_ context.Context, handle string) (string, error) {
	return handle, nil
}

// Delete destroys the asset behind a delivery URL.
func (c *Cloudinary) Delete(ctx context.Context, handle string) error {
	if handle == "" {
		return nil
	}

	resourceType, publicID, err := parseDeliveryURL(handle)
	if err != nil {
		return err
	}

	result, err := c.client.Destroy(ctx, uploader.DestroyParams{
		PublicID:     publicID,
		ResourceType: resourceType,
	})
	if err != nil {
		return fmt.Errorf("failed to destroy asset: %w", err)
	}
	if result.Result != "ok" && result.Result != "not found" {
		return fmt.Errorf("failed to destroy asset %s: %s", publicID, result.Result)
	}
	return nil
}

// parseDeliveryURL extracts the resource type and public id from
// https://res.cloudinary.com/<cloud>/<resource_type>/upload/[v<version>/]<public_id>[.<ext>].
// Raw assets keep their extension in the public id.
func parseDeliveryURL(raw string) (string, string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid cloudinary url: %w", err)
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	uploadAt := -1
	for i, segment := range segments {
		if segment == "upload" {
			uploadAt = i
			break
		}
	}
	if uploadAt < 1 || uploadAt+1 >= len(segments) {
		return "", "", fmt.Errorf("unrecognised cloudinary url %q", raw)
	}

	resourceType := segments[uploadAt-1]
	rest := segments[uploadAt+1:]
	if versionSegment.MatchString(rest[0]) {
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return "", "", fmt.Errorf("unrecognised cloudinary url %q", raw)
	}

	publicID := strings.Join(rest, "/")
	if resourceType != "raw" {
		publicID = strings.TrimSuffix(publicID, path.Ext(publicID))
	}
	return resourceType, publicID, nil
}
