package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage providers supported for attachment bytes.
const (
	StorageProviderS3         = "s3"
	StorageProviderCloudinary = "cloudinary"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName     string
	AppEnv      string
	AppPort     string
	DatabaseURL string
	RedisURL    string
	NATSURL     string
	JWTSecret   string
	CORSOrigins string

	StorageProvider        string
	S3Bucket               string
	S3Region               string
	S3AccessKeyID          string
	S3SecretAccessKey      string
	S3Endpoint             string
	S3PresignTTL           time.Duration
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string

	UploadMaxSizeMB int
	UploadTimeout   time.Duration
	UploadTempDir   string

	NotificationPreviewLength   int
	NotificationStreamKeepAlive time.Duration

	RealtimeChannelBase  string
	RealtimeSendBuffer   int
	RealtimePingInterval time.Duration

	MessageDedupeTTL          time.Duration
	MessageRateLimitPerMinute int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("SMILETRIP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "SmileTrip API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("storage.provider", StorageProviderS3)
	v.SetDefault("s3.presign_ttl", "1h")
	v.SetDefault("cloudinary.folder", "smiletrip/attachments")
	v.SetDefault("upload.max_size_mb", 10)
	v.SetDefault("upload.timeout", "30s")
	v.SetDefault("notification.preview_length", 120)
	v.SetDefault("notification.stream_keepalive", "30s")
	v.SetDefault("realtime.channel_base", "smiletrip")
	v.SetDefault("realtime.send_buffer", 32)
	v.SetDefault("realtime.ping_interval", "30s")
	v.SetDefault("message.dedupe_ttl", "10m")
	v.SetDefault("ratelimit.messages_per_minute", 60)

	durations := map[string]time.Duration{}
	for _, key := range []string{"s3.presign_ttl", "upload.timeout", "notification.stream_keepalive", "realtime.ping_interval", "message.dedupe_ttl"} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be positive", key)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:     v.GetString("app.name"),
		AppEnv:      v.GetString("app.env"),
		AppPort:     v.GetString("app.port"),
		DatabaseURL: v.GetString("database.url"),
		RedisURL:    v.GetString("redis.url"),
		NATSURL:     v.GetString("nats.url"),
		JWTSecret:   v.GetString("jwt.secret"),
		CORSOrigins: v.GetString("cors.allow_origins"),

		StorageProvider:        strings.ToLower(strings.TrimSpace(v.GetString("storage.provider"))),
		S3Bucket:               v.GetString("s3.bucket"),
		S3Region:               v.GetString("s3.region"),
		S3AccessKeyID:          v.GetString("s3.access_key_id"),
		S3SecretAccessKey:      v.GetString("s3.secret_access_key"),
		S3Endpoint:             v.GetString("s3.endpoint"),
		S3PresignTTL:           durations["s3.presign_ttl"],
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),

		UploadMaxSizeMB: v.GetInt("upload.max_size_mb"),
		UploadTimeout:   durations["upload.timeout"],
		UploadTempDir:   v.GetString("upload.temp_dir"),

		NotificationPreviewLength:   v.GetInt("notification.preview_length"),
		NotificationStreamKeepAlive: durations["notification.stream_keepalive"],

		RealtimeChannelBase:  v.GetString("realtime.channel_base"),
		RealtimeSendBuffer:   v.GetInt("realtime.send_buffer"),
		RealtimePingInterval: durations["realtime.ping_interval"],

		MessageDedupeTTL:          durations["message.dedupe_ttl"],
		MessageRateLimitPerMinute: v.GetInt("ratelimit.messages_per_minute"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.StorageProvider {
	case StorageProviderS3, StorageProviderCloudinary:
	default:
		return Config{}, fmt.Errorf("unsupported storage provider %q", cfg.StorageProvider)
	}

	if cfg.UploadMaxSizeMB <= 0 {
		cfg.UploadMaxSizeMB = 10
	}
	if cfg.NotificationPreviewLength <= 0 {
		cfg.NotificationPreviewLength = 120
	}
	if cfg.RealtimeSendBuffer <= 0 {
		cfg.RealtimeSendBuffer = 32
	}
	if cfg.MessageRateLimitPerMinute <= 0 {
		cfg.MessageRateLimitPerMinute = 60
	}

	return cfg, nil
}
