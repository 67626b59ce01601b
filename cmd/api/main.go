package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/smiletrip-api/internal/config"
	"github.com/noah-isme/smiletrip-api/internal/database"
	"github.com/noah-isme/smiletrip-api/internal/handler"
	"github.com/noah-isme/smiletrip-api/internal/middleware"
	"github.com/noah-isme/smiletrip-api/internal/repository"
	"github.com/noah-isme/smiletrip-api/internal/router"
	"github.com/noah-isme/smiletrip-api/internal/service"
	"github.com/noah-isme/smiletrip-api/pkg/storage"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "smiletrip-api").Logger().Hook(middleware.CorrelationHook{})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
	} else {
		logger.Warn().Msg("redis not configured; send deduplication and redis relay disabled")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer natsConn.Close()
	}

	objectStorage, err := buildStorage(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("provider", cfg.StorageProvider).Msg("failed to initialise attachment storage")
	}

	var relay service.Relay
	switch {
	case natsConn != nil:
		relay = service.NewNATSRelay(natsConn, cfg.RealtimeChannelBase, logger)
	case redisClient != nil:
		relay = service.NewRedisRelay(redisClient, cfg.RealtimeChannelBase, logger)
	default:
		logger.Warn().Msg("no relay configured; realtime push limited to this node")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	bookingRepo := repository.NewBookingRepository(db)
	staffRepo := repository.NewClinicStaffRepository(db)
	profileRepo := repository.NewUserProfileRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	fileRepo := repository.NewFileRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	resolver := service.NewParticipantResolver(bookingRepo, staffRepo, logger)
	broadcaster := service.NewBroadcaster(service.BroadcasterOptions{
		SendBuffer:   cfg.RealtimeSendBuffer,
		PingInterval: cfg.RealtimePingInterval,
		Relay:        relay,
	}, logger)
	notificationService := service.NewNotificationService(notificationRepo, profileRepo, relay, cfg.NotificationPreviewLength, logger)
	attachmentService := service.NewAttachmentService(objectStorage, fileRepo, resolver, service.AttachmentOptions{
		MaxSizeMB: cfg.UploadMaxSizeMB,
		Timeout:   cfg.UploadTimeout,
		TempDir:   cfg.UploadTempDir,
	}, logger)
	messageService := service.NewMessageService(service.MessageDependencies{
		Messages:    messageRepo,
		Files:       fileRepo,
		Resolver:    resolver,
		Attachments: attachmentService,
		Notifier:    notificationService,
		Pusher:      broadcaster,
		Redis:       redisClient,
		DedupeTTL:   cfg.MessageDedupeTTL,
		Validator:   validate,
	}, logger)
	conversationService := service.NewConversationService(bookingRepo, messageRepo, profileRepo, resolver, logger)

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	if err := broadcaster.Start(relayCtx); err != nil {
		logger.Fatal().Err(err).Msg("failed to subscribe realtime relay")
	}
	if err := notificationService.Start(relayCtx); err != nil {
		logger.Fatal().Err(err).Msg("failed to subscribe notification relay")
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.UploadMaxSizeMB + 1) * 1024 * 1024,
	})

	healthChecks := map[string]handler.HealthChecker{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if redisClient != nil {
		healthChecks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	if natsConn != nil {
		healthChecks["nats"] = func(context.Context) error {
			if !natsConn.IsConnected() {
				return fmt.Errorf("nats status %s", natsConn.Status())
			}
			return nil
		}
	}

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSOrigins})
	router.Register(app, cfg, router.Dependencies{
		MessagingHandler:    handler.NewMessagingHandler(conversationService, messageService, logger),
		AttachmentHandler:   handler.NewAttachmentHandler(attachmentService, logger),
		NotificationHandler: handler.NewNotificationHandler(notificationService, logger, cfg.NotificationStreamKeepAlive),
		RealtimeHandler:     handler.NewRealtimeHandler(broadcaster, logger),
		HealthChecks:        healthChecks,
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
		Logger:              logger,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(app, broadcaster, stopRelay, logger)
}

func buildStorage(cfg config.Config, logger zerolog.Logger) (service.ObjectStorage, error) {
	switch cfg.StorageProvider {
	case config.StorageProviderCloudinary:
		return storage.NewCloudinary(storage.CloudinaryConfig{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryUploadFolder,
		}, logger)
	default:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return storage.NewS3(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Endpoint:        cfg.S3Endpoint,
			PresignTTL:      cfg.S3PresignTTL,
		}, logger)
	}
}

func waitForShutdown(app *fiber.App, broadcaster *service.Broadcaster, stopRelay context.CancelFunc, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	stopRelay()
	broadcaster.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
