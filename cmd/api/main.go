package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/textdesk/textdesk/cmd/mainconfig"
	"github.com/textdesk/textdesk/internal/api/handlers"
	"github.com/textdesk/textdesk/internal/api/router"
	"github.com/textdesk/textdesk/internal/autoreply"
	appconfig "github.com/textdesk/textdesk/internal/config"
	"github.com/textdesk/textdesk/internal/dispatch"
	"github.com/textdesk/textdesk/internal/ingest"
	"github.com/textdesk/textdesk/internal/media"
	"github.com/textdesk/textdesk/internal/notify"
	"github.com/textdesk/textdesk/internal/observability/metrics"
	"github.com/textdesk/textdesk/internal/responder"
	"github.com/textdesk/textdesk/internal/store"
	"github.com/textdesk/textdesk/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting textdesk API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	messageStore := store.NewStore(pool)
	settingsStore := store.NewSettingsStore(pool)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, dedup and inflight markers degrade", "error", err)
		}
	}

	var mediaStore *media.Store
	needsAWS := cfg.MediaBucket != "" || !cfg.UseMemoryQueue
	var s3Client *s3.Client
	var sqsClient *sqs.Client
	if needsAWS {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		s3Client = s3.NewFromConfig(awsCfg, func(o *s3.Options) { o.UsePathStyle = cfg.AWSEndpointOverride != "" })
		sqsClient = sqs.NewFromConfig(awsCfg)
	}
	if cfg.MediaBucket != "" {
		mediaStore = media.NewStore(s3Client, cfg.MediaBucket, logger)
	} else {
		logger.Warn("MEDIA_BUCKET not set, inbound images will be dropped")
	}

	var imageSaver ingest.ImageSaver
	if mediaStore.Enabled() {
		imageSaver = mediaStore
	}
	normalizer := ingest.NewNormalizer(imageSaver, logger)
	deduper := ingest.NewDeduper(redisClient, cfg.DedupWindow, logger)
	ingestor := ingest.NewIngestor(messageStore, deduper, logger)

	messagingMetrics := metrics.NewMessagingMetrics(nil)

	emailSender := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger)
	var notifier *notify.Service
	if emailSender != nil {
		notifier = notify.NewService(emailSender, cfg.OperatorEmail, logger)
	} else {
		notifier = notify.NewService(nil, "", logger)
		logger.Warn("SENDGRID_API_KEY not set, operator notifications disabled")
	}

	var messenger dispatch.Messenger
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" && cfg.TwilioFromNumber != "" {
		messenger = dispatch.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger)
	} else {
		logger.Warn("Twilio credentials not set, outbound SMS disabled")
	}

	var generator autoreply.Generator
	if cfg.AnthropicAPIKey != "" {
		client, err := responder.New(responder.Config{
			APIKey:  cfg.AnthropicAPIKey,
			Model:   cfg.AnthropicModel,
			BaseURL: cfg.AnthropicBaseURL,
			Timeout: cfg.ReplyTimeout,
			Logger:  logger,
		})
		if err != nil {
			logger.Error("failed to create responder client", "error", err)
			os.Exit(1)
		}
		generator = client
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set, automated replies disabled")
	}

	queue := buildQueue(cfg, sqsClient, logger)
	replyService := autoreply.NewService(settingsStore, queue, notifier, messagingMetrics, logger)

	// In-memory mode runs the reply workers inside this process. SQS mode
	// leaves consumption to the reply-worker binary.
	var worker *autoreply.Worker
	if cfg.UseMemoryQueue && generator != nil && messenger != nil {
		gate := autoreply.NewInflightGate(redisClient, cfg.InflightTTL, logger)
		opts := []autoreply.WorkerOption{
			autoreply.WithWorkerCount(cfg.WorkerCount),
			autoreply.WithHistoryLimit(cfg.HistoryLimit),
			autoreply.WithReplyTimeout(cfg.ReplyTimeout),
			autoreply.WithFailureNotifier(notifier),
			autoreply.WithMetrics(messagingMetrics),
		}
		if mediaStore.Enabled() {
			opts = append(opts, autoreply.WithPhotoReader(mediaStore))
		}
		worker = autoreply.NewWorker(queue, gate, settingsStore, messageStore, generator, messenger, ingestor, logger, opts...)
		worker.Start(ctx)
	}

	if mediaStore.Enabled() {
		go purgeLoop(ctx, mediaStore, messageStore, cfg.PhotoRetention, logger)
	}

	webhooks := handlers.NewWebhookHandler(normalizer, ingestor, replyService, messageStore, messagingMetrics, logger)
	inbox := handlers.NewInboxHandler(messageStore, ingestor, messenger, logger)
	settings := handlers.NewSettingsHandler(settingsStore, logger)

	r := router.New(&router.Config{
		Logger:   logger,
		Webhooks: webhooks,
		Inbox:    inbox,
		Settings: settings,
		HealthCheck: func(w http.ResponseWriter, req *http.Request) {
			if err := pool.Ping(req.Context()); err != nil {
				http.Error(w, `{"status": "degraded"}`, http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status": "ok"}`))
		},
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	cancel()
	if worker != nil {
		worker.Wait()
	}
	logger.Info("server stopped")
}

func buildQueue(cfg *appconfig.Config, sqsClient *sqs.Client, logger *logging.Logger) autoreply.Queue {
	if cfg.UseMemoryQueue {
		return autoreply.NewMemoryQueue(256)
	}
	if cfg.ReplyQueueURL == "" {
		logger.Error("REPLY_QUEUE_URL is required when USE_MEMORY_QUEUE=false")
		os.Exit(1)
	}
	return autoreply.NewSQSQueue(sqsClient, cfg.ReplyQueueURL)
}

// purgeLoop removes stored photos past the retention window once a day.
func purgeLoop(ctx context.Context, mediaStore *media.Store, refs media.ReferenceLister, retention time.Duration, logger *logging.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := mediaStore.PurgeOldPhotos(ctx, refs, retention); err != nil {
				logger.Error("photo purge failed", "error", err)
			}
		}
	}
}
