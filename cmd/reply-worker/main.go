package main

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/textdesk/textdesk/cmd/mainconfig"
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

// The reply worker consumes queued jobs produced by the API process. It only
// makes sense in SQS mode; in-memory mode runs workers inside the API binary.
func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting textdesk reply worker", "env", cfg.Env)

	if cfg.ReplyQueueURL == "" {
		logger.Error("REPLY_QUEUE_URL is required")
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	if cfg.AnthropicAPIKey == "" {
		logger.Error("ANTHROPIC_API_KEY is required")
		os.Exit(1)
	}
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioFromNumber == "" {
		logger.Error("Twilio credentials are required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	messageStore := store.NewStore(pool)
	settingsStore := store.NewSettingsStore(pool)

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	queue := autoreply.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.ReplyQueueURL)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient = redis.NewClient(opts)
	}
	gate := autoreply.NewInflightGate(redisClient, cfg.InflightTTL, logger)

	generator, err := responder.New(responder.Config{
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

	messenger := dispatch.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger)
	deduper := ingest.NewDeduper(redisClient, cfg.DedupWindow, logger)
	ingestor := ingest.NewIngestor(messageStore, deduper, logger)

	emailSender := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger)
	notifier := notify.NewService(emailSender, cfg.OperatorEmail, logger)

	opts := []autoreply.WorkerOption{
		autoreply.WithWorkerCount(cfg.WorkerCount),
		autoreply.WithHistoryLimit(cfg.HistoryLimit),
		autoreply.WithReplyTimeout(cfg.ReplyTimeout),
		autoreply.WithFailureNotifier(notifier),
		autoreply.WithMetrics(metrics.NewMessagingMetrics(nil)),
	}
	if cfg.MediaBucket != "" {
		s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) { o.UsePathStyle = cfg.AWSEndpointOverride != "" })
		opts = append(opts, autoreply.WithPhotoReader(media.NewStore(s3Client, cfg.MediaBucket, logger)))
	}

	worker := autoreply.NewWorker(queue, gate, settingsStore, messageStore, generator, messenger, ingestor, logger, opts...)
	worker.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down reply worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("reply worker stopped")
	case <-doneCtx.Done():
		logger.Error("reply worker shutdown timed out", "error", doneCtx.Err())
	}
}
