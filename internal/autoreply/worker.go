package autoreply

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/textdesk/textdesk/internal/dispatch"
	"github.com/textdesk/textdesk/internal/ingest"
	"github.com/textdesk/textdesk/internal/observability/metrics"
	"github.com/textdesk/textdesk/internal/responder"
	"github.com/textdesk/textdesk/internal/store"
	"github.com/textdesk/textdesk/pkg/logging"
)

// HistorySource loads the conversation transcript the generator sees.
type HistorySource interface {
	ListMessages(ctx context.Context, phone string, limit int) ([]store.Message, error)
}

// Generator produces the reply text for a conversation.
type Generator interface {
	Generate(ctx context.Context, req responder.Request) (string, error)
}

// Recorder persists the generated reply as an AI message.
type Recorder interface {
	Ingest(ctx context.Context, msg ingest.InboundMessage, sender store.SenderType) (store.IngestResult, error)
}

// PhotoReader fetches stored image bytes for multimodal generation.
type PhotoReader interface {
	ReadImage(ctx context.Context, key string) ([]byte, string, error)
}

// FailureNotifier tells the operator a reply could not be produced.
type FailureNotifier interface {
	NotifyReplyFailure(ctx context.Context, phone string, cause error) error
}

const (
	defaultWorkerCount  = 2
	defaultWaitSeconds  = 2
	defaultBatchSize    = 5
	maxWaitSeconds      = 20
	maxReceiveBatchSize = 10
	defaultHistoryLimit = 20
	defaultReplyTimeout = 45 * time.Second
)

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	historyLimit     int
	replyTimeout     time.Duration
	photos           PhotoReader
	notifier         FailureNotifier
	metrics          *metrics.MessagingMetrics
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the queue long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many jobs to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithHistoryLimit caps how many prior messages feed the generator.
func WithHistoryLimit(limit int) WorkerOption {
	return func(cfg *workerConfig) {
		if limit > 0 {
			cfg.historyLimit = limit
		}
	}
}

// WithReplyTimeout bounds one end-to-end reply attempt.
func WithReplyTimeout(d time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if d > 0 {
			cfg.replyTimeout = d
		}
	}
}

// WithPhotoReader wires stored-image retrieval for multimodal replies.
func WithPhotoReader(photos PhotoReader) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.photos = photos
	}
}

// WithFailureNotifier wires operator alerts for failed reply attempts.
func WithFailureNotifier(n FailureNotifier) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.notifier = n
	}
}

// WithMetrics wires reply outcome metrics.
func WithMetrics(m *metrics.MessagingMetrics) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.metrics = m
	}
}

// Worker consumes reply jobs and produces outbound AI responses.
type Worker struct {
	queue     Queue
	gate      *InflightGate
	settings  SettingsSource
	history   HistorySource
	generator Generator
	messenger dispatch.Messenger
	recorder  Recorder
	photos    PhotoReader
	notifier  FailureNotifier
	metrics   *metrics.MessagingMetrics
	logger    *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

func NewWorker(queue Queue, gate *InflightGate, settings SettingsSource, history HistorySource, generator Generator, messenger dispatch.Messenger, recorder Recorder, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if queue == nil {
		panic("autoreply: queue cannot be nil")
	}
	if settings == nil {
		panic("autoreply: settings source cannot be nil")
	}
	if history == nil {
		panic("autoreply: history source cannot be nil")
	}
	if generator == nil {
		panic("autoreply: generator cannot be nil")
	}
	if messenger == nil {
		panic("autoreply: messenger cannot be nil")
	}
	if recorder == nil {
		panic("autoreply: recorder cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		historyLimit:     defaultHistoryLimit,
		replyTimeout:     defaultReplyTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		queue:     queue,
		gate:      gate,
		settings:  settings,
		history:   history,
		generator: generator,
		messenger: messenger,
		recorder:  recorder,
		photos:    cfg.photos,
		notifier:  cfg.notifier,
		metrics:   cfg.metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("reply worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("reply worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive reply jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	var job ReplyJob
	if err := json.Unmarshal([]byte(msg.Body), &job); err != nil {
		w.logger.Error("failed to decode reply job", "error", err, "msg_id", msg.ID)
		w.deleteMessage(msg.ReceiptHandle)
		return
	}
	if job.Phone == "" {
		w.logger.Error("reply job missing phone", "job_id", job.ID)
		w.deleteMessage(msg.ReceiptHandle)
		return
	}

	// One reply per phone at a time. A burst from the same customer gets a
	// single reply that sees the whole stored history.
	if !w.gate.Acquire(ctx, job.Phone) {
		w.logger.Info("reply already in flight, dropping job", "job_id", job.ID, "phone", job.Phone)
		w.metrics.ObserveReply("coalesced")
		w.deleteMessage(msg.ReceiptHandle)
		return
	}
	defer w.gate.Release(context.Background(), job.Phone)

	start := time.Now()
	replyCtx, cancel := context.WithTimeout(ctx, w.cfg.replyTimeout)
	defer cancel()

	if err := w.reply(replyCtx, job); err != nil {
		w.logger.Error("reply attempt failed", "error", err, "job_id", job.ID, "phone", job.Phone)
		w.metrics.ObserveReply("failed")
		if w.notifier != nil {
			if nerr := w.notifier.NotifyReplyFailure(context.Background(), job.Phone, err); nerr != nil {
				w.logger.Error("failure notification failed", "error", nerr, "phone", job.Phone)
			}
		}
	} else {
		w.metrics.ObserveReply("sent")
		w.metrics.ObserveReplyLatency(time.Since(start).Seconds())
	}

	// Failed jobs are not retried. The customer message stays stored and
	// unread, and the operator has been told to step in.
	w.deleteMessage(msg.ReceiptHandle)
}

func (w *Worker) reply(ctx context.Context, job ReplyJob) error {
	settings, err := w.settings.Snapshot(ctx)
	if err != nil {
		w.logger.Warn("failed to load settings for reply, using defaults", "error", err, "phone", job.Phone)
		settings = store.DefaultSettings()
	}

	history, err := w.history.ListMessages(ctx, job.Phone, w.cfg.historyLimit)
	if err != nil {
		return fmt.Errorf("autoreply: load history: %w", err)
	}

	turns := make([]responder.Turn, 0, len(history)+1)
	for _, m := range history {
		turns = append(turns, responder.Turn{
			SenderLabel: senderLabel(m.SenderType),
			Text:        m.Body,
		})
	}
	if len(turns) == 0 {
		turns = append(turns, responder.Turn{
			SenderLabel: senderLabel(store.SenderCustomer),
			Text:        job.MessageText,
		})
	}

	req := responder.Request{
		History:      turns,
		Instructions: settings.CustomInstructions,
	}

	// A photo that cannot be fetched degrades the reply to text-only rather
	// than failing it.
	if job.PhotoPath != "" && w.photos != nil {
		data, mediaType, err := w.photos.ReadImage(ctx, job.PhotoPath)
		if err != nil {
			w.logger.Warn("failed to read photo for reply, continuing text-only", "error", err, "photo_path", job.PhotoPath)
		} else {
			req.Photo = data
			req.PhotoMediaType = mediaType
		}
	}

	text, err := w.generator.Generate(ctx, req)
	if err != nil {
		return fmt.Errorf("autoreply: generate: %w", err)
	}

	if err := w.messenger.Send(ctx, job.Phone, text); err != nil {
		return fmt.Errorf("autoreply: send: %w", err)
	}

	// The customer already has the SMS. A storage failure here leaves the
	// transcript short one AI message but must not trigger a resend.
	_, err = w.recorder.Ingest(ctx, ingest.InboundMessage{
		Sender:    job.Phone,
		Text:      text,
		Timestamp: time.Now(),
	}, store.SenderAI)
	if err != nil {
		w.logger.Error("failed to record sent reply", "error", err, "phone", job.Phone)
	}

	w.logger.Info("reply sent", "job_id", job.ID, "phone", job.Phone)
	return nil
}

func (w *Worker) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete reply job", "error", err)
	}
}

func senderLabel(s store.SenderType) string {
	switch s {
	case store.SenderAI:
		return "AI Assistant"
	case store.SenderManual:
		return "You"
	default:
		return "Customer"
	}
}
