package autoreply

import (
	"context"
	"fmt"
	"time"

	"github.com/textdesk/textdesk/internal/notify"
	"github.com/textdesk/textdesk/internal/observability/metrics"
	"github.com/textdesk/textdesk/internal/policy"
	"github.com/textdesk/textdesk/internal/store"
	"github.com/textdesk/textdesk/pkg/logging"
)

// SettingsSource provides the operator configuration snapshot read once per
// inbound message.
type SettingsSource interface {
	Snapshot(ctx context.Context) (store.Settings, error)
}

// ApprovalNotifier tells the operator a reply is being held for review.
type ApprovalNotifier interface {
	NotifyApprovalNeeded(ctx context.Context, req notify.ApprovalRequest) error
}

// Inbound describes a stored customer message that may deserve a reply.
type Inbound struct {
	Phone       string
	ContactName string
	MessageText string
	PhotoPath   string
	ReceivedAt  time.Time
}

// Service applies the reply policy to stored customer messages and enqueues
// reply jobs for the ones that pass.
type Service struct {
	settings SettingsSource
	queue    Queue
	notifier ApprovalNotifier
	metrics  *metrics.MessagingMetrics
	logger   *logging.Logger
}

// NewService wires the policy front half of the reply pipeline.
func NewService(settings SettingsSource, queue Queue, notifier ApprovalNotifier, m *metrics.MessagingMetrics, logger *logging.Logger) *Service {
	if settings == nil {
		panic("autoreply: settings source cannot be nil")
	}
	if queue == nil {
		panic("autoreply: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		settings: settings,
		queue:    queue,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
}

// HandleInbound evaluates one stored customer message. The settings snapshot
// is taken exactly once; the decision never shifts mid-message. Suppressed
// messages stay stored and unread, nothing else happens to them.
func (s *Service) HandleInbound(ctx context.Context, msg Inbound) (policy.Decision, error) {
	settings, err := s.settings.Snapshot(ctx)
	if err != nil {
		// Unknown settings mean no automated send. The stored message is safe
		// either way.
		s.logger.Error("failed to load settings, suppressing reply", "error", err, "phone", msg.Phone)
		s.metrics.ObserveReply("suppressed")
		return policy.DecisionSuppressed, fmt.Errorf("autoreply: load settings: %w", err)
	}

	decision := policy.Evaluate(settings, time.Now())
	switch decision {
	case policy.DecisionSuppressed:
		s.logger.Info("reply suppressed", "phone", msg.Phone)
		s.metrics.ObserveReply("suppressed")
		return decision, nil

	case policy.DecisionRequireApproval:
		s.metrics.ObserveReply("approval_required")
		if s.notifier == nil {
			s.logger.Warn("approval required but no notifier configured", "phone", msg.Phone)
			return decision, nil
		}
		err := s.notifier.NotifyApprovalNeeded(ctx, notify.ApprovalRequest{
			Phone:       msg.Phone,
			ContactName: msg.ContactName,
			MessageText: msg.MessageText,
			HasPhoto:    msg.PhotoPath != "",
			ReceivedAt:  msg.ReceivedAt,
		})
		if err != nil {
			s.logger.Error("approval notification failed", "error", err, "phone", msg.Phone)
			return decision, err
		}
		return decision, nil

	case policy.DecisionAllow:
		job := ReplyJob{
			Phone:       msg.Phone,
			MessageText: msg.MessageText,
			PhotoPath:   msg.PhotoPath,
			ReceivedAt:  msg.ReceivedAt,
		}
		job, body, err := encodeJob(job)
		if err != nil {
			s.metrics.ObserveReply("enqueue_failed")
			return decision, err
		}
		if err := s.queue.Send(ctx, body); err != nil {
			s.logger.Error("failed to enqueue reply job", "error", err, "phone", msg.Phone)
			s.metrics.ObserveReply("enqueue_failed")
			return decision, fmt.Errorf("autoreply: enqueue: %w", err)
		}
		s.logger.Info("reply job enqueued", "job_id", job.ID, "phone", msg.Phone)
		s.metrics.ObserveReply("queued")
		return decision, nil
	}

	return decision, fmt.Errorf("autoreply: unknown decision %q", decision)
}
