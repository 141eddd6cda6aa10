package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/textdesk/textdesk/pkg/logging"
)

// Service handles sending notifications to the operator.
type Service struct {
	email         EmailSender
	operatorEmail string
	logger        *logging.Logger
}

// NewService creates a notification service. A nil email sender or empty
// operator address makes every notification a logged no-op.
func NewService(email EmailSender, operatorEmail string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:         email,
		operatorEmail: operatorEmail,
		logger:        logger,
	}
}

// ApprovalRequest describes a customer message that is waiting on the
// operator before any automated reply goes out.
type ApprovalRequest struct {
	Phone       string
	ContactName string
	MessageText string
	HasPhoto    bool
	ReceivedAt  time.Time
}

// NotifyApprovalNeeded tells the operator a reply is being held for review.
func (s *Service) NotifyApprovalNeeded(ctx context.Context, req ApprovalRequest) error {
	if s.email == nil || s.operatorEmail == "" {
		s.logger.Debug("notify: operator email not configured, skipping approval notification", "phone", req.Phone)
		return nil
	}

	who := req.ContactName
	if who == "" {
		who = req.Phone
	}

	photoNote := ""
	if req.HasPhoto {
		photoNote = "\nThe message includes a photo."
	}

	subject := fmt.Sprintf("Reply awaiting approval - %s", who)
	body := fmt.Sprintf(`%s sent a message and auto-reply is set to notify before responding.

From: %s
Phone: %s
Received: %s
Message: %s%s

Open the inbox to review and send a reply.

— TextDesk`, who, who, req.Phone, req.ReceivedAt.Format("January 2, 2006 at 3:04 PM"), req.MessageText, photoNote)

	html := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2 style="color: #f59e0b;">Reply awaiting approval</h2>
<p><strong>%s</strong> sent a message and auto-reply is set to notify before responding.</p>
<table style="border-collapse: collapse; margin: 20px 0;">
  <tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>Phone:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><a href="tel:%s">%s</a></td></tr>
  <tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>Received:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>
  <tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>Message:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>
</table>
<p style="background: #fffbeb; padding: 12px; border-radius: 8px; border-left: 4px solid #f59e0b;">
  Open the inbox to review and send a reply.
</p>
<p style="color: #6b7280; font-size: 12px; margin-top: 20px;">— TextDesk</p>
</div>`, who, req.Phone, req.Phone, req.ReceivedAt.Format("January 2, 2006 at 3:04 PM"), req.MessageText)

	msg := EmailMessage{
		To:      s.operatorEmail,
		Subject: subject,
		Body:    body,
		HTML:    html,
	}
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Error("notify: failed to send approval email", "error", err, "phone", req.Phone)
		return fmt.Errorf("notify: approval notification: %w", err)
	}
	s.logger.Info("notify: approval email sent", "to", s.operatorEmail, "phone", req.Phone)
	return nil
}

// NotifyReplyFailure tells the operator an automated reply could not be
// generated or delivered, so the customer is waiting on a manual response.
func (s *Service) NotifyReplyFailure(ctx context.Context, phone string, cause error) error {
	if s.email == nil || s.operatorEmail == "" {
		s.logger.Debug("notify: operator email not configured, skipping failure notification", "phone", phone)
		return nil
	}

	subject := fmt.Sprintf("Auto-reply failed - %s", phone)
	body := fmt.Sprintf(`An automated reply to %s could not be sent.

Reason: %v

The customer has not received a response. Please reply manually from the inbox.

— TextDesk`, phone, cause)

	msg := EmailMessage{
		To:      s.operatorEmail,
		Subject: subject,
		Body:    body,
	}
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Error("notify: failed to send failure email", "error", err, "phone", phone)
		return fmt.Errorf("notify: failure notification: %w", err)
	}
	s.logger.Info("notify: failure email sent", "to", s.operatorEmail, "phone", phone)
	return nil
}
