package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/textdesk/textdesk/internal/store"
	"github.com/textdesk/textdesk/pkg/logging"
)

// ErrDuplicateMessage indicates the same physical receipt was already
// ingested inside the dedup window.
var ErrDuplicateMessage = errors.New("ingest: duplicate delivery")

// ErrInvalidSender indicates the sender address carried no digits.
var ErrInvalidSender = errors.New("ingest: sender has no usable digits")

// MessageWriter is the transactional primitive the ingestor drives. The
// message store implements it.
type MessageWriter interface {
	IngestMessage(ctx context.Context, p store.IngestParams) (store.IngestResult, error)
}

// Ingestor is the sole writer path for conversation content. It
// canonicalizes the sender, filters duplicate deliveries, and hands the
// atomic write to the store. It knows nothing about reply generation.
type Ingestor struct {
	writer MessageWriter
	dedup  *Deduper
	logger *logging.Logger
}

func NewIngestor(writer MessageWriter, dedup *Deduper, logger *logging.Logger) *Ingestor {
	if writer == nil {
		panic("ingest: message writer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Ingestor{writer: writer, dedup: dedup, logger: logger}
}

// Ingest records one logical message. Customer messages pass through the
// dedup filter; ai/manual messages are locally originated and cannot be
// redelivered, so they skip it. Returns the stored message id and the
// (possibly newly created) conversation id.
func (i *Ingestor) Ingest(ctx context.Context, msg InboundMessage, sender store.SenderType) (store.IngestResult, error) {
	phone := CanonicalPhone(msg.Sender)
	if phone == "" {
		return store.IngestResult{}, fmt.Errorf("%w: %q", ErrInvalidSender, msg.Sender)
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	marked := false
	if sender == store.SenderCustomer && i.dedup != nil {
		if !i.dedup.FirstDelivery(ctx, phone, ts, msg.Text) {
			i.logger.Info("dropping duplicate delivery", "phone", phone, "timestamp", ts.UnixMilli())
			return store.IngestResult{}, ErrDuplicateMessage
		}
		marked = true
	}

	res, err := i.writer.IngestMessage(ctx, store.IngestParams{
		PhoneNumber: phone,
		SenderType:  sender,
		Body:        msg.Text,
		PhotoPath:   msg.PhotoPath,
		Timestamp:   ts,
	})
	if err != nil {
		// Nothing was stored, so the marker must not outlive the failure:
		// the transport redelivers and that retry has to pass the filter.
		if marked {
			i.dedup.Forget(ctx, phone, ts, msg.Text)
		}
		return store.IngestResult{}, err
	}

	i.logger.Info("message ingested",
		"phone", phone,
		"sender_type", string(sender),
		"message_id", res.MessageID,
		"conversation_id", res.ConversationID,
		"new_conversation", res.ConversationCreated,
	)
	return res, nil
}
