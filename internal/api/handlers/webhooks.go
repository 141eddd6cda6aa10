// Package handlers provides the HTTP endpoints for inbound message webhooks
// and the operator inbox API.
package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/textdesk/textdesk/internal/autoreply"
	"github.com/textdesk/textdesk/internal/ingest"
	"github.com/textdesk/textdesk/internal/observability/metrics"
	"github.com/textdesk/textdesk/internal/policy"
	"github.com/textdesk/textdesk/internal/store"
	"github.com/textdesk/textdesk/pkg/logging"
)

var webhookTracer = otel.Tracer("textdesk.internal.api.handlers.webhooks")

// Ingestor records one normalized message.
type Ingestor interface {
	Ingest(ctx context.Context, msg ingest.InboundMessage, sender store.SenderType) (store.IngestResult, error)
}

// ReplyTrigger runs the reply policy for a stored customer message.
type ReplyTrigger interface {
	HandleInbound(ctx context.Context, msg autoreply.Inbound) (policy.Decision, error)
}

// ConversationReader looks up conversation aggregates.
type ConversationReader interface {
	GetConversation(ctx context.Context, phone string) (*store.Conversation, error)
}

// WebhookHandler receives raw transport deliveries and drives them through
// normalization, storage, and the reply pipeline.
type WebhookHandler struct {
	normalizer    *ingest.Normalizer
	ingestor      Ingestor
	replies       ReplyTrigger
	conversations ConversationReader
	metrics       *metrics.MessagingMetrics
	logger        *logging.Logger
}

// NewWebhookHandler wires the inbound pipeline behind HTTP.
func NewWebhookHandler(normalizer *ingest.Normalizer, ingestor Ingestor, replies ReplyTrigger, conversations ConversationReader, m *metrics.MessagingMetrics, logger *logging.Logger) *WebhookHandler {
	if normalizer == nil {
		panic("handlers: normalizer cannot be nil")
	}
	if ingestor == nil {
		panic("handlers: ingestor cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		normalizer:    normalizer,
		ingestor:      ingestor,
		replies:       replies,
		conversations: conversations,
		metrics:       m,
		logger:        logger,
	}
}

// inboundPart mirrors one transport fragment. Data is base64 for binary
// attachments.
type inboundPart struct {
	ContentType string `json:"content_type,omitempty"`
	Text        string `json:"text,omitempty"`
	Data        string `json:"data,omitempty"`
}

type inboundPayload struct {
	From       string        `json:"from"`
	ReceivedAt time.Time     `json:"received_at,omitempty"`
	Parts      []inboundPart `json:"parts"`
}

// HandleSMS accepts a plain-text delivery, including multipart fragments.
// POST /webhooks/sms
func (h *WebhookHandler) HandleSMS(w http.ResponseWriter, r *http.Request) {
	h.handleInbound(w, r, "sms")
}

// HandleMMS accepts a multimedia delivery with text and image parts.
// POST /webhooks/mms
func (h *WebhookHandler) HandleMMS(w http.ResponseWriter, r *http.Request) {
	h.handleInbound(w, r, "mms")
}

func (h *WebhookHandler) handleInbound(w http.ResponseWriter, r *http.Request, channel string) {
	start := time.Now()
	ctx, span := webhookTracer.Start(r.Context(), "webhooks.inbound")
	defer span.End()
	span.SetAttributes(attribute.String("textdesk.channel", channel))

	var payload inboundPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		span.RecordError(err)
		h.metrics.ObserveInbound(channel, "unparseable")
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}

	parts := make([]ingest.RawPart, 0, len(payload.Parts))
	for _, p := range payload.Parts {
		part := ingest.RawPart{
			Sender:      payload.From,
			ContentType: p.ContentType,
			Text:        p.Text,
			ReceivedAt:  payload.ReceivedAt,
		}
		if p.Data != "" {
			data, err := base64.StdEncoding.DecodeString(p.Data)
			if err != nil {
				h.logger.Warn("dropping part with invalid base64 data", "content_type", p.ContentType)
			} else {
				part.Data = data
			}
		}
		parts = append(parts, part)
	}

	msg, err := h.normalizer.Normalize(ctx, parts)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ingest.ErrEmptyPayload) {
			h.metrics.ObserveInbound(channel, "empty")
			http.Error(w, `{"error": "no usable parts"}`, http.StatusBadRequest)
			return
		}
		h.logger.Error("normalize failed", "error", err, "channel", channel)
		h.metrics.ObserveInbound(channel, "error")
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	res, err := h.ingestor.Ingest(ctx, *msg, store.SenderCustomer)
	switch {
	case errors.Is(err, ingest.ErrDuplicateMessage):
		h.metrics.ObserveInbound(channel, "duplicate")
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	case errors.Is(err, ingest.ErrInvalidSender):
		h.metrics.ObserveInbound(channel, "invalid_sender")
		http.Error(w, `{"error": "sender has no usable digits"}`, http.StatusBadRequest)
		return
	case err != nil:
		span.RecordError(err)
		h.logger.Error("ingest failed", "error", err, "channel", channel)
		h.metrics.ObserveInbound(channel, "error")
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	span.SetAttributes(
		attribute.String("textdesk.message_id", res.MessageID.String()),
		attribute.String("textdesk.conversation_id", res.ConversationID.String()),
	)
	h.metrics.ObserveInbound(channel, "stored")
	h.metrics.ObserveIngestLatency(channel, time.Since(start).Seconds())

	h.triggerReply(r.WithContext(ctx), msg, res)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "stored",
		"message_id":      res.MessageID,
		"conversation_id": res.ConversationID,
	})
}

// triggerReply runs the reply policy. A failure here never affects the
// webhook response: the message is already stored.
func (h *WebhookHandler) triggerReply(r *http.Request, msg *ingest.InboundMessage, res store.IngestResult) {
	if h.replies == nil {
		return
	}

	phone := ingest.CanonicalPhone(msg.Sender)
	inbound := autoreply.Inbound{
		Phone:       phone,
		MessageText: msg.Text,
		PhotoPath:   msg.PhotoPath,
		ReceivedAt:  msg.Timestamp,
	}
	if h.conversations != nil {
		if conv, err := h.conversations.GetConversation(r.Context(), phone); err == nil {
			inbound.ContactName = conv.ContactName
		}
	}

	if _, err := h.replies.HandleInbound(r.Context(), inbound); err != nil {
		h.logger.Error("reply pipeline failed", "error", err, "phone", phone)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
