package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/textdesk/textdesk/internal/dispatch"
	"github.com/textdesk/textdesk/internal/ingest"
	"github.com/textdesk/textdesk/internal/store"
	"github.com/textdesk/textdesk/pkg/logging"
)

// ConversationStore is the inbox surface of the message store.
type ConversationStore interface {
	GetConversation(ctx context.Context, phone string) (*store.Conversation, error)
	ListConversations(ctx context.Context) ([]store.Conversation, error)
	ListMessages(ctx context.Context, phone string, limit int) ([]store.Message, error)
	MarkAsRead(ctx context.Context, phone string) error
	SetContactName(ctx context.Context, phone, name string) error
	DeleteConversation(ctx context.Context, phone string) error
}

// InboxHandler serves the operator's conversation views and manual sends.
type InboxHandler struct {
	conversations ConversationStore
	ingestor      Ingestor
	messenger     dispatch.Messenger
	logger        *logging.Logger
}

// NewInboxHandler creates the inbox API handler. A nil messenger disables
// manual sends with a 503.
func NewInboxHandler(conversations ConversationStore, ingestor Ingestor, messenger dispatch.Messenger, logger *logging.Logger) *InboxHandler {
	if conversations == nil {
		panic("handlers: conversation store cannot be nil")
	}
	if ingestor == nil {
		panic("handlers: ingestor cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &InboxHandler{
		conversations: conversations,
		ingestor:      ingestor,
		messenger:     messenger,
		logger:        logger,
	}
}

// Routes returns a chi router with the inbox endpoints.
func (h *InboxHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListConversations)
	r.Route("/{phone}", func(r chi.Router) {
		r.Get("/messages", h.ListMessages)
		r.Post("/messages", h.SendMessage)
		r.Post("/read", h.MarkAsRead)
		r.Put("/contact", h.SetContactName)
		r.Delete("/", h.DeleteConversation)
	})
	return r
}

type conversationResponse struct {
	ID              uuid.UUID `json:"id"`
	PhoneNumber     string    `json:"phone_number"`
	ContactName     string    `json:"contact_name,omitempty"`
	LastMessageText string    `json:"last_message_text"`
	LastMessageTime time.Time `json:"last_message_time"`
	UnreadCount     int       `json:"unread_count"`
}

type messageResponse struct {
	ID         uuid.UUID        `json:"id"`
	SenderType store.SenderType `json:"sender_type"`
	Body       string           `json:"body"`
	PhotoPath  string           `json:"photo_path,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// ListConversations returns all conversations, most recent activity first.
// GET /api/conversations
func (h *InboxHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.conversations.ListConversations(r.Context())
	if err != nil {
		h.logger.Error("failed to list conversations", "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	out := make([]conversationResponse, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationResponse{
			ID:              c.ID,
			PhoneNumber:     c.PhoneNumber,
			ContactName:     c.ContactName,
			LastMessageText: c.LastMessageText,
			LastMessageTime: c.LastMessageTime,
			UnreadCount:     c.UnreadCount,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ListMessages returns a conversation transcript oldest-first.
// GET /api/conversations/{phone}/messages?limit=50
func (h *InboxHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	phone := h.phoneParam(w, r)
	if phone == "" {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			http.Error(w, `{"error": "limit must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		limit = v
	}

	msgs, err := h.conversations.ListMessages(r.Context(), phone, limit)
	if err != nil {
		h.logger.Error("failed to list messages", "error", err, "phone", phone)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResponse{
			ID:         m.ID,
			SenderType: m.SenderType,
			Body:       m.Body,
			PhotoPath:  m.PhotoPath,
			Timestamp:  m.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type sendMessageRequest struct {
	Body string `json:"body"`
}

// SendMessage dispatches a manual operator reply and records it. The send
// happens first so a storage failure never means an unsent message was
// recorded.
// POST /api/conversations/{phone}/messages
func (h *InboxHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	phone := h.phoneParam(w, r)
	if phone == "" {
		return
	}
	if h.messenger == nil {
		http.Error(w, `{"error": "outbound messaging not configured"}`, http.StatusServiceUnavailable)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		http.Error(w, `{"error": "body required"}`, http.StatusBadRequest)
		return
	}

	if err := h.messenger.Send(r.Context(), phone, req.Body); err != nil {
		h.logger.Error("manual send failed", "error", err, "phone", phone)
		http.Error(w, `{"error": "send failed"}`, http.StatusBadGateway)
		return
	}

	res, err := h.ingestor.Ingest(r.Context(), ingest.InboundMessage{
		Sender:    phone,
		Text:      req.Body,
		Timestamp: time.Now(),
	}, store.SenderManual)
	if err != nil {
		// The SMS is already out. Report the storage gap instead of failing.
		h.logger.Error("failed to record manual send", "error", err, "phone", phone)
		writeJSON(w, http.StatusOK, map[string]string{"status": "sent_not_recorded"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"status":     "sent",
		"message_id": res.MessageID,
	})
}

// MarkAsRead zeroes the unread counter.
// POST /api/conversations/{phone}/read
func (h *InboxHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	phone := h.phoneParam(w, r)
	if phone == "" {
		return
	}
	if err := h.conversations.MarkAsRead(r.Context(), phone); err != nil {
		h.respondStoreError(w, err, phone, "mark as read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

type setContactRequest struct {
	Name string `json:"name"`
}

// SetContactName assigns a display name to a conversation.
// PUT /api/conversations/{phone}/contact
func (h *InboxHandler) SetContactName(w http.ResponseWriter, r *http.Request) {
	phone := h.phoneParam(w, r)
	if phone == "" {
		return
	}

	var req setContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}

	if err := h.conversations.SetContactName(r.Context(), phone, req.Name); err != nil {
		h.respondStoreError(w, err, phone, "set contact name")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// DeleteConversation removes a conversation and its messages.
// DELETE /api/conversations/{phone}
func (h *InboxHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	phone := h.phoneParam(w, r)
	if phone == "" {
		return
	}
	if err := h.conversations.DeleteConversation(r.Context(), phone); err != nil {
		h.respondStoreError(w, err, phone, "delete conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *InboxHandler) phoneParam(w http.ResponseWriter, r *http.Request) string {
	phone := ingest.CanonicalPhone(chi.URLParam(r, "phone"))
	if phone == "" {
		http.Error(w, `{"error": "phone has no usable digits"}`, http.StatusBadRequest)
	}
	return phone
}

func (h *InboxHandler) respondStoreError(w http.ResponseWriter, err error, phone, op string) {
	if errors.Is(err, store.ErrConversationNotFound) {
		http.Error(w, `{"error": "conversation not found"}`, http.StatusNotFound)
		return
	}
	h.logger.Error("failed to "+op, "error", err, "phone", phone)
	http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
}
