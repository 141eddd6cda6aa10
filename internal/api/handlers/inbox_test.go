package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/textdesk/textdesk/internal/store"
)

type fakeConversations struct {
	conversations []store.Conversation
	messages      []store.Message
	readPhones    []string
	contactNames  map[string]string
	deleted       []string
	err           error
}

func (f *fakeConversations) GetConversation(_ context.Context, phone string) (*store.Conversation, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.conversations {
		if f.conversations[i].PhoneNumber == phone {
			return &f.conversations[i], nil
		}
	}
	return nil, store.ErrConversationNotFound
}

func (f *fakeConversations) ListConversations(context.Context) ([]store.Conversation, error) {
	return f.conversations, f.err
}

func (f *fakeConversations) ListMessages(context.Context, string, int) ([]store.Message, error) {
	return f.messages, f.err
}

func (f *fakeConversations) MarkAsRead(_ context.Context, phone string) error {
	if f.err != nil {
		return f.err
	}
	f.readPhones = append(f.readPhones, phone)
	return nil
}

func (f *fakeConversations) SetContactName(_ context.Context, phone, name string) error {
	if f.err != nil {
		return f.err
	}
	if f.contactNames == nil {
		f.contactNames = map[string]string{}
	}
	f.contactNames[phone] = name
	return nil
}

func (f *fakeConversations) DeleteConversation(_ context.Context, phone string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, phone)
	return nil
}

type fakeMessenger struct {
	sent []string
	err  error
}

func (m *fakeMessenger) Send(_ context.Context, to, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to+": "+body)
	return nil
}

func inboxRequest(h *InboxHandler, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestListConversations(t *testing.T) {
	convs := &fakeConversations{conversations: []store.Conversation{
		{
			ID:              uuid.New(),
			PhoneNumber:     "+15551230000",
			ContactName:     "Dana",
			LastMessageText: "See you at 4!",
			LastMessageTime: time.Now(),
			UnreadCount:     2,
		},
	}}
	h := NewInboxHandler(convs, &fakeIngestor{}, nil, nil)

	rec := inboxRequest(h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out []conversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "+15551230000", out[0].PhoneNumber)
	assert.Equal(t, 2, out[0].UnreadCount)
}

func TestListMessages(t *testing.T) {
	convs := &fakeConversations{messages: []store.Message{
		{ID: uuid.New(), SenderType: store.SenderCustomer, Body: "Hi"},
		{ID: uuid.New(), SenderType: store.SenderAI, Body: "Hello! How can I help?"},
	}}
	h := NewInboxHandler(convs, &fakeIngestor{}, nil, nil)

	rec := inboxRequest(h, http.MethodGet, "/+15551230000/messages?limit=50", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out []messageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, store.SenderAI, out[1].SenderType)
}

func TestListMessagesBadLimit(t *testing.T) {
	h := NewInboxHandler(&fakeConversations{}, &fakeIngestor{}, nil, nil)
	rec := inboxRequest(h, http.MethodGet, "/+15551230000/messages?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessage(t *testing.T) {
	msgr := &fakeMessenger{}
	ingestor := &fakeIngestor{}
	h := NewInboxHandler(&fakeConversations{}, ingestor, msgr, nil)

	rec := inboxRequest(h, http.MethodPost, "/5551230000/messages", `{"body": "On my way"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Len(t, msgr.sent, 1)
	assert.Equal(t, "+15551230000: On my way", msgr.sent[0])

	require.Len(t, ingestor.messages, 1)
	assert.Equal(t, store.SenderManual, ingestor.senders[0])
	assert.Equal(t, "On my way", ingestor.messages[0].Text)
}

func TestSendMessageDispatchFailure(t *testing.T) {
	msgr := &fakeMessenger{err: assert.AnError}
	ingestor := &fakeIngestor{}
	h := NewInboxHandler(&fakeConversations{}, ingestor, msgr, nil)

	rec := inboxRequest(h, http.MethodPost, "/+15551230000/messages", `{"body": "hi"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Empty(t, ingestor.messages)
}

func TestSendMessageEmptyBody(t *testing.T) {
	h := NewInboxHandler(&fakeConversations{}, &fakeIngestor{}, &fakeMessenger{}, nil)
	rec := inboxRequest(h, http.MethodPost, "/+15551230000/messages", `{"body": "  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessageNoMessenger(t *testing.T) {
	h := NewInboxHandler(&fakeConversations{}, &fakeIngestor{}, nil, nil)
	rec := inboxRequest(h, http.MethodPost, "/+15551230000/messages", `{"body": "hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSendMessageRecordFailure(t *testing.T) {
	msgr := &fakeMessenger{}
	h := NewInboxHandler(&fakeConversations{}, &fakeIngestor{err: assert.AnError}, msgr, nil)

	rec := inboxRequest(h, http.MethodPost, "/+15551230000/messages", `{"body": "hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sent_not_recorded")
	assert.Len(t, msgr.sent, 1)
}

func TestMarkAsRead(t *testing.T) {
	convs := &fakeConversations{}
	h := NewInboxHandler(convs, &fakeIngestor{}, nil, nil)

	rec := inboxRequest(h, http.MethodPost, "/555-123-0000/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"+15551230000"}, convs.readPhones)
}

func TestMarkAsReadNotFound(t *testing.T) {
	convs := &fakeConversations{err: store.ErrConversationNotFound}
	h := NewInboxHandler(convs, &fakeIngestor{}, nil, nil)

	rec := inboxRequest(h, http.MethodPost, "/+15551239999/read", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetContactName(t *testing.T) {
	convs := &fakeConversations{}
	h := NewInboxHandler(convs, &fakeIngestor{}, nil, nil)

	rec := inboxRequest(h, http.MethodPut, "/+15551230000/contact", `{"name": "Dana"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Dana", convs.contactNames["+15551230000"])
}

func TestDeleteConversation(t *testing.T) {
	convs := &fakeConversations{}
	h := NewInboxHandler(convs, &fakeIngestor{}, nil, nil)

	rec := inboxRequest(h, http.MethodDelete, "/+15551230000/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"+15551230000"}, convs.deleted)
}

func TestPhoneWithoutDigits(t *testing.T) {
	h := NewInboxHandler(&fakeConversations{}, &fakeIngestor{}, nil, nil)
	rec := inboxRequest(h, http.MethodPost, "/abc/read", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
