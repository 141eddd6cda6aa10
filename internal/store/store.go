package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SenderType identifies who produced a message. Closed set; anything else
// is rejected before it reaches the database.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAI       SenderType = "ai"
	SenderManual   SenderType = "manual"
)

// Valid reports whether the sender type is one of the known values.
func (s SenderType) Valid() bool {
	switch s {
	case SenderCustomer, SenderAI, SenderManual:
		return true
	}
	return false
}

// ErrConversationNotFound indicates a lookup by phone number matched nothing.
var ErrConversationNotFound = errors.New("store: conversation not found")

// ErrInvalidSenderType indicates a sender type outside the closed set.
var ErrInvalidSenderType = errors.New("store: invalid sender type")

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Conversation is the denormalized per-phone-number aggregate.
type Conversation struct {
	ID              uuid.UUID
	PhoneNumber     string
	ContactName     string
	LastMessageText string
	LastMessageTime time.Time
	UnreadCount     int
}

// Message is an immutable entry in a conversation.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	SenderType     SenderType
	Body           string
	PhotoPath      string
	Timestamp      time.Time
}

// IngestParams describes one message to record atomically.
type IngestParams struct {
	PhoneNumber string
	SenderType  SenderType
	Body        string
	PhotoPath   string
	Timestamp   time.Time
}

// IngestResult reports what an ingest transaction produced.
type IngestResult struct {
	MessageID           uuid.UUID
	ConversationID      uuid.UUID
	ConversationCreated bool
}

// Store persists conversations and messages in Postgres. It is the only
// writer of conversation aggregate state.
type Store struct {
	pool PgxPool
}

// NewStore wraps a pgx pool.
func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

// IngestMessage records a message and its conversation update as one
// transaction. The conversation row is locked FOR UPDATE so concurrent
// ingests for the same phone number serialize; on any failure nothing is
// retained. unread_count increments only for customer messages.
func (s *Store) IngestMessage(ctx context.Context, p IngestParams) (IngestResult, error) {
	if !p.SenderType.Valid() {
		return IngestResult{}, fmt.Errorf("%w: %q", ErrInvalidSenderType, p.SenderType)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return IngestResult{}, fmt.Errorf("store: begin ingest: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO conversations (phone_number, last_message_time)
		VALUES ($1, $2)
		ON CONFLICT (phone_number) DO NOTHING
	`, p.PhoneNumber, p.Timestamp)
	if err != nil {
		return IngestResult{}, fmt.Errorf("store: ensure conversation: %w", err)
	}
	created := tag.RowsAffected() > 0

	var convID uuid.UUID
	var unread int
	err = tx.QueryRow(ctx, `
		SELECT id, unread_count
		FROM conversations
		WHERE phone_number = $1
		FOR UPDATE
	`, p.PhoneNumber).Scan(&convID, &unread)
	if err != nil {
		return IngestResult{}, fmt.Errorf("store: lock conversation: %w", err)
	}

	var msgID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, sender_type, body, photo_path, message_time)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		RETURNING id
	`, convID, string(p.SenderType), p.Body, p.PhotoPath, p.Timestamp).Scan(&msgID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("store: insert message: %w", err)
	}

	if p.SenderType == SenderCustomer {
		unread++
	}
	_, err = tx.Exec(ctx, `
		UPDATE conversations
		SET last_message_text = $2,
			last_message_time = $3,
			unread_count = $4
		WHERE id = $1
	`, convID, p.Body, p.Timestamp, unread)
	if err != nil {
		return IngestResult{}, fmt.Errorf("store: update conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return IngestResult{}, fmt.Errorf("store: commit ingest: %w", err)
	}

	return IngestResult{
		MessageID:           msgID,
		ConversationID:      convID,
		ConversationCreated: created,
	}, nil
}

// GetConversation returns the aggregate for a phone number.
func (s *Store) GetConversation(ctx context.Context, phone string) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, phone_number, COALESCE(contact_name, ''),
			last_message_text, last_message_time, unread_count
		FROM conversations
		WHERE phone_number = $1
	`, phone)
	var c Conversation
	if err := row.Scan(&c.ID, &c.PhoneNumber, &c.ContactName, &c.LastMessageText, &c.LastMessageTime, &c.UnreadCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("store: get conversation: %w", err)
	}
	return &c, nil
}

// ListConversations returns all conversations ordered by most recent activity.
func (s *Store) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, phone_number, COALESCE(contact_name, ''),
			last_message_text, last_message_time, unread_count
		FROM conversations
		ORDER BY last_message_time DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.PhoneNumber, &c.ContactName, &c.LastMessageText, &c.LastMessageTime, &c.UnreadCount); err != nil {
			return nil, fmt.Errorf("store: scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListMessages returns up to limit messages for a phone number, oldest first.
// Ties on message_time break by insertion order.
func (s *Store) ListMessages(ctx context.Context, phone string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.conversation_id, m.sender_type, m.body,
			COALESCE(m.photo_path, ''), m.message_time
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.phone_number = $1
		ORDER BY m.message_time ASC, m.created_at ASC
		LIMIT $2
	`, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var sender string
		if err := rows.Scan(&m.ID, &m.ConversationID, &sender, &m.Body, &m.PhotoPath, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		m.SenderType = SenderType(sender)
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkAsRead resets the unread counter for a conversation.
func (s *Store) MarkAsRead(ctx context.Context, phone string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET unread_count = 0
		WHERE phone_number = $1
	`, phone)
	if err != nil {
		return fmt.Errorf("store: mark as read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// SetContactName sets the display label for a conversation.
func (s *Store) SetContactName(ctx context.Context, phone, name string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET contact_name = NULLIF($2, '')
		WHERE phone_number = $1
	`, phone, name)
	if err != nil {
		return fmt.Errorf("store: set contact name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// DeleteConversation removes a conversation and, via FK cascade, its messages.
func (s *Store) DeleteConversation(ctx context.Context, phone string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM conversations
		WHERE phone_number = $1
	`, phone)
	if err != nil {
		return fmt.Errorf("store: delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// ListPhotoPathsBefore returns stored photo references older than cutoff,
// for media retention sweeps. The underlying objects belong to the media
// store; only the references live here.
func (s *Store) ListPhotoPathsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT photo_path
		FROM messages
		WHERE photo_path IS NOT NULL AND message_time < $1
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: list old photos: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("store: scan photo path: %w", err)
		}
		if path != "" {
			out = append(out, path)
		}
	}
	return out, rows.Err()
}
