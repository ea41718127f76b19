package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound means no conversation matches the lookup.
var ErrNotFound = errors.New("conversation: not found")

const (
	defaultTTL         = 24 * time.Hour
	defaultMaxMessages = 50
)

// Store persists conversations and their message logs in Postgres through
// database/sql. One row per session; messages in a child table truncated from
// the head on every append.
type Store struct {
	db          *sql.DB
	ttl         time.Duration
	maxMessages int
	now         func() time.Time
}

func NewStore(db *sql.DB, ttl time.Duration, maxMessages int) *Store {
	if db == nil {
		panic("conversation: sql db required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}
	return &Store{db: db, ttl: ttl, maxMessages: maxMessages, now: time.Now}
}

// sessionID derives the row id: the first session is "{tenant}_{phone}",
// later ones append an incrementing suffix so history survives new sessions.
func sessionID(tenantID, phone string, session int) string {
	base := fmt.Sprintf("%s_%s", tenantID, phone)
	if session <= 1 {
		return base
	}
	return fmt.Sprintf("%s_s%d", base, session)
}

const conversationColumns = `id, tenant_id, phone, session, context, status, created_at, updated_at, expires_at`

// GetOrCreate returns the live session for (tenant, phone), rolling expired
// or terminal sessions into a fresh one.
func (s *Store) GetOrCreate(ctx context.Context, tenantID, phone string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE tenant_id = $1 AND phone = $2
		ORDER BY session DESC LIMIT 1`, tenantID, phone)

	conv, err := scanConversation(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return s.create(ctx, tenantID, phone, 1)
	case err != nil:
		return nil, fmt.Errorf("conversation: load session: %w", err)
	}

	now := s.now().UTC()
	if conv.Status == StatusActive && now.After(conv.ExpiresAt) {
		if err := s.SetStatus(ctx, conv.ID, StatusExpired); err != nil {
			return nil, err
		}
		conv.Status = StatusExpired
	}
	if conv.Status.Terminal() {
		return s.create(ctx, tenantID, phone, conv.Session+1)
	}

	if err := s.loadMessages(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Get loads one conversation with its messages. Reading past expires_at
// persists the expired transition before returning.
func (s *Store) Get(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("conversation: get: %w", err)
	}

	if conv.Status == StatusActive && s.now().UTC().After(conv.ExpiresAt) {
		if err := s.SetStatus(ctx, conv.ID, StatusExpired); err != nil {
			return nil, err
		}
		conv.Status = StatusExpired
	}
	if err := s.loadMessages(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Store) create(ctx context.Context, tenantID, phone string, session int) (*Conversation, error) {
	now := s.now().UTC()
	conv := &Conversation{
		ID:        sessionID(tenantID, phone, session),
		TenantID:  tenantID,
		Phone:     phone,
		Session:   session,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	contextJSON, err := json.Marshal(conv.Context)
	if err != nil {
		return nil, fmt.Errorf("conversation: encode context: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, tenant_id, phone, session, context, status, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		conv.ID, conv.TenantID, conv.Phone, conv.Session, contextJSON, string(conv.Status),
		conv.CreatedAt, conv.UpdatedAt, conv.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("conversation: create session: %w", err)
	}
	return conv, nil
}

// AppendMessage adds one message and truncates the log head beyond the
// configured cap in the same transaction.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg Message) error {
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("conversation: encode message metadata: %w", err)
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("conversation: begin append: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversation_messages (id, conversation_id, role, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), conversationID, msg.Role, msg.Content, metadata, createdAt)
	if err != nil {
		return fmt.Errorf("conversation: insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM conversation_messages
		WHERE conversation_id = $1 AND id NOT IN (
			SELECT id FROM conversation_messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC LIMIT $2
		)`, conversationID, s.maxMessages)
	if err != nil {
		return fmt.Errorf("conversation: truncate log: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = $1 WHERE id = $2`,
		s.now().UTC(), conversationID)
	if err != nil {
		return fmt.Errorf("conversation: stamp conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("conversation: commit append: %w", err)
	}
	return nil
}

// UpdateContext replaces the context block. Concurrent writers are
// last-writer-wins.
func (s *Store) UpdateContext(ctx context.Context, conversationID string, c Context) error {
	contextJSON, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("conversation: encode context: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET context = $1, updated_at = $2 WHERE id = $3`,
		contextJSON, s.now().UTC(), conversationID)
	if err != nil {
		return fmt.Errorf("conversation: update context: %w", err)
	}
	return requireRow(result)
}

// SetStatus moves the conversation to a new lifecycle state.
func (s *Store) SetStatus(ctx context.Context, conversationID string, status Status) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), s.now().UTC(), conversationID)
	if err != nil {
		return fmt.Errorf("conversation: set status: %w", err)
	}
	return requireRow(result)
}

// ListByPhone returns every session for (tenant, phone), oldest first, with
// messages loaded. Used by the admin transcript endpoints.
func (s *Store) ListByPhone(ctx context.Context, tenantID, phone string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE tenant_id = $1 AND phone = $2
		ORDER BY session ASC`, tenantID, phone)
	if err != nil {
		return nil, fmt.Errorf("conversation: list by phone: %w", err)
	}
	defer rows.Close()

	var result []Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("conversation: scan session: %w", err)
		}
		result = append(result, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		if err := s.loadMessages(ctx, &result[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// DeleteByPhone removes all sessions and messages for (tenant, phone) and
// returns how many conversations went away.
func (s *Store) DeleteByPhone(ctx context.Context, tenantID, phone string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("conversation: begin delete: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM conversation_messages WHERE conversation_id IN (
			SELECT id FROM conversations WHERE tenant_id = $1 AND phone = $2
		)`, tenantID, phone)
	if err != nil {
		return 0, fmt.Errorf("conversation: delete messages: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM conversations WHERE tenant_id = $1 AND phone = $2`, tenantID, phone)
	if err != nil {
		return 0, fmt.Errorf("conversation: delete sessions: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("conversation: count deleted: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("conversation: commit delete: %w", err)
	}
	return deleted, nil
}

// Sweep deletes conversations past expires_at, messages first.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("conversation: begin sweep: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM conversation_messages WHERE conversation_id IN (
			SELECT id FROM conversations WHERE expires_at < $1
		)`, now)
	if err != nil {
		return 0, fmt.Errorf("conversation: sweep messages: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("conversation: sweep sessions: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("conversation: count swept: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("conversation: commit sweep: %w", err)
	}
	return deleted, nil
}

func (s *Store) loadMessages(ctx context.Context, conv *Conversation) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, metadata, created_at FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC`, conv.ID)
	if err != nil {
		return fmt.Errorf("conversation: load messages: %w", err)
	}
	defer rows.Close()

	conv.Messages = conv.Messages[:0]
	for rows.Next() {
		var msg Message
		var metadata []byte
		if err := rows.Scan(&msg.Role, &msg.Content, &metadata, &msg.CreatedAt); err != nil {
			return fmt.Errorf("conversation: scan message: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
				return fmt.Errorf("conversation: decode message metadata: %w", err)
			}
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var contextJSON []byte
	var status string
	err := row.Scan(&conv.ID, &conv.TenantID, &conv.Phone, &conv.Session, &contextJSON,
		&status, &conv.CreatedAt, &conv.UpdatedAt, &conv.ExpiresAt)
	if err != nil {
		return nil, err
	}
	conv.Status = Status(status)
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &conv.Context); err != nil {
			return nil, fmt.Errorf("conversation: decode context: %w", err)
		}
	}
	return &conv, nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation: rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
