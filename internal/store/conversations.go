// Package store persists conversations and messages. It is the only writer
// of conversation state; the orchestrator drives it through the interfaces
// declared in the chat package.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gokkuu100/wakiliweb-sub003/internal/models"
)

// Summaries are only maintained once a conversation has this many messages.
const summarizeThreshold = 5

const summaryMaxLen = 300

var (
	// ErrNotFound reports a conversation id with no record.
	ErrNotFound = errors.New("conversation not found")
	// ErrForbidden reports a conversation owned by a different user.
	ErrForbidden = errors.New("conversation belongs to another user")
)

// Store provides conversation and message persistence over *sql.DB.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// ResolveOrCreate loads the conversation and asserts ownership, or creates a
// fresh one when no id is supplied. A domain hint classifies the new
// conversation as legal advice.
func (s *Store) ResolveOrCreate(ctx context.Context, conversationID, userID, domainHint string) (*models.Conversation, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	if conversationID != "" {
		return s.load(ctx, conversationID, userID)
	}

	convType := models.ConversationGeneral
	if domainHint != "" {
		convType = models.ConversationLegalAdvice
	}
	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         convType,
		LegalContext: domainHint,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, conversation_type, total_tokens_used, legal_context, context_summary, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, NULL, ?, ?)`,
		conv.ID, conv.UserID, conv.Type, nullable(conv.LegalContext), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) load(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	var conv models.Conversation
	var legalContext, contextSummary sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, conversation_type, total_tokens_used, legal_context, context_summary, created_at, updated_at
		 FROM conversations WHERE id = ?`, conversationID,
	).Scan(&conv.ID, &conv.UserID, &conv.Type, &conv.TotalTokensUsed, &legalContext, &contextSummary, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if conv.UserID != userID {
		return nil, ErrForbidden
	}
	conv.LegalContext = legalContext.String
	conv.ContextSummary = contextSummary.String
	return &conv, nil
}

// Get returns one conversation after asserting ownership.
func (s *Store) Get(ctx context.Context, userID, conversationID string) (*models.Conversation, error) {
	return s.load(ctx, conversationID, userID)
}

// AppendMessage persists a message and touches the conversation's updated_at.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, role models.Role, content string, meta *models.MessageMetadata) (*models.Message, error) {
	if conversationID == "" {
		return nil, errors.New("conversation id is required")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("content cannot be empty")
	}

	var metaJSON sql.NullString
	if meta != nil {
		raw, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("encode message metadata: %w", err)
		}
		metaJSON = sql.NullString{String: string(raw), Valid: true}
	}

	now := time.Now().UTC()
	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Metadata:       meta,
		CreatedAt:      now,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, metaJSON, now,
	); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit message: %w", err)
	}
	return msg, nil
}

// RecentMessages returns the most recent limit messages in chronological
// (oldest-first) order. The offset is computed from the total count so the
// query reads ascending directly; there is no fetch-descending-then-reverse
// step.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	count, err := s.MessageCount(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	offset := 0
	if count > limit {
		offset = count - limit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, metadata, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`,
		conversationID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// Messages returns the full ordered history of a conversation the user owns.
func (s *Store) Messages(ctx context.Context, userID, conversationID string) ([]*models.Message, error) {
	if _, err := s.load(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, metadata, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at ASC, id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MessageCount reports how many messages a conversation holds.
func (s *Store) MessageCount(ctx context.Context, conversationID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// UpdateAfterTurn atomically accrues the turn's token usage, records which
// knowledge sources grounded it, and replaces the derived legal-context
// descriptor.
func (s *Store) UpdateAfterTurn(ctx context.Context, conversationID string, tokenDelta int, sources []models.SourceRef, derivedContext string) error {
	if tokenDelta < 0 {
		return errors.New("token delta cannot be negative")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if derivedContext != "" {
		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET total_tokens_used = total_tokens_used + ?, legal_context = ?, updated_at = ? WHERE id = ?`,
			tokenDelta, derivedContext, now, conversationID,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET total_tokens_used = total_tokens_used + ?, updated_at = ? WHERE id = ?`,
			tokenDelta, now, conversationID,
		)
	}
	if err != nil {
		return fmt.Errorf("update conversation totals: %w", err)
	}

	for _, src := range sources {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM conversation_sources WHERE conversation_id = ? AND source_id = ?`,
			conversationID, src.SourceID,
		); err != nil {
			return fmt.Errorf("clear source provenance: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_sources (conversation_id, source_id, relevance, used_at) VALUES (?, ?, ?, ?)`,
			conversationID, src.SourceID, src.Relevance, now,
		); err != nil {
			return fmt.Errorf("record source provenance: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit turn update: %w", err)
	}
	return nil
}

// Summarize maintains the rolling context summary. Below the message
// threshold it is a no-op; past it the summary is rebuilt from the stored
// user questions, most recent first, so the length cap trims the oldest
// questions rather than the newest.
func (s *Store) Summarize(ctx context.Context, conversationID string) error {
	count, err := s.MessageCount(ctx, conversationID)
	if err != nil {
		return err
	}
	if count < summarizeThreshold {
		return nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT content FROM messages WHERE conversation_id = ? AND role = ?
		 ORDER BY created_at DESC, id DESC`,
		conversationID, models.RoleUser,
	)
	if err != nil {
		return fmt.Errorf("list user messages: %w", err)
	}
	defer rows.Close()

	var questions []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return fmt.Errorf("scan user message: %w", err)
		}
		questions = append(questions, truncate(content, 80))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate user messages: %w", err)
	}
	if len(questions) == 0 {
		return nil
	}

	summary := truncate("Earlier in this conversation the user asked about: "+strings.Join(questions, "; "), summaryMaxLen)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET context_summary = ? WHERE id = ?`, summary, conversationID,
	); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}
	return nil
}

// ListConversations returns the user's conversations ordered by last activity.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, conversation_type, total_tokens_used, legal_context, context_summary, created_at, updated_at
		 FROM conversations WHERE user_id = ? ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		var conv models.Conversation
		var legalContext, contextSummary sql.NullString
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Type, &conv.TotalTokensUsed,
			&legalContext, &contextSummary, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conv.LegalContext = legalContext.String
		conv.ContextSummary = contextSummary.String
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// DeleteConversation removes a conversation and its related records. This is
// the only deletion path; nothing deletes conversations implicitly.
func (s *Store) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	if conversationID == "" {
		return errors.New("conversation id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = ? AND user_id = ?`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_sources WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete source provenance: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete conversation: %w", err)
	}
	return nil
}

func scanMessages(rows *sql.Rows) ([]*models.Message, error) {
	var messages []*models.Message
	for rows.Next() {
		m := new(models.Message)
		var metaJSON sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &metaJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if metaJSON.Valid && metaJSON.String != "" {
			meta := new(models.MessageMetadata)
			if err := json.Unmarshal([]byte(metaJSON.String), meta); err != nil {
				return nil, fmt.Errorf("decode message metadata: %w", err)
			}
			m.Metadata = meta
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
