package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gokkuu100/wakiliweb-sub003/internal/config"
	"github.com/gokkuu100/wakiliweb-sub003/internal/models"
	"github.com/gokkuu100/wakiliweb-sub003/internal/storage"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func TestResolveOrCreate(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	s := New(db)
	ctx := context.Background()

	conv, err := s.ResolveOrCreate(ctx, "", "user-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conv.ID == "" {
		t.Fatalf("expected generated id")
	}
	if conv.Type != models.ConversationGeneral {
		t.Fatalf("type = %q, want general", conv.Type)
	}

	hinted, err := s.ResolveOrCreate(ctx, "", "user-1", "employment_law")
	if err != nil {
		t.Fatalf("create with hint: %v", err)
	}
	if hinted.Type != models.ConversationLegalAdvice {
		t.Fatalf("hinted type = %q, want legal_advice", hinted.Type)
	}
	if hinted.LegalContext != "employment_law" {
		t.Fatalf("legal context = %q", hinted.LegalContext)
	}

	loaded, err := s.ResolveOrCreate(ctx, conv.ID, "user-1", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ID != conv.ID {
		t.Fatalf("loaded wrong conversation")
	}
}

func TestResolveOrCreateOwnership(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	s := New(db)
	ctx := context.Background()

	conv, err := s.ResolveOrCreate(ctx, "", "owner", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.ResolveOrCreate(ctx, conv.ID, "intruder", ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := s.ResolveOrCreate(ctx, "no-such-id", "owner", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendAndRecentMessages(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	s := New(db)
	ctx := context.Background()

	conv, err := s.ResolveOrCreate(ctx, "", "user-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 7; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		if _, err := s.AppendMessage(ctx, conv.ID, role, fmt.Sprintf("message %d", i), nil); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	recent, err := s.RecentMessages(ctx, conv.ID, 4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(recent))
	}
	// Oldest-first among the most recent four.
	for i, m := range recent {
		want := fmt.Sprintf("message %d", i+3)
		if m.Content != want {
			t.Fatalf("recent[%d] = %q, want %q", i, m.Content, want)
		}
	}

	count, err := s.MessageCount(ctx, conv.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 7 {
		t.Fatalf("count = %d, want 7", count)
	}
}

func TestAppendMessageMetadataRoundTrip(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	s := New(db)
	ctx := context.Background()

	conv, err := s.ResolveOrCreate(ctx, "", "user-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	meta := &models.MessageMetadata{
		TokensUsed:      42,
		Model:           "test-model",
		SourcesUsed:     []models.SourceRef{{SourceID: "src-1", Relevance: 0.91}},
		ConfidenceScore: 0.85,
		Citations:       []models.Citation{{Text: "Section 45", Relevance: 0.9}},
	}
	if _, err := s.AppendMessage(ctx, conv.ID, models.RoleAssistant, "the answer", meta); err != nil {
		t.Fatalf("append: %v", err)
	}

	recent, err := s.RecentMessages(ctx, conv.ID, 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	got := recent[0].Metadata
	if got == nil {
		t.Fatalf("metadata lost")
	}
	if got.TokensUsed != 42 || got.Model != "test-model" {
		t.Fatalf("metadata mismatch: %+v", got)
	}
	if len(got.SourcesUsed) != 1 || got.SourcesUsed[0].SourceID != "src-1" {
		t.Fatalf("sources mismatch: %+v", got.SourcesUsed)
	}
	if len(got.Citations) != 1 || got.Citations[0].Text != "Section 45" {
		t.Fatalf("citations mismatch: %+v", got.Citations)
	}
}

func TestAppendMessageRejectsEmptyContent(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	s := New(db)
	ctx := context.Background()

	conv, err := s.ResolveOrCreate(ctx, "", "user-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.AppendMessage(ctx, conv.ID, models.RoleUser, "   ", nil); err == nil {
		t.Fatalf("expected error for blank content")
	}
}

func TestUpdateAfterTurn(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	s := New(db)
	ctx := context.Background()

	conv, err := s.ResolveOrCreate(ctx, "", "user-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	refs := []models.SourceRef{{SourceID: "src-1", Relevance: 0.9}}
	if err := s.UpdateAfterTurn(ctx, conv.ID, 30, refs, "employment_law"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.UpdateAfterTurn(ctx, conv.ID, 20, refs, ""); err != nil {
		t.Fatalf("second update: %v", err)
	}

	got, err := s.Get(ctx, "user-1", conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TotalTokensUsed != 50 {
		t.Fatalf("total tokens = %d, want 50", got.TotalTokensUsed)
	}
	if got.LegalContext != "employment_law" {
		t.Fatalf("legal context = %q, empty update must not clear it", got.LegalContext)
	}

	var sourceRows int
	if err := db.QueryRow(`SELECT COUNT(*) FROM conversation_sources WHERE conversation_id = ?`, conv.ID).Scan(&sourceRows); err != nil {
		t.Fatalf("count sources: %v", err)
	}
	if sourceRows != 1 {
		t.Fatalf("repeat source must not duplicate provenance, rows = %d", sourceRows)
	}
}

func TestUpdateAfterTurnRejectsNegativeDelta(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	s := New(db)

	if err := s.UpdateAfterTurn(context.Background(), "conv", -1, nil, ""); err == nil {
		t.Fatalf("expected error for negative token delta")
	}
}

func TestSummarizeThreshold(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	s := New(db)
	ctx := context.Background()

	conv, err := s.ResolveOrCreate(ctx, "", "user-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	questions := []string{
		"What notice period applies to my dismissal?",
		"Can my employer withhold my final salary?",
	}
	if _, err := s.AppendMessage(ctx, conv.ID, models.RoleUser, questions[0], nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.AppendMessage(ctx, conv.ID, models.RoleAssistant, "answer one", nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Two messages: below the threshold, no summary.
	if err := s.Summarize(ctx, conv.ID); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	got, err := s.Get(ctx, "user-1", conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ContextSummary != "" {
		t.Fatalf("summary written below threshold: %q", got.ContextSummary)
	}

	if _, err := s.AppendMessage(ctx, conv.ID, models.RoleUser, questions[1], nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.AppendMessage(ctx, conv.ID, models.RoleAssistant, "answer two", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.AppendMessage(ctx, conv.ID, models.RoleUser, "Is that legal?", nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := s.Summarize(ctx, conv.ID); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	got, err = s.Get(ctx, "user-1", conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ContextSummary == "" {
		t.Fatalf("expected summary at threshold")
	}
	if !strings.Contains(got.ContextSummary, "notice period") {
		t.Fatalf("summary should carry user questions: %q", got.ContextSummary)
	}
	if len(got.ContextSummary) > 300 {
		t.Fatalf("summary exceeds cap: %d chars", len(got.ContextSummary))
	}
}

func TestSummarizeKeepsNewestQuestions(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	s := New(db)
	ctx := context.Background()

	conv, err := s.ResolveOrCreate(ctx, "", "user-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Each question is padded past the per-question cap so four of them
	// overflow the summary cap and force trimming.
	filler := strings.Repeat(" employment details", 5)
	questions := []string{
		"oldest question about probation terms" + filler,
		"question about leave days" + filler,
		"question about overtime pay" + filler,
		"newest question about redundancy payout" + filler,
	}
	for i, q := range questions {
		if _, err := s.AppendMessage(ctx, conv.ID, models.RoleUser, q, nil); err != nil {
			t.Fatalf("append question %d: %v", i, err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if _, err := s.AppendMessage(ctx, conv.ID, models.RoleAssistant, "answer", nil); err != nil {
		t.Fatalf("append answer: %v", err)
	}

	if err := s.Summarize(ctx, conv.ID); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	got, err := s.Get(ctx, "user-1", conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(got.ContextSummary, "redundancy payout") {
		t.Fatalf("newest question missing from summary: %q", got.ContextSummary)
	}
	if strings.Contains(got.ContextSummary, "probation terms") {
		t.Fatalf("cap must trim the oldest question first: %q", got.ContextSummary)
	}
	if len(got.ContextSummary) > 300 {
		t.Fatalf("summary exceeds cap: %d chars", len(got.ContextSummary))
	}
}

func TestAppendMessageTouchesConversation(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	s := New(db)
	ctx := context.Background()

	conv, err := s.ResolveOrCreate(ctx, "", "user-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	msg, err := s.AppendMessage(ctx, conv.ID, models.RoleUser, "hello", nil)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := s.Get(ctx, "user-1", conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UpdatedAt.Before(msg.CreatedAt) {
		t.Fatalf("conversation not touched with the message: updated %v, message %v", got.UpdatedAt, msg.CreatedAt)
	}
	if !got.UpdatedAt.After(conv.UpdatedAt) {
		t.Fatalf("updated_at did not advance past %v", conv.UpdatedAt)
	}
}

func TestListConversationsOrder(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	s := New(db)
	ctx := context.Background()

	first, err := s.ResolveOrCreate(ctx, "", "user-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := s.ResolveOrCreate(ctx, "", "user-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.ResolveOrCreate(ctx, "", "someone-else", ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	time.Sleep(2 * time.Millisecond)
	// Activity on the first conversation bumps it to the top.
	if _, err := s.AppendMessage(ctx, first.ID, models.RoleUser, "follow-up", nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	convs, err := s.ListConversations(ctx, "user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
	if convs[0].ID != first.ID || convs[1].ID != second.ID {
		t.Fatalf("wrong order: %s, %s", convs[0].ID, convs[1].ID)
	}
}

func TestMessagesChecksOwnership(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	s := New(db)
	ctx := context.Background()

	conv, err := s.ResolveOrCreate(ctx, "", "owner", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Messages(ctx, "intruder", conv.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestDeleteConversation(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	s := New(db)
	ctx := context.Background()

	conv, err := s.ResolveOrCreate(ctx, "", "user-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.AppendMessage(ctx, conv.ID, models.RoleUser, "hello", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.UpdateAfterTurn(ctx, conv.ID, 5, []models.SourceRef{{SourceID: "src", Relevance: 0.8}}, ""); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := s.DeleteConversation(ctx, "other-user", conv.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete by non-owner should report not found, got %v", err)
	}
	if err := s.DeleteConversation(ctx, "user-1", conv.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "user-1", conv.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("conversation should be gone, got %v", err)
	}
	var remaining int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conv.ID).Scan(&remaining); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("messages not cleaned up: %d", remaining)
	}
	if err := s.DeleteConversation(ctx, "user-1", conv.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete should report not found, got %v", err)
	}
}
