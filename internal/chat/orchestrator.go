// Package chat orchestrates one conversational turn end to end: quota check,
// conversation resolution, retrieval, prompt composition, generation,
// post-processing and persistence. Collaborators are injected as interfaces;
// the orchestrator itself holds no state beyond its wiring.
package chat

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/gokkuu100/wakiliweb-sub003/internal/generation"
	"github.com/gokkuu100/wakiliweb-sub003/internal/models"
	"github.com/gokkuu100/wakiliweb-sub003/internal/postprocess"
	"github.com/gokkuu100/wakiliweb-sub003/internal/prompt"
	"github.com/gokkuu100/wakiliweb-sub003/internal/retrieval"
	"github.com/gokkuu100/wakiliweb-sub003/internal/store"
	"github.com/gokkuu100/wakiliweb-sub003/internal/usage"
)

// historyLimit bounds how many prior messages are carried into the prompt.
const historyLimit = 10

// ConversationStore is the persistence surface the orchestrator needs.
type ConversationStore interface {
	ResolveOrCreate(ctx context.Context, conversationID, userID, domainHint string) (*models.Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, role models.Role, content string, meta *models.MessageMetadata) (*models.Message, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)
	UpdateAfterTurn(ctx context.Context, conversationID string, tokenDelta int, sources []models.SourceRef, derivedContext string) error
	Summarize(ctx context.Context, conversationID string) error
}

// Retriever surfaces relevant knowledge passages for a query.
type Retriever interface {
	Search(ctx context.Context, p retrieval.Params) ([]models.RetrievalResult, error)
}

// Generator produces the assistant's answer for a composed prompt.
type Generator interface {
	Generate(ctx context.Context, prompt, userID, conversationID string) (*generation.Result, error)
}

// UsageGuard is the pre-flight quota check.
type UsageGuard interface {
	Check(ctx context.Context, userID, message string) (usage.Decision, error)
}

// UsageRecorder accrues actual usage after a successful turn.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, userID string, tokens int) error
}

// SendMessageInput is one incoming user turn.
type SendMessageInput struct {
	UserID         string
	Message        string
	ConversationID string
	DomainHint     string
}

// Reply is the assembled response for one turn.
type Reply struct {
	Message             *models.Message
	ConversationID      string
	SourcesUsed         []models.KnowledgeSource
	Citations           []models.Citation
	ConfidenceScore     float64
	FollowUpSuggestions []string
	RelatedTopics       []string
}

// Orchestrator runs the send-message pipeline.
type Orchestrator struct {
	store     ConversationStore
	retriever Retriever
	generator Generator
	guard     UsageGuard
	recorder  UsageRecorder
	logger    *zap.Logger
}

func NewOrchestrator(
	store ConversationStore,
	retriever Retriever,
	generator Generator,
	guard UsageGuard,
	recorder UsageRecorder,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     store,
		retriever: retriever,
		generator: generator,
		guard:     guard,
		recorder:  recorder,
		logger:    logger,
	}
}

// SendMessage executes one full conversational turn. Quota denial happens
// before any write; retrieval failures degrade to an ungrounded answer;
// generation and persistence failures abort the turn with a typed error.
func (o *Orchestrator) SendMessage(ctx context.Context, in SendMessageInput) (*Reply, error) {
	in.Message = strings.TrimSpace(in.Message)
	if in.UserID == "" {
		return nil, newError(KindInvalidInput, "user id is required", nil)
	}
	if in.Message == "" {
		return nil, newError(KindInvalidInput, "message cannot be empty", nil)
	}

	dec, err := o.guard.Check(ctx, in.UserID, in.Message)
	if err != nil {
		return nil, newError(KindQuotaServiceUnavailable, "usage limits could not be verified", err)
	}
	if !dec.Allowed {
		return nil, newError(KindQuotaExceeded, dec.Reason, nil)
	}

	conv, err := o.store.ResolveOrCreate(ctx, in.ConversationID, in.UserID, in.DomainHint)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, newError(KindConversationNotFound, "conversation does not exist", err)
		case errors.Is(err, store.ErrForbidden):
			return nil, newError(KindConversationForbidden, "conversation belongs to another user", err)
		default:
			return nil, newError(KindPersistenceFailure, "conversation could not be resolved", err)
		}
	}

	history, err := o.store.RecentMessages(ctx, conv.ID, historyLimit)
	if err != nil {
		return nil, newError(KindPersistenceFailure, "conversation history could not be loaded", err)
	}

	legalAreas := areasForQuery(in.DomainHint, conv.LegalContext)
	results, err := o.retriever.Search(ctx, retrieval.Params{
		Text:       in.Message,
		UserID:     in.UserID,
		LegalAreas: legalAreas,
	})
	if err != nil {
		// Grounding is best-effort: the turn proceeds without sources.
		o.logger.Warn("knowledge retrieval failed, answering ungrounded",
			zap.String("conversation_id", conv.ID),
			zap.Error(err))
		results = nil
	}

	turns := make([]prompt.Turn, 0, len(history))
	for _, m := range history {
		turns = append(turns, prompt.Turn{Role: m.Role, Content: m.Content})
	}
	composed := prompt.Compose(in.Message, results, turns, conv.ContextSummary)

	if _, err := o.store.AppendMessage(ctx, conv.ID, models.RoleUser, in.Message, nil); err != nil {
		return nil, newError(KindPersistenceFailure, "message could not be recorded", err)
	}

	res, err := o.generator.Generate(ctx, composed, in.UserID, conv.ID)
	if err != nil {
		// The user message stays recorded even though no answer follows.
		if errors.Is(err, generation.ErrTimeout) {
			return nil, newError(KindGenerationTimeout, "answer generation timed out", err)
		}
		return nil, newError(KindGenerationFailure, "answer could not be generated", err)
	}

	usedInPrompt := prompt.UsedSources(results)
	analysis := postprocess.Analyze(res.Content, usedInPrompt, in.DomainHint)

	refs := make([]models.SourceRef, 0, len(usedInPrompt))
	sources := make([]models.KnowledgeSource, 0, len(usedInPrompt))
	for _, r := range usedInPrompt {
		refs = append(refs, models.SourceRef{SourceID: r.Source.ID, Relevance: r.Relevance})
		sources = append(sources, r.Source)
	}

	meta := &models.MessageMetadata{
		TokensUsed:       res.TokensUsed.Total,
		Model:            res.Model,
		SourcesUsed:      refs,
		ConfidenceScore:  res.ConfidenceScore,
		Citations:        analysis.Citations,
		ProcessingTimeMs: res.ProcessingTimeMs,
	}
	assistantMsg, err := o.store.AppendMessage(ctx, conv.ID, models.RoleAssistant, res.Content, meta)
	if err != nil {
		o.logger.Error("answer generated but not recorded",
			zap.String("conversation_id", conv.ID),
			zap.Error(err))
		return nil, newError(KindPersistenceFailure, "answer could not be recorded", err)
	}

	derivedContext := strings.Join(analysis.LegalAreas, ",")
	if err := o.store.UpdateAfterTurn(ctx, conv.ID, res.TokensUsed.Total, refs, derivedContext); err != nil {
		o.logger.Error("conversation state update failed after recorded answer",
			zap.String("conversation_id", conv.ID),
			zap.Error(err))
		return nil, newError(KindPersistenceFailure, "conversation state could not be updated", err)
	}

	if err := o.store.Summarize(ctx, conv.ID); err != nil {
		o.logger.Warn("context summarization failed",
			zap.String("conversation_id", conv.ID),
			zap.Error(err))
	}
	if err := o.recorder.RecordUsage(ctx, in.UserID, res.TokensUsed.Total); err != nil {
		o.logger.Warn("usage accrual failed",
			zap.String("user_id", in.UserID),
			zap.Int("tokens", res.TokensUsed.Total),
			zap.Error(err))
	}

	return &Reply{
		Message:             assistantMsg,
		ConversationID:      conv.ID,
		SourcesUsed:         sources,
		Citations:           analysis.Citations,
		ConfidenceScore:     res.ConfidenceScore,
		FollowUpSuggestions: analysis.FollowUps,
		RelatedTopics:       analysis.RelatedTopics,
	}, nil
}

// areasForQuery picks the retrieval filter: the explicit domain hint wins,
// otherwise the conversation's accumulated legal context applies.
func areasForQuery(domainHint, legalContext string) []string {
	raw := domainHint
	if raw == "" {
		raw = legalContext
	}
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	areas := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			areas = append(areas, p)
		}
	}
	return areas
}
