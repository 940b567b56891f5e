// Package api exposes the chat service over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gokkuu100/wakiliweb-sub003/internal/auth"
	"github.com/gokkuu100/wakiliweb-sub003/internal/chat"
	"github.com/gokkuu100/wakiliweb-sub003/internal/models"
	"github.com/gokkuu100/wakiliweb-sub003/internal/store"
	"github.com/gokkuu100/wakiliweb-sub003/internal/worker"
)

// ChatService runs one conversational turn.
type ChatService interface {
	SendMessage(ctx context.Context, in chat.SendMessageInput) (*chat.Reply, error)
}

// ConversationReader serves conversation listings and history.
type ConversationReader interface {
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	Get(ctx context.Context, userID, conversationID string) (*models.Conversation, error)
	Messages(ctx context.Context, userID, conversationID string) ([]*models.Message, error)
	DeleteConversation(ctx context.Context, userID, conversationID string) error
}

// KnowledgeIndexer adds passages to the legal knowledge index.
type KnowledgeIndexer interface {
	AddSource(ctx context.Context, src models.KnowledgeSource) (string, error)
}

// Handler wires HTTP routes to the chat orchestrator and conversation store.
type Handler struct {
	chat       ChatService
	convs      ConversationReader
	auth       *auth.Service
	dispatcher *worker.Dispatcher
	indexer    KnowledgeIndexer
	logger     *zap.Logger
}

func NewHandler(chatSvc ChatService, convs ConversationReader, authSvc *auth.Service, dispatcher *worker.Dispatcher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		chat:       chatSvc,
		convs:      convs,
		auth:       authSvc,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// SetKnowledgeIndexer enables the knowledge ingestion endpoint.
func (h *Handler) SetKnowledgeIndexer(indexer KnowledgeIndexer) {
	h.indexer = indexer
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/auth/token", h.issueToken)

	authMW := h.auth.Middleware()
	protected := api.Group("")
	protected.Use(authMW)
	protected.POST("/chat", h.sendMessage)
	protected.GET("/conversations", h.listConversations)
	protected.GET("/conversations/:id/messages", h.conversationMessages)
	protected.DELETE("/conversations/:id", h.deleteConversation)
	protected.POST("/auth/logout", h.logout)
	if h.indexer != nil {
		protected.POST("/knowledge/sources", h.addKnowledgeSource)
	}
}

type issueTokenRequest struct {
	UserID string `json:"user_id"`
}

// issueToken mints a bearer token for a platform user. Account identity is
// managed upstream; this endpoint trusts the supplied id.
func (h *Handler) issueToken(c *gin.Context) {
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	token, err := h.auth.IssueToken(c.Request.Context(), req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(h.auth.TokenTTL().Seconds()),
	})
}

func (h *Handler) logout(c *gin.Context) {
	token, _ := auth.AuthTokenFromContext(c)
	if err := h.auth.RevokeToken(c.Request.Context(), token); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type sendMessageRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	LegalArea      string `json:"legal_area"`
}

type sendMessageResponse struct {
	Message             *models.Message          `json:"message"`
	ConversationID      string                   `json:"conversation_id"`
	SourcesUsed         []models.KnowledgeSource `json:"sources_used,omitempty"`
	Citations           []models.Citation        `json:"citations,omitempty"`
	ConfidenceScore     float64                  `json:"confidence_score"`
	FollowUpSuggestions []string                 `json:"follow_up_suggestions,omitempty"`
	RelatedTopics       []string                 `json:"related_topics,omitempty"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	type outcome struct {
		reply *chat.Reply
		err   error
	}
	done := make(chan outcome, 1)
	// Captured before Submit: gin recycles c once the handler returns, and
	// the job may still be queued at that point.
	ctx := c.Request.Context()
	err := h.dispatcher.Submit(worker.Job{
		UserID: userID,
		Run: func() {
			reply, err := h.chat.SendMessage(ctx, chat.SendMessageInput{
				UserID:         userID,
				Message:        req.Message,
				ConversationID: req.ConversationID,
				DomainHint:     req.LegalArea,
			})
			done <- outcome{reply: reply, err: err}
		},
	})
	if err != nil {
		if errors.Is(err, worker.ErrBusy) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable"})
		return
	}

	// A stopping dispatcher never runs jobs it has not dispatched, so
	// waiting on done alone could strand the handler.
	select {
	case out := <-done:
		if out.err != nil {
			h.writeChatError(c, out.err)
			return
		}
		c.JSON(http.StatusOK, sendMessageResponse{
			Message:             out.reply.Message,
			ConversationID:      out.reply.ConversationID,
			SourcesUsed:         out.reply.SourcesUsed,
			Citations:           out.reply.Citations,
			ConfidenceScore:     out.reply.ConfidenceScore,
			FollowUpSuggestions: out.reply.FollowUpSuggestions,
			RelatedTopics:       out.reply.RelatedTopics,
		})
	case <-h.dispatcher.Done():
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is shutting down"})
	case <-c.Request.Context().Done():
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request aborted"})
	}
}

func (h *Handler) listConversations(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	convs, err := h.convs.ListConversations(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list conversations failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list conversations"})
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (h *Handler) conversationMessages(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	conversationID := c.Param("id")
	conv, err := h.convs.Get(c.Request.Context(), userID, conversationID)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	messages, err := h.convs.Messages(c.Request.Context(), userID, conversationID)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation": conv,
		"messages":     messages,
	})
}

func (h *Handler) deleteConversation(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.convs.DeleteConversation(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type addSourceRequest struct {
	Title       string `json:"title"`
	SourceType  string `json:"source_type"`
	Authority   string `json:"authority"`
	LegalArea   string `json:"legal_area"`
	DocumentURL string `json:"document_url"`
	Content     string `json:"content"`
}

func (h *Handler) addKnowledgeSource(c *gin.Context) {
	if _, ok := h.authorizedUserID(c); !ok {
		return
	}
	var req addSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Title == "" || req.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title and content are required"})
		return
	}
	id, err := h.indexer.AddSource(c.Request.Context(), models.KnowledgeSource{
		Title:       req.Title,
		SourceType:  req.SourceType,
		Authority:   req.Authority,
		LegalArea:   req.LegalArea,
		DocumentURL: req.DocumentURL,
		Content:     req.Content,
	})
	if err != nil {
		h.logger.Error("index knowledge source failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not index source"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) authorizedUserID(c *gin.Context) (string, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok || userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return "", false
	}
	return userID, true
}

func (h *Handler) writeChatError(c *gin.Context, err error) {
	kind, ok := chat.KindOf(err)
	if !ok {
		h.logger.Error("chat request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("chat request failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error": chat.ReasonOf(err),
		"code":  string(kind),
	})
}

func (h *Handler) writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case errors.Is(err, store.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "conversation belongs to another user"})
	default:
		h.logger.Error("conversation request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func statusForKind(kind chat.Kind) int {
	switch kind {
	case chat.KindInvalidInput:
		return http.StatusBadRequest
	case chat.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case chat.KindQuotaServiceUnavailable:
		return http.StatusServiceUnavailable
	case chat.KindConversationNotFound:
		return http.StatusNotFound
	case chat.KindConversationForbidden:
		return http.StatusForbidden
	case chat.KindGenerationTimeout:
		return http.StatusGatewayTimeout
	case chat.KindGenerationFailure, chat.KindRetrievalFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
