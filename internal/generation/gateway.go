package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrTimeout marks a generation call that exceeded its deadline. Retrying is
// the caller's (or the upstream provider's) decision, never the gateway's.
var ErrTimeout = errors.New("generation timed out")

// defaultConfidence is reported when the service returns no explicit
// confidence score, so downstream consumers can rely on the field.
const defaultConfidence = 0.85

// TokenUsage is the token accounting of one generation call.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Result is the normalized outcome of a generation call.
type Result struct {
	Content          string
	TokensUsed       TokenUsage
	Model            string
	ConfidenceScore  float64
	ProcessingTimeMs int64
}

// Request carries one prompt to the generation service.
type Request struct {
	Prompt         string
	UserID         string
	SessionID      string
	ConversationID string
}

// Service is the external text-generation system. Sessions scope every call:
// open, generate, close.
type Service interface {
	OpenSession(ctx context.Context, userID, kind string, meta map[string]string) (string, error)
	Generate(ctx context.Context, req Request) (*Result, error)
	CloseSession(ctx context.Context, sessionID string) error
}

// Gateway invokes the generation service with scoped-session discipline: a
// session is opened before generation and closed on every exit path.
type Gateway struct {
	svc     Service
	timeout time.Duration
	logger  *zap.Logger
}

func NewGateway(svc Service, timeout time.Duration, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Gateway{svc: svc, timeout: timeout, logger: logger}
}

// Generate runs one bounded generation call and normalizes its result.
func (g *Gateway) Generate(ctx context.Context, prompt, userID, conversationID string) (*Result, error) {
	sessionID, err := g.svc.OpenSession(ctx, userID, "legal_chat", map[string]string{
		"conversation_id": conversationID,
	})
	if err != nil {
		return nil, fmt.Errorf("open generation session: %w", err)
	}
	defer func() {
		// The session closes even when the request context is already dead.
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := g.svc.CloseSession(closeCtx, sessionID); err != nil {
			g.logger.Warn("close generation session failed",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}()

	genCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	res, err := g.svc.Generate(genCtx, Request{
		Prompt:         prompt,
		UserID:         userID,
		SessionID:      sessionID,
		ConversationID: conversationID,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, g.timeout)
		}
		return nil, fmt.Errorf("generate: %w", err)
	}

	if res.ProcessingTimeMs == 0 {
		res.ProcessingTimeMs = time.Since(start).Milliseconds()
	}
	if res.ConfidenceScore == 0 {
		res.ConfidenceScore = defaultConfidence
	}
	return res, nil
}
