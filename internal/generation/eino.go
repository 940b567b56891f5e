package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/gokkuu100/wakiliweb-sub003/internal/config"
)

type sessionInfo struct {
	userID   string
	kind     string
	meta     map[string]string
	openedAt time.Time
}

// EinoClient implements Service over a cloudwego/eino chat model. Sessions
// are tracked in memory; generation providers are selected from config.
type EinoClient struct {
	chatModel model.ToolCallingChatModel
	modelName string

	mu       sync.Mutex
	sessions map[string]sessionInfo
}

var _ Service = (*EinoClient)(nil)

func NewEinoClient(ctx context.Context, cfg *config.Config) (*EinoClient, error) {
	provider := cfg.Generation.Provider
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	modelName := cfg.Generation.Model
	if modelName == "" {
		modelName = provCfg.Model
	}

	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: cfg.Generation.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}

	return &EinoClient{
		chatModel: chatModel,
		modelName: modelName,
		sessions:  make(map[string]sessionInfo),
	}, nil
}

// OpenSession registers a generation session and returns its id.
func (c *EinoClient) OpenSession(ctx context.Context, userID, kind string, meta map[string]string) (string, error) {
	if userID == "" {
		return "", errors.New("user id required")
	}
	sessionID := uuid.NewString()
	c.mu.Lock()
	c.sessions[sessionID] = sessionInfo{
		userID:   userID,
		kind:     kind,
		meta:     meta,
		openedAt: time.Now(),
	}
	c.mu.Unlock()
	return sessionID, nil
}

// Generate runs the prompt through the configured chat model.
func (c *EinoClient) Generate(ctx context.Context, req Request) (*Result, error) {
	c.mu.Lock()
	_, ok := c.sessions[req.SessionID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown generation session %s", req.SessionID)
	}

	messages := []*schema.Message{
		{Role: schema.User, Content: req.Prompt},
	}
	resp, err := c.chatModel.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("chat model generate: %w", err)
	}

	usage := TokenUsage{}
	if resp.ResponseMeta != nil && resp.ResponseMeta.Usage != nil {
		usage.Prompt = resp.ResponseMeta.Usage.PromptTokens
		usage.Completion = resp.ResponseMeta.Usage.CompletionTokens
		usage.Total = resp.ResponseMeta.Usage.TotalTokens
	}
	if usage.Total == 0 {
		// Providers do not always report usage; fall back to the char/4
		// estimate used elsewhere for pre-flight accounting.
		usage.Prompt = (len(req.Prompt) + 3) / 4
		usage.Completion = (len(resp.Content) + 3) / 4
		usage.Total = usage.Prompt + usage.Completion
	}

	return &Result{
		Content:    resp.Content,
		TokensUsed: usage,
		Model:      c.modelName,
	}, nil
}

// CloseSession drops the session. Closing an unknown or already closed
// session is a no-op so cleanup paths stay idempotent.
func (c *EinoClient) CloseSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
	return nil
}
