package generation

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeService struct {
	openErr  error
	genErr   error
	result   *Result
	opened   int
	closed   []string
	lastKind string
	lastMeta map[string]string
	lastReq  Request
}

func (f *fakeService) OpenSession(ctx context.Context, userID, kind string, meta map[string]string) (string, error) {
	if f.openErr != nil {
		return "", f.openErr
	}
	f.opened++
	f.lastKind = kind
	f.lastMeta = meta
	return "session-1", nil
}

func (f *fakeService) Generate(ctx context.Context, req Request) (*Result, error) {
	f.lastReq = req
	if f.genErr != nil {
		return nil, f.genErr
	}
	return f.result, nil
}

func (f *fakeService) CloseSession(ctx context.Context, sessionID string) error {
	f.closed = append(f.closed, sessionID)
	return nil
}

func TestGenerateSuccess(t *testing.T) {
	svc := &fakeService{result: &Result{
		Content:    "You are entitled to one month's notice.",
		TokensUsed: TokenUsage{Prompt: 10, Completion: 20, Total: 30},
		Model:      "test-model",
	}}
	g := NewGateway(svc, time.Second, nil)

	res, err := g.Generate(context.Background(), "prompt text", "user-1", "conv-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.ConfidenceScore != 0.85 {
		t.Fatalf("default confidence = %v, want 0.85", res.ConfidenceScore)
	}
	if res.TokensUsed.Total != 30 {
		t.Fatalf("token usage lost: %+v", res.TokensUsed)
	}
	if svc.opened != 1 {
		t.Fatalf("expected one session, got %d", svc.opened)
	}
	if len(svc.closed) != 1 || svc.closed[0] != "session-1" {
		t.Fatalf("session not closed: %v", svc.closed)
	}
	if svc.lastKind != "legal_chat" {
		t.Fatalf("session kind = %q", svc.lastKind)
	}
	if svc.lastMeta["conversation_id"] != "conv-1" {
		t.Fatalf("conversation id not carried in session meta: %v", svc.lastMeta)
	}
	if svc.lastReq.SessionID != "session-1" {
		t.Fatalf("generate must run inside the opened session, got %q", svc.lastReq.SessionID)
	}
}

func TestGenerateKeepsExplicitConfidence(t *testing.T) {
	svc := &fakeService{result: &Result{
		Content:         "answer",
		ConfidenceScore: 0.42,
	}}
	g := NewGateway(svc, time.Second, nil)

	res, err := g.Generate(context.Background(), "p", "u", "c")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.ConfidenceScore != 0.42 {
		t.Fatalf("explicit confidence overwritten: %v", res.ConfidenceScore)
	}
}

func TestGenerateClosesSessionOnFailure(t *testing.T) {
	svc := &fakeService{genErr: errors.New("provider 500")}
	g := NewGateway(svc, time.Second, nil)

	if _, err := g.Generate(context.Background(), "p", "u", "c"); err == nil {
		t.Fatalf("expected error")
	}
	if len(svc.closed) != 1 {
		t.Fatalf("session must close on the failure path, closed=%v", svc.closed)
	}
}

func TestGenerateTimeout(t *testing.T) {
	svc := &fakeService{genErr: context.DeadlineExceeded}
	g := NewGateway(svc, time.Second, nil)

	_, err := g.Generate(context.Background(), "p", "u", "c")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if len(svc.closed) != 1 {
		t.Fatalf("session must close after a timeout, closed=%v", svc.closed)
	}
}

func TestGenerateOpenSessionFailure(t *testing.T) {
	svc := &fakeService{openErr: errors.New("no capacity")}
	g := NewGateway(svc, time.Second, nil)

	if _, err := g.Generate(context.Background(), "p", "u", "c"); err == nil {
		t.Fatalf("expected error")
	}
	if len(svc.closed) != 0 {
		t.Fatalf("nothing to close when open fails, closed=%v", svc.closed)
	}
}
