package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"chat-relay/internal/domain"
)

type mockLLM struct {
	answer   string
	err      error
	model    string
	captured []domain.ChatMessage
	calls    int
}

func (m *mockLLM) Chat(_ context.Context, model string, msgs []domain.ChatMessage) (string, error) {
	m.calls++
	m.model = model
	m.captured = msgs
	return m.answer, m.err
}

func newTestCompletionService(t *testing.T, llm LLMClient, cfg CompletionConfig, opts ...Option) *CompletionService {
	t.Helper()
	svc, err := NewCompletionService(llm, cfg, opts...)
	require.NoError(t, err)
	return svc
}

func TestNewCompletionService_ValidatesDependencies(t *testing.T) {
	_, err := NewCompletionService(nil, CompletionConfig{})
	require.Error(t, err)

	svc := newTestCompletionService(t, &mockLLM{}, CompletionConfig{})
	require.Equal(t, "gpt-4o-mini", svc.cfg.Model)
}

func TestCompletionReply_HappyPath(t *testing.T) {
	llm := &mockLLM{answer: "Drink warm water."}
	rec := &fakeRecorder{}
	svc := newTestCompletionService(t, llm, CompletionConfig{Model: "gpt-test", SystemPrompt: "You are an Ayurveda guide."}, WithRecorder(rec))

	out, err := svc.Reply(context.Background(), ReplyInput{
		Messages:  []domain.ChatMessage{{Role: "system", Content: "ignored"}, {Role: "user", Content: "How to sleep better?"}},
		RequestID: "req-9",
	})
	require.NoError(t, err)
	require.Equal(t, ReplyOutput{Reply: "Drink warm water.", RequestID: "req-9"}, out)
	require.Equal(t, "gpt-test", llm.model)
	require.Equal(t, []domain.ChatMessage{
		{Role: "system", Content: "You are an Ayurveda guide."},
		{Role: "user", Content: "How to sleep better?"},
	}, llm.captured)
	require.Equal(t, []replyObservation{{mode: "completion", outcome: "ok"}}, rec.replies)
}

func TestCompletionReply_KeepsReplyFormatting(t *testing.T) {
	answer := "  1. Rest\n  2. Hydrate\n\n```\ncode\n```\n"
	svc := newTestCompletionService(t, &mockLLM{answer: answer}, CompletionConfig{})

	out, err := svc.Reply(context.Background(), ReplyInput{Messages: []domain.ChatMessage{{Role: "user", Content: "Tips?"}}})
	require.NoError(t, err)
	require.Equal(t, answer, out.Reply)
}

func TestCompletionReply_Validation(t *testing.T) {
	llm := &mockLLM{answer: "x"}
	svc := newTestCompletionService(t, llm, CompletionConfig{})

	_, err := svc.Reply(context.Background(), ReplyInput{})
	expectCode(t, err, ErrorValidation, "empty_turn")

	_, err = svc.Reply(context.Background(), ReplyInput{Messages: []domain.ChatMessage{{Role: "system", Content: "only"}}})
	expectCode(t, err, ErrorValidation, "no_accepted_entries")
	require.Zero(t, llm.calls)
}

func TestCompletionReply_UpstreamErrors(t *testing.T) {
	cases := []struct {
		name   string
		answer string
		err    error
		code   ErrorCode
		reason string
	}{
		{name: "transport", err: errors.New("dial tcp"), code: ErrorRemoteUnavailable, reason: "chat_completion_error"},
		{name: "rate limited", err: statusError(http.StatusTooManyRequests), code: ErrorRateLimited, reason: "chat_completion_error"},
		{name: "no choices", err: fmt.Errorf("openai: %w", domain.ErrNoChoices), code: ErrorEmptyResult, reason: "no_choices"},
		{name: "blank content", answer: "   ", code: ErrorMalformedResult, reason: "empty_completion"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestCompletionService(t, &mockLLM{answer: tc.answer, err: tc.err}, CompletionConfig{})
			_, err := svc.Reply(context.Background(), ReplyInput{Messages: userTurn("Hello")})
			expectCode(t, err, tc.code, tc.reason)
		})
	}
}
