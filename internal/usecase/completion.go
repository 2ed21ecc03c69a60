package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chat-relay/internal/domain"
)

const defaultModel = "gpt-4o-mini"

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

type CompletionConfig struct {
	Model        string
	SystemPrompt string
	Roles        RolePolicy
}

// CompletionService answers a turn with a single chat-completion call.
type CompletionService struct {
	llm LLMClient
	cfg CompletionConfig
	options
}

func NewCompletionService(llm LLMClient, cfg CompletionConfig, opts ...Option) (*CompletionService, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	cfg.SystemPrompt = strings.TrimSpace(cfg.SystemPrompt)
	cfg.Roles = cfg.Roles.normalized()
	return &CompletionService{llm: llm, cfg: cfg, options: buildOptions(opts)}, nil
}

func (s *CompletionService) Reply(ctx context.Context, in ReplyInput) (out ReplyOutput, err error) {
	started := time.Now()
	requestID := strings.TrimSpace(in.RequestID)
	if requestID == "" {
		requestID = newUUID()
	}
	defer func() {
		outcome := outcomeOK
		if err != nil {
			outcome = string(CodeOf(err))
		}
		s.recorder.ObserveReply(modeCompletion, outcome, 0, time.Since(started))
		zerolog.Ctx(ctx).Info().
			Str("request_id", requestID).
			Str("model", s.cfg.Model).
			Str("outcome", outcome).
			Dur("elapsed", time.Since(started)).
			Msg("completion reply finished")
	}()

	if err := validateTurn(in.Messages); err != nil {
		return ReplyOutput{}, err
	}
	kept, _, err := s.cfg.Roles.Apply(in.Messages)
	if err != nil {
		return ReplyOutput{}, err
	}
	if len(kept) == 0 {
		e := newError(ErrorValidation, "no_accepted_entries", nil)
		e.Detail = "every entry was dropped by the role policy"
		return ReplyOutput{}, e
	}

	messages := make([]domain.ChatMessage, 0, len(kept)+1)
	if s.cfg.SystemPrompt != "" {
		messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: s.cfg.SystemPrompt})
	}
	messages = append(messages, kept...)

	raw, err := s.llm.Chat(ctx, s.cfg.Model, messages)
	if err != nil {
		if errors.Is(err, domain.ErrNoChoices) {
			return ReplyOutput{}, newError(ErrorEmptyResult, "no_choices", err)
		}
		return ReplyOutput{}, remoteError("chat_completion_error", err)
	}
	if strings.TrimSpace(raw) == "" {
		return ReplyOutput{}, newError(ErrorMalformedResult, "empty_completion", nil)
	}
	return ReplyOutput{Reply: raw, RequestID: requestID}, nil
}
