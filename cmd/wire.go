package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"

	"chat-relay/handler"
	"chat-relay/internal/config"
	"chat-relay/internal/integrations/openai"
	"chat-relay/internal/integrations/paramstore"
	"chat-relay/internal/repository"
	"chat-relay/internal/telemetry"
	"chat-relay/internal/usecase"
)

// paramCacheTTL bounds how long a rotated API token can go unnoticed.
const paramCacheTTL = 15 * time.Minute

// app holds everything built from configuration.
type app struct {
	cfg     config.Config
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	replier handler.Replier
}

func buildApp(ctx context.Context) (*app, error) {
	// ---- Configuration (read only here) ----
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := telemetry.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	metrics := telemetry.NewMetrics()

	// ---- AWS SDK config, only when something needs it ----
	var awsCfg aws.Config
	if cfg.ParamPrefix != "" || cfg.JobTable != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
	}

	// ---- Clients ----
	clientOpts := []openai.Option{
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
	}
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, openai.WithAPIKey(cfg.APIKey))
	} else {
		ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg), paramstore.WithCacheTTL(paramCacheTTL))
		if err != nil {
			return nil, fmt.Errorf("create SSM client: %w", err)
		}
		clientOpts = append(clientOpts, openai.WithParamStore(ps, cfg.ParamPrefix))
	}
	openaiClient, err := openai.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create OpenAI client: %w", err)
	}

	roleMode, err := usecase.ParseRoleMode(cfg.RolePolicy)
	if err != nil {
		return nil, err
	}
	roles := usecase.RolePolicy{Accepted: cfg.AcceptedRoles, Mode: roleMode}

	// ---- Service ----
	opts := []usecase.Option{usecase.WithRecorder(metrics)}
	var replier handler.Replier
	switch cfg.Mode {
	case config.ModeCompletion:
		replier, err = usecase.NewCompletionService(openaiClient, usecase.CompletionConfig{
			Model:        cfg.Model,
			SystemPrompt: cfg.SystemPrompt,
			Roles:        roles,
		}, opts...)
	default:
		if cfg.JobTable != "" {
			ledger, lerr := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.JobTable)
			if lerr != nil {
				return nil, fmt.Errorf("create job ledger: %w", lerr)
			}
			opts = append(opts, usecase.WithJobLedger(ledger))
		}
		replier, err = usecase.NewReplyService(openaiClient, usecase.ReplyConfig{
			AssistantID:           cfg.AssistantID,
			PollInterval:          cfg.PollInterval,
			MaxPollAttempts:       cfg.MaxPollAttempts,
			MaxPollInterval:       cfg.PollMaxInterval,
			Backoff:               cfg.PollBackoff,
			DeleteContainerOnExit: cfg.DeleteThreadOnExit,
			Roles:                 roles,
		}, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s service: %w", cfg.Mode, err)
	}

	logger.Info().
		Str("mode", cfg.Mode).
		Bool("job_ledger", cfg.JobTable != "").
		Bool("key_from_ssm", cfg.APIKey == "").
		Msg("chat-relay configured")

	return &app{cfg: cfg, logger: logger, metrics: metrics, replier: replier}, nil
}

func (a *app) handler() (*handler.Handler, error) {
	return handler.NewHandler(a.replier,
		handler.WithLogger(a.logger),
		handler.WithAllowedOrigins(a.cfg.CORSAllowedOrigins),
		handler.WithRequestTimeout(a.cfg.RequestTimeout),
	)
}
