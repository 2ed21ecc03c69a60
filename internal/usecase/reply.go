package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-relay/internal/domain"
)

const (
	defaultPollInterval    = time.Second
	defaultMaxPollAttempts = 30
	cleanupTimeout         = 10 * time.Second

	modeThread     = "thread"
	modeCompletion = "completion"
	outcomeOK      = "ok"
)

// JobAPI is the asynchronous job capability offered by the vendor.
// ListEntries returns entries most recent first.
type JobAPI interface {
	CreateContainer(ctx context.Context) (domain.ContainerRef, error)
	AppendEntry(ctx context.Context, c domain.ContainerRef, role, content string) error
	SubmitJob(ctx context.Context, c domain.ContainerRef, assistantID string) (domain.Job, error)
	GetJobStatus(ctx context.Context, job domain.Job) (domain.Job, error)
	ListEntries(ctx context.Context, c domain.ContainerRef) ([]domain.Entry, error)
	DeleteContainer(ctx context.Context, c domain.ContainerRef) error
}

// Recorder receives per-request outcomes for metrics.
type Recorder interface {
	ObserveReply(mode, outcome string, pollAttempts int, elapsed time.Duration)
	ObserveCleanup(ok bool)
}

// JobLedger persists a summary of each thread-mode request.
type JobLedger interface {
	RecordJob(ctx context.Context, rec domain.JobRecord) error
}

type ReplyInput struct {
	Messages  []domain.ChatMessage
	RequestID string
}

type ReplyOutput struct {
	Reply     string
	RequestID string
}

// ReplyConfig tunes the thread/run protocol.
type ReplyConfig struct {
	AssistantID           string
	PollInterval          time.Duration
	MaxPollAttempts       int
	MaxPollInterval       time.Duration
	Backoff               string
	DeleteContainerOnExit bool
	Roles                 RolePolicy
}

type Option func(*options)

type options struct {
	recorder Recorder
	ledger   JobLedger
}

func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

func WithJobLedger(l JobLedger) Option {
	return func(o *options) {
		o.ledger = l
	}
}

func buildOptions(opts []Option) options {
	o := options{recorder: noopRecorder{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ReplyService turns a conversation turn into a reply through a remote
// thread/run job with bounded waiting and best-effort cleanup.
type ReplyService struct {
	api JobAPI
	cfg ReplyConfig
	options
}

func NewReplyService(api JobAPI, cfg ReplyConfig, opts ...Option) (*ReplyService, error) {
	if api == nil {
		return nil, errors.New("usecase: job api must not be nil")
	}
	cfg.AssistantID = strings.TrimSpace(cfg.AssistantID)
	if cfg.AssistantID == "" {
		return nil, errors.New("usecase: assistant id must not be empty")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = defaultMaxPollAttempts
	}
	if cfg.Backoff == "" {
		cfg.Backoff = BackoffConstant
	}
	cfg.Roles = cfg.Roles.normalized()
	return &ReplyService{api: api, cfg: cfg, options: buildOptions(opts)}, nil
}

func (s *ReplyService) Reply(ctx context.Context, in ReplyInput) (ReplyOutput, error) {
	requestID := strings.TrimSpace(in.RequestID)
	if requestID == "" {
		requestID = newUUID()
	}
	reply, err := s.submitAndAwaitReply(ctx, requestID, in.Messages)
	if err != nil {
		return ReplyOutput{}, err
	}
	return ReplyOutput{Reply: reply, RequestID: requestID}, nil
}

// SubmitAndAwaitReply runs one conversation turn through the job API and
// returns the assistant's reply text.
func (s *ReplyService) SubmitAndAwaitReply(ctx context.Context, turn []domain.ChatMessage) (string, error) {
	return s.submitAndAwaitReply(ctx, newUUID(), turn)
}

// jobRun tracks remote state created by one request.
type jobRun struct {
	requestID string
	started   time.Time
	container domain.ContainerRef
	created   bool
	job       domain.Job
	attempts  int
	cleanupOK bool
}

func (s *ReplyService) submitAndAwaitReply(ctx context.Context, requestID string, turn []domain.ChatMessage) (reply string, err error) {
	run := &jobRun{requestID: requestID, started: time.Now(), cleanupOK: true}
	defer func() {
		s.release(ctx, run)
		s.report(ctx, run, err)
	}()
	return s.execute(ctx, run, turn)
}

func (s *ReplyService) execute(ctx context.Context, run *jobRun, turn []domain.ChatMessage) (string, error) {
	logger := zerolog.Ctx(ctx)

	if err := validateTurn(turn); err != nil {
		return "", err
	}
	kept, dropped, err := s.cfg.Roles.Apply(turn)
	if err != nil {
		return "", err
	}
	if dropped > 0 {
		logger.Debug().Int("dropped", dropped).Msg("dropped entries with unaccepted roles")
	}

	container, err := s.api.CreateContainer(ctx)
	if err != nil {
		return "", remoteError("create_container_error", err)
	}
	run.container = container
	run.created = true

	for _, m := range kept {
		if err := s.api.AppendEntry(ctx, container, m.Role, m.Content); err != nil {
			return "", remoteError("append_entry_error", err)
		}
	}

	job, err := s.api.SubmitJob(ctx, container, s.cfg.AssistantID)
	if err != nil {
		return "", remoteError("submit_job_error", err)
	}
	run.job = job
	logger.Debug().Str("container_id", container.ID).Str("job_id", job.ID).Msg("job submitted")

	job, attempts, err := s.awaitJob(ctx, job)
	run.job = job
	run.attempts = attempts
	if err != nil {
		return "", err
	}

	entries, err := s.api.ListEntries(ctx, container)
	if err != nil {
		return "", remoteError("list_entries_error", err)
	}
	return extractReply(entries)
}

// extractReply takes the first text segment of the most recent entry.
func extractReply(entries []domain.Entry) (string, error) {
	if len(entries) == 0 {
		return "", newError(ErrorEmptyResult, "no_entries", nil)
	}
	text, ok := entries[0].FirstText()
	if !ok {
		e := newError(ErrorMalformedResult, "no_text_content", nil)
		e.Detail = "most recent entry " + entries[0].ID + " has no text content"
		return "", e
	}
	return text, nil
}

// release deletes the container when configured. It runs detached from caller
// cancellation and its outcome never reaches the caller.
func (s *ReplyService) release(ctx context.Context, run *jobRun) {
	if !run.created || !s.cfg.DeleteContainerOnExit {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := s.api.DeleteContainer(cctx, run.container); err != nil {
		run.cleanupOK = false
		s.recorder.ObserveCleanup(false)
		zerolog.Ctx(ctx).Warn().Err(err).Str("container_id", run.container.ID).Msg("container cleanup failed")
		return
	}
	s.recorder.ObserveCleanup(true)
}

func (s *ReplyService) report(ctx context.Context, run *jobRun, err error) {
	elapsed := time.Since(run.started)
	outcome := outcomeOK
	if err != nil {
		outcome = string(CodeOf(err))
	}
	s.recorder.ObserveReply(modeThread, outcome, run.attempts, elapsed)

	logger := zerolog.Ctx(ctx)
	ev := logger.Info()
	if err != nil {
		ev = logger.Warn().Err(err)
	}
	ev.Str("request_id", run.requestID).
		Str("container_id", run.container.ID).
		Str("job_id", run.job.ID).
		Int("poll_attempts", run.attempts).
		Dur("elapsed", elapsed).
		Str("outcome", outcome).
		Msg("thread reply finished")

	if s.ledger == nil || !run.created {
		return
	}
	rec := newJobRecord(run, outcome, elapsed)
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if lerr := s.ledger.RecordJob(lctx, rec); lerr != nil {
		logger.Warn().Err(lerr).Str("request_id", run.requestID).Msg("job ledger write failed")
	}
}

func newJobRecord(run *jobRun, outcome string, elapsed time.Duration) domain.JobRecord {
	rec := domain.JobRecord{
		RequestID:      run.requestID,
		ContainerID:    run.container.ID,
		JobID:          run.job.ID,
		Status:         string(run.job.Status),
		PollAttempts:   run.attempts,
		DurationMillis: elapsed.Milliseconds(),
		CleanupOK:      run.cleanupOK,
	}
	if outcome != outcomeOK {
		rec.ErrorCode = outcome
	}
	return rec
}

type noopRecorder struct{}

func (noopRecorder) ObserveReply(string, string, int, time.Duration) {}
func (noopRecorder) ObserveCleanup(bool)                             {}

var newUUID = func() string {
	return uuid.NewString()
}
