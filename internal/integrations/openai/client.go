package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"chat-relay/internal/domain"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	// listLimit bounds how many entries are fetched when reading a reply.
	listLimit = 20
	// keyFetchTimeout bounds one parameter-store read, independent of the caller.
	keyFetchTimeout = 5 * time.Second
)

// assistantsAPI is the subset of *goopenai.Client required by Client.
// Defined here for testability.
type assistantsAPI interface {
	CreateThread(ctx context.Context, request goopenai.ThreadRequest) (goopenai.Thread, error)
	CreateMessage(ctx context.Context, threadID string, request goopenai.MessageRequest) (goopenai.Message, error)
	CreateRun(ctx context.Context, threadID string, request goopenai.RunRequest) (goopenai.Run, error)
	RetrieveRun(ctx context.Context, threadID string, runID string) (goopenai.Run, error)
	ListMessage(ctx context.Context, threadID string, limit *int, order *string, after *string, before *string, runID *string) (goopenai.MessagesList, error)
	DeleteThread(ctx context.Context, threadID string) (goopenai.ThreadDeleteResponse, error)
	CreateChatCompletion(ctx context.Context, request goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	Op         string
	Message    string
	Err        error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Message)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

func (e *HTTPStatusError) Unwrap() error {
	return e.Err
}

// Client adapts the vendor's threads/runs/messages and chat-completion
// endpoints to the job and chat ports used by the usecase layer.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	apiKey      string
	getter      Getter
	paramPrefix string
	newAPI      func(goopenai.ClientConfig) assistantsAPI

	mu       sync.Mutex
	api      assistantsAPI
	builtKey string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAPIKey sets a static key. It takes precedence over the parameter store.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// WithParamStore resolves the key from {prefix}/open-ai-token on every call.
// Pass a caching getter; a rotated token is picked up once its entry expires.
func WithParamStore(g Getter, paramPrefix string) Option {
	return func(c *Client) {
		c.getter = g
		c.paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	}
}

func withAPIFactory(f func(goopenai.ClientConfig) assistantsAPI) Option {
	return func(c *Client) {
		c.newAPI = f
	}
}

// NewClient creates a Client. Either WithAPIKey or WithParamStore must be
// supplied; the vendor client itself is built lazily on the first call.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		newAPI: func(cfg goopenai.ClientConfig) assistantsAPI {
			return goopenai.NewClientWithConfig(cfg)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.apiKey == "" {
		if c.getter == nil {
			return nil, errors.New("openai: api key or paramstore getter must be set")
		}
		if c.paramPrefix == "" {
			return nil, errors.New("openai: parameter prefix must not be empty")
		}
	}
	return c, nil
}

// resolveAPI returns the vendor client for the current key. The client is
// rebuilt only when the key changes. Failed key reads are not remembered, so
// the next call retries them.
func (c *Client) resolveAPI(ctx context.Context) (assistantsAPI, error) {
	key := c.apiKey
	if key == "" {
		// detached so a cancelled request cannot fail the shared read
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), keyFetchTimeout)
		defer cancel()
		var err error
		key, err = fetchAPIKeyFromParamStore(fetchCtx, c.getter, c.tokenParameterName())
		if err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api != nil && c.builtKey == key {
		return c.api, nil
	}
	cfg := goopenai.DefaultConfig(key)
	cfg.BaseURL = normalizeBaseURL(c.baseURL)
	if c.httpClient != nil {
		cfg.HTTPClient = c.httpClient
	}
	c.api = c.newAPI(cfg)
	c.builtKey = key
	return c.api, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/open-ai-token"
}

func normalizeBaseURL(baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

func (c *Client) CreateContainer(ctx context.Context) (domain.ContainerRef, error) {
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return domain.ContainerRef{}, err
	}
	thread, err := api.CreateThread(ctx, goopenai.ThreadRequest{})
	if err != nil {
		return domain.ContainerRef{}, wrapError("create thread", err)
	}
	if thread.ID == "" {
		return domain.ContainerRef{}, errors.New("openai: create thread: empty thread id")
	}
	return domain.ContainerRef{ID: thread.ID}, nil
}

func (c *Client) AppendEntry(ctx context.Context, container domain.ContainerRef, role, content string) error {
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return err
	}
	_, err = api.CreateMessage(ctx, container.ID, goopenai.MessageRequest{
		Role:    role,
		Content: content,
	})
	if err != nil {
		return wrapError("create message", err)
	}
	return nil
}

func (c *Client) SubmitJob(ctx context.Context, container domain.ContainerRef, assistantID string) (domain.Job, error) {
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return domain.Job{}, err
	}
	run, err := api.CreateRun(ctx, container.ID, goopenai.RunRequest{AssistantID: assistantID})
	if err != nil {
		return domain.Job{}, wrapError("create run", err)
	}
	return runToJob(container.ID, run), nil
}

func (c *Client) GetJobStatus(ctx context.Context, job domain.Job) (domain.Job, error) {
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return domain.Job{}, err
	}
	run, err := api.RetrieveRun(ctx, job.ContainerID, job.ID)
	if err != nil {
		return domain.Job{}, wrapError("retrieve run", err)
	}
	return runToJob(job.ContainerID, run), nil
}

// ListEntries returns the thread's messages, most recent first.
func (c *Client) ListEntries(ctx context.Context, container domain.ContainerRef) ([]domain.Entry, error) {
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return nil, err
	}
	limit := listLimit
	order := "desc"
	list, err := api.ListMessage(ctx, container.ID, &limit, &order, nil, nil, nil)
	if err != nil {
		return nil, wrapError("list messages", err)
	}
	entries := make([]domain.Entry, 0, len(list.Messages))
	for _, m := range list.Messages {
		entries = append(entries, messageToEntry(m))
	}
	return entries, nil
}

func (c *Client) DeleteContainer(ctx context.Context, container domain.ContainerRef) error {
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return err
	}
	if _, err := api.DeleteThread(ctx, container.ID); err != nil {
		return wrapError("delete thread", err)
	}
	return nil
}

// Chat sends a single chat-completion request and returns the first choice's content.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	if model == "" {
		return "", errors.New("openai: model must not be empty")
	}
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return "", err
	}

	req := goopenai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]goopenai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", wrapError("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: %w", domain.ErrNoChoices)
	}
	return resp.Choices[0].Message.Content, nil
}

func runToJob(threadID string, run goopenai.Run) domain.Job {
	job := domain.Job{
		ID:          run.ID,
		ContainerID: threadID,
		Status:      mapRunStatus(run.Status),
	}
	if run.LastError != nil {
		job.ErrorDetail = run.LastError.Message
		if code := string(run.LastError.Code); code != "" {
			job.ErrorDetail = code + ": " + run.LastError.Message
		}
	}
	if job.Status == domain.JobFailed && job.ErrorDetail == "" {
		job.ErrorDetail = "run ended with status " + string(run.Status)
	}
	return job
}

func mapRunStatus(s goopenai.RunStatus) domain.JobStatus {
	switch s {
	case goopenai.RunStatusQueued:
		return domain.JobPending
	case goopenai.RunStatusInProgress, goopenai.RunStatusCancelling:
		return domain.JobRunning
	case goopenai.RunStatusCompleted:
		return domain.JobCompleted
	case goopenai.RunStatusCancelled:
		return domain.JobCancelled
	case goopenai.RunStatusExpired:
		return domain.JobExpired
	case goopenai.RunStatusRequiresAction:
		return domain.JobRequiresInput
	}
	// failed, incomplete and anything unrecognised
	return domain.JobFailed
}

func messageToEntry(m goopenai.Message) domain.Entry {
	e := domain.Entry{ID: m.ID, Role: string(m.Role)}
	for _, content := range m.Content {
		block := domain.ContentBlock{Type: content.Type}
		if content.Text != nil {
			block.Text = content.Text.Value
		}
		e.Content = append(e.Content, block)
	}
	return e
}

func wrapError(op string, err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &HTTPStatusError{StatusCode: apiErr.HTTPStatusCode, Op: op, Message: apiErr.Message, Err: err}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return &HTTPStatusError{StatusCode: reqErr.HTTPStatusCode, Op: op, Message: reqErr.Error(), Err: err}
	}
	return fmt.Errorf("openai: %s: %w", op, err)
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("openai: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("openai: API token is empty")
	}
	return tp.Token, nil
}
