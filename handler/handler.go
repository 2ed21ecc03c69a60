package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-relay/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// Replier produces the assistant's reply for one conversation turn.
type Replier interface {
	Reply(ctx context.Context, in usecase.ReplyInput) (usecase.ReplyOutput, error)
}

type Handler struct {
	replier        Replier
	logger         zerolog.Logger
	allowedOrigins []string
	requestTimeout time.Duration
	newID          func() string
}

type Option func(*Handler)

func WithLogger(l zerolog.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// WithAllowedOrigins sets the CORS allow-list. "*" allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Handler) {
		h.allowedOrigins = origins
	}
}

// WithRequestTimeout bounds each reply. Zero leaves the caller's deadline alone.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.requestTimeout = d
	}
}

func NewHandler(r Replier, opts ...Option) (*Handler, error) {
	if r == nil {
		return nil, errors.New("handler: replier must not be nil")
	}
	h := &Handler{
		replier:        r,
		logger:         zerolog.Nop(),
		allowedOrigins: []string{"*"},
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle serves an API Gateway proxy event. Errors are always rendered into
// the response; the returned error is reserved for the runtime.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := strings.TrimSpace(headerValue(req.Headers, correlationHeader))
	if correlationID == "" {
		correlationID = h.newID()
	}
	logger := h.logger.With().Str("correlation_id", correlationID).Logger()
	ctx = logger.WithContext(ctx)

	headers := h.corsHeaders(headerValue(req.Headers, "Origin"))
	headers[correlationHeader] = correlationID

	route, ok := routeFor(req.Path)
	switch {
	case !ok:
		return jsonResponse(http.StatusNotFound, headers, errorResponse{Error: "NOT_FOUND"}), nil
	case req.HTTPMethod == http.MethodOptions:
		return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent, Headers: headers}, nil
	case req.HTTPMethod == http.MethodGet && route == "/":
		headers["Content-Type"] = "text/plain; charset=utf-8"
		return events.APIGatewayProxyResponse{StatusCode: http.StatusOK, Headers: headers, Body: "chat-relay is running\n"}, nil
	case req.HTTPMethod == http.MethodPost:
	default:
		return jsonResponse(http.StatusMethodNotAllowed, headers, errorResponse{Error: "METHOD_NOT_ALLOWED"}), nil
	}

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return h.errorResponse(ctx, headers, &usecase.Error{Code: usecase.ErrorValidation, Reason: "invalid_body_encoding", Err: err}), nil
		}
		body = decoded
	}

	turn, err := decodeChatRequest(body)
	if err != nil {
		return h.errorResponse(ctx, headers, err), nil
	}

	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	out, err := h.replier.Reply(ctx, usecase.ReplyInput{Messages: turn, RequestID: correlationID})
	if err != nil {
		return h.errorResponse(ctx, headers, err), nil
	}
	return jsonResponse(http.StatusOK, headers, chatResponse{Reply: out.Reply, RequestID: out.RequestID}), nil
}

// routeFor maps a request path onto "/" or "/chat". An empty path is the root.
func routeFor(path string) (string, bool) {
	switch strings.TrimSuffix(path, "/") {
	case "":
		return "/", true
	case "/chat":
		return "/chat", true
	default:
		return "", false
	}
}

func (h *Handler) errorResponse(ctx context.Context, headers map[string]string, err error) events.APIGatewayProxyResponse {
	code := usecase.CodeOf(err)
	status := statusForCode(code)
	body := errorResponse{Error: string(code)}

	var uerr *usecase.Error
	if errors.As(err, &uerr) {
		body.Reason = uerr.Reason
		if code != usecase.ErrorInternal {
			body.Detail = uerr.Detail
		}
	}

	logger := zerolog.Ctx(ctx)
	ev := logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = logger.Error()
	}
	ev.Err(err).Int("status", status).Str("code", string(code)).Msg("request failed")

	return jsonResponse(status, headers, body)
}

func statusForCode(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorValidation:
		return http.StatusBadRequest
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorJobTimeout:
		return http.StatusGatewayTimeout
	case usecase.ErrorRemoteUnavailable, usecase.ErrorJobFailed, usecase.ErrorUnsupportedJobState,
		usecase.ErrorEmptyResult, usecase.ErrorMalformedResult:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) corsHeaders(origin string) map[string]string {
	headers := map[string]string{
		"Access-Control-Allow-Methods":  "GET, POST, OPTIONS",
		"Access-Control-Allow-Headers":  "Content-Type, " + correlationHeader,
		"Access-Control-Expose-Headers": correlationHeader,
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" {
			headers["Access-Control-Allow-Origin"] = "*"
			return headers
		}
		if origin != "" && strings.EqualFold(allowed, origin) {
			headers["Access-Control-Allow-Origin"] = origin
			headers["Vary"] = "Origin"
			return headers
		}
	}
	return headers
}

func jsonResponse(status int, headers map[string]string, v any) events.APIGatewayProxyResponse {
	headers["Content-Type"] = "application/json"
	body, err := json.Marshal(v)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    headers,
			Body:       `{"error":"INTERNAL_ERROR"}`,
		}
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: string(body)}
}

// headerValue looks up name case-insensitively; API Gateway preserves client casing.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
