package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"golang.org/x/time/rate"

	"chat-relay/internal/usecase"
)

// HTTPObserver counts served responses.
type HTTPObserver interface {
	ObserveHTTP(route string, status int)
}

type HTTPOption func(*httpServer)

// WithRateLimit admits at most rps requests per second on /chat with the given
// burst. Non-positive rps disables admission control.
func WithRateLimit(rps float64, burst int) HTTPOption {
	return func(s *httpServer) {
		if rps > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) HTTPOption {
	return func(s *httpServer) {
		s.metrics = h
	}
}

func WithHTTPObserver(o HTTPObserver) HTTPOption {
	return func(s *httpServer) {
		s.observer = o
	}
}

type httpServer struct {
	h        *Handler
	limiter  *rate.Limiter
	metrics  http.Handler
	observer HTTPObserver
}

// NewHTTPHandler exposes h over net/http for serve mode. Requests are
// translated into proxy events so both runtimes share one code path.
func NewHTTPHandler(h *Handler, opts ...HTTPOption) http.Handler {
	s := &httpServer{h: h}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	mux.HandleFunc("/chat", s.serveChat)
	mux.HandleFunc("/", s.serveRoot)
	return mux
}

func (s *httpServer) serveRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.observe("other", http.StatusNotFound)
		http.NotFound(w, r)
		return
	}
	if r.Method == http.MethodPost {
		s.serveChat(w, r)
		return
	}
	s.forward(w, r, "/", nil)
}

func (s *httpServer) serveChat(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost && s.limiter != nil && !s.limiter.Allow() {
		s.reject(w, r, &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "admission_limit"})
		return
	}

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			reason := "unreadable_body"
			if errors.As(err, &tooLarge) {
				reason = "body_too_large"
			}
			s.reject(w, r, &usecase.Error{Code: usecase.ErrorValidation, Reason: reason, Err: err})
			return
		}
	}
	s.forward(w, r, "/chat", body)
}

func (s *httpServer) forward(w http.ResponseWriter, r *http.Request, route string, body []byte) {
	resp, _ := s.h.Handle(r.Context(), toProxyRequest(r, body))
	s.observe(route, resp.StatusCode)
	writeProxyResponse(w, resp)
}

func (s *httpServer) reject(w http.ResponseWriter, r *http.Request, err error) {
	headers := s.h.corsHeaders(r.Header.Get("Origin"))
	id := r.Header.Get(correlationHeader)
	if id == "" {
		id = s.h.newID()
	}
	headers[correlationHeader] = id
	ctx := s.h.logger.With().Str("correlation_id", id).Logger().WithContext(r.Context())
	resp := s.h.errorResponse(ctx, headers, err)
	s.observe("/chat", resp.StatusCode)
	writeProxyResponse(w, resp)
}

func (s *httpServer) observe(route string, status int) {
	if s.observer != nil {
		s.observer.ObserveHTTP(route, status)
	}
}

func toProxyRequest(r *http.Request, body []byte) events.APIGatewayProxyRequest {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	return events.APIGatewayProxyRequest{
		HTTPMethod: r.Method,
		Path:       r.URL.Path,
		Headers:    headers,
		Body:       string(body),
	}
}

func writeProxyResponse(w http.ResponseWriter, resp events.APIGatewayProxyResponse) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, resp.Body)
}
