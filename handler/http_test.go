package handler

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"chat-relay/internal/usecase"
)

type fakeObserver struct {
	seen []string
}

func (f *fakeObserver) ObserveHTTP(route string, status int) {
	f.seen = append(f.seen, route+" "+http.StatusText(status))
}

func newTestServer(t *testing.T, r Replier, opts ...HTTPOption) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHTTPHandler(mustHandler(t, r), opts...))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestHTTP_ChatRoundTrip(t *testing.T) {
	r := &stubReplier{out: usecase.ReplyOutput{Reply: "Namaste"}}
	obs := &fakeObserver{}
	srv := newTestServer(t, r, WithHTTPObserver(obs))

	resp := post(t, srv.URL+"/chat", `{"messages":[{"role":"user","content":"Hello"}]}`, map[string]string{correlationHeader: "corr-http"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "corr-http", resp.Header.Get(correlationHeader))
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	out := parseBody[chatResponse](t, readBody(t, resp))
	require.Equal(t, "Namaste", out.Reply)
	require.Equal(t, "corr-http", r.in.RequestID)
	require.Equal(t, []string{"/chat OK"}, obs.seen)
}

func TestHTTP_PostRootIsChat(t *testing.T) {
	r := &stubReplier{out: usecase.ReplyOutput{Reply: "ok"}}
	srv := newTestServer(t, r)

	resp := post(t, srv.URL+"/", `{"message":"Hello"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, r.calls)
}

func TestHTTP_HealthAndNotFound(t *testing.T) {
	srv := newTestServer(t, &stubReplier{})

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, readBody(t, resp), "running")

	resp2, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestHTTP_GetChatIsNotHealth(t *testing.T) {
	srv := newTestServer(t, &stubReplier{})

	resp, err := http.Get(srv.URL + "/chat")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHTTP_BodyTooLarge(t *testing.T) {
	r := &stubReplier{}
	h := NewHTTPHandler(mustHandler(t, r))

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"`+strings.Repeat("a", maxBodyBytes+10)+`"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	out := parseBody[errorResponse](t, rec.Body.String())
	require.Equal(t, "body_too_large", out.Reason)
	require.NotEmpty(t, rec.Header().Get(correlationHeader))
	require.Zero(t, r.calls)
}

func TestHTTP_RateLimit(t *testing.T) {
	r := &stubReplier{out: usecase.ReplyOutput{Reply: "ok"}}
	srv := newTestServer(t, r, WithRateLimit(0.001, 1))

	first := post(t, srv.URL+"/chat", `{"message":"Hello"}`, nil)
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := post(t, srv.URL+"/chat", `{"message":"Hello"}`, nil)
	require.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	out := parseBody[errorResponse](t, readBody(t, second))
	require.Equal(t, string(usecase.ErrorRateLimited), out.Error)
	require.Equal(t, "admission_limit", out.Reason)
	require.Equal(t, 1, r.calls)
}

func TestHTTP_RateLimitDisabled(t *testing.T) {
	r := &stubReplier{out: usecase.ReplyOutput{Reply: "ok"}}
	srv := newTestServer(t, r, WithRateLimit(0, 0))
	for i := 0; i < 5; i++ {
		resp := post(t, srv.URL+"/chat", `{"message":"Hello"}`, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestHTTP_MetricsMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "metric_total 1\n")
	})
	srv := newTestServer(t, &stubReplier{}, WithMetricsHandler(metrics))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "metric_total 1\n", readBody(t, resp))
}
