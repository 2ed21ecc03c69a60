package telemetry

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONWithLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", "json")
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Str("request_id", "r1").Msg("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "visible", entry["message"])
	require.Equal(t, "warn", entry["level"])
	require.Equal(t, "r1", entry["request_id"])
	require.Equal(t, "chat-relay", entry["service"])
}

func TestNewLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "", "console")
	require.NoError(t, err)
	logger.Info().Msg("hello")
	require.Contains(t, buf.String(), "hello")
	require.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestNewLogger_BadLevel(t *testing.T) {
	_, err := NewLogger(io.Discard, "loud", "")
	require.Error(t, err)
}

func TestMetrics_ObserveReply(t *testing.T) {
	m := NewMetrics()
	m.ObserveReply("thread", "ok", 3, 120*time.Millisecond)
	m.ObserveReply("thread", "JOB_TIMEOUT", 30, 30*time.Second)
	m.ObserveReply("completion", "ok", 0, time.Second)

	require.Equal(t, 1.0, testutil.ToFloat64(m.replies.WithLabelValues("thread", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.replies.WithLabelValues("thread", "JOB_TIMEOUT")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.replies.WithLabelValues("completion", "ok")))
	require.Equal(t, 2, testutil.CollectAndCount(m.replySeconds))

	// completion mode does not poll
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var samples uint64
	for _, f := range families {
		if f.GetName() == "chat_relay_job_poll_attempts" {
			samples = f.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	require.Equal(t, uint64(2), samples)
}

func TestMetrics_ObserveCleanup(t *testing.T) {
	m := NewMetrics()
	m.ObserveCleanup(true)
	m.ObserveCleanup(false)
	m.ObserveCleanup(false)
	require.Equal(t, 1.0, testutil.ToFloat64(m.cleanups.WithLabelValues("ok")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.cleanups.WithLabelValues("failed")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ObserveHTTP("/chat", http.StatusOK)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `chat_relay_http_requests_total{code="200",route="/chat"} 1`)
}
