package http

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logtide/logtide/internal/event"
	"github.com/logtide/logtide/internal/metrics"
	"github.com/logtide/logtide/internal/queue"
	"github.com/logtide/logtide/internal/ratelimit"
	"github.com/logtide/logtide/internal/sanitize"
)

type testEnv struct {
	queue   *queue.Queue
	metrics *metrics.Metrics
	router  http.Handler
}

func newTestEnv(t *testing.T, limiterCapacity int64) *testEnv {
	t.Helper()

	q := queue.New(16)
	t.Cleanup(q.Close)
	m := metrics.New()

	limiter, err := ratelimit.NewLimiter(10*time.Second, limiterCapacity, ratelimit.DefaultMaxKeys)
	require.NoError(t, err)

	h := NewIngestHandler(sanitize.New(), q, m, zerolog.Nop())
	return &testEnv{
		queue:   q,
		metrics: m,
		router:  NewRouter(h, limiter, m, zerolog.Nop(), RouterOptions{MaxBodyBytes: 1 << 20}),
	}
}

func ingestBody(t *testing.T, events []*event.Event) *bytes.Buffer {
	t.Helper()
	data, err := json.Marshal(events)
	require.NoError(t, err)
	return bytes.NewBuffer(data)
}

func validEvent(msg string) *event.Event {
	return &event.Event{
		Level:     event.LevelError,
		Message:   msg,
		Timestamp: "2026-08-31T10:00:00Z",
		Service:   "checkout",
	}
}

func postIngest(env *testEnv, body *bytes.Buffer) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/ingest", body)
	req.RemoteAddr = "203.0.113.7:4242"
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) event.APIResponse {
	t.Helper()
	var resp event.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestIngest_ValidBatch(t *testing.T) {
	env := newTestEnv(t, 100)

	rec := postIngest(env, ingestBody(t, []*event.Event{
		validEvent("checkout failed"),
		validEvent("retry failed"),
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, event.StatusSuccess, resp.Status)
	assert.Contains(t, resp.Message, "queued 2 events")

	select {
	case b := <-env.queue.Batches():
		require.Equal(t, 2, b.Len())
		assert.NotEmpty(t, b.Events[0].ID, "queued events must carry assigned ids")
	default:
		t.Fatal("batch never reached the queue")
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.EventsAccepted))
}

func TestIngest_RedactsBeforeQueueing(t *testing.T) {
	env := newTestEnv(t, 100)

	rec := postIngest(env, ingestBody(t, []*event.Event{
		validEvent("user jane@example.com hit an error"),
	}))
	require.Equal(t, http.StatusOK, rec.Code)

	b := <-env.queue.Batches()
	assert.Equal(t, "user  hit an error", b.Events[0].Message)
}

func TestIngest_MalformedBody(t *testing.T) {
	env := newTestEnv(t, 100)

	rec := postIngest(env, bytes.NewBufferString("{not json"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, event.StatusFailed, decodeResponse(t, rec).Status)
}

func TestIngest_EmptyBatch(t *testing.T) {
	env := newTestEnv(t, 100)

	rec := postIngest(env, bytes.NewBufferString("[]"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, event.StatusFailed, decodeResponse(t, rec).Status)
}

func TestIngest_AllEventsInvalid(t *testing.T) {
	env := newTestEnv(t, 100)

	bad := validEvent("")
	rec := postIngest(env, ingestBody(t, []*event.Event{bad}))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, event.StatusFailed, decodeResponse(t, rec).Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.EventsRejected))
	assert.Equal(t, 0, env.queue.Len())
}

func TestIngest_PartialBatch(t *testing.T) {
	env := newTestEnv(t, 100)

	rec := postIngest(env, ingestBody(t, []*event.Event{
		validEvent("good"),
		validEvent(""), // invalid: empty message
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Contains(t, resp.Message, "queued 1 events")
	assert.Contains(t, resp.Message, "dropped 1")

	b := <-env.queue.Batches()
	require.Equal(t, 1, b.Len())
}

func TestIngest_QueueClosed(t *testing.T) {
	env := newTestEnv(t, 100)
	env.queue.Close()

	rec := postIngest(env, ingestBody(t, []*event.Event{validEvent("late")}))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, event.StatusError, decodeResponse(t, rec).Status)
}

func TestIngest_RateLimited(t *testing.T) {
	env := newTestEnv(t, 1)

	first := postIngest(env, ingestBody(t, []*event.Event{validEvent("a")}))
	require.Equal(t, http.StatusOK, first.Code)

	second := postIngest(env, ingestBody(t, []*event.Event{validEvent("b")}))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, event.StatusError, decodeResponse(t, second).Status)

	secs, err := strconv.Atoi(second.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, secs, 1)
	assert.LessOrEqual(t, secs, 10)

	assert.Equal(t, "1", second.Header().Get("RateLimit-Limit"))
	assert.Equal(t, "0", second.Header().Get("RateLimit-Remaining"))
	assert.Equal(t, second.Header().Get("Retry-After"), second.Header().Get("RateLimit-Reset"))
	assert.Equal(t, "1;w=10", second.Header().Get("RateLimit-Policy"))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.RateLimited))
}

func TestIngest_RateLimitKeyedByClient(t *testing.T) {
	env := newTestEnv(t, 1)

	a := httptest.NewRequest(http.MethodPost, "/ingest", ingestBody(t, []*event.Event{validEvent("a")}))
	a.RemoteAddr = "203.0.113.7:1111"
	recA := httptest.NewRecorder()
	env.router.ServeHTTP(recA, a)
	require.Equal(t, http.StatusOK, recA.Code)

	// A different client has its own bucket.
	b := httptest.NewRequest(http.MethodPost, "/ingest", ingestBody(t, []*event.Event{validEvent("b")}))
	b.RemoteAddr = "203.0.113.8:2222"
	recB := httptest.NewRecorder()
	env.router.ServeHTTP(recB, b)
	assert.Equal(t, http.StatusOK, recB.Code)
}

func TestIngest_GzipBody(t *testing.T) {
	env := newTestEnv(t, 100)

	raw, err := json.Marshal([]*event.Event{validEvent("compressed")})
	require.NoError(t, err)
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err = zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	req := httptest.NewRequest(http.MethodPost, "/ingest", &buf)
	req.RemoteAddr = "203.0.113.7:4242"
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	b := <-env.queue.Batches()
	assert.Equal(t, "compressed", b.Events[0].Message)
}

func TestIngest_BadGzipBody(t *testing.T) {
	env := newTestEnv(t, 100)

	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBufferString("not gzip"))
	req.RemoteAddr = "203.0.113.7:4242"
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngest_BodyTooLarge(t *testing.T) {
	q := queue.New(1)
	t.Cleanup(q.Close)
	m := metrics.New()
	limiter, err := ratelimit.NewLimiter(time.Second, 100, ratelimit.DefaultMaxKeys)
	require.NoError(t, err)
	h := NewIngestHandler(sanitize.New(), q, m, zerolog.Nop())
	router := NewRouter(h, limiter, m, zerolog.Nop(), RouterOptions{MaxBodyBytes: 64})

	big := validEvent(strings.Repeat("x", 1024))
	req := httptest.NewRequest(http.MethodPost, "/ingest", ingestBody(t, []*event.Event{big}))
	req.RemoteAddr = "203.0.113.7:4242"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, 100)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, event.StatusSuccess, decodeResponse(t, rec).Status)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, 100)
	env.metrics.BatchesQueued.Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "logtide_batches_queued_total")
}

func TestRequestIDEchoed(t *testing.T) {
	env := newTestEnv(t, 100)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		name   string
		remote string
		xff    string
		real   string
		want   string
	}{
		{"socket peer", "198.51.100.2:9000", "", "", "198.51.100.2"},
		{"forwarded single", "10.0.0.1:80", "203.0.113.9", "", "203.0.113.9"},
		{"forwarded chain", "10.0.0.1:80", "203.0.113.9, 10.0.0.1", "", "203.0.113.9"},
		{"real ip", "10.0.0.1:80", "", "203.0.113.10", "203.0.113.10"},
		{"nothing", "", "", "", "unknown"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.real != "" {
				req.Header.Set("X-Real-IP", tc.real)
			}
			assert.Equal(t, tc.want, clientIP(req))
		})
	}
}
