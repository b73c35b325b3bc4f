package ingress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/crawlbridge/internal/bridge"
	"github.com/user/crawlbridge/internal/clock/system"
	"github.com/user/crawlbridge/internal/content"
	"github.com/user/crawlbridge/internal/hash/sha256"
	"github.com/user/crawlbridge/internal/id/uuid"
	qmemory "github.com/user/crawlbridge/internal/queue/memory"
	"github.com/user/crawlbridge/internal/registry"
	"github.com/user/crawlbridge/internal/storage/memory"
	"github.com/user/crawlbridge/internal/timing"
)

var testSecret = []byte("test-webhook-secret")

type handlerFixture struct {
	handler  *Handler
	queue    *qmemory.Queue
	sessions *memory.SessionStore
	contents *memory.ContentStore
	metrics  *memory.MetricStore
	registry *registry.Registry
}

// slowSaver delays every save to prove the response path never waits
// on content persistence.
type slowSaver struct {
	inner ContentSaver
	delay time.Duration
}

func (s *slowSaver) Save(ctx context.Context, sessionID string, docs []bridge.Document) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.inner.Save(ctx, sessionID, docs)
}

func newHandlerFixture(t *testing.T, wrap func(ContentSaver) ContentSaver) *handlerFixture {
	t.Helper()

	clk := system.New()
	sessions := memory.NewSessionStore()
	contents := memory.NewContentStore()
	metricStore := memory.NewMetricStore()
	recorder := timing.NewRecorder(metricStore, clk, zap.NewNop())
	reg := registry.New(sessions, metricStore, clk, registry.Config{}, zap.NewNop())
	saver := ContentSaver(content.NewStore(contents, sha256.New(), uuid.New(), clk, recorder, zap.NewNop()))
	if wrap != nil {
		saver = wrap(saver)
	}
	queue := qmemory.NewQueue(64, 3)
	h := NewHandler(reg, saver, queue, uuid.New(), recorder, zap.NewNop(), Config{
		Secret:          testSecret,
		DispatchTimeout: 10 * time.Second,
	})
	return &handlerFixture{
		handler:  h,
		queue:    queue,
		sessions: sessions,
		contents: contents,
		metrics:  metricStore,
		registry: reg,
	}
}

func deliver(t *testing.T, h *Handler, body string, sign bool) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/crawl", strings.NewReader(body))
	if sign {
		req.Header.Set(SignatureHeader, Sign(testSecret, []byte(body)))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_RejectsBadSignature(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	body := `{"type":"crawl.started","id":"job-1"}`

	rec := deliver(t, f.handler, body, false)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/crawl", strings.NewReader(body))
	req.Header.Set(SignatureHeader, Sign([]byte("wrong-secret"), []byte(body)))
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	f.handler.Wait()
	_, err := f.registry.Get(context.Background(), "job-1")
	require.ErrorIs(t, err, bridge.ErrNotFound)
	require.Empty(t, f.metrics.All())
}

func TestHandler_RejectsMalformedPayload(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	rec := deliver(t, f.handler, `{"type":"crawl.started"}`, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	f.handler.Wait()
	require.Empty(t, f.metrics.All())
}

func TestHandler_StartedCreatesSession(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	body := `{"type":"crawl.started","id":"job-1","base_url":"https://example.com","total_urls":3}`

	rec := deliver(t, f.handler, body, true)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		JobID    string `json:"job_id"`
		Accepted bool   `json:"accepted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "job-1", resp.JobID)
	require.True(t, resp.Accepted)

	f.handler.Wait()
	session, err := f.registry.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, bridge.SessionRunning, session.Status)
	require.Equal(t, 3, session.TotalURLs)

	// Duplicate start is absorbed.
	rec = deliver(t, f.handler, body, true)
	require.Equal(t, http.StatusAccepted, rec.Code)
	f.handler.Wait()
	again, err := f.registry.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, session.StartedAt, again.StartedAt)
}

func TestHandler_PageStoresContentAndEnqueues(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	deliver(t, f.handler, `{"type":"crawl.started","id":"job-1","total_urls":2}`, true)

	body := `{"type":"crawl.page","id":"job-1","data":[{"url":"https://example.com/a","markdown":"# A"}]}`
	rec := deliver(t, f.handler, body, true)
	require.Equal(t, http.StatusAccepted, rec.Code)

	f.handler.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "job-1", job.SessionID)
	require.Equal(t, "https://example.com/a", job.URL)
	require.Equal(t, "# A", job.Content)

	rows, err := f.contents.ListByURL(context.Background(), "https://example.com/a", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	session, err := f.registry.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, 1, session.CompletedURLs)
}

func TestHandler_PageBeforeStartCreatesRunningSession(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	body := `{"type":"crawl.page","id":"job-7","data":[{"url":"https://example.com/x","markdown":"x"}]}`
	rec := deliver(t, f.handler, body, true)
	require.Equal(t, http.StatusAccepted, rec.Code)

	f.handler.Wait()
	session, err := f.registry.Get(context.Background(), "job-7")
	require.NoError(t, err)
	require.Equal(t, bridge.SessionRunning, session.Status)
	require.Equal(t, 1, session.CompletedURLs)
}

func TestHandler_FailedPageCountsFailedAndSkipsEnqueue(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	deliver(t, f.handler, `{"type":"crawl.started","id":"job-1","total_urls":2}`, true)
	f.handler.Wait()

	body := `{"type":"crawl.page","id":"job-1","success":false,"error":"fetch timed out","data":[{"url":"https://example.com/a"}]}`
	rec := deliver(t, f.handler, body, true)
	require.Equal(t, http.StatusAccepted, rec.Code)

	f.handler.Wait()
	session, err := f.registry.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, 0, session.CompletedURLs)
	require.Equal(t, 1, session.FailedURLs)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = f.queue.Dequeue(ctx)
	require.Error(t, err)
}

func TestHandler_AutoIndexOffSkipsEnqueue(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	deliver(t, f.handler, `{"type":"crawl.started","id":"job-1","auto_index":false}`, true)
	f.handler.Wait()

	deliver(t, f.handler, `{"type":"crawl.page","id":"job-1","data":[{"url":"https://example.com/a","markdown":"a"}]}`, true)
	f.handler.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := f.queue.Dequeue(ctx)
	require.Error(t, err)

	rows, err := f.contents.ListByURL(context.Background(), "https://example.com/a", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestHandler_TerminalFinalizesOnce(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	deliver(t, f.handler, `{"type":"crawl.started","id":"job-1"}`, true)
	f.handler.Wait()

	body := `{"type":"crawl.completed","id":"job-1","success":true,"timestamp":"2026-08-30T12:00:00Z"}`
	deliver(t, f.handler, body, true)
	f.handler.Wait()

	session, err := f.registry.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, bridge.SessionCompleted, session.Status)
	require.NotNil(t, session.CompletedAt)
	first := *session.CompletedAt

	deliver(t, f.handler, body, true)
	f.handler.Wait()
	session, err = f.registry.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, first, *session.CompletedAt)
}

func TestHandler_ResponseNotDelayedBySlowStorage(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, func(inner ContentSaver) ContentSaver {
		return &slowSaver{inner: inner, delay: 2 * time.Second}
	})

	body := `{"type":"crawl.page","id":"job-1","data":[{"url":"https://example.com/slow","markdown":"slow"}]}`
	start := time.Now()
	rec := deliver(t, f.handler, body, true)
	elapsed := time.Since(start)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Less(t, elapsed, time.Second)
	f.handler.Wait()
}

func TestHandler_ConcurrentDuplicatePageDeliveries(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, nil)
	deliver(t, f.handler, `{"type":"crawl.started","id":"job-1"}`, true)
	f.handler.Wait()

	body := `{"type":"crawl.page","id":"job-1","data":[{"url":"https://example.com/dup","markdown":"same content"}]}`
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := deliver(t, f.handler, body, true)
			require.Equal(t, http.StatusAccepted, rec.Code)
		}()
	}
	wg.Wait()
	f.handler.Wait()

	rows, err := f.contents.ListByURL(context.Background(), "https://example.com/dup", 100)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
