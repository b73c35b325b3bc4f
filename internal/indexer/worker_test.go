package indexer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/crawlbridge/internal/bridge"
	"github.com/user/crawlbridge/internal/clock/system"
	qmemory "github.com/user/crawlbridge/internal/queue/memory"
	"github.com/user/crawlbridge/internal/registry"
	"github.com/user/crawlbridge/internal/sinks/keyword"
	smemory "github.com/user/crawlbridge/internal/sinks/memory"
	"github.com/user/crawlbridge/internal/storage/memory"
	"github.com/user/crawlbridge/internal/timing"
)

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding backend unavailable")
}

func (failingEmbedder) Dimension() int { return 8 }

type staticEmbedder struct{ dim int }

func (e staticEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, e.dim)
		vec[0] = 1
		out[i] = vec
	}
	return out, nil
}

func (e staticEmbedder) Dimension() int { return e.dim }

type poolFixture struct {
	pool     *Pool
	queue    *qmemory.Queue
	metrics  *memory.MetricStore
	sessions *memory.SessionStore
	registry *registry.Registry
	vectors  *smemory.VectorSink
	keywords *keyword.Index
}

func newPoolFixture(t *testing.T, embedder bridge.Embedder, cfg PoolConfig) *poolFixture {
	t.Helper()

	clk := system.New()
	metrics := memory.NewMetricStore()
	sessions := memory.NewSessionStore()
	reg := registry.New(sessions, metrics, clk, registry.Config{}, zap.NewNop())
	queue := qmemory.NewQueue(16, cfg.MaxAttempts)
	vectors := smemory.NewVectorSink()
	keywords := keyword.NewIndex()
	pool := NewPool(
		queue,
		NewChunker(32),
		embedder,
		vectors,
		keywords,
		timing.NewRecorder(metrics, clk, zap.NewNop()),
		reg,
		zap.NewNop(),
		cfg,
	)
	return &poolFixture{
		pool:     pool,
		queue:    queue,
		metrics:  metrics,
		sessions: sessions,
		registry: reg,
		vectors:  vectors,
		keywords: keywords,
	}
}

func runPool(t *testing.T, f *poolFixture) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.pool.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("pool did not stop")
		}
	})
	return cancel
}

func TestPool_IndexesJobThroughAllStages(t *testing.T) {
	t.Parallel()

	f := newPoolFixture(t, staticEmbedder{dim: 8}, PoolConfig{Workers: 2, MaxAttempts: 3})
	runPool(t, f)

	job := bridge.IndexJob{
		ID:        "job-1-page-1",
		SessionID: "job-1",
		URL:       "https://example.com/docs",
		Content:   "goroutines and channels make concurrent pipelines straightforward",
		Source:    bridge.SourceCrawlPage,
	}
	require.NoError(t, f.queue.Enqueue(context.Background(), job))

	require.Eventually(t, func() bool {
		return len(f.metrics.All()) >= 4
	}, 5*time.Second, 10*time.Millisecond)

	ops := make(map[bridge.MetricOperation]bridge.OperationMetric)
	for _, m := range f.metrics.All() {
		ops[m.Operation] = m
	}
	for _, op := range []bridge.MetricOperation{
		bridge.OpChunking, bridge.OpEmbedding, bridge.OpVectorWrite, bridge.OpKeywordWrite,
	} {
		m, ok := ops[op]
		require.True(t, ok, "missing %s metric", op)
		require.True(t, m.Success)
		require.Equal(t, "job-1", m.CorrelationID)
		require.Equal(t, job.URL, m.DocumentURL)
	}

	rec, err := f.vectors.Get(context.Background(), "job-1-page-1:0")
	require.NoError(t, err)
	require.Equal(t, "job-1", rec.SessionID)

	hits, err := f.keywords.Search(context.Background(), "goroutines", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, job.ID, hits[0].DocID)
}

func TestPool_EmptyContentIsSuccess(t *testing.T) {
	t.Parallel()

	f := newPoolFixture(t, staticEmbedder{dim: 8}, PoolConfig{Workers: 1, MaxAttempts: 3})
	runPool(t, f)

	job := bridge.IndexJob{ID: "j1", SessionID: "s1", URL: "u1", Content: "   "}
	require.NoError(t, f.queue.Enqueue(context.Background(), job))

	require.Eventually(t, func() bool {
		return len(f.metrics.All()) >= 1
	}, 5*time.Second, 10*time.Millisecond)

	all := f.metrics.All()
	require.Len(t, all, 1)
	require.Equal(t, bridge.OpChunking, all[0].Operation)
	require.True(t, all[0].Success)
	require.Equal(t, 0, f.vectors.Len())
}

func TestPool_ExhaustedRetriesRecordPageFailure(t *testing.T) {
	t.Parallel()

	f := newPoolFixture(t, failingEmbedder{}, PoolConfig{Workers: 1, MaxAttempts: 2})
	require.NoError(t, f.registry.OnStarted(
		context.Background(), "job-9", bridge.OperationCrawl, "https://example.com", 1, true, time.Now(),
	))
	runPool(t, f)

	job := bridge.IndexJob{
		ID:        "job-9-page-1",
		SessionID: "job-9",
		URL:       "https://example.com/a",
		Content:   "content that will fail to embed",
	}
	require.NoError(t, f.queue.Enqueue(context.Background(), job))

	require.Eventually(t, func() bool {
		session, err := f.registry.Get(context.Background(), "job-9")
		return err == nil && session.FailedURLs == 1
	}, 5*time.Second, 10*time.Millisecond)

	var failed int
	for _, m := range f.metrics.All() {
		if m.Operation == bridge.OpEmbedding && !m.Success {
			failed++
		}
	}
	require.Equal(t, 2, failed)
}

func TestPool_IndexFailureConvertsDeliveredPage(t *testing.T) {
	t.Parallel()

	f := newPoolFixture(t, failingEmbedder{}, PoolConfig{Workers: 1, MaxAttempts: 1})
	ctx := context.Background()
	require.NoError(t, f.registry.OnStarted(
		ctx, "job-10", bridge.OperationCrawl, "https://example.com", 2, true, time.Now(),
	))
	// Delivery bookkeeping counts every delivered page completed; the
	// index failure must flip one to failed even with the counters at
	// the session total.
	require.NoError(t, f.registry.OnPage(ctx, "job-10", true))
	require.NoError(t, f.registry.OnPage(ctx, "job-10", true))
	runPool(t, f)

	job := bridge.IndexJob{
		ID:        "job-10-page-1",
		SessionID: "job-10",
		URL:       "https://example.com/a",
		Content:   "content that will fail to embed",
	}
	require.NoError(t, f.queue.Enqueue(ctx, job))

	require.Eventually(t, func() bool {
		session, err := f.registry.Get(ctx, "job-10")
		return err == nil && session.FailedURLs == 1 && session.CompletedURLs == 1
	}, 5*time.Second, 10*time.Millisecond)
}
