package timing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/crawlbridge/internal/bridge"
	"github.com/user/crawlbridge/internal/storage/memory"
)

type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func TestRecorder_SuccessMetric(t *testing.T) {
	t.Parallel()

	store := memory.NewMetricStore()
	clock := &stepClock{now: time.Unix(1000, 0), step: 250 * time.Millisecond}
	rec := NewRecorder(store, clock, zap.NewNop())

	span := rec.Start(bridge.OpEmbedding, "job-1", "https://example.com/a")
	span.End(nil)

	metrics := store.All()
	require.Len(t, metrics, 1)
	m := metrics[0]
	require.Equal(t, bridge.OpEmbedding, m.Operation)
	require.Equal(t, "job-1", m.CorrelationID)
	require.Equal(t, "https://example.com/a", m.DocumentURL)
	require.Equal(t, int64(250), m.DurationMs)
	require.True(t, m.Success)
	require.Empty(t, m.ErrorMessage)
}

func TestRecorder_FailureCapturesError(t *testing.T) {
	t.Parallel()

	store := memory.NewMetricStore()
	clock := &stepClock{now: time.Unix(1000, 0), step: time.Millisecond}
	rec := NewRecorder(store, clock, zap.NewNop())

	span := rec.Start(bridge.OpVectorWrite, "job-1", "")
	span.End(errors.New("sink unavailable"))

	metrics := store.All()
	require.Len(t, metrics, 1)
	require.False(t, metrics[0].Success)
	require.Equal(t, "sink unavailable", metrics[0].ErrorMessage)
}

type failingMetricStore struct{}

func (failingMetricStore) Insert(context.Context, bridge.OperationMetric) error {
	return errors.New("insert failed")
}

func (failingMetricStore) SumByOperation(context.Context, string) (map[bridge.MetricOperation]int64, error) {
	return nil, nil
}

func (failingMetricStore) ListByCorrelation(context.Context, string, int, int) ([]bridge.OperationMetric, error) {
	return nil, nil
}

func TestRecorder_SwallowsWriteFailure(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Unix(1000, 0), step: time.Millisecond}
	rec := NewRecorder(failingMetricStore{}, clock, zap.NewNop())

	span := rec.Start(bridge.OpContentStorage, "job-1", "")
	require.NotPanics(t, func() { span.End(nil) })
}

func TestRecorder_EndIsIdempotent(t *testing.T) {
	t.Parallel()

	store := memory.NewMetricStore()
	clock := &stepClock{now: time.Unix(1000, 0), step: time.Millisecond}
	rec := NewRecorder(store, clock, zap.NewNop())

	span := rec.Start(bridge.OpChunking, "job-1", "")
	span.End(nil)
	span.End(nil)

	require.Len(t, store.All(), 1)
}
