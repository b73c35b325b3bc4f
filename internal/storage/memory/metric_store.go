package memory

import (
	"context"
	"sync"

	"github.com/user/crawlbridge/internal/bridge"
)

// MetricStore keeps operation metrics in memory, append-only.
type MetricStore struct {
	mu      sync.RWMutex
	metrics []bridge.OperationMetric
}

// NewMetricStore constructs a MetricStore.
func NewMetricStore() *MetricStore {
	return &MetricStore{}
}

// Insert appends a metric row.
func (s *MetricStore) Insert(_ context.Context, metric bridge.OperationMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, metric)
	return nil
}

// SumByOperation sums duration_ms per operation type for one correlation id.
func (s *MetricStore) SumByOperation(
	_ context.Context,
	correlationID string,
) (map[bridge.MetricOperation]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sums := make(map[bridge.MetricOperation]int64)
	for _, m := range s.metrics {
		if m.CorrelationID == correlationID {
			sums[m.Operation] += m.DurationMs
		}
	}
	return sums, nil
}

// ListByCorrelation returns a session's metrics in insertion order.
func (s *MetricStore) ListByCorrelation(
	_ context.Context,
	correlationID string,
	limit, offset int,
) ([]bridge.OperationMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []bridge.OperationMetric
	for _, m := range s.metrics {
		if m.CorrelationID == correlationID {
			matched = append(matched, m)
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// All returns a copy of every recorded metric (test helper).
func (s *MetricStore) All() []bridge.OperationMetric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bridge.OperationMetric, len(s.metrics))
	copy(out, s.metrics)
	return out
}
