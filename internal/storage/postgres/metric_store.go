package postgres

import (
	"context"
	"fmt"

	"github.com/user/crawlbridge/internal/bridge"
)

// MetricStore implements bridge.MetricStore on Postgres. Rows are
// append-only; correlation_id is a soft reference cleared on session
// delete so historical metrics survive.
type MetricStore struct {
	pool Pool
}

// NewMetricStore wires an existing pool.
func NewMetricStore(pool Pool) *MetricStore {
	return &MetricStore{pool: pool}
}

// Insert appends one operation metric.
func (s *MetricStore) Insert(ctx context.Context, metric bridge.OperationMetric) error {
	query := `
		INSERT INTO operation_metrics
			(operation_type, correlation_id, document_url, duration_ms, success, error_message, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`
	_, err := s.pool.Exec(ctx, query,
		string(metric.Operation),
		nullIfEmpty(metric.CorrelationID),
		metric.DocumentURL,
		metric.DurationMs,
		metric.Success,
		metric.ErrorMessage,
		metric.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert metric: %w", err)
	}
	return nil
}

// SumByOperation sums duration_ms per operation type for one correlation id.
func (s *MetricStore) SumByOperation(
	ctx context.Context,
	correlationID string,
) (map[bridge.MetricOperation]int64, error) {
	query := `
		SELECT operation_type, COALESCE(SUM(duration_ms), 0)
		FROM operation_metrics
		WHERE correlation_id = $1
		GROUP BY operation_type;
	`
	rows, err := s.pool.Query(ctx, query, correlationID)
	if err != nil {
		return nil, fmt.Errorf("sum metrics: %w", err)
	}
	defer rows.Close()

	sums := make(map[bridge.MetricOperation]int64)
	for rows.Next() {
		var (
			op  string
			sum int64
		)
		if err := rows.Scan(&op, &sum); err != nil {
			return nil, fmt.Errorf("scan metric sum: %w", err)
		}
		sums[bridge.MetricOperation(op)] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metric sums: %w", err)
	}
	return sums, nil
}

// ListByCorrelation returns a session's metrics, oldest first.
func (s *MetricStore) ListByCorrelation(
	ctx context.Context,
	correlationID string,
	limit, offset int,
) ([]bridge.OperationMetric, error) {
	query := `
		SELECT operation_type, COALESCE(correlation_id, ''), document_url,
			duration_ms, success, error_message, ts
		FROM operation_metrics
		WHERE correlation_id = $1
		ORDER BY ts ASC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, correlationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	var out []bridge.OperationMetric
	for rows.Next() {
		var (
			m  bridge.OperationMetric
			op string
		)
		err := rows.Scan(
			&op,
			&m.CorrelationID,
			&m.DocumentURL,
			&m.DurationMs,
			&m.Success,
			&m.ErrorMessage,
			&m.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan metric row: %w", err)
		}
		m.Operation = bridge.MetricOperation(op)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metric rows: %w", err)
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
