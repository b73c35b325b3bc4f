package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/user/crawlbridge/internal/bridge"
)

func TestMetricStore_Insert(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewMetricStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO operation_metrics").
		WithArgs("embedding", "job-1", "https://example.com/page", int64(120), true, "", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.Insert(context.Background(), bridge.OperationMetric{
		Operation:     bridge.OpEmbedding,
		CorrelationID: "job-1",
		DocumentURL:   "https://example.com/page",
		DurationMs:    120,
		Success:       true,
		Timestamp:     now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMetricStore_Insert_UntiedMetricStoresNull(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewMetricStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO operation_metrics").
		WithArgs("webhook_dispatch", nil, "", int64(5), false, "bad payload", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.Insert(context.Background(), bridge.OperationMetric{
		Operation:    bridge.OpWebhookDispatch,
		DurationMs:   5,
		ErrorMessage: "bad payload",
		Timestamp:    now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMetricStore_SumByOperation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewMetricStore(mock)

	rows := pgxmock.NewRows([]string{"operation_type", "sum"}).
		AddRow("embedding", int64(2000)).
		AddRow("chunking", int64(150))
	mock.ExpectQuery("SELECT operation_type, COALESCE").
		WithArgs("job-1").
		WillReturnRows(rows)

	sums, err := store.SumByOperation(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, int64(2000), sums[bridge.OpEmbedding])
	require.Equal(t, int64(150), sums[bridge.OpChunking])
}

func TestMetricStore_ListByCorrelation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewMetricStore(mock)
	now := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"operation_type", "correlation_id", "document_url", "duration_ms", "success", "error_message", "ts",
	}).AddRow("vector_write", "job-1", "https://example.com/a", int64(30), false, "sink down", now)
	mock.ExpectQuery("SELECT operation_type, COALESCE").
		WithArgs("job-1", 50, 0).
		WillReturnRows(rows)

	metrics, err := store.ListByCorrelation(context.Background(), "job-1", 50, 0)
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	require.Equal(t, bridge.OpVectorWrite, metrics[0].Operation)
	require.Equal(t, "sink down", metrics[0].ErrorMessage)
}
