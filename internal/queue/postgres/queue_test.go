package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/user/crawlbridge/internal/bridge"
	"github.com/user/crawlbridge/internal/id/uuid"
)

func TestQueue_Enqueue(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	q := NewQueue(mock, uuid.New(), Config{MaxAttempts: 3})

	mock.ExpectExec("INSERT INTO index_jobs").
		WithArgs("j1", "job-1", "https://example.com/a", "# Content", "crawl_page", 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = q.Enqueue(context.Background(), bridge.IndexJob{
		ID:        "j1",
		SessionID: "job-1",
		URL:       "https://example.com/a",
		Content:   "# Content",
		Source:    bridge.SourceCrawlPage,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_DequeueClaimsOldestPending(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	q := NewQueue(mock, uuid.New(), Config{MaxAttempts: 3, PollInterval: 10 * time.Millisecond})

	rows := pgxmock.NewRows([]string{"id", "session_id", "url", "content", "content_source", "attempts"}).
		AddRow("j1", "job-1", "https://example.com/a", "# Content", "crawl_page", 1)
	mock.ExpectQuery("UPDATE index_jobs").WillReturnRows(rows)

	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "j1", job.ID)
	require.Equal(t, 1, job.Attempt)
	require.Equal(t, bridge.SourceCrawlPage, job.Source)
}

func TestQueue_CompleteSuccessDeletes(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	q := NewQueue(mock, uuid.New(), Config{MaxAttempts: 3})

	mock.ExpectExec("DELETE FROM index_jobs").
		WithArgs("j1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, q.Complete(context.Background(), bridge.IndexJob{ID: "j1", Attempt: 1}, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_CompleteFailureRequeuesThenParks(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	q := NewQueue(mock, uuid.New(), Config{MaxAttempts: 2})
	stageErr := errors.New("embed failed")

	mock.ExpectExec("UPDATE index_jobs SET status = 'pending'").
		WithArgs("j1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, q.Complete(context.Background(), bridge.IndexJob{ID: "j1", Attempt: 1}, stageErr))

	mock.ExpectExec("UPDATE index_jobs SET status = 'failed'").
		WithArgs("j1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, q.Complete(context.Background(), bridge.IndexJob{ID: "j1", Attempt: 2}, stageErr))

	require.NoError(t, mock.ExpectationsWereMet())
}
