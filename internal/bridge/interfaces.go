package bridge

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrQueueClosed signals the index queue no longer accepts work.
var ErrQueueClosed = errors.New("queue closed")

// SessionStore persists crawl session rows. All mutations must be
// idempotent: duplicate and out-of-order webhook deliveries are expected.
type SessionStore interface {
	// CreateIfAbsent inserts the session, or is a no-op when a row with
	// the same job id already exists.
	CreateIfAbsent(ctx context.Context, session CrawlSession) error
	// IncrementPage bumps the completed or failed counter.
	IncrementPage(ctx context.Context, jobID string, success bool) error
	// ConvertPageToFailed moves one page from the completed to the failed
	// counter. It returns false without error when no completed page is
	// available to convert, and ErrNotFound when the session is absent.
	ConvertPageToFailed(ctx context.Context, jobID string) (bool, error)
	// Finalize records the terminal status exactly once. It returns false
	// without error when the session is already terminal.
	Finalize(ctx context.Context, jobID string, status SessionStatus, success bool, completedAt time.Time) (bool, error)
	// SetTimings writes the aggregate stage timings computed at terminal time.
	SetTimings(ctx context.Context, jobID string, timings StageTimings) error
	// Get loads a session or returns ErrNotFound.
	Get(ctx context.Context, jobID string) (CrawlSession, error)
}

// ContentRepository persists scraped content rows.
type ContentRepository interface {
	// InsertIfAbsent performs a conflict-free insert on
	// (session_id, url, content_hash). It returns true when a row was
	// created and false when the triple already existed.
	InsertIfAbsent(ctx context.Context, content ScrapedContent) (bool, error)
	// ListByURL returns rows for a URL across sessions, newest first.
	ListByURL(ctx context.Context, url string, limit int) ([]ScrapedContent, error)
	// ListBySession returns a session's rows in chronological order.
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]ScrapedContent, error)
}

// MetricStore persists operation metrics and serves rollup reads.
type MetricStore interface {
	Insert(ctx context.Context, metric OperationMetric) error
	// SumByOperation sums duration_ms per operation type for one correlation id.
	SumByOperation(ctx context.Context, correlationID string) (map[MetricOperation]int64, error)
	// ListByCorrelation returns a session's metrics, oldest first.
	ListByCorrelation(ctx context.Context, correlationID string, limit, offset int) ([]OperationMetric, error)
}

// Queue provides durable enqueue/dequeue semantics for index jobs.
type Queue interface {
	Enqueue(ctx context.Context, job IndexJob) error
	Dequeue(ctx context.Context) (IndexJob, error)
	// Complete acknowledges a dequeued job. A non-nil jobErr marks the
	// attempt failed; implementations may requeue up to their retry cap.
	Complete(ctx context.Context, job IndexJob, jobErr error) error
}

// Embedder converts chunk text into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// VectorSink is the opaque vector store written by the indexing pipeline.
type VectorSink interface {
	Upsert(ctx context.Context, records []VectorRecord) error
	Get(ctx context.Context, id string) (VectorRecord, error)
}

// KeywordSink is the opaque keyword index written by the indexing pipeline.
type KeywordSink interface {
	Upsert(ctx context.Context, docID, url, content string) error
	Search(ctx context.Context, query string, limit int) ([]KeywordHit, error)
}

// Hasher computes digests for content deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces surrogate row and job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
