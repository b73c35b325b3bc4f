// Package bridge defines core types shared across subsystems.
package bridge

import (
	"time"
)

// SessionStatus represents the lifecycle state of a crawl session.
type SessionStatus string

// Session status values persisted in the session store. Transitions are
// monotonic: pending -> running -> completed | failed.
const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Terminal reports whether no further transition is permitted.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// OperationType classifies the logical operation a session performs.
type OperationType string

// Operation types assigned by the upstream engine.
const (
	OperationScrape OperationType = "scrape"
	OperationBatch  OperationType = "batch"
	OperationCrawl  OperationType = "crawl"
	OperationMap    OperationType = "map"
	OperationSearch OperationType = "search"
)

// ValidOperationType reports whether t is one of the known operation types.
func ValidOperationType(t OperationType) bool {
	switch t {
	case OperationScrape, OperationBatch, OperationCrawl, OperationMap, OperationSearch:
		return true
	}
	return false
}

// CrawlSession is the metadata persisted for one logical crawl/scrape/batch
// operation, keyed by the engine-assigned job id.
type CrawlSession struct {
	JobID         string        `json:"job_id"`
	OperationType OperationType `json:"operation_type"`
	BaseURL       string        `json:"base_url"`
	Status        SessionStatus `json:"status"`
	Success       bool          `json:"success"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	TotalURLs     int           `json:"total_urls"`
	CompletedURLs int           `json:"completed_urls"`
	FailedURLs    int           `json:"failed_urls"`
	AutoIndex     bool          `json:"auto_index"`
	Timings       StageTimings  `json:"timings"`
}

// StageTimings holds per-operation duration sums in milliseconds,
// aggregated over all pages of a session at terminal time.
type StageTimings struct {
	ChunkingMs  int64 `json:"chunking_ms"`
	EmbeddingMs int64 `json:"embedding_ms"`
	VectorMs    int64 `json:"vector_write_ms"`
	KeywordMs   int64 `json:"keyword_write_ms"`
}

// ContentSource tags which event type produced a content row.
type ContentSource string

// Content sources recorded on scraped_content rows.
const (
	SourceCrawlPage    ContentSource = "crawl_page"
	SourceScrapeResult ContentSource = "scrape_result"
	SourceBatchResult  ContentSource = "batch_result"
)

// Document is one scraped page as delivered by a webhook event.
type Document struct {
	URL       string            `json:"url"`
	SourceURL string            `json:"source_url,omitempty"`
	Source    ContentSource     `json:"content_source"`
	Markdown  string            `json:"markdown,omitempty"`
	HTML      string            `json:"html,omitempty"`
	Links     []string          `json:"links,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ScrapedContent is one persisted row, unique per
// (session, url, content hash) triple.
type ScrapedContent struct {
	ID          string            `json:"id"`
	SessionID   string            `json:"session_id"`
	URL         string            `json:"url"`
	SourceURL   string            `json:"source_url,omitempty"`
	Source      ContentSource     `json:"content_source"`
	Markdown    string            `json:"markdown,omitempty"`
	HTML        string            `json:"html,omitempty"`
	Links       []string          `json:"links,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ContentHash string            `json:"content_hash"`
	ScrapedAt   time.Time         `json:"scraped_at"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// MetricOperation names a timed operation. The set is open: stores accept
// values beyond the constants below.
type MetricOperation string

// Operation names recorded by the timing recorder.
const (
	OpChunking        MetricOperation = "chunking"
	OpEmbedding       MetricOperation = "embedding"
	OpVectorWrite     MetricOperation = "vector_write"
	OpKeywordWrite    MetricOperation = "keyword_write"
	OpContentStorage  MetricOperation = "content_storage"
	OpWebhookDispatch MetricOperation = "webhook_dispatch"
)

// OperationMetric is one timed operation instance. CorrelationID is the
// owning job id, or empty when the operation is untied to a session.
type OperationMetric struct {
	Operation     MetricOperation `json:"operation_type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	DocumentURL   string          `json:"document_url,omitempty"`
	DurationMs    int64           `json:"duration_ms"`
	Success       bool            `json:"success"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// IndexJob is one unit of indexing work queued per stored page.
type IndexJob struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	URL       string        `json:"url"`
	Content   string        `json:"content"`
	Source    ContentSource `json:"content_source"`
	Attempt   int           `json:"attempt"`
}

// Chunk is one bounded-size segment of a document's content.
type Chunk struct {
	Index  int
	Text   string
	Tokens int
}

// VectorRecord is one embedded chunk ready for the vector sink.
type VectorRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	URL       string    `json:"url"`
	Chunk     int       `json:"chunk"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
}

// KeywordHit is one match returned by a keyword sink query.
type KeywordHit struct {
	DocID string  `json:"doc_id"`
	URL   string  `json:"url"`
	Score float64 `json:"score"`
}
