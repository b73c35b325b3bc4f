package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/user/crawlbridge/internal/bridge"
)

// SessionStore implements bridge.SessionStore on Postgres. All mutations
// are expressed as conflict-free or guarded statements so duplicate and
// out-of-order webhook deliveries never race at the application level.
type SessionStore struct {
	pool Pool
}

// NewSessionStore wires an existing pool.
func NewSessionStore(pool Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// CreateIfAbsent inserts the session, ignoring the write when the job id
// already exists.
func (s *SessionStore) CreateIfAbsent(ctx context.Context, session bridge.CrawlSession) error {
	query := `
		INSERT INTO crawl_sessions
			(job_id, operation_type, base_url, status, started_at, total_urls, auto_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id) DO NOTHING;
	`
	_, err := s.pool.Exec(ctx, query,
		session.JobID,
		string(session.OperationType),
		session.BaseURL,
		string(session.Status),
		session.StartedAt,
		session.TotalURLs,
		session.AutoIndex,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// IncrementPage bumps the completed or failed counter.
func (s *SessionStore) IncrementPage(ctx context.Context, jobID string, success bool) error {
	// The guard keeps completed+failed within total_urls when the total
	// is known; duplicate deliveries past the cap become no-ops.
	query := `
		UPDATE crawl_sessions
		SET completed_urls = completed_urls + 1
		WHERE job_id = $1 AND (total_urls <= 0 OR completed_urls + failed_urls < total_urls);
	`
	if !success {
		query = `
		UPDATE crawl_sessions
		SET failed_urls = failed_urls + 1
		WHERE job_id = $1 AND (total_urls <= 0 OR completed_urls + failed_urls < total_urls);
	`
	}
	tag, err := s.pool.Exec(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("increment page counter: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM crawl_sessions WHERE job_id = $1);`, jobID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check session existence: %w", err)
	}
	if !exists {
		return bridge.ErrNotFound
	}
	return nil
}

// ConvertPageToFailed flips one completed page to failed. The guard
// requires a completed page to take from, so the sum of the counters
// never moves.
func (s *SessionStore) ConvertPageToFailed(ctx context.Context, jobID string) (bool, error) {
	query := `
		UPDATE crawl_sessions
		SET completed_urls = completed_urls - 1, failed_urls = failed_urls + 1
		WHERE job_id = $1 AND completed_urls > 0;
	`
	tag, err := s.pool.Exec(ctx, query, jobID)
	if err != nil {
		return false, fmt.Errorf("convert page to failed: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM crawl_sessions WHERE job_id = $1);`, jobID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check session existence: %w", err)
	}
	if !exists {
		return false, bridge.ErrNotFound
	}
	return false, nil
}

// Finalize records the terminal status exactly once. The status guard in
// the WHERE clause makes duplicate terminal events a database-level no-op.
func (s *SessionStore) Finalize(
	ctx context.Context,
	jobID string,
	status bridge.SessionStatus,
	success bool,
	completedAt time.Time,
) (bool, error) {
	query := `
		UPDATE crawl_sessions
		SET status = $2, success = $3, completed_at = $4
		WHERE job_id = $1 AND status IN ('pending', 'running');
	`
	tag, err := s.pool.Exec(ctx, query, jobID, string(status), success, completedAt)
	if err != nil {
		return false, fmt.Errorf("finalize session: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM crawl_sessions WHERE job_id = $1);`, jobID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check session existence: %w", err)
	}
	if !exists {
		return false, bridge.ErrNotFound
	}
	return false, nil
}

// SetTimings writes the aggregate stage timing columns.
func (s *SessionStore) SetTimings(ctx context.Context, jobID string, timings bridge.StageTimings) error {
	query := `
		UPDATE crawl_sessions
		SET chunking_ms = $2, embedding_ms = $3, vector_write_ms = $4, keyword_write_ms = $5
		WHERE job_id = $1;
	`
	tag, err := s.pool.Exec(ctx, query,
		jobID,
		timings.ChunkingMs,
		timings.EmbeddingMs,
		timings.VectorMs,
		timings.KeywordMs,
	)
	if err != nil {
		return fmt.Errorf("set session timings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return bridge.ErrNotFound
	}
	return nil
}

// Get loads a session or returns bridge.ErrNotFound.
func (s *SessionStore) Get(ctx context.Context, jobID string) (bridge.CrawlSession, error) {
	query := `
		SELECT job_id, operation_type, base_url, status, success, started_at, completed_at,
			total_urls, completed_urls, failed_urls, auto_index,
			chunking_ms, embedding_ms, vector_write_ms, keyword_write_ms
		FROM crawl_sessions
		WHERE job_id = $1;
	`
	var (
		session   bridge.CrawlSession
		opType    string
		status    string
		completed *time.Time
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&session.JobID,
		&opType,
		&session.BaseURL,
		&status,
		&session.Success,
		&session.StartedAt,
		&completed,
		&session.TotalURLs,
		&session.CompletedURLs,
		&session.FailedURLs,
		&session.AutoIndex,
		&session.Timings.ChunkingMs,
		&session.Timings.EmbeddingMs,
		&session.Timings.VectorMs,
		&session.Timings.KeywordMs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return bridge.CrawlSession{}, bridge.ErrNotFound
		}
		return bridge.CrawlSession{}, fmt.Errorf("get session: %w", err)
	}
	session.OperationType = bridge.OperationType(opType)
	session.Status = bridge.SessionStatus(status)
	session.CompletedAt = completed
	return session, nil
}
