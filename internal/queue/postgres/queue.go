// Package postgres provides the durable index job queue backed by the
// shared relational store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/user/crawlbridge/internal/bridge"
	storepg "github.com/user/crawlbridge/internal/storage/postgres"
)

// Config sizes queue behavior.
type Config struct {
	// PollInterval is the wait between claim attempts when the table is
	// empty.
	PollInterval time.Duration
	// MaxAttempts caps retries before a job is marked failed.
	MaxAttempts int
}

// Queue persists index jobs in the index_jobs table. Claims use
// FOR UPDATE SKIP LOCKED so concurrent workers never double-process a
// job.
type Queue struct {
	db    storepg.Pool
	idGen bridge.IDGenerator
	cfg   Config
}

// NewQueue wires the pool and id generator.
func NewQueue(db storepg.Pool, idGen bridge.IDGenerator, cfg Config) *Queue {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Queue{db: db, idGen: idGen, cfg: cfg}
}

// Enqueue inserts a pending job. The insert is the only synchronous
// dependency of the webhook path, so it stays a single statement.
func (q *Queue) Enqueue(ctx context.Context, job bridge.IndexJob) error {
	if job.ID == "" {
		id, err := q.idGen.NewID()
		if err != nil {
			return fmt.Errorf("generate job id: %w", err)
		}
		job.ID = id
	}
	query := `
		INSERT INTO index_jobs (id, session_id, url, content, content_source, attempts, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := q.db.Exec(ctx, query,
		job.ID,
		job.SessionID,
		job.URL,
		job.Content,
		string(job.Source),
		job.Attempt,
	)
	if err != nil {
		return fmt.Errorf("enqueue index job: %w", err)
	}
	return nil
}

// Dequeue claims the oldest pending job, blocking on a poll ticker until
// one is available or the context ends.
func (q *Queue) Dequeue(ctx context.Context) (bridge.IndexJob, error) {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()
	for {
		job, err := q.claim(ctx)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return bridge.IndexJob{}, err
		}
		select {
		case <-ctx.Done():
			return bridge.IndexJob{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (q *Queue) claim(ctx context.Context) (bridge.IndexJob, error) {
	query := `
		UPDATE index_jobs
		SET status = 'processing', attempts = attempts + 1
		WHERE id = (
			SELECT id FROM index_jobs
			WHERE status = 'pending'
			ORDER BY enqueued_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, session_id, url, content, content_source, attempts;
	`
	var (
		job    bridge.IndexJob
		source string
	)
	err := q.db.QueryRow(ctx, query).Scan(
		&job.ID,
		&job.SessionID,
		&job.URL,
		&job.Content,
		&source,
		&job.Attempt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return bridge.IndexJob{}, pgx.ErrNoRows
		}
		return bridge.IndexJob{}, fmt.Errorf("claim index job: %w", err)
	}
	job.Source = bridge.ContentSource(source)
	return job, nil
}

// Complete acknowledges a claimed job: success deletes the row, failure
// requeues it until the attempt cap and then parks it as failed for
// operator inspection.
func (q *Queue) Complete(ctx context.Context, job bridge.IndexJob, jobErr error) error {
	if jobErr == nil {
		if _, err := q.db.Exec(ctx, `DELETE FROM index_jobs WHERE id = $1;`, job.ID); err != nil {
			return fmt.Errorf("delete completed job: %w", err)
		}
		return nil
	}
	if job.Attempt < q.cfg.MaxAttempts {
		if _, err := q.db.Exec(ctx,
			`UPDATE index_jobs SET status = 'pending' WHERE id = $1;`, job.ID,
		); err != nil {
			return fmt.Errorf("requeue failed job: %w", err)
		}
		return nil
	}
	if _, err := q.db.Exec(ctx,
		`UPDATE index_jobs SET status = 'failed' WHERE id = $1;`, job.ID,
	); err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}
