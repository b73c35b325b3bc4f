// Package registry owns the crawl session state machine and its
// aggregate metrics. Every handler tolerates duplicate and out-of-order
// webhook deliveries: mutations are idempotent and commutative.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/user/crawlbridge/internal/bridge"
)

// Config holds the terminal-status policy knobs.
type Config struct {
	// FailureRatio marks an otherwise-successful session failed when
	// failed_urls/total exceeds it. 1.0 disables the policy.
	FailureRatio float64
}

// Registry is the single writer for crawl_sessions rows.
type Registry struct {
	sessions bridge.SessionStore
	metrics  bridge.MetricStore
	clock    bridge.Clock
	logger   *zap.Logger
	cfg      Config
}

// New wires the session store, metric store and clock.
func New(
	sessions bridge.SessionStore,
	metrics bridge.MetricStore,
	clock bridge.Clock,
	cfg Config,
	logger *zap.Logger,
) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = 1
	}
	return &Registry{
		sessions: sessions,
		metrics:  metrics,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
	}
}

// OnStarted handles a lifecycle-started event. Duplicate start events for
// the same job id are a no-op.
func (r *Registry) OnStarted(
	ctx context.Context,
	jobID string,
	opType bridge.OperationType,
	baseURL string,
	totalURLs int,
	autoIndex bool,
	startedAt time.Time,
) error {
	if jobID == "" {
		return errors.New("job id is required")
	}
	if startedAt.IsZero() {
		startedAt = r.clock.Now()
	}
	session := bridge.CrawlSession{
		JobID:         jobID,
		OperationType: opType,
		BaseURL:       baseURL,
		Status:        bridge.SessionRunning,
		StartedAt:     startedAt,
		TotalURLs:     totalURLs,
		AutoIndex:     autoIndex,
	}
	if err := r.sessions.CreateIfAbsent(ctx, session); err != nil {
		return fmt.Errorf("register session start: %w", err)
	}
	return nil
}

// OnPage increments the completed or failed counter for one page. When
// the session does not exist yet (page event delivered before the start
// event), it is created in running state first.
func (r *Registry) OnPage(ctx context.Context, jobID string, success bool) error {
	if jobID == "" {
		return errors.New("job id is required")
	}
	err := r.sessions.IncrementPage(ctx, jobID, success)
	if !errors.Is(err, bridge.ErrNotFound) {
		return err
	}
	if err := r.ensureRunning(ctx, jobID); err != nil {
		return err
	}
	if err := r.sessions.IncrementPage(ctx, jobID, success); err != nil {
		return fmt.Errorf("increment page after create: %w", err)
	}
	return nil
}

// OnIndexFailure records that indexing gave up on one delivered page.
// Pages are counted completed when the webhook delivers them, so the
// failure converts a completed page to failed rather than adding a new
// count. When no completed page has landed yet (the delivery bookkeeping
// runs detached), the failure is recorded as a plain failed increment.
func (r *Registry) OnIndexFailure(ctx context.Context, jobID string) error {
	if jobID == "" {
		return errors.New("job id is required")
	}
	converted, err := r.sessions.ConvertPageToFailed(ctx, jobID)
	if err != nil && !errors.Is(err, bridge.ErrNotFound) {
		return fmt.Errorf("convert page to failed: %w", err)
	}
	if converted {
		return nil
	}
	return r.OnPage(ctx, jobID, false)
}

// OnTerminal finalizes the session and rolls up stage timings from the
// operation metrics sharing its correlation id. Duplicate terminal events
// are a no-op; the rollup runs only on the first one.
func (r *Registry) OnTerminal(ctx context.Context, jobID string, success bool, completedAt time.Time) error {
	if jobID == "" {
		return errors.New("job id is required")
	}
	if completedAt.IsZero() {
		completedAt = r.clock.Now()
	}

	session, err := r.sessions.Get(ctx, jobID)
	if errors.Is(err, bridge.ErrNotFound) {
		// Terminal-before-start race: materialize the session so the
		// outcome is not lost.
		if err := r.ensureRunning(ctx, jobID); err != nil {
			return err
		}
		session, err = r.sessions.Get(ctx, jobID)
	}
	if err != nil {
		return fmt.Errorf("load session for terminal event: %w", err)
	}

	status, outcome := r.finalStatus(session, success)
	changed, err := r.sessions.Finalize(ctx, jobID, status, outcome, completedAt)
	if err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}
	if !changed {
		return nil
	}

	sums, err := r.metrics.SumByOperation(ctx, jobID)
	if err != nil {
		// The terminal transition already committed; losing the rollup is
		// recoverable, losing the transition is not.
		r.logger.Error("timing rollup failed",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
		return nil
	}
	timings := bridge.StageTimings{
		ChunkingMs:  sums[bridge.OpChunking],
		EmbeddingMs: sums[bridge.OpEmbedding],
		VectorMs:    sums[bridge.OpVectorWrite],
		KeywordMs:   sums[bridge.OpKeywordWrite],
	}
	if err := r.sessions.SetTimings(ctx, jobID, timings); err != nil {
		r.logger.Error("store timing rollup failed",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
	}
	return nil
}

// Get loads a session or returns bridge.ErrNotFound.
func (r *Registry) Get(ctx context.Context, jobID string) (bridge.CrawlSession, error) {
	return r.sessions.Get(ctx, jobID)
}

func (r *Registry) ensureRunning(ctx context.Context, jobID string) error {
	session := bridge.CrawlSession{
		JobID:     jobID,
		Status:    bridge.SessionRunning,
		StartedAt: r.clock.Now(),
		AutoIndex: true,
	}
	if err := r.sessions.CreateIfAbsent(ctx, session); err != nil {
		return fmt.Errorf("create session for out-of-order event: %w", err)
	}
	return nil
}

// finalStatus applies the failure-ratio policy: an engine-reported
// success still counts as failed when too many pages failed.
func (r *Registry) finalStatus(session bridge.CrawlSession, success bool) (bridge.SessionStatus, bool) {
	if !success {
		return bridge.SessionFailed, false
	}
	total := session.TotalURLs
	if total == 0 {
		total = session.CompletedURLs + session.FailedURLs
	}
	if total > 0 && float64(session.FailedURLs)/float64(total) > r.cfg.FailureRatio {
		r.logger.Warn("session exceeded failure ratio",
			zap.String("job_id", session.JobID),
			zap.Int("failed_urls", session.FailedURLs),
			zap.Int("total_urls", total),
		)
		return bridge.SessionFailed, false
	}
	return bridge.SessionCompleted, true
}
