package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/crawlbridge/internal/bridge"
	"github.com/user/crawlbridge/internal/metrics"
	"github.com/user/crawlbridge/internal/timing"
)

const defaultStageTimeout = 30 * time.Second

// SessionNotifier receives page-level outcomes for session bookkeeping.
type SessionNotifier interface {
	// OnIndexFailure reports that a page's indexing exhausted its
	// attempts, flipping the page's delivery-time completed count to
	// failed.
	OnIndexFailure(ctx context.Context, jobID string) error
}

// PoolConfig tunes the worker pool.
type PoolConfig struct {
	Workers      int
	MaxAttempts  int
	StageTimeout time.Duration
}

// Pool consumes index jobs from the queue and runs each through the
// chunk, embed, vector-write, and keyword-write stages. Every stage is
// timed against the job's session.
type Pool struct {
	queue    bridge.Queue
	chunker  *Chunker
	embedder bridge.Embedder
	vectors  bridge.VectorSink
	keywords bridge.KeywordSink
	recorder *timing.Recorder
	sessions SessionNotifier
	logger   *zap.Logger
	cfg      PoolConfig
}

// NewPool wires a worker pool over the given queue and sinks.
func NewPool(
	queue bridge.Queue,
	chunker *Chunker,
	embedder bridge.Embedder,
	vectors bridge.VectorSink,
	keywords bridge.KeywordSink,
	recorder *timing.Recorder,
	sessions SessionNotifier,
	logger *zap.Logger,
	cfg PoolConfig,
) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = defaultStageTimeout
	}
	return &Pool{
		queue:    queue,
		chunker:  chunker,
		embedder: embedder,
		vectors:  vectors,
		keywords: keywords,
		recorder: recorder,
		sessions: sessions,
		logger:   logger,
		cfg:      cfg,
	}
}

// Run starts the workers and blocks until the context ends or the
// queue closes.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error {
			return p.worker(ctx)
		})
	}
	return g.Wait()
}

func (p *Pool) worker(ctx context.Context) error {
	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, bridge.ErrQueueClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("dequeue index job: %w", err)
		}
		metrics.WorkerStarted()
		p.process(ctx, job)
		metrics.WorkerDone()
	}
}

func (p *Pool) process(ctx context.Context, job bridge.IndexJob) {
	err := p.index(ctx, job)
	if err == nil {
		metrics.IncIndexJob(metrics.JobCompleted)
		if ackErr := p.queue.Complete(ctx, job, nil); ackErr != nil {
			p.logger.Error("acknowledge index job",
				zap.String("job_id", job.ID),
				zap.Error(ackErr))
		}
		return
	}

	p.logger.Warn("index job attempt failed",
		zap.String("job_id", job.ID),
		zap.String("session_id", job.SessionID),
		zap.String("url", job.URL),
		zap.Int("attempt", job.Attempt),
		zap.Error(err))
	if ackErr := p.queue.Complete(ctx, job, err); ackErr != nil {
		p.logger.Error("requeue index job",
			zap.String("job_id", job.ID),
			zap.Error(ackErr))
	}
	if job.Attempt < p.cfg.MaxAttempts {
		metrics.IncIndexJob(metrics.JobRetried)
	} else {
		metrics.IncIndexJob(metrics.JobFailed)
	}
	if job.Attempt >= p.cfg.MaxAttempts {
		p.logger.Error("index job exhausted attempts",
			zap.String("job_id", job.ID),
			zap.String("session_id", job.SessionID),
			zap.String("url", job.URL))
		if nErr := p.sessions.OnIndexFailure(ctx, job.SessionID); nErr != nil {
			p.logger.Error("record page failure",
				zap.String("session_id", job.SessionID),
				zap.Error(nErr))
		}
	}
}

func (p *Pool) index(ctx context.Context, job bridge.IndexJob) error {
	var chunks []bridge.Chunk
	err := p.stage(ctx, bridge.OpChunking, job, func(context.Context) error {
		chunks = p.chunker.Split(job.Content)
		return nil
	})
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	var embeddings [][]float32
	err = p.stage(ctx, bridge.OpEmbedding, job, func(sctx context.Context) error {
		var embErr error
		embeddings, embErr = p.embedder.Embed(sctx, texts)
		return embErr
	})
	if err != nil {
		return err
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(embeddings), len(chunks))
	}

	records := make([]bridge.VectorRecord, len(chunks))
	for i, ch := range chunks {
		records[i] = bridge.VectorRecord{
			ID:        fmt.Sprintf("%s:%d", job.ID, ch.Index),
			SessionID: job.SessionID,
			URL:       job.URL,
			Chunk:     ch.Index,
			Text:      ch.Text,
			Embedding: embeddings[i],
		}
	}
	err = p.stage(ctx, bridge.OpVectorWrite, job, func(sctx context.Context) error {
		return p.vectors.Upsert(sctx, records)
	})
	if err != nil {
		return err
	}

	return p.stage(ctx, bridge.OpKeywordWrite, job, func(sctx context.Context) error {
		return p.keywords.Upsert(sctx, job.ID, job.URL, job.Content)
	})
}

func (p *Pool) stage(ctx context.Context, op bridge.MetricOperation, job bridge.IndexJob, fn func(context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()
	span := p.recorder.Start(op, job.SessionID, job.URL)
	start := time.Now()
	err := fn(sctx)
	span.End(err)
	metrics.ObserveIndexStage(string(op), time.Since(start))
	if err != nil {
		return fmt.Errorf("%s stage: %w", op, err)
	}
	return nil
}
