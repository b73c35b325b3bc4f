// Package timing records the duration and outcome of named operations.
package timing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/user/crawlbridge/internal/bridge"
)

// Write failures must never break the operation being observed, so the
// metric write gets its own detached context and a short budget.
const defaultWriteTimeout = 5 * time.Second

// Recorder opens timing spans and persists one OperationMetric per span.
type Recorder struct {
	store        bridge.MetricStore
	clock        bridge.Clock
	logger       *zap.Logger
	writeTimeout time.Duration
}

// NewRecorder wires the metric store, clock and logger.
func NewRecorder(store bridge.MetricStore, clock bridge.Clock, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:        store,
		clock:        clock,
		logger:       logger,
		writeTimeout: defaultWriteTimeout,
	}
}

// Span is one in-flight timed operation. End must be called exactly once.
type Span struct {
	recorder      *Recorder
	operation     bridge.MetricOperation
	correlationID string
	documentURL   string
	started       time.Time
	ended         bool
}

// Start opens a span for the named operation. correlationID is the owning
// job id (empty when untied); documentURL tags page-scoped operations.
func (r *Recorder) Start(op bridge.MetricOperation, correlationID, documentURL string) *Span {
	return &Span{
		recorder:      r,
		operation:     op,
		correlationID: correlationID,
		documentURL:   documentURL,
		started:       r.clock.Now(),
	}
}

// End closes the span and writes the metric. A nil err marks the operation
// successful. End never returns an error: a failed metric write is logged
// and swallowed.
func (s *Span) End(err error) {
	if s == nil || s.ended {
		return
	}
	s.ended = true

	now := s.recorder.clock.Now()
	metric := bridge.OperationMetric{
		Operation:     s.operation,
		CorrelationID: s.correlationID,
		DocumentURL:   s.documentURL,
		DurationMs:    now.Sub(s.started).Milliseconds(),
		Success:       err == nil,
		Timestamp:     now,
	}
	if err != nil {
		metric.ErrorMessage = err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.recorder.writeTimeout)
	defer cancel()
	if writeErr := s.recorder.store.Insert(ctx, metric); writeErr != nil {
		s.recorder.logger.Warn("metric write failed",
			zap.String("operation", string(s.operation)),
			zap.String("correlation_id", s.correlationID),
			zap.Error(writeErr),
		)
	}
}
