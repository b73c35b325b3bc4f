package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/crawlbridge/internal/bridge"
	"github.com/user/crawlbridge/internal/metrics"
	"github.com/user/crawlbridge/internal/timing"
)

const maxBodyBytes = 10 << 20

// SessionRegistry is the session state machine surface the ingress
// dispatches lifecycle and page events to.
type SessionRegistry interface {
	OnStarted(ctx context.Context, jobID string, opType bridge.OperationType, baseURL string, totalURLs int, autoIndex bool, startedAt time.Time) error
	OnPage(ctx context.Context, jobID string, success bool) error
	OnTerminal(ctx context.Context, jobID string, success bool, completedAt time.Time) error
	Get(ctx context.Context, jobID string) (bridge.CrawlSession, error)
}

// ContentSaver persists page documents.
type ContentSaver interface {
	Save(ctx context.Context, sessionID string, docs []bridge.Document) error
}

// Config holds the ingress settings.
type Config struct {
	// Secret signs every webhook body.
	Secret []byte
	// DispatchTimeout bounds each detached background dispatch.
	DispatchTimeout time.Duration
}

// Handler terminates the webhook endpoint. It verifies the delivery
// signature before any parsing, validates the envelope, and fans out to
// the registry, content store, and indexing queue. Only signature
// verification and the durable enqueue happen on the response path;
// everything else is dispatched to detached background tasks so the
// response stays inside the sender's deadline.
type Handler struct {
	sessions SessionRegistry
	content  ContentSaver
	queue    bridge.Queue
	idGen    bridge.IDGenerator
	recorder *timing.Recorder
	logger   *zap.Logger
	cfg      Config

	wg sync.WaitGroup
}

// NewHandler wires the ingress dependencies.
func NewHandler(
	sessions SessionRegistry,
	content ContentSaver,
	queue bridge.Queue,
	idGen bridge.IDGenerator,
	recorder *timing.Recorder,
	logger *zap.Logger,
	cfg Config,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}
	return &Handler{
		sessions: sessions,
		content:  content,
		queue:    queue,
		idGen:    idGen,
		recorder: recorder,
		logger:   logger,
		cfg:      cfg,
	}
}

// ServeHTTP handles one webhook delivery.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if !VerifySignature(h.cfg.Secret, body, r.Header.Get(SignatureHeader)) {
		metrics.IncSignatureFailure()
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	evt, err := ParseEvent(body)
	if err != nil {
		metrics.ObserveWebhookEvent("unknown", metrics.OutcomeInvalid)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	span := h.recorder.Start(bridge.OpWebhookDispatch, evt.JobID, "")
	err = h.dispatch(r.Context(), evt)
	span.End(err)
	if err != nil {
		metrics.ObserveWebhookEvent(string(evt.Kind), metrics.OutcomeRejected)
		h.logger.Error("webhook dispatch failed",
			zap.String("job_id", evt.JobID),
			zap.String("kind", string(evt.Kind)),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}

	metrics.ObserveWebhookEvent(string(evt.Kind), metrics.OutcomeAccepted)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   evt.JobID,
		"accepted": true,
	})
}

// dispatch performs the synchronous part of event handling and hands
// the rest to detached tasks. Its error is the enqueue outcome only.
func (h *Handler) dispatch(ctx context.Context, evt Event) error {
	switch evt.Kind {
	case KindStarted:
		h.detach(func(ctx context.Context) {
			err := h.sessions.OnStarted(ctx, evt.JobID, evt.Operation, evt.BaseURL, evt.TotalURLs, evt.AutoIndex, evt.Timestamp)
			if err != nil {
				h.logger.Error("register session start",
					zap.String("job_id", evt.JobID), zap.Error(err))
			}
		})
		return nil

	case KindTerminal:
		if !evt.Success && evt.Error != "" {
			h.logger.Warn("upstream reported job failure",
				zap.String("job_id", evt.JobID),
				zap.String("error", evt.Error))
		}
		h.detach(func(ctx context.Context) {
			if err := h.sessions.OnTerminal(ctx, evt.JobID, evt.Success, evt.Timestamp); err != nil {
				h.logger.Error("finalize session",
					zap.String("job_id", evt.JobID), zap.Error(err))
			}
		})
		return nil

	case KindPage:
		// Upstream-failed pages carry nothing worth indexing.
		if evt.Success {
			if err := h.enqueueJobs(ctx, evt); err != nil {
				return err
			}
		} else {
			h.logger.Warn("upstream reported page failure",
				zap.String("job_id", evt.JobID),
				zap.String("error", evt.Error))
		}
		docs := evt.Documents
		success := evt.Success
		h.detach(func(ctx context.Context) {
			if len(docs) > 0 {
				if err := h.content.Save(ctx, evt.JobID, docs); err != nil {
					h.logger.Error("persist page content",
						zap.String("job_id", evt.JobID), zap.Error(err))
				}
			}
			pages := len(docs)
			if pages == 0 {
				pages = 1
			}
			for i := 0; i < pages; i++ {
				if err := h.sessions.OnPage(ctx, evt.JobID, success); err != nil {
					h.logger.Error("record page event",
						zap.String("job_id", evt.JobID), zap.Error(err))
				}
			}
		})
		return nil
	}
	return errors.New("unhandled event kind")
}

// enqueueJobs pushes one index job per document. The enqueue is the
// only downstream call the response path waits on: losing it would
// silently drop indexing work, so failures surface to the sender.
func (h *Handler) enqueueJobs(ctx context.Context, evt Event) error {
	if len(evt.Documents) == 0 || !h.autoIndex(ctx, evt) {
		return nil
	}
	for _, doc := range evt.Documents {
		id, err := h.idGen.NewID()
		if err != nil {
			return err
		}
		job := bridge.IndexJob{
			ID:        id,
			SessionID: evt.JobID,
			URL:       doc.URL,
			Content:   doc.Markdown,
			Source:    doc.Source,
		}
		if err := h.queue.Enqueue(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// autoIndex reads the session's toggle. When the session is not known
// yet (page event delivered before the start event) the envelope's
// value decides.
func (h *Handler) autoIndex(ctx context.Context, evt Event) bool {
	session, err := h.sessions.Get(ctx, evt.JobID)
	if err != nil {
		return evt.AutoIndex
	}
	return session.AutoIndex
}

func (h *Handler) detach(fn func(context.Context)) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.DispatchTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until all detached dispatches finish. Used on shutdown.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
