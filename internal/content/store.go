// Package content persists scraped documents with hash-based
// deduplication on top of the content repository.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/user/crawlbridge/internal/bridge"
	"github.com/user/crawlbridge/internal/timing"
)

// Read-path pagination bounds. Unbounded retrieval is forbidden: a large
// crawl's full content set can run to hundreds of megabytes.
const (
	maxURLLimit        = 100
	defaultSessionPage = 100
	maxSessionPage     = 1000
)

// Store deduplicates and persists scraped documents.
type Store struct {
	repo     bridge.ContentRepository
	hasher   bridge.Hasher
	idGen    bridge.IDGenerator
	clock    bridge.Clock
	recorder *timing.Recorder
	logger   *zap.Logger
}

// NewStore wires the repository and its collaborators.
func NewStore(
	repo bridge.ContentRepository,
	hasher bridge.Hasher,
	idGen bridge.IDGenerator,
	clock bridge.Clock,
	recorder *timing.Recorder,
	logger *zap.Logger,
) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		repo:     repo,
		hasher:   hasher,
		idGen:    idGen,
		clock:    clock,
		recorder: recorder,
		logger:   logger,
	}
}

// Save persists the documents for a session. Identical content for the
// same URL dedupes via the (session, url, hash) constraint; changed
// content for the same URL lands as a new row. The whole call runs under
// a content_storage timing span. Save is invoked fire-and-forget from the
// webhook path, so the error return exists for callers that do care.
func (s *Store) Save(ctx context.Context, sessionID string, docs []bridge.Document) (err error) {
	span := s.recorder.Start(bridge.OpContentStorage, sessionID, firstURL(docs))
	defer func() { span.End(err) }()

	if sessionID == "" {
		return errors.New("session id is required")
	}

	now := s.clock.Now()
	for _, doc := range docs {
		if doc.URL == "" {
			s.logger.Warn("skipping document without url", zap.String("session_id", sessionID))
			continue
		}
		hash, hashErr := s.hasher.Hash(normalize(doc))
		if hashErr != nil {
			return fmt.Errorf("hash content for %s: %w", doc.URL, hashErr)
		}
		id, idErr := s.idGen.NewID()
		if idErr != nil {
			return fmt.Errorf("generate content id: %w", idErr)
		}
		row := bridge.ScrapedContent{
			ID:          id,
			SessionID:   sessionID,
			URL:         doc.URL,
			SourceURL:   doc.SourceURL,
			Source:      doc.Source,
			Markdown:    doc.Markdown,
			HTML:        doc.HTML,
			Links:       doc.Links,
			Metadata:    doc.Metadata,
			ContentHash: hash,
			ScrapedAt:   now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		created, insertErr := s.repo.InsertIfAbsent(ctx, row)
		if insertErr != nil {
			return fmt.Errorf("store content for %s: %w", doc.URL, insertErr)
		}
		if !created {
			s.logger.Debug("duplicate content skipped",
				zap.String("session_id", sessionID),
				zap.String("url", doc.URL),
				zap.String("content_hash", hash),
			)
		}
	}
	return nil
}

// GetByURL returns rows for a URL across sessions, newest first.
func (s *Store) GetByURL(ctx context.Context, url string, limit int) ([]bridge.ScrapedContent, error) {
	if url == "" {
		return nil, errors.New("url is required")
	}
	if limit <= 0 {
		limit = 1
	}
	if limit > maxURLLimit {
		limit = maxURLLimit
	}
	rows, err := s.repo.ListByURL(ctx, url, limit)
	if err != nil {
		return nil, fmt.Errorf("get content by url: %w", err)
	}
	return rows, nil
}

// GetBySession returns a session's rows in chronological order with
// mandatory pagination.
func (s *Store) GetBySession(ctx context.Context, sessionID string, limit, offset int) ([]bridge.ScrapedContent, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	if limit <= 0 {
		limit = defaultSessionPage
	}
	if limit > maxSessionPage {
		limit = maxSessionPage
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.repo.ListBySession(ctx, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get content by session: %w", err)
	}
	return rows, nil
}

// normalize produces the canonical byte form hashed for deduplication.
// Whitespace at the edges never distinguishes two scrapes of a page.
func normalize(doc bridge.Document) []byte {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(doc.Markdown))
	b.WriteByte('\n')
	b.WriteString(strings.TrimSpace(doc.HTML))
	return []byte(b.String())
}

func firstURL(docs []bridge.Document) string {
	if len(docs) == 0 {
		return ""
	}
	return docs[0].URL
}
