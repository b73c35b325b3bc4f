package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/user/crawlbridge/internal/bridge"
)

type contentKey struct {
	sessionID string
	url       string
	hash      string
}

// ContentStore keeps scraped content rows in memory with the same
// (session, url, content_hash) uniqueness the Postgres store enforces.
type ContentStore struct {
	mu   sync.RWMutex
	rows []bridge.ScrapedContent
	seen map[contentKey]struct{}
}

// NewContentStore constructs a ContentStore.
func NewContentStore() *ContentStore {
	return &ContentStore{
		seen: make(map[contentKey]struct{}),
	}
}

// InsertIfAbsent appends the row unless the triple already exists.
func (s *ContentStore) InsertIfAbsent(_ context.Context, content bridge.ScrapedContent) (bool, error) {
	key := contentKey{
		sessionID: content.SessionID,
		url:       content.URL,
		hash:      content.ContentHash,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.seen[key]; exists {
		return false, nil
	}
	s.seen[key] = struct{}{}
	s.rows = append(s.rows, content)
	return true, nil
}

// ListByURL returns rows for a URL across sessions, newest first.
func (s *ContentStore) ListByURL(_ context.Context, url string, limit int) ([]bridge.ScrapedContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []bridge.ScrapedContent
	for _, row := range s.rows {
		if row.URL == url {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScrapedAt.After(out[j].ScrapedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListBySession returns a session's rows in insertion (chronological) order.
func (s *ContentStore) ListBySession(
	_ context.Context,
	sessionID string,
	limit, offset int,
) ([]bridge.ScrapedContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []bridge.ScrapedContent
	for _, row := range s.rows {
		if row.SessionID == sessionID {
			matched = append(matched, row)
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
