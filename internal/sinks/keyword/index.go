package keyword

import (
	"context"
	"sort"
	"sync"

	"github.com/user/crawlbridge/internal/bridge"
)

type posting struct {
	url       string
	frequency int
}

// Index is an in-memory inverted index. It is owned by the indexing
// pipeline and guarded by its own lock; nothing else shares it.
type Index struct {
	mu       sync.RWMutex
	terms    map[string]map[string]*posting
	docCount int
}

// NewIndex constructs an empty index.
func NewIndex() *Index {
	return &Index{
		terms: make(map[string]map[string]*posting),
	}
}

// Upsert tokenizes content and replaces the postings for docID.
func (i *Index) Upsert(_ context.Context, docID, url, content string) error {
	tokens := tokenize(content)
	fresh := make(map[string]*posting)
	for _, tok := range tokens {
		p, ok := fresh[tok.term]
		if !ok {
			p = &posting{url: url}
			fresh[tok.term] = p
		}
		p.frequency++
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	known := i.hasDoc(docID)
	// Re-indexing replaces rather than accumulates: drop old postings.
	if known {
		for term, docs := range i.terms {
			delete(docs, docID)
			if len(docs) == 0 {
				delete(i.terms, term)
			}
		}
	}
	for term, p := range fresh {
		docs, ok := i.terms[term]
		if !ok {
			docs = make(map[string]*posting)
			i.terms[term] = docs
		}
		docs[docID] = p
	}
	if !known {
		i.docCount++
	}
	return nil
}

// Search tokenizes the query and scores documents by summed term
// frequency across query terms.
func (i *Index) Search(_ context.Context, query string, limit int) ([]bridge.KeywordHit, error) {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	scores := make(map[string]*bridge.KeywordHit)
	for _, tok := range tokens {
		for docID, p := range i.terms[tok.term] {
			hit, ok := scores[docID]
			if !ok {
				hit = &bridge.KeywordHit{DocID: docID, URL: p.url}
				scores[docID] = hit
			}
			hit.Score += float64(p.frequency)
		}
	}

	out := make([]bridge.KeywordHit, 0, len(scores))
	for _, hit := range scores {
		out = append(out, *hit)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Score != out[b].Score {
			return out[a].Score > out[b].Score
		}
		return out[a].DocID < out[b].DocID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DocCount returns the number of indexed documents.
func (i *Index) DocCount() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.docCount
}

func (i *Index) hasDoc(docID string) bool {
	for _, docs := range i.terms {
		if _, ok := docs[docID]; ok {
			return true
		}
	}
	return false
}
