// Package memory provides an in-memory vector sink for development and
// tests.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/user/crawlbridge/internal/bridge"
)

// VectorSink keeps vector records in a mutex-protected map.
type VectorSink struct {
	mu      sync.RWMutex
	records map[string]bridge.VectorRecord
}

// NewVectorSink constructs an empty sink.
func NewVectorSink() *VectorSink {
	return &VectorSink{
		records: make(map[string]bridge.VectorRecord),
	}
}

// Upsert stores the records keyed by id, replacing existing entries.
func (s *VectorSink) Upsert(_ context.Context, records []bridge.VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.records[rec.ID] = rec
	}
	return nil
}

// Get returns one record by id or bridge.ErrNotFound.
func (s *VectorSink) Get(_ context.Context, id string) (bridge.VectorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return bridge.VectorRecord{}, bridge.ErrNotFound
	}
	return rec, nil
}

// Query returns the k records nearest to the query vector by cosine
// similarity (test helper beyond the sink contract).
func (s *VectorSink) Query(_ context.Context, vector []float32, k int) []bridge.VectorRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type scored struct {
		rec   bridge.VectorRecord
		score float64
	}
	var candidates []scored
	for _, rec := range s.records {
		candidates = append(candidates, scored{rec: rec, score: cosine(vector, rec.Embedding)})
	}
	sort.Slice(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})
	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]bridge.VectorRecord, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.rec)
	}
	return out
}

// Len returns the number of stored records.
func (s *VectorSink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
