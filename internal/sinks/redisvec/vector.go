// Package redisvec provides a Redis-backed vector sink. Records are
// stored as JSON under per-chunk keys, giving the pipeline an external
// upsert-by-key store with point reads.
package redisvec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/crawlbridge/internal/bridge"
)

const keyPrefix = "vec:"

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Sink implements bridge.VectorSink on go-redis.
type Sink struct {
	rdb *redis.Client
}

// NewSink creates a Redis client and verifies the connection with a PING.
func NewSink(cfg Config) (*Sink, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Sink{rdb: rdb}, nil
}

// Upsert writes all records in one pipeline round trip.
func (s *Sink) Upsert(ctx context.Context, records []bridge.VectorRecord) error {
	pipe := s.rdb.Pipeline()
	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal vector record %s: %w", rec.ID, err)
		}
		pipe.Set(ctx, keyPrefix+rec.ID, payload, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upsert vector records: %w", err)
	}
	return nil
}

// Get returns one record by id or bridge.ErrNotFound.
func (s *Sink) Get(ctx context.Context, id string) (bridge.VectorRecord, error) {
	payload, err := s.rdb.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return bridge.VectorRecord{}, bridge.ErrNotFound
		}
		return bridge.VectorRecord{}, fmt.Errorf("get vector record: %w", err)
	}
	var rec bridge.VectorRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return bridge.VectorRecord{}, fmt.Errorf("unmarshal vector record: %w", err)
	}
	return rec, nil
}

// Query scans the stored records and returns the k nearest to the query
// vector by cosine similarity. The scan walks every vec: key, which is
// fine at the session scale this sink holds.
func (s *Sink) Query(ctx context.Context, vector []float32, k int) ([]bridge.VectorRecord, error) {
	type scored struct {
		rec   bridge.VectorRecord
		score float64
	}
	var candidates []scored
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		payload, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("get vector record: %w", err)
		}
		var rec bridge.VectorRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal vector record: %w", err)
		}
		candidates = append(candidates, scored{rec: rec, score: cosine(vector, rec.Embedding)})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan vector records: %w", err)
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
	return out, nil
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

// Close releases the Redis client.
func (s *Sink) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
