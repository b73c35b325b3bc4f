// Package embed converts chunk text into fixed-dimension vectors.
package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashingEmbedder is a deterministic local embedder using feature
// hashing: each term hashes into one of Dimension buckets with a
// sign derived from the hash, and the result is L2-normalized. It keeps
// the pipeline self-contained; a model-backed Embedder drops in behind
// the same interface.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder builds an embedder with the given dimension.
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashingEmbedder{dim: dim}
}

// Dimension returns the vector width.
func (e *HashingEmbedder) Dimension() int {
	return e.dim
}

// Embed produces one vector per input text.
func (e *HashingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, e.embedOne(text))
	}
	return out, nil
}

func (e *HashingEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dim)
	terms := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, term := range terms {
		h := fnv.New64a()
		h.Write([]byte(term))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dim))
		if sum&(1<<63) != 0 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
