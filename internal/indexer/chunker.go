// Package indexer runs the indexing pipeline: stored pages are
// chunked, embedded, and written to the vector and keyword sinks by a
// pool of queue-fed workers.
package indexer

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/crawlbridge/internal/bridge"
)

const defaultChunkTokens = 512

// Chunker splits document content into token-bounded segments.
type Chunker struct {
	enc       *tiktoken.Tiktoken
	maxTokens int
}

// NewChunker builds a chunker capping each segment at maxTokens
// tokens. It uses the cl100k_base encoding; when the encoding cannot
// be loaded the chunker falls back to whitespace word counting.
func NewChunker(maxTokens int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = defaultChunkTokens
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		enc = nil
	}
	return &Chunker{enc: enc, maxTokens: maxTokens}
}

// Split segments text into chunks of at most the configured token
// count. Empty or whitespace-only text yields no chunks.
func (c *Chunker) Split(text string) []bridge.Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if c.enc == nil {
		return c.splitWords(text)
	}
	tokens := c.enc.Encode(text, nil, nil)
	chunks := make([]bridge.Chunk, 0, (len(tokens)+c.maxTokens-1)/c.maxTokens)
	for start := 0; start < len(tokens); start += c.maxTokens {
		end := start + c.maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, bridge.Chunk{
			Index:  len(chunks),
			Text:   c.enc.Decode(tokens[start:end]),
			Tokens: end - start,
		})
	}
	return chunks
}

func (c *Chunker) splitWords(text string) []bridge.Chunk {
	words := strings.Fields(text)
	chunks := make([]bridge.Chunk, 0, (len(words)+c.maxTokens-1)/c.maxTokens)
	for start := 0; start < len(words); start += c.maxTokens {
		end := start + c.maxTokens
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, bridge.Chunk{
			Index:  len(chunks),
			Text:   strings.Join(words[start:end], " "),
			Tokens: end - start,
		})
	}
	return chunks
}
