package ingress

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/user/crawlbridge/internal/bridge"
)

// EventKind groups event types by how the bridge handles them.
type EventKind string

const (
	KindStarted  EventKind = "started"
	KindPage     EventKind = "page"
	KindTerminal EventKind = "terminal"
)

// envelope is the wire form of a webhook delivery. Type is
// "<operation>.<phase>", e.g. "crawl.started", "crawl.page",
// "batch.completed", "scrape.failed".
type envelope struct {
	Type      string            `json:"type"`
	ID        string            `json:"id"`
	Success   *bool             `json:"success,omitempty"`
	Error     string            `json:"error,omitempty"`
	BaseURL   string            `json:"base_url,omitempty"`
	TotalURLs int               `json:"total_urls,omitempty"`
	AutoIndex *bool             `json:"auto_index,omitempty"`
	Timestamp time.Time         `json:"timestamp,omitempty"`
	Data      []pageData        `json:"data,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type pageData struct {
	URL       string            `json:"url"`
	SourceURL string            `json:"source_url,omitempty"`
	Markdown  string            `json:"markdown,omitempty"`
	HTML      string            `json:"html,omitempty"`
	Links     []string          `json:"links,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Event is one parsed and classified webhook delivery.
type Event struct {
	Kind      EventKind
	Operation bridge.OperationType
	JobID     string
	// Success reports the upstream outcome of a page or terminal event;
	// the envelope omitting it means success.
	Success bool
	// Error carries the upstream failure detail when Success is false.
	Error     string
	BaseURL   string
	TotalURLs int
	// AutoIndex defaults to true when the envelope omits it.
	AutoIndex bool
	Timestamp time.Time
	Documents []bridge.Document
}

// ParseEvent decodes and validates a webhook body.
func ParseEvent(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Event{}, fmt.Errorf("decode event envelope: %w", err)
	}
	if env.ID == "" {
		return Event{}, fmt.Errorf("event has no job id")
	}
	op, phase, ok := strings.Cut(env.Type, ".")
	if !ok {
		return Event{}, fmt.Errorf("malformed event type %q", env.Type)
	}
	opType := bridge.OperationType(op)
	if !bridge.ValidOperationType(opType) {
		return Event{}, fmt.Errorf("unknown operation type %q", op)
	}

	evt := Event{
		Operation: opType,
		JobID:     env.ID,
		Error:     env.Error,
		BaseURL:   env.BaseURL,
		TotalURLs: env.TotalURLs,
		AutoIndex: env.AutoIndex == nil || *env.AutoIndex,
		Timestamp: env.Timestamp,
	}
	switch phase {
	case "started":
		evt.Kind = KindStarted
	case "page":
		evt.Kind = KindPage
		evt.Success = env.Success == nil || *env.Success
		evt.Documents = toDocuments(opType, env.Data)
	case "completed":
		evt.Kind = KindTerminal
		evt.Success = env.Success == nil || *env.Success
	case "failed":
		evt.Kind = KindTerminal
		evt.Success = false
	default:
		return Event{}, fmt.Errorf("unknown event phase %q", phase)
	}
	return evt, nil
}

func toDocuments(op bridge.OperationType, pages []pageData) []bridge.Document {
	source := contentSource(op)
	docs := make([]bridge.Document, 0, len(pages))
	for _, p := range pages {
		if p.URL == "" {
			continue
		}
		docs = append(docs, bridge.Document{
			URL:       p.URL,
			SourceURL: p.SourceURL,
			Source:    source,
			Markdown:  p.Markdown,
			HTML:      p.HTML,
			Links:     p.Links,
			Metadata:  p.Metadata,
		})
	}
	return docs
}

func contentSource(op bridge.OperationType) bridge.ContentSource {
	switch op {
	case bridge.OperationScrape:
		return bridge.SourceScrapeResult
	case bridge.OperationBatch:
		return bridge.SourceBatchResult
	default:
		return bridge.SourceCrawlPage
	}
}
