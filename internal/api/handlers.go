package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/user/crawlbridge/internal/bridge"
	"github.com/user/crawlbridge/internal/engine"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
	defaultMetricLimit = 500
	maxMetricLimit     = 5000
)

// getCrawl handles GET /v1/crawls/{job_id}?include_per_page=&limit=&offset=.
func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	session, err := s.sessions.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, bridge.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown job id")
			return
		}
		s.logger.Error("load session failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	resp := map[string]any{"session": toSessionDTO(session)}
	if parseBool(r.URL.Query().Get("include_per_page")) {
		limit, offset, err := parseLimitOffset(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if limit <= 0 {
			limit = defaultMetricLimit
		}
		if limit > maxMetricLimit {
			limit = maxMetricLimit
		}
		rows, err := s.metrics.ListByCorrelation(r.Context(), jobID, limit, offset)
		if err != nil {
			s.logger.Error("list metrics failed", zap.String("job_id", jobID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to list metrics")
			return
		}
		resp["operations"] = toMetricDTOs(rows)
	}
	writeJSON(w, http.StatusOK, resp)
}

// getContentByURL handles GET /v1/content?url=&limit=.
func (s *Server) getContentByURL(w http.ResponseWriter, r *http.Request) {
	url := strings.TrimSpace(r.URL.Query().Get("url"))
	if url == "" {
		writeError(w, http.StatusBadRequest, "url parameter is required")
		return
	}
	limit, _, err := parseLimitOffset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.contents.GetByURL(r.Context(), url, limit)
	if err != nil {
		s.logger.Error("list content by url failed", zap.String("url", url), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list content")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"content": toContentDTOs(rows)})
}

// getContentBySession handles GET /v1/content/sessions/{session_id}?limit=&offset=.
func (s *Server) getContentBySession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	limit, offset, err := parseLimitOffset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.contents.GetBySession(r.Context(), sessionID, limit, offset)
	if err != nil {
		s.logger.Error("list session content failed",
			zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list content")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"content": toContentDTOs(rows)})
}

// search handles GET /v1/search?q=&limit=.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q parameter is required")
		return
	}
	limit := defaultSearchLimit
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if val > maxSearchLimit {
			val = maxSearchLimit
		}
		limit = val
	}
	hits, err := s.searcher.Search(r.Context(), query, limit)
	if err != nil {
		s.logger.Error("keyword search failed", zap.String("query", query), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": toHitDTOs(hits)})
}

type scrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats,omitempty"`
	OnlyMainContent bool     `json:"only_main_content,omitempty"`
	WebhookURL      string   `json:"webhook_url,omitempty"`
}

// triggerScrape handles POST /v1/scrape.
func (s *Server) triggerScrape(w http.ResponseWriter, r *http.Request) {
	if s.scraper == nil {
		writeError(w, http.StatusServiceUnavailable, "engine client not configured")
		return
	}
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	jobID, err := s.scraper.Scrape(r.Context(), req.URL, engine.ScrapeOptions{
		Formats:         req.Formats,
		OnlyMainContent: req.OnlyMainContent,
		WebhookURL:      req.WebhookURL,
	})
	if err != nil {
		s.logger.Error("trigger scrape failed", zap.String("url", req.URL), zap.Error(err))
		writeError(w, http.StatusBadGateway, "engine request failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   jobID,
		"accepted": true,
	})
}

func parseLimitOffset(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	limit := 0
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseBool(val string) bool {
	parsed, err := strconv.ParseBool(val)
	return err == nil && parsed
}

type sessionDTO struct {
	JobID         string     `json:"job_id"`
	OperationType string     `json:"operation_type"`
	BaseURL       string     `json:"base_url,omitempty"`
	Status        string     `json:"status"`
	Success       bool       `json:"success"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	TotalURLs     int        `json:"total_urls"`
	CompletedURLs int        `json:"completed_urls"`
	FailedURLs    int        `json:"failed_urls"`
	AutoIndex     bool       `json:"auto_index"`
	ChunkingMs    int64      `json:"chunking_ms"`
	EmbeddingMs   int64      `json:"embedding_ms"`
	VectorMs      int64      `json:"vector_write_ms"`
	KeywordMs     int64      `json:"keyword_write_ms"`
}

func toSessionDTO(s bridge.CrawlSession) sessionDTO {
	return sessionDTO{
		JobID:         s.JobID,
		OperationType: string(s.OperationType),
		BaseURL:       s.BaseURL,
		Status:        string(s.Status),
		Success:       s.Success,
		StartedAt:     s.StartedAt,
		CompletedAt:   s.CompletedAt,
		TotalURLs:     s.TotalURLs,
		CompletedURLs: s.CompletedURLs,
		FailedURLs:    s.FailedURLs,
		AutoIndex:     s.AutoIndex,
		ChunkingMs:    s.Timings.ChunkingMs,
		EmbeddingMs:   s.Timings.EmbeddingMs,
		VectorMs:      s.Timings.VectorMs,
		KeywordMs:     s.Timings.KeywordMs,
	}
}

type metricDTO struct {
	Operation    string    `json:"operation_type"`
	DocumentURL  string    `json:"document_url,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func toMetricDTOs(rows []bridge.OperationMetric) []metricDTO {
	out := make([]metricDTO, 0, len(rows))
	for _, m := range rows {
		out = append(out, metricDTO{
			Operation:    string(m.Operation),
			DocumentURL:  m.DocumentURL,
			DurationMs:   m.DurationMs,
			Success:      m.Success,
			ErrorMessage: m.ErrorMessage,
			Timestamp:    m.Timestamp,
		})
	}
	return out
}

type contentDTO struct {
	ID          string            `json:"id"`
	SessionID   string            `json:"session_id"`
	URL         string            `json:"url"`
	SourceURL   string            `json:"source_url,omitempty"`
	Source      string            `json:"content_source"`
	Markdown    string            `json:"markdown,omitempty"`
	HTML        string            `json:"html,omitempty"`
	Links       []string          `json:"links,omitempty"`
	Metadata    map[string]string `json:"extracted_metadata,omitempty"`
	ContentHash string            `json:"content_hash"`
	ScrapedAt   time.Time         `json:"scraped_at"`
}

func toContentDTOs(rows []bridge.ScrapedContent) []contentDTO {
	out := make([]contentDTO, 0, len(rows))
	for _, c := range rows {
		out = append(out, contentDTO{
			ID:          c.ID,
			SessionID:   c.SessionID,
			URL:         c.URL,
			SourceURL:   c.SourceURL,
			Source:      string(c.Source),
			Markdown:    c.Markdown,
			HTML:        c.HTML,
			Links:       c.Links,
			Metadata:    c.Metadata,
			ContentHash: c.ContentHash,
			ScrapedAt:   c.ScrapedAt,
		})
	}
	return out
}

type hitDTO struct {
	DocID string  `json:"doc_id"`
	URL   string  `json:"url"`
	Score float64 `json:"score"`
}

func toHitDTOs(hits []bridge.KeywordHit) []hitDTO {
	out := make([]hitDTO, 0, len(hits))
	for _, h := range hits {
		out = append(out, hitDTO{DocID: h.DocID, URL: h.URL, Score: h.Score})
	}
	return out
}
