package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/user/crawlbridge/internal/bridge"
)

// ContentStore implements bridge.ContentRepository on Postgres. The
// UNIQUE (session_id, url, content_hash) constraint plus ON CONFLICT DO
// NOTHING makes concurrent duplicate writes safe without read-then-write.
type ContentStore struct {
	pool Pool
}

// NewContentStore wires an existing pool.
func NewContentStore(pool Pool) *ContentStore {
	return &ContentStore{pool: pool}
}

// InsertIfAbsent performs the conflict-free insert. The returned bool
// reports whether a new row was created.
func (s *ContentStore) InsertIfAbsent(ctx context.Context, content bridge.ScrapedContent) (bool, error) {
	linksJSON, err := json.Marshal(content.Links)
	if err != nil {
		return false, fmt.Errorf("marshal links: %w", err)
	}
	metadataJSON, err := json.Marshal(content.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}
	query := `
		INSERT INTO scraped_content
			(id, session_id, url, source_url, content_source, markdown, html,
			links, extracted_metadata, content_hash, scraped_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (session_id, url, content_hash) DO NOTHING;
	`
	tag, err := s.pool.Exec(ctx, query,
		content.ID,
		content.SessionID,
		content.URL,
		content.SourceURL,
		string(content.Source),
		content.Markdown,
		content.HTML,
		linksJSON,
		metadataJSON,
		content.ContentHash,
		content.ScrapedAt,
		content.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert content: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByURL returns rows for a URL across sessions, newest first.
func (s *ContentStore) ListByURL(ctx context.Context, url string, limit int) ([]bridge.ScrapedContent, error) {
	query := `
		SELECT id, session_id, url, source_url, content_source, markdown, html,
			links, extracted_metadata, content_hash, scraped_at, created_at, updated_at
		FROM scraped_content
		WHERE url = $1
		ORDER BY scraped_at DESC
		LIMIT $2;
	`
	rows, err := s.pool.Query(ctx, query, url, limit)
	if err != nil {
		return nil, fmt.Errorf("list content by url: %w", err)
	}
	defer rows.Close()
	return scanContentRows(rows)
}

// ListBySession returns a session's rows in chronological order.
func (s *ContentStore) ListBySession(
	ctx context.Context,
	sessionID string,
	limit, offset int,
) ([]bridge.ScrapedContent, error) {
	query := `
		SELECT id, session_id, url, source_url, content_source, markdown, html,
			links, extracted_metadata, content_hash, scraped_at, created_at, updated_at
		FROM scraped_content
		WHERE session_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list content by session: %w", err)
	}
	defer rows.Close()
	return scanContentRows(rows)
}

func scanContentRows(rows pgx.Rows) ([]bridge.ScrapedContent, error) {
	var out []bridge.ScrapedContent
	for rows.Next() {
		var (
			row          bridge.ScrapedContent
			source       string
			linksJSON    []byte
			metadataJSON []byte
		)
		err := rows.Scan(
			&row.ID,
			&row.SessionID,
			&row.URL,
			&row.SourceURL,
			&source,
			&row.Markdown,
			&row.HTML,
			&linksJSON,
			&metadataJSON,
			&row.ContentHash,
			&row.ScrapedAt,
			&row.CreatedAt,
			&row.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan content row: %w", err)
		}
		row.Source = bridge.ContentSource(source)
		if len(linksJSON) > 0 {
			if err := json.Unmarshal(linksJSON, &row.Links); err != nil {
				return nil, fmt.Errorf("unmarshal links: %w", err)
			}
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &row.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content rows: %w", err)
	}
	return out, nil
}
