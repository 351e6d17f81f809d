package retrieval

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/corewave-ai/voicegateway/schema"
)

// Embedder turns a query string into the embedding space the vector backend
// searches. No implementation of it is included in this module.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorBackend runs approximate nearest-neighbour search over a pgvector
// HNSW index of (tenantId, siteId)-scoped content chunks.
type VectorBackend struct {
	pool     *pgxpool.Pool
	embedder Embedder
}

// NewVectorBackend creates a VectorBackend.
func NewVectorBackend(pool *pgxpool.Pool, embedder Embedder) *VectorBackend {
	return &VectorBackend{pool: pool, embedder: embedder}
}

func (b *VectorBackend) Search(ctx context.Context, req Request) ([]schema.SearchResult, error) {
	embedding, err := b.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	vec := pgvector.NewVector(embedding)

	const q = `
		SELECT id, content, url, title, embedding <=> $1 AS distance, metadata
		FROM   kb_chunks
		WHERE  tenant_id = $2 AND site_id = $3
		ORDER  BY distance
		LIMIT  $4`

	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}

	rows, err := b.pool.Query(ctx, q, vec, req.TenantID, req.SiteID, topK)
	if err != nil {
		return nil, fmt.Errorf("retrieval: vector search: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (schema.SearchResult, error) {
		var (
			r        schema.SearchResult
			distance float64
		)
		if err := row.Scan(&r.ID, &r.Content, &r.URL, &r.Title, &distance, &r.Metadata); err != nil {
			return schema.SearchResult{}, err
		}
		r.Score = 1 - distance
		r.RelevantSnippet = snippet(r.Content, 200)
		return r, nil
	})
}

// FulltextBackend runs Postgres native full-text search (tsvector/tsquery)
// over the same chunk table.
type FulltextBackend struct {
	pool *pgxpool.Pool
}

// NewFulltextBackend creates a FulltextBackend.
func NewFulltextBackend(pool *pgxpool.Pool) *FulltextBackend {
	return &FulltextBackend{pool: pool}
}

func (b *FulltextBackend) Search(ctx context.Context, req Request) ([]schema.SearchResult, error) {
	const q = `
		SELECT id, content, url, title,
		       ts_rank_cd(search_vector, plainto_tsquery($4, $1)) AS rank,
		       metadata
		FROM   kb_chunks
		WHERE  tenant_id = $2 AND site_id = $3
		       AND search_vector @@ plainto_tsquery($4, $1)
		ORDER  BY rank DESC
		LIMIT  $5`

	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}
	locale := req.Locale
	if locale == "" {
		locale = "english"
	}

	rows, err := b.pool.Query(ctx, q, req.Query, req.TenantID, req.SiteID, locale, topK)
	if err != nil {
		return nil, fmt.Errorf("retrieval: fulltext search: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (schema.SearchResult, error) {
		var (
			r    schema.SearchResult
			rank float64
		)
		if err := row.Scan(&r.ID, &r.Content, &r.URL, &r.Title, &rank, &r.Metadata); err != nil {
			return schema.SearchResult{}, err
		}
		r.Score = rank
		r.RelevantSnippet = snippet(r.Content, 200)
		return r, nil
	})
}

// StructuredBackend matches against structured catalog/product attributes
// (category, tags) rather than free text.
type StructuredBackend struct {
	pool *pgxpool.Pool
}

// NewStructuredBackend creates a StructuredBackend.
func NewStructuredBackend(pool *pgxpool.Pool) *StructuredBackend {
	return &StructuredBackend{pool: pool}
}

func (b *StructuredBackend) Search(ctx context.Context, req Request) ([]schema.SearchResult, error) {
	const q = `
		SELECT id, content, url, title, 1.0 AS score, metadata
		FROM   kb_catalog_items
		WHERE  tenant_id = $1 AND site_id = $2 AND tags && string_to_array($3, ' ')
		LIMIT  $4`

	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}

	rows, err := b.pool.Query(ctx, q, req.TenantID, req.SiteID, req.Query, topK)
	if err != nil {
		return nil, fmt.Errorf("retrieval: structured search: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (schema.SearchResult, error) {
		var r schema.SearchResult
		if err := row.Scan(&r.ID, &r.Content, &r.URL, &r.Title, &r.Score, &r.Metadata); err != nil {
			return schema.SearchResult{}, err
		}
		r.RelevantSnippet = snippet(r.Content, 200)
		return r, nil
	})
}

func snippet(content string, max int) string {
	if len(content) <= max {
		return content
	}
	return content[:max]
}
