// Package memory implements long-term semantic memory on PostgreSQL
// with pgvector.
//
// Conversation snippets are embedded and stored as vectors; retrieval
// is cosine-similarity search ordered by distance. The table dimension
// is fixed at creation; when the configured embedder dimension differs
// from the stored one, the table is dropped and recreated rather than
// migrated, since embeddings from different models are not comparable.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/harshtiwari/haral/internal/log"
)

// DefaultDimension matches text-embedding-004 output.
const DefaultDimension = 768

// queryTimeout bounds vector search so a slow index never blocks a turn.
const queryTimeout = 5 * time.Second

// ErrEmptyEmbedding indicates the embedder returned no vector.
var ErrEmptyEmbedding = errors.New("empty embedding returned")

// Store manages vectorized conversation memory.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool      *pgxpool.Pool
	embedder  ai.Embedder
	dimension int
	logger    log.Logger
}

// New creates a Store. dimension must match the embedder's output size;
// zero selects DefaultDimension.
func New(pool *pgxpool.Pool, embedder ai.Embedder, dimension int, logger log.Logger) *Store {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, embedder: embedder, dimension: dimension, logger: logger}
}

// EnsureSchema verifies the memories table exists with the configured
// vector dimension available, recreating the table when the stored
// dimension differs.
//
// Base schema creation is handled by db.Migrate; this check covers the
// operational case of switching embedder models between runs.
func (s *Store) EnsureSchema(ctx context.Context) error {
	var stored int
	err := s.pool.QueryRow(ctx,
		`SELECT atttypmod FROM pg_attribute
		 WHERE attrelid = 'memories'::regclass AND attname = 'embedding'`,
	).Scan(&stored)
	if err != nil {
		return fmt.Errorf("checking memories schema: %w", err)
	}

	if stored == s.dimension {
		return nil
	}

	s.logger.Warn("memory dimension mismatch, recreating table",
		"stored", stored, "configured", s.dimension)

	if _, err := s.pool.Exec(ctx, "DROP TABLE IF EXISTS memories"); err != nil {
		return fmt.Errorf("dropping memories table: %w", err)
	}
	ddl := fmt.Sprintf(`CREATE TABLE memories (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		embedding vector(%d) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, s.dimension)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("recreating memories table: %w", err)
	}

	return nil
}

// Add embeds and stores texts. Duplicate content (same hash) is
// overwritten rather than duplicated.
func (s *Store) Add(ctx context.Context, texts []string) error {
	for _, text := range texts {
		if text == "" {
			continue
		}

		vec, err := s.embed(ctx, text)
		if err != nil {
			return fmt.Errorf("embedding memory: %w", err)
		}

		_, err = s.pool.Exec(ctx,
			`INSERT INTO memories (id, content, embedding)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE
			 SET content = EXCLUDED.content, embedding = EXCLUDED.embedding`,
			contentID(text), text, vec)
		if err != nil {
			return fmt.Errorf("upserting memory: %w", err)
		}
	}

	s.logger.Debug("stored memories", "count", len(texts))
	return nil
}

// Retrieve returns up to k stored snippets ordered by cosine similarity
// to the query.
func (s *Store) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	if k <= 0 {
		k = 3
	}

	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	vec, err := s.embed(queryCtx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := s.pool.Query(queryCtx,
		`SELECT content FROM memories ORDER BY embedding <=> $1 LIMIT $2`,
		vec, k)
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}
	defer rows.Close()

	var snippets []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scanning memory row: %w", err)
		}
		snippets = append(snippets, content)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reading memory rows: %w", err)
	}

	return snippets, nil
}

// embed generates a pgvector value for one text.
func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(text)}},
		},
	})
	if err != nil {
		return pgvector.Vector{}, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, ErrEmptyEmbedding
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}

// contentID derives a stable primary key from content, deduplicating
// identical snippets across turns.
func contentID(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:16])
}
