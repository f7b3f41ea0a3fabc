package chat

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// PGVectorRetriever serves the knowledge base stored in the documents
// table, nearest neighbours first.
type PGVectorRetriever struct {
	pool     *pgxpool.Pool
	embedder Embedder
	logger   *zap.Logger
}

func NewPGVectorRetriever(ctx context.Context, dsn string, embedder Embedder, logger *zap.Logger) (*PGVectorRetriever, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to knowledge base")

	return &PGVectorRetriever{
		pool:     pool,
		embedder: embedder,
		logger:   logger,
	}, nil
}

// EnsureSchema creates the pgvector extension and the documents table.
func (r *PGVectorRetriever) EnsureSchema(ctx context.Context, dimensions int) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
			id BIGSERIAL PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, dimensions),
	}

	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// AddDocument embeds and stores one passage.
func (r *PGVectorRetriever) AddDocument(ctx context.Context, content string) (int64, error) {
	embedding, err := r.embedder.Embed(ctx, content)
	if err != nil {
		return 0, err
	}

	var id int64
	err = r.pool.QueryRow(ctx,
		`INSERT INTO documents (content, embedding) VALUES ($1, $2) RETURNING id`,
		content, pgvector.NewVector(embedding)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to store document: %w", err)
	}
	return id, nil
}

func (r *PGVectorRetriever) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT content FROM documents ORDER BY embedding <-> $1 LIMIT $2`,
		pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	defer rows.Close()

	var passages []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		passages = append(passages, content)
	}

	return passages, rows.Err()
}

func (r *PGVectorRetriever) Close() {
	r.pool.Close()
}
