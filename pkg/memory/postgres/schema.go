// Package postgres provides a PostgreSQL/pgvector implementation of
// [memory.Store] for deployments that share memory across hosts.
//
// All collections share a single [pgxpool.Pool]. Each collection lives in its
// own table (memory_<collection>) with an HNSW cosine index. The pgvector
// extension must be available in the target database; [Migrate] installs it
// via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	conv, err := store.Collection(ctx, memory.CollectionConversation, embedder)
package postgres

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
)

var collectionName = regexp.MustCompile(`^[a-z][a-z0-9_]{0,40}$`)

// TableName returns the table that backs collection, or an error when the
// name is not a safe identifier.
func TableName(collection string) (string, error) {
	if !collectionName.MatchString(collection) {
		return "", fmt.Errorf("postgres: invalid collection name %q", collection)
	}
	return "memory_" + collection, nil
}

// ddlCollection returns the DDL for one collection table. The vector
// dimension is baked into the column type at creation time.
func ddlCollection(table string, embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    seq         BIGSERIAL    PRIMARY KEY,
    id          TEXT         NOT NULL UNIQUE,
    text        TEXT         NOT NULL,
    metadata    JSONB        NOT NULL DEFAULT '{}',
    embedding   vector(%[2]d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_created_at
    ON %[1]s (created_at);

CREATE INDEX IF NOT EXISTS idx_%[1]s_metadata
    ON %[1]s USING GIN (metadata);

CREATE INDEX IF NOT EXISTS idx_%[1]s_embedding
    ON %[1]s USING hnsw (embedding vector_cosine_ops);
`, table, embeddingDimensions)
}

// Migrate ensures the vector extension and the table for collection exist.
// It is idempotent and safe to call on every start.
//
// embeddingDimensions must match the embedding model (e.g. 1536 for OpenAI
// text-embedding-3-small). Changing it after the first migration requires a
// manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, collection string, embeddingDimensions int) error {
	table, err := TableName(collection)
	if err != nil {
		return err
	}
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		ddlCollection(table, embeddingDimensions),
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate %s: %w", collection, err)
		}
	}
	return nil
}
