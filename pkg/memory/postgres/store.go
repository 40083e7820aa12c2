package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/eggyy1224/space-live-project-sub000/pkg/memory"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/embeddings"
)

var _ memory.Store = (*Collection)(nil)

// Store owns the connection pool shared by every [Collection].
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
	dims int
}

// NewStore creates a connection pool to the database at dsn and registers
// pgvector types on every connection.
//
// embeddingDimensions must match the output dimension of the embedder passed
// to [Store.Collection].
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	return &Store{pool: pool, dims: embeddingDimensions}, nil
}

// Collection migrates and returns the named collection.
func (s *Store) Collection(ctx context.Context, name string, embedder embeddings.Provider) (*Collection, error) {
	if embedder == nil {
		return nil, fmt.Errorf("postgres store: collection %s: nil embedder", name)
	}
	if d := embedder.Dimensions(); d != s.dims {
		return nil, fmt.Errorf("postgres store: collection %s: embedder has %d dimensions, store has %d", name, d, s.dims)
	}
	if err := Migrate(ctx, s.pool, name, s.dims); err != nil {
		return nil, err
	}
	table, _ := TableName(name)
	return &Collection{pool: s.pool, table: table, embedder: embedder, now: time.Now}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Collection is one memory collection stored in its own table.
type Collection struct {
	pool     *pgxpool.Pool
	table    string
	embedder embeddings.Provider
	now      func() time.Time
}

// Add implements [memory.Store].
func (c *Collection) Add(ctx context.Context, texts []string, metas []memory.Metadata) ([]string, error) {
	if len(texts) == 0 {
		return []string{}, nil
	}
	vecs, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("postgres store: embed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("postgres store: embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}

	q := fmt.Sprintf(`INSERT INTO %s (id, text, metadata, embedding, created_at) VALUES ($1, $2, $3, $4, $5)`, c.table)
	now := c.now()
	ids := make([]string, len(texts))
	batch := &pgx.Batch{}
	for i, text := range texts {
		md := memory.Metadata{}
		if i < len(metas) && metas[i] != nil {
			md = metas[i].Clone()
		}
		if _, ok := md[memory.MetaTimestamp]; !ok {
			md[memory.MetaTimestamp] = now.Format(time.RFC3339)
		}
		raw, err := json.Marshal(md)
		if err != nil {
			return nil, fmt.Errorf("postgres store: marshal metadata: %w", err)
		}
		ids[i] = uuid.NewString()
		batch.Queue(q, ids[i], text, raw, pgvector.NewVector(vecs[i]), now)
	}
	if err := c.pool.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("postgres store: insert: %w", err)
	}
	return ids, nil
}

// Query implements [memory.Store]. The database returns the FetchK nearest
// records by cosine distance; MMR re-ranking happens in process.
func (c *Collection) Query(ctx context.Context, text string, opts memory.QueryOptions) ([]memory.Result, error) {
	opts = opts.Normalize()
	emb, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("postgres store: embed query: %w", err)
	}

	limit := opts.K
	if opts.MMR {
		limit = opts.FetchK
	}
	filter, err := json.Marshal(opts.Filter.Clone())
	if err != nil {
		return nil, fmt.Errorf("postgres store: marshal filter: %w", err)
	}

	q := fmt.Sprintf(`
		SELECT id, text, metadata, embedding, created_at,
		       1 - (embedding <=> $1) AS score
		FROM   %s
		WHERE  metadata @> $2
		ORDER  BY embedding <=> $1
		LIMIT  $3`, c.table)

	rows, err := c.pool.Query(ctx, q, pgvector.NewVector(emb), filter, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query: %w", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Result, error) {
		var (
			r   memory.Result
			vec pgvector.Vector
			raw []byte
		)
		if err := row.Scan(&r.Record.ID, &r.Record.Text, &raw, &vec, &r.Record.CreatedAt, &r.Score); err != nil {
			return memory.Result{}, err
		}
		if err := json.Unmarshal(raw, &r.Record.Metadata); err != nil {
			return memory.Result{}, err
		}
		r.Record.Embedding = vec.Slice()
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if opts.MMR {
		return memory.SelectMMR(emb, results, opts.K, opts.Lambda), nil
	}
	if results == nil {
		results = []memory.Result{}
	}
	return results, nil
}

// GetAll implements [memory.Store].
func (c *Collection) GetAll(ctx context.Context, opts memory.ListOptions) ([]memory.Record, error) {
	filter, err := json.Marshal(opts.Filter.Clone())
	if err != nil {
		return nil, fmt.Errorf("postgres store: marshal filter: %w", err)
	}
	args := []any{filter, opts.After}
	q := fmt.Sprintf(`
		SELECT id, text, metadata, created_at
		FROM   %s
		WHERE  metadata @> $1 AND created_at > $2
		ORDER  BY seq`, c.table)
	if opts.Limit > 0 {
		q += " LIMIT $3"
		args = append(args, opts.Limit)
	}

	rows, err := c.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Record, error) {
		var (
			r   memory.Record
			raw []byte
		)
		if err := row.Scan(&r.ID, &r.Text, &raw, &r.CreatedAt); err != nil {
			return memory.Record{}, err
		}
		return r, json.Unmarshal(raw, &r.Metadata)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if records == nil {
		records = []memory.Record{}
	}
	return records, nil
}

// Delete implements [memory.Store].
func (c *Collection) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, c.table)
	if _, err := c.pool.Exec(ctx, q, ids); err != nil {
		return fmt.Errorf("postgres store: delete: %w", err)
	}
	return nil
}

// IsEmpty implements [memory.Store].
func (c *Collection) IsEmpty(ctx context.Context) (bool, error) {
	var exists bool
	q := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s)`, c.table)
	if err := c.pool.QueryRow(ctx, q).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres store: is empty: %w", err)
	}
	return !exists, nil
}
