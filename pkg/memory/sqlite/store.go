// Package sqlite provides the default persistent [memory.Store]: one embedded
// SQLite database per collection directory, using the pure-Go
// modernc.org/sqlite driver.
//
// Embeddings are stored as little-endian float32 BLOBs. Similarity search is
// a full scan ranked in process, which is plenty for the few thousand
// records a single avatar accumulates.
//
// Usage:
//
//	conv, err := sqlite.Open(ctx, filepath.Join(dataDir, memory.CollectionConversation), embedder)
//	if err != nil { … }
//	defer conv.Close()
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/eggyy1224/space-live-project-sub000/pkg/memory"
	"github.com/eggyy1224/space-live-project-sub000/pkg/provider/embeddings"
)

// DBFile is the database file name inside a collection directory.
const DBFile = "store.db"

// ErrDimensionMismatch is returned by [Open] when the collection was created
// with an embedder of a different dimensionality.
var ErrDimensionMismatch = errors.New("sqlite store: embedding dimensions do not match collection")

const ddl = `
CREATE TABLE IF NOT EXISTS records (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    id         TEXT    NOT NULL UNIQUE,
    text       TEXT    NOT NULL,
    metadata   TEXT    NOT NULL DEFAULT '{}',
    embedding  BLOB,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_created_at ON records (created_at);

CREATE TABLE IF NOT EXISTS collection_info (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

var _ memory.Store = (*Store)(nil)

// Store is a single memory collection persisted in SQLite.
// All methods are safe for concurrent use.
type Store struct {
	db       *sql.DB
	embedder embeddings.Provider
	name     string
	now      func() time.Time
}

// Option configures a [Store].
type Option func(*Store)

// WithClock overrides the clock used to stamp new records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates dir if needed, opens (or creates) the collection database in
// it and runs the schema migration. The collection name is the base name of
// dir.
func Open(ctx context.Context, dir string, embedder embeddings.Provider, opts ...Option) (*Store, error) {
	if embedder == nil {
		return nil, errors.New("sqlite store: embedder must not be nil")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sqlite store: create dir %q: %w", dir, err)
	}

	dsn := "file:" + filepath.Join(dir, DBFile) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// A single connection serialises writers without SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, embedder: embedder, name: filepath.Base(dir), now: time.Now}
	for _, o := range opts {
		o(s)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sqlite store: migrate: %w", err)
	}

	want := strconv.Itoa(s.embedder.Dimensions())
	var got string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM collection_info WHERE key = 'dimensions'`).Scan(&got)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO collection_info (key, value) VALUES ('dimensions', ?), ('model', ?)`,
			want, s.embedder.ModelID())
		if err != nil {
			return fmt.Errorf("sqlite store: record collection info: %w", err)
		}
	case err != nil:
		return fmt.Errorf("sqlite store: read collection info: %w", err)
	case got != want:
		return fmt.Errorf("%w: collection %q has %s, embedder has %s", ErrDimensionMismatch, s.name, got, want)
	}
	return nil
}

// Name returns the collection name.
func (s *Store) Name() string { return s.name }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Add implements [memory.Store].
func (s *Store) Add(ctx context.Context, texts []string, metas []memory.Metadata) ([]string, error) {
	if len(texts) == 0 {
		return []string{}, nil
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: embed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("sqlite store: embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (id, text, metadata, embedding, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: prepare insert: %w", err)
	}
	defer stmt.Close()

	ids := make([]string, len(texts))
	now := s.now()
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
			return nil, fmt.Errorf("sqlite store: marshal metadata: %w", err)
		}
		ids[i] = uuid.NewString()
		if _, err := stmt.ExecContext(ctx, ids[i], text, string(raw), encodeVector(vecs[i]), now.UnixNano()); err != nil {
			return nil, fmt.Errorf("sqlite store: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite store: commit: %w", err)
	}
	return ids, nil
}

// Query implements [memory.Store].
func (s *Store) Query(ctx context.Context, text string, opts memory.QueryOptions) ([]memory.Result, error) {
	q, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: embed query: %w", err)
	}
	records, err := s.scan(ctx, memory.ListOptions{Filter: opts.Filter})
	if err != nil {
		return nil, err
	}
	return memory.SearchVectors(q, records, opts), nil
}

// GetAll implements [memory.Store].
func (s *Store) GetAll(ctx context.Context, opts memory.ListOptions) ([]memory.Record, error) {
	return s.scan(ctx, opts)
}

func (s *Store) scan(ctx context.Context, opts memory.ListOptions) ([]memory.Record, error) {
	var after int64
	if !opts.After.IsZero() {
		after = opts.After.UnixNano()
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, metadata, embedding, created_at FROM records WHERE created_at > ? ORDER BY seq`, after)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: query: %w", err)
	}
	defer rows.Close()

	out := []memory.Record{}
	for rows.Next() {
		var (
			r       memory.Record
			rawMeta string
			blob    []byte
			created int64
		)
		if err := rows.Scan(&r.ID, &r.Text, &rawMeta, &blob, &created); err != nil {
			return nil, fmt.Errorf("sqlite store: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(rawMeta), &r.Metadata); err != nil {
			return nil, fmt.Errorf("sqlite store: decode metadata of %s: %w", r.ID, err)
		}
		r.Embedding = decodeVector(blob)
		r.CreatedAt = time.Unix(0, created)
		if !r.Metadata.Matches(opts.Filter) {
			continue
		}
		out = append(out, r)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: iterate: %w", err)
	}
	return out, nil
}

// Delete implements [memory.Store].
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id); err != nil {
			return fmt.Errorf("sqlite store: delete %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: commit: %w", err)
	}
	return nil
}

// IsEmpty implements [memory.Store].
func (s *Store) IsEmpty(ctx context.Context) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM records)`).Scan(&exists); err != nil {
		return false, fmt.Errorf("sqlite store: is empty: %w", err)
	}
	return !exists, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite store: count: %w", err)
	}
	return n, nil
}

func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
