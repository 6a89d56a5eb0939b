// Package postgres stores memories in PostgreSQL using the same table the
// assistant has always used, so existing databases can be pointed at directly.
package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lazypower/recall/internal/store"
	"github.com/m-mizutani/goerr/v2"
)

const schema = `
CREATE TABLE IF NOT EXISTS memories (
    id SERIAL PRIMARY KEY,
    timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    content TEXT
)`

// Store is a Memory Store backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and ensures the memories table exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, goerr.Wrap(err, "ping postgres")
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, goerr.Wrap(err, "create memories table")
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Create inserts a memory and returns its id.
func (s *Store) Create(ctx context.Context, content string) (int64, error) {
	if strings.TrimSpace(content) == "" {
		return 0, store.ErrEmptyMemory
	}

	var id int32
	err := s.pool.QueryRow(ctx,
		"INSERT INTO memories (content) VALUES ($1) RETURNING id", content,
	).Scan(&id)
	if err != nil {
		return 0, goerr.Wrap(err, "insert memory")
	}
	return int64(id), nil
}

// ListAll returns every memory, newest first. Rows with NULL content are skipped.
func (s *Store) ListAll(ctx context.Context) ([]store.Memory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, COALESCE(timestamp, to_timestamp(0)), content
		FROM memories
		WHERE content IS NOT NULL AND btrim(content) <> ''
		ORDER BY timestamp DESC NULLS LAST, id DESC
	`)
	if err != nil {
		return nil, goerr.Wrap(err, "list memories")
	}
	defer rows.Close()

	var memories []store.Memory
	for rows.Next() {
		var m store.Memory
		var id int32
		if err := rows.Scan(&id, &m.CreatedAt, &m.Content); err != nil {
			return nil, goerr.Wrap(err, "scan memory")
		}
		m.ID = int64(id)
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "iterate memories")
	}
	return memories, nil
}

// Count returns the number of stored memories.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM memories WHERE content IS NOT NULL AND btrim(content) <> ''",
	).Scan(&n); err != nil {
		return 0, goerr.Wrap(err, "count memories")
	}
	return int(n), nil
}
