package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Memory is a single user-provided fact. Memories are never mutated.
type Memory struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrEmptyMemory is returned when asked to store blank content.
var ErrEmptyMemory = goerr.New("memory content is empty")

// Create inserts a memory and returns its assigned id.
func (db *DB) Create(ctx context.Context, content string) (int64, error) {
	if strings.TrimSpace(content) == "" {
		return 0, ErrEmptyMemory
	}

	res, err := db.ExecContext(ctx,
		"INSERT INTO memories (content, created_at) VALUES (?, ?)",
		content, time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, goerr.Wrap(err, "insert memory")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, goerr.Wrap(err, "memory id")
	}
	return id, nil
}

// Get returns a memory by id, or nil if not found.
func (db *DB) Get(ctx context.Context, id int64) (*Memory, error) {
	var m Memory
	var created int64
	err := db.QueryRowContext(ctx,
		"SELECT id, content, created_at FROM memories WHERE id = ?", id,
	).Scan(&m.ID, &m.Content, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "get memory", goerr.V("id", id))
	}
	m.CreatedAt = time.UnixMilli(created)
	return &m, nil
}

// ListAll returns every memory, newest first.
func (db *DB) ListAll(ctx context.Context) ([]Memory, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, content, created_at FROM memories ORDER BY created_at DESC, id DESC",
	)
	if err != nil {
		return nil, goerr.Wrap(err, "list memories")
	}
	defer rows.Close()

	var memories []Memory
	for rows.Next() {
		var m Memory
		var created int64
		if err := rows.Scan(&m.ID, &m.Content, &created); err != nil {
			return nil, goerr.Wrap(err, "scan memory")
		}
		m.CreatedAt = time.UnixMilli(created)
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// Count returns the number of stored memories.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&n); err != nil {
		return 0, goerr.Wrap(err, "count memories")
	}
	return n, nil
}
