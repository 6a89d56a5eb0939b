package store

import (
	"github.com/m-mizutani/goerr/v2"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "memories: append-only memory records",
		SQL: `
CREATE TABLE memories (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    content    TEXT NOT NULL CHECK (length(trim(content)) > 0),
    created_at INTEGER NOT NULL
);

CREATE INDEX idx_memories_created ON memories(created_at DESC);
`,
	},
	{
		Version:     2,
		Description: "memory_vectors: embedding projection of memories",
		SQL: `
CREATE TABLE memory_vectors (
    memory_id  INTEGER PRIMARY KEY,
    content    TEXT NOT NULL,
    embedding  BLOB NOT NULL,
    dimensions INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
`,
	},
	{
		Version:     3,
		Description: "memory_vectors: embedder model per vector",
		SQL: `
ALTER TABLE memory_vectors ADD COLUMN model TEXT NOT NULL DEFAULT '';
CREATE INDEX idx_memory_vectors_model ON memory_vectors(model);
`,
	},
}

func (db *DB) migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return goerr.Wrap(err, "create schema_versions")
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return goerr.Wrap(err, "check migration", goerr.V("version", m.Version))
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return goerr.Wrap(err, "begin migration", goerr.V("version", m.Version))
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return goerr.Wrap(err, "apply migration", goerr.V("version", m.Version), goerr.V("description", m.Description))
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return goerr.Wrap(err, "record migration", goerr.V("version", m.Version))
		}

		if err := tx.Commit(); err != nil {
			return goerr.Wrap(err, "commit migration", goerr.V("version", m.Version))
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
