// Package sqlite provides the SQLite-backed storage driver using
// hand-written SQL over github.com/mattn/go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/parchmentco/ledger/pkg/storage"
)

// querier is satisfied by both *sql.DB and *sql.Tx so store methods can
// run inside or outside an explicit transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_key TEXT NOT NULL,
	platform TEXT NOT NULL DEFAULT '',
	platform_msg_id TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	tool_calls TEXT,
	function_call TEXT,
	tool_call_id TEXT NOT NULL DEFAULT '',
	topic_id TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_key, id);
CREATE INDEX IF NOT EXISTS idx_messages_topic ON messages (topic_id);

CREATE TABLE IF NOT EXISTS topics (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_topics_name ON topics (lower(name));

CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	memory TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	topic_id TEXT,
	created_at TIMESTAMP NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0,
	last_accessed TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_memories_topic ON memories (topic_id);

CREATE TABLE IF NOT EXISTS memory_keywords (
	memory_id TEXT NOT NULL REFERENCES memories (id) ON DELETE CASCADE,
	keyword TEXT NOT NULL,
	PRIMARY KEY (memory_id, keyword)
);

CREATE INDEX IF NOT EXISTS idx_memory_keywords_keyword ON memory_keywords (keyword);
`

// Driver implements storage.Driver on SQLite.
type Driver struct {
	db *sql.DB
}

// NewDriver opens (or creates) a SQLite database at dbPath and applies
// the schema. Use ":memory:" for an in-memory database.
func NewDriver(dbPath string) (*Driver, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite-specific pragmas
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Driver{db: db}, nil
}

// Messages returns the message store view.
func (d *Driver) Messages() storage.MessageStore { return &messageStore{db: d.db, q: d.db} }

// Topics returns the topic store view.
func (d *Driver) Topics() storage.TopicStore { return &topicStore{q: d.db} }

// Memories returns the memory store view.
func (d *Driver) Memories() storage.MemoryStore { return &memoryStore{db: d.db, q: d.db} }

// Close closes the underlying database handle.
func (d *Driver) Close() error { return d.db.Close() }
