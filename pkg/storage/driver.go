// Package storage defines the persistence interfaces for the ledger's
// three entity stores and the errors they share. Concrete drivers live in
// the sqlite, postgres, and inmemory subpackages.
package storage

import (
	"context"
	"time"

	"github.com/parchmentco/ledger/pkg/chat"
)

// Driver bundles the three entity stores behind one backend handle.
type Driver interface {
	Messages() MessageStore
	Topics() TopicStore
	Memories() MemoryStore

	// Close closes the backend and releases any resources.
	Close() error
}

// MessageStore persists the append-only per-conversation message log.
// The buffer reconciler is the only writer; ids are store-assigned and
// strictly increase within a conversation.
type MessageStore interface {
	// Append persists a new message, assigning its id and timestamps,
	// and returns the canonical row.
	Append(ctx context.Context, msg chat.Message) (chat.Message, error)

	// UpdateContent mutates a message's content and updated_at in place.
	// Used only to correct the trailing assistant message of a turn.
	UpdateContent(ctx context.Context, id int64, content string) error

	// DeleteByID removes a single message.
	DeleteByID(ctx context.Context, id int64) error

	// DeleteFrom removes every message of a conversation with id >= fromID.
	DeleteFrom(ctx context.Context, conversationKey string, fromID int64) error

	// ListByConversation returns a conversation's messages ordered by id.
	ListByConversation(ctx context.Context, conversationKey string) ([]chat.Message, error)

	// Tail returns the last n messages of a conversation ordered by id.
	Tail(ctx context.Context, conversationKey string, n int) ([]chat.Message, error)

	// ListByTopic returns all messages assigned to a topic, ordered by id.
	ListByTopic(ctx context.Context, topicID string) ([]chat.Message, error)

	// AssignTopicByTimeRange sets the topic of every message of the
	// conversation created within [start, end]. Returns the number of
	// messages assigned.
	AssignTopicByTimeRange(ctx context.Context, conversationKey, topicID string, start, end time.Time) (int, error)

	// ReassignTopic moves every message of fromTopicID to toTopicID.
	ReassignTopic(ctx context.Context, fromTopicID, toTopicID string) error

	// Transact runs fn against a transaction-scoped MessageStore. All
	// writes inside fn commit or roll back together.
	Transact(ctx context.Context, fn func(MessageStore) error) error
}

// TopicStore persists named clusters of messages and memories.
type TopicStore interface {
	// Create persists a new topic with the given name.
	Create(ctx context.Context, name string) (chat.Topic, error)

	// Get retrieves a topic by id.
	Get(ctx context.Context, id string) (chat.Topic, error)

	// GetByName retrieves a topic by case-insensitive exact name match.
	GetByName(ctx context.Context, name string) (chat.Topic, error)

	// FindOrCreateByName returns the topic matching name (case-insensitive
	// exact) or creates it. The bool reports whether a new topic was created.
	FindOrCreateByName(ctx context.Context, name string) (chat.Topic, bool, error)

	// Rename changes a topic's name.
	Rename(ctx context.Context, id, name string) error

	// Delete removes a topic. Callers must reassign associated messages
	// and memories first; deleting an associated topic orphans them.
	Delete(ctx context.Context, id string) error

	// List returns all topics.
	List(ctx context.Context) ([]chat.Topic, error)
}

// MemoryStore persists extracted memories. The consolidation engine is
// the only component permitted to delete rows.
type MemoryStore interface {
	// Create validates and persists a new memory, assigning id and
	// created_at, and returns the canonical row.
	Create(ctx context.Context, m chat.Memory) (chat.Memory, error)

	// Get retrieves a memory by id.
	Get(ctx context.Context, id string) (chat.Memory, error)

	// Patch applies a partial update. Nil patch fields are untouched.
	// Invalid categories are rejected before any mutation.
	Patch(ctx context.Context, id string, p chat.MemoryPatch) (chat.Memory, error)

	// Delete removes a memory and its keyword associations.
	Delete(ctx context.Context, id string) error

	// List returns all memories ordered by created_at.
	List(ctx context.Context) ([]chat.Memory, error)

	// ListByTopic returns memories associated with the topic.
	ListByTopic(ctx context.Context, topicID string) ([]chat.Memory, error)

	// ListByKeywordOverlap returns memories sharing at least one keyword
	// with the given (normalized) set.
	ListByKeywordOverlap(ctx context.Context, keywords []string) ([]chat.Memory, error)

	// ReassignTopic moves every memory of fromTopicID to toTopicID.
	ReassignTopic(ctx context.Context, fromTopicID, toTopicID string) error

	// Touch increments access counts and stamps last_accessed for the ids.
	Touch(ctx context.Context, ids []string) error
}
