package eventstream

import (
	"time"

	"github.com/google/uuid"

	"github.com/parchmentco/ledger/pkg/chat"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeMessagePersisted is emitted after a reconcile pass persists
	// one or more messages for a conversation.
	EventTypeMessagePersisted = "ledger.message.persisted"

	// EventTypeConsolidationCompleted is emitted after a consolidation run
	// finishes, whether or not any batch was committed.
	EventTypeConsolidationCompleted = "ledger.consolidation.completed"
)

// Envelope carries the fields shared by every event payload.
type Envelope struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`
}

// NewEnvelope stamps a fresh envelope for the given event type.
func NewEnvelope(eventType string) Envelope {
	return Envelope{
		SchemaVersion: SchemaVersionV1,
		EventType:     eventType,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
	}
}

// MessagePersistedEvent is a transport-neutral payload for a persisted
// conversation snapshot.
type MessagePersistedEvent struct {
	Envelope

	ConversationKey string         `json:"conversation_key"`
	Platform        string         `json:"platform"`
	Decision        string         `json:"decision"`
	Messages        []chat.Message `json:"messages,omitempty"`
}

// ConsolidationCompletedEvent is a transport-neutral payload for a finished
// consolidation run.
type ConsolidationCompletedEvent struct {
	Envelope

	RunID          string `json:"run_id"`
	DryRun         bool   `json:"dry_run"`
	BatchesPlanned int    `json:"batches_planned"`
	BatchesFailed  int    `json:"batches_failed"`
	Updated        int    `json:"updated"`
	Deleted        int    `json:"deleted"`
	DurationMs     int64  `json:"duration_ms"`
}
