package eventstream

import "context"

// Publisher publishes ledger events to an event stream backend.
type Publisher interface {
	PublishMessagePersisted(ctx context.Context, event *MessagePersistedEvent) error
	PublishConsolidationCompleted(ctx context.Context, event *ConsolidationCompletedEvent) error
	Close() error
}
