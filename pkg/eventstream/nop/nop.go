package nop

import (
	"context"

	"github.com/parchmentco/ledger/pkg/eventstream"
)

// Publisher is a no-op eventstream publisher used for tests and disabled mode.
type Publisher struct{}

// NewPublisher creates a new no-op eventstream publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// PublishMessagePersisted validates input and otherwise does nothing.
func (p *Publisher) PublishMessagePersisted(_ context.Context, event *eventstream.MessagePersistedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	return nil
}

// PublishConsolidationCompleted validates input and otherwise does nothing.
func (p *Publisher) PublishConsolidationCompleted(_ context.Context, event *eventstream.ConsolidationCompletedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	return nil
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}
