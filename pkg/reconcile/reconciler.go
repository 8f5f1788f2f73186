// Package reconcile keeps the persisted conversation buffer consistent with
// client-resent snapshots: duplicate user turns are discarded, edited
// assistant replies are collapsed in place, and everything else appends.
package reconcile

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/parchmentco/ledger/pkg/chat"
	"github.com/parchmentco/ledger/pkg/eventstream"
	"github.com/parchmentco/ledger/pkg/storage"
)

// Reconciler serializes reconcile calls per conversation key and applies the
// decision procedure inside one transaction per call.
type Reconciler struct {
	messages        storage.MessageStore
	events          eventstream.Publisher
	log             *zap.Logger
	primaryPlatform string

	mu   sync.Mutex
	keys map[string]*sync.Mutex
}

// New creates a reconciler. primaryPlatform names the bidirectional chat
// platform whose snapshots carry resend/edit semantics; every other platform
// is treated as a fire-and-forget log and always appends.
func New(messages storage.MessageStore, events eventstream.Publisher, log *zap.Logger, primaryPlatform string) *Reconciler {
	return &Reconciler{
		messages:        messages,
		events:          events,
		log:             log,
		primaryPlatform: primaryPlatform,
		keys:            make(map[string]*sync.Mutex),
	}
}

// lock acquires the per-conversation mutex, creating it on first use.
func (r *Reconciler) lock(conversationKey string) func() {
	r.mu.Lock()
	m, ok := r.keys[conversationKey]
	if !ok {
		m = &sync.Mutex{}
		r.keys[conversationKey] = m
	}
	r.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Reconcile merges the client's snapshot into the persisted buffer and
// returns the canonical buffer. An empty snapshot is a no-op returning an
// empty result. Callers get either the updated buffer or an error, never a
// half-applied one.
func (r *Reconciler) Reconcile(ctx context.Context, conversationKey, platform string, snapshot []chat.RawMessage) ([]chat.Message, error) {
	if len(snapshot) == 0 {
		return nil, nil
	}

	lastIn := snapshot[len(snapshot)-1]
	if !lastIn.Role.Valid() {
		return nil, chat.ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", lastIn.Role)}
	}

	unlock := r.lock(conversationKey)
	defer unlock()

	var (
		buffer   []chat.Message
		decision Decision
	)

	err := r.messages.Transact(ctx, func(tx storage.MessageStore) error {
		current, err := tx.ListByConversation(ctx, conversationKey)
		if err != nil {
			return err
		}

		decision = r.decide(current, platform, snapshot)

		switch decision.Kind {
		case KindNoop:
			buffer = current
			return nil

		case KindSeed, KindAppend:
			if _, err := tx.Append(ctx, rawToMessage(conversationKey, platform, lastIn)); err != nil {
				return err
			}

		case KindExactResend:
			if decision.DeleteFromID == 0 {
				buffer = current
				return nil
			}
			if err := tx.DeleteFrom(ctx, conversationKey, decision.DeleteFromID); err != nil {
				return err
			}

		case KindDuplicateUser:
			if err := tx.DeleteFrom(ctx, conversationKey, decision.DeleteFromID); err != nil {
				return err
			}
			if _, err := tx.Append(ctx, rawToMessage(conversationKey, platform, lastIn)); err != nil {
				return err
			}

		case KindAssistantEdit:
			if err := tx.UpdateContent(ctx, decision.EditID, lastIn.Content); err != nil {
				return err
			}
		}

		buffer, err = tx.ListByConversation(ctx, conversationKey)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.publishPersisted(ctx, conversationKey, platform, decision, buffer)

	return buffer, nil
}

// decide applies the primary-platform decision table, or the append-only
// path for every other platform.
func (r *Reconciler) decide(current []chat.Message, platform string, snapshot []chat.RawMessage) Decision {
	if platform == r.primaryPlatform {
		return Decide(current, snapshot)
	}
	if len(current) == 0 {
		return Decision{Kind: KindSeed}
	}
	return Decision{Kind: KindAppend}
}

// RecordToolCall appends an assistant row carrying the tool call payload,
// followed by the tool's output row, in one transaction. Not reentrant;
// callers must not double-submit the same tool round-trip.
func (r *Reconciler) RecordToolCall(ctx context.Context, conversationKey, platform, model string, toolCalls []byte, output, toolCallID string) error {
	unlock := r.lock(conversationKey)
	defer unlock()

	return r.messages.Transact(ctx, func(tx storage.MessageStore) error {
		if _, err := tx.Append(ctx, chat.Message{
			ConversationKey: conversationKey,
			Platform:        platform,
			Role:            chat.RoleAssistant,
			Model:           model,
			ToolCalls:       toolCalls,
		}); err != nil {
			return err
		}

		_, err := tx.Append(ctx, chat.Message{
			ConversationKey: conversationKey,
			Platform:        platform,
			Role:            chat.RoleTool,
			Content:         output,
			ToolCallID:      toolCallID,
		})
		return err
	})
}

// RecordAssistant appends an assistant-only message. It rejects the append
// when the buffer already ends in a non-empty assistant turn so two
// consecutive assistant replies never coexist.
func (r *Reconciler) RecordAssistant(ctx context.Context, conversationKey, platform, model, content string) (chat.Message, error) {
	unlock := r.lock(conversationKey)
	defer unlock()

	var appended chat.Message
	err := r.messages.Transact(ctx, func(tx storage.MessageStore) error {
		tail, err := tx.Tail(ctx, conversationKey, 1)
		if err != nil {
			return err
		}
		if len(tail) == 1 && tail[0].Role == chat.RoleAssistant && tail[0].Content != "" {
			return chat.ValidationError{Field: "role", Reason: "buffer already ends in an assistant message"}
		}

		appended, err = tx.Append(ctx, chat.Message{
			ConversationKey: conversationKey,
			Platform:        platform,
			Role:            chat.RoleAssistant,
			Model:           model,
			Content:         content,
		})
		return err
	})
	if err != nil {
		return chat.Message{}, err
	}

	return appended, nil
}

// publishPersisted emits the persisted-snapshot event. Publishing is best
// effort; a failed publish is logged, never surfaced to the caller.
func (r *Reconciler) publishPersisted(ctx context.Context, conversationKey, platform string, decision Decision, buffer []chat.Message) {
	if r.events == nil || decision.Kind == KindNoop {
		return
	}

	event := &eventstream.MessagePersistedEvent{
		Envelope:        eventstream.NewEnvelope(eventstream.EventTypeMessagePersisted),
		ConversationKey: conversationKey,
		Platform:        platform,
		Decision:        decision.Kind.String(),
		Messages:        buffer,
	}
	if err := r.events.PublishMessagePersisted(ctx, event); err != nil {
		r.log.Warn("publishing persisted event",
			zap.String("conversation_key", conversationKey),
			zap.Error(err),
		)
	}
}

func rawToMessage(conversationKey, platform string, raw chat.RawMessage) chat.Message {
	return chat.Message{
		ConversationKey: conversationKey,
		Platform:        platform,
		PlatformMsgID:   raw.PlatformMsgID,
		Role:            raw.Role,
		Content:         raw.Content,
		Model:           raw.Model,
		ToolCalls:       raw.ToolCalls,
		FunctionCall:    raw.FunctionCall,
		ToolCallID:      raw.ToolCallID,
	}
}
