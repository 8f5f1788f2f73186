// Package extract turns recent conversation activity into topics and
// memories via the LLM oracle. Conversations are marked dirty as they
// change and flushed on a schedule, so one quiet conversation never costs
// an oracle call.
package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/parchmentco/ledger/pkg/chat"
	"github.com/parchmentco/ledger/pkg/embeddings"
	"github.com/parchmentco/ledger/pkg/oracle"
	"github.com/parchmentco/ledger/pkg/storage"
	"github.com/parchmentco/ledger/pkg/vector"
)

const defaultWindow = 200

// Config is the configuration options for the extraction service.
type Config struct {
	Messages storage.MessageStore
	Topics   storage.TopicStore
	Memories storage.MemoryStore
	Oracle   oracle.Oracle

	// Embedder and Vectors index the name of every newly created topic so
	// similar-topic discovery can find it. Both optional; with either
	// missing, topics are not indexed at creation.
	Embedder embeddings.Embedder
	Vectors  vector.Driver

	// Guard holds off topic assignment while a merge is reassigning and
	// deleting topic rows. Share one guard with the consolidation engine;
	// defaults to a process-local guard.
	Guard *storage.TopicGuard

	// Window is how many trailing messages of a conversation are offered
	// to the oracle per extraction (defaults to 200).
	Window int

	Logger *zap.Logger
}

// Result summarizes one conversation's extraction pass.
type Result struct {
	ConversationKey  string   `json:"conversation_key"`
	TopicIDs         []string `json:"topic_ids"`
	TopicsCreated    int      `json:"topics_created"`
	MemoriesCreated  int      `json:"memories_created"`
	MessagesAssigned int      `json:"messages_assigned"`
}

// Service extracts topics and memories from dirty conversations.
type Service struct {
	config *Config
	logger *zap.Logger

	mu    sync.Mutex
	dirty map[string]bool
}

// NewService creates an extraction service.
func NewService(c *Config) (*Service, error) {
	if c.Messages == nil || c.Topics == nil || c.Memories == nil {
		return nil, fmt.Errorf("message, topic, and memory stores are required")
	}
	if c.Oracle == nil {
		return nil, fmt.Errorf("an oracle is required")
	}
	if c.Guard == nil {
		c.Guard = &storage.TopicGuard{}
	}
	if c.Window <= 0 {
		c.Window = defaultWindow
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	return &Service{
		config: c,
		logger: c.Logger,
		dirty:  make(map[string]bool),
	}, nil
}

// MarkDirty flags a conversation for extraction on the next flush.
func (s *Service) MarkDirty(conversationKey string) {
	s.mu.Lock()
	s.dirty[conversationKey] = true
	s.mu.Unlock()
}

// Flush extracts every dirty conversation. A failed conversation is logged
// and left dirty for the next flush; its siblings proceed.
func (s *Service) Flush(ctx context.Context) []Result {
	s.mu.Lock()
	keys := make([]string, 0, len(s.dirty))
	for key := range s.dirty {
		keys = append(keys, key)
	}
	s.dirty = make(map[string]bool)
	s.mu.Unlock()

	var results []Result
	for _, key := range keys {
		result, err := s.ExtractConversation(ctx, key)
		if err != nil {
			s.logger.Warn("extraction failed",
				zap.String("conversation_key", key),
				zap.Error(err),
			)
			s.MarkDirty(key)
			continue
		}
		results = append(results, *result)
	}

	return results
}

// ExtractConversation runs one extraction pass over the conversation's
// trailing window: the oracle segments it into topics, messages in each
// segment's time range are assigned to the topic, and the segment's
// memories are persisted against it.
func (s *Service) ExtractConversation(ctx context.Context, conversationKey string) (*Result, error) {
	result := &Result{ConversationKey: conversationKey}

	messages, err := s.config.Messages.Tail(ctx, conversationKey, s.config.Window)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return result, nil
	}

	resp, err := s.config.Oracle.ExtractTopics(ctx, oracle.ExtractionRequest{
		ConversationKey: conversationKey,
		Messages:        messages,
	})
	if err != nil {
		return nil, err
	}

	// The topic ids held across the writes below must not race a merge
	// that reassigns and deletes topic rows.
	s.config.Guard.BeginAssign()
	defer s.config.Guard.EndAssign()

	for _, extracted := range resp.Topics {
		// Extend-vs-create is a case-insensitive exact name match; near
		// duplicates are left for the consolidation merge pass.
		topic, created, err := s.config.Topics.FindOrCreateByName(ctx, extracted.Topic)
		if err != nil {
			return nil, err
		}
		result.TopicIDs = append(result.TopicIDs, topic.ID)
		if created {
			result.TopicsCreated++
			s.indexTopic(ctx, topic)
		}

		assigned, err := s.config.Messages.AssignTopicByTimeRange(ctx, conversationKey, topic.ID, extracted.Start, extracted.End)
		if err != nil {
			return nil, err
		}
		result.MessagesAssigned += assigned

		for _, m := range extracted.Memories {
			topicID := topic.ID
			_, err := s.config.Memories.Create(ctx, chat.Memory{
				Memory:   m.Memory,
				Keywords: m.Keywords,
				Category: chat.Category(m.Category),
				TopicID:  &topicID,
			})
			if err != nil {
				var verr chat.ValidationError
				if errors.As(err, &verr) {
					// The oracle produced an invalid memory; drop it
					// loudly and keep the rest of the segment.
					s.logger.Warn("discarding invalid extracted memory",
						zap.String("conversation_key", conversationKey),
						zap.String("topic", extracted.Topic),
						zap.Error(err),
					)
					continue
				}
				return nil, err
			}
			result.MemoriesCreated++
		}
	}

	s.logger.Info("extracted conversation",
		zap.String("conversation_key", conversationKey),
		zap.Int("topics_created", result.TopicsCreated),
		zap.Int("memories_created", result.MemoriesCreated),
		zap.Int("messages_assigned", result.MessagesAssigned),
	)

	return result, nil
}

// indexTopic stores the topic-name embedding so similar-topic discovery
// sees the topic. Best effort; the discovery pass re-embeds the full
// topic list anyway.
func (s *Service) indexTopic(ctx context.Context, topic chat.Topic) {
	if s.config.Embedder == nil || s.config.Vectors == nil {
		return
	}

	vec, err := s.config.Embedder.Embed(ctx, topic.Name)
	if err != nil {
		s.logger.Warn("embedding topic name", zap.String("topic", topic.Name), zap.Error(err))
		return
	}
	if err := s.config.Vectors.Add(ctx, []vector.Document{{ID: topic.ID, Name: topic.Name, Embedding: vec}}); err != nil {
		s.logger.Warn("indexing topic name", zap.String("topic", topic.Name), zap.Error(err))
	}
}
