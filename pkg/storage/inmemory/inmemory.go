// Package inmemory provides a map-backed storage driver. It backs unit
// tests and local development; the sqlite and postgres drivers are the
// durable backends.
package inmemory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parchmentco/ledger/pkg/chat"
	"github.com/parchmentco/ledger/pkg/storage"
)

// state is the mutable store contents. Transact clones it so a failed
// transaction leaves the committed state untouched.
type state struct {
	nextID   int64
	messages map[string][]chat.Message // conversation key -> messages ordered by id
	topics   map[string]chat.Topic
	memories map[string]chat.Memory
}

func newState() *state {
	return &state{
		nextID:   1,
		messages: make(map[string][]chat.Message),
		topics:   make(map[string]chat.Topic),
		memories: make(map[string]chat.Memory),
	}
}

func (s *state) clone() *state {
	c := newState()
	c.nextID = s.nextID
	for k, msgs := range s.messages {
		c.messages[k] = append([]chat.Message(nil), msgs...)
	}
	for id, t := range s.topics {
		c.topics[id] = t
	}
	for id, m := range s.memories {
		mem := m
		mem.Keywords = append([]string(nil), m.Keywords...)
		c.memories[id] = mem
	}
	return c
}

// Driver implements storage.Driver using in-process maps guarded by a
// single RWMutex.
type Driver struct {
	mu sync.RWMutex
	st *state
}

// NewDriver creates an empty in-memory driver.
func NewDriver() *Driver {
	return &Driver{st: newState()}
}

// Messages returns the message store view.
func (d *Driver) Messages() storage.MessageStore { return &messageStore{d: d} }

// Topics returns the topic store view.
func (d *Driver) Topics() storage.TopicStore { return &topicStore{d: d} }

// Memories returns the memory store view.
func (d *Driver) Memories() storage.MemoryStore { return &memoryStore{d: d} }

// Close is a no-op for the in-memory driver.
func (d *Driver) Close() error { return nil }

// ---- messages ----

type messageStore struct {
	d *Driver

	// tx is non-nil inside a Transact call; operations then work on the
	// transaction's cloned state without re-locking.
	tx *state
}

func (m *messageStore) run(write bool, fn func(st *state) error) error {
	if m.tx != nil {
		return fn(m.tx)
	}
	if write {
		m.d.mu.Lock()
		defer m.d.mu.Unlock()
	} else {
		m.d.mu.RLock()
		defer m.d.mu.RUnlock()
	}
	return fn(m.d.st)
}

func (m *messageStore) Append(_ context.Context, msg chat.Message) (chat.Message, error) {
	err := m.run(true, func(st *state) error {
		now := time.Now().UTC()
		msg.ID = st.nextID
		st.nextID++
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		msg.UpdatedAt = msg.CreatedAt
		st.messages[msg.ConversationKey] = append(st.messages[msg.ConversationKey], msg)
		return nil
	})
	return msg, err
}

func (m *messageStore) UpdateContent(_ context.Context, id int64, content string) error {
	return m.run(true, func(st *state) error {
		for key, msgs := range st.messages {
			for i := range msgs {
				if msgs[i].ID == id {
					msgs[i].Content = content
					msgs[i].UpdatedAt = time.Now().UTC()
					st.messages[key] = msgs
					return nil
				}
			}
		}
		return storage.NotFoundError{Entity: "message", ID: formatID(id)}
	})
}

func (m *messageStore) DeleteByID(_ context.Context, id int64) error {
	return m.run(true, func(st *state) error {
		for key, msgs := range st.messages {
			for i := range msgs {
				if msgs[i].ID == id {
					st.messages[key] = append(msgs[:i:i], msgs[i+1:]...)
					return nil
				}
			}
		}
		return storage.NotFoundError{Entity: "message", ID: formatID(id)}
	})
}

func (m *messageStore) DeleteFrom(_ context.Context, conversationKey string, fromID int64) error {
	return m.run(true, func(st *state) error {
		msgs := st.messages[conversationKey]
		kept := msgs[:0]
		for _, msg := range msgs {
			if msg.ID < fromID {
				kept = append(kept, msg)
			}
		}
		st.messages[conversationKey] = kept
		return nil
	})
}

func (m *messageStore) ListByConversation(_ context.Context, conversationKey string) ([]chat.Message, error) {
	var out []chat.Message
	err := m.run(false, func(st *state) error {
		out = append([]chat.Message(nil), st.messages[conversationKey]...)
		return nil
	})
	return out, err
}

func (m *messageStore) Tail(ctx context.Context, conversationKey string, n int) ([]chat.Message, error) {
	msgs, err := m.ListByConversation(ctx, conversationKey)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

func (m *messageStore) ListByTopic(_ context.Context, topicID string) ([]chat.Message, error) {
	var out []chat.Message
	err := m.run(false, func(st *state) error {
		for _, msgs := range st.messages {
			for _, msg := range msgs {
				if msg.TopicID != nil && *msg.TopicID == topicID {
					out = append(out, msg)
				}
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return nil
	})
	return out, err
}

func (m *messageStore) AssignTopicByTimeRange(_ context.Context, conversationKey, topicID string, start, end time.Time) (int, error) {
	count := 0
	err := m.run(true, func(st *state) error {
		msgs := st.messages[conversationKey]
		for i := range msgs {
			at := msgs[i].CreatedAt
			if !at.Before(start) && !at.After(end) {
				id := topicID
				msgs[i].TopicID = &id
				count++
			}
		}
		st.messages[conversationKey] = msgs
		return nil
	})
	return count, err
}

func (m *messageStore) ReassignTopic(_ context.Context, fromTopicID, toTopicID string) error {
	return m.run(true, func(st *state) error {
		for key, msgs := range st.messages {
			for i := range msgs {
				if msgs[i].TopicID != nil && *msgs[i].TopicID == fromTopicID {
					id := toTopicID
					msgs[i].TopicID = &id
				}
			}
			st.messages[key] = msgs
		}
		return nil
	})
}

func (m *messageStore) Transact(_ context.Context, fn func(storage.MessageStore) error) error {
	if m.tx != nil {
		// Already transactional; run directly.
		return fn(m)
	}

	m.d.mu.Lock()
	defer m.d.mu.Unlock()

	tx := m.d.st.clone()
	if err := fn(&messageStore{d: m.d, tx: tx}); err != nil {
		return err
	}
	m.d.st = tx
	return nil
}

// ---- topics ----

type topicStore struct {
	d *Driver
}

func (t *topicStore) Create(_ context.Context, name string) (chat.Topic, error) {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()

	if name = strings.TrimSpace(name); name == "" {
		return chat.Topic{}, chat.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	for _, existing := range t.d.st.topics {
		if strings.EqualFold(existing.Name, name) {
			return chat.Topic{}, chat.ValidationError{Field: "name", Reason: "topic already exists: " + existing.Name}
		}
	}

	topic := chat.Topic{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	t.d.st.topics[topic.ID] = topic
	return topic, nil
}

func (t *topicStore) Get(_ context.Context, id string) (chat.Topic, error) {
	t.d.mu.RLock()
	defer t.d.mu.RUnlock()

	topic, ok := t.d.st.topics[id]
	if !ok {
		return chat.Topic{}, storage.NotFoundError{Entity: "topic", ID: id}
	}
	return topic, nil
}

func (t *topicStore) GetByName(_ context.Context, name string) (chat.Topic, error) {
	t.d.mu.RLock()
	defer t.d.mu.RUnlock()

	for _, topic := range t.d.st.topics {
		if strings.EqualFold(topic.Name, name) {
			return topic, nil
		}
	}
	return chat.Topic{}, storage.NotFoundError{Entity: "topic", ID: name}
}

func (t *topicStore) FindOrCreateByName(ctx context.Context, name string) (chat.Topic, bool, error) {
	if topic, err := t.GetByName(ctx, name); err == nil {
		return topic, false, nil
	}
	topic, err := t.Create(ctx, name)
	if err != nil {
		return chat.Topic{}, false, err
	}
	return topic, true, nil
}

func (t *topicStore) Rename(_ context.Context, id, name string) error {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()

	topic, ok := t.d.st.topics[id]
	if !ok {
		return storage.NotFoundError{Entity: "topic", ID: id}
	}
	topic.Name = name
	t.d.st.topics[id] = topic
	return nil
}

func (t *topicStore) Delete(_ context.Context, id string) error {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()

	if _, ok := t.d.st.topics[id]; !ok {
		return storage.NotFoundError{Entity: "topic", ID: id}
	}
	delete(t.d.st.topics, id)
	return nil
}

func (t *topicStore) List(_ context.Context) ([]chat.Topic, error) {
	t.d.mu.RLock()
	defer t.d.mu.RUnlock()

	out := make([]chat.Topic, 0, len(t.d.st.topics))
	for _, topic := range t.d.st.topics {
		out = append(out, topic)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---- memories ----

type memoryStore struct {
	d *Driver
}

func (m *memoryStore) Create(_ context.Context, mem chat.Memory) (chat.Memory, error) {
	keywords, category, err := chat.ValidateNewMemory(mem.Memory, mem.Keywords, string(mem.Category))
	if err != nil {
		return chat.Memory{}, err
	}

	m.d.mu.Lock()
	defer m.d.mu.Unlock()

	mem.ID = uuid.NewString()
	mem.Keywords = keywords
	mem.Category = category
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now().UTC()
	}
	mem.AccessCount = 0
	mem.LastAccessed = nil
	m.d.st.memories[mem.ID] = mem
	return mem, nil
}

func (m *memoryStore) Get(_ context.Context, id string) (chat.Memory, error) {
	m.d.mu.RLock()
	defer m.d.mu.RUnlock()

	mem, ok := m.d.st.memories[id]
	if !ok {
		return chat.Memory{}, storage.NotFoundError{Entity: "memory", ID: id}
	}
	mem.Keywords = append([]string(nil), mem.Keywords...)
	return mem, nil
}

func (m *memoryStore) Patch(_ context.Context, id string, p chat.MemoryPatch) (chat.Memory, error) {
	// Validate before touching state.
	var category chat.Category
	if p.Category != nil {
		var err error
		category, err = chat.ParseCategory(*p.Category)
		if err != nil {
			return chat.Memory{}, err
		}
	}
	if p.Memory != nil && strings.TrimSpace(*p.Memory) == "" {
		return chat.Memory{}, chat.ValidationError{Field: "memory", Reason: "must not be empty"}
	}

	m.d.mu.Lock()
	defer m.d.mu.Unlock()

	mem, ok := m.d.st.memories[id]
	if !ok {
		return chat.Memory{}, storage.NotFoundError{Entity: "memory", ID: id}
	}

	if p.Memory != nil {
		mem.Memory = *p.Memory
	}
	if p.Keywords != nil {
		mem.Keywords = chat.NormalizeKeywords(p.Keywords)
	}
	if p.Category != nil {
		mem.Category = category
	}
	if p.TopicID != nil {
		if *p.TopicID == "" {
			mem.TopicID = nil
		} else {
			topicID := *p.TopicID
			mem.TopicID = &topicID
		}
	}

	m.d.st.memories[id] = mem
	return mem, nil
}

func (m *memoryStore) Delete(_ context.Context, id string) error {
	m.d.mu.Lock()
	defer m.d.mu.Unlock()

	if _, ok := m.d.st.memories[id]; !ok {
		return storage.NotFoundError{Entity: "memory", ID: id}
	}
	delete(m.d.st.memories, id)
	return nil
}

func (m *memoryStore) List(_ context.Context) ([]chat.Memory, error) {
	m.d.mu.RLock()
	defer m.d.mu.RUnlock()
	return m.collect(func(chat.Memory) bool { return true }), nil
}

func (m *memoryStore) ListByTopic(_ context.Context, topicID string) ([]chat.Memory, error) {
	m.d.mu.RLock()
	defer m.d.mu.RUnlock()
	return m.collect(func(mem chat.Memory) bool {
		return mem.TopicID != nil && *mem.TopicID == topicID
	}), nil
}

func (m *memoryStore) ListByKeywordOverlap(_ context.Context, keywords []string) ([]chat.Memory, error) {
	normalized := chat.NormalizeKeywords(keywords)

	m.d.mu.RLock()
	defer m.d.mu.RUnlock()
	return m.collect(func(mem chat.Memory) bool {
		return chat.SharedKeywords(mem.Keywords, normalized) > 0
	}), nil
}

func (m *memoryStore) ReassignTopic(_ context.Context, fromTopicID, toTopicID string) error {
	m.d.mu.Lock()
	defer m.d.mu.Unlock()

	for id, mem := range m.d.st.memories {
		if mem.TopicID != nil && *mem.TopicID == fromTopicID {
			topicID := toTopicID
			mem.TopicID = &topicID
			m.d.st.memories[id] = mem
		}
	}
	return nil
}

func (m *memoryStore) Touch(_ context.Context, ids []string) error {
	m.d.mu.Lock()
	defer m.d.mu.Unlock()

	now := time.Now().UTC()
	for _, id := range ids {
		mem, ok := m.d.st.memories[id]
		if !ok {
			continue
		}
		mem.AccessCount++
		mem.LastAccessed = &now
		m.d.st.memories[id] = mem
	}
	return nil
}

// collect gathers matching memories sorted by creation time. Callers must
// hold at least the read lock.
func (m *memoryStore) collect(match func(chat.Memory) bool) []chat.Memory {
	out := make([]chat.Memory, 0)
	for _, mem := range m.d.st.memories {
		if match(mem) {
			mem.Keywords = append([]string(nil), mem.Keywords...)
			out = append(out, mem)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
