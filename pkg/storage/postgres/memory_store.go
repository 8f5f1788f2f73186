package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parchmentco/ledger/pkg/chat"
	"github.com/parchmentco/ledger/pkg/storage"
)

type memoryStore struct {
	// db is nil when the store is already transaction-scoped.
	db *sql.DB
	q  querier
}

// transact runs fn in one transaction so a memory row never lands
// without its keyword rows.
func (s *memoryStore) transact(ctx context.Context, fn func(*memoryStore) error) error {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(&memoryStore{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back after %w: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *memoryStore) Create(ctx context.Context, mem chat.Memory) (chat.Memory, error) {
	keywords, category, err := chat.ValidateNewMemory(mem.Memory, mem.Keywords, string(mem.Category))
	if err != nil {
		return chat.Memory{}, err
	}

	mem.ID = uuid.NewString()
	mem.Keywords = keywords
	mem.Category = category
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now().UTC()
	}
	mem.AccessCount = 0
	mem.LastAccessed = nil

	err = s.transact(ctx, func(tx *memoryStore) error {
		_, err := tx.q.ExecContext(ctx, `
			INSERT INTO memories (id, memory, category, topic_id, created_at, access_count)
			VALUES ($1, $2, $3, $4, $5, 0)`,
			mem.ID, mem.Memory, string(mem.Category), mem.TopicID, mem.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting memory: %w", err)
		}
		return tx.replaceKeywords(ctx, mem.ID, mem.Keywords)
	})
	if err != nil {
		return chat.Memory{}, err
	}

	return mem, nil
}

func (s *memoryStore) Get(ctx context.Context, id string) (chat.Memory, error) {
	mems, err := s.query(ctx, `WHERE m.id = $1`, id)
	if err != nil {
		return chat.Memory{}, err
	}
	if len(mems) == 0 {
		return chat.Memory{}, storage.NotFoundError{Entity: "memory", ID: id}
	}
	return mems[0], nil
}

func (s *memoryStore) Patch(ctx context.Context, id string, p chat.MemoryPatch) (chat.Memory, error) {
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

	mem, err := s.Get(ctx, id)
	if err != nil {
		return chat.Memory{}, err
	}

	if p.Memory != nil {
		mem.Memory = *p.Memory
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

	err = s.transact(ctx, func(tx *memoryStore) error {
		_, err := tx.q.ExecContext(ctx,
			`UPDATE memories SET memory = $1, category = $2, topic_id = $3 WHERE id = $4`,
			mem.Memory, string(mem.Category), mem.TopicID, id,
		)
		if err != nil {
			return fmt.Errorf("updating memory: %w", err)
		}
		if p.Keywords == nil {
			return nil
		}
		mem.Keywords = chat.NormalizeKeywords(p.Keywords)
		return tx.replaceKeywords(ctx, id, mem.Keywords)
	})
	if err != nil {
		return chat.Memory{}, err
	}

	return mem, nil
}

func (s *memoryStore) Delete(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting memory: %w", err)
	}
	return requireRow(res, "memory", id)
}

func (s *memoryStore) List(ctx context.Context) ([]chat.Memory, error) {
	return s.query(ctx, ``)
}

func (s *memoryStore) ListByTopic(ctx context.Context, topicID string) ([]chat.Memory, error) {
	return s.query(ctx, `WHERE m.topic_id = $1`, topicID)
}

func (s *memoryStore) ListByKeywordOverlap(ctx context.Context, keywords []string) ([]chat.Memory, error) {
	normalized := chat.NormalizeKeywords(keywords)
	if len(normalized) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(normalized))
	args := make([]any, len(normalized))
	for i, k := range normalized {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = k
	}

	return s.query(ctx, `WHERE m.id IN (
		SELECT DISTINCT memory_id FROM memory_keywords WHERE keyword IN (`+strings.Join(placeholders, ", ")+`)
	)`, args...)
}

func (s *memoryStore) ReassignTopic(ctx context.Context, fromTopicID, toTopicID string) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE memories SET topic_id = $1 WHERE topic_id = $2`,
		toTopicID, fromTopicID,
	)
	if err != nil {
		return fmt.Errorf("reassigning memory topic: %w", err)
	}
	return nil
}

func (s *memoryStore) Touch(ctx context.Context, ids []string) error {
	now := time.Now().UTC()
	for _, id := range ids {
		_, err := s.q.ExecContext(ctx,
			`UPDATE memories SET access_count = access_count + 1, last_accessed = $1 WHERE id = $2`,
			now, id,
		)
		if err != nil {
			return fmt.Errorf("touching memory %s: %w", id, err)
		}
	}
	return nil
}

func (s *memoryStore) replaceKeywords(ctx context.Context, memoryID string, keywords []string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM memory_keywords WHERE memory_id = $1`, memoryID); err != nil {
		return fmt.Errorf("clearing memory keywords: %w", err)
	}
	for _, k := range keywords {
		if _, err := s.q.ExecContext(ctx,
			`INSERT INTO memory_keywords (memory_id, keyword) VALUES ($1, $2)`,
			memoryID, k,
		); err != nil {
			return fmt.Errorf("inserting memory keyword: %w", err)
		}
	}
	return nil
}

func (s *memoryStore) query(ctx context.Context, where string, args ...any) ([]chat.Memory, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT m.id, m.memory, m.category, m.topic_id, m.created_at, m.access_count, m.last_accessed
		FROM memories m `+where+` ORDER BY m.created_at, m.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing memories: %w", err)
	}
	defer rows.Close()

	var out []chat.Memory
	for rows.Next() {
		var (
			mem          chat.Memory
			category     string
			topicID      sql.NullString
			lastAccessed sql.NullTime
		)
		if err := rows.Scan(&mem.ID, &mem.Memory, &category, &topicID, &mem.CreatedAt, &mem.AccessCount, &lastAccessed); err != nil {
			return nil, fmt.Errorf("scanning memory row: %w", err)
		}
		mem.Category = chat.Category(category)
		if topicID.Valid {
			id := topicID.String
			mem.TopicID = &id
		}
		if lastAccessed.Valid {
			t := lastAccessed.Time
			mem.LastAccessed = &t
		}
		out = append(out, mem)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memory rows: %w", err)
	}

	for i := range out {
		keywords, err := s.keywordsFor(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Keywords = keywords
	}

	return out, nil
}

func (s *memoryStore) keywordsFor(ctx context.Context, memoryID string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT keyword FROM memory_keywords WHERE memory_id = $1 ORDER BY keyword`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("listing memory keywords: %w", err)
	}
	defer rows.Close()

	var keywords []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning keyword row: %w", err)
		}
		keywords = append(keywords, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating keyword rows: %w", err)
	}
	return keywords, nil
}
