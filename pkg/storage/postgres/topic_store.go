package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parchmentco/ledger/pkg/chat"
	"github.com/parchmentco/ledger/pkg/storage"
)

type topicStore struct {
	q querier
}

func (s *topicStore) Create(ctx context.Context, name string) (chat.Topic, error) {
	if name = strings.TrimSpace(name); name == "" {
		return chat.Topic{}, chat.ValidationError{Field: "name", Reason: "must not be empty"}
	}

	topic := chat.Topic{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO topics (id, name, created_at) VALUES ($1, $2, $3)`,
		topic.ID, topic.Name, topic.CreatedAt,
	)
	if err != nil {
		// Unique index on lower(name); pgx surfaces 23505 in the message.
		if strings.Contains(err.Error(), "duplicate key") {
			return chat.Topic{}, chat.ValidationError{Field: "name", Reason: "topic already exists: " + name}
		}
		return chat.Topic{}, fmt.Errorf("inserting topic: %w", err)
	}

	return topic, nil
}

func (s *topicStore) Get(ctx context.Context, id string) (chat.Topic, error) {
	return s.scanOne(
		s.q.QueryRowContext(ctx, `SELECT id, name, created_at FROM topics WHERE id = $1`, id),
		id,
	)
}

func (s *topicStore) GetByName(ctx context.Context, name string) (chat.Topic, error) {
	return s.scanOne(
		s.q.QueryRowContext(ctx, `SELECT id, name, created_at FROM topics WHERE lower(name) = lower($1)`, name),
		name,
	)
}

func (s *topicStore) FindOrCreateByName(ctx context.Context, name string) (chat.Topic, bool, error) {
	topic, err := s.GetByName(ctx, name)
	if err == nil {
		return topic, false, nil
	}
	var nf storage.NotFoundError
	if !errors.As(err, &nf) {
		return chat.Topic{}, false, err
	}

	topic, err = s.Create(ctx, name)
	if err != nil {
		return chat.Topic{}, false, err
	}
	return topic, true, nil
}

func (s *topicStore) Rename(ctx context.Context, id, name string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE topics SET name = $1 WHERE id = $2`, name, id)
	if err != nil {
		return fmt.Errorf("renaming topic: %w", err)
	}
	return requireRow(res, "topic", id)
}

func (s *topicStore) Delete(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM topics WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting topic: %w", err)
	}
	return requireRow(res, "topic", id)
}

func (s *topicStore) List(ctx context.Context) ([]chat.Topic, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name, created_at FROM topics ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing topics: %w", err)
	}
	defer rows.Close()

	var out []chat.Topic
	for rows.Next() {
		var topic chat.Topic
		if err := rows.Scan(&topic.ID, &topic.Name, &topic.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning topic row: %w", err)
		}
		out = append(out, topic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating topic rows: %w", err)
	}
	return out, nil
}

func (s *topicStore) scanOne(row *sql.Row, ref string) (chat.Topic, error) {
	var topic chat.Topic
	if err := row.Scan(&topic.ID, &topic.Name, &topic.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Topic{}, storage.NotFoundError{Entity: "topic", ID: ref}
		}
		return chat.Topic{}, fmt.Errorf("scanning topic: %w", err)
	}
	return topic, nil
}
