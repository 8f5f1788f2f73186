package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/parchmentco/ledger/pkg/chat"
	"github.com/parchmentco/ledger/pkg/storage"
)

const messageColumns = `id, conversation_key, platform, platform_msg_id, role, content, model,
	tool_calls, function_call, tool_call_id, topic_id, created_at, updated_at`

type messageStore struct {
	// db is the root handle, used to begin transactions. Nil when the
	// store is already transaction-scoped.
	db *sql.DB
	q  querier
}

func (s *messageStore) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = msg.CreatedAt

	err := s.q.QueryRowContext(ctx, `
		INSERT INTO messages (conversation_key, platform, platform_msg_id, role, content, model,
			tool_calls, function_call, tool_call_id, topic_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		msg.ConversationKey, msg.Platform, msg.PlatformMsgID, string(msg.Role), msg.Content, msg.Model,
		nullRaw(msg.ToolCalls), nullRaw(msg.FunctionCall), msg.ToolCallID, msg.TopicID,
		msg.CreatedAt, msg.UpdatedAt,
	).Scan(&msg.ID)
	if err != nil {
		return chat.Message{}, fmt.Errorf("inserting message: %w", err)
	}

	return msg, nil
}

func (s *messageStore) UpdateContent(ctx context.Context, id int64, content string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE messages SET content = $1, updated_at = $2 WHERE id = $3`,
		content, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating message content: %w", err)
	}
	return requireRow(res, "message", strconv.FormatInt(id, 10))
}

func (s *messageStore) DeleteByID(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return requireRow(res, "message", strconv.FormatInt(id, 10))
}

func (s *messageStore) DeleteFrom(ctx context.Context, conversationKey string, fromID int64) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_key = $1 AND id >= $2`,
		conversationKey, fromID,
	)
	if err != nil {
		return fmt.Errorf("deleting messages from id %d: %w", fromID, err)
	}
	return nil
}

func (s *messageStore) ListByConversation(ctx context.Context, conversationKey string) ([]chat.Message, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_key = $1 ORDER BY id`,
		conversationKey,
	)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (s *messageStore) Tail(ctx context.Context, conversationKey string, n int) ([]chat.Message, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE conversation_key = $1 ORDER BY id DESC LIMIT $2
		) tail ORDER BY id`,
		conversationKey, n,
	)
	if err != nil {
		return nil, fmt.Errorf("listing message tail: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (s *messageStore) ListByTopic(ctx context.Context, topicID string) ([]chat.Message, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE topic_id = $1 ORDER BY id`,
		topicID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing messages by topic: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (s *messageStore) AssignTopicByTimeRange(ctx context.Context, conversationKey, topicID string, start, end time.Time) (int, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE messages SET topic_id = $1
		WHERE conversation_key = $2 AND created_at >= $3 AND created_at <= $4`,
		topicID, conversationKey, start.UTC(), end.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("assigning topic by time range: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return int(affected), nil
}

func (s *messageStore) ReassignTopic(ctx context.Context, fromTopicID, toTopicID string) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE messages SET topic_id = $1 WHERE topic_id = $2`,
		toTopicID, fromTopicID,
	)
	if err != nil {
		return fmt.Errorf("reassigning message topic: %w", err)
	}
	return nil
}

func (s *messageStore) Transact(ctx context.Context, fn func(storage.MessageStore) error) error {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(&messageStore{q: tx}); err != nil {
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

func scanMessages(rows *sql.Rows) ([]chat.Message, error) {
	var out []chat.Message
	for rows.Next() {
		var (
			msg          chat.Message
			role         string
			toolCalls    sql.NullString
			functionCall sql.NullString
			topicID      sql.NullString
		)
		if err := rows.Scan(
			&msg.ID, &msg.ConversationKey, &msg.Platform, &msg.PlatformMsgID, &role, &msg.Content, &msg.Model,
			&toolCalls, &functionCall, &msg.ToolCallID, &topicID, &msg.CreatedAt, &msg.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.Role = chat.Role(role)
		if toolCalls.Valid {
			msg.ToolCalls = json.RawMessage(toolCalls.String)
		}
		if functionCall.Valid {
			msg.FunctionCall = json.RawMessage(functionCall.String)
		}
		if topicID.Valid {
			id := topicID.String
			msg.TopicID = &id
		}

		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return out, nil
}

func nullRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
