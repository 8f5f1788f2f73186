package api

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/parchmentco/ledger/pkg/chat"
	"github.com/parchmentco/ledger/pkg/oracle"
	"github.com/parchmentco/ledger/pkg/storage"
)

// ErrorResponse is the uniform error body for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ReconcileRequest is one platform's view of a conversation buffer.
type ReconcileRequest struct {
	Platform string            `json:"platform"`
	Messages []chat.RawMessage `json:"messages"`
}

// MessagesResponse returns a conversation's canonical message log.
type MessagesResponse struct {
	ConversationKey string         `json:"conversation_key"`
	Count           int            `json:"count"`
	Messages        []chat.Message `json:"messages"`
}

// ToolCallRequest records a tool invocation and its output.
type ToolCallRequest struct {
	Platform   string          `json:"platform"`
	Model      string          `json:"model,omitempty"`
	ToolCalls  json.RawMessage `json:"tool_calls"`
	Output     string          `json:"output"`
	ToolCallID string          `json:"tool_call_id"`
}

// AssistantRequest records an assistant turn directly.
type AssistantRequest struct {
	Platform string `json:"platform"`
	Model    string `json:"model,omitempty"`
	Content  string `json:"content"`
}

// CreateTopicRequest creates a topic by name.
type CreateTopicRequest struct {
	Name string `json:"name"`
}

// MergeTopicsRequest folds the merge_ids topics into primary_id.
type MergeTopicsRequest struct {
	PrimaryID string   `json:"primary_id"`
	MergeIDs  []string `json:"merge_ids"`
	NewName   string   `json:"new_name,omitempty"`
}

// respondError maps domain errors onto HTTP statuses: validation
// failures are the client's fault, missing rows are 404, oracle failures
// are an upstream problem, and everything else is a storage fault.
func (s *Server) respondError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError

	var verr chat.ValidationError
	var nferr storage.NotFoundError
	switch {
	case errors.As(err, &verr):
		status = fiber.StatusBadRequest
	case errors.As(err, &nferr):
		status = fiber.StatusNotFound
	case errors.Is(err, oracle.ErrOracle):
		status = fiber.StatusBadGateway
	}

	if status == fiber.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}

	return c.Status(status).JSON(ErrorResponse{Error: err.Error()})
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleReconcile reconciles a platform's buffer snapshot against the
// stored log and returns the canonical result.
func (s *Server) handleReconcile(c *fiber.Ctx) error {
	key := c.Params("key")

	var req ReconcileRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.Platform == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "platform is required"})
	}

	messages, err := s.reconciler.Reconcile(c.Context(), key, req.Platform, req.Messages)
	if err != nil {
		return s.respondError(c, err)
	}

	if s.extractor != nil && len(req.Messages) > 0 {
		s.extractor.MarkDirty(key)
	}

	return c.JSON(MessagesResponse{
		ConversationKey: key,
		Count:           len(messages),
		Messages:        messages,
	})
}

// handleToolCall records an assistant tool invocation and its result.
func (s *Server) handleToolCall(c *fiber.Ctx) error {
	key := c.Params("key")

	var req ToolCallRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.Platform == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "platform is required"})
	}

	err := s.reconciler.RecordToolCall(c.Context(), key, req.Platform, req.Model, req.ToolCalls, req.Output, req.ToolCallID)
	if err != nil {
		return s.respondError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// handleAssistant records an assistant turn for a conversation.
func (s *Server) handleAssistant(c *fiber.Ctx) error {
	key := c.Params("key")

	var req AssistantRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.Platform == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "platform is required"})
	}

	msg, err := s.reconciler.RecordAssistant(c.Context(), key, req.Platform, req.Model, req.Content)
	if err != nil {
		return s.respondError(c, err)
	}

	return c.JSON(msg)
}

// handleExtract runs one extraction pass over a conversation.
func (s *Server) handleExtract(c *fiber.Ctx) error {
	if s.extractor == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(ErrorResponse{Error: "extraction is not configured"})
	}

	result, err := s.extractor.ExtractConversation(c.Context(), c.Params("key"))
	if err != nil {
		return s.respondError(c, err)
	}

	return c.JSON(result)
}

// handleListMessages returns a conversation's messages; ?limit=n returns
// only the trailing n.
func (s *Server) handleListMessages(c *fiber.Ctx) error {
	key := c.Params("key")
	ctx := c.Context()

	var messages []chat.Message
	var err error
	if limit := c.QueryInt("limit"); limit > 0 {
		messages, err = s.storer.Messages().Tail(ctx, key, limit)
	} else {
		messages, err = s.storer.Messages().ListByConversation(ctx, key)
	}
	if err != nil {
		return s.respondError(c, err)
	}

	return c.JSON(MessagesResponse{
		ConversationKey: key,
		Count:           len(messages),
		Messages:        messages,
	})
}

// handleListTopics returns all topics.
func (s *Server) handleListTopics(c *fiber.Ctx) error {
	topics, err := s.storer.Topics().List(c.Context())
	if err != nil {
		return s.respondError(c, err)
	}

	return c.JSON(map[string]any{
		"count":  len(topics),
		"topics": topics,
	})
}

// handleCreateTopic creates a topic, reusing an existing one on a
// case-insensitive name match.
func (s *Server) handleCreateTopic(c *fiber.Ctx) error {
	var req CreateTopicRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "name is required"})
	}

	topic, created, err := s.storer.Topics().FindOrCreateByName(c.Context(), req.Name)
	if err != nil {
		return s.respondError(c, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(topic)
}

// handleMergeTopics folds one or more topics into a primary topic.
func (s *Server) handleMergeTopics(c *fiber.Ctx) error {
	if s.engine == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(ErrorResponse{Error: "consolidation is not configured"})
	}

	var req MergeTopicsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.PrimaryID == "" || len(req.MergeIDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "primary_id and merge_ids are required"})
	}

	report, err := s.engine.MergeTopics(c.Context(), req.PrimaryID, req.MergeIDs, req.NewName)
	if err != nil {
		return s.respondError(c, err)
	}

	return c.JSON(report)
}

// handleTopicMemories returns the memories associated with a topic.
func (s *Server) handleTopicMemories(c *fiber.Ctx) error {
	id := c.Params("id")
	ctx := c.Context()

	if _, err := s.storer.Topics().Get(ctx, id); err != nil {
		return s.respondError(c, err)
	}

	memories, err := s.storer.Memories().ListByTopic(ctx, id)
	if err != nil {
		return s.respondError(c, err)
	}

	return c.JSON(map[string]any{
		"topic_id": id,
		"count":    len(memories),
		"memories": memories,
	})
}

// handleTopicMessages returns the messages assigned to a topic.
func (s *Server) handleTopicMessages(c *fiber.Ctx) error {
	id := c.Params("id")
	ctx := c.Context()

	if _, err := s.storer.Topics().Get(ctx, id); err != nil {
		return s.respondError(c, err)
	}

	messages, err := s.storer.Messages().ListByTopic(ctx, id)
	if err != nil {
		return s.respondError(c, err)
	}

	return c.JSON(map[string]any{
		"topic_id": id,
		"count":    len(messages),
		"messages": messages,
	})
}

// handleListMemories returns all memories, optionally filtered by topic
// (?topic_id=) or keyword overlap (?keywords=a,b).
func (s *Server) handleListMemories(c *fiber.Ctx) error {
	ctx := c.Context()

	var memories []chat.Memory
	var err error
	switch {
	case c.Query("topic_id") != "":
		memories, err = s.storer.Memories().ListByTopic(ctx, c.Query("topic_id"))
	case c.Query("keywords") != "":
		keywords := chat.NormalizeKeywords(splitCSV(c.Query("keywords")))
		memories, err = s.storer.Memories().ListByKeywordOverlap(ctx, keywords)
	default:
		memories, err = s.storer.Memories().List(ctx)
	}
	if err != nil {
		return s.respondError(c, err)
	}

	return c.JSON(map[string]any{
		"count":    len(memories),
		"memories": memories,
	})
}
