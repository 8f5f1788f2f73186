package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/parchmentco/ledger/pkg/chat"
)

var (
	searchToolName    = "memory_search"
	searchDescription = "Search stored memories by topic using semantic search. Returns the topics most relevant to the query text, each with its extracted memories."
)

// SearchInput represents the input arguments for the memory_search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"the search query text to find relevant topics"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"number of topics to return (default: 5)"`
}

// TopicResult is one matched topic and its memories.
type TopicResult struct {
	TopicID  string        `json:"topic_id"`
	Name     string        `json:"name"`
	Score    float32       `json:"score"`
	Memories []chat.Memory `json:"memories"`
}

// SearchOutput represents the output of the memory_search tool.
type SearchOutput struct {
	Query   string        `json:"query"`
	Results []TopicResult `json:"results"`
	Count   int           `json:"count"`
}

// handleMemorySearch processes a semantic search request.
func (s *Server) handleMemorySearch(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	logger := s.config.Logger

	// Default topK if not specified
	topK := input.TopK
	if topK <= 0 {
		topK = 5
	}

	logger.Debug("MCP memory search request",
		zap.String("query", input.Query),
		zap.Int("topK", topK),
	)

	queryEmbedding, err := s.config.Embedder.Embed(ctx, input.Query)
	if err != nil {
		logger.Error("failed to embed query", zap.Error(err))
		return toolError(fmt.Sprintf("Failed to embed query: %v", err)), SearchOutput{}, nil
	}

	matches, err := s.config.VectorDriver.Query(ctx, queryEmbedding, topK)
	if err != nil {
		logger.Error("failed to query vector store", zap.Error(err))
		return toolError(fmt.Sprintf("Failed to query vector store: %v", err)), SearchOutput{}, nil
	}

	results := make([]TopicResult, 0, len(matches))
	for _, match := range matches {
		memories, err := s.config.Storer.Memories().ListByTopic(ctx, match.ID)
		if err != nil {
			logger.Warn("failed to load memories for topic",
				zap.String("topic_id", match.ID),
				zap.Error(err),
			)
			continue
		}

		results = append(results, TopicResult{
			TopicID:  match.ID,
			Name:     match.Name,
			Score:    match.Score,
			Memories: memories,
		})
	}

	s.touch(ctx, results)

	output := SearchOutput{
		Query:   input.Query,
		Results: results,
		Count:   len(results),
	}

	// Serialize the structured output as JSON for the text field
	// Per MCP spec: tools returning structured content should also return
	// serialized JSON in a TextContent block for backwards compatibility
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		logger.Error("failed to marshal search output", zap.Error(err))
		return toolError(fmt.Sprintf("Failed to serialize results: %v", err)), SearchOutput{}, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}

// touch records an access against every returned memory.
func (s *Server) touch(ctx context.Context, results []TopicResult) {
	var ids []string
	for _, r := range results {
		for _, m := range r.Memories {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return
	}
	if err := s.config.Storer.Memories().Touch(ctx, ids); err != nil {
		s.config.Logger.Warn("failed to record memory access", zap.Error(err))
	}
}

func toolError(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}
