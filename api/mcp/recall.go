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
	memoryRecallToolName    = "memory_recall"
	memoryRecallDescription = "Recall stored memories by keyword. Given one or more keywords, returns every memory sharing at least one of them. Use this to retrieve persistent knowledge from past conversations."
)

// MemoryRecallInput represents the input arguments for the memory_recall tool.
type MemoryRecallInput struct {
	Keywords []string `json:"keywords" jsonschema:"keywords to recall memories for; a memory matches when it shares at least one"`
}

// MemoryRecallOutput represents the structured output of a memory recall.
type MemoryRecallOutput struct {
	Memories []chat.Memory `json:"memories"`
	Count    int           `json:"count"`
}

// handleMemoryRecall processes a keyword recall request via MCP.
func (s *Server) handleMemoryRecall(ctx context.Context, _ *mcp.CallToolRequest, input MemoryRecallInput) (*mcp.CallToolResult, MemoryRecallOutput, error) {
	keywords := chat.NormalizeKeywords(input.Keywords)
	if len(keywords) == 0 {
		return toolError("at least one keyword is required"), MemoryRecallOutput{}, nil
	}

	memories, err := s.config.Storer.Memories().ListByKeywordOverlap(ctx, keywords)
	if err != nil {
		return toolError(fmt.Sprintf("Memory recall failed: %v", err)), MemoryRecallOutput{}, nil
	}

	if memories == nil {
		memories = []chat.Memory{}
	}

	if len(memories) > 0 {
		ids := make([]string, len(memories))
		for i, m := range memories {
			ids[i] = m.ID
		}
		if err := s.config.Storer.Memories().Touch(ctx, ids); err != nil {
			s.config.Logger.Warn("failed to record memory access", zap.Error(err))
		}
	}

	output := MemoryRecallOutput{Memories: memories, Count: len(memories)}

	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return toolError(fmt.Sprintf("Failed to serialize results: %v", err)), MemoryRecallOutput{}, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}
