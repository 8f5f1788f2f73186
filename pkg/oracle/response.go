package oracle

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/parchmentco/ledger/pkg/chat"
)

// ExtractionRequest carries the conversation window to segment.
type ExtractionRequest struct {
	ConversationKey string
	Messages        []chat.Message
}

// ExtractedMemory is one fact the model pulled out of a topic segment.
type ExtractedMemory struct {
	Memory   string   `json:"memory"`
	Keywords []string `json:"keywords"`
	Category string   `json:"category"`
}

// ExtractedTopic is one topic segment with its time range and memories.
type ExtractedTopic struct {
	Topic    string            `json:"topic"`
	Start    time.Time         `json:"start"`
	End      time.Time         `json:"end"`
	Memories []ExtractedMemory `json:"memories"`
}

// ExtractionResponse is the parsed extraction reply.
type ExtractionResponse struct {
	Topics []ExtractedTopic `json:"topics"`
}

// DedupRequest carries one batch of candidate-duplicate memories.
type DedupRequest struct {
	Memories []chat.Memory
}

// DedupResponse is the parsed consolidation instruction set: patches keyed
// by memory id, plus ids to delete once every patch has landed.
type DedupResponse struct {
	Update map[string]chat.MemoryPatch `json:"update"`
	Delete []string                    `json:"delete"`
}

// MergeRequest carries two topic names for a merge judgment.
type MergeRequest struct {
	NameA string
	NameB string
}

// MergeResponse is the parsed topic-merge judgment.
type MergeResponse struct {
	ShouldMerge bool   `json:"should_merge"`
	UnifiedName string `json:"unified_name"`
}

// ParseExtractionResponse validates raw model output against the
// extraction schema.
func ParseExtractionResponse(raw string) (*ExtractionResponse, error) {
	var wire struct {
		Topics *[]ExtractedTopic `json:"topics"`
	}
	if err := decodeStrict(raw, &wire); err != nil {
		return nil, err
	}
	if wire.Topics == nil {
		return nil, fmt.Errorf("%w: extraction response missing %q key", ErrOracle, "topics")
	}

	resp := &ExtractionResponse{Topics: *wire.Topics}
	for i, topic := range resp.Topics {
		if strings.TrimSpace(topic.Topic) == "" {
			return nil, fmt.Errorf("%w: extraction topic %d has an empty name", ErrOracle, i)
		}
		if topic.End.Before(topic.Start) {
			return nil, fmt.Errorf("%w: extraction topic %q ends before it starts", ErrOracle, topic.Topic)
		}
	}

	return resp, nil
}

// ParseDedupResponse validates raw model output against the dedup schema.
// Both the update and delete keys must be present, even when empty.
func ParseDedupResponse(raw string) (*DedupResponse, error) {
	var wire struct {
		Update *map[string]chat.MemoryPatch `json:"update"`
		Delete *[]string                    `json:"delete"`
	}
	if err := decodeStrict(raw, &wire); err != nil {
		return nil, err
	}
	if wire.Update == nil {
		return nil, fmt.Errorf("%w: dedup response missing %q key", ErrOracle, "update")
	}
	if wire.Delete == nil {
		return nil, fmt.Errorf("%w: dedup response missing %q key", ErrOracle, "delete")
	}

	return &DedupResponse{Update: *wire.Update, Delete: *wire.Delete}, nil
}

// ParseMergeResponse validates raw model output against the merge schema.
func ParseMergeResponse(raw string) (*MergeResponse, error) {
	var wire struct {
		ShouldMerge *bool  `json:"should_merge"`
		UnifiedName string `json:"unified_name"`
	}
	if err := decodeStrict(raw, &wire); err != nil {
		return nil, err
	}
	if wire.ShouldMerge == nil {
		return nil, fmt.Errorf("%w: merge response missing %q key", ErrOracle, "should_merge")
	}
	if *wire.ShouldMerge && strings.TrimSpace(wire.UnifiedName) == "" {
		return nil, fmt.Errorf("%w: merge response affirms a merge without a unified name", ErrOracle)
	}

	return &MergeResponse{ShouldMerge: *wire.ShouldMerge, UnifiedName: wire.UnifiedName}, nil
}

// decodeStrict parses exactly one JSON object from raw, rejecting unknown
// fields and trailing content. Markdown code fences around the object are
// tolerated since some models emit them despite instructions.
func decodeStrict(raw string, v any) error {
	cleaned := stripFences(raw)

	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed response: %v", ErrOracle, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing content after response object", ErrOracle)
	}

	return nil
}

// stripFences removes a surrounding ```json ... ``` block, if present.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")

	return strings.TrimSpace(s)
}
