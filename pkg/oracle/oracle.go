// Package oracle adapts the external LLM completion service into typed,
// validated responses. Untyped model output never crosses this boundary:
// every reply is parsed against a strict schema immediately on receipt.
package oracle

import (
	"context"
	"errors"
)

// ErrOracle is the root of every oracle failure: transport errors,
// timeouts, and malformed or schema-violating responses all wrap it. A
// failed oracle call abandons only the current batch or extraction attempt.
var ErrOracle = errors.New("oracle failure")

// CompleteFunc is the transport under the oracle: one prompt in, the raw
// model text out. Implementations should carry their own timeout and must
// not retry; a timed-out call is recorded as failed upstream.
type CompleteFunc func(ctx context.Context, prompt string) (string, error)

// Oracle is the typed LLM collaborator consumed by extraction and
// consolidation.
type Oracle interface {
	// ExtractTopics segments a conversation window into topics and the
	// memories each contains.
	ExtractTopics(ctx context.Context, req ExtractionRequest) (*ExtractionResponse, error)

	// DedupMemories asks for consolidation instructions over one batch.
	DedupMemories(ctx context.Context, req DedupRequest) (*DedupResponse, error)

	// JudgeTopicMerge asks whether two topic names describe the same
	// subject and, if so, what the unified name should be.
	JudgeTopicMerge(ctx context.Context, req MergeRequest) (*MergeResponse, error)
}
