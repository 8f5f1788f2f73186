// Package chunker groups candidate memories into token-and-count-bounded
// batches, each sized for one LLM consolidation round-trip. Batches of one
// are discarded everywhere: there is nothing to deduplicate.
package chunker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/parchmentco/ledger/pkg/chat"
	"github.com/parchmentco/ledger/pkg/embeddings"
	"github.com/parchmentco/ledger/pkg/vector"
)

const (
	// StrategyTimeframe batches memories created close together in time.
	StrategyTimeframe = "timeframe"

	// StrategyKeywordOverlap batches memories sharing keywords.
	StrategyKeywordOverlap = "keyword_overlap"

	// StrategyTopicSimilarity batches the memories of similarly named topics.
	StrategyTopicSimilarity = "topic_similarity"
)

const (
	DefaultTimeframeDays       = 30
	DefaultMaxMemoriesPerChunk = 20
	DefaultMinSharedKeywords   = 2
	DefaultSimilarityThreshold = 0.82
	DefaultMaxTopicClusters    = 10
	DefaultMaxTotalTokens      = 50000
)

// Params tunes the chunking strategies. Zero values fall back to the
// package defaults.
type Params struct {
	// TimeframeDays is the max gap between a batch's anchor timestamp and
	// a member, for the timeframe strategy.
	TimeframeDays int

	// MaxMemoriesPerChunk caps batch size for the timeframe strategy.
	MaxMemoriesPerChunk int

	// MinSharedKeywords is the overlap threshold for the keyword strategy.
	MinSharedKeywords int

	// SimilarityThreshold is the cosine threshold for topic clustering.
	SimilarityThreshold float32

	// MaxTopicClusters caps how many topic clusters are considered.
	MaxTopicClusters int

	// MaxTotalTokens caps the estimated token total across all batches
	// produced by the topic-similarity strategy.
	MaxTotalTokens int
}

func (p Params) withDefaults() Params {
	if p.TimeframeDays == 0 {
		p.TimeframeDays = DefaultTimeframeDays
	}
	if p.MaxMemoriesPerChunk == 0 {
		p.MaxMemoriesPerChunk = DefaultMaxMemoriesPerChunk
	}
	if p.MinSharedKeywords == 0 {
		p.MinSharedKeywords = DefaultMinSharedKeywords
	}
	if p.SimilarityThreshold == 0 {
		p.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if p.MaxTopicClusters == 0 {
		p.MaxTopicClusters = DefaultMaxTopicClusters
	}
	if p.MaxTotalTokens == 0 {
		p.MaxTotalTokens = DefaultMaxTotalTokens
	}
	return p
}

// Batch is one token-and-count-bounded group of memories.
type Batch struct {
	Strategy        string        `json:"strategy"`
	Memories        []chat.Memory `json:"memories"`
	EstimatedTokens int           `json:"estimated_tokens"`
}

// MemoryIDs returns the ids of the batch's members.
func (b Batch) MemoryIDs() []string {
	ids := make([]string, len(b.Memories))
	for i, m := range b.Memories {
		ids[i] = m.ID
	}
	return ids
}

func newBatch(strategy string, memories []chat.Memory) Batch {
	tokens := 0
	for _, m := range memories {
		tokens += chat.EstimateTokens(m.Memory)
		tokens += chat.EstimateTokens(strings.Join(m.Keywords, " "))
	}
	return Batch{Strategy: strategy, Memories: memories, EstimatedTokens: tokens}
}

// ChunkByTimeframe sorts candidates by creation time and cuts a new batch
// whenever the gap from the batch's anchor exceeds the timeframe or the
// batch is full.
func ChunkByTimeframe(candidates []chat.Memory, params Params) []Batch {
	p := params.withDefaults()

	sorted := make([]chat.Memory, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	window := time.Duration(p.TimeframeDays) * 24 * time.Hour

	var batches []Batch
	var current []chat.Memory
	var anchor time.Time

	flush := func() {
		if len(current) > 1 {
			batches = append(batches, newBatch(StrategyTimeframe, current))
		}
		current = nil
	}

	for _, m := range sorted {
		if len(current) == 0 {
			anchor = m.CreatedAt
		}
		if m.CreatedAt.Sub(anchor) > window || len(current) >= p.MaxMemoriesPerChunk {
			flush()
			anchor = m.CreatedAt
		}
		current = append(current, m)
	}
	flush()

	return batches
}

// ChunkByKeywordOverlap greedily clusters candidates: each unprocessed
// memory gathers every other unprocessed memory sharing at least
// MinSharedKeywords keywords with it.
func ChunkByKeywordOverlap(candidates []chat.Memory, params Params) []Batch {
	p := params.withDefaults()

	processed := make([]bool, len(candidates))

	var batches []Batch
	for i, seed := range candidates {
		if processed[i] {
			continue
		}
		processed[i] = true
		cluster := []chat.Memory{seed}

		for j := i + 1; j < len(candidates); j++ {
			if processed[j] {
				continue
			}
			if chat.SharedKeywords(seed.Keywords, candidates[j].Keywords) >= p.MinSharedKeywords {
				processed[j] = true
				cluster = append(cluster, candidates[j])
			}
		}

		if len(cluster) > 1 {
			batches = append(batches, newBatch(StrategyKeywordOverlap, cluster))
		}
	}

	return batches
}

// TopicMemories pairs a topic with its associated memories, the input unit
// of the topic-similarity strategy.
type TopicMemories struct {
	Topic    chat.Topic
	Memories []chat.Memory
}

// ChunkByTopicSimilarity clusters topics whose name embeddings exceed the
// similarity threshold and unions each cluster's memories into one batch.
// At most MaxTopicClusters clusters are considered, and batching stops once
// the running token estimate across batches reaches MaxTotalTokens.
func ChunkByTopicSimilarity(ctx context.Context, groups []TopicMemories, embedder embeddings.Embedder, params Params) ([]Batch, error) {
	p := params.withDefaults()

	vectors := make([][]float32, len(groups))
	for i, g := range groups {
		vec, err := embedder.Embed(ctx, g.Topic.Name)
		if err != nil {
			return nil, fmt.Errorf("embedding topic %q: %w", g.Topic.Name, err)
		}
		vectors[i] = vec
	}

	processed := make([]bool, len(groups))

	var batches []Batch
	totalTokens := 0
	clusters := 0

	for i := range groups {
		if processed[i] {
			continue
		}
		if clusters >= p.MaxTopicClusters || totalTokens >= p.MaxTotalTokens {
			break
		}
		processed[i] = true
		clusters++

		memories := append([]chat.Memory(nil), groups[i].Memories...)
		for j := i + 1; j < len(groups); j++ {
			if processed[j] {
				continue
			}
			if vector.Cosine(vectors[i], vectors[j]) >= p.SimilarityThreshold {
				processed[j] = true
				memories = append(memories, groups[j].Memories...)
			}
		}

		if len(memories) < 2 {
			continue
		}

		batch := newBatch(StrategyTopicSimilarity, memories)
		batches = append(batches, batch)
		totalTokens += batch.EstimatedTokens
	}

	return batches, nil
}
