package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/parchmentco/ledger/pkg/chunker"
	"github.com/parchmentco/ledger/pkg/consolidate"
)

// ConsolidationRunRequest selects a batching strategy and whether to
// apply the resulting plan. A dry run reports planned batches without a
// single oracle call or mutation.
type ConsolidationRunRequest struct {
	Strategy string `json:"strategy"`
	DryRun   bool   `json:"dry_run"`
}

// MergeSimilarTopicsRequest bounds the neighbor search per topic.
type MergeSimilarTopicsRequest struct {
	TopK int `json:"top_k"`
}

// MergeSimilarTopicsResponse lists the merges that were applied.
type MergeSimilarTopicsResponse struct {
	Count  int                       `json:"count"`
	Merges []consolidate.MergeReport `json:"merges"`
}

// handleConsolidationRun plans consolidation batches over all stored
// memories and executes (or, when dry_run, only reports) the plan. An
// empty plan still produces a run report; only invalid requests short
// circuit.
func (s *Server) handleConsolidationRun(c *fiber.Ctx) error {
	if s.engine == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(ErrorResponse{Error: "consolidation is not configured"})
	}

	var req ConsolidationRunRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.Strategy == "" {
		req.Strategy = chunker.StrategyTimeframe
	}

	batches, responded, err := s.planBatches(c, req.Strategy)
	if err != nil {
		return s.respondError(c, err)
	}
	if responded {
		return nil
	}

	report := s.engine.Run(c.Context(), batches, req.DryRun)
	return c.JSON(report)
}

// handleMergeSimilarTopics discovers near-duplicate topic names via the
// vector index and applies the oracle-confirmed merges.
func (s *Server) handleMergeSimilarTopics(c *fiber.Ctx) error {
	if s.engine == nil || !s.engine.CanMergeSimilar() {
		return c.Status(fiber.StatusNotImplemented).JSON(ErrorResponse{Error: "similar-topic discovery requires an embedder and a vector store"})
	}

	var req MergeSimilarTopicsRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
		}
	}

	reports, err := s.engine.MergeSimilarTopics(c.Context(), req.TopK)
	if err != nil {
		return s.respondError(c, err)
	}
	if reports == nil {
		reports = []consolidate.MergeReport{}
	}
	return c.JSON(MergeSimilarTopicsResponse{Count: len(reports), Merges: reports})
}

// planBatches groups stored memories into batches per the requested
// strategy. The responded return is true when the handler's response has
// already been written (unknown strategy, missing embedder); an empty
// plan returns an empty slice, not a sentinel.
func (s *Server) planBatches(c *fiber.Ctx, strategy string) (batches []chunker.Batch, responded bool, err error) {
	ctx := c.Context()
	params := s.chunkingParams()

	switch strategy {
	case chunker.StrategyTimeframe:
		memories, err := s.storer.Memories().List(ctx)
		if err != nil {
			return nil, false, err
		}
		return chunker.ChunkByTimeframe(memories, params), false, nil

	case chunker.StrategyKeywordOverlap:
		memories, err := s.storer.Memories().List(ctx)
		if err != nil {
			return nil, false, err
		}
		return chunker.ChunkByKeywordOverlap(memories, params), false, nil

	case chunker.StrategyTopicSimilarity:
		if s.embedder == nil {
			_ = c.Status(fiber.StatusNotImplemented).JSON(ErrorResponse{Error: "topic similarity requires an embedder"})
			return nil, true, nil
		}

		topics, err := s.storer.Topics().List(ctx)
		if err != nil {
			return nil, false, err
		}

		groups := make([]chunker.TopicMemories, 0, len(topics))
		for _, topic := range topics {
			memories, err := s.storer.Memories().ListByTopic(ctx, topic.ID)
			if err != nil {
				return nil, false, err
			}
			if len(memories) == 0 {
				continue
			}
			groups = append(groups, chunker.TopicMemories{Topic: topic, Memories: memories})
		}

		batches, err = chunker.ChunkByTopicSimilarity(ctx, groups, s.embedder, params)
		return batches, false, err

	default:
		_ = c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "unknown strategy: " + strategy})
		return nil, true, nil
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
