package consolidate

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/parchmentco/ledger/pkg/oracle"
	"github.com/parchmentco/ledger/pkg/vector"
)

// MergeReport describes one applied topic merge.
type MergeReport struct {
	PrimaryID string   `json:"primary_id"`
	MergedIDs []string `json:"merged_ids"`
	Name      string   `json:"name"`
}

// MergeTopics folds the losing topics into the primary. Memory and message
// associations are reassigned to the primary before any losing topic is
// deleted; deleting first would silently orphan them. With newName set the
// surviving topic is renamed.
func (e *Engine) MergeTopics(ctx context.Context, primaryID string, mergeIDs []string, newName string) (*MergeReport, error) {
	e.guard.BeginMerge()
	defer e.guard.EndMerge()

	primary, err := e.config.Topics.Get(ctx, primaryID)
	if err != nil {
		return nil, err
	}

	report := &MergeReport{PrimaryID: primary.ID, Name: primary.Name}

	for _, loserID := range mergeIDs {
		if loserID == primaryID {
			continue
		}
		if _, err := e.config.Topics.Get(ctx, loserID); err != nil {
			return report, err
		}

		// Reassign before delete.
		if err := e.config.Memories.ReassignTopic(ctx, loserID, primaryID); err != nil {
			return report, fmt.Errorf("reassigning memories of topic %s: %w", loserID, err)
		}
		if err := e.config.Messages.ReassignTopic(ctx, loserID, primaryID); err != nil {
			return report, fmt.Errorf("reassigning messages of topic %s: %w", loserID, err)
		}
		if err := e.config.Topics.Delete(ctx, loserID); err != nil {
			return report, fmt.Errorf("deleting merged topic %s: %w", loserID, err)
		}

		report.MergedIDs = append(report.MergedIDs, loserID)
	}

	if newName != "" && !strings.EqualFold(newName, primary.Name) {
		if err := e.config.Topics.Rename(ctx, primaryID, newName); err != nil {
			return report, fmt.Errorf("renaming surviving topic: %w", err)
		}
		report.Name = newName
	}

	if e.config.Vectors != nil && len(report.MergedIDs) > 0 {
		if err := e.config.Vectors.Delete(ctx, report.MergedIDs); err != nil {
			e.logger.Warn("removing merged topic embeddings", zap.Error(err))
		}
	}

	e.logger.Info("merged topics",
		zap.String("primary_id", primaryID),
		zap.Strings("merged_ids", report.MergedIDs),
		zap.String("name", report.Name),
	)

	return report, nil
}

// MergeSimilarTopics discovers near-duplicate topic names via the vector
// store, confirms each candidate pair with the oracle, and applies the
// confirmed merges. Requires a configured embedder and vector driver.
func (e *Engine) MergeSimilarTopics(ctx context.Context, topK int) ([]MergeReport, error) {
	if e.config.Embedder == nil || e.config.Vectors == nil {
		return nil, fmt.Errorf("similar-topic discovery requires an embedder and a vector driver")
	}
	if topK <= 0 {
		topK = 5
	}

	topics, err := e.config.Topics.List(ctx)
	if err != nil {
		return nil, err
	}

	// Index every topic name so KNN sees the full set.
	embeddingsByID := make(map[string][]float32, len(topics))
	for _, t := range topics {
		vec, err := e.config.Embedder.Embed(ctx, t.Name)
		if err != nil {
			return nil, fmt.Errorf("embedding topic %q: %w", t.Name, err)
		}
		embeddingsByID[t.ID] = vec
		if err := e.config.Vectors.Add(ctx, []vector.Document{{ID: t.ID, Name: t.Name, Embedding: vec}}); err != nil {
			return nil, fmt.Errorf("indexing topic %q: %w", t.Name, err)
		}
	}

	merged := make(map[string]bool)
	var reports []MergeReport

	for _, t := range topics {
		if merged[t.ID] {
			continue
		}

		results, err := e.config.Vectors.Query(ctx, embeddingsByID[t.ID], topK)
		if err != nil {
			return reports, fmt.Errorf("querying neighbors of topic %q: %w", t.Name, err)
		}

		var losers []string
		unifiedName := ""
		for _, result := range results {
			if result.ID == t.ID || merged[result.ID] {
				continue
			}
			if vector.Cosine(embeddingsByID[t.ID], embeddingsByID[result.ID]) < e.config.SimilarityThreshold {
				continue
			}

			judgment, err := e.config.Oracle.JudgeTopicMerge(ctx, oracle.MergeRequest{NameA: t.Name, NameB: result.Name})
			if err != nil {
				// A failed judgment abandons this pair only.
				e.logger.Warn("topic merge judgment failed",
					zap.String("a", t.Name),
					zap.String("b", result.Name),
					zap.Error(err),
				)
				continue
			}
			if !judgment.ShouldMerge {
				continue
			}

			losers = append(losers, result.ID)
			unifiedName = judgment.UnifiedName
		}

		if len(losers) == 0 {
			continue
		}

		report, err := e.MergeTopics(ctx, t.ID, losers, unifiedName)
		if err != nil {
			return reports, err
		}
		for _, id := range report.MergedIDs {
			merged[id] = true
		}
		reports = append(reports, *report)
	}

	return reports, nil
}
