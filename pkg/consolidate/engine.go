// Package consolidate runs memory-deduplication batches against the LLM
// oracle and applies the resulting updates and deletes, plus the topic-merge
// pass that precedes them. Batches are disjoint by construction, so they run
// with bounded parallelism; one batch's failure never aborts its siblings.
package consolidate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parchmentco/ledger/pkg/chunker"
	"github.com/parchmentco/ledger/pkg/embeddings"
	"github.com/parchmentco/ledger/pkg/eventstream"
	"github.com/parchmentco/ledger/pkg/oracle"
	"github.com/parchmentco/ledger/pkg/storage"
	"github.com/parchmentco/ledger/pkg/vector"
)

var defaultNumWorkers uint = 3

// Config is the configuration options for the consolidation engine.
type Config struct {
	// Memories is the store whose rows the engine patches and deletes.
	// The engine is the only component permitted to delete memories.
	Memories storage.MemoryStore

	// Topics is used by the topic-merge pass.
	Topics storage.TopicStore

	// Messages is used to reassign message-topic associations on merge.
	Messages storage.MessageStore

	// Oracle provides dedup instructions and merge judgments.
	Oracle oracle.Oracle

	// Embedder and Vectors enable the similar-topic discovery pass.
	// Both optional; MergeSimilarTopics requires both.
	Embedder embeddings.Embedder
	Vectors  vector.Driver

	// Events receives the run-completed event. Optional.
	Events eventstream.Publisher

	// Guard serializes topic merges against in-flight extraction passes.
	// Share one guard with the extraction service; defaults to a
	// process-local guard.
	Guard *storage.TopicGuard

	// NumWorkers bounds concurrent oracle calls (defaults to 3).
	NumWorkers uint

	// SimilarityThreshold is the minimum vector score for a topic pair to
	// be referred to the oracle for a merge judgment.
	SimilarityThreshold float32

	// Logger is the provided zap logger.
	Logger *zap.Logger
}

// Engine consolidates memories batch by batch and merges duplicate topics.
type Engine struct {
	config *Config
	logger *zap.Logger

	// guard serializes topic merges against each other and against
	// extraction passes holding topic ids. Merges reassign foreign keys,
	// so they never run concurrently with either.
	guard *storage.TopicGuard
}

// NewEngine creates a consolidation engine.
func NewEngine(c *Config) (*Engine, error) {
	if c.Memories == nil || c.Topics == nil || c.Messages == nil {
		return nil, fmt.Errorf("memory, topic, and message stores are required")
	}
	if c.Oracle == nil {
		return nil, fmt.Errorf("an oracle is required")
	}
	if c.Guard == nil {
		c.Guard = &storage.TopicGuard{}
	}
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = chunker.DefaultSimilarityThreshold
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	return &Engine{config: c, logger: c.Logger, guard: c.Guard}, nil
}

// CanMergeSimilar reports whether similar-topic discovery is available,
// which needs both an embedder and a vector driver.
func (e *Engine) CanMergeSimilar() bool {
	return e.config.Embedder != nil && e.config.Vectors != nil
}

// Run processes the planned batches and returns the run report. With
// dryRun set, no oracle dedup call is made and no state is mutated: every
// batch is reported with its estimated cost only.
func (e *Engine) Run(ctx context.Context, batches []chunker.Batch, dryRun bool) *Report {
	report := &Report{
		RunID:     uuid.NewString(),
		DryRun:    dryRun,
		StartedAt: time.Now().UTC(),
		Batches:   make([]BatchReport, len(batches)),
	}

	for i, b := range batches {
		report.Batches[i] = BatchReport{
			Index:           i,
			Strategy:        b.Strategy,
			Status:          StatusPlanned,
			MemoryIDs:       b.MemoryIDs(),
			EstimatedTokens: b.EstimatedTokens,
		}
		report.EstimatedTokens += b.EstimatedTokens
	}

	if dryRun {
		for i := range report.Batches {
			report.Batches[i].Status = StatusReported
		}
		report.CompletedAt = time.Now().UTC()
		return report
	}

	jobs := make(chan int)
	var wg sync.WaitGroup

	wg.Add(int(e.config.NumWorkers))
	for w := uint(0); w < e.config.NumWorkers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				e.runBatch(ctx, batches[i], &report.Batches[i])
			}
		}()
	}

	for i := range batches {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, b := range report.Batches {
		report.TotalUpdated += len(b.UpdatedMemories)
		report.TotalDeleted += len(b.DeletedMemories)
	}
	report.CompletedAt = time.Now().UTC()

	e.publishCompleted(ctx, report)

	return report
}

// runBatch drives one batch through the oracle and applies the result.
// Each batch writes only to its own report slot, so no locking is needed.
func (e *Engine) runBatch(ctx context.Context, batch chunker.Batch, br *BatchReport) {
	br.Status = StatusRunning

	resp, err := e.config.Oracle.DedupMemories(ctx, oracle.DedupRequest{Memories: batch.Memories})
	if err != nil {
		br.Status = StatusFailed
		br.Error = err.Error()
		e.logger.Warn("dedup oracle call failed",
			zap.Int("batch", br.Index),
			zap.Error(err),
		)
		return
	}

	e.apply(ctx, resp, br)
}

// apply lands a validated dedup response. Updates are applied one at a
// time; if any update fails, the batch's deletes are abandoned so a memory
// is never deleted while its replacement content failed to land. A delete
// failure does not block the remaining deletes.
func (e *Engine) apply(ctx context.Context, resp *oracle.DedupResponse, br *BatchReport) {
	for id, patch := range resp.Update {
		if _, err := e.config.Memories.Patch(ctx, id, patch); err != nil {
			br.Status = StatusFailed
			br.Error = fmt.Sprintf("updating memory %s: %v", id, err)
			return
		}
		br.UpdatedMemories = append(br.UpdatedMemories, id)
	}

	var deleteErrs []string
	for _, id := range resp.Delete {
		if err := e.config.Memories.Delete(ctx, id); err != nil {
			deleteErrs = append(deleteErrs, fmt.Sprintf("deleting memory %s: %v", id, err))
			continue
		}
		br.DeletedMemories = append(br.DeletedMemories, id)
	}

	if len(deleteErrs) > 0 {
		br.Status = StatusFailed
		br.Error = strings.Join(deleteErrs, "; ")
		return
	}

	br.Status = StatusCommitted
}

func (e *Engine) publishCompleted(ctx context.Context, report *Report) {
	if e.config.Events == nil {
		return
	}

	event := &eventstream.ConsolidationCompletedEvent{
		Envelope:       eventstream.NewEnvelope(eventstream.EventTypeConsolidationCompleted),
		RunID:          report.RunID,
		DryRun:         report.DryRun,
		BatchesPlanned: len(report.Batches),
		BatchesFailed:  report.FailedBatches(),
		Updated:        report.TotalUpdated,
		Deleted:        report.TotalDeleted,
		DurationMs:     report.CompletedAt.Sub(report.StartedAt).Milliseconds(),
	}
	if err := e.config.Events.PublishConsolidationCompleted(ctx, event); err != nil {
		e.logger.Warn("publishing consolidation event", zap.Error(err))
	}
}
