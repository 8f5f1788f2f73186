package consolidate_test

import (
	"context"
	"errors"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/parchmentco/ledger/pkg/chat"
	"github.com/parchmentco/ledger/pkg/chunker"
	"github.com/parchmentco/ledger/pkg/consolidate"
	"github.com/parchmentco/ledger/pkg/eventstream/nop"
	"github.com/parchmentco/ledger/pkg/oracle"
	"github.com/parchmentco/ledger/pkg/storage/inmemory"
)

// fakeOracle counts calls and delegates to configurable funcs.
type fakeOracle struct {
	dedupCalls int64
	dedupFn    func(req oracle.DedupRequest) (*oracle.DedupResponse, error)
	mergeFn    func(req oracle.MergeRequest) (*oracle.MergeResponse, error)
}

func (f *fakeOracle) ExtractTopics(context.Context, oracle.ExtractionRequest) (*oracle.ExtractionResponse, error) {
	return &oracle.ExtractionResponse{}, nil
}

func (f *fakeOracle) DedupMemories(_ context.Context, req oracle.DedupRequest) (*oracle.DedupResponse, error) {
	atomic.AddInt64(&f.dedupCalls, 1)
	return f.dedupFn(req)
}

func (f *fakeOracle) JudgeTopicMerge(_ context.Context, req oracle.MergeRequest) (*oracle.MergeResponse, error) {
	return f.mergeFn(req)
}

func strptr(s string) *string { return &s }

var _ = Describe("Engine.Run", func() {
	var (
		ctx    context.Context
		drv    *inmemory.Driver
		orc    *fakeOracle
		engine *consolidate.Engine
	)

	newEngine := func() *consolidate.Engine {
		e, err := consolidate.NewEngine(&consolidate.Config{
			Memories: drv.Memories(),
			Topics:   drv.Topics(),
			Messages: drv.Messages(),
			Oracle:   orc,
			Events:   nop.NewPublisher(),
			Logger:   zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())
		return e
	}

	createMemory := func(text string, keywords ...string) chat.Memory {
		m, err := drv.Memories().Create(ctx, chat.Memory{Memory: text, Keywords: keywords})
		Expect(err).NotTo(HaveOccurred())
		return m
	}

	batchOf := func(memories ...chat.Memory) chunker.Batch {
		return chunker.Batch{Strategy: chunker.StrategyKeywordOverlap, Memories: memories, EstimatedTokens: 10}
	}

	BeforeEach(func() {
		ctx = context.Background()
		drv = inmemory.NewDriver()
		orc = &fakeOracle{}
	})

	It("applies updates then deletes and reports totals", func() {
		a := createMemory("user likes coffee", "coffee")
		b := createMemory("user enjoys coffee", "coffee")

		orc.dedupFn = func(oracle.DedupRequest) (*oracle.DedupResponse, error) {
			return &oracle.DedupResponse{
				Update: map[string]chat.MemoryPatch{
					a.ID: {Memory: strptr("user likes and enjoys coffee")},
				},
				Delete: []string{b.ID},
			}, nil
		}
		engine = newEngine()

		report := engine.Run(ctx, []chunker.Batch{batchOf(a, b)}, false)

		Expect(report.Batches).To(HaveLen(1))
		Expect(report.Batches[0].Status).To(Equal(consolidate.StatusCommitted))
		Expect(report.TotalUpdated).To(Equal(1))
		Expect(report.TotalDeleted).To(Equal(1))

		updated, err := drv.Memories().Get(ctx, a.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(updated.Memory).To(Equal("user likes and enjoys coffee"))

		_, err = drv.Memories().Get(ctx, b.ID)
		Expect(err).To(HaveOccurred())
	})

	It("never applies deletes when an update in the batch fails", func() {
		a := createMemory("fact a", "k")
		b := createMemory("fact b", "k")

		orc.dedupFn = func(oracle.DedupRequest) (*oracle.DedupResponse, error) {
			return &oracle.DedupResponse{
				Update: map[string]chat.MemoryPatch{
					a.ID: {Category: strptr("not-a-category")},
				},
				Delete: []string{b.ID},
			}, nil
		}
		engine = newEngine()

		report := engine.Run(ctx, []chunker.Batch{batchOf(a, b)}, false)

		Expect(report.Batches[0].Status).To(Equal(consolidate.StatusFailed))
		Expect(report.Batches[0].DeletedMemories).To(BeEmpty())

		survivor, err := drv.Memories().Get(ctx, b.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(survivor.Memory).To(Equal("fact b"))
	})

	It("continues remaining deletes when one delete fails", func() {
		a := createMemory("fact a", "k")
		b := createMemory("fact b", "k")

		orc.dedupFn = func(oracle.DedupRequest) (*oracle.DedupResponse, error) {
			return &oracle.DedupResponse{
				Update: map[string]chat.MemoryPatch{},
				Delete: []string{"missing-id", a.ID, b.ID},
			}, nil
		}
		engine = newEngine()

		report := engine.Run(ctx, []chunker.Batch{batchOf(a, b)}, false)

		Expect(report.Batches[0].Status).To(Equal(consolidate.StatusFailed))
		Expect(report.Batches[0].DeletedMemories).To(ConsistOf(a.ID, b.ID))
	})

	It("scopes an oracle failure to its own batch", func() {
		a := createMemory("fact a", "k")
		b := createMemory("fact b", "k")
		c := createMemory("fact c", "k")
		d := createMemory("fact d", "k")

		orc.dedupFn = func(req oracle.DedupRequest) (*oracle.DedupResponse, error) {
			if req.Memories[0].ID == a.ID {
				return nil, errors.New("oracle timeout")
			}
			return &oracle.DedupResponse{
				Update: map[string]chat.MemoryPatch{},
				Delete: []string{d.ID},
			}, nil
		}
		engine = newEngine()

		report := engine.Run(ctx, []chunker.Batch{batchOf(a, b), batchOf(c, d)}, false)

		Expect(report.Batches[0].Status).To(Equal(consolidate.StatusFailed))
		Expect(report.Batches[0].Error).To(ContainSubstring("oracle timeout"))
		Expect(report.Batches[1].Status).To(Equal(consolidate.StatusCommitted))
		Expect(report.TotalDeleted).To(Equal(1))
	})

	It("makes no oracle calls and no mutations on a dry run", func() {
		a := createMemory("fact a", "k")
		b := createMemory("fact b", "k")

		orc.dedupFn = func(oracle.DedupRequest) (*oracle.DedupResponse, error) {
			return nil, errors.New("should not be called")
		}
		engine = newEngine()

		report := engine.Run(ctx, []chunker.Batch{batchOf(a, b)}, true)

		Expect(report.DryRun).To(BeTrue())
		Expect(report.Batches[0].Status).To(Equal(consolidate.StatusReported))
		Expect(report.EstimatedTokens).To(Equal(10))
		Expect(atomic.LoadInt64(&orc.dedupCalls)).To(BeZero())

		memories, err := drv.Memories().List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(memories).To(HaveLen(2))
	})

	It("defaults a missing logger", func() {
		a := createMemory("fact a", "k")
		b := createMemory("fact b", "k")

		// Force the failure path, which logs.
		orc.dedupFn = func(oracle.DedupRequest) (*oracle.DedupResponse, error) {
			return nil, errors.New("oracle down")
		}

		e, err := consolidate.NewEngine(&consolidate.Config{
			Memories: drv.Memories(),
			Topics:   drv.Topics(),
			Messages: drv.Messages(),
			Oracle:   orc,
		})
		Expect(err).NotTo(HaveOccurred())

		report := e.Run(ctx, []chunker.Batch{batchOf(a, b)}, false)
		Expect(report.Batches[0].Status).To(Equal(consolidate.StatusFailed))
	})

	It("completes the run and stamps timestamps", func() {
		orc.dedupFn = func(oracle.DedupRequest) (*oracle.DedupResponse, error) {
			return &oracle.DedupResponse{Update: map[string]chat.MemoryPatch{}, Delete: nil}, nil
		}
		engine = newEngine()

		report := engine.Run(ctx, nil, false)

		Expect(report.RunID).NotTo(BeEmpty())
		Expect(report.CompletedAt).NotTo(BeZero())
		Expect(report.FailedBatches()).To(BeZero())
	})
})
