package extract_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/parchmentco/ledger/pkg/chat"
	"github.com/parchmentco/ledger/pkg/extract"
	"github.com/parchmentco/ledger/pkg/oracle"
	"github.com/parchmentco/ledger/pkg/storage"
	"github.com/parchmentco/ledger/pkg/storage/inmemory"
	"github.com/parchmentco/ledger/pkg/vector"
)

type fakeOracle struct {
	extractCalls atomic.Int64
	extractFn    func(req oracle.ExtractionRequest) (*oracle.ExtractionResponse, error)
}

func (f *fakeOracle) ExtractTopics(_ context.Context, req oracle.ExtractionRequest) (*oracle.ExtractionResponse, error) {
	f.extractCalls.Add(1)
	if f.extractFn != nil {
		return f.extractFn(req)
	}
	return &oracle.ExtractionResponse{}, nil
}

func (f *fakeOracle) DedupMemories(context.Context, oracle.DedupRequest) (*oracle.DedupResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeOracle) JudgeTopicMerge(context.Context, oracle.MergeRequest) (*oracle.MergeResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

type charEmbedder struct{}

func (charEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	for _, r := range strings.ToLower(text) {
		vec[int(r)%8]++
	}
	return vec, nil
}

func (charEmbedder) Close() error { return nil }

type recordingVectors struct {
	mu   sync.Mutex
	docs map[string]vector.Document
}

func newRecordingVectors() *recordingVectors {
	return &recordingVectors{docs: map[string]vector.Document{}}
}

func (r *recordingVectors) Add(_ context.Context, docs []vector.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, doc := range docs {
		r.docs[doc.ID] = doc
	}
	return nil
}

func (r *recordingVectors) Query(context.Context, []float32, int) ([]vector.QueryResult, error) {
	return nil, nil
}

func (r *recordingVectors) Get(context.Context, []string) ([]vector.Document, error) {
	return nil, nil
}

func (r *recordingVectors) Delete(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.docs, id)
	}
	return nil
}

func (r *recordingVectors) Close() error { return nil }

var _ = Describe("Extraction service", func() {
	var (
		ctx    context.Context
		driver *inmemory.Driver
		orc    *fakeOracle
		svc    *extract.Service
		base   time.Time
	)

	seed := func(key string, role chat.Role, content string, at time.Time) {
		_, err := driver.Messages().Append(ctx, chat.Message{
			ConversationKey: key,
			Platform:        "telegram",
			Role:            role,
			Content:         content,
			CreatedAt:       at,
		})
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		ctx = context.Background()
		driver = inmemory.NewDriver()
		orc = &fakeOracle{}
		base = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

		var err error
		svc, err = extract.NewService(&extract.Config{
			Messages: driver.Messages(),
			Topics:   driver.Topics(),
			Memories: driver.Memories(),
			Oracle:   orc,
			Logger:   zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("creates topics, assigns messages, and persists memories", func() {
		seed("u1", "user", "I started running in the mornings", base)
		seed("u1", "assistant", "That's a great habit", base.Add(time.Minute))
		seed("u1", "user", "Also planning a trip to Lisbon", base.Add(2*time.Hour))

		orc.extractFn = func(req oracle.ExtractionRequest) (*oracle.ExtractionResponse, error) {
			Expect(req.ConversationKey).To(Equal("u1"))
			Expect(req.Messages).To(HaveLen(3))
			return &oracle.ExtractionResponse{
				Topics: []oracle.ExtractedTopic{
					{
						Topic: "Fitness",
						Start: base.Add(-time.Minute),
						End:   base.Add(2 * time.Minute),
						Memories: []oracle.ExtractedMemory{
							{Memory: "Runs in the mornings", Keywords: []string{"running"}, Category: "health"},
						},
					},
					{
						Topic: "Lisbon Trip",
						Start: base.Add(time.Hour),
						End:   base.Add(3 * time.Hour),
						Memories: []oracle.ExtractedMemory{
							{Memory: "Planning a trip to Lisbon", Keywords: []string{"lisbon", "travel"}, Category: "travel"},
						},
					},
				},
			}, nil
		}

		result, err := svc.ExtractConversation(ctx, "u1")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.TopicsCreated).To(Equal(2))
		Expect(result.MemoriesCreated).To(Equal(2))
		Expect(result.MessagesAssigned).To(Equal(3))

		topics, err := driver.Topics().List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(topics).To(HaveLen(2))

		memories, err := driver.Memories().List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(memories).To(HaveLen(2))
		for _, m := range memories {
			Expect(m.TopicID).NotTo(BeNil())
		}
	})

	It("extends an existing topic instead of duplicating it", func() {
		existing, err := driver.Topics().Create(ctx, "Fitness")
		Expect(err).NotTo(HaveOccurred())
		seed("u1", "user", "ran 5k today", base)

		orc.extractFn = func(oracle.ExtractionRequest) (*oracle.ExtractionResponse, error) {
			return &oracle.ExtractionResponse{
				Topics: []oracle.ExtractedTopic{
					{
						Topic:    "FITNESS",
						Start:    base.Add(-time.Minute),
						End:      base.Add(time.Minute),
						Memories: []oracle.ExtractedMemory{{Memory: "Ran 5k", Keywords: []string{"running"}}},
					},
				},
			}, nil
		}

		result, err := svc.ExtractConversation(ctx, "u1")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.TopicsCreated).To(BeZero())
		Expect(result.TopicIDs).To(ConsistOf(existing.ID))

		topics, err := driver.Topics().List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(topics).To(HaveLen(1))
	})

	It("drops invalid extracted memories and keeps the rest", func() {
		seed("u1", "user", "hello", base)

		orc.extractFn = func(oracle.ExtractionRequest) (*oracle.ExtractionResponse, error) {
			return &oracle.ExtractionResponse{
				Topics: []oracle.ExtractedTopic{
					{
						Topic: "Misc",
						Start: base.Add(-time.Minute),
						End:   base.Add(time.Minute),
						Memories: []oracle.ExtractedMemory{
							{Memory: "good fact", Keywords: []string{"fact"}, Category: "other"},
							{Memory: "bad fact", Keywords: []string{"fact"}, Category: "not-a-category"},
						},
					},
				},
			}, nil
		}

		result, err := svc.ExtractConversation(ctx, "u1")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.MemoriesCreated).To(Equal(1))

		memories, err := driver.Memories().List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(memories).To(HaveLen(1))
		Expect(memories[0].Memory).To(Equal("good fact"))
	})

	It("does not call the oracle for an empty conversation", func() {
		result, err := svc.ExtractConversation(ctx, "nobody")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.TopicsCreated).To(BeZero())
		Expect(orc.extractCalls.Load()).To(BeZero())
	})

	It("indexes the names of newly created topics", func() {
		vectors := newRecordingVectors()
		var err error
		svc, err = extract.NewService(&extract.Config{
			Messages: driver.Messages(),
			Topics:   driver.Topics(),
			Memories: driver.Memories(),
			Oracle:   orc,
			Embedder: charEmbedder{},
			Vectors:  vectors,
			Logger:   zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())

		seed("u1", "user", "ran 5k today", base)
		orc.extractFn = func(oracle.ExtractionRequest) (*oracle.ExtractionResponse, error) {
			return &oracle.ExtractionResponse{
				Topics: []oracle.ExtractedTopic{
					{Topic: "Fitness", Start: base.Add(-time.Minute), End: base.Add(time.Minute)},
				},
			}, nil
		}

		result, err := svc.ExtractConversation(ctx, "u1")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.TopicsCreated).To(Equal(1))

		vectors.mu.Lock()
		defer vectors.mu.Unlock()
		Expect(vectors.docs).To(HaveLen(1))
		Expect(vectors.docs).To(HaveKey(result.TopicIDs[0]))
		Expect(vectors.docs[result.TopicIDs[0]].Name).To(Equal("Fitness"))
	})

	It("waits for an in-flight topic merge before assigning", func() {
		guard := &storage.TopicGuard{}
		var err error
		svc, err = extract.NewService(&extract.Config{
			Messages: driver.Messages(),
			Topics:   driver.Topics(),
			Memories: driver.Memories(),
			Oracle:   orc,
			Guard:    guard,
			Logger:   zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())

		seed("u1", "user", "ran 5k today", base)
		orc.extractFn = func(oracle.ExtractionRequest) (*oracle.ExtractionResponse, error) {
			return &oracle.ExtractionResponse{
				Topics: []oracle.ExtractedTopic{
					{Topic: "Fitness", Start: base.Add(-time.Minute), End: base.Add(time.Minute)},
				},
			}, nil
		}

		guard.BeginMerge()
		done := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			_, err := svc.ExtractConversation(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			close(done)
		}()

		Consistently(done, "100ms").ShouldNot(BeClosed())
		guard.EndMerge()
		Eventually(done).Should(BeClosed())
	})

	It("defaults a missing logger", func() {
		var err error
		svc, err = extract.NewService(&extract.Config{
			Messages: driver.Messages(),
			Topics:   driver.Topics(),
			Memories: driver.Memories(),
			Oracle:   orc,
		})
		Expect(err).NotTo(HaveOccurred())

		seed("u1", "user", "hello", base)
		_, err = svc.ExtractConversation(ctx, "u1")
		Expect(err).NotTo(HaveOccurred())
	})

	It("surfaces oracle failures", func() {
		seed("u1", "user", "hello", base)
		orc.extractFn = func(oracle.ExtractionRequest) (*oracle.ExtractionResponse, error) {
			return nil, fmt.Errorf("%w: timeout", oracle.ErrOracle)
		}

		_, err := svc.ExtractConversation(ctx, "u1")
		Expect(err).To(MatchError(oracle.ErrOracle))
	})

	Describe("Flush", func() {
		It("extracts each dirty conversation once and clears the set", func() {
			seed("u1", "user", "hello", base)
			seed("u2", "user", "hi there", base)

			svc.MarkDirty("u1")
			svc.MarkDirty("u2")
			svc.MarkDirty("u1")

			results := svc.Flush(ctx)
			Expect(results).To(HaveLen(2))
			Expect(orc.extractCalls.Load()).To(Equal(int64(2)))

			Expect(svc.Flush(ctx)).To(BeEmpty())
			Expect(orc.extractCalls.Load()).To(Equal(int64(2)))
		})

		It("keeps a failed conversation dirty for the next flush", func() {
			seed("u1", "user", "hello", base)
			svc.MarkDirty("u1")

			orc.extractFn = func(oracle.ExtractionRequest) (*oracle.ExtractionResponse, error) {
				return nil, fmt.Errorf("%w: 503", oracle.ErrOracle)
			}
			Expect(svc.Flush(ctx)).To(BeEmpty())

			orc.extractFn = nil
			Expect(svc.Flush(ctx)).To(HaveLen(1))
		})
	})
})

var _ = Describe("Scheduler", func() {
	It("rejects an invalid cron expression", func() {
		svc, err := extract.NewService(&extract.Config{
			Messages: inmemory.NewDriver().Messages(),
			Topics:   inmemory.NewDriver().Topics(),
			Memories: inmemory.NewDriver().Memories(),
			Oracle:   &fakeOracle{},
			Logger:   zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())

		_, err = extract.NewScheduler(svc, "not a schedule", zap.NewNop())
		Expect(err).To(HaveOccurred())

		sched, err := extract.NewScheduler(svc, "@hourly", zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		sched.Start()
		sched.Stop()
	})
})
