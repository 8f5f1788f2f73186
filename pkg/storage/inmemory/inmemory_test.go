package inmemory_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/parchmentco/ledger/pkg/chat"
	"github.com/parchmentco/ledger/pkg/storage"
	"github.com/parchmentco/ledger/pkg/storage/inmemory"
)

var _ = Describe("InMemory Driver", func() {
	var (
		ctx    context.Context
		driver *inmemory.Driver
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = inmemory.NewDriver()
	})

	Describe("interface compliance", func() {
		It("satisfies storage.Driver", func() {
			var _ storage.Driver = inmemory.NewDriver()
		})
	})

	Describe("MessageStore", func() {
		It("assigns strictly increasing ids on append", func() {
			msgs := driver.Messages()
			first, err := msgs.Append(ctx, chat.Message{ConversationKey: "u1", Platform: "discord", Role: chat.RoleUser, Content: "hi"})
			Expect(err).NotTo(HaveOccurred())
			second, err := msgs.Append(ctx, chat.Message{ConversationKey: "u1", Platform: "discord", Role: chat.RoleAssistant, Content: "hello"})
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).To(BeNumerically(">", first.ID))
			Expect(first.CreatedAt).NotTo(BeZero())
		})

		It("lists by conversation in id order", func() {
			msgs := driver.Messages()
			for _, content := range []string{"a", "b", "c"} {
				_, err := msgs.Append(ctx, chat.Message{ConversationKey: "u1", Role: chat.RoleUser, Content: content})
				Expect(err).NotTo(HaveOccurred())
			}
			_, err := msgs.Append(ctx, chat.Message{ConversationKey: "u2", Role: chat.RoleUser, Content: "other"})
			Expect(err).NotTo(HaveOccurred())

			listed, err := msgs.ListByConversation(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(listed).To(HaveLen(3))
			Expect(listed[0].Content).To(Equal("a"))
			Expect(listed[2].Content).To(Equal("c"))
		})

		It("returns the tail of a conversation", func() {
			msgs := driver.Messages()
			for _, content := range []string{"a", "b", "c", "d"} {
				_, err := msgs.Append(ctx, chat.Message{ConversationKey: "u1", Role: chat.RoleUser, Content: content})
				Expect(err).NotTo(HaveOccurred())
			}

			tail, err := msgs.Tail(ctx, "u1", 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(tail).To(HaveLen(2))
			Expect(tail[0].Content).To(Equal("c"))
			Expect(tail[1].Content).To(Equal("d"))
		})

		It("updates content and bumps updated_at", func() {
			msgs := driver.Messages()
			m, err := msgs.Append(ctx, chat.Message{ConversationKey: "u1", Role: chat.RoleAssistant, Content: "draft"})
			Expect(err).NotTo(HaveOccurred())

			Expect(msgs.UpdateContent(ctx, m.ID, "final")).To(Succeed())

			listed, err := msgs.ListByConversation(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(listed[0].Content).To(Equal("final"))
			Expect(listed[0].UpdatedAt).To(BeTemporally(">=", listed[0].CreatedAt))
		})

		It("deletes from an id onward within one conversation", func() {
			msgs := driver.Messages()
			var ids []int64
			for _, content := range []string{"a", "b", "c"} {
				m, err := msgs.Append(ctx, chat.Message{ConversationKey: "u1", Role: chat.RoleUser, Content: content})
				Expect(err).NotTo(HaveOccurred())
				ids = append(ids, m.ID)
			}

			Expect(msgs.DeleteFrom(ctx, "u1", ids[1])).To(Succeed())

			listed, err := msgs.ListByConversation(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(listed).To(HaveLen(1))
			Expect(listed[0].Content).To(Equal("a"))
		})

		It("assigns topics by time range", func() {
			msgs := driver.Messages()
			early := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
			late := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

			_, err := msgs.Append(ctx, chat.Message{ConversationKey: "u1", Role: chat.RoleUser, Content: "in", CreatedAt: early})
			Expect(err).NotTo(HaveOccurred())
			_, err = msgs.Append(ctx, chat.Message{ConversationKey: "u1", Role: chat.RoleUser, Content: "out", CreatedAt: late})
			Expect(err).NotTo(HaveOccurred())

			n, err := msgs.AssignTopicByTimeRange(ctx, "u1", "topic-1", early.Add(-time.Minute), early.Add(time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			byTopic, err := msgs.ListByTopic(ctx, "topic-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(byTopic).To(HaveLen(1))
			Expect(byTopic[0].Content).To(Equal("in"))
		})

		It("rolls back a failed transaction", func() {
			msgs := driver.Messages()
			_, err := msgs.Append(ctx, chat.Message{ConversationKey: "u1", Role: chat.RoleUser, Content: "keep"})
			Expect(err).NotTo(HaveOccurred())

			boom := errors.New("boom")
			err = msgs.Transact(ctx, func(tx storage.MessageStore) error {
				if _, err := tx.Append(ctx, chat.Message{ConversationKey: "u1", Role: chat.RoleUser, Content: "discard"}); err != nil {
					return err
				}
				return boom
			})
			Expect(err).To(MatchError(boom))

			listed, err := msgs.ListByConversation(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(listed).To(HaveLen(1))
			Expect(listed[0].Content).To(Equal("keep"))
		})

		It("commits a successful transaction atomically", func() {
			msgs := driver.Messages()
			err := msgs.Transact(ctx, func(tx storage.MessageStore) error {
				if _, err := tx.Append(ctx, chat.Message{ConversationKey: "u1", Role: chat.RoleUser, Content: "one"}); err != nil {
					return err
				}
				_, err := tx.Append(ctx, chat.Message{ConversationKey: "u1", Role: chat.RoleAssistant, Content: "two"})
				return err
			})
			Expect(err).NotTo(HaveOccurred())

			listed, err := msgs.ListByConversation(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(listed).To(HaveLen(2))
		})
	})

	Describe("TopicStore", func() {
		It("creates and fetches topics by case-insensitive name", func() {
			topics := driver.Topics()
			created, err := topics.Create(ctx, "Car Repairs")
			Expect(err).NotTo(HaveOccurred())

			found, err := topics.GetByName(ctx, "car repairs")
			Expect(err).NotTo(HaveOccurred())
			Expect(found.ID).To(Equal(created.ID))
		})

		It("rejects duplicate names case-insensitively", func() {
			topics := driver.Topics()
			_, err := topics.Create(ctx, "Travel Plans")
			Expect(err).NotTo(HaveOccurred())
			_, err = topics.Create(ctx, "travel plans")
			Expect(err).To(HaveOccurred())
		})

		It("find-or-create reuses existing topics", func() {
			topics := driver.Topics()
			first, created, err := topics.FindOrCreateByName(ctx, "Health")
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())

			again, created, err := topics.FindOrCreateByName(ctx, "HEALTH")
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())
			Expect(again.ID).To(Equal(first.ID))
		})

		It("deletes topics", func() {
			topics := driver.Topics()
			t, err := topics.Create(ctx, "Temp")
			Expect(err).NotTo(HaveOccurred())
			Expect(topics.Delete(ctx, t.ID)).To(Succeed())

			_, err = topics.Get(ctx, t.ID)
			var nf storage.NotFoundError
			Expect(errors.As(err, &nf)).To(BeTrue())
		})
	})

	Describe("MemoryStore", func() {
		It("creates memories with normalized keywords", func() {
			mems := driver.Memories()
			created, err := mems.Create(ctx, chat.Memory{Memory: "likes espresso", Keywords: []string{"Coffee", "espresso "}})
			Expect(err).NotTo(HaveOccurred())
			Expect(created.ID).NotTo(BeEmpty())
			Expect(created.Keywords).To(Equal([]string{"coffee", "espresso"}))
		})

		It("rejects memories without keywords or category", func() {
			mems := driver.Memories()
			_, err := mems.Create(ctx, chat.Memory{Memory: "floating fact"})
			Expect(err).To(HaveOccurred())
		})

		It("rejects invalid categories on patch without mutating", func() {
			mems := driver.Memories()
			created, err := mems.Create(ctx, chat.Memory{Memory: "fact", Keywords: []string{"k"}})
			Expect(err).NotTo(HaveOccurred())

			bad := "nonsense"
			_, err = mems.Patch(ctx, created.ID, chat.MemoryPatch{Category: &bad})
			Expect(err).To(HaveOccurred())

			unchanged, err := mems.Get(ctx, created.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(unchanged.Category).To(BeEmpty())
		})

		It("finds memories by keyword overlap", func() {
			mems := driver.Memories()
			_, err := mems.Create(ctx, chat.Memory{Memory: "a", Keywords: []string{"car", "repair"}})
			Expect(err).NotTo(HaveOccurred())
			_, err = mems.Create(ctx, chat.Memory{Memory: "b", Keywords: []string{"vacation"}})
			Expect(err).NotTo(HaveOccurred())

			found, err := mems.ListByKeywordOverlap(ctx, []string{"Car"})
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(HaveLen(1))
			Expect(found[0].Memory).To(Equal("a"))
		})

		It("reassigns topic associations", func() {
			mems := driver.Memories()
			from := "topic-from"
			_, err := mems.Create(ctx, chat.Memory{Memory: "a", Keywords: []string{"k"}, TopicID: &from})
			Expect(err).NotTo(HaveOccurred())

			Expect(mems.ReassignTopic(ctx, "topic-from", "topic-to")).To(Succeed())

			moved, err := mems.ListByTopic(ctx, "topic-to")
			Expect(err).NotTo(HaveOccurred())
			Expect(moved).To(HaveLen(1))
		})

		It("touch bumps access counters", func() {
			mems := driver.Memories()
			created, err := mems.Create(ctx, chat.Memory{Memory: "a", Keywords: []string{"k"}})
			Expect(err).NotTo(HaveOccurred())

			Expect(mems.Touch(ctx, []string{created.ID})).To(Succeed())

			got, err := mems.Get(ctx, created.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.AccessCount).To(Equal(1))
			Expect(got.LastAccessed).NotTo(BeNil())
		})
	})
})
