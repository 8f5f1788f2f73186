package reconcile_test

import (
	"context"
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/parchmentco/ledger/pkg/chat"
	"github.com/parchmentco/ledger/pkg/eventstream/nop"
	"github.com/parchmentco/ledger/pkg/reconcile"
	"github.com/parchmentco/ledger/pkg/storage/inmemory"
)

const primary = "telegram"

var _ = Describe("Reconciler", func() {
	var (
		ctx context.Context
		drv *inmemory.Driver
		r   *reconcile.Reconciler
	)

	BeforeEach(func() {
		ctx = context.Background()
		drv = inmemory.NewDriver()
		r = reconcile.New(drv.Messages(), nop.NewPublisher(), zap.NewNop(), primary)
	})

	AfterEach(func() {
		Expect(drv.Close()).To(Succeed())
	})

	Describe("Reconcile", func() {
		It("returns empty for an empty snapshot without touching storage", func() {
			buffer, err := r.Reconcile(ctx, "key", primary, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(buffer).To(BeEmpty())

			stored, err := drv.Messages().ListByConversation(ctx, "key")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored).To(BeEmpty())
		})

		It("rejects an unknown role", func() {
			_, err := r.Reconcile(ctx, "key", primary, []chat.RawMessage{{Role: "system", Content: "x"}})
			Expect(err).To(BeAssignableToTypeOf(chat.ValidationError{}))
		})

		It("seeds an empty buffer with only the snapshot's last message", func() {
			buffer, err := r.Reconcile(ctx, "key", primary, []chat.RawMessage{
				raw(chat.RoleUser, "earlier context"),
				raw(chat.RoleUser, "hi"),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(buffer).To(HaveLen(1))
			Expect(buffer[0].Content).To(Equal("hi"))
		})

		It("is idempotent for a resent user message", func() {
			snapshot := []chat.RawMessage{raw(chat.RoleUser, "hi")}

			first, err := r.Reconcile(ctx, "key", primary, snapshot)
			Expect(err).NotTo(HaveOccurred())

			second, err := r.Reconcile(ctx, "key", primary, snapshot)
			Expect(err).NotTo(HaveOccurred())

			Expect(second).To(HaveLen(1))
			Expect(second[0].ID).To(Equal(first[0].ID))
			Expect(second[0].Content).To(Equal("hi"))
		})

		It("leaves no orphan assistant turn behind a discarded user prompt", func() {
			_, err := r.Reconcile(ctx, "key", primary, []chat.RawMessage{raw(chat.RoleUser, "first")})
			Expect(err).NotTo(HaveOccurred())

			buffer, err := r.Reconcile(ctx, "key", primary, []chat.RawMessage{raw(chat.RoleUser, "second")})
			Expect(err).NotTo(HaveOccurred())

			Expect(buffer).To(HaveLen(1))
			Expect(buffer[0].Role).To(Equal(chat.RoleUser))
			Expect(buffer[0].Content).To(Equal("second"))
		})

		It("drops the stale assistant reply when its user message is resent", func() {
			_, err := r.Reconcile(ctx, "key", primary, []chat.RawMessage{raw(chat.RoleUser, "hi")})
			Expect(err).NotTo(HaveOccurred())
			_, err = r.Reconcile(ctx, "key", primary, []chat.RawMessage{
				raw(chat.RoleUser, "hi"),
				raw(chat.RoleAssistant, "hello"),
			})
			Expect(err).NotTo(HaveOccurred())

			buffer, err := r.Reconcile(ctx, "key", primary, []chat.RawMessage{raw(chat.RoleUser, "hi")})
			Expect(err).NotTo(HaveOccurred())

			Expect(buffer).To(HaveLen(1))
			Expect(buffer[0].Role).To(Equal(chat.RoleUser))
		})

		It("keeps exactly one assistant row across repeated edits", func() {
			_, err := r.Reconcile(ctx, "key", primary, []chat.RawMessage{raw(chat.RoleUser, "hi")})
			Expect(err).NotTo(HaveOccurred())

			var buffer []chat.Message
			for i := 1; i <= 5; i++ {
				buffer, err = r.Reconcile(ctx, "key", primary, []chat.RawMessage{
					raw(chat.RoleUser, "hi"),
					raw(chat.RoleAssistant, fmt.Sprintf("edit %d", i)),
				})
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(buffer).To(HaveLen(2))
			Expect(buffer[1].Role).To(Equal(chat.RoleAssistant))
			Expect(buffer[1].Content).To(Equal("edit 5"))
		})

		It("does not append when an identical snapshot is resent", func() {
			snapshot := []chat.RawMessage{
				raw(chat.RoleUser, "hi"),
				raw(chat.RoleAssistant, "hello"),
			}

			_, err := r.Reconcile(ctx, "key", primary, []chat.RawMessage{raw(chat.RoleUser, "hi")})
			Expect(err).NotTo(HaveOccurred())
			first, err := r.Reconcile(ctx, "key", primary, snapshot)
			Expect(err).NotTo(HaveOccurred())

			second, err := r.Reconcile(ctx, "key", primary, snapshot)
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(HaveLen(len(first)))
		})

		It("always appends for non-primary platforms", func() {
			for i := 0; i < 3; i++ {
				_, err := r.Reconcile(ctx, "key", "webhook", []chat.RawMessage{raw(chat.RoleUser, "same")})
				Expect(err).NotTo(HaveOccurred())
			}

			buffer, err := drv.Messages().ListByConversation(ctx, "key")
			Expect(err).NotTo(HaveOccurred())
			Expect(buffer).To(HaveLen(3))
		})

		It("serializes concurrent calls for one conversation", func() {
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := r.Reconcile(ctx, "key", primary, []chat.RawMessage{raw(chat.RoleUser, "same prompt")})
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			buffer, err := drv.Messages().ListByConversation(ctx, "key")
			Expect(err).NotTo(HaveOccurred())
			Expect(buffer).To(HaveLen(1))
		})
	})

	Describe("RecordToolCall", func() {
		It("appends the tool call and its output together", func() {
			payload := []byte(`[{"id":"call_1","function":{"name":"lookup"}}]`)
			err := r.RecordToolCall(ctx, "key", primary, "gpt-4o", payload, "42 degrees", "call_1")
			Expect(err).NotTo(HaveOccurred())

			buffer, err := drv.Messages().ListByConversation(ctx, "key")
			Expect(err).NotTo(HaveOccurred())
			Expect(buffer).To(HaveLen(2))
			Expect(buffer[0].Role).To(Equal(chat.RoleAssistant))
			Expect(string(buffer[0].ToolCalls)).To(ContainSubstring("call_1"))
			Expect(buffer[1].Role).To(Equal(chat.RoleTool))
			Expect(buffer[1].Content).To(Equal("42 degrees"))
			Expect(buffer[1].ToolCallID).To(Equal("call_1"))
		})
	})

	Describe("RecordAssistant", func() {
		It("appends after a user turn", func() {
			_, err := r.Reconcile(ctx, "key", primary, []chat.RawMessage{raw(chat.RoleUser, "hi")})
			Expect(err).NotTo(HaveOccurred())

			appended, err := r.RecordAssistant(ctx, "key", primary, "gpt-4o", "hello")
			Expect(err).NotTo(HaveOccurred())
			Expect(appended.Role).To(Equal(chat.RoleAssistant))
			Expect(appended.ID).NotTo(BeZero())
		})

		It("rejects two consecutive non-empty assistant turns", func() {
			_, err := r.RecordAssistant(ctx, "key", primary, "gpt-4o", "hello")
			Expect(err).NotTo(HaveOccurred())

			_, err = r.RecordAssistant(ctx, "key", primary, "gpt-4o", "hello again")
			Expect(err).To(BeAssignableToTypeOf(chat.ValidationError{}))

			buffer, err := drv.Messages().ListByConversation(ctx, "key")
			Expect(err).NotTo(HaveOccurred())
			Expect(buffer).To(HaveLen(1))
		})

		It("allows an assistant turn after a tool-call row", func() {
			payload := []byte(`[{"id":"call_1"}]`)
			Expect(r.RecordToolCall(ctx, "key", primary, "gpt-4o", payload, "out", "call_1")).To(Succeed())

			_, err := r.RecordAssistant(ctx, "key", primary, "gpt-4o", "summarized")
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
