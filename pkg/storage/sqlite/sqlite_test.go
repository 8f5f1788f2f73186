package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/parchmentco/ledger/pkg/chat"
	"github.com/parchmentco/ledger/pkg/storage"
	"github.com/parchmentco/ledger/pkg/storage/sqlite"
)

var _ = Describe("SQLite Driver", func() {
	var (
		ctx    context.Context
		driver *sqlite.Driver
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		driver, err = sqlite.NewDriver(":memory:")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if driver != nil {
			driver.Close()
		}
	})

	Describe("NewDriver", func() {
		It("creates a file database", func() {
			tmpDir := GinkgoT().TempDir()
			dbPath := filepath.Join(tmpDir, "ledger.db")

			d, err := sqlite.NewDriver(dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer d.Close()

			_, err = os.Stat(dbPath)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("messages", func() {
		It("round-trips a message with tool payloads", func() {
			msgs := driver.Messages()
			appended, err := msgs.Append(ctx, chat.Message{
				ConversationKey: "u1",
				Platform:        "discord",
				Role:            chat.RoleAssistant,
				Content:         "",
				ToolCalls:       []byte(`[{"id":"call_1"}]`),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(appended.ID).To(BeNumerically(">", 0))

			listed, err := msgs.ListByConversation(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(listed).To(HaveLen(1))
			Expect(string(listed[0].ToolCalls)).To(Equal(`[{"id":"call_1"}]`))
			Expect(listed[0].FunctionCall).To(BeNil())
		})

		It("keeps ids strictly increasing per conversation", func() {
			msgs := driver.Messages()
			var prev int64
			for range 5 {
				m, err := msgs.Append(ctx, chat.Message{ConversationKey: "u1", Role: chat.RoleUser, Content: "x"})
				Expect(err).NotTo(HaveOccurred())
				Expect(m.ID).To(BeNumerically(">", prev))
				prev = m.ID
			}
		})

		It("returns the tail in chronological order", func() {
			msgs := driver.Messages()
			for _, content := range []string{"a", "b", "c"} {
				_, err := msgs.Append(ctx, chat.Message{ConversationKey: "u1", Role: chat.RoleUser, Content: content})
				Expect(err).NotTo(HaveOccurred())
			}

			tail, err := msgs.Tail(ctx, "u1", 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(tail).To(HaveLen(2))
			Expect(tail[0].Content).To(Equal("b"))
			Expect(tail[1].Content).To(Equal("c"))
		})

		It("rolls back failed transactions", func() {
			msgs := driver.Messages()
			boom := errors.New("boom")
			err := msgs.Transact(ctx, func(tx storage.MessageStore) error {
				if _, err := tx.Append(ctx, chat.Message{ConversationKey: "u1", Role: chat.RoleUser, Content: "x"}); err != nil {
					return err
				}
				return boom
			})
			Expect(err).To(MatchError(boom))

			listed, err := msgs.ListByConversation(ctx, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(listed).To(BeEmpty())
		})

		It("surfaces NotFoundError for unknown update targets", func() {
			err := driver.Messages().UpdateContent(ctx, 9999, "nope")
			var nf storage.NotFoundError
			Expect(errors.As(err, &nf)).To(BeTrue())
		})
	})

	Describe("topics", func() {
		It("enforces case-insensitive name uniqueness via the index", func() {
			topics := driver.Topics()
			_, err := topics.Create(ctx, "Car Repairs")
			Expect(err).NotTo(HaveOccurred())

			_, err = topics.Create(ctx, "car repairs")
			var verr chat.ValidationError
			Expect(errors.As(err, &verr)).To(BeTrue())
		})

		It("find-or-create is idempotent across casing", func() {
			topics := driver.Topics()
			first, created, err := topics.FindOrCreateByName(ctx, "Travel")
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())

			second, created, err := topics.FindOrCreateByName(ctx, "tRaVeL")
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())
			Expect(second.ID).To(Equal(first.ID))
		})
	})

	Describe("memories", func() {
		It("persists keywords in the join table and queries by overlap", func() {
			mems := driver.Memories()
			_, err := mems.Create(ctx, chat.Memory{Memory: "broken alternator", Keywords: []string{"Car", "Repair"}})
			Expect(err).NotTo(HaveOccurred())
			_, err = mems.Create(ctx, chat.Memory{Memory: "trip to Lisbon", Keywords: []string{"travel"}})
			Expect(err).NotTo(HaveOccurred())

			found, err := mems.ListByKeywordOverlap(ctx, []string{"repair", "unrelated"})
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(HaveLen(1))
			Expect(found[0].Keywords).To(Equal([]string{"car", "repair"}))
		})

		It("cascades keyword deletion with the memory", func() {
			mems := driver.Memories()
			created, err := mems.Create(ctx, chat.Memory{Memory: "x", Keywords: []string{"gone"}})
			Expect(err).NotTo(HaveOccurred())

			Expect(mems.Delete(ctx, created.ID)).To(Succeed())

			found, err := mems.ListByKeywordOverlap(ctx, []string{"gone"})
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeEmpty())
		})

		It("patches partial fields only", func() {
			mems := driver.Memories()
			created, err := mems.Create(ctx, chat.Memory{Memory: "old text", Keywords: []string{"k"}, Category: chat.CategoryHealth})
			Expect(err).NotTo(HaveOccurred())

			newText := "new text"
			patched, err := mems.Patch(ctx, created.ID, chat.MemoryPatch{Memory: &newText})
			Expect(err).NotTo(HaveOccurred())
			Expect(patched.Memory).To(Equal("new text"))
			Expect(patched.Category).To(Equal(chat.CategoryHealth))
			Expect(patched.Keywords).To(Equal([]string{"k"}))
		})

		It("never leaves a memory row behind when the keyword write fails", func() {
			tmpDir := GinkgoT().TempDir()
			dbPath := filepath.Join(tmpDir, "ledger.db")

			d, err := sqlite.NewDriver(dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer d.Close()

			raw, err := sql.Open("sqlite3", dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer raw.Close()
			_, err = raw.ExecContext(ctx, `DROP TABLE memory_keywords`)
			Expect(err).NotTo(HaveOccurred())

			_, err = d.Memories().Create(ctx, chat.Memory{Memory: "x", Keywords: []string{"k"}})
			Expect(err).To(HaveOccurred())

			var count int
			Expect(raw.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&count)).To(Succeed())
			Expect(count).To(BeZero())
		})
	})
})
