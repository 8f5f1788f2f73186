package postgres_test

import (
	"context"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/parchmentco/ledger/pkg/chat"
	"github.com/parchmentco/ledger/pkg/storage/postgres"
)

// connStr returns the PostgreSQL connection string from environment or skips the test.
func connStr() string {
	dsn := os.Getenv("LEDGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		Skip("LEDGER_TEST_POSTGRES_DSN not set, skipping PostgreSQL tests")
	}
	return dsn
}

var _ = Describe("Postgres Driver", func() {
	var (
		ctx    context.Context
		driver *postgres.Driver
	)

	BeforeEach(func() {
		ctx = context.Background()
		dsn := connStr()

		var err error
		driver, err = postgres.NewDriver(ctx, dsn)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if driver != nil {
			driver.Close()
		}
	})

	It("appends and lists messages per conversation", func() {
		msgs := driver.Messages()

		appended, err := msgs.Append(ctx, chat.Message{ConversationKey: "pg-test", Platform: "discord", Role: chat.RoleUser, Content: "hi"})
		Expect(err).NotTo(HaveOccurred())
		Expect(appended.ID).To(BeNumerically(">", 0))

		listed, err := msgs.ListByConversation(ctx, "pg-test")
		Expect(err).NotTo(HaveOccurred())
		Expect(listed).NotTo(BeEmpty())

		Expect(msgs.DeleteFrom(ctx, "pg-test", 0)).To(Succeed())
	})

	It("creates and merges memory keyword rows", func() {
		mems := driver.Memories()

		created, err := mems.Create(ctx, chat.Memory{Memory: "pg fact", Keywords: []string{"pgtest"}})
		Expect(err).NotTo(HaveOccurred())

		found, err := mems.ListByKeywordOverlap(ctx, []string{"pgtest"})
		Expect(err).NotTo(HaveOccurred())
		Expect(found).NotTo(BeEmpty())

		Expect(mems.Delete(ctx, created.ID)).To(Succeed())
	})
})
