package oracle_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/parchmentco/ledger/pkg/chat"
	"github.com/parchmentco/ledger/pkg/oracle"
)

var _ = Describe("Client", func() {
	It("renders the transcript into the extraction prompt", func() {
		var captured string
		client := oracle.NewClient(func(_ context.Context, prompt string) (string, error) {
			captured = prompt
			return `{"topics":[]}`, nil
		})

		_, err := client.ExtractTopics(context.Background(), oracle.ExtractionRequest{
			ConversationKey: "key",
			Messages: []chat.Message{
				{Role: chat.RoleUser, Content: "my brakes squeal", CreatedAt: time.Now()},
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(captured).To(ContainSubstring("my brakes squeal"))
		Expect(captured).To(ContainSubstring("health"))
	})

	It("propagates transport errors unchanged", func() {
		boom := errors.New("boom")
		client := oracle.NewClient(func(context.Context, string) (string, error) {
			return "", boom
		})

		_, err := client.DedupMemories(context.Background(), oracle.DedupRequest{})
		Expect(err).To(MatchError(boom))
	})

	It("surfaces schema violations as oracle errors", func() {
		client := oracle.NewClient(func(context.Context, string) (string, error) {
			return `{"unexpected":1}`, nil
		})

		_, err := client.DedupMemories(context.Background(), oracle.DedupRequest{})
		Expect(err).To(MatchError(oracle.ErrOracle))
	})

	It("renders both names into the merge prompt", func() {
		var captured string
		client := oracle.NewClient(func(_ context.Context, prompt string) (string, error) {
			captured = prompt
			return `{"should_merge":false,"unified_name":""}`, nil
		})

		resp, err := client.JudgeTopicMerge(context.Background(), oracle.MergeRequest{NameA: "Car repairs", NameB: "Car Repair"})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.ShouldMerge).To(BeFalse())
		Expect(captured).To(ContainSubstring("Car repairs"))
		Expect(captured).To(ContainSubstring("Car Repair"))
	})
})
