package nop_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/parchmentco/ledger/pkg/eventstream"
	"github.com/parchmentco/ledger/pkg/eventstream/nop"
)

var _ = Describe("Publisher", func() {
	It("returns ErrNilEvent for nil events", func() {
		p := nop.NewPublisher()
		Expect(p.PublishMessagePersisted(context.Background(), nil)).To(MatchError(eventstream.ErrNilEvent))
		Expect(p.PublishConsolidationCompleted(context.Background(), nil)).To(MatchError(eventstream.ErrNilEvent))
	})

	It("succeeds for non-nil events", func() {
		p := nop.NewPublisher()
		Expect(p.PublishMessagePersisted(context.Background(), &eventstream.MessagePersistedEvent{})).To(Succeed())
		Expect(p.PublishConsolidationCompleted(context.Background(), &eventstream.ConsolidationCompletedEvent{})).To(Succeed())
	})

	It("closes successfully", func() {
		Expect(nop.NewPublisher().Close()).To(Succeed())
	})
})
