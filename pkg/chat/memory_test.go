package chat_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/parchmentco/ledger/pkg/chat"
)

var _ = Describe("Category", func() {
	It("parses known categories case-insensitively", func() {
		c, err := chat.ParseCategory("Health")
		Expect(err).NotTo(HaveOccurred())
		Expect(c).To(Equal(chat.CategoryHealth))

		c, err = chat.ParseCategory("  FINANCE ")
		Expect(err).NotTo(HaveOccurred())
		Expect(c).To(Equal(chat.CategoryFinance))
	})

	It("rejects unknown categories", func() {
		_, err := chat.ParseCategory("astrology")
		Expect(err).To(HaveOccurred())
		var verr chat.ValidationError
		Expect(err).To(BeAssignableToTypeOf(verr))
	})
})

var _ = Describe("NormalizeKeywords", func() {
	It("lower-cases, trims, dedupes, and sorts", func() {
		out := chat.NormalizeKeywords([]string{" Car ", "repair", "car", "", "Repair"})
		Expect(out).To(Equal([]string{"car", "repair"}))
	})

	It("returns an empty slice for empty input", func() {
		Expect(chat.NormalizeKeywords(nil)).To(BeEmpty())
	})
})

var _ = Describe("SharedKeywords", func() {
	It("counts common keywords", func() {
		a := []string{"car", "repair", "money"}
		b := []string{"money", "car", "vacation"}
		Expect(chat.SharedKeywords(a, b)).To(Equal(2))
	})

	It("is zero when nothing overlaps", func() {
		Expect(chat.SharedKeywords([]string{"a"}, []string{"b"})).To(Equal(0))
	})
})

var _ = Describe("ValidateNewMemory", func() {
	It("accepts keywords with no category", func() {
		kws, cat, err := chat.ValidateNewMemory("likes hiking", []string{"Hiking"}, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(kws).To(Equal([]string{"hiking"}))
		Expect(cat).To(BeEmpty())
	})

	It("accepts a category with no keywords", func() {
		kws, cat, err := chat.ValidateNewMemory("changed jobs", nil, "career")
		Expect(err).NotTo(HaveOccurred())
		Expect(kws).To(BeEmpty())
		Expect(cat).To(Equal(chat.CategoryCareer))
	})

	It("rejects a memory with neither keywords nor category", func() {
		_, _, err := chat.ValidateNewMemory("something", nil, "")
		Expect(err).To(HaveOccurred())
	})

	It("rejects empty memory text", func() {
		_, _, err := chat.ValidateNewMemory("   ", []string{"x"}, "")
		Expect(err).To(HaveOccurred())
	})

	It("rejects invalid categories rather than dropping them", func() {
		_, _, err := chat.ValidateNewMemory("fact", []string{"x"}, "made-up")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("EstimateTokens", func() {
	It("uses the four-characters-per-token heuristic", func() {
		Expect(chat.EstimateTokens("12345678")).To(Equal(2))
		Expect(chat.EstimateTokens("")).To(Equal(0))
	})
})
