package resolver

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/dselans/fivehundred/clog"
)

var _ = Describe("Resolver", func() {
	var candidates []Candidate

	BeforeEach(func() {
		candidates = []Candidate{
			{ID: "1", Title: "X", Artist: "Y", Score: 100},
			{ID: "2", Title: "X", Artist: "Z", Score: 90},
		}
	})

	It("returns nil for no candidates", func() {
		Expect(New(DefaultPolicy, nil).Resolve(Query{Title: "X"}, nil)).To(BeNil())
	})

	It("prefers the exact title and artist match", func() {
		m := New(DefaultPolicy, nil).Resolve(Query{Artist: "Y", Title: "X"}, candidates)
		Expect(m).ToNot(BeNil())
		Expect(m.Candidate.ID).To(Equal("1"))
		Expect(m.Tier).To(Equal(TierExact))
		Expect(m.LowConfidence).To(BeFalse())
	})

	It("matches exact case-insensitively", func() {
		m := New(DefaultPolicy, nil).Resolve(Query{Artist: "z", Title: "x"}, candidates)
		Expect(m.Candidate.ID).To(Equal("2"))
		Expect(m.Tier).To(Equal(TierExact))
	})

	It("falls back to the highest score above the threshold", func() {
		logger := &clog.TestLogger{}

		m := New(DefaultPolicy, logger).Resolve(Query{Artist: "Q", Title: "X"}, candidates)
		Expect(m).ToNot(BeNil())
		Expect(m.Candidate.ID).To(Equal("1"))
		Expect(m.Tier).To(Equal(TierStrict))
		Expect(m.LowConfidence).To(BeTrue())
		Expect(logger.Contains("lower-confidence match")).To(BeTrue())
	})

	It("picks the highest score even when it is not first", func() {
		cs := []Candidate{
			{ID: "a", Title: "Other", Artist: "B", Score: 91},
			{ID: "b", Title: "Other", Artist: "B", Score: 97},
		}

		m := New(DefaultPolicy, nil).Resolve(Query{Artist: "Q", Title: "X"}, cs)
		Expect(m.Candidate.ID).To(Equal("b"))
		Expect(m.Index).To(Equal(1))
	})

	Context("release database policy", func() {
		It("trusts a perfect score with a matching title", func() {
			cs := []Candidate{
				{ID: "a", Title: "Abbey Road", Artist: "Someone", Score: 100},
			}

			m := New(ReleaseDatabasePolicy, nil).Resolve(Query{Artist: "The Beatles", Title: "Abbey Road"}, cs)
			Expect(m.Candidate.ID).To(Equal("a"))
			Expect(m.Tier).To(Equal(TierStrict))
		})

		It("requires the artist for the strict tier", func() {
			cs := []Candidate{
				{ID: "a", Title: "Abbey Road (Remaster)", Artist: "Other", Score: 95},
				{ID: "b", Title: "Abbey Road (Deluxe)", Artist: "The Beatles", Score: 92},
			}

			m := New(ReleaseDatabasePolicy, nil).Resolve(Query{Artist: "The Beatles", Title: "Abbey Road"}, cs)
			Expect(m.Candidate.ID).To(Equal("b"))
			Expect(m.Tier).To(Equal(TierStrict))
		})

		It("accepts anything above the fallback threshold", func() {
			cs := []Candidate{
				{ID: "a", Title: "Abbey Rd", Artist: "Other", Score: 86},
			}

			m := New(ReleaseDatabasePolicy, nil).Resolve(Query{Artist: "The Beatles", Title: "Abbey Road"}, cs)
			Expect(m.Candidate.ID).To(Equal("a"))
			Expect(m.Tier).To(Equal(TierBestAvailable))
			Expect(m.LowConfidence).To(BeTrue())
		})

		It("rejects low scores", func() {
			cs := []Candidate{
				{ID: "a", Title: "Something Else", Artist: "Other", Score: 40},
			}

			Expect(New(ReleaseDatabasePolicy, nil).Resolve(Query{Artist: "The Beatles", Title: "Abbey Road"}, cs)).To(BeNil())
		})
	})

	Context("store title policy", func() {
		It("takes the first result flagged lower-confidence", func() {
			cs := []Candidate{
				{ID: "a", Title: "Led Zeppelin IV", Score: UnknownScore},
				{ID: "b", Title: "Led Zeppelin II", Score: UnknownScore},
			}

			m := New(StoreTitlePolicy, nil).Resolve(Query{Title: "Zeppelin"}, cs)
			Expect(m.Candidate.ID).To(Equal("a"))
			Expect(m.LowConfidence).To(BeTrue())
		})

		It("prefers an exact title", func() {
			cs := []Candidate{
				{ID: "a", Title: "Led Zeppelin IV", Score: UnknownScore},
				{ID: "b", Title: "Led Zeppelin", Score: UnknownScore},
			}

			m := New(StoreTitlePolicy, nil).Resolve(Query{Title: "led zeppelin"}, cs)
			Expect(m.Candidate.ID).To(Equal("b"))
			Expect(m.Tier).To(Equal(TierExact))
		})
	})

	Context("Score", func() {
		It("is 100 for identical names and lower otherwise", func() {
			Expect(Score(Query{Title: "Abbey Road"}, Candidate{Title: "abbey road"})).To(Equal(100))
			Expect(Score(Query{Title: "Abbey Road"}, Candidate{Title: "Revolver"})).To(BeNumerically("<", 80))
		})
	})
})
