package bulk

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/dselans/fivehundred/services/csvstore"
	"github.com/dselans/fivehundred/services/source"
)

type fakeLoader struct {
	rows []*csvstore.Row
}

func (f *fakeLoader) Load(_ context.Context) []*csvstore.Row { return f.rows }

func (f *fakeLoader) Invalidate() {}

var _ = Describe("Bulk", func() {
	var (
		loader  *fakeLoader
		adapter *Adapter
	)

	BeforeEach(func() {
		loader = &fakeLoader{rows: []*csvstore.Row{
			{Artist: "The Beatles", Album: "Abbey Road (Remastered)", Genre: "Pop"},
			{PublishedDate: "09/26/69", AMGID: "mw1", Artist: "The Beatles", Album: "Abbey Road", Genre: "Rock,Pop", Styles: "Arena Rock", Moods: "Warm, Playful", Themes: "Summer"},
			{Artist: "Black Sabbath", Album: "Paranoid", Genre: "Rock", Styles: "Heavy Metal"},
		}}

		var err error

		adapter, err = New(&Options{Loader: loader})
		Expect(err).ToNot(HaveOccurred())
	})

	It("prefers exact normalized matches over containment", func() {
		res := adapter.FetchMetadata(context.Background(), "the beatles", "ABBEY ROAD")
		Expect(res.Status).To(Equal(source.StatusOK))
		Expect(res.Record.SourceID).To(Equal("mw1"))
		Expect(res.Record.Genres).To(Equal([]string{"Rock", "Pop"}))
		Expect(res.Record.Styles).To(Equal([]string{"Arena Rock"}))
		Expect(res.Record.Moods).To(Equal([]string{"Warm", "Playful"}))
		Expect(res.Record.Themes).To(Equal([]string{"Summer"}))
		Expect(res.Record.ReleaseDate.Year()).To(Equal(1969))
		Expect(res.Record.Source).To(Equal(SourceName))
	})

	It("falls back to containment in either direction", func() {
		res := adapter.FetchMetadata(context.Background(), "Sabbath", "Paranoid (Deluxe Edition)")
		Expect(res.IsOK()).To(BeTrue())
		Expect(res.Record.Artist).To(Equal("Black Sabbath"))
	})

	It("returns not found when nothing matches", func() {
		res := adapter.FetchMetadata(context.Background(), "Nirvana", "Nevermind")
		Expect(res.Status).To(Equal(source.StatusNotFound))
	})

	It("returns not found when the export is empty", func() {
		loader.rows = nil
		Expect(adapter.FetchMetadata(context.Background(), "The Beatles", "Abbey Road").Status).To(Equal(source.StatusNotFound))
	})

	Context("ParseReleaseDate", func() {
		BeforeEach(func() {
			now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
		})

		AfterEach(func() {
			now = time.Now
		})

		It("pivots two digit years at 50", func() {
			Expect(*ParseReleaseDate("09/26/69")).To(Equal(time.Date(1969, 9, 26, 0, 0, 0, 0, time.UTC)))
			Expect(ParseReleaseDate("1/2/25").Year()).To(Equal(2025))
			Expect(ParseReleaseDate("1/2/30").Year()).To(Equal(2030))
			Expect(ParseReleaseDate("1/2/50")).To(BeNil())
		})

		It("accepts four digit years and ISO dates", func() {
			Expect(ParseReleaseDate("1971").Month()).To(Equal(time.January))
			Expect(ParseReleaseDate("03/01/1973").Year()).To(Equal(1973))
			Expect(ParseReleaseDate("1973-03-01").Day()).To(Equal(1))
		})

		It("rejects invalid and out of range values", func() {
			Expect(ParseReleaseDate("")).To(BeNil())
			Expect(ParseReleaseDate("13/01/99")).To(BeNil())
			Expect(ParseReleaseDate("02/31/99")).To(BeNil())
			Expect(ParseReleaseDate("1850")).To(BeNil())
			Expect(ParseReleaseDate("2040")).To(BeNil())
			Expect(ParseReleaseDate("soon")).To(BeNil())
		})
	})
})
