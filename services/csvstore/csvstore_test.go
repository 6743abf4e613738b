package csvstore

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"github.com/dselans/fivehundred/backends/cache"
	"github.com/dselans/fivehundred/clog"
)

const exportFixture = `Published Date,AMG ID,Artist,Album,Genre,Styles,Moods,Themes
09/26/69,mw0000191308,The Beatles,Abbey Road,"Rock,Pop",Arena Rock,"Playful, Warm",Summer
,,,,,,,
01/01/1970,mw1,"Simon ""and"" Garfunkel",Bridge,Folk,,,
`

var _ = Describe("CSVStore", func() {
	Context("ParseLine", func() {
		It("keeps embedded commas and strips quotes", func() {
			fields, err := ParseLine(`"A, B",C,D`)
			Expect(err).ToNot(HaveOccurred())
			Expect(fields[:3]).To(Equal([]string{"A, B", "C", "D"}))
			Expect(fields).To(HaveLen(NumFields))
		})

		It("unescapes doubled quotes", func() {
			fields, err := ParseLine(`"say ""hi""", x`)
			Expect(err).ToNot(HaveOccurred())
			Expect(fields[0]).To(Equal(`say "hi"`))
			Expect(fields[1]).To(Equal("x"))
		})

		It("pads short rows and trims values", func() {
			fields, err := ParseLine(" a ,b")
			Expect(err).ToNot(HaveOccurred())
			Expect(fields).To(Equal([]string{"a", "b", "", "", "", "", "", ""}))
		})
	})

	Context("Parse", func() {
		It("skips the header and empty rows", func() {
			rows, err := Parse([]byte(exportFixture))
			Expect(err).ToNot(HaveOccurred())
			Expect(rows).To(HaveLen(2))

			Expect(rows[0].Artist).To(Equal("The Beatles"))
			Expect(rows[0].Album).To(Equal("Abbey Road"))
			Expect(rows[0].Genre).To(Equal("Rock,Pop"))
			Expect(rows[0].Styles).To(Equal("Arena Rock"))
			Expect(rows[0].Moods).To(Equal("Playful, Warm"))
			Expect(rows[1].Artist).To(Equal(`Simon "and" Garfunkel`))
		})
	})

	Context("Store", func() {
		var (
			fs    afero.Fs
			c     *cache.Cache
			store *Store
		)

		BeforeEach(func() {
			var err error

			fs = afero.NewMemMapFs()
			c, err = cache.New()
			Expect(err).ToNot(HaveOccurred())

			Expect(afero.WriteFile(fs, "/data/export.csv", []byte(exportFixture), 0644)).To(Succeed())

			store, err = New(&Options{Path: "/data/export.csv", Fs: fs, Cache: c})
			Expect(err).ToNot(HaveOccurred())
		})

		It("memoizes until invalidated", func() {
			Expect(store.Load(context.Background())).To(HaveLen(2))

			Expect(fs.Remove("/data/export.csv")).To(Succeed())
			Expect(store.Load(context.Background())).To(HaveLen(2))

			store.Invalidate()
			Expect(store.Load(context.Background())).To(BeEmpty())
		})

		It("returns empty and logs when the file is missing", func() {
			logger := &clog.TestLogger{}

			missing, err := New(&Options{Path: "/nope.csv", Fs: fs, Cache: c, Log: logger})
			Expect(err).ToNot(HaveOccurred())

			Expect(missing.Load(context.Background())).To(BeEmpty())
			Expect(logger.Contains("unable to read bulk metadata file")).To(BeTrue())
		})

		It("requires a cache", func() {
			_, err := New(&Options{Path: "/x.csv", Fs: fs})
			Expect(err).To(HaveOccurred())
		})
	})
})
