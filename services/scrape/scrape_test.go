package scrape

import (
	"context"
	"io"
	"net/url"
	"strings"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"github.com/dselans/fivehundred/services/source"
)

const (
	testSite   = "https://site.test"
	testSearch = "https://search.test/?q=%s"

	abbeyRoadPage = `<html><head>
<meta property="og:image" content="https://img.test/og.jpg">
<script type="application/ld+json">
{"@context":"https://schema.org","@type":"MusicAlbum","name":"Abbey Road","datePublished":"1969-09-26",
 "byArtist":[{"@type":"MusicGroup","name":"The Beatles"}],"genre":["Pop/Rock"],"image":"https://img.test/abbey.jpg"}
</script></head><body>
<div class="styles">Styles
<a href="/style/british-invasion">British Invasion</a>
<a href="/style/rock">Rock &amp; Roll</a>
</div></body></html>`

	panelPage = `<div id="moodsThemes"><div id="moodsGrid"><a>Warm</a><a>Playful</a></div>
<div id="themesGrid"><a>Summer</a></div></div>`
)

type panelResponse struct {
	body string
	err  error
}

type fakePage struct {
	pages  map[string]string
	panels []panelResponse

	// url -> final location after redirect
	redirects map[string]string

	url        string
	gotos      []string
	panelCalls int
}

func (f *fakePage) Goto(_ context.Context, u string) (*html.Node, error) {
	f.gotos = append(f.gotos, u)

	body, ok := f.pages[u]
	if !ok {
		return nil, errors.Errorf("received non-200 status code: 404 (url: %s)", u)
	}

	f.url = u
	if to, ok := f.redirects[u]; ok {
		f.url = to
	}

	return html.Parse(strings.NewReader(body))
}

func (f *fakePage) URL() string { return f.url }

func (f *fakePage) OpenPanel(_ context.Context, _ string) (*html.Node, error) {
	f.panelCalls++

	if len(f.panels) == 0 {
		return html.Parse(strings.NewReader("<div></div>"))
	}

	resp := f.panels[0]
	if len(f.panels) > 1 {
		f.panels = f.panels[1:]
	}

	if resp.err != nil {
		return nil, resp.err
	}

	return html.Parse(strings.NewReader(resp.body))
}

func (f *fakePage) Close() error { return nil }

func searchURL(q string) string {
	return "https://search.test/?q=" + url.QueryEscape(q)
}

var _ = Describe("Scrape", func() {
	var (
		page    *fakePage
		sleeps  []time.Duration
		scraper *Scraper
	)

	BeforeEach(func() {
		sleeps = nil
		page = &fakePage{
			pages: map[string]string{
				testSite + "/album/mw0000191518": abbeyRoadPage,
			},
			panels:    []panelResponse{{body: panelPage}},
			redirects: map[string]string{},
		}

		progress := logrus.New()
		progress.SetOutput(io.Discard)

		var err error

		scraper, err = New(&Options{
			Page:      page,
			SiteURL:   testSite,
			SearchURL: testSearch,
			PanelWait: 2 * time.Second,
			ItemDelay: 5 * time.Second,
			Progress:  progress,
			Sleep: func(_ context.Context, d time.Duration) error {
				sleeps = append(sleeps, d)
				return nil
			},
		})
		Expect(err).ToNot(HaveOccurred())
	})

	Context("AlbumIDFromPath", func() {
		It("takes the last hyphen segment", func() {
			Expect(AlbumIDFromPath("/album/electric-warrior-mw0000196673")).To(Equal("mw0000196673"))
			Expect(AlbumIDFromPath("https://site.test/album/abbey-road-mw0000191518/credits?x=1")).To(Equal("mw0000191518"))
			Expect(AlbumIDFromPath("/album/mw0000191518")).To(Equal("mw0000191518"))
		})
	})

	Context("ResolveAlbumID", func() {
		It("accepts ids and album paths without searching", func() {
			id, err := scraper.ResolveAlbumID(context.Background(), "mw0000191518")
			Expect(err).ToNot(HaveOccurred())
			Expect(id).To(Equal("mw0000191518"))

			id, err = scraper.ResolveAlbumID(context.Background(), "/album/abbey-road-mw0000191518")
			Expect(err).ToNot(HaveOccurred())
			Expect(id).To(Equal("mw0000191518"))

			Expect(page.gotos).To(BeEmpty())
		})

		It("searches for free text that merely starts like an id", func() {
			Expect(IsAlbumID("mw0000191518")).To(BeTrue())
			Expect(IsAlbumID("mwahaha")).To(BeFalse())
			Expect(IsAlbumID("mw123")).To(BeFalse())

			page.pages[searchURL("mwahaha")] = `<html><body>
				<a href="https://site.test/album/mwahaha-mw0000554321">Mwahaha</a>
			</body></html>`

			id, err := scraper.ResolveAlbumID(context.Background(), "mwahaha")
			Expect(err).ToNot(HaveOccurred())
			Expect(id).To(Equal("mw0000554321"))
			Expect(page.gotos).To(ContainElement(searchURL("mwahaha")))
		})

		It("follows a redirect that lands on the album page", func() {
			u := searchURL("abbey road")
			page.pages[u] = "<html></html>"
			page.redirects[u] = testSite + "/album/abbey-road-mw0000191518"

			id, err := scraper.ResolveAlbumID(context.Background(), "abbey road")
			Expect(err).ToNot(HaveOccurred())
			Expect(id).To(Equal("mw0000191518"))
		})

		It("uses the first album link in search results", func() {
			page.pages[searchURL("abbey road")] = `<html><body>
				<a href="/artist/the-beatles-mn0000754032">The Beatles</a>
				<a href="https://site.test/album/abbey-road-mw0000191518">Abbey Road</a>
				<a href="https://site.test/album/let-it-be-mw0000192331">Let It Be</a>
			</body></html>`

			id, err := scraper.ResolveAlbumID(context.Background(), "abbey road")
			Expect(err).ToNot(HaveOccurred())
			Expect(id).To(Equal("mw0000191518"))
		})

		It("reports missing results", func() {
			page.pages[searchURL("nothing")] = "<html><body>no results</body></html>"

			_, err := scraper.ResolveAlbumID(context.Background(), "nothing")
			Expect(err).To(Equal(ErrAlbumNotFound))
		})
	})

	Context("ScrapeAlbum", func() {
		It("extracts metadata from JSON-LD, styles and the panel", func() {
			record, err := scraper.ScrapeAlbum(context.Background(), "mw0000191518")
			Expect(err).ToNot(HaveOccurred())
			Expect(record.Artist).To(Equal("The Beatles"))
			Expect(record.Title).To(Equal("Abbey Road"))
			Expect(record.ReleaseDate.Year()).To(Equal(1969))
			Expect(record.Genres).To(Equal([]string{"Pop/Rock"}))
			Expect(record.Styles).To(Equal([]string{"British Invasion", "Rock & Roll"}))
			Expect(record.Moods).To(Equal([]string{"Warm", "Playful"}))
			Expect(record.Themes).To(Equal([]string{"Summer"}))
			Expect(record.CoverImage).To(Equal("https://img.test/abbey.jpg"))
			Expect(record.SourceID).To(Equal("mw0000191518"))
			Expect(record.Source).To(Equal(SourceName))
		})

		It("retries the panel up to three times", func() {
			page.panels = []panelResponse{
				{err: errors.New("timeout")},
				{body: "<div id=\"moodsGrid\"></div>"},
				{body: panelPage},
			}

			record, err := scraper.ScrapeAlbum(context.Background(), "mw0000191518")
			Expect(err).ToNot(HaveOccurred())
			Expect(record.Moods).To(Equal([]string{"Warm", "Playful"}))
			Expect(page.panelCalls).To(Equal(3))
			Expect(sleeps).To(Equal([]time.Duration{2 * time.Second, 2 * time.Second}))
		})

		It("leaves moods and themes empty when the panel never loads", func() {
			page.panels = []panelResponse{{err: errors.New("timeout")}}

			record, err := scraper.ScrapeAlbum(context.Background(), "mw0000191518")
			Expect(err).ToNot(HaveOccurred())
			Expect(record.Moods).To(BeEmpty())
			Expect(record.Themes).To(BeEmpty())
			Expect(page.panelCalls).To(Equal(3))
		})

		It("falls back to og:image and accepts a single genre string", func() {
			page.pages[testSite+"/album/mw1"] = `<html><head>
				<meta property="og:image" content="https://img.test/og.jpg">
				<script type="application/ld+json">[{"@type":"BreadcrumbList"},
				{"@type":"MusicAlbum","name":"Paranoid","byArtist":{"name":"Black Sabbath"},"genre":"Pop/Rock"}]</script>
				</head></html>`

			record, err := scraper.ScrapeAlbum(context.Background(), "mw1")
			Expect(err).ToNot(HaveOccurred())
			Expect(record.Artist).To(Equal("Black Sabbath"))
			Expect(record.Genres).To(Equal([]string{"Pop/Rock"}))
			Expect(record.CoverImage).To(Equal("https://img.test/og.jpg"))
			Expect(record.ReleaseDate).To(BeNil())
		})

		It("fails without structured metadata", func() {
			page.pages[testSite+"/album/mw2"] = "<html><body>blocked</body></html>"

			_, err := scraper.ScrapeAlbum(context.Background(), "mw2")
			Expect(errors.Is(err, ErrNoMetadata)).To(BeTrue())
		})
	})

	Context("ScrapeAll", func() {
		It("isolates failures and delays between items", func() {
			page.pages[testSite+"/album/mw2"] = "<html></html>"

			results, summary, err := scraper.ScrapeAll(context.Background(),
				[]string{"mw0000191518", "mw2", " ", "/album/abbey-road-mw0000191518"})
			Expect(err).ToNot(HaveOccurred())
			Expect(*summary).To(Equal(Summary{Total: 3, Successful: 2, Failed: 1}))
			Expect(results).To(HaveLen(3))
			Expect(results[1].Success).To(BeFalse())
			Expect(results[1].OriginalInput).To(Equal("mw2"))
			Expect(results[1].Error).ToNot(BeEmpty())
			Expect(results[2].Data.Title).To(Equal("Abbey Road"))

			delays := 0
			for _, d := range sleeps {
				if d == 5*time.Second {
					delays++
				}
			}

			Expect(delays).To(Equal(2))
		})

		It("rejects an empty batch", func() {
			_, _, err := scraper.ScrapeAll(context.Background(), nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("FetchMetadata", func() {
		It("searches artist and title", func() {
			u := searchURL("The Beatles Abbey Road")
			page.pages[u] = `<a href="/album/abbey-road-mw0000191518">x</a>`

			res := scraper.FetchMetadata(context.Background(), "The Beatles", "Abbey Road")
			Expect(res.Status).To(Equal(source.StatusOK))
			Expect(res.Record.Title).To(Equal("Abbey Road"))
		})

		It("maps a missing album to not found", func() {
			page.pages[searchURL("Nobody Nothing")] = "<html></html>"

			res := scraper.FetchMetadata(context.Background(), "Nobody", "Nothing")
			Expect(res.Status).To(Equal(source.StatusNotFound))
		})
	})
})
