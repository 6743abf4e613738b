package musicbrainz

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pborman/uuid"
	"golang.org/x/time/rate"
	cca "gopkg.in/mineo/gocaa.v1"

	"github.com/dselans/fivehundred/backends/cache"
	"github.com/dselans/fivehundred/services/source"
)

const testMBID = "b84ee12a-09ef-421b-82de-0441a926375b"

type fakeCAA struct {
	err   error
	panic bool
	calls int
}

func (f *fakeCAA) GetReleaseGroupFront(_ uuid.UUID, size int) (cca.CoverArtImage, error) {
	f.calls++

	if f.panic {
		panic("nil response")
	}

	if size != cca.ImageSizeOriginal {
		return cca.CoverArtImage{}, cca.InvalidImageSizeError{EntityType: "release-group", Size: size}
	}

	return cca.CoverArtImage{}, f.err
}

type fakeMB struct {
	mu sync.Mutex

	// query -> search response body; missing queries return no groups
	searches   map[string]string
	searchFail []int
	coverSizes map[string]bool
	relations  string

	searchCalls []string
	headCalls   []string
}

func (f *fakeMB) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.URL.Path == "/ws/2/release-group":
		q := r.URL.Query().Get("query")
		f.searchCalls = append(f.searchCalls, q)

		if len(f.searchFail) > 0 {
			code := f.searchFail[0]
			f.searchFail = f.searchFail[1:]
			w.WriteHeader(code)
			return
		}

		body, ok := f.searches[q]
		if !ok {
			body = `{"count":0,"release-groups":[]}`
		}

		fmt.Fprint(w, body)
	case strings.HasPrefix(r.URL.Path, "/ws/2/release-group/"):
		if f.relations == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		fmt.Fprint(w, f.relations)
	case strings.HasPrefix(r.URL.Path, "/release-group/"):
		f.headCalls = append(f.headCalls, r.URL.Path)

		size := r.URL.Path[strings.LastIndex(r.URL.Path, "-")+1:]
		if !f.coverSizes[size] {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusTeapot)
	}
}

func searchBody(groups ...string) string {
	return `{"count":` + fmt.Sprint(len(groups)) + `,"release-groups":[` + strings.Join(groups, ",") + `]}`
}

func group(id, title, artist, primaryType string, score int) string {
	return fmt.Sprintf(`{"id":%q,"title":%q,"primary-type":%q,"score":%d,"first-release-date":"1969-09-26",`+
		`"artist-credit":[{"name":%q,"artist":{"id":"a1","name":%q}}]}`, id, title, primaryType, score, artist, artist)
}

var _ = Describe("MusicBrainz", func() {
	var (
		mb     *fakeMB
		caa    *fakeCAA
		server *httptest.Server
		client *Client
		memo   *cache.Cache
	)

	strictQuery := `releasegroup:"Abbey Road" AND artist:"The Beatles"`
	titleQuery := `releasegroup:"Abbey Road"`

	BeforeEach(func() {
		mb = &fakeMB{
			searches:   map[string]string{},
			coverSizes: map[string]bool{},
		}
		caa = &fakeCAA{err: cca.HTTPError{StatusCode: http.StatusNotFound}}
		server = httptest.NewServer(mb)

		var err error

		memo, err = cache.New()
		Expect(err).ToNot(HaveOccurred())

		client, err = New(&Options{
			BaseURL:         server.URL,
			CoverArtBaseURL: server.URL,
			Limiter:         rate.NewLimiter(rate.Inf, 1),
			CAA:             caa,
			Cache:           memo,
			Sleep:           func(context.Context, time.Duration) error { return nil },
		})
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	Context("SearchQueries", func() {
		It("relaxes from strict to loose", func() {
			Expect(SearchQueries("The Beatles", "Abbey Road (Remastered)")).To(Equal([]string{
				`releasegroup:"Abbey Road (Remastered)" AND artist:"The Beatles"`,
				`releasegroup:"Abbey Road (Remastered)"`,
				`abbey road the beatles`,
			}))
		})

		It("escapes quotes", func() {
			qs := SearchQueries(`Guns N' Roses`, `Use "Your" Illusion`)
			Expect(qs[0]).To(Equal(`releasegroup:"Use \"Your\" Illusion" AND artist:"Guns N' Roses"`))
		})
	})

	Context("SpotifyURIFromURL", func() {
		It("converts album urls", func() {
			Expect(SpotifyURIFromURL("https://open.spotify.com/album/0ETFjACtuP2ADo6LFhL6HN?si=x")).
				To(Equal("spotify:album:0ETFjACtuP2ADo6LFhL6HN"))
		})

		It("rejects short ids and other urls", func() {
			Expect(SpotifyURIFromURL("https://open.spotify.com/album/short")).To(BeEmpty())
			Expect(SpotifyURIFromURL("https://open.spotify.com/artist/0ETFjACtuP2ADo6LFhL6HN")).To(BeEmpty())
		})
	})

	Context("Lookup", func() {
		It("resolves an album and gathers cover art and links", func() {
			mb.searches[strictQuery] = searchBody(
				group("single-id", "Abbey Road", "The Beatles", "Single", 100),
				group(testMBID, "Abbey Road", "The Beatles", "Album", 100),
			)
			mb.coverSizes["1200"] = true
			mb.relations = `{"id":"` + testMBID + `","relations":[` +
				`{"type":"streaming","url":{"resource":"https://open.spotify.com/album/0ETFjACtuP2ADo6LFhL6HN"}},` +
				`{"type":"streaming","url":{"resource":"https://music.apple.com/us/album/abbey-road/1441164426"}}]}`

			res := client.Lookup(context.Background(), "The Beatles", "Abbey Road")
			Expect(res.IsOK()).To(BeTrue())
			Expect(res.Enrichment.MBID).To(Equal(testMBID))
			Expect(res.Enrichment.Tier).To(Equal("exact"))
			Expect(*res.Enrichment.CoverArt).To(Equal(server.URL + "/release-group/" + testMBID + "/front-1200"))
			Expect(*res.Enrichment.SpotifyURI).To(Equal("spotify:album:0ETFjACtuP2ADo6LFhL6HN"))
			Expect(*res.Enrichment.AppleMusicURL).To(Equal("https://music.apple.com/us/album/abbey-road/1441164426"))
			Expect(mb.headCalls).To(HaveLen(2))
			Expect(caa.calls).To(Equal(0))
		})

		It("moves to the next query when a query yields nothing", func() {
			mb.searches[titleQuery] = searchBody(group(testMBID, "Abbey Road", "Beatles, The", "Album", 92))

			res := client.Lookup(context.Background(), "The Beatles", "Abbey Road")
			Expect(res.Status).To(Equal(source.StatusOK))
			Expect(mb.searchCalls).To(Equal([]string{strictQuery, titleQuery}))
			Expect(res.Enrichment.CoverArt).To(BeNil())
			Expect(res.Enrichment.SpotifyURI).To(BeNil())
		})

		It("rejects candidates below the fallback threshold", func() {
			mb.searches[strictQuery] = searchBody(group(testMBID, "Let It Be", "The Beatles", "Album", 60))

			res := client.Lookup(context.Background(), "The Beatles", "Abbey Road")
			Expect(res.Status).To(Equal(source.StatusNotFound))
			Expect(mb.searchCalls).To(HaveLen(3))
		})

		It("caches not-found outcomes", func() {
			first := client.Lookup(context.Background(), "Nobody", "Nothing")
			Expect(first.Status).To(Equal(source.StatusNotFound))

			calls := len(mb.searchCalls)

			second := client.Lookup(context.Background(), "nobody", "NOTHING")
			Expect(second.Status).To(Equal(source.StatusNotFound))
			Expect(mb.searchCalls).To(HaveLen(calls))
		})

		It("retries throttled searches", func() {
			mb.searchFail = []int{http.StatusTooManyRequests, http.StatusServiceUnavailable}
			mb.searches[strictQuery] = searchBody(group(testMBID, "Abbey Road", "The Beatles", "Album", 100))

			res := client.Lookup(context.Background(), "The Beatles", "Abbey Road")
			Expect(res.Status).To(Equal(source.StatusOK))
			Expect(mb.searchCalls).To(HaveLen(3))
		})

		It("fails without retrying other errors and does not cache failures", func() {
			mb.searchFail = []int{http.StatusInternalServerError}

			res := client.Lookup(context.Background(), "The Beatles", "Abbey Road")
			Expect(res.Status).To(Equal(source.StatusFailed))
			Expect(mb.searchCalls).To(HaveLen(1))

			mb.searches[strictQuery] = searchBody(group(testMBID, "Abbey Road", "The Beatles", "Album", 100))

			res = client.Lookup(context.Background(), "The Beatles", "Abbey Road")
			Expect(res.Status).To(Equal(source.StatusOK))
		})
	})

	Context("CoverArt", func() {
		It("falls back to the original image", func() {
			caa.err = nil

			url, err := client.CoverArt(context.Background(), testMBID)
			Expect(err).ToNot(HaveOccurred())
			Expect(url).To(Equal(server.URL + "/release-group/" + testMBID + "/front"))
			Expect(mb.headCalls).To(HaveLen(3))
		})

		It("returns empty when the archive has nothing", func() {
			url, err := client.CoverArt(context.Background(), testMBID)
			Expect(err).ToNot(HaveOccurred())
			Expect(url).To(BeEmpty())
		})

		It("recovers from client panics", func() {
			caa.panic = true

			url, err := client.CoverArt(context.Background(), testMBID)
			Expect(err).To(HaveOccurred())
			Expect(url).To(BeEmpty())
		})
	})

	Context("FetchMetadata", func() {
		It("adapts lookups to the source contract", func() {
			mb.searches[strictQuery] = searchBody(group(testMBID, "Abbey Road", "The Beatles", "Album", 100))

			res := client.FetchMetadata(context.Background(), "The Beatles", "Abbey Road")
			Expect(res.IsOK()).To(BeTrue())
			Expect(res.Record.SourceID).To(Equal(testMBID))
			Expect(res.Record.ReleaseDate.Year()).To(Equal(1969))
			Expect(res.Record.Source).To(Equal(SourceName))
		})
	})
})
