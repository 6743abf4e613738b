package backfill

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"github.com/dselans/fivehundred/backends/db"
	"github.com/dselans/fivehundred/services/musicbrainz"
	"github.com/dselans/fivehundred/services/orchestrator"
	"github.com/dselans/fivehundred/services/source"
	"github.com/dselans/fivehundred/services/upsert"
)

var _ = Describe("Backfill", func() {
	var (
		ctx      context.Context
		store    *db.DB
		fs       afero.Fs
		enricher *fakeEnricher
		finder   *fakeFinder
		sleeps   []time.Duration
		bf       *Backfill
	)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	addAlbum := func(artist, title, slug string, cover, spotify *string) *db.Album {
		a := &db.Album{Title: title, Slug: slug, CoverArt: cover, SpotifyURI: spotify}
		Expect(store.CreateAlbum(ctx, a)).To(Succeed())

		if artist != "" {
			engine, err := upsert.New(&upsert.Options{Store: store})
			Expect(err).ToNot(HaveOccurred())

			e, _, err := engine.FindOrCreate(ctx, db.KindArtist, artist)
			Expect(err).ToNot(HaveOccurred())
			Expect(store.Connect(ctx, db.KindArtist, a.ID, e.ID)).To(Succeed())
		}

		return a
	}

	strPtr := func(s string) *string { return &s }

	BeforeEach(func() {
		var err error

		ctx = context.Background()
		store = newTestStore()
		fs = afero.NewMemMapFs()
		enricher = &fakeEnricher{results: map[string]*musicbrainz.LookupResult{}}
		finder = &fakeFinder{uris: map[string]string{}}
		sleeps = nil

		bf, err = New(&Options{
			Store:     store,
			ReleaseDB: enricher,
			Streaming: finder,
			Fs:        fs,
			LogDir:    "logs",
			Progress:  quietLogger(),
			Sleep: func(_ context.Context, d time.Duration) error {
				sleeps = append(sleeps, d)
				return nil
			},
			Now: func() time.Time { return now },
		})
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		store.Close()
	})

	Context("Covers", func() {
		It("fills missing and placeholder cover art", func() {
			cover := "https://coverartarchive.org/release-group/abc/front-500"

			missing := addAlbum("The Beatles", "Abbey Road", "the-beatles-abbey-road", nil, nil)
			placeholder := addAlbum("The Beatles", "Revolver", "the-beatles-revolver", strPtr(db.PlaceholderCoverArt), nil)
			addAlbum("The Beatles", "Help!", "the-beatles-help", strPtr("https://example.com/help.jpg"), nil)

			enricher.results["The Beatles|Abbey Road"] = &musicbrainz.LookupResult{
				Status:     source.StatusOK,
				Enrichment: &source.Enrichment{MBID: "abc", CoverArt: &cover},
			}

			report, err := bf.Covers(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Summary.Total).To(Equal(2))
			Expect(report.Summary.Successful).To(Equal(1))
			Expect(report.Summary.Skipped).To(Equal(1))
			Expect(enricher.calls).To(ConsistOf("The Beatles|Abbey Road", "The Beatles|Revolver"))
			Expect(sleeps).To(Equal([]time.Duration{CoverDelay}))

			got, err := store.GetAlbumByID(ctx, missing.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(*got.CoverArt).To(Equal(cover))

			got, err = store.GetAlbumByID(ctx, placeholder.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(*got.CoverArt).To(Equal(db.PlaceholderCoverArt))

			exists, err := afero.Exists(fs, "logs/missing-cover-art-not-found-2024-05-01T12-00-00Z.json")
			Expect(err).ToNot(HaveOccurred())
			Expect(exists).To(BeTrue())
		})

		It("reports lookups with no cover as not found", func() {
			addAlbum("The Beatles", "Abbey Road", "the-beatles-abbey-road", nil, nil)

			enricher.results["The Beatles|Abbey Road"] = &musicbrainz.LookupResult{
				Status:     source.StatusOK,
				Enrichment: &source.Enrichment{MBID: "abc"},
			}

			report, err := bf.Covers(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Results).To(HaveLen(1))
			Expect(report.Results[0].Status).To(Equal(orchestrator.StatusNotFound))
			Expect(report.Results[0].Reason).To(Equal("no cover art found"))
		})

		It("fails items whose lookup failed", func() {
			addAlbum("The Beatles", "Abbey Road", "the-beatles-abbey-road", nil, nil)

			enricher.results["The Beatles|Abbey Road"] = &musicbrainz.LookupResult{Status: source.StatusFailed, Reason: "503"}

			report, err := bf.Covers(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Summary.Failed).To(Equal(1))
		})
	})

	Context("SpotifyURIs", func() {
		It("updates matches and skips albums without artists", func() {
			uri := "spotify:album:0ETFjACtuP2ADo6LFhL6HN"

			found := addAlbum("The Beatles", "Abbey Road", "the-beatles-abbey-road", nil, nil)
			addAlbum("", "Orphan", "orphan", nil, nil)
			addAlbum("Nobody", "Nothing", "nobody-nothing", nil, nil)
			addAlbum("The Beatles", "Help!", "the-beatles-help", nil, strPtr("spotify:album:existing"))

			finder.uris["The Beatles|Abbey Road"] = uri

			report, err := bf.SpotifyURIs(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Summary.Total).To(Equal(3))
			Expect(report.Summary.Successful).To(Equal(1))
			Expect(report.Summary.Skipped).To(Equal(2))
			Expect(finder.calls).To(ConsistOf("The Beatles|Abbey Road", "Nobody|Nothing"))
			Expect(sleeps).To(Equal([]time.Duration{SpotifyDelay, SpotifyDelay}))

			got, err := store.GetAlbumByID(ctx, found.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(*got.SpotifyURI).To(Equal(uri))
		})

		It("leaves the store untouched on a dry run", func() {
			a := addAlbum("The Beatles", "Abbey Road", "the-beatles-abbey-road", nil, nil)
			finder.uris["The Beatles|Abbey Road"] = "spotify:album:0ETFjACtuP2ADo6LFhL6HN"

			dry, err := New(&Options{Store: store, Streaming: finder, DryRun: true, Progress: quietLogger(), Sleep: func(context.Context, time.Duration) error { return nil }})
			Expect(err).ToNot(HaveOccurred())

			report, err := dry.SpotifyURIs(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Summary.Successful).To(Equal(1))

			got, err := store.GetAlbumByID(ctx, a.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(got.SpotifyURI).To(BeNil())
		})

		It("is a setup error without a streaming finder", func() {
			b, err := New(&Options{Store: store})
			Expect(err).ToNot(HaveOccurred())

			_, err = b.SpotifyURIs(ctx)
			Expect(source.IsFatalSetup(err)).To(BeTrue())
		})
	})

	Context("AppleMusicURLs", func() {
		It("fills missing apple music urls", func() {
			url := "https://music.apple.com/us/album/abbey-road/1441164426"
			apple := &fakeFinder{uris: map[string]string{"The Beatles|Abbey Road": url}}

			a := addAlbum("The Beatles", "Abbey Road", "the-beatles-abbey-road", nil, nil)
			addAlbum("The Beatles", "Revolver", "the-beatles-revolver", nil, nil)

			b, err := New(&Options{
				Store:      store,
				AppleMusic: apple,
				Progress:   quietLogger(),
				Sleep:      func(context.Context, time.Duration) error { return nil },
			})
			Expect(err).ToNot(HaveOccurred())

			report, err := b.AppleMusicURLs(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Summary.Successful).To(Equal(1))
			Expect(report.Summary.Skipped).To(Equal(1))

			got, err := store.GetAlbumByID(ctx, a.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(*got.AppleMusicURL).To(Equal(url))
		})

		It("is a setup error without an apple music finder", func() {
			_, err := bf.AppleMusicURLs(ctx)
			Expect(source.IsFatalSetup(err)).To(BeTrue())
		})
	})

	Context("SpotifyCoverage", func() {
		It("computes coverage and writes the missing list", func() {
			addAlbum("The Beatles", "Abbey Road", "the-beatles-abbey-road", nil, strPtr("spotify:album:1"))
			addAlbum("The Beatles", "Help!", "the-beatles-help", nil, nil)
			addAlbum("The Beatles", "Revolver", "the-beatles-revolver", nil, strPtr("spotify:album:2"))
			addAlbum("The Beatles", "Let It Be", "the-beatles-let-it-be", nil, strPtr("spotify:album:3"))

			report, err := bf.SpotifyCoverage(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Total).To(Equal(4))
			Expect(report.WithSpotify).To(Equal(3))
			Expect(report.Coverage).To(BeNumerically("~", 75.0, 0.001))
			Expect(report.LogFile).To(Equal("logs/albums-missing-spotify-uri-2024-05-01T12-00-00Z.json"))

			data, err := afero.ReadFile(fs, report.LogFile)
			Expect(err).ToNot(HaveOccurred())

			var missing []*MissingAlbum
			Expect(json.Unmarshal(data, &missing)).To(Succeed())
			Expect(missing).To(HaveLen(1))
			Expect(missing[0].Slug).To(Equal("the-beatles-help"))
		})

		It("reports zero coverage for an empty store", func() {
			report, err := bf.SpotifyCoverage(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(report.Total).To(Equal(0))
			Expect(report.Coverage).To(BeZero())
			Expect(report.LogFile).To(BeEmpty())
		})
	})
})
