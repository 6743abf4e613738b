package merge

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/dselans/fivehundred/backends/db"
	"github.com/dselans/fivehundred/clog"
	"github.com/dselans/fivehundred/services/source"
)

type fakeFinder struct {
	uri   string
	err   error
	calls int
}

func (f *fakeFinder) FindAlbum(_ context.Context, _, _ string) (string, error) {
	f.calls++
	return f.uri, f.err
}

func ptr(s string) *string { return &s }

var _ = Describe("Merge", func() {
	Context("SelectText", func() {
		bulk := source.OK(&source.Record{Source: "bulk"})
		scrape := source.OK(&source.Record{Source: "scrape"})

		It("prefers bulk", func() {
			Expect(SelectText(bulk, scrape).Record.Source).To(Equal("bulk"))
		})

		It("falls back to scrape", func() {
			Expect(SelectText(source.NotFound("x"), scrape).Record.Source).To(Equal("scrape"))
		})

		It("reports not found when neither matched", func() {
			Expect(SelectText(source.NotFound("x"), source.Failed(nil)).IsOK()).To(BeFalse())
		})
	})

	Context("Build", func() {
		It("unions genre and style, keeping descriptors separate", func() {
			md := Build(&source.Record{
				Artist: "The Beatles",
				Title:  "Abbey Road",
				Genres: []string{"Rock", "Pop"},
				Styles: []string{"Arena Rock"},
			}, nil)

			Expect(md.Genres).To(ConsistOf("Rock", "Pop", "Arena Rock"))
			Expect(md.Descriptors).To(BeEmpty())
			Expect(md.CoverArt).To(BeNil())
		})

		It("unions moods and themes into descriptors", func() {
			md := Build(&source.Record{
				Genres: []string{"Rock"},
				Moods:  []string{"Warm", "playful"},
				Themes: []string{"Playful", "Summer"},
			}, nil)

			Expect(md.Descriptors).To(Equal([]string{"Warm", "playful", "Summer"}))
			Expect(md.Genres).To(Equal([]string{"Rock"}))
		})

		It("overlays enrichment, ignoring empty values", func() {
			md := Build(&source.Record{Title: "Rock &amp; Roll"}, &source.Enrichment{
				CoverArt:   ptr("https://caa/front-500"),
				SpotifyURI: ptr(""),
			})

			Expect(md.Title).To(Equal("Rock & Roll"))
			Expect(*md.CoverArt).To(Equal("https://caa/front-500"))
			Expect(md.SpotifyURI).To(BeNil())
		})
	})

	Context("Apply", func() {
		var album *db.Album

		BeforeEach(func() {
			album = &db.Album{Title: "Abbey Road", ReleaseDate: db.DefaultReleaseDate}
		})

		It("fills null and placeholder fields", func() {
			album.CoverArt = ptr(db.PlaceholderCoverArt)

			changed := Apply(album, &Metadata{
				CoverArt:      ptr("https://img"),
				SpotifyURI:    ptr("spotify:album:1"),
				AppleMusicURL: ptr("https://music.apple.com/x"),
			}, ApplyOptions{})

			Expect(changed).To(ConsistOf(FieldCoverArt, FieldSpotifyURI, FieldAppleMusicURL))
			Expect(*album.CoverArt).To(Equal("https://img"))
		})

		It("never overwrites existing values or writes null", func() {
			album.CoverArt = ptr("https://old")
			album.SpotifyURI = ptr("spotify:album:old")

			changed := Apply(album, &Metadata{CoverArt: ptr("https://new")}, ApplyOptions{})
			Expect(changed).To(BeEmpty())
			Expect(*album.CoverArt).To(Equal("https://old"))

			changed = Apply(album, &Metadata{}, ApplyOptions{})
			Expect(changed).To(BeEmpty())
			Expect(album.SpotifyURI).ToNot(BeNil())
		})

		It("updates a differing release date and catalog id", func() {
			d := time.Date(1969, 9, 26, 0, 0, 0, 0, time.UTC)

			changed := Apply(album, &Metadata{ReleaseDate: &d, AllMusicID: ptr("mw1")}, ApplyOptions{})
			Expect(changed).To(ConsistOf(FieldReleaseDate, FieldAllMusicID))

			changed = Apply(album, &Metadata{ReleaseDate: &d, AllMusicID: ptr("mw1")}, ApplyOptions{})
			Expect(changed).To(BeEmpty())
		})

		It("restricts changes to the requested fields", func() {
			changed := Apply(album, &Metadata{
				CoverArt:   ptr("https://img"),
				SpotifyURI: ptr("spotify:album:1"),
			}, ApplyOptions{Only: []string{FieldCoverArt}})

			Expect(changed).To(Equal([]string{FieldCoverArt}))
			Expect(album.SpotifyURI).To(BeNil())
		})
	})

	Context("PrepareForCreate", func() {
		It("decodes the title, derives the slug and backfills spotify", func() {
			finder := &fakeFinder{uri: "spotify:album:abc"}
			album := NewAlbum(&Metadata{Title: "Rock &amp;amp; Roll"})

			PrepareForCreate(context.Background(), album, "Led Zeppelin", finder, nil)

			Expect(album.Title).To(Equal("Rock & Roll"))
			Expect(album.Slug).To(Equal("led-zeppelin-rock-roll"))
			Expect(*album.SpotifyURI).To(Equal("spotify:album:abc"))
		})

		It("skips the lookup when a uri is present", func() {
			finder := &fakeFinder{uri: "spotify:album:new"}
			album := &db.Album{Title: "X", SpotifyURI: ptr("spotify:album:old")}

			PrepareForCreate(context.Background(), album, "Y", finder, nil)

			Expect(finder.calls).To(Equal(0))
			Expect(*album.SpotifyURI).To(Equal("spotify:album:old"))
		})

		It("logs and continues when the lookup fails", func() {
			logger := &clog.TestLogger{}
			album := &db.Album{Title: "X"}

			PrepareForCreate(context.Background(), album, "Y", &fakeFinder{err: errors.New("boom")}, logger)

			Expect(album.SpotifyURI).To(BeNil())
			Expect(logger.Contains("unable to backfill spotify uri")).To(BeTrue())
		})
	})
})
