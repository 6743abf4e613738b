package db

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

func strPtr(s string) *string { return &s }

var _ = Describe("DB", func() {
	var (
		ctx context.Context
		d   *DB
	)

	BeforeEach(func() {
		ctx = context.Background()
		d = newTestDB()
	})

	AfterEach(func() {
		d.Close()
	})

	Context("New", func() {
		It("rejects unknown drivers", func() {
			_, err := New(&Options{Driver: "oracle"})
			Expect(err).To(HaveOccurred())
		})

		It("requires a dsn for postgres", func() {
			_, err := New(&Options{Driver: DriverPostgres})
			Expect(err).To(HaveOccurred())
		})
	})

	Context("Migrate", func() {
		It("is safe to run twice", func() {
			Expect(d.Migrate(ctx)).To(Succeed())

			var count int
			Expect(d.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM schema_migrations")).To(Succeed())
			Expect(count).To(Equal(1))
		})
	})

	Context("albums", func() {
		It("creates and fetches by slug and id", func() {
			a := &Album{Title: "Abbey Road", Slug: "the-beatles-abbey-road"}
			Expect(d.CreateAlbum(ctx, a)).To(Succeed())
			Expect(a.ID).ToNot(BeEmpty())

			got, err := d.GetAlbumBySlug(ctx, "the-beatles-abbey-road")
			Expect(err).ToNot(HaveOccurred())
			Expect(got.ID).To(Equal(a.ID))
			Expect(got.CoverArt).To(BeNil())
			Expect(got.ReleaseDate.Year()).To(Equal(1970))

			got, err = d.GetAlbumByID(ctx, a.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(got.Title).To(Equal("Abbey Road"))
		})

		It("returns ErrNotFound for missing albums", func() {
			_, err := d.GetAlbumBySlug(ctx, "nope")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("maps duplicate slugs to ErrConflict", func() {
			Expect(d.CreateAlbum(ctx, &Album{Title: "A", Slug: "a"})).To(Succeed())

			err := d.CreateAlbum(ctx, &Album{Title: "A", Slug: "a"})
			Expect(errors.Is(err, ErrConflict)).To(BeTrue())
		})

		It("updates mutable fields", func() {
			a := &Album{Title: "Abbey Road", Slug: "abbey-road"}
			Expect(d.CreateAlbum(ctx, a)).To(Succeed())

			rank := 3
			a.CoverArt = strPtr("https://img/1.jpg")
			a.IsAPlus = true
			a.TopRanking = &rank
			Expect(d.UpdateAlbum(ctx, a)).To(Succeed())

			got, err := d.GetAlbumByID(ctx, a.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(*got.CoverArt).To(Equal("https://img/1.jpg"))
			Expect(got.IsAPlus).To(BeTrue())
			Expect(*got.TopRanking).To(Equal(3))
		})

		It("filters albums", func() {
			withCover := &Album{Title: "Abbey Road", Slug: "abbey-road", CoverArt: strPtr("x.jpg")}
			placeholder := &Album{Title: "Let It Be", Slug: "let-it-be", CoverArt: strPtr(PlaceholderCoverArt)}
			bare := &Album{Title: "Revolver", Slug: "revolver"}

			for _, a := range []*Album{withCover, placeholder, bare} {
				Expect(d.CreateAlbum(ctx, a)).To(Succeed())
			}

			missing, err := d.FindAlbums(ctx, &AlbumFilter{MissingCoverArt: true})
			Expect(err).ToNot(HaveOccurred())
			Expect(missing).To(HaveLen(2))

			byTitle, err := d.FindAlbums(ctx, &AlbumFilter{TitleContains: "ROAD"})
			Expect(err).ToNot(HaveOccurred())
			Expect(byTitle).To(HaveLen(1))
			Expect(byTitle[0].Slug).To(Equal("abbey-road"))

			excluded, err := d.FindAlbums(ctx, &AlbumFilter{ExcludeKeywords: []string{"road", "be"}})
			Expect(err).ToNot(HaveOccurred())
			Expect(excluded).To(HaveLen(1))
			Expect(excluded[0].Slug).To(Equal("revolver"))

			count, err := d.CountAlbums(ctx, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(count).To(Equal(3))
		})

		It("sorts exact title matches ahead of the limit", func() {
			Expect(d.CreateAlbum(ctx, &Album{Title: "Abbey Road", Slug: "abbey-road", ReleaseDate: time.Date(1969, 9, 26, 0, 0, 0, 0, time.UTC)})).To(Succeed())
			Expect(d.CreateAlbum(ctx, &Album{Title: "Abbey Road Live", Slug: "abbey-road-live", ReleaseDate: time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)})).To(Succeed())

			newest, err := d.FindAlbums(ctx, &AlbumFilter{TitleContains: "abbey road", Limit: 1})
			Expect(err).ToNot(HaveOccurred())
			Expect(newest[0].Slug).To(Equal("abbey-road-live"))

			exact, err := d.FindAlbums(ctx, &AlbumFilter{TitleContains: "abbey road", PreferTitle: "ABBEY ROAD", Limit: 1})
			Expect(err).ToNot(HaveOccurred())
			Expect(exact).To(HaveLen(1))
			Expect(exact[0].Slug).To(Equal("abbey-road"))
		})

		It("filters by artist and genre links", func() {
			a := &Album{Title: "Abbey Road", Slug: "abbey-road"}
			b := &Album{Title: "Paranoid", Slug: "paranoid"}
			Expect(d.CreateAlbum(ctx, a)).To(Succeed())
			Expect(d.CreateAlbum(ctx, b)).To(Succeed())

			beatles := &Entity{Name: "The Beatles", Slug: "the-beatles"}
			rock := &Entity{Name: "Rock", Slug: "rock"}
			metal := &Entity{Name: "Metal", Slug: "metal"}
			Expect(d.CreateEntity(ctx, KindArtist, beatles)).To(Succeed())
			Expect(d.CreateEntity(ctx, KindGenre, rock)).To(Succeed())
			Expect(d.CreateEntity(ctx, KindGenre, metal)).To(Succeed())

			Expect(d.Connect(ctx, KindArtist, a.ID, beatles.ID)).To(Succeed())
			Expect(d.Connect(ctx, KindGenre, a.ID, rock.ID)).To(Succeed())
			Expect(d.Connect(ctx, KindGenre, b.ID, rock.ID)).To(Succeed())
			Expect(d.Connect(ctx, KindGenre, b.ID, metal.ID)).To(Succeed())

			byArtist, err := d.FindAlbums(ctx, &AlbumFilter{ArtistContains: "beatles"})
			Expect(err).ToNot(HaveOccurred())
			Expect(byArtist).To(HaveLen(1))

			rockOnly, err := d.FindAlbums(ctx, &AlbumFilter{Genres: []string{"rock"}, ExcludeGenres: []string{"metal"}})
			Expect(err).ToNot(HaveOccurred())
			Expect(rockOnly).To(HaveLen(1))
			Expect(rockOnly[0].ID).To(Equal(a.ID))

			both, err := d.FindAlbums(ctx, &AlbumFilter{Genres: []string{"ROCK", "Metal"}})
			Expect(err).ToNot(HaveOccurred())
			Expect(both).To(HaveLen(1))
			Expect(both[0].ID).To(Equal(b.ID))

			notBeatles, err := d.FindAlbums(ctx, &AlbumFilter{ExcludeKeywords: []string{"BEATLES"}})
			Expect(err).ToNot(HaveOccurred())
			Expect(notBeatles).To(HaveLen(1))
			Expect(notBeatles[0].ID).To(Equal(b.ID))
		})

		It("clears rankings", func() {
			rank := 1
			a := &Album{Title: "A", Slug: "a", TopRanking: &rank}
			Expect(d.CreateAlbum(ctx, a)).To(Succeed())

			n, err := d.ClearRankings(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			ranked, err := d.FindAlbums(ctx, &AlbumFilter{Ranked: true})
			Expect(err).ToNot(HaveOccurred())
			Expect(ranked).To(BeEmpty())
		})
	})

	Context("entities", func() {
		It("creates, finds, renames and deletes", func() {
			g := &Entity{Name: "Rock", Slug: "rock"}
			Expect(d.CreateEntity(ctx, KindGenre, g)).To(Succeed())

			byName, err := d.GetEntityByName(ctx, KindGenre, "Rock")
			Expect(err).ToNot(HaveOccurred())
			Expect(byName.ID).To(Equal(g.ID))

			Expect(d.RenameEntity(ctx, KindGenre, g.ID, "Rock Music", "rock-music")).To(Succeed())

			bySlug, err := d.GetEntityBySlug(ctx, KindGenre, "rock-music")
			Expect(err).ToNot(HaveOccurred())
			Expect(bySlug.Name).To(Equal("Rock Music"))

			Expect(d.DeleteEntity(ctx, KindGenre, g.ID)).To(Succeed())

			_, err = d.GetEntityBySlug(ctx, KindGenre, "rock-music")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("maps duplicate genre names to ErrConflict", func() {
			Expect(d.CreateEntity(ctx, KindGenre, &Entity{Name: "Rock", Slug: "rock"})).To(Succeed())

			err := d.CreateEntity(ctx, KindGenre, &Entity{Name: "Rock", Slug: "rock-2"})
			Expect(errors.Is(err, ErrConflict)).To(BeTrue())
		})

		It("rolls back only the failed insert inside a transaction", func() {
			err := d.WithTx(ctx, func(tx IStore) error {
				Expect(tx.CreateEntity(ctx, KindGenre, &Entity{Name: "Rock", Slug: "rock"})).To(Succeed())

				err := tx.CreateEntity(ctx, KindGenre, &Entity{Name: "Rock", Slug: "rock-2"})
				Expect(errors.Is(err, ErrConflict)).To(BeTrue())

				got, err := tx.GetEntityByName(ctx, KindGenre, "Rock")
				Expect(err).ToNot(HaveOccurred())
				Expect(got.Slug).To(Equal("rock"))

				return tx.CreateEntity(ctx, KindGenre, &Entity{Name: "Jazz", Slug: "jazz"})
			})
			Expect(err).ToNot(HaveOccurred())

			count, err := d.CountEntities(ctx, KindGenre)
			Expect(err).ToNot(HaveOccurred())
			Expect(count).To(Equal(2))
		})

		It("rejects unknown kinds", func() {
			_, err := d.ListEntities(ctx, Kind("label"))
			Expect(err).To(HaveOccurred())
		})
	})

	Context("links", func() {
		It("connects idempotently and preserves link order", func() {
			a := &Album{Title: "A", Slug: "a"}
			Expect(d.CreateAlbum(ctx, a)).To(Succeed())

			first := &Entity{Name: "Zed", Slug: "zed"}
			second := &Entity{Name: "Abe", Slug: "abe"}
			Expect(d.CreateEntity(ctx, KindArtist, first)).To(Succeed())
			Expect(d.CreateEntity(ctx, KindArtist, second)).To(Succeed())

			Expect(d.Connect(ctx, KindArtist, a.ID, first.ID)).To(Succeed())
			Expect(d.Connect(ctx, KindArtist, a.ID, second.ID)).To(Succeed())
			Expect(d.Connect(ctx, KindArtist, a.ID, first.ID)).To(Succeed())

			artists, err := d.ListAlbumEntities(ctx, KindArtist, a.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(artists).To(HaveLen(2))
			Expect(artists[0].Name).To(Equal("Zed"))

			ids, err := d.ListEntityAlbumIDs(ctx, KindArtist, second.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(ids).To(ConsistOf(a.ID))

			Expect(d.Disconnect(ctx, KindArtist, a.ID, second.ID)).To(Succeed())

			artists, err = d.ListAlbumEntities(ctx, KindArtist, a.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(artists).To(HaveLen(1))
		})
	})

	Context("WithTx", func() {
		It("commits on success", func() {
			err := d.WithTx(ctx, func(tx IStore) error {
				return tx.CreateEntity(ctx, KindGenre, &Entity{Name: "Rock", Slug: "rock"})
			})
			Expect(err).ToNot(HaveOccurred())

			count, err := d.CountEntities(ctx, KindGenre)
			Expect(err).ToNot(HaveOccurred())
			Expect(count).To(Equal(1))
		})

		It("rolls back on error", func() {
			err := d.WithTx(ctx, func(tx IStore) error {
				if err := tx.CreateEntity(ctx, KindGenre, &Entity{Name: "Rock", Slug: "rock"}); err != nil {
					return err
				}

				return errors.New("boom")
			})
			Expect(err).To(MatchError("boom"))

			count, err := d.CountEntities(ctx, KindGenre)
			Expect(err).ToNot(HaveOccurred())
			Expect(count).To(Equal(0))
		})
	})
})
