// Package merge combines text metadata (genres, descriptors) from the bulk
// or scrape source with release-database enrichment, and applies the result
// to persisted albums without ever overwriting a value with null.
package merge

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dselans/fivehundred/backends/db"
	"github.com/dselans/fivehundred/clog"
	"github.com/dselans/fivehundred/services/normalize"
	"github.com/dselans/fivehundred/services/source"
)

const (
	FieldReleaseDate   = "release_date"
	FieldCoverArt      = "cover_art"
	FieldSpotifyURI    = "spotify_uri"
	FieldAppleMusicURL = "apple_music_url"
	FieldAllMusicID    = "allmusic_id"
	FieldTitle         = "title"
)

type Metadata struct {
	Artist      string     `json:"artist"`
	Title       string     `json:"title"`
	ReleaseDate *time.Time `json:"release_date,omitempty"`
	Genres      []string   `json:"genres"`
	Descriptors []string   `json:"descriptors"`

	CoverArt      *string `json:"cover_art,omitempty"`
	SpotifyURI    *string `json:"spotify_uri,omitempty"`
	AppleMusicURL *string `json:"apple_music_url,omitempty"`
	AllMusicID    *string `json:"allmusic_id,omitempty"`

	TextSource string `json:"text_source,omitempty"`
}

type ApplyOptions struct {
	// Only restricts Apply to the named fields (backfill passes)
	Only []string
}

type IStreamingFinder interface {
	FindAlbum(ctx context.Context, artist, title string) (string, error)
}

// SelectText picks the text metadata source: bulk when it matched, else
// scrape. When neither matched the bulk result is returned.
func SelectText(bulk, scrape source.Result) source.Result {
	if bulk.IsOK() {
		return bulk
	}

	if scrape.IsOK() {
		return scrape
	}

	return bulk
}

// Build merges a text record with optional enrichment. Genres come from
// genre+style, descriptors from mood+theme only.
func Build(text *source.Record, enr *source.Enrichment) *Metadata {
	md := &Metadata{
		Genres:      []string{},
		Descriptors: []string{},
	}

	if text != nil {
		md.Artist = strings.TrimSpace(normalize.DecodeEntities(text.Artist))
		md.Title = strings.TrimSpace(normalize.DecodeEntities(text.Title))
		md.ReleaseDate = text.ReleaseDate
		md.Genres = normalize.Dedup(text.Genres, text.Styles)
		md.Descriptors = normalize.Dedup(text.Moods, text.Themes)
		md.TextSource = text.Source

		if text.SourceID != "" {
			id := text.SourceID
			md.AllMusicID = &id
		}
	}

	if enr != nil {
		md.CoverArt = nonEmpty(enr.CoverArt)
		md.SpotifyURI = nonEmpty(enr.SpotifyURI)
		md.AppleMusicURL = nonEmpty(enr.AppleMusicURL)
	}

	return md
}

// Apply fills album fields from md and returns the names of the fields it
// changed. Nullable fields are only filled when currently null (or a
// placeholder); release date and catalog id follow the source when it
// supplies a different non-null value.
func Apply(album *db.Album, md *Metadata, opts ApplyOptions) []string {
	changed := make([]string, 0)

	if album == nil || md == nil {
		return changed
	}

	allowed := func(field string) bool {
		if len(opts.Only) == 0 {
			return true
		}

		for _, f := range opts.Only {
			if f == field {
				return true
			}
		}

		return false
	}

	if allowed(FieldCoverArt) && !album.HasCoverArt() && md.CoverArt != nil {
		album.CoverArt = copyStr(md.CoverArt)
		changed = append(changed, FieldCoverArt)
	}

	if allowed(FieldSpotifyURI) && !album.HasSpotifyURI() && md.SpotifyURI != nil {
		album.SpotifyURI = copyStr(md.SpotifyURI)
		changed = append(changed, FieldSpotifyURI)
	}

	if allowed(FieldAppleMusicURL) && isBlank(album.AppleMusicURL) && md.AppleMusicURL != nil {
		album.AppleMusicURL = copyStr(md.AppleMusicURL)
		changed = append(changed, FieldAppleMusicURL)
	}

	if allowed(FieldReleaseDate) && md.ReleaseDate != nil && !sameDay(album.ReleaseDate, *md.ReleaseDate) {
		album.ReleaseDate = md.ReleaseDate.UTC()
		changed = append(changed, FieldReleaseDate)
	}

	if allowed(FieldAllMusicID) && md.AllMusicID != nil && *md.AllMusicID != "" &&
		(album.AllMusicID == nil || *album.AllMusicID != *md.AllMusicID) {
		album.AllMusicID = copyStr(md.AllMusicID)
		changed = append(changed, FieldAllMusicID)
	}

	return changed
}

// NewAlbum builds an unsaved album for md. The caller runs PrepareForCreate
// before persisting it.
func NewAlbum(md *Metadata) *db.Album {
	album := &db.Album{
		Title:       md.Title,
		ReleaseDate: db.DefaultReleaseDate,
	}

	Apply(album, md, ApplyOptions{})

	return album
}

// PrepareForCreate is the explicit pre-persistence step for new albums: the
// title is entity-decoded, the slug derived from artist and title, and a
// missing Spotify URI looked up when a finder is available. Lookup failures
// are logged and leave the URI empty.
func PrepareForCreate(ctx context.Context, album *db.Album, artist string, finder IStreamingFinder, log clog.ICustomLog) {
	if log == nil {
		log = clog.NewNoop()
	}

	album.Title = strings.TrimSpace(normalize.DecodeEntities(album.Title))
	album.Slug = normalize.AlbumSlug(artist, album.Title)

	if album.HasSpotifyURI() || finder == nil || artist == "" {
		return
	}

	uri, err := finder.FindAlbum(ctx, artist, album.Title)
	if err != nil {
		log.Warn("unable to backfill spotify uri", zap.String("title", album.Title), zap.Error(err))
		return
	}

	if uri != "" {
		album.SpotifyURI = &uri
	}
}

func sameDay(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func isBlank(s *string) bool {
	return s == nil || *s == ""
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}

	return copyStr(s)
}

func copyStr(s *string) *string {
	if s == nil {
		return nil
	}

	v := *s

	return &v
}
