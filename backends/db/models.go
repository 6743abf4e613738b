package db

import (
	"time"

	"github.com/pkg/errors"
)

// PlaceholderCoverArt is the legacy "no image" value; treated like NULL.
const PlaceholderCoverArt = "/no-cover.png"

// DefaultReleaseDate is stored when no source supplies a usable date.
var DefaultReleaseDate = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

type Album struct {
	ID            string    `db:"id" json:"id"`
	Title         string    `db:"title" json:"title"`
	Slug          string    `db:"slug" json:"slug"`
	ReleaseDate   time.Time `db:"release_date" json:"release_date"`
	CoverArt      *string   `db:"cover_art" json:"cover_art"`
	SpotifyURI    *string   `db:"spotify_uri" json:"spotify_uri"`
	AppleMusicURL *string   `db:"apple_music_url" json:"apple_music_url"`
	AllMusicID    *string   `db:"allmusic_id" json:"allmusic_id"`
	IsAPlus       bool      `db:"is_aplus" json:"is_aplus"`
	TopRanking    *int      `db:"top_ranking" json:"top_ranking"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// HasCoverArt is false for NULL, empty and placeholder values.
func (a *Album) HasCoverArt() bool {
	return a.CoverArt != nil && *a.CoverArt != "" && *a.CoverArt != PlaceholderCoverArt
}

func (a *Album) HasSpotifyURI() bool {
	return a.SpotifyURI != nil && *a.SpotifyURI != ""
}

// Entity is an artist, genre or descriptor.
type Entity struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Slug      string    `db:"slug" json:"slug"`
	CreatedAt time.Time `db:"created_at" json:"-"`
}

type Kind string

const (
	KindArtist     Kind = "artist"
	KindGenre      Kind = "genre"
	KindDescriptor Kind = "descriptor"
)

var Kinds = []Kind{KindArtist, KindGenre, KindDescriptor}

func (k Kind) Validate() error {
	switch k {
	case KindArtist, KindGenre, KindDescriptor:
		return nil
	}

	return errors.Errorf("unknown entity kind '%s'", k)
}

func (k Kind) table() string {
	return string(k) + "s"
}

func (k Kind) linkTable() string {
	return "album_" + string(k) + "s"
}

// AlbumFilter narrows FindAlbums/CountAlbums. Zero value matches everything.
type AlbumFilter struct {
	// Case-insensitive substring matches
	TitleContains  string
	ArtistContains string

	MissingCoverArt      bool
	MissingSpotifyURI    bool
	MissingAppleMusicURL bool
	APlus                *bool
	Ranked               bool

	// Album must be linked to every one of these genres (slug or name)
	Genres []string

	// Album must not be linked to any of these genres (slug or name)
	ExcludeGenres []string

	// Neither the title nor an artist name may contain these keywords
	ExcludeKeywords []string

	// Albums titled exactly this (case-insensitive) sort first
	PreferTitle string

	Limit  int
	Offset int
}
