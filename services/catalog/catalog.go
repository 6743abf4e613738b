package catalog

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/backends/db"
	"github.com/dselans/fivehundred/clog"
)

const (
	DefaultLimit = 100
	MaxLimit     = 500
)

var ErrAlbumNotFound = errors.New("album not found")

type ICatalog interface {
	GetAlbums(ctx context.Context, filters *AlbumFilters) ([]*AlbumResponse, error)
	GetAlbum(ctx context.Context, slug string) (*AlbumResponse, error)
	GetEntities(ctx context.Context, kind db.Kind) ([]*EntityResponse, error)
}

type Catalog struct {
	opts *Options
	log  clog.ICustomLog
}

type Options struct {
	Backend db.IStore
	Log     clog.ICustomLog
}

type AlbumFilters struct {
	IncludedGenres   []string
	ExcludedGenres   []string
	ExcludedKeywords []string
	APlus            *bool
	Ranked           bool
	Limit            int
	Offset           int
}

type AlbumResponse struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	Slug          string            `json:"slug"`
	Artists       []string          `json:"artists"`
	CoverArt      *string           `json:"coverArt"`
	ReleaseDate   string            `json:"releaseDate"`
	Genres        []*EntityResponse `json:"genres"`
	Descriptors   []*EntityResponse `json:"descriptors"`
	IsAPlus       bool              `json:"isAPlus"`
	TopRanking    *int              `json:"topRanking,omitempty"`
	PreviewLinks  PreviewLinks      `json:"previewLinks"`
	AllMusicID    *string           `json:"allMusicId,omitempty"`
	LastUpdatedAt string            `json:"lastUpdatedAt"`
}

type PreviewLinks struct {
	Spotify    *string `json:"spotify,omitempty"`
	AppleMusic *string `json:"appleMusic,omitempty"`
}

type EntityResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

func New(opts *Options) (*Catalog, error) {
	if err := validateOptions(opts); err != nil {
		return nil, errors.Wrap(err, "failed to validate options")
	}

	return &Catalog{
		opts: opts,
		log:  opts.Log.With(zap.String("pkg", "catalog")),
	}, nil
}

func validateOptions(opts *Options) error {
	if opts == nil {
		return errors.New("options cannot be nil")
	}

	if opts.Backend == nil {
		return errors.New("backend cannot be nil")
	}

	if opts.Log == nil {
		return errors.New("log cannot be nil")
	}

	return nil
}

func (c *Catalog) GetAlbums(ctx context.Context, filters *AlbumFilters) ([]*AlbumResponse, error) {
	logger := c.log.With(zap.String("method", "GetAlbums"))
	logger.Debug("Fetching albums", zap.Any("filters", filters))

	if filters == nil {
		filters = &AlbumFilters{}
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	if limit > MaxLimit {
		limit = MaxLimit
	}

	dbAlbums, err := c.opts.Backend.FindAlbums(ctx, &db.AlbumFilter{
		APlus:           filters.APlus,
		Ranked:          filters.Ranked,
		Genres:          filters.IncludedGenres,
		ExcludeGenres:   filters.ExcludedGenres,
		ExcludeKeywords: filters.ExcludedKeywords,
		Limit:           limit,
		Offset:          filters.Offset,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch albums")
	}

	albums := make([]*AlbumResponse, 0, len(dbAlbums))

	for _, a := range dbAlbums {
		album, err := c.toResponse(ctx, a)
		if err != nil {
			return nil, err
		}

		albums = append(albums, album)
	}

	logger.Debug("Returning albums", zap.Int("count", len(albums)))

	return albums, nil
}

func (c *Catalog) GetAlbum(ctx context.Context, slug string) (*AlbumResponse, error) {
	a, err := c.opts.Backend.GetAlbumBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrAlbumNotFound
		}

		return nil, errors.Wrap(err, "failed to fetch album")
	}

	return c.toResponse(ctx, a)
}

func (c *Catalog) GetEntities(ctx context.Context, kind db.Kind) ([]*EntityResponse, error) {
	entities, err := c.opts.Backend.ListEntities(ctx, kind)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch %ss", kind)
	}

	return toEntityResponses(entities), nil
}

func (c *Catalog) toResponse(ctx context.Context, a *db.Album) (*AlbumResponse, error) {
	artists, err := c.opts.Backend.ListAlbumEntities(ctx, db.KindArtist, a.ID)
	if err != nil {
		return nil, err
	}

	genres, err := c.opts.Backend.ListAlbumEntities(ctx, db.KindGenre, a.ID)
	if err != nil {
		return nil, err
	}

	descriptors, err := c.opts.Backend.ListAlbumEntities(ctx, db.KindDescriptor, a.ID)
	if err != nil {
		return nil, err
	}

	response := &AlbumResponse{
		ID:            a.ID,
		Title:         a.Title,
		Slug:          a.Slug,
		Artists:       make([]string, 0, len(artists)),
		ReleaseDate:   a.ReleaseDate.UTC().Format("2006-01-02"),
		Genres:        toEntityResponses(genres),
		Descriptors:   toEntityResponses(descriptors),
		IsAPlus:       a.IsAPlus,
		TopRanking:    a.TopRanking,
		AllMusicID:    a.AllMusicID,
		LastUpdatedAt: a.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}

	for _, artist := range artists {
		response.Artists = append(response.Artists, artist.Name)
	}

	// Placeholder art is reported as missing
	if a.HasCoverArt() {
		response.CoverArt = a.CoverArt
	}

	if a.HasSpotifyURI() {
		response.PreviewLinks.Spotify = a.SpotifyURI
	}

	if a.AppleMusicURL != nil && *a.AppleMusicURL != "" {
		response.PreviewLinks.AppleMusic = a.AppleMusicURL
	}

	return response, nil
}

func toEntityResponses(entities []*db.Entity) []*EntityResponse {
	out := make([]*EntityResponse, 0, len(entities))

	for _, e := range entities {
		out = append(out, &EntityResponse{ID: e.ID, Name: e.Name, Slug: e.Slug})
	}

	return out
}
