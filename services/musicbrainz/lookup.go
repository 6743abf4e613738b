package musicbrainz

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dselans/fivehundred/backends/cache"
	"github.com/dselans/fivehundred/services/normalize"
	"github.com/dselans/fivehundred/services/source"
)

// LookupResult is the tagged outcome of a release-database lookup.
type LookupResult struct {
	Status     source.Status      `json:"status"`
	Enrichment *source.Enrichment `json:"enrichment,omitempty"`
	Group      *ReleaseGroup      `json:"group,omitempty"`
	Reason     string             `json:"reason,omitempty"`
}

func (r *LookupResult) IsOK() bool {
	return r != nil && r.Status == source.StatusOK && r.Enrichment != nil
}

// Lookup resolves artist/title to a release group and gathers cover art and
// streaming links for it. Successful and not-found outcomes are cached.
func (c *Client) Lookup(ctx context.Context, artist, title string) *LookupResult {
	logger := c.log.With(zap.String("method", "Lookup"),
		zap.String("artist", artist), zap.String("title", title))

	key := cache.Key(cache.ReleaseDBPrefix, "lookup",
		normalize.NormalizeForComparison(artist), normalize.NormalizeForComparison(title))

	if c.options.Cache != nil {
		if v, ok := c.options.Cache.Get(key); ok {
			if cached, ok := v.(*LookupResult); ok {
				logger.Debug("lookup served from cache")
				return cached
			}
		}
	}

	result := c.lookup(ctx, artist, title)

	if c.options.Cache != nil && result.Status != source.StatusFailed {
		c.options.Cache.Set(key, result, c.options.CacheTTL)
	}

	return result
}

func (c *Client) lookup(ctx context.Context, artist, title string) *LookupResult {
	logger := c.log.With(zap.String("method", "lookup"),
		zap.String("artist", artist), zap.String("title", title))

	rg, match, err := c.FindReleaseGroup(ctx, artist, title)
	if err != nil {
		logger.Warn("release group search failed", zap.Error(err))
		return &LookupResult{Status: source.StatusFailed, Reason: err.Error()}
	}

	if rg == nil {
		return &LookupResult{Status: source.StatusNotFound, Reason: "no matching release group"}
	}

	enrichment := &source.Enrichment{
		MBID:          rg.ID,
		Tier:          string(match.Tier),
		LowConfidence: match.LowConfidence,
	}

	c.enrich(ctx, rg.ID, enrichment)

	return &LookupResult{Status: source.StatusOK, Enrichment: enrichment, Group: rg}
}

// enrich fetches cover art and links concurrently. Either failing only
// leaves its fields nil.
func (c *Client) enrich(ctx context.Context, mbid string, e *source.Enrichment) {
	logger := c.log.With(zap.String("method", "enrich"), zap.String("mbid", mbid))

	var (
		cover string
		links *StreamingLinks
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		url, err := c.CoverArt(gCtx, mbid)
		if err != nil {
			logger.Warn("unable to fetch cover art", zap.Error(err))
			return nil
		}

		cover = url

		return nil
	})

	g.Go(func() error {
		l, err := c.Links(gCtx, mbid)
		if err != nil {
			logger.Warn("unable to fetch release group links", zap.Error(err))
			return nil
		}

		links = l

		return nil
	})

	_ = g.Wait()

	if cover != "" {
		e.CoverArt = &cover
	}

	if links != nil {
		if links.SpotifyURI != "" {
			uri := links.SpotifyURI
			e.SpotifyURI = &uri
		}

		if links.AppleMusicURL != "" {
			u := links.AppleMusicURL
			e.AppleMusicURL = &u
		}
	}
}

// Name implements source.IAdapter.
func (c *Client) Name() string {
	return SourceName
}

// FetchMetadata implements source.IAdapter. The release database supplies
// identity and artwork only; genre lists stay empty.
func (c *Client) FetchMetadata(ctx context.Context, artist, title string) source.Result {
	res := c.Lookup(ctx, artist, title)

	switch res.Status {
	case source.StatusOK:
	case source.StatusNotFound:
		return source.NotFound(res.Reason)
	default:
		return source.Result{Status: source.StatusFailed, Reason: res.Reason}
	}

	record := &source.Record{
		Artist:   res.Group.ArtistName(),
		Title:    res.Group.Title,
		SourceID: res.Enrichment.MBID,
		Source:   SourceName,
		Genres:   []string{},
		Styles:   []string{},
		Moods:    []string{},
		Themes:   []string{},
	}

	if t, err := time.Parse("2006-01-02", res.Group.FirstReleaseDate); err == nil {
		record.ReleaseDate = &t
	}

	if res.Enrichment.CoverArt != nil {
		record.CoverImage = *res.Enrichment.CoverArt
	}

	return source.OK(record)
}
