package musicbrainz

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/services/normalize"
	"github.com/dselans/fivehundred/services/resolver"
)

const primaryTypeAlbum = "album"

var (
	parentheticalRe = regexp.MustCompile(`\s*[\(\[][^\)\]]*[\)\]]`)
	luceneEscaper   = strings.NewReplacer(`\`, `\\`, `"`, `\"`)
)

type artistCredit struct {
	Name   string `json:"name"`
	Artist struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"artist"`
}

// ReleaseGroup is the subset of a MusicBrainz release group used here.
type ReleaseGroup struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	PrimaryType      string         `json:"primary-type"`
	Score            int            `json:"score"`
	FirstReleaseDate string         `json:"first-release-date"`
	ArtistCredit     []artistCredit `json:"artist-credit"`
}

// ArtistName returns the first credited artist.
func (rg *ReleaseGroup) ArtistName() string {
	if len(rg.ArtistCredit) == 0 {
		return ""
	}

	if rg.ArtistCredit[0].Artist.Name != "" {
		return rg.ArtistCredit[0].Artist.Name
	}

	return rg.ArtistCredit[0].Name
}

type searchResponse struct {
	Count         int             `json:"count"`
	ReleaseGroups []*ReleaseGroup `json:"release-groups"`
}

// SearchQueries builds the relaxed query list, strictest first, with
// duplicates removed.
func SearchQueries(artist, title string) []string {
	artist = strings.TrimSpace(artist)
	title = strings.TrimSpace(title)

	candidates := []string{
		fmt.Sprintf(`releasegroup:"%s" AND artist:"%s"`, luceneEscaper.Replace(title), luceneEscaper.Replace(artist)),
		fmt.Sprintf(`releasegroup:"%s"`, luceneEscaper.Replace(title)),
	}

	loose := normalize.NormalizeForComparison(parentheticalRe.ReplaceAllString(title, ""))
	looseArtist := normalize.NormalizeForComparison(artist)

	if loose != "" {
		candidates = append(candidates, strings.TrimSpace(loose+" "+looseArtist))
	}

	seen := make(map[string]bool)
	queries := make([]string, 0, len(candidates))

	for _, q := range candidates {
		if seen[q] {
			continue
		}

		seen[q] = true
		queries = append(queries, q)
	}

	return queries
}

// SearchReleaseGroups runs a single release-group search.
func (c *Client) SearchReleaseGroups(ctx context.Context, query string) ([]*ReleaseGroup, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("fmt", "json")
	params.Set("limit", fmt.Sprintf("%d", c.options.SearchLimit))

	endpoint := strings.TrimRight(c.options.BaseURL, "/") + "/ws/2/release-group?" + params.Encode()

	resp := &searchResponse{}

	if err := c.get(ctx, "GET", endpoint, true, resp); err != nil {
		return nil, errors.Wrap(err, "release group search failed")
	}

	return resp.ReleaseGroups, nil
}

// FindReleaseGroup walks the relaxed queries until the resolver accepts a
// candidate. It returns nil with no error when nothing matched.
func (c *Client) FindReleaseGroup(ctx context.Context, artist, title string) (*ReleaseGroup, *resolver.Match, error) {
	logger := c.log.With(zap.String("method", "FindReleaseGroup"),
		zap.String("artist", artist), zap.String("title", title))

	res := resolver.New(resolver.ReleaseDatabasePolicy, logger)
	q := resolver.Query{Artist: artist, Title: title}

	for _, query := range SearchQueries(artist, title) {
		groups, err := c.SearchReleaseGroups(ctx, query)
		if err != nil {
			return nil, nil, err
		}

		candidates := toCandidates(groups)
		if len(candidates) == 0 {
			logger.Debug("no album release groups for query", zap.String("query", query))
			continue
		}

		if m := res.Resolve(q, candidates); m != nil {
			rg := m.Candidate.Payload.(*ReleaseGroup)

			logger.Debug("matched release group",
				zap.String("mbid", rg.ID), zap.String("tier", string(m.Tier)), zap.String("query", query))

			return rg, m, nil
		}
	}

	return nil, nil, nil
}

func toCandidates(groups []*ReleaseGroup) []resolver.Candidate {
	candidates := make([]resolver.Candidate, 0, len(groups))

	for _, rg := range groups {
		if rg == nil || !strings.EqualFold(rg.PrimaryType, primaryTypeAlbum) {
			continue
		}

		candidates = append(candidates, resolver.Candidate{
			ID:      rg.ID,
			Title:   rg.Title,
			Artist:  rg.ArtistName(),
			Score:   rg.Score,
			Payload: rg,
		})
	}

	return candidates
}
