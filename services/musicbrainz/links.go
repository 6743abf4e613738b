package musicbrainz

import (
	"context"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

const minSpotifyIDLength = 10

type relation struct {
	Type string `json:"type"`
	URL  struct {
		Resource string `json:"resource"`
	} `json:"url"`
}

type releaseGroupLinks struct {
	ID        string      `json:"id"`
	Relations []*relation `json:"relations"`
}

// StreamingLinks holds the streaming identifiers found in a release group's
// url relationships. Either may be empty.
type StreamingLinks struct {
	SpotifyURI    string
	AppleMusicURL string
}

// Links reads the release group's url relationships.
func (c *Client) Links(ctx context.Context, mbid string) (*StreamingLinks, error) {
	endpoint := strings.TrimRight(c.options.BaseURL, "/") + "/ws/2/release-group/" +
		url.PathEscape(mbid) + "?inc=url-rels&fmt=json"

	resp := &releaseGroupLinks{}

	if err := c.get(ctx, "GET", endpoint, true, resp); err != nil {
		return nil, errors.Wrap(err, "unable to fetch release group relations")
	}

	links := &StreamingLinks{}

	for _, rel := range resp.Relations {
		if rel == nil {
			continue
		}

		resource := rel.URL.Resource

		if links.SpotifyURI == "" {
			if uri := SpotifyURIFromURL(resource); uri != "" {
				links.SpotifyURI = uri
				continue
			}
		}

		if links.AppleMusicURL == "" && strings.Contains(resource, "music.apple.com") {
			links.AppleMusicURL = resource
		}
	}

	return links, nil
}

// SpotifyURIFromURL turns https://open.spotify.com/album/<id> into
// spotify:album:<id>. Short or missing ids yield "".
func SpotifyURIFromURL(raw string) string {
	const marker = "spotify.com/album/"

	i := strings.Index(raw, marker)
	if i < 0 {
		return ""
	}

	id := raw[i+len(marker):]

	if j := strings.IndexAny(id, "/?#"); j >= 0 {
		id = id[:j]
	}

	if len(id) <= minSpotifyIDLength {
		return ""
	}

	return "spotify:album:" + id
}
