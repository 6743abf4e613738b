package streaming

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/clog"
	"github.com/dselans/fivehundred/services/resolver"
	"github.com/dselans/fivehundred/util"
)

const DefaultAppleMusicSearchURL = "https://api.music.apple.com/v1/catalog/us/search"

type AppleMusicOptions struct {
	// Developer token (JWT)
	Token string

	SearchURL   string
	SearchLimit int
	MaxRetries  int

	HTTPClient *http.Client
	Sleep      func(ctx context.Context, d time.Duration) error
	Log        clog.ICustomLog
}

type AppleMusic struct {
	options *AppleMusicOptions
	log     clog.ICustomLog
}

type appleSearch struct {
	Results struct {
		Albums *struct {
			Data []struct {
				ID         string `json:"id"`
				Attributes struct {
					Name       string `json:"name"`
					ArtistName string `json:"artistName"`
					URL        string `json:"url"`
				} `json:"attributes"`
			} `json:"data"`
		} `json:"albums"`
	} `json:"results"`
}

func NewAppleMusic(opts *AppleMusicOptions) (*AppleMusic, error) {
	if opts == nil {
		return nil, errors.New("options cannot be nil")
	}

	if opts.Token == "" {
		return nil, ErrMissingCredentials
	}

	if opts.SearchURL == "" {
		opts.SearchURL = DefaultAppleMusicSearchURL
	}

	if opts.SearchLimit <= 0 {
		opts.SearchLimit = DefaultSearchLimit
	}

	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}

	if opts.Sleep == nil {
		opts.Sleep = util.SleepContext
	}

	if opts.Log == nil {
		opts.Log = clog.NewNoop()
	}

	return &AppleMusic{
		options: opts,
		log:     opts.Log.With(zap.String("pkg", "streaming"), zap.String("platform", "apple_music")),
	}, nil
}

// FindAlbum returns the album's storefront URL, or "" when nothing matched.
func (a *AppleMusic) FindAlbum(ctx context.Context, artist, title string) (string, error) {
	logger := a.log.With(zap.String("method", "FindAlbum"), zap.String("artist", artist), zap.String("title", title))

	params := url.Values{}
	params.Set("term", artist+" "+title)
	params.Set("types", "albums")
	params.Set("limit", fmt.Sprint(a.options.SearchLimit))

	resp := &appleSearch{}

	err := do(ctx, a.options.HTTPClient, a.log, a.options.MaxRetries, a.options.Sleep, func() (*http.Request, error) {
		req, err := http.NewRequest("GET", a.options.SearchURL+"?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Authorization", "Bearer "+a.options.Token)

		return req, nil
	}, resp)
	if err != nil {
		return "", errors.Wrap(err, "apple music search failed")
	}

	if resp.Results.Albums == nil {
		return "", nil
	}

	candidates := make([]resolver.Candidate, 0, len(resp.Results.Albums.Data))

	for _, d := range resp.Results.Albums.Data {
		if d.Attributes.URL == "" {
			continue
		}

		candidates = append(candidates, resolver.Candidate{
			ID:     d.Attributes.URL,
			Title:  d.Attributes.Name,
			Artist: d.Attributes.ArtistName,
			Score:  resolver.UnknownScore,
		})
	}

	best := pick(logger, artist, title, candidates)
	if best == nil {
		return "", nil
	}

	return best.ID, nil
}
