package streaming

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/clog"
	"github.com/dselans/fivehundred/services/normalize"
	"github.com/dselans/fivehundred/services/resolver"
	"github.com/dselans/fivehundred/util"
)

const (
	DefaultSpotifyTokenURL  = "https://accounts.spotify.com/api/token"
	DefaultSpotifySearchURL = "https://api.spotify.com/v1/search"

	// tokens are refreshed this long before they expire
	tokenExpiryMargin = 60 * time.Second
)

type SpotifyOptions struct {
	ClientID     string
	ClientSecret string

	TokenURL    string
	SearchURL   string
	SearchLimit int
	MaxRetries  int

	HTTPClient *http.Client
	Sleep      func(ctx context.Context, d time.Duration) error
	Log        clog.ICustomLog
}

type Spotify struct {
	options *SpotifyOptions
	log     clog.ICustomLog

	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

type spotifyToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type spotifySearch struct {
	Albums struct {
		Items []struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			URI     string `json:"uri"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
		} `json:"items"`
	} `json:"albums"`
}

// NewSpotify returns ErrMissingCredentials when the client id or secret is
// empty.
func NewSpotify(opts *SpotifyOptions) (*Spotify, error) {
	if err := validateSpotifyOptions(opts); err != nil {
		return nil, err
	}

	return &Spotify{
		options: opts,
		log:     opts.Log.With(zap.String("pkg", "streaming"), zap.String("platform", "spotify")),
		now:     time.Now,
	}, nil
}

func validateSpotifyOptions(opts *SpotifyOptions) error {
	if opts == nil {
		return errors.New("options cannot be nil")
	}

	if opts.ClientID == "" || opts.ClientSecret == "" {
		return ErrMissingCredentials
	}

	if opts.TokenURL == "" {
		opts.TokenURL = DefaultSpotifyTokenURL
	}

	if opts.SearchURL == "" {
		opts.SearchURL = DefaultSpotifySearchURL
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

	return nil
}

// Token returns a cached access token, exchanging client credentials when
// the cached one is missing or about to expire.
func (s *Spotify) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expires) {
		return s.token, nil
	}

	tok := &spotifyToken{}

	err := do(ctx, s.options.HTTPClient, s.log, s.options.MaxRetries, s.options.Sleep, func() (*http.Request, error) {
		form := url.Values{"grant_type": {"client_credentials"}}

		req, err := http.NewRequest("POST", s.options.TokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(s.options.ClientID, s.options.ClientSecret)

		return req, nil
	}, tok)
	if err != nil {
		return "", errors.Wrap(err, "spotify token request failed")
	}

	if tok.AccessToken == "" {
		return "", errors.New("spotify token response did not include an access token")
	}

	s.token = tok.AccessToken
	s.expires = s.now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenExpiryMargin)

	return s.token, nil
}

// FindAlbum returns the album's Spotify URI, or "" when the search has no
// results.
func (s *Spotify) FindAlbum(ctx context.Context, artist, title string) (string, error) {
	logger := s.log.With(zap.String("method", "FindAlbum"), zap.String("artist", artist), zap.String("title", title))

	token, err := s.Token(ctx)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("q", fmt.Sprintf(`album:"%s" artist:"%s"`, title, artist))
	params.Set("type", "album")
	params.Set("limit", fmt.Sprint(s.options.SearchLimit))

	resp := &spotifySearch{}

	err = do(ctx, s.options.HTTPClient, s.log, s.options.MaxRetries, s.options.Sleep, func() (*http.Request, error) {
		req, err := http.NewRequest("GET", s.options.SearchURL+"?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Authorization", "Bearer "+token)

		return req, nil
	}, resp)
	if err != nil {
		return "", errors.Wrap(err, "spotify search failed")
	}

	candidates := make([]resolver.Candidate, 0, len(resp.Albums.Items))

	for _, item := range resp.Albums.Items {
		if item.URI == "" {
			continue
		}

		c := resolver.Candidate{ID: item.URI, Title: item.Name, Score: resolver.UnknownScore}

		// any credited artist may satisfy the exact match
		for i, a := range item.Artists {
			if i == 0 || normalize.EqualFold(a.Name, artist) {
				c.Artist = a.Name
			}

			if normalize.EqualFold(a.Name, artist) {
				break
			}
		}

		candidates = append(candidates, c)
	}

	best := pick(logger, artist, title, candidates)
	if best == nil {
		logger.Debug("no spotify results")
		return "", nil
	}

	return best.ID, nil
}
