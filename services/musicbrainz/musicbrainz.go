// Package musicbrainz is the release-database adapter: it resolves an
// (artist, title) pair to a MusicBrainz release group and fetches cover art
// from the Cover Art Archive plus streaming links from url relationships.
//
// MusicBrainz asks clients to stay at or below one request per second and to
// send a descriptive user agent; every API call waits on a shared limiter.
package musicbrainz

import (
	"context"
	"net/http"
	"time"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	cca "gopkg.in/mineo/gocaa.v1"

	"github.com/dselans/fivehundred/backends/cache"
	"github.com/dselans/fivehundred/clog"
	"github.com/dselans/fivehundred/util"
)

const (
	DefaultBaseURL         = "https://musicbrainz.org"
	DefaultCoverArtBaseURL = "https://coverartarchive.org"
	DefaultUserAgent       = "FiveHundred/1.0.0 (https://github.com/dselans/fivehundred)"
	DefaultSearchLimit     = 5
	DefaultTimeout         = 10 * time.Second
	DefaultMaxRetries      = 4
	DefaultBaseDelay       = time.Second
	DefaultMaxDelay        = 8 * time.Second
	DefaultCacheTTL        = time.Hour

	SourceName = "musicbrainz"
)

// ICoverArtArchive is the subset of the gocaa client used for the
// original-size fallback.
type ICoverArtArchive interface {
	GetReleaseGroupFront(mbid uuid.UUID, size int) (cca.CoverArtImage, error)
}

type Options struct {
	BaseURL         string
	CoverArtBaseURL string
	UserAgent       string
	SearchLimit     int

	HTTPClient *http.Client
	Limiter    *rate.Limiter
	CAA        ICoverArtArchive

	// Optional; lookups are memoized when set
	Cache    cache.ICache
	CacheTTL time.Duration

	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Overridable in tests
	Sleep func(ctx context.Context, d time.Duration) error

	Log clog.ICustomLog
}

type Client struct {
	options *Options
	log     clog.ICustomLog
}

func New(opts *Options) (*Client, error) {
	if err := validateOptions(opts); err != nil {
		return nil, errors.Wrap(err, "unable to validate options")
	}

	return &Client{
		options: opts,
		log:     opts.Log.With(zap.String("pkg", "musicbrainz")),
	}, nil
}

func validateOptions(opts *Options) error {
	if opts == nil {
		return errors.New("options cannot be nil")
	}

	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	if opts.CoverArtBaseURL == "" {
		opts.CoverArtBaseURL = DefaultCoverArtBaseURL
	}

	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	if opts.SearchLimit <= 0 {
		opts.SearchLimit = DefaultSearchLimit
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}

	if opts.Limiter == nil {
		opts.Limiter = rate.NewLimiter(rate.Every(time.Second), 1)
	}

	if opts.CAA == nil {
		c := cca.NewCAAClient(opts.UserAgent)
		c.BaseURL = opts.CoverArtBaseURL
		opts.CAA = c
	}

	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}

	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}

	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}

	if opts.Sleep == nil {
		opts.Sleep = util.SleepContext
	}

	if opts.Log == nil {
		opts.Log = clog.NewNoop()
	}

	return nil
}

// get performs a GET (or HEAD) with the shared retry policy: throttling
// responses and transport errors are retried with capped exponential
// backoff; any other HTTP status aborts immediately.
func (c *Client) get(ctx context.Context, method, url string, throttle bool, target any) error {
	return util.RetryFunc(ctx, func() error {
		if throttle {
			if err := c.options.Limiter.Wait(ctx); err != nil {
				return util.NewNonRetryableError(errors.Wrap(err, "rate limiter wait failed"))
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return util.NewNonRetryableError(errors.Wrap(err, "unable to create request"))
		}

		req.Header.Set("User-Agent", c.options.UserAgent)
		req.Header.Set("Accept", "application/json")

		_, err = util.DoHTTP(ctx, c.options.HTTPClient, req, target)

		return err
	}, c.options.MaxRetries,
		util.WithDelay(c.options.BaseDelay),
		util.WithMaxDelay(c.options.MaxDelay),
		util.WithSleep(c.options.Sleep),
		util.WithRetryable(retryable),
		util.WithLogger(c.log),
	)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	code := util.StatusCode(err)
	if code == 0 {
		return true
	}

	return util.IsRateLimited(err)
}
