// Package streaming searches streaming catalogs (Spotify, Apple Music) for
// an album and returns its platform identifier.
package streaming

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/dselans/fivehundred/clog"
	"github.com/dselans/fivehundred/services/resolver"
	"github.com/dselans/fivehundred/util"
)

const (
	DefaultSearchLimit = 5
	DefaultTimeout     = 10 * time.Second
	DefaultMaxRetries  = 3
)

var ErrMissingCredentials = errors.New("streaming credentials not configured")

// pick applies the streaming policy: exact artist and title, else the
// platform's first result.
func pick(log clog.ICustomLog, artist, title string, candidates []resolver.Candidate) *resolver.Candidate {
	if len(candidates) == 0 {
		return nil
	}

	m := resolver.New(resolver.StreamingPolicy, log).Resolve(resolver.Query{Artist: artist, Title: title}, candidates)
	if m == nil {
		return nil
	}

	return &m.Candidate
}

// do runs req with retries on throttling responses.
func do(ctx context.Context, client *http.Client, log clog.ICustomLog, attempts int,
	sleep func(context.Context, time.Duration) error, build func() (*http.Request, error), target any) error {
	return util.RetryFunc(ctx, func() error {
		req, err := build()
		if err != nil {
			return util.NewNonRetryableError(err)
		}

		_, err = util.DoHTTP(ctx, client, req, target)

		return err
	}, attempts,
		util.WithRetryable(util.IsRateLimited),
		util.WithSleep(sleep),
		util.WithLogger(log),
	)
}
