// Package runstate persists batch outcomes and batch locks in the shared
// state store so that interrupted runs can resume with only their failures.
package runstate

import (
	"context"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/backends/cache"
	sb "github.com/dselans/fivehundred/backends/state"
	"github.com/dselans/fivehundred/clog"
	"github.com/dselans/fivehundred/services/orchestrator"
)

const (
	OutcomePrefix = "outcome"

	DefaultOutcomeTTL = 30 * 24 * time.Hour
	CacheTTL          = 5 * time.Second
)

// IBackend is the subset of the state store used here.
type IBackend interface {
	Get(ctx context.Context, key string, prefix ...string) (string, error)
	SetEx(ctx context.Context, key, value string, ttl time.Duration, prefix ...string) error
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

type RunState struct {
	opts *Options
	log  clog.ICustomLog
}

type Options struct {
	Backend    IBackend
	Cache      cache.ICache
	OutcomeTTL time.Duration
	Log        clog.ICustomLog
}

func New(opts *Options) (*RunState, error) {
	if err := validateOptions(opts); err != nil {
		return nil, errors.Wrap(err, "failed to validate options")
	}

	return &RunState{
		opts: opts,
		log:  opts.Log.With(zap.String("pkg", "runstate")),
	}, nil
}

func validateOptions(opts *Options) error {
	if opts == nil {
		return errors.New("options cannot be nil")
	}

	if opts.Backend == nil {
		return errors.New("backend cannot be nil")
	}

	if opts.Cache == nil {
		return errors.New("cache cannot be nil")
	}

	if opts.OutcomeTTL <= 0 {
		opts.OutcomeTTL = DefaultOutcomeTTL
	}

	if opts.Log == nil {
		return errors.New("log cannot be nil")
	}

	return nil
}

// Lock obtains the batch lock. A batch already held elsewhere returns
// orchestrator.ErrBatchLocked.
func (r *RunState) Lock(ctx context.Context, batch string, ttl time.Duration) (func() error, error) {
	lock, err := r.opts.Backend.Obtain(ctx, batch, ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, errors.Wrapf(orchestrator.ErrBatchLocked, "batch '%s'", batch)
		}

		return nil, errors.Wrap(err, "unable to obtain batch lock")
	}

	r.log.Debug("obtained batch lock", zap.String("batch", batch))

	return func() error {
		return lock.Release(context.Background())
	}, nil
}

// LastOutcome reads the cache first, then the state store.
func (r *RunState) LastOutcome(ctx context.Context, batch, input string) (string, bool, error) {
	cacheKey := cache.Key(cache.RunOutcomePrefix, batch, outcomeKey(input))

	if v, ok := r.opts.Cache.Get(cacheKey); ok {
		if status, ok := v.(string); ok {
			return status, true, nil
		}
	}

	status, err := r.opts.Backend.Get(ctx, outcomeKey(input), OutcomePrefix, batch)
	if err != nil {
		if errors.Is(err, sb.ErrDoesNotExist) {
			return "", false, nil
		}

		return "", false, errors.Wrap(err, "unable to read outcome")
	}

	r.opts.Cache.Set(cacheKey, status, CacheTTL)

	return status, true, nil
}

func (r *RunState) RecordOutcome(ctx context.Context, batch, input, status string) error {
	if err := r.opts.Backend.SetEx(ctx, outcomeKey(input), status, r.opts.OutcomeTTL, OutcomePrefix, batch); err != nil {
		return errors.Wrap(err, "unable to record outcome")
	}

	r.opts.Cache.Set(cache.Key(cache.RunOutcomePrefix, batch, outcomeKey(input)), status, CacheTTL)

	return nil
}

func outcomeKey(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}
