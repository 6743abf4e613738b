// Package orchestrator runs a pipeline function over a batch of inputs, one
// item at a time, isolating per-item failures and reporting a summary.
package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/clog"
	"github.com/dselans/fivehundred/services/source"
	"github.com/dselans/fivehundred/util"
)

const (
	DefaultDelay   = time.Second
	DefaultLockTTL = time.Hour
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusNotFound  Status = "not_found"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

var ErrBatchLocked = errors.New("batch is already running")

// Item is one batch input. Input is the human readable form used in logs;
// Value carries whatever the item func needs.
type Item struct {
	Input string
	Value interface{}
}

type ItemResult struct {
	Input     string      `json:"input"`
	Status    Status      `json:"status"`
	Detail    string      `json:"detail,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ItemFunc processes one item. A returned error fails only that item unless
// it is a source.FatalSetupError, which aborts the batch.
type ItemFunc func(ctx context.Context, item *Item) (*ItemResult, error)

type Summary struct {
	Total      int            `json:"total"`
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	Details    map[string]int `json:"details"`
}

type Report struct {
	Name       string        `json:"name"`
	Summary    *Summary      `json:"summary"`
	Results    []*ItemResult `json:"results"`
	Aborted    bool          `json:"aborted,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	LogFiles   []string      `json:"log_files,omitempty"`
}

// IRunState persists per-input outcomes and guards a batch against
// concurrent runs.
type IRunState interface {
	Lock(ctx context.Context, batch string, ttl time.Duration) (func() error, error)
	LastOutcome(ctx context.Context, batch, input string) (string, bool, error)
	RecordOutcome(ctx context.Context, batch, input, status string) error
}

type Options struct {
	// Pause between items; negative disables it
	Delay time.Duration

	// Structured JSON logs are written to LogDir when set
	Fs     afero.Fs
	LogDir string

	RunState   IRunState
	OnlyFailed bool
	LockTTL    time.Duration

	Progress *logrus.Logger

	// Overridable in tests
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time

	Log clog.ICustomLog
}

type Orchestrator struct {
	options *Options
	log     clog.ICustomLog
}

func New(opts *Options) (*Orchestrator, error) {
	if err := validateOptions(opts); err != nil {
		return nil, errors.Wrap(err, "unable to validate options")
	}

	return &Orchestrator{
		options: opts,
		log:     opts.Log.With(zap.String("pkg", "orchestrator")),
	}, nil
}

func validateOptions(opts *Options) error {
	if opts == nil {
		return errors.New("options cannot be nil")
	}

	if opts.Delay == 0 {
		opts.Delay = DefaultDelay
	}

	if opts.LogDir != "" && opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}

	if opts.OnlyFailed && opts.RunState == nil {
		return errors.New("only-failed requires run state")
	}

	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}

	if opts.Progress == nil {
		opts.Progress = logrus.StandardLogger()
	}

	if opts.Sleep == nil {
		opts.Sleep = util.SleepContext
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.Log == nil {
		opts.Log = clog.NewNoop()
	}

	return nil
}

// Run processes items sequentially. The returned report is always non-nil
// once the batch has started, including when a fatal setup error aborts it.
func (o *Orchestrator) Run(ctx context.Context, name string, items []*Item, fn ItemFunc) (*Report, error) {
	logger := o.log.With(zap.String("method", "Run"), zap.String("batch", name))

	if fn == nil {
		return nil, errors.New("item func cannot be nil")
	}

	if o.options.RunState != nil {
		unlock, err := o.options.RunState.Lock(ctx, name, o.options.LockTTL)
		if err != nil {
			return nil, err
		}

		defer func() {
			if err := unlock(); err != nil {
				logger.Warn("unable to release batch lock", zap.Error(err))
			}
		}()
	}

	report := &Report{
		Name:      name,
		Summary:   &Summary{Details: map[string]int{}},
		Results:   make([]*ItemResult, 0, len(items)),
		StartedAt: o.options.Now().UTC(),
	}

	progress := o.options.Progress

	var fatal error

	for i, item := range items {
		if ctx.Err() != nil {
			logger.Warn("batch cancelled", zap.Int("processed", i))
			report.Aborted = true
			break
		}

		if item == nil {
			continue
		}

		if o.options.OnlyFailed && o.alreadySucceeded(ctx, name, item.Input) {
			o.record(report, &ItemResult{
				Input:     item.Input,
				Status:    StatusSkipped,
				Reason:    "already succeeded in a previous run",
				Timestamp: o.options.Now().UTC(),
			})

			continue
		}

		progress.Infof("[%d/%d] Processing: %s", i+1, len(items), item.Input)

		result, err := o.runItem(ctx, item, fn)
		if err != nil {
			if source.IsFatalSetup(err) {
				progress.Errorf("Aborting batch: %s", err)
				fatal = err
				report.Aborted = true

				break
			}

			result = &ItemResult{Status: StatusFailed, Reason: err.Error()}
		}

		if result == nil {
			result = &ItemResult{Status: StatusFailed, Reason: "no result"}
		}

		result.Input = item.Input
		result.Timestamp = o.options.Now().UTC()

		o.record(report, result)
		o.saveOutcome(ctx, name, result)

		switch result.Status {
		case StatusFailed:
			progress.Warnf("  failed: %s", result.Reason)
		case StatusNotFound:
			progress.Warnf("  not found: %s", result.Reason)
		default:
			progress.Infof("  %s", describe(result))
		}

		if i < len(items)-1 && o.options.Delay > 0 {
			if err := o.options.Sleep(ctx, o.options.Delay); err != nil {
				report.Aborted = true
				break
			}
		}
	}

	report.FinishedAt = o.options.Now().UTC()

	s := report.Summary
	progress.Infof("Summary: total=%d successful=%d failed=%d skipped=%d", s.Total, s.Successful, s.Failed, s.Skipped)

	if err := o.writeLogs(report); err != nil {
		logger.Error("unable to write batch logs", zap.Error(err))
	}

	if fatal != nil {
		return report, errors.Wrap(fatal, "batch aborted")
	}

	return report, nil
}

// runItem converts panics into item failures.
func (o *Orchestrator) runItem(ctx context.Context, item *Item, fn ItemFunc) (result *ItemResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("recovered from panic while processing item",
				zap.String("input", item.Input),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))

			result = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return fn(ctx, item)
}

func (o *Orchestrator) record(report *Report, result *ItemResult) {
	s := report.Summary

	s.Total++

	switch result.Status {
	case StatusSucceeded:
		s.Successful++
	case StatusFailed:
		s.Failed++
	default:
		s.Skipped++
	}

	detail := result.Detail
	if detail == "" {
		detail = string(result.Status)
	}

	s.Details[detail]++

	report.Results = append(report.Results, result)
}

func (o *Orchestrator) alreadySucceeded(ctx context.Context, batch, input string) bool {
	last, ok, err := o.options.RunState.LastOutcome(ctx, batch, input)
	if err != nil {
		o.log.Warn("unable to read previous outcome", zap.String("input", input), zap.Error(err))
		return false
	}

	return ok && last == string(StatusSucceeded)
}

func (o *Orchestrator) saveOutcome(ctx context.Context, batch string, result *ItemResult) {
	if o.options.RunState == nil {
		return
	}

	if err := o.options.RunState.RecordOutcome(ctx, batch, result.Input, string(result.Status)); err != nil {
		o.log.Warn("unable to record outcome", zap.String("input", result.Input), zap.Error(err))
	}
}

func describe(r *ItemResult) string {
	if r.Detail != "" {
		return r.Detail
	}

	return string(r.Status)
}
