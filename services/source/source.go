// Package source defines the uniform adapter contract shared by the bulk,
// scrape and release-database adapters.
package source

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

type Status string

const (
	StatusOK       Status = "ok"
	StatusNotFound Status = "not_found"
	StatusFailed   Status = "failed"
)

// Record is the normalized output of one adapter call. It is never
// persisted as-is.
type Record struct {
	Artist      string     `json:"artist"`
	Title       string     `json:"title"`
	ReleaseDate *time.Time `json:"release_date,omitempty"`
	Genres      []string   `json:"genres"`
	Styles      []string   `json:"styles"`
	Moods       []string   `json:"moods"`
	Themes      []string   `json:"themes"`
	CoverImage  string     `json:"cover_image,omitempty"`
	SourceID    string     `json:"source_id,omitempty"`
	Source      string     `json:"source"`
}

// Result is the tagged outcome of a lookup: exactly one of OK (Record set),
// NotFound or Failed (Reason set).
type Result struct {
	Status Status  `json:"status"`
	Record *Record `json:"record,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

func OK(r *Record) Result {
	return Result{Status: StatusOK, Record: r}
}

func NotFound(reason string) Result {
	return Result{Status: StatusNotFound, Reason: reason}
}

func Failed(err error) Result {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}

	return Result{Status: StatusFailed, Reason: reason}
}

func (r Result) IsOK() bool {
	return r.Status == StatusOK && r.Record != nil
}

type IAdapter interface {
	Name() string
	FetchMetadata(ctx context.Context, artist, title string) Result
}

// ScrapeResult is one item of a scrape batch.
type ScrapeResult struct {
	Success       bool    `json:"success"`
	Data          *Record `json:"data,omitempty"`
	Error         string  `json:"error,omitempty"`
	OriginalInput string  `json:"originalInput"`
}

// FatalSetupError marks a condition (missing credential, unusable config)
// that makes every item of a batch fail; batches abort on it.
type FatalSetupError struct {
	Err error
}

func (e *FatalSetupError) Error() string {
	if e.Err == nil {
		return "fatal setup error"
	}

	return "fatal setup error: " + e.Err.Error()
}

func (e *FatalSetupError) Unwrap() error {
	return e.Err
}

func NewFatalSetupError(err error) error {
	return &FatalSetupError{Err: err}
}

func IsFatalSetup(err error) bool {
	var fe *FatalSetupError
	return errors.As(err, &fe)
}

// Enrichment carries the fields only the release database supplies. Any
// field may be nil; absence is a valid terminal state.
type Enrichment struct {
	MBID          string  `json:"mbid,omitempty"`
	CoverArt      *string `json:"cover_art,omitempty"`
	SpotifyURI    *string `json:"spotify_uri,omitempty"`
	AppleMusicURL *string `json:"apple_music_url,omitempty"`
	Tier          string  `json:"tier,omitempty"`
	LowConfidence bool    `json:"low_confidence,omitempty"`
}
