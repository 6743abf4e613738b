// Package bulk looks albums up in the bulk metadata export.
package bulk

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/clog"
	"github.com/dselans/fivehundred/services/csvstore"
	"github.com/dselans/fivehundred/services/normalize"
	"github.com/dselans/fivehundred/services/source"
)

const SourceName = "bulk"

type Options struct {
	Loader csvstore.ILoader
	Log    clog.ICustomLog
}

type Adapter struct {
	options *Options
	log     clog.ICustomLog
}

func New(opts *Options) (*Adapter, error) {
	if opts == nil || opts.Loader == nil {
		return nil, errors.New("loader cannot be nil")
	}

	if opts.Log == nil {
		opts.Log = clog.NewNoop()
	}

	return &Adapter{
		options: opts,
		log:     opts.Log.With(zap.String("pkg", "bulk")),
	}, nil
}

func (a *Adapter) Name() string {
	return SourceName
}

// FetchMetadata matches on normalized (artist, album) equality first and
// then on containment in either direction for both fields.
func (a *Adapter) FetchMetadata(ctx context.Context, artist, title string) source.Result {
	logger := a.log.With(zap.String("method", "FetchMetadata"), zap.String("artist", artist), zap.String("title", title))

	rows := a.options.Loader.Load(ctx)
	if len(rows) == 0 {
		return source.NotFound("bulk metadata unavailable")
	}

	row := Find(rows, artist, title)
	if row == nil {
		logger.Debug("no bulk metadata match")
		return source.NotFound("no bulk metadata match")
	}

	logger.Debug("bulk metadata match", zap.String("matchArtist", row.Artist), zap.String("matchAlbum", row.Album))

	return source.OK(ToRecord(row))
}

func Find(rows []*csvstore.Row, artist, title string) *csvstore.Row {
	na := normalize.NormalizeForComparison(artist)
	nt := normalize.NormalizeForComparison(title)

	for _, r := range rows {
		if normalize.NormalizeForComparison(r.Artist) == na && normalize.NormalizeForComparison(r.Album) == nt {
			return r
		}
	}

	for _, r := range rows {
		if normalize.ContainsEither(r.Artist, artist) && normalize.ContainsEither(r.Album, title) {
			return r
		}
	}

	return nil
}

func ToRecord(row *csvstore.Row) *source.Record {
	return &source.Record{
		Artist:      normalize.DecodeEntities(row.Artist),
		Title:       normalize.DecodeEntities(row.Album),
		ReleaseDate: ParseReleaseDate(row.PublishedDate),
		Genres:      normalize.SplitList(row.Genre),
		Styles:      normalize.SplitList(row.Styles),
		Moods:       normalize.SplitList(row.Moods),
		Themes:      normalize.SplitList(row.Themes),
		SourceID:    row.AMGID,
		Source:      SourceName,
	}
}
