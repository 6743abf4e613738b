// Package csvstore loads the bulk metadata export: an 8 column CSV of
// (published date, AMG id, artist, album, genre, styles, moods, themes).
package csvstore

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/backends/cache"
	"github.com/dselans/fivehundred/clog"
)

const NumFields = 8

type Row struct {
	PublishedDate string `json:"published_date"`
	AMGID         string `json:"amg_id"`
	Artist        string `json:"artist"`
	Album         string `json:"album"`
	Genre         string `json:"genre"`
	Styles        string `json:"styles"`
	Moods         string `json:"moods"`
	Themes        string `json:"themes"`
}

type ILoader interface {
	Load(ctx context.Context) []*Row
	Invalidate()
}

type Options struct {
	Path  string
	Fs    afero.Fs
	Cache cache.ICache
	Log   clog.ICustomLog
}

type Store struct {
	options *Options
	log     clog.ICustomLog
}

func New(opts *Options) (*Store, error) {
	if err := validateOptions(opts); err != nil {
		return nil, errors.Wrap(err, "unable to validate options")
	}

	return &Store{
		options: opts,
		log:     opts.Log.With(zap.String("pkg", "csvstore"), zap.String("path", opts.Path)),
	}, nil
}

func validateOptions(opts *Options) error {
	if opts == nil {
		return errors.New("options cannot be nil")
	}

	if opts.Path == "" {
		return errors.New("path cannot be empty")
	}

	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}

	if opts.Cache == nil {
		return errors.New("cache cannot be nil")
	}

	if opts.Log == nil {
		opts.Log = clog.NewNoop()
	}

	return nil
}

// Load returns the parsed rows, reading the file only on the first call
// after construction or Invalidate. A read failure yields an empty result
// that is not memoized.
func (s *Store) Load(ctx context.Context) []*Row {
	logger := s.log.With(zap.String("method", "Load"))

	if v, ok := s.options.Cache.Get(s.cacheKey()); ok {
		if rows, ok := v.([]*Row); ok {
			return rows
		}
	}

	data, err := afero.ReadFile(s.options.Fs, s.options.Path)
	if err != nil {
		logger.Error("unable to read bulk metadata file", zap.Error(err))
		return []*Row{}
	}

	rows, err := Parse(data)
	if err != nil {
		logger.Error("unable to parse bulk metadata file", zap.Error(err))
		return []*Row{}
	}

	logger.Debug("loaded bulk metadata", zap.Int("rows", len(rows)))

	s.options.Cache.Set(s.cacheKey(), rows)

	return rows
}

func (s *Store) Invalidate() {
	s.options.Cache.Remove(s.cacheKey())
}

func (s *Store) cacheKey() string {
	return cache.Key(cache.CSVPrefix, s.options.Path)
}

// Parse decodes a whole export. The header row is skipped, malformed rows
// are dropped and rows with neither artist nor album are ignored.
func Parse(data []byte) ([]*Row, error) {
	r := newReader(bytes.NewReader(data))
	rows := make([]*Row, 0)
	header := true

	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				continue
			}

			return nil, errors.Wrap(err, "unable to read csv")
		}

		if header {
			header = false
			continue
		}

		row := toRow(pad(fields))

		if row.Artist == "" && row.Album == "" {
			continue
		}

		rows = append(rows, row)
	}

	return rows, nil
}

// ParseLine splits a single CSV line into exactly NumFields trimmed values.
// Quoted fields may contain commas and "" escapes.
func ParseLine(line string) ([]string, error) {
	fields, err := newReader(strings.NewReader(line)).Read()
	if err == io.EOF {
		return pad(nil), nil
	}

	if err != nil {
		return nil, errors.Wrap(err, "unable to parse line")
	}

	return pad(fields), nil
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	return cr
}

func pad(fields []string) []string {
	out := make([]string, NumFields)

	for i := 0; i < NumFields && i < len(fields); i++ {
		out[i] = strings.TrimSpace(fields[i])
	}

	return out
}

func toRow(f []string) *Row {
	return &Row{
		PublishedDate: f[0],
		AMGID:         f[1],
		Artist:        f[2],
		Album:         f[3],
		Genre:         f[4],
		Styles:        f[5],
		Moods:         f[6],
		Themes:        f[7],
	}
}
