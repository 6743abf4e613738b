// Package backfill fills in cover art and streaming links for albums
// persisted without them, and reports streaming coverage.
package backfill

import (
	"context"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/backends/db"
	"github.com/dselans/fivehundred/clog"
	"github.com/dselans/fivehundred/services/merge"
	"github.com/dselans/fivehundred/services/musicbrainz"
	"github.com/dselans/fivehundred/services/orchestrator"
	"github.com/dselans/fivehundred/services/publisher"
	"github.com/dselans/fivehundred/services/source"
	"github.com/dselans/fivehundred/util"
)

const (
	CoversBatch   = "missing-cover-art"
	SpotifyBatch  = "spotify-uri"
	AppleBatch    = "apple-music-url"
	CoverageBatch = "albums-missing-spotify-uri"

	CoverDelay   = time.Second
	SpotifyDelay = 100 * time.Millisecond
	AppleDelay   = 100 * time.Millisecond
)

var ErrNoArtist = errors.New("no artists found")

type IEnricher interface {
	Lookup(ctx context.Context, artist, title string) *musicbrainz.LookupResult
}

type IEventPublisher interface {
	PublishAlbumEvent(ctx context.Context, eventType string, album *db.Album, fields []string) error
}

type Options struct {
	Store     db.IStore
	ReleaseDB IEnricher
	Streaming merge.IStreamingFinder

	// Returns an Apple Music album URL
	AppleMusic merge.IStreamingFinder

	Publisher IEventPublisher

	Fs       afero.Fs
	LogDir   string
	RunState orchestrator.IRunState
	Progress *logrus.Logger
	DryRun   bool

	// Overridable in tests
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time

	Log clog.ICustomLog
}

type Backfill struct {
	options *Options
	log     clog.ICustomLog
}

type target struct {
	album  *db.Album
	artist string
}

func New(opts *Options) (*Backfill, error) {
	if err := validateOptions(opts); err != nil {
		return nil, errors.Wrap(err, "unable to validate options")
	}

	return &Backfill{
		options: opts,
		log:     opts.Log.With(zap.String("pkg", "backfill")),
	}, nil
}

func validateOptions(opts *Options) error {
	if opts == nil {
		return errors.New("options cannot be nil")
	}

	if opts.Store == nil {
		return errors.New("store cannot be nil")
	}

	if opts.LogDir != "" && opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
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

// Covers looks up cover art for every album with null, empty or placeholder
// cover art.
func (b *Backfill) Covers(ctx context.Context) (*orchestrator.Report, error) {
	if b.options.ReleaseDB == nil {
		return nil, source.NewFatalSetupError(errors.New("release database is not configured"))
	}

	items, err := b.targets(ctx, &db.AlbumFilter{MissingCoverArt: true})
	if err != nil {
		return nil, err
	}

	return b.run(ctx, CoversBatch, CoverDelay, items, b.coverItem)
}

// SpotifyURIs searches Spotify with the first credited artist for every
// album without a URI. Albums without artists are skipped.
func (b *Backfill) SpotifyURIs(ctx context.Context) (*orchestrator.Report, error) {
	if b.options.Streaming == nil {
		return nil, source.NewFatalSetupError(errors.New("streaming search is not configured"))
	}

	items, err := b.targets(ctx, &db.AlbumFilter{MissingSpotifyURI: true})
	if err != nil {
		return nil, err
	}

	return b.run(ctx, SpotifyBatch, SpotifyDelay, items, b.spotifyItem)
}

// AppleMusicURLs is SpotifyURIs for Apple Music catalog URLs.
func (b *Backfill) AppleMusicURLs(ctx context.Context) (*orchestrator.Report, error) {
	if b.options.AppleMusic == nil {
		return nil, source.NewFatalSetupError(errors.New("apple music search is not configured"))
	}

	items, err := b.targets(ctx, &db.AlbumFilter{MissingAppleMusicURL: true})
	if err != nil {
		return nil, err
	}

	return b.run(ctx, AppleBatch, AppleDelay, items, b.appleItem)
}

func (b *Backfill) run(ctx context.Context, name string, delay time.Duration, items []*orchestrator.Item, fn orchestrator.ItemFunc) (*orchestrator.Report, error) {
	o, err := orchestrator.New(&orchestrator.Options{
		Delay:    delay,
		Fs:       b.options.Fs,
		LogDir:   b.options.LogDir,
		RunState: b.options.RunState,
		Progress: b.options.Progress,
		Sleep:    b.options.Sleep,
		Now:      b.options.Now,
		Log:      b.options.Log,
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to create orchestrator")
	}

	return o.Run(ctx, name, items, fn)
}

func (b *Backfill) targets(ctx context.Context, filter *db.AlbumFilter) ([]*orchestrator.Item, error) {
	albums, err := b.options.Store.FindAlbums(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "unable to list albums")
	}

	b.log.Info("found albums to backfill", zap.Int("count", len(albums)))

	items := make([]*orchestrator.Item, 0, len(albums))

	for _, a := range albums {
		artists, err := b.options.Store.ListAlbumEntities(ctx, db.KindArtist, a.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to list artists for '%s'", a.Slug)
		}

		t := &target{album: a}
		input := a.Title

		if len(artists) > 0 {
			t.artist = artists[0].Name
			input = t.artist + " - " + a.Title
		}

		items = append(items, &orchestrator.Item{Input: input, Value: t})
	}

	return items, nil
}

func (b *Backfill) coverItem(ctx context.Context, item *orchestrator.Item) (*orchestrator.ItemResult, error) {
	t := item.Value.(*target)

	if t.artist == "" {
		return &orchestrator.ItemResult{Status: orchestrator.StatusSkipped, Reason: ErrNoArtist.Error()}, nil
	}

	res := b.options.ReleaseDB.Lookup(ctx, t.artist, t.album.Title)

	switch {
	case res.IsOK() && res.Enrichment.CoverArt != nil:
	case res.IsOK():
		return &orchestrator.ItemResult{Status: orchestrator.StatusNotFound, Reason: "no cover art found"}, nil
	case res.Status == source.StatusNotFound:
		return &orchestrator.ItemResult{Status: orchestrator.StatusNotFound, Reason: "no release group found"}, nil
	default:
		return &orchestrator.ItemResult{Status: orchestrator.StatusFailed, Reason: "release group lookup error: " + res.Reason}, nil
	}

	return b.apply(ctx, t.album, &merge.Metadata{CoverArt: res.Enrichment.CoverArt}, merge.FieldCoverArt)
}

func (b *Backfill) spotifyItem(ctx context.Context, item *orchestrator.Item) (*orchestrator.ItemResult, error) {
	t := item.Value.(*target)

	if t.artist == "" {
		return &orchestrator.ItemResult{Status: orchestrator.StatusSkipped, Reason: ErrNoArtist.Error()}, nil
	}

	uri, err := b.options.Streaming.FindAlbum(ctx, t.artist, t.album.Title)
	if err != nil {
		return nil, err
	}

	if uri == "" {
		return &orchestrator.ItemResult{Status: orchestrator.StatusNotFound, Reason: "no spotify match found"}, nil
	}

	return b.apply(ctx, t.album, &merge.Metadata{SpotifyURI: &uri}, merge.FieldSpotifyURI)
}

func (b *Backfill) appleItem(ctx context.Context, item *orchestrator.Item) (*orchestrator.ItemResult, error) {
	t := item.Value.(*target)

	if t.artist == "" {
		return &orchestrator.ItemResult{Status: orchestrator.StatusSkipped, Reason: ErrNoArtist.Error()}, nil
	}

	url, err := b.options.AppleMusic.FindAlbum(ctx, t.artist, t.album.Title)
	if err != nil {
		return nil, err
	}

	if url == "" {
		return &orchestrator.ItemResult{Status: orchestrator.StatusNotFound, Reason: "no apple music match found"}, nil
	}

	return b.apply(ctx, t.album, &merge.Metadata{AppleMusicURL: &url}, merge.FieldAppleMusicURL)
}

func (b *Backfill) apply(ctx context.Context, album *db.Album, md *merge.Metadata, field string) (*orchestrator.ItemResult, error) {
	txn, logger := util.MethodSetup(ctx, b.log, zap.String("method", "apply"), zap.String("slug", album.Slug))

	changed := merge.Apply(album, md, merge.ApplyOptions{Only: []string{field}})
	if len(changed) == 0 {
		return &orchestrator.ItemResult{Status: orchestrator.StatusSucceeded, Detail: "up_to_date"}, nil
	}

	if !b.options.DryRun {
		if err := b.options.Store.UpdateAlbum(ctx, album); err != nil {
			return nil, util.Error(txn, logger, "unable to update album", err)
		}

		if b.options.Publisher != nil {
			if err := b.options.Publisher.PublishAlbumEvent(ctx, publisher.EventAlbumUpdated, album, changed); err != nil {
				logger.Warn("unable to publish album event", zap.Error(err))
			}
		}
	}

	return &orchestrator.ItemResult{Status: orchestrator.StatusSucceeded, Detail: "updated", Data: map[string]interface{}{
		"id":     album.ID,
		"slug":   album.Slug,
		field:    fieldValue(album, field),
		"dryRun": b.options.DryRun,
	}}, nil
}

func fieldValue(album *db.Album, field string) string {
	switch field {
	case merge.FieldCoverArt:
		if album.CoverArt != nil {
			return *album.CoverArt
		}
	case merge.FieldSpotifyURI:
		if album.SpotifyURI != nil {
			return *album.SpotifyURI
		}
	case merge.FieldAppleMusicURL:
		if album.AppleMusicURL != nil {
			return *album.AppleMusicURL
		}
	}

	return ""
}

type MissingAlbum struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Slug  string `json:"slug"`
}

type CoverageReport struct {
	Total       int             `json:"total"`
	WithSpotify int             `json:"with_spotify"`
	Coverage    float64         `json:"coverage"`
	Missing     []*MissingAlbum `json:"missing"`
	LogFile     string          `json:"log_file,omitempty"`
}

// SpotifyCoverage counts albums with a Spotify URI and writes the albums
// still missing one to the log dir.
func (b *Backfill) SpotifyCoverage(ctx context.Context) (*CoverageReport, error) {
	total, err := b.options.Store.CountAlbums(ctx, nil)
	if err != nil {
		return nil, err
	}

	missing, err := b.options.Store.FindAlbums(ctx, &db.AlbumFilter{MissingSpotifyURI: true})
	if err != nil {
		return nil, err
	}

	report := &CoverageReport{
		Total:       total,
		WithSpotify: total - len(missing),
		Missing:     make([]*MissingAlbum, 0, len(missing)),
	}

	if total > 0 {
		report.Coverage = float64(report.WithSpotify) / float64(total) * 100
	}

	for _, a := range missing {
		report.Missing = append(report.Missing, &MissingAlbum{ID: a.ID, Title: a.Title, Slug: a.Slug})
	}

	if b.options.LogDir != "" && len(report.Missing) > 0 {
		path, err := b.writeMissing(report.Missing)
		if err != nil {
			return nil, err
		}

		report.LogFile = path
	}

	if b.options.Progress != nil {
		b.options.Progress.Infof("Total albums: %d", report.Total)
		b.options.Progress.Infof("Albums with Spotify URIs: %d", report.WithSpotify)
		b.options.Progress.Infof("Coverage: %.1f%%", report.Coverage)
	}

	return report, nil
}

func (b *Backfill) writeMissing(missing []*MissingAlbum) (string, error) {
	if err := b.options.Fs.MkdirAll(b.options.LogDir, 0o755); err != nil {
		return "", errors.Wrap(err, "unable to create log dir")
	}

	data, err := json.MarshalIndent(missing, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "unable to encode missing albums")
	}

	path := filepath.Join(b.options.LogDir, CoverageBatch+"-"+orchestrator.LogTimestamp(b.options.Now())+".json")

	if err := afero.WriteFile(b.options.Fs, path, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "unable to write %s", path)
	}

	return path, nil
}
