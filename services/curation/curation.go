// Package curation maintains the editorial flags on albums: the ordered
// top-50 ranking and the A-plus highlight.
package curation

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/backends/db"
	"github.com/dselans/fivehundred/clog"
	"github.com/dselans/fivehundred/services/orchestrator"
	"github.com/dselans/fivehundred/services/publisher"
	"github.com/dselans/fivehundred/services/resolver"
	"github.com/dselans/fivehundred/util"
)

const (
	Top50Batch = "top50"
	APlusBatch = "aplus"

	// Candidate albums considered per title
	SearchLimit = 25
)

var ErrNoTitles = errors.New("no album titles given")

type IEventPublisher interface {
	PublishAlbumEvent(ctx context.Context, eventType string, album *db.Album, fields []string) error
}

type Options struct {
	Store     db.IStore
	Publisher IEventPublisher

	Fs       afero.Fs
	LogDir   string
	Progress *logrus.Logger
	DryRun   bool

	// Overridable in tests
	Now func() time.Time

	Log clog.ICustomLog
}

type Curation struct {
	options *Options
	log     clog.ICustomLog
}

// Selection is the album a title resolved to.
type Selection struct {
	AlbumID           string `json:"album_id"`
	Title             string `json:"title"`
	Artist            string `json:"artist"`
	SearchTerm        string `json:"search_term"`
	ExactMatch        bool   `json:"exact_match"`
	AlternativesFound int    `json:"alternatives_found"`
	Ranking           int    `json:"ranking,omitempty"`
	AlreadyInState    bool   `json:"already_in_state,omitempty"`
}

func New(opts *Options) (*Curation, error) {
	if err := validateOptions(opts); err != nil {
		return nil, errors.Wrap(err, "unable to validate options")
	}

	return &Curation{
		options: opts,
		log:     opts.Log.With(zap.String("pkg", "curation")),
	}, nil
}

func validateOptions(opts *Options) error {
	if opts == nil {
		return errors.New("options cannot be nil")
	}

	if opts.Store == nil {
		return errors.New("store cannot be nil")
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.Log == nil {
		opts.Log = clog.NewNoop()
	}

	return nil
}

// Top50 clears every ranking, then ranks the resolved album for titles[i]
// at i+1. Unresolved titles leave their rank unassigned.
func (c *Curation) Top50(ctx context.Context, titles []string) (*orchestrator.Report, error) {
	logger := c.log.With(zap.String("method", "Top50"))

	if len(titles) == 0 {
		return nil, ErrNoTitles
	}

	if !c.options.DryRun {
		cleared, err := c.options.Store.ClearRankings(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "unable to clear rankings")
		}

		logger.Info("cleared existing rankings", zap.Int64("count", cleared))
	}

	items := make([]*orchestrator.Item, 0, len(titles))
	for i, t := range titles {
		items = append(items, &orchestrator.Item{Input: t, Value: i + 1})
	}

	return c.run(ctx, Top50Batch, items, func(ctx context.Context, item *orchestrator.Item) (*orchestrator.ItemResult, error) {
		rank := item.Value.(int)

		return c.update(ctx, item.Input, func(sel *Selection, album *db.Album) bool {
			sel.Ranking = rank
			album.TopRanking = &rank

			return true
		})
	})
}

// SetAPlus adds (aplus=true) or removes the A-plus flag for each title.
// Albums already in the requested state are reported as up to date.
func (c *Curation) SetAPlus(ctx context.Context, titles []string, aplus bool) (*orchestrator.Report, error) {
	if len(titles) == 0 {
		return nil, ErrNoTitles
	}

	items := make([]*orchestrator.Item, 0, len(titles))
	for _, t := range titles {
		items = append(items, &orchestrator.Item{Input: t})
	}

	name := APlusBatch + "-add"
	if !aplus {
		name = APlusBatch + "-remove"
	}

	return c.run(ctx, name, items, func(ctx context.Context, item *orchestrator.Item) (*orchestrator.ItemResult, error) {
		return c.update(ctx, item.Input, func(sel *Selection, album *db.Album) bool {
			if album.IsAPlus == aplus {
				sel.AlreadyInState = true
				return false
			}

			album.IsAPlus = aplus

			return true
		})
	})
}

// ClearAPlus removes the A-plus flag from every album.
func (c *Curation) ClearAPlus(ctx context.Context) (int, error) {
	albums, err := c.ListAPlus(ctx)
	if err != nil {
		return 0, err
	}

	if c.options.DryRun {
		return len(albums), nil
	}

	err = c.options.Store.WithTx(ctx, func(tx db.IStore) error {
		for _, a := range albums {
			a.IsAPlus = false

			if err := tx.UpdateAlbum(ctx, a); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "unable to clear a-plus flags")
	}

	return len(albums), nil
}

func (c *Curation) ListAPlus(ctx context.Context) ([]*db.Album, error) {
	aplus := true

	albums, err := c.options.Store.FindAlbums(ctx, &db.AlbumFilter{APlus: &aplus})
	if err != nil {
		return nil, errors.Wrap(err, "unable to list a-plus albums")
	}

	return albums, nil
}

// Resolve finds the stored album for a (possibly partial) title: an exact
// title match is preferred, else the first substring match.
func (c *Curation) Resolve(ctx context.Context, title string) (*db.Album, *Selection, error) {
	logger := c.log.With(zap.String("method", "Resolve"), zap.String("title", title))

	albums, err := c.options.Store.FindAlbums(ctx, &db.AlbumFilter{TitleContains: title, PreferTitle: title, Limit: SearchLimit})
	if err != nil {
		return nil, nil, errors.Wrap(err, "unable to search albums")
	}

	candidates := make([]resolver.Candidate, 0, len(albums))
	for _, a := range albums {
		candidates = append(candidates, resolver.Candidate{ID: a.ID, Title: a.Title, Score: resolver.UnknownScore, Payload: a})
	}

	m := resolver.New(resolver.StoreTitlePolicy, logger).Resolve(resolver.Query{Title: title}, candidates)
	if m == nil {
		return nil, nil, nil
	}

	album := m.Candidate.Payload.(*db.Album)

	sel := &Selection{
		AlbumID:           album.ID,
		Title:             album.Title,
		SearchTerm:        title,
		ExactMatch:        strings.EqualFold(strings.TrimSpace(album.Title), strings.TrimSpace(title)),
		AlternativesFound: len(albums) - 1,
	}

	artists, err := c.options.Store.ListAlbumEntities(ctx, db.KindArtist, album.ID)
	if err != nil {
		return nil, nil, err
	}

	sel.Artist = "Unknown Artist"
	if len(artists) > 0 {
		sel.Artist = artists[0].Name
	}

	if m.LowConfidence || len(albums) > 1 {
		logger.Warn("ambiguous title, using best candidate",
			zap.String("selected", album.Title),
			zap.Int("alternatives", sel.AlternativesFound),
			zap.Bool("exact", sel.ExactMatch))
	}

	return album, sel, nil
}

// update resolves title and applies mutate, which reports whether the album
// changed.
func (c *Curation) update(ctx context.Context, title string, mutate func(sel *Selection, album *db.Album) bool) (*orchestrator.ItemResult, error) {
	txn, logger := util.MethodSetup(ctx, c.log, zap.String("method", "update"), zap.String("title", title))

	album, sel, err := c.Resolve(ctx, title)
	if err != nil {
		return nil, err
	}

	if album == nil {
		return &orchestrator.ItemResult{Status: orchestrator.StatusNotFound, Reason: "album not found in database"}, nil
	}

	if !mutate(sel, album) {
		return &orchestrator.ItemResult{Status: orchestrator.StatusSucceeded, Detail: "up_to_date", Data: sel}, nil
	}

	if !c.options.DryRun {
		if err := c.options.Store.UpdateAlbum(ctx, album); err != nil {
			return nil, util.Error(txn, logger, "unable to update album", err)
		}

		if c.options.Publisher != nil {
			if err := c.options.Publisher.PublishAlbumEvent(ctx, publisher.EventAlbumUpdated, album, nil); err != nil {
				logger.Warn("unable to publish album event", zap.Error(err))
			}
		}
	}

	return &orchestrator.ItemResult{Status: orchestrator.StatusSucceeded, Detail: "updated", Data: sel}, nil
}

func (c *Curation) run(ctx context.Context, name string, items []*orchestrator.Item, fn orchestrator.ItemFunc) (*orchestrator.Report, error) {
	o, err := orchestrator.New(&orchestrator.Options{
		Delay:    -1,
		Fs:       c.options.Fs,
		LogDir:   c.options.LogDir,
		Progress: c.options.Progress,
		Now:      c.options.Now,
		Log:      c.options.Log,
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to create orchestrator")
	}

	return o.Run(ctx, name, items, fn)
}
