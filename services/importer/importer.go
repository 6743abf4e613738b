// Package importer runs the per-album pipeline: text lookup, release
// database enrichment, merge and transactional persistence.
package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/backends/db"
	"github.com/dselans/fivehundred/clog"
	"github.com/dselans/fivehundred/services/merge"
	"github.com/dselans/fivehundred/services/musicbrainz"
	"github.com/dselans/fivehundred/services/normalize"
	"github.com/dselans/fivehundred/services/publisher"
	"github.com/dselans/fivehundred/services/resolver"
	"github.com/dselans/fivehundred/services/source"
	"github.com/dselans/fivehundred/services/upsert"
	"github.com/dselans/fivehundred/util"
)

type Status string

const (
	StatusCreated  Status = "created"
	StatusUpdated  Status = "updated"
	StatusUpToDate Status = "up_to_date"
	StatusNotFound Status = "not_found"
	StatusFailed   Status = "failed"
)

// existing-album candidates considered for a title/artist substring search
const storeSearchLimit = 10

var ErrNoArtist = errors.New("album has no artist")

// Input is either an (artist, title) pair or a raw query (album id, album
// path or free text) resolved by the query adapter.
type Input struct {
	Query  string `json:"query,omitempty"`
	Artist string `json:"artist,omitempty"`
	Title  string `json:"title,omitempty"`
}

func (in Input) String() string {
	if in.Artist != "" || in.Title != "" {
		return fmt.Sprintf("%s - %s", in.Artist, in.Title)
	}

	return in.Query
}

type Outcome struct {
	Input           Input    `json:"input"`
	Status          Status   `json:"status"`
	AlbumID         string   `json:"album_id,omitempty"`
	Slug            string   `json:"slug,omitempty"`
	Artist          string   `json:"artist,omitempty"`
	Title           string   `json:"title,omitempty"`
	TextSource      string   `json:"text_source,omitempty"`
	FieldsUpdated   []string `json:"fields_updated,omitempty"`
	LinksAdded      int      `json:"links_added,omitempty"`
	EntitiesCreated int      `json:"entities_created,omitempty"`
	LowConfidence   bool     `json:"low_confidence,omitempty"`
	DryRun          bool     `json:"dry_run,omitempty"`
	Reason          string   `json:"reason,omitempty"`
}

// IQueryAdapter resolves raw query inputs.
type IQueryAdapter interface {
	FetchQuery(ctx context.Context, query string) source.Result
}

// IEnricher is the release-database lookup.
type IEnricher interface {
	Lookup(ctx context.Context, artist, title string) *musicbrainz.LookupResult
}

type IEventPublisher interface {
	PublishAlbumEvent(ctx context.Context, eventType string, album *db.Album, fields []string) error
}

type Options struct {
	Store  db.IStore
	Upsert *upsert.Engine

	// Text sources; at least one is required
	Bulk   source.IAdapter
	Scrape source.IAdapter
	Query  IQueryAdapter

	// Optional enrichment
	ReleaseDB IEnricher
	Streaming merge.IStreamingFinder

	Publisher IEventPublisher

	DryRun bool

	Log clog.ICustomLog
}

type Importer struct {
	options *Options
	upsert  *upsert.Engine
	log     clog.ICustomLog
}

func New(opts *Options) (*Importer, error) {
	if err := validateOptions(opts); err != nil {
		return nil, errors.Wrap(err, "unable to validate options")
	}

	engine := opts.Upsert
	if engine == nil {
		var err error

		engine, err = upsert.New(&upsert.Options{Store: opts.Store, Log: opts.Log})
		if err != nil {
			return nil, errors.Wrap(err, "unable to create upsert engine")
		}
	}

	return &Importer{
		options: opts,
		upsert:  engine,
		log:     opts.Log.With(zap.String("pkg", "importer")),
	}, nil
}

func validateOptions(opts *Options) error {
	if opts == nil {
		return errors.New("options cannot be nil")
	}

	if opts.Store == nil {
		return errors.New("store cannot be nil")
	}

	if opts.Bulk == nil && opts.Scrape == nil && opts.Query == nil {
		return errors.New("at least one text source must be configured")
	}

	if opts.Log == nil {
		opts.Log = clog.NewNoop()
	}

	return nil
}

// Process runs one input through the pipeline. Expected outcomes, including
// per-item failures, are reported in the Outcome; the error return is
// reserved for fatal setup problems.
func (i *Importer) Process(ctx context.Context, in Input) (*Outcome, error) {
	txn, logger := util.MethodSetup(ctx, i.log, zap.String("method", "Process"), zap.String("input", in.String()))

	out := &Outcome{Input: in, DryRun: i.options.DryRun}

	text, err := i.lookupText(ctx, in)
	if err != nil {
		return nil, err
	}

	switch text.Status {
	case source.StatusOK:
	case source.StatusNotFound:
		out.Status = StatusNotFound
		out.Reason = text.Reason
		logger.Debug("no text metadata found", zap.String("reason", text.Reason))

		return out, nil
	default:
		out.Status = StatusFailed
		out.Reason = text.Reason
		logger.Warn("text lookup failed", zap.String("reason", text.Reason))

		return out, nil
	}

	artist := firstNonEmpty(strings.TrimSpace(text.Record.Artist), strings.TrimSpace(in.Artist))
	title := firstNonEmpty(strings.TrimSpace(text.Record.Title), strings.TrimSpace(in.Title))

	out.Artist = normalize.DecodeEntities(artist)
	out.Title = normalize.DecodeEntities(title)
	out.TextSource = text.Record.Source

	existing, lowConfidence, err := i.findExisting(ctx, out.Artist, out.Title)
	if err != nil {
		return i.fail(out, util.Error(txn, logger, "unable to look up existing album", err)), nil
	}

	out.LowConfidence = lowConfidence

	enrichment := i.enrich(ctx, existing, out.Artist, out.Title)

	md := merge.Build(text.Record, enrichment)
	md.Artist = out.Artist
	md.Title = out.Title

	if existing == nil {
		return i.create(ctx, out, md)
	}

	return i.update(ctx, out, existing, md)
}

// lookupText consults bulk first, falling back to scrape when bulk has no
// match. Raw queries go straight to the query adapter.
func (i *Importer) lookupText(ctx context.Context, in Input) (source.Result, error) {
	if strings.TrimSpace(in.Artist) == "" && strings.TrimSpace(in.Title) == "" {
		if strings.TrimSpace(in.Query) == "" {
			return source.Failed(errors.New("empty input")), nil
		}

		if i.options.Query == nil {
			return source.Result{}, source.NewFatalSetupError(errors.New("no query adapter configured"))
		}

		return i.options.Query.FetchQuery(ctx, in.Query), nil
	}

	bulk := source.NotFound("bulk adapter disabled")
	if i.options.Bulk != nil {
		bulk = i.options.Bulk.FetchMetadata(ctx, in.Artist, in.Title)
	}

	if bulk.IsOK() || i.options.Scrape == nil {
		return bulk, nil
	}

	scrape := i.options.Scrape.FetchMetadata(ctx, in.Artist, in.Title)

	return merge.SelectText(bulk, scrape), nil
}

// findExisting looks up the album by slug, then by title and artist
// substring resolved with the store-title policy.
func (i *Importer) findExisting(ctx context.Context, artist, title string) (*db.Album, bool, error) {
	logger := i.log.With(zap.String("method", "findExisting"))

	album, err := i.options.Store.GetAlbumBySlug(ctx, normalize.AlbumSlug(artist, title))
	if err == nil {
		return album, false, nil
	}

	if !errors.Is(err, db.ErrNotFound) {
		return nil, false, err
	}

	albums, err := i.options.Store.FindAlbums(ctx, &db.AlbumFilter{
		TitleContains:  title,
		ArtistContains: artist,
		PreferTitle:    title,
		Limit:          storeSearchLimit,
	})
	if err != nil {
		return nil, false, err
	}

	candidates := make([]resolver.Candidate, 0, len(albums))
	for _, a := range albums {
		candidates = append(candidates, resolver.Candidate{ID: a.ID, Title: a.Title, Score: resolver.UnknownScore, Payload: a})
	}

	m := resolver.New(resolver.StoreTitlePolicy, logger).Resolve(resolver.Query{Title: title}, candidates)
	if m == nil {
		return nil, false, nil
	}

	return m.Candidate.Payload.(*db.Album), m.LowConfidence, nil
}

// enrich skips the release database when the album already has both cover
// art and a Spotify URI. Lookup failures only mean no enrichment.
func (i *Importer) enrich(ctx context.Context, existing *db.Album, artist, title string) *source.Enrichment {
	logger := i.log.With(zap.String("method", "enrich"), zap.String("artist", artist), zap.String("title", title))

	if i.options.ReleaseDB == nil {
		return nil
	}

	if existing != nil && existing.HasCoverArt() && existing.HasSpotifyURI() {
		logger.Debug("album already enriched, skipping release database")
		return nil
	}

	res := i.options.ReleaseDB.Lookup(ctx, artist, title)
	if !res.IsOK() {
		logger.Debug("no release database enrichment", zap.String("status", string(res.Status)), zap.String("reason", res.Reason))
		return nil
	}

	return res.Enrichment
}

func (i *Importer) create(ctx context.Context, out *Outcome, md *merge.Metadata) (*Outcome, error) {
	txn, logger := util.MethodSetup(ctx, i.log, zap.String("method", "create"), zap.String("input", out.Input.String()))

	if strings.TrimSpace(md.Artist) == "" {
		return i.fail(out, ErrNoArtist), nil
	}

	album := merge.NewAlbum(md)

	if !i.options.DryRun {
		merge.PrepareForCreate(ctx, album, md.Artist, i.options.Streaming, logger)
	} else {
		merge.PrepareForCreate(ctx, album, md.Artist, nil, logger)
	}

	out.Slug = album.Slug
	out.Title = album.Title
	out.FieldsUpdated = populatedFields(album)

	if i.options.DryRun {
		out.Status = StatusCreated
		return out, nil
	}

	err := i.options.Store.WithTx(ctx, func(tx db.IStore) error {
		engine := i.upsert.With(tx)

		artist, created, err := engine.FindOrCreate(ctx, db.KindArtist, md.Artist)
		if err != nil {
			return errors.Wrap(err, "unable to resolve artist")
		}

		if created {
			out.EntitiesCreated++
		}

		if err := tx.CreateAlbum(ctx, album); err != nil {
			return err
		}

		if err := tx.Connect(ctx, db.KindArtist, album.ID, artist.ID); err != nil {
			return err
		}

		out.LinksAdded++

		added, createdCount, err := i.link(ctx, tx, engine, album.ID, md)
		if err != nil {
			return err
		}

		out.LinksAdded += added
		out.EntitiesCreated += createdCount

		return nil
	})
	if err != nil {
		return i.fail(out, util.Error(txn, logger, "unable to persist new album", err)), nil
	}

	out.Status = StatusCreated
	out.AlbumID = album.ID

	logger.Info("created album", zap.String("slug", album.Slug), zap.Int("entitiesCreated", out.EntitiesCreated))

	i.publish(ctx, publisher.EventAlbumCreated, album, out.FieldsUpdated)

	return out, nil
}

func (i *Importer) update(ctx context.Context, out *Outcome, existing *db.Album, md *merge.Metadata) (*Outcome, error) {
	txn, logger := util.MethodSetup(ctx, i.log, zap.String("method", "update"), zap.String("input", out.Input.String()))

	out.AlbumID = existing.ID
	out.Slug = existing.Slug
	out.Title = existing.Title

	if i.options.DryRun {
		preview := *existing
		out.FieldsUpdated = merge.Apply(&preview, md, merge.ApplyOptions{})
		out.Status = statusFor(out)

		return out, nil
	}

	var changed []string

	err := i.options.Store.WithTx(ctx, func(tx db.IStore) error {
		engine := i.upsert.With(tx)

		album, err := tx.GetAlbumByID(ctx, existing.ID)
		if err != nil {
			return err
		}

		changed = merge.Apply(album, md, merge.ApplyOptions{})

		if len(changed) > 0 {
			if err := tx.UpdateAlbum(ctx, album); err != nil {
				return err
			}
		}

		added, createdCount, err := i.linkArtist(ctx, tx, engine, album.ID, md.Artist)
		if err != nil {
			return err
		}

		out.LinksAdded += added
		out.EntitiesCreated += createdCount

		added, createdCount, err = i.link(ctx, tx, engine, album.ID, md)
		if err != nil {
			return err
		}

		out.LinksAdded += added
		out.EntitiesCreated += createdCount

		*existing = *album

		return nil
	})
	if err != nil {
		return i.fail(out, util.Error(txn, logger, "unable to update album", err)), nil
	}

	out.FieldsUpdated = changed
	out.Status = statusFor(out)

	if out.Status == StatusUpdated {
		logger.Info("updated album", zap.Strings("fields", changed), zap.Int("linksAdded", out.LinksAdded))
		i.publish(ctx, publisher.EventAlbumUpdated, existing, changed)
	}

	return out, nil
}

// linkArtist ensures the album is linked to its artist. An album already
// linked to an artist whose name contains (or is contained in) name keeps
// its links; differently spelled sources never add a second artist.
func (i *Importer) linkArtist(ctx context.Context, tx db.IStore, engine *upsert.Engine, albumID, name string) (int, int, error) {
	if strings.TrimSpace(name) == "" {
		return 0, 0, nil
	}

	current, err := tx.ListAlbumEntities(ctx, db.KindArtist, albumID)
	if err != nil {
		return 0, 0, err
	}

	for _, e := range current {
		if normalize.ContainsEither(e.Name, name) {
			return 0, 0, nil
		}
	}

	artist, created, err := engine.FindOrCreate(ctx, db.KindArtist, name)
	if err != nil {
		return 0, 0, errors.Wrap(err, "unable to resolve artist")
	}

	createdCount := 0
	if created {
		createdCount = 1
	}

	for _, e := range current {
		if e.ID == artist.ID {
			return 0, createdCount, nil
		}
	}

	if err := tx.Connect(ctx, db.KindArtist, albumID, artist.ID); err != nil {
		return 0, createdCount, err
	}

	return 1, createdCount, nil
}

// link connects genres and descriptors not already linked to the album and
// returns (links added, entities created).
func (i *Importer) link(ctx context.Context, tx db.IStore, engine *upsert.Engine, albumID string, md *merge.Metadata) (int, int, error) {
	added, created := 0, 0

	for _, group := range []struct {
		kind  db.Kind
		names []string
	}{
		{db.KindGenre, md.Genres},
		{db.KindDescriptor, md.Descriptors},
	} {
		if len(group.names) == 0 {
			continue
		}

		linked, err := linkedIDs(ctx, tx, group.kind, albumID)
		if err != nil {
			return added, created, err
		}

		entities, n := engine.FindOrCreateAll(ctx, group.kind, group.names)
		created += n

		for _, e := range entities {
			if linked[e.ID] {
				continue
			}

			if err := tx.Connect(ctx, group.kind, albumID, e.ID); err != nil {
				return added, created, err
			}

			linked[e.ID] = true
			added++
		}
	}

	return added, created, nil
}

func (i *Importer) publish(ctx context.Context, eventType string, album *db.Album, fields []string) {
	if i.options.Publisher == nil {
		return
	}

	if err := i.options.Publisher.PublishAlbumEvent(ctx, eventType, album, fields); err != nil {
		i.log.Warn("unable to publish album event", zap.String("type", eventType), zap.String("albumID", album.ID), zap.Error(err))
	}
}

func (i *Importer) fail(out *Outcome, err error) *Outcome {
	out.Status = StatusFailed
	out.Reason = err.Error()

	return out
}

func linkedIDs(ctx context.Context, tx db.IStore, kind db.Kind, albumID string) (map[string]bool, error) {
	entities, err := tx.ListAlbumEntities(ctx, kind, albumID)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]bool, len(entities))
	for _, e := range entities {
		ids[e.ID] = true
	}

	return ids, nil
}

func statusFor(out *Outcome) Status {
	if len(out.FieldsUpdated) > 0 || out.LinksAdded > 0 {
		return StatusUpdated
	}

	return StatusUpToDate
}

func populatedFields(a *db.Album) []string {
	fields := []string{merge.FieldTitle}

	if !a.ReleaseDate.Equal(db.DefaultReleaseDate) {
		fields = append(fields, merge.FieldReleaseDate)
	}

	if a.HasCoverArt() {
		fields = append(fields, merge.FieldCoverArt)
	}

	if a.HasSpotifyURI() {
		fields = append(fields, merge.FieldSpotifyURI)
	}

	if a.AppleMusicURL != nil {
		fields = append(fields, merge.FieldAppleMusicURL)
	}

	if a.AllMusicID != nil {
		fields = append(fields, merge.FieldAllMusicID)
	}

	return fields
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
