// Package upsert finds-or-creates artists, genres and descriptors and
// repairs legacy duplicates that were stored under an entity-encoded name.
package upsert

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/backends/db"
	"github.com/dselans/fivehundred/clog"
	"github.com/dselans/fivehundred/services/normalize"
)

type Options struct {
	Store db.IStore
	Log   clog.ICustomLog
}

type Engine struct {
	store db.IStore
	log   clog.ICustomLog
}

func New(opts *Options) (*Engine, error) {
	if err := validateOptions(opts); err != nil {
		return nil, errors.Wrap(err, "unable to validate options")
	}

	return &Engine{
		store: opts.Store,
		log:   opts.Log.With(zap.String("pkg", "upsert")),
	}, nil
}

func validateOptions(opts *Options) error {
	if opts == nil {
		return errors.New("options cannot be nil")
	}

	if opts.Store == nil {
		return errors.New("store cannot be nil")
	}

	if opts.Log == nil {
		opts.Log = clog.NewNoop()
	}

	return nil
}

// With returns an engine bound to store (typically a transaction).
func (e *Engine) With(store db.IStore) *Engine {
	return &Engine{store: store, log: e.log}
}

// FindOrCreate returns the entity whose slug matches name, creating it when
// absent. A uniqueness conflict on create (a concurrent or interrupted
// writer) is resolved by re-fetching by slug, then by name.
func (e *Engine) FindOrCreate(ctx context.Context, kind db.Kind, name string) (*db.Entity, bool, error) {
	logger := e.log.With(zap.String("method", "FindOrCreate"), zap.String("kind", string(kind)))

	name = CleanName(name)
	if name == "" {
		return nil, false, errors.Errorf("%s name cannot be empty", kind)
	}

	slug := normalize.Slugify(name)
	if slug == "" {
		return nil, false, errors.Errorf("%s name '%s' has no slug characters", kind, name)
	}

	existing, err := e.store.GetEntityBySlug(ctx, kind, slug)
	if err == nil {
		return existing, false, nil
	}

	if !errors.Is(err, db.ErrNotFound) {
		return nil, false, errors.Wrapf(err, "unable to look up %s '%s'", kind, name)
	}

	entity := &db.Entity{Name: name, Slug: slug}

	err = e.store.CreateEntity(ctx, kind, entity)
	if err == nil {
		logger.Debug("created entity", zap.String("name", name), zap.String("slug", slug))
		return entity, true, nil
	}

	if !errors.Is(err, db.ErrConflict) {
		return nil, false, err
	}

	logger.Debug("entity create conflicted, re-fetching", zap.String("name", name))

	if existing, ferr := e.store.GetEntityBySlug(ctx, kind, slug); ferr == nil {
		return existing, false, nil
	}

	if existing, ferr := e.store.GetEntityByName(ctx, kind, name); ferr == nil {
		return existing, false, nil
	}

	return nil, false, err
}

// FindOrCreateAll resolves names in order, skipping duplicates by id and
// logging (not failing on) individual names that cannot be resolved.
func (e *Engine) FindOrCreateAll(ctx context.Context, kind db.Kind, names []string) ([]*db.Entity, int) {
	logger := e.log.With(zap.String("method", "FindOrCreateAll"), zap.String("kind", string(kind)))

	out := make([]*db.Entity, 0, len(names))
	seen := make(map[string]bool)
	created := 0

	for _, name := range names {
		entity, isNew, err := e.FindOrCreate(ctx, kind, name)
		if err != nil {
			logger.Warn("unable to resolve entity, skipping", zap.String("name", name), zap.Error(err))
			continue
		}

		if isNew {
			created++
		}

		if seen[entity.ID] {
			continue
		}

		seen[entity.ID] = true
		out = append(out, entity)
	}

	return out, created
}

// CleanName decodes entities and trims whitespace.
func CleanName(name string) string {
	return strings.TrimSpace(normalize.DecodeEntities(name))
}
