package upsert

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/backends/db"
	"github.com/dselans/fivehundred/services/normalize"
)

const (
	ActionNone        = "none"
	ActionRename      = "rename"
	ActionConsolidate = "consolidate"
)

// Change records one sanitization action (planned in dry-run mode).
type Change struct {
	Table          string   `json:"table"`
	Action         string   `json:"action"`
	ID             string   `json:"id"`
	From           string   `json:"from"`
	To             string   `json:"to"`
	ExistingID     string   `json:"existingId,omitempty"`
	AffectedAlbums int      `json:"affectedAlbums,omitempty"`
	Albums         []string `json:"albums,omitempty"`
	DryRun         bool     `json:"dryRun,omitempty"`
}

type SanitizeReport struct {
	DryRun  bool      `json:"dryRun"`
	Changes []*Change `json:"changes"`
	Errors  []string  `json:"errors,omitempty"`
}

// ReconcileDuplicate decodes the entity's name. When an entity already
// exists under the decoded name (or its slug) every album link is moved to
// it and the encoded duplicate is deleted; otherwise the entity is renamed
// in place. The work runs in one transaction so no partial reparenting is
// ever visible.
func (e *Engine) ReconcileDuplicate(ctx context.Context, kind db.Kind, entity *db.Entity, dryRun bool) (*Change, error) {
	logger := e.log.With(zap.String("method", "ReconcileDuplicate"), zap.String("kind", string(kind)))

	if entity == nil {
		return nil, errors.New("entity cannot be nil")
	}

	decoded := CleanName(entity.Name)

	change := &Change{
		Table:  string(kind),
		Action: ActionNone,
		ID:     entity.ID,
		From:   entity.Name,
		To:     decoded,
		DryRun: dryRun,
	}

	if decoded == entity.Name || decoded == "" {
		return change, nil
	}

	err := e.store.WithTx(ctx, func(tx db.IStore) error {
		existing, err := findDecodedTwin(ctx, tx, kind, entity.ID, decoded)
		if err != nil {
			return err
		}

		albumIDs, err := tx.ListEntityAlbumIDs(ctx, kind, entity.ID)
		if err != nil {
			return err
		}

		if existing == nil {
			change.Action = ActionRename

			if dryRun {
				return nil
			}

			return tx.RenameEntity(ctx, kind, entity.ID, decoded, normalize.Slugify(decoded))
		}

		change.Action = ActionConsolidate
		change.ExistingID = existing.ID
		change.AffectedAlbums = len(albumIDs)
		change.Albums = albumIDs

		if dryRun {
			return nil
		}

		for _, albumID := range albumIDs {
			if err := tx.Connect(ctx, kind, albumID, existing.ID); err != nil {
				return err
			}

			if err := tx.Disconnect(ctx, kind, albumID, entity.ID); err != nil {
				return err
			}
		}

		return tx.DeleteEntity(ctx, kind, entity.ID)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to reconcile %s '%s'", kind, entity.Name)
	}

	logger.Info("reconciled entity",
		zap.String("action", change.Action),
		zap.String("from", change.From),
		zap.String("to", change.To),
		zap.Int("affectedAlbums", change.AffectedAlbums),
		zap.Bool("dryRun", dryRun))

	return change, nil
}

// findDecodedTwin returns the entity (other than selfID) stored under the
// decoded name or its slug, or nil.
func findDecodedTwin(ctx context.Context, store db.IStore, kind db.Kind, selfID, decoded string) (*db.Entity, error) {
	existing, err := store.GetEntityByName(ctx, kind, decoded)
	if err == nil && existing.ID != selfID {
		return existing, nil
	}

	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	slug := normalize.Slugify(decoded)
	if slug == "" {
		return nil, nil
	}

	existing, err = store.GetEntityBySlug(ctx, kind, slug)
	if err == nil && existing.ID != selfID {
		return existing, nil
	}

	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	return nil, nil
}

// Sanitize decodes entity-encoded album titles and reconciles every
// artist, genre and descriptor. Per-entity failures are recorded and do
// not stop the pass.
func (e *Engine) Sanitize(ctx context.Context, dryRun bool) (*SanitizeReport, error) {
	logger := e.log.With(zap.String("method", "Sanitize"), zap.Bool("dryRun", dryRun))

	report := &SanitizeReport{
		DryRun:  dryRun,
		Changes: make([]*Change, 0),
	}

	albums, err := e.store.FindAlbums(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "unable to list albums")
	}

	for _, album := range albums {
		decoded := CleanName(album.Title)
		if decoded == album.Title || decoded == "" {
			continue
		}

		report.Changes = append(report.Changes, &Change{
			Table:  "album",
			Action: ActionRename,
			ID:     album.ID,
			From:   album.Title,
			To:     decoded,
			DryRun: dryRun,
		})

		if dryRun {
			continue
		}

		album.Title = decoded

		if err := e.store.UpdateAlbum(ctx, album); err != nil {
			report.Errors = append(report.Errors, errors.Wrapf(err, "album '%s'", album.ID).Error())
		}
	}

	for _, kind := range []db.Kind{db.KindGenre, db.KindDescriptor, db.KindArtist} {
		entities, err := e.store.ListEntities(ctx, kind)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to list %ss", kind)
		}

		for _, entity := range entities {
			change, err := e.ReconcileDuplicate(ctx, kind, entity, dryRun)
			if err != nil {
				report.Errors = append(report.Errors, err.Error())
				continue
			}

			if change.Action != ActionNone {
				report.Changes = append(report.Changes, change)
			}
		}
	}

	logger.Info("sanitize complete", zap.Int("changes", len(report.Changes)), zap.Int("errors", len(report.Errors)))

	return report, nil
}
