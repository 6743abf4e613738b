package upsert

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/backends/db"
)

type DescriptorMigration struct {
	DescriptorID   string `json:"descriptorId"`
	DescriptorName string `json:"descriptorName"`
	GenreID        string `json:"genreId"`
	GenreName      string `json:"genreName"`
	AlbumCount     int    `json:"albumCount"`
	AlbumsLinked   int    `json:"albumsLinked"`
}

type DescriptorMigrationStats struct {
	DryRun                   bool                   `json:"dryRun"`
	TotalDescriptorsChecked  int                    `json:"totalDescriptorsChecked"`
	MatchingDescriptorsFound int                    `json:"matchingDescriptorsFound"`
	AlbumsMigrated           int                    `json:"albumsMigrated"`
	DescriptorsDeleted       int                    `json:"descriptorsDeleted"`
	Migrations               []*DescriptorMigration `json:"migrations"`
	Errors                   []string               `json:"errors,omitempty"`
}

// MigrateDescriptorsToGenres moves descriptors whose name equals a genre
// (case-insensitive) onto that genre for every album, then deletes the
// descriptor. Each descriptor is migrated in its own transaction.
func (e *Engine) MigrateDescriptorsToGenres(ctx context.Context, dryRun bool) (*DescriptorMigrationStats, error) {
	logger := e.log.With(zap.String("method", "MigrateDescriptorsToGenres"), zap.Bool("dryRun", dryRun))

	descriptors, err := e.store.ListEntities(ctx, db.KindDescriptor)
	if err != nil {
		return nil, errors.Wrap(err, "unable to list descriptors")
	}

	genres, err := e.store.ListEntities(ctx, db.KindGenre)
	if err != nil {
		return nil, errors.Wrap(err, "unable to list genres")
	}

	genreByName := make(map[string]*db.Entity, len(genres))
	for _, g := range genres {
		genreByName[strings.ToLower(g.Name)] = g
	}

	stats := &DescriptorMigrationStats{
		DryRun:                  dryRun,
		TotalDescriptorsChecked: len(descriptors),
		Migrations:              make([]*DescriptorMigration, 0),
	}

	for _, d := range descriptors {
		genre, ok := genreByName[strings.ToLower(d.Name)]
		if !ok {
			continue
		}

		stats.MatchingDescriptorsFound++

		m := &DescriptorMigration{
			DescriptorID:   d.ID,
			DescriptorName: d.Name,
			GenreID:        genre.ID,
			GenreName:      genre.Name,
		}

		err := e.store.WithTx(ctx, func(tx db.IStore) error {
			albumIDs, err := tx.ListEntityAlbumIDs(ctx, db.KindDescriptor, d.ID)
			if err != nil {
				return err
			}

			m.AlbumCount = len(albumIDs)

			if dryRun {
				return nil
			}

			for _, albumID := range albumIDs {
				linked, err := hasLink(ctx, tx, db.KindGenre, albumID, genre.ID)
				if err != nil {
					return err
				}

				if !linked {
					if err := tx.Connect(ctx, db.KindGenre, albumID, genre.ID); err != nil {
						return err
					}

					m.AlbumsLinked++
				}
			}

			return tx.DeleteEntity(ctx, db.KindDescriptor, d.ID)
		})
		if err != nil {
			logger.Error("unable to migrate descriptor", zap.String("descriptor", d.Name), zap.Error(err))
			stats.Errors = append(stats.Errors, errors.Wrapf(err, "descriptor '%s'", d.Name).Error())
			continue
		}

		stats.Migrations = append(stats.Migrations, m)
		stats.AlbumsMigrated += m.AlbumCount

		if !dryRun {
			stats.DescriptorsDeleted++
		}

		logger.Info("descriptor matches genre",
			zap.String("descriptor", d.Name),
			zap.String("genre", genre.Name),
			zap.Int("albums", m.AlbumCount))
	}

	return stats, nil
}

func hasLink(ctx context.Context, store db.IStore, kind db.Kind, albumID, entityID string) (bool, error) {
	entities, err := store.ListAlbumEntities(ctx, kind, albumID)
	if err != nil {
		return false, err
	}

	for _, e := range entities {
		if e.ID == entityID {
			return true, nil
		}
	}

	return false, nil
}
