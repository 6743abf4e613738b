package db

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Connect links an album to an entity. Linking twice is a no-op.
func (d *DB) Connect(ctx context.Context, kind Kind, albumID, entityID string) error {
	if err := kind.Validate(); err != nil {
		return err
	}

	var position int

	countQuery := d.rebind(`SELECT COUNT(*) FROM ` + kind.linkTable() + ` WHERE album_id = ?`)

	if err := sqlx.GetContext(ctx, d.q, &position, countQuery, albumID); err != nil {
		return errors.Wrapf(err, "unable to count %s links", kind)
	}

	query := d.rebind(`INSERT INTO ` + kind.linkTable() + ` (album_id, entity_id, position) VALUES (?, ?, ?)
		ON CONFLICT (album_id, entity_id) DO NOTHING`)

	if _, err := d.q.ExecContext(ctx, query, albumID, entityID, position); err != nil {
		return errors.Wrapf(err, "unable to link album '%s' to %s '%s'", albumID, kind, entityID)
	}

	return nil
}

func (d *DB) Disconnect(ctx context.Context, kind Kind, albumID, entityID string) error {
	if err := kind.Validate(); err != nil {
		return err
	}

	query := d.rebind(`DELETE FROM ` + kind.linkTable() + ` WHERE album_id = ? AND entity_id = ?`)

	if _, err := d.q.ExecContext(ctx, query, albumID, entityID); err != nil {
		return errors.Wrapf(err, "unable to unlink album '%s' from %s '%s'", albumID, kind, entityID)
	}

	return nil
}

// ListAlbumEntities returns the album's linked entities in link order.
func (d *DB) ListAlbumEntities(ctx context.Context, kind Kind, albumID string) ([]*Entity, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	entities := make([]*Entity, 0)

	query := d.rebind(`SELECT e.id, e.name, e.slug, e.created_at FROM ` + kind.table() + ` e
		JOIN ` + kind.linkTable() + ` l ON l.entity_id = e.id
		WHERE l.album_id = ? ORDER BY l.position ASC, e.name ASC`)

	if err := sqlx.SelectContext(ctx, d.q, &entities, query, albumID); err != nil {
		return nil, errors.Wrapf(err, "unable to list %ss for album '%s'", kind, albumID)
	}

	return entities, nil
}

func (d *DB) ListEntityAlbumIDs(ctx context.Context, kind Kind, entityID string) ([]string, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	ids := make([]string, 0)

	query := d.rebind(`SELECT album_id FROM ` + kind.linkTable() + ` WHERE entity_id = ? ORDER BY album_id`)

	if err := sqlx.SelectContext(ctx, d.q, &ids, query, entityID); err != nil {
		return nil, errors.Wrapf(err, "unable to list albums for %s '%s'", kind, entityID)
	}

	return ids, nil
}
