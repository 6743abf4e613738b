package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const entitySavepoint = "create_entity"

func (d *DB) CreateEntity(ctx context.Context, kind Kind, e *Entity) error {
	if err := kind.Validate(); err != nil {
		return err
	}

	if e == nil || e.Name == "" || e.Slug == "" {
		return errors.Errorf("%s name and slug cannot be empty", kind)
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	e.CreatedAt = time.Now().UTC()

	query := d.rebind(`INSERT INTO ` + kind.table() + ` (id, name, slug, created_at) VALUES (?, ?, ?, ?)`)

	if !d.inTx {
		if _, err := d.q.ExecContext(ctx, query, e.ID, e.Name, e.Slug, e.CreatedAt); err != nil {
			return errors.Wrapf(mapError(err), "unable to create %s '%s'", kind, e.Name)
		}

		return nil
	}

	// A failed statement aborts a postgres transaction; the savepoint keeps
	// the transaction usable so a conflict can be resolved by re-fetching.
	if _, err := d.q.ExecContext(ctx, `SAVEPOINT `+entitySavepoint); err != nil {
		return errors.Wrap(err, "unable to create savepoint")
	}

	if _, err := d.q.ExecContext(ctx, query, e.ID, e.Name, e.Slug, e.CreatedAt); err != nil {
		if _, rbErr := d.q.ExecContext(ctx, `ROLLBACK TO SAVEPOINT `+entitySavepoint); rbErr != nil {
			return errors.Wrap(rbErr, "unable to roll back to savepoint")
		}

		return errors.Wrapf(mapError(err), "unable to create %s '%s'", kind, e.Name)
	}

	if _, err := d.q.ExecContext(ctx, `RELEASE SAVEPOINT `+entitySavepoint); err != nil {
		return errors.Wrap(err, "unable to release savepoint")
	}

	return nil
}

func (d *DB) GetEntityBySlug(ctx context.Context, kind Kind, slug string) (*Entity, error) {
	return d.getEntity(ctx, kind, "slug", slug)
}

func (d *DB) GetEntityByName(ctx context.Context, kind Kind, name string) (*Entity, error) {
	return d.getEntity(ctx, kind, "name", name)
}

func (d *DB) getEntity(ctx context.Context, kind Kind, column, value string) (*Entity, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	e := &Entity{}

	// Artist names are not unique; the oldest row wins
	query := d.rebind(`SELECT id, name, slug, created_at FROM ` + kind.table() +
		` WHERE ` + column + ` = ? ORDER BY created_at ASC, id ASC LIMIT 1`)

	if err := sqlx.GetContext(ctx, d.q, e, query, value); err != nil {
		return nil, mapError(err)
	}

	return e, nil
}

func (d *DB) ListEntities(ctx context.Context, kind Kind) ([]*Entity, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	entities := make([]*Entity, 0)

	query := `SELECT id, name, slug, created_at FROM ` + kind.table() + ` ORDER BY name ASC`

	if err := sqlx.SelectContext(ctx, d.q, &entities, query); err != nil {
		return nil, errors.Wrapf(err, "unable to list %ss", kind)
	}

	return entities, nil
}

func (d *DB) CountEntities(ctx context.Context, kind Kind) (int, error) {
	if err := kind.Validate(); err != nil {
		return 0, err
	}

	var count int

	if err := sqlx.GetContext(ctx, d.q, &count, `SELECT COUNT(*) FROM `+kind.table()); err != nil {
		return 0, errors.Wrapf(err, "unable to count %ss", kind)
	}

	return count, nil
}

func (d *DB) RenameEntity(ctx context.Context, kind Kind, id, name, slug string) error {
	if err := kind.Validate(); err != nil {
		return err
	}

	query := d.rebind(`UPDATE ` + kind.table() + ` SET name = ?, slug = ? WHERE id = ?`)

	res, err := d.q.ExecContext(ctx, query, name, slug, id)
	if err != nil {
		return errors.Wrapf(mapError(err), "unable to rename %s '%s'", kind, id)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteEntity removes the entity; its album links cascade.
func (d *DB) DeleteEntity(ctx context.Context, kind Kind, id string) error {
	if err := kind.Validate(); err != nil {
		return err
	}

	if _, err := d.q.ExecContext(ctx, d.rebind(`DELETE FROM `+kind.linkTable()+` WHERE entity_id = ?`), id); err != nil {
		return errors.Wrapf(err, "unable to delete %s links", kind)
	}

	res, err := d.q.ExecContext(ctx, d.rebind(`DELETE FROM `+kind.table()+` WHERE id = ?`), id)
	if err != nil {
		return errors.Wrapf(err, "unable to delete %s '%s'", kind, id)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return nil
}
