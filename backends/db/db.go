package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/dselans/fivehundred/clog"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"

	DefaultSQLiteDSN = "file:fivehundred.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	pgUniqueViolation = "23505"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("unique constraint violation")
)

type IStore interface {
	CreateAlbum(ctx context.Context, a *Album) error
	GetAlbumByID(ctx context.Context, id string) (*Album, error)
	GetAlbumBySlug(ctx context.Context, slug string) (*Album, error)
	FindAlbums(ctx context.Context, f *AlbumFilter) ([]*Album, error)
	CountAlbums(ctx context.Context, f *AlbumFilter) (int, error)
	UpdateAlbum(ctx context.Context, a *Album) error
	ClearRankings(ctx context.Context) (int64, error)

	CreateEntity(ctx context.Context, kind Kind, e *Entity) error
	GetEntityBySlug(ctx context.Context, kind Kind, slug string) (*Entity, error)
	GetEntityByName(ctx context.Context, kind Kind, name string) (*Entity, error)
	ListEntities(ctx context.Context, kind Kind) ([]*Entity, error)
	CountEntities(ctx context.Context, kind Kind) (int, error)
	RenameEntity(ctx context.Context, kind Kind, id, name, slug string) error
	DeleteEntity(ctx context.Context, kind Kind, id string) error

	Connect(ctx context.Context, kind Kind, albumID, entityID string) error
	Disconnect(ctx context.Context, kind Kind, albumID, entityID string) error
	ListAlbumEntities(ctx context.Context, kind Kind, albumID string) ([]*Entity, error)
	ListEntityAlbumIDs(ctx context.Context, kind Kind, entityID string) ([]string, error)

	// WithTx runs fn against a store bound to a single transaction. fn's
	// error rolls the transaction back. Nested calls reuse the outer tx.
	WithTx(ctx context.Context, fn func(tx IStore) error) error

	Ping(ctx context.Context) error
	Close() error
}

type Options struct {
	Driver string
	DSN    string

	// MaxOpenConns is forced to 1 for in-memory SQLite databases
	MaxOpenConns int

	Log clog.ICustomLog
}

type DB struct {
	opts *Options
	db   *sqlx.DB
	q    sqlx.ExtContext
	inTx bool
	log  clog.ICustomLog
}

func New(opts *Options) (*DB, error) {
	if err := validateOptions(opts); err != nil {
		return nil, errors.Wrap(err, "invalid options")
	}

	var (
		sqlDB *sql.DB
		err   error
	)

	switch opts.Driver {
	case DriverPostgres:
		cfg, err := pgxpool.ParseConfig(opts.DSN)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse database connection string")
		}

		sqlDB = stdlib.OpenDB(*cfg.ConnConfig)
	case DriverSQLite:
		sqlDB, err = sql.Open(DriverSQLite, opts.DSN)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open sqlite database")
		}

		if strings.Contains(opts.DSN, ":memory:") {
			opts.MaxOpenConns = 1
		}
	}

	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}

	x := sqlx.NewDb(sqlDB, opts.Driver)

	return &DB{
		opts: opts,
		db:   x,
		q:    x,
		log:  opts.Log.With(zap.String("pkg", "db"), zap.String("driver", opts.Driver)),
	}, nil
}

func validateOptions(opts *Options) error {
	if opts == nil {
		return errors.New("options cannot be nil")
	}

	switch opts.Driver {
	case "":
		opts.Driver = DriverSQLite
	case DriverSQLite, DriverPostgres:
	default:
		return errors.Errorf("unsupported driver '%s'", opts.Driver)
	}

	if opts.DSN == "" {
		if opts.Driver == DriverPostgres {
			return errors.New("dsn cannot be empty for postgres")
		}

		opts.DSN = DefaultSQLiteDSN
	}

	if opts.Log == nil {
		opts.Log = clog.NewNoop()
	}

	return nil
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) Close() error {
	if d.inTx {
		return nil
	}

	return d.db.Close()
}

func (d *DB) WithTx(ctx context.Context, fn func(tx IStore) error) error {
	if d.inTx {
		return fn(d)
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	txStore := &DB{
		opts: d.opts,
		db:   d.db,
		q:    tx,
		inTx: true,
		log:  d.log,
	}

	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.log.Error("unable to rollback transaction", zap.Error(rbErr))
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	return nil
}

func (d *DB) rebind(query string) string {
	return d.q.Rebind(query)
}

// mapError translates driver errors into package sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	if isUniqueViolation(err) {
		return errors.Wrap(ErrConflict, err.Error())
	}

	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}

		// extended result codes disabled
		return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE")
	}

	return false
}
