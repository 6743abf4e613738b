package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const albumColumns = `id, title, slug, release_date, cover_art, spotify_uri, apple_music_url,
	allmusic_id, is_aplus, top_ranking, created_at, updated_at`

func (d *DB) CreateAlbum(ctx context.Context, a *Album) error {
	if a == nil {
		return errors.New("album cannot be nil")
	}

	if a.Slug == "" {
		return errors.New("album slug cannot be empty")
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	if a.ReleaseDate.IsZero() {
		a.ReleaseDate = DefaultReleaseDate
	}

	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	query := d.rebind(`INSERT INTO albums (` + albumColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := d.q.ExecContext(ctx, query,
		a.ID, a.Title, a.Slug, a.ReleaseDate.UTC(), a.CoverArt, a.SpotifyURI, a.AppleMusicURL,
		a.AllMusicID, a.IsAPlus, a.TopRanking, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return errors.Wrapf(mapError(err), "unable to create album '%s'", a.Slug)
	}

	return nil
}

func (d *DB) GetAlbumByID(ctx context.Context, id string) (*Album, error) {
	return d.getAlbum(ctx, "id", id)
}

func (d *DB) GetAlbumBySlug(ctx context.Context, slug string) (*Album, error) {
	return d.getAlbum(ctx, "slug", slug)
}

func (d *DB) getAlbum(ctx context.Context, column, value string) (*Album, error) {
	album := &Album{}

	query := d.rebind(`SELECT ` + albumColumns + ` FROM albums WHERE ` + column + ` = ?`)

	if err := sqlx.GetContext(ctx, d.q, album, query, value); err != nil {
		return nil, mapError(err)
	}

	return album, nil
}

func (d *DB) FindAlbums(ctx context.Context, f *AlbumFilter) ([]*Album, error) {
	if f == nil {
		f = &AlbumFilter{}
	}

	where, args := buildAlbumWhere(f)

	query := `SELECT ` + albumColumns + ` FROM albums` + where + ` ORDER BY `

	// Exact title matches sort ahead of the limit
	if preferred := strings.ToLower(strings.TrimSpace(f.PreferTitle)); preferred != "" {
		query += `CASE WHEN LOWER(title) = ? THEN 0 ELSE 1 END, `
		args = append(args, preferred)
	}

	if f.Ranked {
		query += `top_ranking ASC`
	} else {
		query += `release_date DESC, title ASC`
	}

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)

		if f.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", f.Offset)
		}
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to expand album filter")
	}

	albums := make([]*Album, 0)

	if err := sqlx.SelectContext(ctx, d.q, &albums, d.rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "unable to find albums")
	}

	return albums, nil
}

func (d *DB) CountAlbums(ctx context.Context, f *AlbumFilter) (int, error) {
	if f == nil {
		f = &AlbumFilter{}
	}

	where, args := buildAlbumWhere(f)

	query, args, err := sqlx.In(`SELECT COUNT(*) FROM albums`+where, args...)
	if err != nil {
		return 0, errors.Wrap(err, "unable to expand album filter")
	}

	var count int

	if err := sqlx.GetContext(ctx, d.q, &count, d.rebind(query), args...); err != nil {
		return 0, errors.Wrap(err, "unable to count albums")
	}

	return count, nil
}

// UpdateAlbum writes every mutable column of a (matched by id).
func (d *DB) UpdateAlbum(ctx context.Context, a *Album) error {
	if a == nil || a.ID == "" {
		return errors.New("album id cannot be empty")
	}

	a.UpdatedAt = time.Now().UTC()

	query := d.rebind(`UPDATE albums SET title = ?, slug = ?, release_date = ?, cover_art = ?,
		spotify_uri = ?, apple_music_url = ?, allmusic_id = ?, is_aplus = ?, top_ranking = ?,
		updated_at = ? WHERE id = ?`)

	res, err := d.q.ExecContext(ctx, query,
		a.Title, a.Slug, a.ReleaseDate.UTC(), a.CoverArt, a.SpotifyURI, a.AppleMusicURL,
		a.AllMusicID, a.IsAPlus, a.TopRanking, a.UpdatedAt, a.ID)
	if err != nil {
		return errors.Wrapf(mapError(err), "unable to update album '%s'", a.ID)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return nil
}

// ClearRankings nulls top_ranking on every ranked album.
func (d *DB) ClearRankings(ctx context.Context) (int64, error) {
	query := d.rebind(`UPDATE albums SET top_ranking = NULL, updated_at = ? WHERE top_ranking IS NOT NULL`)

	res, err := d.q.ExecContext(ctx, query, time.Now().UTC())
	if err != nil {
		return 0, errors.Wrap(err, "unable to clear rankings")
	}

	n, _ := res.RowsAffected()

	return n, nil
}

func buildAlbumWhere(f *AlbumFilter) (string, []interface{}) {
	clauses := make([]string, 0)
	args := make([]interface{}, 0)

	if f.TitleContains != "" {
		clauses = append(clauses, "LOWER(title) LIKE ?")
		args = append(args, likePattern(f.TitleContains))
	}

	if f.ArtistContains != "" {
		clauses = append(clauses, `EXISTS (SELECT 1 FROM album_artists aa JOIN artists ar ON ar.id = aa.entity_id
			WHERE aa.album_id = albums.id AND LOWER(ar.name) LIKE ?)`)
		args = append(args, likePattern(f.ArtistContains))
	}

	if f.MissingCoverArt {
		clauses = append(clauses, "(cover_art IS NULL OR cover_art = '' OR cover_art = ?)")
		args = append(args, PlaceholderCoverArt)
	}

	if f.MissingSpotifyURI {
		clauses = append(clauses, "(spotify_uri IS NULL OR spotify_uri = '')")
	}

	if f.MissingAppleMusicURL {
		clauses = append(clauses, "(apple_music_url IS NULL OR apple_music_url = '')")
	}

	if f.APlus != nil {
		clauses = append(clauses, "is_aplus = ?")
		args = append(args, *f.APlus)
	}

	if f.Ranked {
		clauses = append(clauses, "top_ranking IS NOT NULL")
	}

	// Genres match by slug or name, case-insensitively
	for _, g := range genreKeys(f.Genres) {
		clauses = append(clauses, `EXISTS (SELECT 1 FROM album_genres ag JOIN genres g ON g.id = ag.entity_id
			WHERE ag.album_id = albums.id AND (LOWER(g.slug) = ? OR LOWER(g.name) = ?))`)
		args = append(args, g, g)
	}

	if excluded := genreKeys(f.ExcludeGenres); len(excluded) > 0 {
		clauses = append(clauses, `NOT EXISTS (SELECT 1 FROM album_genres ag JOIN genres g ON g.id = ag.entity_id
			WHERE ag.album_id = albums.id AND (LOWER(g.slug) IN (?) OR LOWER(g.name) IN (?)))`)
		args = append(args, excluded, excluded)
	}

	for _, kw := range f.ExcludeKeywords {
		if strings.TrimSpace(kw) == "" {
			continue
		}

		clauses = append(clauses, `LOWER(title) NOT LIKE ? AND NOT EXISTS (SELECT 1 FROM album_artists aa
			JOIN artists ar ON ar.id = aa.entity_id WHERE aa.album_id = albums.id AND LOWER(ar.name) LIKE ?)`)
		args = append(args, likePattern(kw), likePattern(kw))
	}

	if len(clauses) == 0 {
		return "", args
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}

func genreKeys(values []string) []string {
	keys := make([]string, 0, len(values))

	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			keys = append(keys, v)
		}
	}

	return keys
}

func likePattern(s string) string {
	return "%" + strings.ToLower(strings.TrimSpace(s)) + "%"
}
