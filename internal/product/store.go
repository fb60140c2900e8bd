package product

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/power-plant/powerplant/pkg/logger"
)

var storeLogger = logger.Get("ProductStore")

// psql is the statement builder used for all dynamically constructed
// queries against the products table.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (store *Store) GetByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	var result Product
	if err := store.db.GetContext(ctx, &result, `SELECT * FROM products WHERE id=$1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to fetch product %s: %w", id, err)
	}

	return &result, nil
}

func (store *Store) GetByCode(ctx context.Context, code string) (*Product, error) {
	var result Product
	if err := store.db.GetContext(ctx, &result, `SELECT * FROM products WHERE code=$1`, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to fetch product %s: %w", code, err)
	}

	return &result, nil
}

// List returns products matching the filter, newest first.
func (store *Store) List(ctx context.Context, filter Filter) ([]*Product, error) {
	query, args, err := ListQuery(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to build product listing query: %w", err)
	}

	results := make([]*Product, 0)
	if err := store.db.SelectContext(ctx, &results, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	return results, nil
}

// ListQuery builds the listing SELECT for the filter provided. Split out
// from List so the construction is testable without a database.
func ListQuery(filter Filter) (string, []interface{}, error) {
	builder := psql.Select("*").From("products").OrderBy("created_at DESC")
	if filter.IsDownloaded != nil {
		builder = builder.Where(sq.Eq{"is_downloaded": *filter.IsDownloaded})
	}
	if filter.IsProcessing != nil {
		builder = builder.Where(sq.Eq{"is_processing": *filter.IsProcessing})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}

	return builder.ToSql()
}

// Create inserts a new product row. An ID is generated if the model does
// not already carry one. The code must be unique; violating that surfaces
// the underlying constraint error.
func (store *Store) Create(ctx context.Context, p *Product) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.SubImageUrls == nil {
		p.SubImageUrls = pq.StringArray{}
	}
	if p.Genres == nil {
		p.Genres = pq.StringArray{}
	}
	if p.Casts == nil {
		p.Casts = pq.StringArray{}
	}
	if p.MediaUrls == nil {
		p.MediaUrls = pq.StringArray{}
	}

	_, err := store.db.NamedExecContext(ctx, `
		INSERT INTO products(id, code, title, main_image_url, sub_image_urls, length, genres, series, maker, casts, download_url, media_urls, is_downloaded, is_processing)
		VALUES(:id, :code, :title, :main_image_url, :sub_image_urls, :length, :genres, :series, :maker, :casts, :download_url, :media_urls, :is_downloaded, :is_processing)`,
		p,
	)
	if err != nil {
		return fmt.Errorf("failed to create product %s: %w", p.Code, err)
	}

	return nil
}

// Update applies the non-nil changes to the product addressed by code.
func (store *Store) Update(ctx context.Context, code string, changes Changes) error {
	query, args, err := UpdateQuery(code, changes)
	if err != nil {
		return err
	}
	if query == "" {
		return nil
	}

	result, err := store.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update product %s: %w", code, err)
	}

	return ensureRowMatched(result, code)
}

// UpdateQuery builds the partial UPDATE for the changes provided. Returns
// an empty query when there is nothing to change.
func UpdateQuery(code string, changes Changes) (string, []interface{}, error) {
	builder := psql.Update("products").Set("updated_at", sq.Expr("now()")).Where(sq.Eq{"code": code})

	dirty := false
	if changes.Title != nil {
		builder = builder.Set("title", *changes.Title)
		dirty = true
	}
	if changes.DownloadURL != nil {
		builder = builder.Set("download_url", *changes.DownloadURL)
		dirty = true
	}
	if changes.Casts != nil {
		builder = builder.Set("casts", pq.StringArray(*changes.Casts))
		dirty = true
	}

	if !dirty {
		return "", nil, nil
	}

	return builder.ToSql()
}

// ClaimProcessing raises the processing flag for the product, but only
// if it is not already raised. This is the concurrency guard for the
// acquisition pipeline: a compare-and-set at the database rather than an
// advisory read-then-write, so two racing submissions cannot both claim
// the same product.
func (store *Store) ClaimProcessing(ctx context.Context, id uuid.UUID) error {
	result, err := store.db.ExecContext(ctx,
		`UPDATE products SET is_processing=TRUE, updated_at=now() WHERE id=$1 AND NOT is_processing`, id)
	if err != nil {
		return fmt.Errorf("failed to claim processing flag for %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := store.GetByID(ctx, id); err != nil {
			return err
		}

		return ErrAlreadyProcessing
	}

	return nil
}

// SetProcessing unconditionally writes the processing flag. Used by the
// pipeline's guaranteed-release path; failures here are surfaced so the
// caller can retry.
func (store *Store) SetProcessing(ctx context.Context, id uuid.UUID, processing bool) error {
	result, err := store.db.ExecContext(ctx,
		`UPDATE products SET is_processing=$2, updated_at=now() WHERE id=$1`, id, processing)
	if err != nil {
		return fmt.Errorf("failed to set processing flag for %s: %w", id, err)
	}

	return ensureRowMatched(result, id.String())
}

// ReplaceMedia replaces the product's media URLs wholesale with the set
// produced by an acquisition run, recomputes the downloaded flag and lowers
// the processing flag in the same statement.
func (store *Store) ReplaceMedia(ctx context.Context, id uuid.UUID, urls []string) error {
	result, err := store.db.ExecContext(ctx, `
		UPDATE products
		SET media_urls=$2, is_downloaded=(cardinality($2::text[]) > 0), is_processing=FALSE, updated_at=now()
		WHERE id=$1`,
		id, pq.StringArray(urls),
	)
	if err != nil {
		return fmt.Errorf("failed to replace media for %s: %w", id, err)
	}

	return ensureRowMatched(result, id.String())
}

// RemoveMediaURL removes exactly one URL from the product's media set and
// recomputes the downloaded flag. Removing a URL that is no longer present
// is a no-op, which makes repeated deletions idempotent.
func (store *Store) RemoveMediaURL(ctx context.Context, code string, url string) error {
	result, err := store.db.ExecContext(ctx, `
		UPDATE products
		SET media_urls=array_remove(media_urls, $2),
		    is_downloaded=(COALESCE(array_length(array_remove(media_urls, $2), 1), 0) > 0),
		    updated_at=now()
		WHERE code=$1`,
		code, url,
	)
	if err != nil {
		return fmt.Errorf("failed to remove media url from %s: %w", code, err)
	}

	return ensureRowMatched(result, code)
}

// Delete removes the product row and returns the media URLs it referenced
// so the caller can cascade best-effort object storage cleanup.
func (store *Store) Delete(ctx context.Context, code string) ([]string, error) {
	var removed pq.StringArray
	if err := store.db.GetContext(ctx, &removed, `DELETE FROM products WHERE code=$1 RETURNING media_urls`, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to delete product %s: %w", code, err)
	}

	storeLogger.Emit(logger.REMOVE, "Deleted product %s (%d media urls orphaned)\n", code, len(removed))
	return removed, nil
}

func ensureRowMatched(result sql.Result, identifier string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	storeLogger.Verbosef("Updated product %s\n", identifier)
	return nil
}
