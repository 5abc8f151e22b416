package data

import (
	"context"
	"database/sql"
	"errors"

	"shortly/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Compile-time interface check
var _ biz.ShortLinkRepo = (*shortLinkRepo)(nil)

const uniqueViolation = "23505"

type shortLinkRepo struct {
	data *Data
	log  *log.Helper
}

// NewShortLinkRepo creates the postgres-backed short link repository.
func NewShortLinkRepo(data *Data, logger log.Logger) biz.ShortLinkRepo {
	return &shortLinkRepo{data: data, log: log.NewHelper(logger)}
}

// Save inserts the link. The short_code uniqueness constraint is the only
// arbiter of code collisions; a duplicate surfaces as ErrShortCodeExists.
func (r *shortLinkRepo) Save(ctx context.Context, link *biz.ShortLink) error {
	const q = `
		INSERT INTO short_links (id, original_url, short_code, owner_id, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err := r.data.db.QueryRowContext(ctx, q,
		link.ID, link.OriginalURL, link.ShortCode, link.OwnerID, link.ExpiresAt, link.IsActive,
	).Scan(&link.CreatedAt, &link.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return biz.ErrShortCodeExists
		}
		return err
	}
	return nil
}

func (r *shortLinkRepo) FindByShortCode(ctx context.Context, code string) (*biz.ShortLink, error) {
	const q = `
		SELECT id, original_url, short_code, owner_id, expires_at, is_active, created_at, updated_at
		FROM short_links
		WHERE short_code = $1`

	link, err := scanShortLink(r.data.db.QueryRowContext(ctx, q, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, biz.ErrLinkNotFound
		}
		return nil, err
	}
	return link, nil
}

func (r *shortLinkRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*biz.ShortLink, error) {
	const q = `
		SELECT id, original_url, short_code, owner_id, expires_at, is_active, created_at, updated_at
		FROM short_links
		WHERE owner_id = $1
		ORDER BY created_at DESC`

	rows, err := r.data.db.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*biz.ShortLink
	for rows.Next() {
		link, err := scanShortLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// Deactivate flips is_active off for the owner's link. No matching row maps
// to ErrLinkNotFound, covering both an unknown code and a foreign owner.
func (r *shortLinkRepo) Deactivate(ctx context.Context, code string, ownerID uuid.UUID) error {
	const q = `
		UPDATE short_links
		SET is_active = FALSE, updated_at = now()
		WHERE short_code = $1 AND owner_id = $2`

	res, err := r.data.db.ExecContext(ctx, q, code, ownerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return biz.ErrLinkNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShortLink(row rowScanner) (*biz.ShortLink, error) {
	var (
		link      biz.ShortLink
		expiresAt sql.NullTime
	)
	err := row.Scan(
		&link.ID, &link.OriginalURL, &link.ShortCode, &link.OwnerID,
		&expiresAt, &link.IsActive, &link.CreatedAt, &link.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		link.ExpiresAt = &t
	}
	return &link, nil
}
