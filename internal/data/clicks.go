package data

import (
	"context"

	"shortly/internal/biz"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// Compile-time interface check
var _ biz.ClickAggregateRepo = (*clickAggregateRepo)(nil)

type clickAggregateRepo struct {
	data *Data
	log  *log.Helper
}

// NewClickAggregateRepo creates the postgres-backed click aggregate store.
func NewClickAggregateRepo(data *Data, logger log.Logger) biz.ClickAggregateRepo {
	return &clickAggregateRepo{data: data, log: log.NewHelper(logger)}
}

// AddCounts applies all deltas of a batch inside one transaction. The batch
// either lands completely or not at all, so the consumer can retry it as a
// unit without partially applied counts.
func (r *clickAggregateRepo) AddCounts(ctx context.Context, deltas []*biz.ClickAggregate) error {
	if len(deltas) == 0 {
		return nil
	}

	tx, err := r.data.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.ServiceUnavailable("CLICK_STORE_UNAVAILABLE", "click aggregate store unreachable").WithCause(err)
	}

	const q = `
		INSERT INTO click_counts (short_code, country_code, count)
		VALUES ($1, $2, $3)
		ON CONFLICT (short_code, country_code) DO UPDATE
		SET count = click_counts.count + EXCLUDED.count`

	for _, d := range deltas {
		if _, err := tx.ExecContext(ctx, q, d.ShortCode, d.CountryCode, d.Count); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.log.WithContext(ctx).Errorf("rollback failed: %v", rbErr)
			}
			return errors.ServiceUnavailable("CLICK_STORE_UNAVAILABLE", "click aggregate write failed").WithCause(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.ServiceUnavailable("CLICK_STORE_UNAVAILABLE", "click aggregate commit failed").WithCause(err)
	}
	return nil
}

// TotalClicks sums a short code's aggregates across countries.
func (r *clickAggregateRepo) TotalClicks(ctx context.Context, shortCode string) (int64, error) {
	const q = `SELECT COALESCE(SUM(count), 0) FROM click_counts WHERE short_code = $1`

	var total int64
	if err := r.data.db.QueryRowContext(ctx, q, shortCode).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}
