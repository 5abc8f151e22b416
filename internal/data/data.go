package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"shortly/internal/biz"
	"shortly/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewCounterStore,
	NewShortLinkRepo,
	NewRedirectCache,
	NewClickProducer,
	NewClickEventSource,
	NewClickAggregateRepo,
	NewClickStatsReader,
)

// schema is applied on startup; every statement is idempotent. The counter
// row is seeded at zero so the first lease refill starts the ID space at 0.
const schema = `
CREATE TABLE IF NOT EXISTS id_counters (
    key        TEXT PRIMARY KEY,
    next_id    BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

INSERT INTO id_counters (key, next_id) VALUES ('short_link_ids', 0)
ON CONFLICT (key) DO NOTHING;

CREATE TABLE IF NOT EXISTS short_links (
    id           UUID PRIMARY KEY,
    original_url TEXT NOT NULL,
    short_code   TEXT NOT NULL UNIQUE,
    owner_id     UUID NOT NULL,
    expires_at   TIMESTAMPTZ,
    is_active    BOOLEAN NOT NULL DEFAULT TRUE,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS short_links_owner_id_idx ON short_links (owner_id);

CREATE TABLE IF NOT EXISTS click_counts (
    short_code   TEXT NOT NULL,
    country_code TEXT NOT NULL,
    count        BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (short_code, country_code)
);
`

// Data holds the shared postgres and redis clients.
type Data struct {
	db  *sql.DB
	rdb *redis.Client
}

// NewData opens both stores, applies the schema and returns a cleanup.
func NewData(c *conf.Data, logger log.Logger) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	db, err := sql.Open(c.Database.Driver, c.Database.Source)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("apply schema: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         c.Redis.Addr,
		Password:     c.Redis.Password,
		DB:           c.Redis.DB,
		DialTimeout:  c.Redis.DialTimeout.AsDuration(5 * time.Second),
		ReadTimeout:  c.Redis.ReadTimeout.AsDuration(3 * time.Second),
		WriteTimeout: c.Redis.WriteTimeout.AsDuration(3 * time.Second),
	})

	d := &Data{db: db, rdb: rdb}

	cleanup := func() {
		helper.Info("closing the data resources")
		if err := d.rdb.Close(); err != nil {
			helper.Errorf("closing redis: %v", err)
		}
		if err := d.db.Close(); err != nil {
			helper.Errorf("closing database: %v", err)
		}
	}

	return d, cleanup, nil
}

// NewClickStatsReader exposes the aggregate repo to the URL usecase's stats
// path.
func NewClickStatsReader(repo biz.ClickAggregateRepo) biz.ClickStatsReader {
	return repo
}
