package data

import (
	"context"
	"time"

	"shortly/internal/biz"
	"shortly/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	redirectCachePrefix     = "redirect:"
	defaultRedirectCacheTTL = 10 * time.Minute
)

// Compile-time interface check
var _ biz.RedirectCache = (*redirectCache)(nil)

// redirectCache caches short code to original URL lookups in redis. It is
// strictly best-effort: any redis failure is logged and reported as a miss,
// so an unreachable cache degrades to direct directory reads instead of
// failing redirects.
type redirectCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *log.Helper
}

// NewRedirectCache creates the redis-backed redirect cache.
func NewRedirectCache(data *Data, c *conf.Shortener, logger log.Logger) biz.RedirectCache {
	return &redirectCache{
		rdb: data.rdb,
		ttl: c.CacheTTL.AsDuration(defaultRedirectCacheTTL),
		log: log.NewHelper(logger),
	}
}

func (c *redirectCache) key(code string) string {
	return redirectCachePrefix + code
}

func (c *redirectCache) Get(ctx context.Context, code string) (string, bool) {
	target, err := c.rdb.Get(ctx, c.key(code)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.WithContext(ctx).Warnf("redirect cache get %s: %v", code, err)
		}
		return "", false
	}
	return target, true
}

func (c *redirectCache) Set(ctx context.Context, code, originalURL string) {
	if err := c.rdb.Set(ctx, c.key(code), originalURL, c.ttl).Err(); err != nil {
		c.log.WithContext(ctx).Warnf("redirect cache set %s: %v", code, err)
	}
}
