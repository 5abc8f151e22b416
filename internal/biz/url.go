package biz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shortly/internal/conf"
	"shortly/pkg/shortcode"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

const (
	defaultMinCodeLength = 6
	clickProduceTimeout  = 5 * time.Second
)

// ShortLink is a short-code to original-URL mapping with ownership metadata.
type ShortLink struct {
	ID          uuid.UUID
	OriginalURL string
	ShortCode   string
	OwnerID     uuid.UUID
	ExpiresAt   *time.Time
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ShortLinkRepo persists short links. Save must rely on the storage
// uniqueness constraint for short codes and report violations as
// ErrShortCodeExists; a pre-existence check would race with concurrent
// creators.
type ShortLinkRepo interface {
	Save(ctx context.Context, link *ShortLink) error
	FindByShortCode(ctx context.Context, code string) (*ShortLink, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*ShortLink, error)
	Deactivate(ctx context.Context, code string, ownerID uuid.UUID) error
}

// RedirectCache is the best-effort read-through cache in front of the
// directory. Implementations must degrade cache failures to misses.
type RedirectCache interface {
	Get(ctx context.Context, code string) (string, bool)
	Set(ctx context.Context, code, originalURL string)
}

// ClickProducer appends a click event to the event log.
type ClickProducer interface {
	Produce(ctx context.Context, shortCode, clientIP string) error
}

// ClickStatsReader reads persisted click aggregates.
type ClickStatsReader interface {
	TotalClicks(ctx context.Context, shortCode string) (int64, error)
}

// NewCodec builds the short-code codec from configuration.
func NewCodec(c *conf.Shortener) (*shortcode.Codec, error) {
	minLen := c.MinCodeLength
	if minLen <= 0 {
		minLen = defaultMinCodeLength
	}
	return shortcode.NewCodec(c.HashSalt, minLen)
}

// URLUsecase implements shorten, resolve/redirect and listing on top of the
// allocator, codec, directory, cache and click producer.
type URLUsecase struct {
	repo   ShortLinkRepo
	cache  RedirectCache
	alloc  *IDAllocator
	codec  *shortcode.Codec
	clicks ClickProducer
	stats  ClickStatsReader
	log    *log.Helper
}

func NewURLUsecase(
	repo ShortLinkRepo,
	cache RedirectCache,
	alloc *IDAllocator,
	codec *shortcode.Codec,
	clicks ClickProducer,
	stats ClickStatsReader,
	logger log.Logger,
) *URLUsecase {
	return &URLUsecase{
		repo:   repo,
		cache:  cache,
		alloc:  alloc,
		codec:  codec,
		clicks: clicks,
		stats:  stats,
		log:    log.NewHelper(logger),
	}
}

// Shorten creates a short link. With an alias the alias is the short code
// verbatim; otherwise the code is derived from a freshly allocated ID.
//
// The ID allocation and the insert are deliberately not one storage
// transaction: a crash in between forfeits the allocated ID, which is
// acceptable since the ID space is sparse. Folding allocation into the
// insert transaction would serialize every create on the counter row.
func (uc *URLUsecase) Shorten(ctx context.Context, originalURL string, ownerID uuid.UUID, alias string, expiresAt *time.Time) (*ShortLink, error) {
	code := alias
	if code == "" {
		id, err := uc.alloc.NextID(ctx)
		if err != nil {
			return nil, kerrors.ServiceUnavailable("ID_ALLOCATION_FAILED", "could not allocate a short link id, retry the request").WithCause(err)
		}
		code, err = uc.codec.Encode(id)
		if err != nil {
			return nil, err
		}
	}

	link := &ShortLink{
		ID:          uuid.New(),
		OriginalURL: originalURL,
		ShortCode:   code,
		OwnerID:     ownerID,
		ExpiresAt:   expiresAt,
		IsActive:    true,
	}

	if err := uc.repo.Save(ctx, link); err != nil {
		if errors.Is(err, ErrShortCodeExists) {
			if alias != "" {
				return nil, kerrors.Conflict("ALIAS_TAKEN", fmt.Sprintf("alias %q is already in use", alias))
			}
			// Allocator-derived codes collide only on codec misconfiguration
			// or a reseeded counter; the caller can simply retry.
			return nil, kerrors.Conflict("SHORT_CODE_CONFLICT", "generated short code collided, retry the request")
		}
		return nil, err
	}

	uc.log.WithContext(ctx).Infof("created short link %s -> %s", link.ShortCode, link.OriginalURL)
	return link, nil
}

// Resolve returns the original URL for a short code, serving from the cache
// when possible and filling it on a directory hit.
func (uc *URLUsecase) Resolve(ctx context.Context, code string) (string, error) {
	if target, ok := uc.cache.Get(ctx, code); ok {
		return target, nil
	}

	link, err := uc.repo.FindByShortCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrLinkNotFound) {
			return "", kerrors.NotFound("SHORT_CODE_NOT_FOUND", fmt.Sprintf("no link for short code %q", code))
		}
		return "", err
	}

	uc.cache.Set(ctx, code, link.OriginalURL)
	return link.OriginalURL, nil
}

// Redirect resolves a short code and records the click. The click append is
// fire-and-forget: it runs off the request goroutine and its failure is
// logged, never surfaced to the redirecting client.
func (uc *URLUsecase) Redirect(ctx context.Context, code, clientIP string) (string, error) {
	target, err := uc.Resolve(ctx, code)
	if err != nil {
		return "", err
	}

	go uc.recordClick(code, clientIP)
	return target, nil
}

func (uc *URLUsecase) recordClick(code, clientIP string) {
	ctx, cancel := context.WithTimeout(context.Background(), clickProduceTimeout)
	defer cancel()

	if err := uc.clicks.Produce(ctx, code, clientIP); err != nil {
		uc.log.Warnf("failed to record click for %s: %v", code, err)
	}
}

// ListForOwner returns the owner's links, uncached.
func (uc *URLUsecase) ListForOwner(ctx context.Context, ownerID uuid.UUID) ([]*ShortLink, error) {
	return uc.repo.ListByOwner(ctx, ownerID)
}

// LinkStats is a short link enriched with its aggregated click count.
type LinkStats struct {
	Link        *ShortLink
	TotalClicks int64
}

// Stats returns a link together with the click total summed across the
// aggregates persisted by the consumer. The total is eventually consistent
// with actual redirects.
func (uc *URLUsecase) Stats(ctx context.Context, code string) (*LinkStats, error) {
	link, err := uc.repo.FindByShortCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrLinkNotFound) {
			return nil, kerrors.NotFound("SHORT_CODE_NOT_FOUND", fmt.Sprintf("no link for short code %q", code))
		}
		return nil, err
	}

	total, err := uc.stats.TotalClicks(ctx, code)
	if err != nil {
		return nil, err
	}

	return &LinkStats{Link: link, TotalClicks: total}, nil
}

// Deactivate turns a link off for its owner. The redirect cache is not
// invalidated; cached entries keep serving until their TTL lapses.
func (uc *URLUsecase) Deactivate(ctx context.Context, code string, ownerID uuid.UUID) error {
	if err := uc.repo.Deactivate(ctx, code, ownerID); err != nil {
		if errors.Is(err, ErrLinkNotFound) {
			return kerrors.NotFound("SHORT_CODE_NOT_FOUND", fmt.Sprintf("no link for short code %q", code))
		}
		return err
	}
	return nil
}
