package service

import (
	"context"
	"time"

	"shortly/internal/biz"
	"shortly/internal/conf"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/google/uuid"
	"github.com/google/wire"
	"github.com/samber/lo"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewShortenerService)

// CreateLinkRequest is the shorten request body.
type CreateLinkRequest struct {
	OriginalURL string     `json:"original_url"`
	Alias       string     `json:"alias,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// LinkReply describes one short link.
type LinkReply struct {
	ShortCode   string     `json:"short_code"`
	ShortURL    string     `json:"short_url"`
	OriginalURL string     `json:"original_url"`
	IsActive    bool       `json:"is_active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ListLinksReply wraps an owner's links.
type ListLinksReply struct {
	Links []*LinkReply `json:"links"`
}

// StatsReply is a link with its aggregated click total.
type StatsReply struct {
	Link        *LinkReply `json:"link"`
	TotalClicks int64      `json:"total_clicks"`
}

// ShortenerService maps transport requests onto the URL usecase.
type ShortenerService struct {
	uc      *biz.URLUsecase
	baseURL string
}

func NewShortenerService(uc *biz.URLUsecase, c *conf.Shortener) *ShortenerService {
	return &ShortenerService{uc: uc, baseURL: c.BaseURL}
}

// CreateLink shortens a URL for the owner, honoring a user-supplied alias.
func (s *ShortenerService) CreateLink(ctx context.Context, ownerID uuid.UUID, req *CreateLinkRequest) (*LinkReply, error) {
	if req.OriginalURL == "" {
		return nil, errors.BadRequest("MISSING_URL", "original_url is required")
	}

	link, err := s.uc.Shorten(ctx, req.OriginalURL, ownerID, req.Alias, req.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return s.toReply(link), nil
}

// Redirect resolves a short code and records the click.
func (s *ShortenerService) Redirect(ctx context.Context, code, clientIP string) (string, error) {
	return s.uc.Redirect(ctx, code, clientIP)
}

// ListLinks returns the owner's links.
func (s *ShortenerService) ListLinks(ctx context.Context, ownerID uuid.UUID) (*ListLinksReply, error) {
	links, err := s.uc.ListForOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &ListLinksReply{
		Links: lo.Map(links, func(l *biz.ShortLink, _ int) *LinkReply {
			return s.toReply(l)
		}),
	}, nil
}

// Stats returns a link with its eventually consistent click total.
func (s *ShortenerService) Stats(ctx context.Context, code string) (*StatsReply, error) {
	st, err := s.uc.Stats(ctx, code)
	if err != nil {
		return nil, err
	}
	return &StatsReply{Link: s.toReply(st.Link), TotalClicks: st.TotalClicks}, nil
}

// DeactivateLink turns the owner's link off.
func (s *ShortenerService) DeactivateLink(ctx context.Context, ownerID uuid.UUID, code string) error {
	return s.uc.Deactivate(ctx, code, ownerID)
}

func (s *ShortenerService) toReply(l *biz.ShortLink) *LinkReply {
	return &LinkReply{
		ShortCode:   l.ShortCode,
		ShortURL:    s.baseURL + "/r/" + l.ShortCode,
		OriginalURL: l.OriginalURL,
		IsActive:    l.IsActive,
		ExpiresAt:   l.ExpiresAt,
		CreatedAt:   l.CreatedAt,
	}
}
