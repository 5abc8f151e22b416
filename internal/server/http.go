package server

import (
	"net"
	nethttp "net/http"
	"strings"

	"shortly/internal/conf"
	"shortly/internal/service"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/uuid"
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer)

const ownerHeader = "X-Owner-ID"

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, shortener *service.ShortenerService, logger log.Logger) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
		),
	}
	if c.HTTP.Network != "" {
		opts = append(opts, http.Network(c.HTTP.Network))
	}
	if c.HTTP.Addr != "" {
		opts = append(opts, http.Address(c.HTTP.Addr))
	}
	if d := c.HTTP.Timeout.AsDuration(0); d > 0 {
		opts = append(opts, http.Timeout(d))
	}
	srv := http.NewServer(opts...)

	r := srv.Route("/")
	r.POST("/api/links", createLink(shortener))
	r.GET("/api/links", listLinks(shortener))
	r.GET("/api/links/{code}/stats", linkStats(shortener))
	r.DELETE("/api/links/{code}", deactivateLink(shortener))

	// Redirect handler with 302 redirect. Raw net/http so the Location
	// response carries no JSON envelope.
	srv.HandleFunc("/r/{code}", func(w nethttp.ResponseWriter, req *nethttp.Request) {
		code := strings.TrimPrefix(req.URL.Path, "/r/")
		target, err := shortener.Redirect(req.Context(), code, clientIP(req))
		if err != nil {
			se := kerrors.FromError(err)
			nethttp.Error(w, se.Message, int(se.Code))
			return
		}
		nethttp.Redirect(w, req, target, nethttp.StatusFound)
	})

	return srv
}

func createLink(svc *service.ShortenerService) http.HandlerFunc {
	return func(ctx http.Context) error {
		var req service.CreateLinkRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		ownerID, err := ownerFromHeader(ctx)
		if err != nil {
			return err
		}
		reply, err := svc.CreateLink(ctx, ownerID, &req)
		if err != nil {
			return err
		}
		return ctx.Result(nethttp.StatusCreated, reply)
	}
}

func listLinks(svc *service.ShortenerService) http.HandlerFunc {
	return func(ctx http.Context) error {
		ownerID, err := ownerFromHeader(ctx)
		if err != nil {
			return err
		}
		reply, err := svc.ListLinks(ctx, ownerID)
		if err != nil {
			return err
		}
		return ctx.Result(nethttp.StatusOK, reply)
	}
}

func linkStats(svc *service.ShortenerService) http.HandlerFunc {
	return func(ctx http.Context) error {
		reply, err := svc.Stats(ctx, ctx.Vars().Get("code"))
		if err != nil {
			return err
		}
		return ctx.Result(nethttp.StatusOK, reply)
	}
}

func deactivateLink(svc *service.ShortenerService) http.HandlerFunc {
	return func(ctx http.Context) error {
		ownerID, err := ownerFromHeader(ctx)
		if err != nil {
			return err
		}
		if err := svc.DeactivateLink(ctx, ownerID, ctx.Vars().Get("code")); err != nil {
			return err
		}
		return ctx.Result(nethttp.StatusNoContent, nil)
	}
}

// ownerFromHeader reads the owner identity established by the upstream auth
// layer.
func ownerFromHeader(ctx http.Context) (uuid.UUID, error) {
	raw := ctx.Header().Get(ownerHeader)
	if raw == "" {
		return uuid.Nil, kerrors.Unauthorized("MISSING_OWNER", "missing "+ownerHeader+" header")
	}
	ownerID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, kerrors.BadRequest("INVALID_OWNER", "malformed "+ownerHeader+" header")
	}
	return ownerID, nil
}

func clientIP(req *nethttp.Request) string {
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.Index(fwd, ","); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
