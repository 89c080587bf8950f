package web

import (
	"context"
	"net/http"
	"strings"

	"github.com/JonMunkholm/tablextract/internal/core"
)

// withRequestMetadata adds the client address and User-Agent to ctx for run
// history. RemoteAddr has already been resolved by TrustedRealIP.
func withRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = core.ContextWithClientIP(ctx, clientIP(r))
	ctx = core.ContextWithUserAgent(ctx, r.UserAgent())
	return ctx
}

// baseURL returns the externally visible origin for links in responses.
func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.Server.PublicURL != "" {
		return strings.TrimRight(s.cfg.Server.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
