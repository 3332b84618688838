// Package metadata records who is calling: client IP and a classified
// User-Agent, stored on the request context.
package metadata

import (
	"context"
	"net/http"
	"strings"

	"github.com/mssola/useragent"
)

type contextKeyClient struct{}

// Client describes the caller of a request.
type Client struct {
	IP        string
	UserAgent string
	Browser   string
	OS        string
	Bot       bool
	Mobile    bool
}

// ClientMetadata extracts client details and adds them to the context.
// Apply it early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithClient(r.Context(), ClientFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientFromRequest classifies the request's caller.
func ClientFromRequest(r *http.Request) Client {
	raw := r.Header.Get("User-Agent")
	c := Client{IP: ClientIPFromRequest(r), UserAgent: raw}
	if raw == "" {
		return c
	}
	ua := useragent.New(raw)
	c.Browser, _ = ua.Browser()
	c.OS = ua.OS()
	c.Bot = ua.Bot()
	c.Mobile = ua.Mobile()
	return c
}

// GetClient retrieves the client from the context.
func GetClient(ctx context.Context) Client {
	c, _ := ctx.Value(contextKeyClient{}).(Client)
	return c
}

// WithClient injects client details into a context.
func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, contextKeyClient{}, c)
}

// ClientIPFromRequest extracts the real client IP, honouring proxy headers.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return addr[:idx]
		}
		return addr
	}
	return "unknown"
}
