package testutil

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"shelfcheck/pkg/platform/middleware/metadata"
)

// WithURLParams attaches chi route parameters so a handler func can be called
// directly without going through a router.
func WithURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// WithClient adds client metadata to the request context, as the metadata
// middleware would.
func WithClient(req *http.Request, c metadata.Client) *http.Request {
	return req.WithContext(metadata.WithClient(req.Context(), c))
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
