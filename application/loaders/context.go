package loaders

import (
	"context"
	"net/http"
)

type contextKey struct{}

// WithLoaders attaches a batching context to ctx.
func WithLoaders(ctx context.Context, l *Loaders) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the request's batching context, if any.
func FromContext(ctx context.Context) (*Loaders, bool) {
	l, ok := ctx.Value(contextKey{}).(*Loaders)
	return l, ok
}

// Middleware constructs a fresh batching context for every request and
// discards it when the request completes. The factory is called once per
// request so no cache state ever crosses request boundaries.
func Middleware(factory func() *Loaders) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithLoaders(r.Context(), factory())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
