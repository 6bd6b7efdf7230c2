package middleware

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Timeout wraps each request in a deadline context. This is the only
// cross-request cancellation primitive; long ancestor walks and batch
// retrievals all observe this context.
func Timeout(timeout time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			done := make(chan struct{})
			r = r.WithContext(ctx)

			go func() {
				defer func() {
					if err := recover(); err != nil {
						logger.Error("Panic in timed handler",
							zap.String("requestId", GetRequestIDFromRequest(r)),
							zap.Any("panic", err),
						)
					}
				}()

				next.ServeHTTP(w, r)
				close(done)
			}()

			select {
			case <-done:
				return
			case <-ctx.Done():
				logger.Warn("Request timed out",
					zap.String("requestId", GetRequestIDFromRequest(r)),
					zap.String("path", r.URL.Path),
				)
				if w.Header().Get("Content-Type") == "" {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusRequestTimeout)
					w.Write([]byte(`{"error":"Request timeout"}`))
				}
			}
		})
	}
}
