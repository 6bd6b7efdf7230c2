package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

// Recovery converts panics into 500 responses instead of dropped connections.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("Panic recovered",
						zap.String("requestId", GetRequestIDFromRequest(r)),
						zap.Any("panic", err),
						zap.ByteString("stack", debug.Stack()),
					)

					// If the response was already partially written there is
					// nothing left to do; the server closes the connection.
					if w.Header().Get("Content-Type") == "" {
						w.Header().Set("Content-Type", "application/json")
						w.WriteHeader(http.StatusInternalServerError)
						w.Write([]byte(`{"error":"Internal server error"}`))
					}
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
