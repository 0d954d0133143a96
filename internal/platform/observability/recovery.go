package observability

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/tomoya0318/PrefTrend/internal/platform/httpx"
	"github.com/tomoya0318/PrefTrend/internal/platform/requestctx"
)

// RecoveryMiddleware turns a handler panic into a 500 envelope and logs the stack.
// fallback is used when no request-scoped logger is on the context.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				ctx := r.Context()
				logger := requestctx.Logger(ctx)
				if logger == requestctx.NoopLogger() {
					logger = fallback
				}
				logger.Error("panic recovered", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
				httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
