package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/conduit-lang/jsonapi/internal/web/response"
	"go.uber.org/zap"
)

// Recovery creates a middleware that turns a panic into a JSON:API 500 document
// and logs it with the stack
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", rec)
				}
				logger.Error("panic recovered",
					zap.String("request_id", GetRequestID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Error(err),
					zap.ByteString("stack", debug.Stack()),
				)

				response.RenderJSONAPIError(w, http.StatusInternalServerError, "Unknown error", "")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
