package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kiranshivaraju/demandcast/internal/api/response"
)

// Recovery turns a handler panic into a 500 envelope carrying the request ID, so
// an operator can find the stack trace for a failed forecast call.
// http.ErrAbortHandler is re-raised so the server can abort the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			if err == http.ErrAbortHandler {
				panic(err)
			}

			reqID := chimw.GetReqID(r.Context())
			slog.Error("panic recovered",
				"error", err,
				"stack", string(debug.Stack()),
				"request_id", reqID,
				"method", r.Method,
				"route", routePattern(r),
				"path", r.URL.Path,
			)

			var details any
			if reqID != "" {
				details = map[string]string{"request_id": reqID}
			}
			response.Error(w, http.StatusInternalServerError,
				response.CodeInternal, "An unexpected error occurred", details)
		}()
		next.ServeHTTP(w, r)
	})
}

// routePattern is the matched chi pattern, e.g. /api/v1/forecasts/runs/{runID}.
// It is empty outside a chi router.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
