package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/tablefirst/paydesk/internal/handler"
	"github.com/tablefirst/paydesk/internal/logging"
)

// Recovery converts panics into 500 responses. A panic mid-reconciliation
// must not take the server down; the ledger row stays locked only until the
// surrounding transaction rolls back.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			logging.FromContext(r.Context()).Error("panic recovered",
				"error", v,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)
			handler.RespondAppError(w, handler.ErrInternalError, nil)
		}()
		next.ServeHTTP(w, r)
	})
}
