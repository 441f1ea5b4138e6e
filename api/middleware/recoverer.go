package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/angelmondragon/storefront-autopilot/api/responses"
	pkgerrors "github.com/angelmondragon/storefront-autopilot/pkg/errors"
	"github.com/angelmondragon/storefront-autopilot/pkg/logger"
)

// Recoverer turns a handler panic into a 500 error envelope. Aborted
// handlers (http.ErrAbortHandler) keep panicking so net/http drops the
// connection.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}
				ctx := r.Context()
				if logg != nil {
					ctx = logg.WithField(ctx, "panic", fmt.Sprint(v))
				}
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, fmt.Errorf("panic: %v", v), "handler panicked"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
