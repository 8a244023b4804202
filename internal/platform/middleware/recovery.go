package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mchcare/mchcare/internal/platform/auth"
)

// Recovery turns a handler panic into a 500 response. It logs through the
// request-scoped logger installed by Logger when there is one, falling back
// to base.
func Recovery(base zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				ctx := c.Request().Context()
				logger := zerolog.Ctx(ctx)
				if logger.GetLevel() == zerolog.Disabled {
					logger = &base
				}
				logger.Error().
					Str("method", c.Request().Method).
					Str("path", c.Path()).
					Str("user_id", auth.UserIDFromContext(ctx)).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}
