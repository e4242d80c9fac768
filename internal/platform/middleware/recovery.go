package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/auth"
)

// failedBody matches the JSON shape of a FAILED scheduling error so clients
// see one error format.
type failedBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Recovery turns a handler panic into a 500. The stack, the route and the
// caller are logged; none of it reaches the response. http.ErrAbortHandler
// is re-raised so net/http can drop the connection.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
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

				stack := make([]byte, 8<<10)
				stack = stack[:runtime.Stack(stack, false)]
				ctx := c.Request().Context()
				rid, _ := c.Get("request_id").(string)

				logger.Error().
					Str("request_id", rid).
					Str("method", c.Request().Method).
					Str("route", c.Path()).
					Str("user_id", auth.UserIDFromContext(ctx)).
					Str("role", auth.RoleFromContext(ctx)).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", stack).
					Msg("panic recovered")

				err = echo.NewHTTPError(http.StatusInternalServerError, failedBody{Kind: "FAILED", Message: "internal server error"})
			}()
			return next(c)
		}
	}
}
