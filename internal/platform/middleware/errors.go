package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medequip/dmeflow/internal/platform/workflow"
)

// ErrorHandler maps engine errors onto HTTP responses. Typed workflow
// errors carry their own status; anything untyped is reported as an
// internal error without leaking the message.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			_ = c.JSON(he.Code, map[string]interface{}{"error": he.Message})
			return
		}

		status := workflow.HTTPStatus(err)
		body := map[string]interface{}{"error": err.Error()}
		if kind := workflow.KindOf(err); kind != "" {
			body["kind"] = string(kind)
		} else {
			logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("internal error")
			body["error"] = http.StatusText(http.StatusInternalServerError)
		}
		_ = c.JSON(status, body)
	}
}
