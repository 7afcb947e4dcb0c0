package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/raidledger/guildops/guildops/apperrors"
)

// ErrorHandler maps the error taxonomy onto HTTP statuses: validation 400,
// not-found 404, unauthorized 403, everything else 500. Handlers just return
// errors and never touch status codes themselves.
func ErrorHandler(c *fiber.Ctx, err error) error {
	switch {
	case apperrors.IsValidation(err):
		return SendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case apperrors.IsNotFound(err):
		return SendError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case apperrors.IsUnauthorized(err):
		return SendError(c, http.StatusForbidden, "FORBIDDEN", err.Error())
	}

	if fe, ok := err.(*fiber.Error); ok {
		return SendError(c, fe.Code, "HTTP_ERROR", fe.Message)
	}

	slog.Error("Unhandled API error",
		slog.String("path", c.Path()),
		slog.String("method", c.Method()),
		slog.String("error", err.Error()))
	return SendError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal server error")
}

// LoggingMiddleware logs every request in a structured format, level scaled
// by status code.
func LoggingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		duration := time.Since(start)

		statusCode := c.Response().StatusCode()
		logLevel := slog.LevelInfo
		if statusCode >= 400 && statusCode < 500 {
			logLevel = slog.LevelWarn
		} else if statusCode >= 500 {
			logLevel = slog.LevelError
		}

		logger := slog.With(
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", statusCode),
			slog.Duration("duration", duration),
			slog.String("ip", c.IP()),
		)
		if err != nil {
			logger = logger.With(slog.String("error", err.Error()))
		}
		logger.Log(c.Context(), logLevel, "HTTP request processed")

		return err
	}
}

// SecurityHeaders adds standard security headers to all responses
func SecurityHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		return c.Next()
	}
}
