// Package handlers provides HTTP handler implementations for the terminal
// API.
//
// This file defines the standard response utilities used across all
// endpoints: a structured error envelope with a stable machine-readable
// code, and helpers for common success shapes. Uniform envelopes let the
// till UI branch on `code` instead of parsing messages.
//
// Example error response:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "concurrent_modification",
//	  "message": "concurrent tab operation in progress"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-pos-backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
//
// Fields:
//   - RequestID: correlation ID echoed from X-Request-ID, used to match
//     server logs with client-side errors.
//   - Code: a stable, machine-readable string (see errors.go constants).
//   - Message: a human-readable description, safe for operator display.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// fail aborts the request with a structured error and logs server-side
// errors with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	reqID := c.Writer.Header().Get("X-Request-ID")
	resp := ErrorResponse{
		RequestID: reqID,
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail(), for router-level fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
