// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response envelope shared by every endpoint.
//
// Success:
//
//	HTTP/1.1 200 OK
//	{ "success": true, "message": "...", "data": {...}, "pagination": {...} }
//
// Error:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "success": false,
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "error": "Digest not found"
//	}
//
// `message`, `data` and `pagination` are omitted when empty. Error codes are
// the constants in errors.go; clients branch on `code`, never on `error`.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-digest-backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Always false.
	Success bool `json:"success" example:"false"`
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Error string `json:"error" example:"Digest not found"`
}

// Pagination is the offset/limit metadata of list responses.
type Pagination struct {
	Total  int64 `json:"total" example:"42"`
	Limit  int   `json:"limit" example:"20"`
	Offset int   `json:"offset" example:"0"`
}

// SuccessResponse is the standard success envelope.
type SuccessResponse struct {
	Success    bool        `json:"success" example:"true"`
	Message    string      `json:"message,omitempty"`
	Data       any         `json:"data,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// fail aborts the request with the error envelope. 5xx responses are logged
// with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		Success:   false,
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Error:     msg,
	}

	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("error", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail() for router-level fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes {success:true, data} with status 200.
func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: data})
}

// okMessage writes {success:true, message, data?}.
func okMessage(c *gin.Context, msg string, data any) {
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: msg, Data: data})
}

// okPage writes a list response with pagination metadata.
func okPage(c *gin.Context, data any, p Pagination) {
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: data, Pagination: &p})
}
