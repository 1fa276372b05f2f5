// Package handlers defines the HTTP-layer error codes and the mapping from
// service errors to statuses.
//
// Codes are lowercase snake_case. Generic codes mirror HTTP semantics; the
// domain codes below them identify failures that the status alone does not
// convey (e.g. a 502 from the content provider vs. a 500 from storage).
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-digest-backend/internal/domain"
	"github.com/tbourn/go-digest-backend/internal/grounding"
	"github.com/tbourn/go-digest-backend/internal/http/middleware"
	"github.com/tbourn/go-digest-backend/internal/services"
)

// msgProviderFailed replaces upstream error bodies, which can echo prompts
// and API diagnostics.
const msgProviderFailed = "content provider failed"

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeTimeout          = "timeout"

	// Domain-specific:
	ErrCodeValidation        = "validation_failed"
	ErrCodeNotConfigured     = "provider_not_configured"
	ErrCodeGenerationFailed  = "generation_failed"
	ErrCodePersistenceFailed = "persistence_failed"
	ErrCodeSchedulerFailed   = "scheduler_failed"
)

// failFromService maps a service error onto status and code.
func failFromService(c *gin.Context, err error) {
	var (
		ve *domain.ValidationError
		pe *services.PersistenceError
	)
	switch {
	case errors.As(err, &ve):
		fail(c, http.StatusBadRequest, ErrCodeValidation, ve.Error())
	case errors.Is(err, services.ErrMissingUserID),
		errors.Is(err, services.ErrMissingPushToken),
		errors.Is(err, services.ErrInvalidHour):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrSettingsNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "Settings not found")
	case errors.Is(err, services.ErrDigestNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "Digest not found")
	case errors.Is(err, grounding.ErrNotConfigured):
		fail(c, http.StatusServiceUnavailable, ErrCodeNotConfigured, err.Error())
	case grounding.IsGenerationError(err):
		middleware.LoggerFrom(c).Error().Err(err).Msg("content generation failed")
		fail(c, http.StatusBadGateway, ErrCodeGenerationFailed, msgProviderFailed)
	case errors.As(err, &pe):
		fail(c, http.StatusInternalServerError, ErrCodePersistenceFailed, pe.Error())
	case errors.Is(err, context.DeadlineExceeded):
		fail(c, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
