package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/lin-1259/ai-xiutu/internal/api/shared"
	"github.com/lin-1259/ai-xiutu/internal/domain"
	"github.com/lin-1259/ai-xiutu/internal/ingest"
	"github.com/lin-1259/ai-xiutu/internal/provider"
	"github.com/lin-1259/ai-xiutu/internal/storage"
	"github.com/lin-1259/ai-xiutu/internal/store"
	"github.com/lin-1259/ai-xiutu/internal/task"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	var verrs validator.ValidationErrors
	switch {
	// Bad request errors
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, provider.ErrInvalidProvider),
		errors.Is(err, ingest.ErrInvalidConfig),
		errors.Is(err, storage.ErrUnsupportedImage),
		errors.As(err, &verrs):
		return http.StatusBadRequest

	// Not found errors
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, domain.ErrImageNotFound),
		errors.Is(err, domain.ErrTemplateNotFound),
		errors.Is(err, provider.ErrProviderNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, store.ErrDuplicate),
		errors.Is(err, provider.ErrDuplicateProvider),
		errors.Is(err, provider.ErrBuiltInProvider),
		errors.Is(err, task.ErrNotRunning),
		errors.Is(err, task.ErrJobRunning),
		errors.Is(err, task.ErrJobFinished),
		errors.Is(err, task.ErrNotRetryable),
		errors.Is(err, task.ErrRetryLimit),
		errors.Is(err, ingest.ErrAlreadyRunning):
		return http.StatusConflict

	case errors.Is(err, task.ErrRunnerStopped):
		return http.StatusServiceUnavailable

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return SanitizeValidationError(err)
	case errors.Is(err, domain.ErrImageNotFound):
		return "Image not found"
	case errors.Is(err, domain.ErrTemplateNotFound):
		return "Template not found"
	case errors.Is(err, storage.ErrUnsupportedImage):
		return "Unsupported image format"
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request data"
	case errors.Is(err, store.ErrJobNotFound):
		return "Job not found"
	case errors.Is(err, store.ErrNotFound):
		return "Resource not found"

	case errors.Is(err, provider.ErrProviderNotFound):
		return "Provider not found"
	case errors.Is(err, provider.ErrDuplicateProvider):
		return "Provider already exists"
	case errors.Is(err, provider.ErrBuiltInProvider):
		return "Built-in providers cannot be removed"
	case errors.Is(err, provider.ErrInvalidProvider):
		return "Invalid provider configuration"

	case errors.Is(err, task.ErrNotRunning):
		return "Job is not running"
	case errors.Is(err, task.ErrJobRunning):
		return "Job is running"
	case errors.Is(err, task.ErrJobFinished):
		return "Job already finished"
	case errors.Is(err, task.ErrNotRetryable):
		return "Only failed jobs can be retried"
	case errors.Is(err, task.ErrRetryLimit):
		return "Retry limit reached"
	case errors.Is(err, task.ErrRunnerStopped):
		return "Scheduler is not running"

	case errors.Is(err, ingest.ErrAlreadyRunning):
		return "Hot folder is already running"
	case errors.Is(err, ingest.ErrInvalidConfig):
		return "Hot folder is not configured"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the status and safe message for err. A non-empty
// fallback replaces the generic message for server errors.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallback != "" {
		message = fallback
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("Invalid %s: %s", lowerFirst(fe.Field()), getValidationTagMessage(fe.Tag()))
	}
	return "Validation error"
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "url":
		return "invalid URL"
	case "gte", "min":
		return "too small"
	case "lte", "max":
		return "too large"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
