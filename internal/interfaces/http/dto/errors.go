package dto

import (
	"net/http"

	"github.com/clinic/backend/internal/domain/shared"
)

// Domain error codes are returned to clients unchanged. The codes below are
// raised by the HTTP layer itself.

// Request error codes
const (
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "BAD_REQUEST"
	// ErrCodeValidation is used when request fields fail validation
	ErrCodeValidation = "VALIDATION_ERROR"
	// ErrCodeClinicRequired is used when the clinic header is missing or malformed
	ErrCodeClinicRequired = "CLINIC_REQUIRED"
	// ErrCodeRequestTooLarge is used when the body exceeds the configured limit
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"
)

// Server error codes
const (
	// ErrCodeInternal is used for unexpected errors
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeUnavailable is used when a dependency needed by the request is down
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	// Domain errors
	shared.CodeNotFound:          http.StatusNotFound,
	shared.CodeInvalidInput:      http.StatusBadRequest,
	shared.CodeInvalidTransition: http.StatusConflict,
	shared.CodeInvalidState:      http.StatusUnprocessableEntity,
	shared.CodeFeeNotConfigured:  http.StatusUnprocessableEntity,
	// the version moved under us more times than the retry budget allows
	shared.CodeConcurrencyConflict: http.StatusConflict,
	shared.CodePersistenceFailure:  http.StatusInternalServerError,
	shared.CodePartialBatchFailure: http.StatusInternalServerError,
	shared.CodeDispatchFailure:     http.StatusBadGateway,

	// Request errors
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeValidation:      http.StatusBadRequest,
	ErrCodeClinicRequired:  http.StatusBadRequest,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,

	// Server errors
	ErrCodeInternal:    http.StatusInternalServerError,
	ErrCodeUnavailable: http.StatusServiceUnavailable,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
