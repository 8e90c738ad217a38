package types

import (
	"fmt"
	"maps"
	"net/http"
	"strings"
)

// ErrorCode is a stable machine-readable identifier for a failure class.
// The segment before the first underscore names the family; the family
// decides the HTTP status unless statusOverrides says otherwise.
type ErrorCode string

// The full code catalog. Handlers and repositories return these, never ad
// hoc strings, so clients can switch on code values across releases.
const (
	// Validation (400)
	ErrCodeValidationInvalidMetric   ErrorCode = "validation_invalid_metric"
	ErrCodeValidationInvalidCategory ErrorCode = "validation_invalid_category"
	ErrCodeValidationInvalidSeverity ErrorCode = "validation_invalid_severity"
	ErrCodeValidationValueRange      ErrorCode = "validation_value_out_of_range"
	ErrCodeValidationInvalidWindow   ErrorCode = "validation_invalid_window"
	ErrCodeValidationMissingField    ErrorCode = "validation_missing_required_field"
	ErrCodeValidationBatchSize       ErrorCode = "validation_batch_size_exceeded"
	ErrCodeValidationInvalidLat      ErrorCode = "validation_invalid_latitude"
	ErrCodeValidationInvalidLon      ErrorCode = "validation_invalid_longitude"

	// Auth (401)
	ErrCodeAuthKeyMissing ErrorCode = "auth_api_key_missing"
	ErrCodeAuthKeyInvalid ErrorCode = "auth_api_key_invalid"
	ErrCodeAuthKeyRevoked ErrorCode = "auth_api_key_revoked"

	// Not Found (404)
	ErrCodeNotFoundLawn           ErrorCode = "not_found_lawn"
	ErrCodeNotFoundApplication    ErrorCode = "not_found_application"
	ErrCodeNotFoundRule           ErrorCode = "not_found_rule"
	ErrCodeNotFoundAPIKey         ErrorCode = "not_found_api_key"
	ErrCodeNotFoundRecommendation ErrorCode = "not_found_recommendation"

	// Conflict (409)
	ErrCodeConflictLawnName ErrorCode = "conflict_lawn_name_exists"
	ErrCodeConflictRuleID   ErrorCode = "conflict_rule_id_exists"

	// Catalog (500): the engine cannot run without a valid rule catalog, so
	// these are fatal at startup and never surfaced per-request.
	ErrCodeCatalogInvalid   ErrorCode = "catalog_invalid_rule"
	ErrCodeCatalogDuplicate ErrorCode = "catalog_duplicate_rule_id"

	// Engine warnings: attached to evaluation results, never fatal.
	ErrCodeClockSkew ErrorCode = "engine_clock_skew"

	// Provider (502): a data collaborator failed to supply readings or
	// history; the evaluation pass is aborted and the error propagated.
	ErrCodeProviderUnavailable ErrorCode = "provider_unavailable"
	ErrCodeProviderBadPayload  ErrorCode = "provider_bad_payload"
	ErrCodeProviderRateLimited ErrorCode = "provider_rate_limited"

	// Internal (500)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// statusOverrides lists codes whose status departs from their family.
var statusOverrides = map[ErrorCode]int{
	ErrCodeProviderRateLimited: http.StatusTooManyRequests,
}

// familyStatus maps code families to statuses. First match wins, so longer
// prefixes sharing a first segment must come before shorter ones.
var familyStatus = []struct {
	prefix string
	status int
}{
	{"validation_", http.StatusBadRequest},
	{"auth_", http.StatusUnauthorized},
	{"not_found_", http.StatusNotFound},
	{"conflict_", http.StatusConflict},
	{"provider_", http.StatusBadGateway},
	{"catalog_", http.StatusInternalServerError},
	{"engine_", http.StatusInternalServerError},
	{"internal_", http.StatusInternalServerError},
}

// HTTPStatus resolves the response status for this code. Codes outside
// every known family map to 500 so a table gap can never mask a failure
// with a success status.
func (c ErrorCode) HTTPStatus() int {
	if status, ok := statusOverrides[c]; ok {
		return status
	}
	for _, f := range familyStatus {
		if strings.HasPrefix(string(c), f.prefix) {
			return f.status
		}
	}
	return http.StatusInternalServerError
}

// AppError is the error type every layer of the service speaks. The Code
// drives status mapping and client dispatch, Message is safe to show a
// caller, Err preserves the cause for errors.Is and logs, and Details
// carries structured context the response layer copies into the payload.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
	Details map[string]any
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus is shorthand for e.Code.HTTPStatus().
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy carrying the merged detail map. The receiver
// is left untouched, so package-level error values stay shareable.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	clone := *e
	clone.Details = make(map[string]any, len(e.Details)+len(details))
	maps.Copy(clone.Details, e.Details)
	maps.Copy(clone.Details, details)
	return &clone
}

// NewAppError builds an AppError around an optional cause.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NewAppErrorWithDetails builds an AppError that already carries structured
// detail context.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, Err: err, Details: details}
}
