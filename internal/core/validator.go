package core

import (
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"turfwatch/internal/types"
)

// Continental US bounding box, inclusive. Lawns must fall inside it because
// the station data provider only covers US climate reference stations.
const (
	conusMinLat = 24.0
	conusMaxLat = 50.0
	conusMinLon = -125.0
	conusMaxLon = -66.0
)

// ValidationError describes a single field-level validation failure in a form
// safe to return to API clients.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult carries the outcome of a validation pass. Errors block the
// request; Warnings are advisory and are surfaced in the response meta.
// The validator itself only produces Errors; callers append Warnings for
// soft conditions (e.g., a reading timestamp slightly in the future).
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []string
}

// IsValid reports whether the result contains no blocking errors.
// Warnings do not affect validity.
func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator wraps go-playground/validator with domain-specific tags and
// translates failures into structured AppErrors.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a new Validator and registers custom validation tags:
//
//   - metric_name:  value names a known sensor metric
//   - grass_type:   value names a supported grass species
//   - app_category: value names a known application category
//   - severity_name: value names a recommendation severity
//   - monthday:     value is a real recurring month-day (zero value fails)
//   - is_conus:     Lat field, together with its sibling Lon field, falls
//     inside the continental United States
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New()

	// RegisterValidation only errors on an empty tag or nil fn.
	_ = v.RegisterValidation("metric_name", validateMetricName)
	_ = v.RegisterValidation("grass_type", validateGrassType)
	_ = v.RegisterValidation("app_category", validateAppCategory)
	_ = v.RegisterValidation("severity_name", validateSeverityName)
	_ = v.RegisterValidation("monthday", validateMonthDay)
	_ = v.RegisterValidation("is_conus", validateCONUS)

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// ValidateStruct validates s against its struct tags. On failure it returns a
// *types.AppError whose Code reflects the first failing field and whose
// Details carry the full list under the "validation_errors" key.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	invalid, ok := err.(validator.ValidationErrors)
	if !ok {
		// InvalidValidationError: the caller passed a non-struct.
		v.logger.Error("validator invoked with non-struct value", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation could not be performed", err)
	}

	errs := translateFieldErrors(invalid)
	return types.NewAppErrorWithDetails(
		types.ErrorCode(errs[0].Code),
		"request validation failed",
		nil,
		map[string]any{"validation_errors": errs},
	)
}

// ValidateStructWithWarnings validates s and returns the full result instead
// of an error, for callers that layer advisory checks on top of the blocking
// ones.
func (v *Validator) ValidateStructWithWarnings(s interface{}) ValidationResult {
	err := v.validate.Struct(s)
	if err == nil {
		return ValidationResult{}
	}

	invalid, ok := err.(validator.ValidationErrors)
	if !ok {
		v.logger.Error("validator invoked with non-struct value", "error", err)
		return ValidationResult{
			Errors: []ValidationError{{
				Code:    string(types.ErrCodeInternalUnexpected),
				Message: "validation could not be performed",
			}},
		}
	}

	return ValidationResult{Errors: translateFieldErrors(invalid)}
}

// translateFieldErrors converts validator failures into client-safe
// ValidationErrors.
func translateFieldErrors(errs validator.ValidationErrors) []ValidationError {
	out := make([]ValidationError, 0, len(errs))
	for _, fe := range errs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Code:    tagToErrorCode(fe.Tag()),
			Message: fieldErrorMessage(fe),
		})
	}
	return out
}

// fieldErrorMessage renders a short human-readable description of a failure.
// Parameterized tags include their parameter (e.g., "max=500").
func fieldErrorMessage(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s validation", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}

// tagToErrorCode maps a validator tag to the application error code surfaced
// to clients. Unrecognized tags fall back to the generic range code so new
// tags never produce an unmapped error.
func tagToErrorCode(tag string) string {
	switch tag {
	case "required":
		return string(types.ErrCodeValidationMissingField)
	case "latitude", "is_conus":
		return string(types.ErrCodeValidationInvalidLat)
	case "longitude":
		return string(types.ErrCodeValidationInvalidLon)
	case "metric_name":
		return string(types.ErrCodeValidationInvalidMetric)
	case "grass_type", "app_category":
		return string(types.ErrCodeValidationInvalidCategory)
	case "severity_name":
		return string(types.ErrCodeValidationInvalidSeverity)
	case "monthday":
		return string(types.ErrCodeValidationInvalidWindow)
	default:
		return string(types.ErrCodeValidationValueRange)
	}
}

// validateMetricName accepts string-kinded fields naming a known metric.
func validateMetricName(fl validator.FieldLevel) bool {
	return types.Metric(fl.Field().String()).Valid()
}

// validateGrassType accepts string-kinded fields naming a supported species.
func validateGrassType(fl validator.FieldLevel) bool {
	return types.GrassType(fl.Field().String()).Valid()
}

// validateAppCategory accepts string-kinded fields naming an application
// category.
func validateAppCategory(fl validator.FieldLevel) bool {
	return types.ApplicationCategory(fl.Field().String()).Valid()
}

// validateSeverityName accepts string-kinded fields naming a severity.
func validateSeverityName(fl validator.FieldLevel) bool {
	return types.Severity(fl.Field().String()).Valid()
}

// validateMonthDay accepts types.MonthDay fields. The zero value fails, so
// the tag doubles as a presence check for windows omitted from the request.
func validateMonthDay(fl validator.FieldLevel) bool {
	md, ok := fl.Field().Interface().(types.MonthDay)
	if !ok {
		return false
	}
	return md.Valid()
}

// validateCONUS checks that a Lat field and its sibling Lon field fall inside
// the continental US bounding box. Attach the tag to the Lat field; the Lon
// value is read from the parent struct by name. A parent without a Lon field
// passes on latitude alone.
func validateCONUS(fl validator.FieldLevel) bool {
	lat := fl.Field().Float()
	if lat < conusMinLat || lat > conusMaxLat {
		return false
	}

	lon := fl.Parent().FieldByName("Lon")
	if !lon.IsValid() {
		return true
	}
	return lon.Float() >= conusMinLon && lon.Float() <= conusMaxLon
}
