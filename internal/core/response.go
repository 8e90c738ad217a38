package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"turfwatch/internal/types"
)

// maxRequestBodySize caps request bodies at 1 MB. The largest legitimate
// payload is a readings batch, which stays well under this.
const maxRequestBodySize = 1 << 20

// APIResponse is the envelope for successful responses. Meta carries
// non-blocking notices such as deprecation warnings.
type APIResponse struct {
	Data any                 `json:"data,omitempty"`
	Meta *types.ResponseMeta `json:"meta,omitempty"`
}

// APIErrorResponse is the envelope for error responses.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the client-visible error payload.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// JSON marshals data and writes it with the given status. A marshal failure
// degrades to a 500 error envelope; the original status is abandoned because
// nothing of the intended response can be salvaged.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		status = http.StatusInternalServerError
		body = mustMarshalError(ErrorDetail{
			Code:      string(types.ErrCodeInternalUnexpected),
			Message:   "failed to marshal response",
			RequestID: types.GetRequestID(r.Context()),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// mustMarshalError marshals an error envelope whose fields are all plain
// strings and maps, so marshalling cannot fail.
func mustMarshalError(detail ErrorDetail) []byte {
	body, _ := json.Marshal(APIErrorResponse{Error: detail})
	return body
}

// Error translates err into an error response. A *types.AppError anywhere in
// the chain supplies the status, code, message, and details; any other error
// becomes an opaque 500. Wrapped causes never reach the client.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	detail := ErrorDetail{
		Code:      string(types.ErrCodeInternalUnexpected),
		Message:   "an unexpected error occurred",
		RequestID: types.GetRequestID(r.Context()),
	}

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		status = appErr.HTTPStatus()
		detail.Code = string(appErr.Code)
		detail.Message = appErr.Message
		detail.Details = appErr.Details
	}

	JSON(w, r, status, APIErrorResponse{Error: detail})
}

// errCodeValidationInvalidJSON covers every way a raw request body can be
// rejected before domain validation sees it. Only this layer decodes bodies,
// so the code lives here rather than in types.
const errCodeValidationInvalidJSON types.ErrorCode = "validation_invalid_json"

// DecodeJSON decodes the request body into dst with the API's body rules:
// at most 1 MB, no unknown fields, exactly one JSON value. Violations return
// a 400-mapped *types.AppError describing the problem.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	// MaxBytesReader needs w so it can close the connection once the limit
	// is crossed.
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return decodeAppError(err)
	}
	if dec.More() {
		return types.NewAppError(
			errCodeValidationInvalidJSON,
			"request body must contain a single JSON object",
			nil,
		)
	}
	return nil
}

// decodeAppError classifies a json.Decoder failure into a client-facing
// AppError. The original error rides along as the wrapped cause for logs.
func decodeAppError(err error) *types.AppError {
	var (
		maxBytesErr *http.MaxBytesError
		syntaxErr   *json.SyntaxError
		typeErr     *json.UnmarshalTypeError
	)

	switch {
	case errors.As(err, &maxBytesErr):
		return types.NewAppError(errCodeValidationInvalidJSON, "request body must not exceed 1MB", err)

	case errors.As(err, &syntaxErr):
		return types.NewAppError(errCodeValidationInvalidJSON, "malformed JSON in request body", err)

	case errors.As(err, &typeErr):
		return types.NewAppErrorWithDetails(
			errCodeValidationInvalidJSON,
			"invalid value for field",
			err,
			map[string]any{
				"field":    typeErr.Field,
				"expected": typeErr.Type.String(),
			},
		)

	case errors.Is(err, io.EOF):
		return types.NewAppError(errCodeValidationInvalidJSON, "request body must not be empty", err)
	}

	// DisallowUnknownFields produces an unexported error type; matching the
	// message prefix is the only handle encoding/json gives us.
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return types.NewAppError(
			errCodeValidationInvalidJSON,
			"unknown field in request body: "+field,
			err,
		)
	}

	return types.NewAppError(errCodeValidationInvalidJSON, "invalid JSON in request body", err)
}
