package core

import "net/http"

// ErrorCode is the stable request-level error taxonomy (distinct from the
// provider error codes, which never leave the fetch core unwrapped).
type ErrorCode string

const (
	CodeValidation         ErrorCode = "VALIDATION_ERROR"
	CodeNotAuthenticated   ErrorCode = "NOT_AUTHENTICATED"
	CodeAuthInvalid        ErrorCode = "AUTH_INVALID"
	CodeForbidden          ErrorCode = "FORBIDDEN"
	CodeNotOwner           ErrorCode = "NOT_OWNER"
	CodeMissingPermission  ErrorCode = "MISSING_PERMISSION"
	CodeMissingRole        ErrorCode = "MISSING_ROLE"
	CodeUserBlocked        ErrorCode = "USER_BLOCKED"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeRateLimited        ErrorCode = "RATE_LIMITED"
	CodeSanitizationBlock  ErrorCode = "SANITIZATION_BLOCKED"
	CodeTokenLimitExceeded ErrorCode = "TOKEN_LIMIT_EXCEEDED"
	CodeProviderError      ErrorCode = "PROVIDER_ERROR"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeHallucination      ErrorCode = "HALLUCINATION_DETECTED"
	CodeIntegrityFailure   ErrorCode = "INTEGRITY_FAILURE"
	CodeBackendError       ErrorCode = "BACKEND_ERROR"
	CodeInternal           ErrorCode = "INTERNAL_ERROR"
)

// APIError is the error envelope every handler emits:
// {error, code, requestId?, details?}.
type APIError struct {
	Message   string         `json:"error"`
	Code      ErrorCode      `json:"code"`
	RequestID string         `json:"requestId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string { return string(e.Code) + ": " + e.Message }

// NewAPIError builds an error envelope.
func NewAPIError(code ErrorCode, msg string) *APIError {
	return &APIError{Message: msg, Code: code}
}

// WithDetail attaches one detail field and returns the error for chaining.
func (e *APIError) WithDetail(key string, val any) *APIError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = val
	return e
}

// HTTPStatus maps error codes to the fixed status table.
func (e *APIError) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeSanitizationBlock, CodeTokenLimitExceeded:
		return http.StatusBadRequest
	case CodeNotAuthenticated, CodeAuthInvalid:
		return http.StatusUnauthorized
	case CodeForbidden, CodeNotOwner, CodeMissingPermission, CodeMissingRole, CodeUserBlocked:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeBackendError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
