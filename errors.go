package updater

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the kind of failure reported by the GitHub API client.
type ErrorCode string

const (
	// CodeTransport means the API could not be reached at all.
	CodeTransport ErrorCode = "http_request_failed"
	// CodeAPI is any non-2xx response other than 401.
	CodeAPI ErrorCode = "api_error"
	// CodeInvalidAuthentication is a 401 response.
	CodeInvalidAuthentication ErrorCode = "invalid_authentication"
	// CodeReadmeNotFound is a non-200 response from the readme endpoint.
	CodeReadmeNotFound ErrorCode = "readme_not_found"
	// CodeUnknown is returned by CodeOf for errors that carry no code.
	CodeUnknown ErrorCode = "unknown"
)

// APIError is a failure talking to the GitHub API.
type APIError struct {
	Code ErrorCode
	// Status is the HTTP status code, zero for transport failures.
	Status  int
	Message string
	Err     error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

// Unwrap returns the wrapped error.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Summary formats the error the way it is persisted as the credential error,
// e.g. "Authentication error, code: 401.".
func (e *APIError) Summary() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s, code: %d.", e.Error(), e.Status)
	}
	return fmt.Sprintf("%s, code: %s.", e.Error(), e.Code)
}

// CodeOf walks the error chain and returns the first APIError code found.
func CodeOf(err error) ErrorCode {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return CodeUnknown
}

// IsCode reports whether err (or its unwrap chain) carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// errorSummary formats any error for the credential error store.
func errorSummary(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Summary()
	}
	return fmt.Sprintf("%s, code: %s.", err.Error(), CodeUnknown)
}
