package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// APIError represents an error response from the API. Handlers answer with
// RFC 7807 problem documents; the auth middleware answers in plain text.
type APIError struct {
	StatusCode int    `json:"status"`
	Title      string `json:"title,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Title
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%d: %s", e.StatusCode, msg)
}

// IsAuthError returns true if the token was missing, invalid or lacked the
// required role.
func (e *APIError) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsNotFound returns true if this is a not found error.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsConflict returns true if this is a conflict error.
func (e *APIError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}

func parseError(status int, body []byte) *APIError {
	apiErr := &APIError{}
	if json.Unmarshal(body, apiErr) != nil || (apiErr.Title == "" && apiErr.Detail == "") {
		apiErr = &APIError{Detail: strings.TrimSpace(string(body))}
	}
	apiErr.StatusCode = status
	return apiErr
}
