package rpc

import (
	"errors"
	"fmt"
	"net/http"
)

// Fault is an error reported by a service operation.
type Fault struct {
	Service    string `json:"-"`
	Operation  string `json:"-"`
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s.%s: %s: %s", f.Service, f.Operation, f.Code, f.Message)
}

// Fault codes shared by client and server.
const (
	FaultNotFound         = "not_found"
	FaultInvalidSession   = "invalid_session"
	FaultAuthentication   = "authentication"
	FaultInvalidArguments = "invalid_arguments"
	FaultUnknownOperation = "unknown_operation"
	FaultRejected         = "rejected"
	FaultInternal         = "internal"
)

// HTTPError is a non-2xx response that carried no fault body.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsRateLimited reports a 429 response.
func (e *HTTPError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsServerError reports a 5xx response.
func (e *HTTPError) IsServerError() bool {
	return e.StatusCode >= 500
}

// IsUnauthorized reports a 401 or 403 response.
func (e *HTTPError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsFault reports whether err carries a Fault with the given code.
func IsFault(err error, code string) bool {
	var f *Fault
	return errors.As(err, &f) && f.Code == code
}

// isRetryable determines if a read request should be retried.
func isRetryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.IsRateLimited() || httpErr.IsServerError()
	}
	return false
}
