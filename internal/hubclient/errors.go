package hubclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// APIError is a hub error envelope: {code, message, params, trace_id}.
type APIError struct {
	Status  int                    `json:"-"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Params  map[string]interface{} `json:"params,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("hub: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("hub: HTTP %d", e.Status)
}

// Param returns a string parameter from the error envelope, or "".
func (e *APIError) Param(key string) string {
	if s, ok := e.Params[key].(string); ok {
		return s
	}
	return ""
}

// TransportError wraps connection-level failures (DNS, refused,
// timeouts) so callers can distinguish them from hub rejections.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "hub unreachable: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is a 401 or 403 hub rejection.
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		(apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden)
}

// IsConflict reports whether err is a 409 hub rejection (non-fast-
// forward push, failed lease).
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}

// IsServerError reports whether err is a transport failure or 5xx.
func IsServerError(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status >= 500
}

// ErrCode extracts the hub error code from err, or "".
func ErrCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
