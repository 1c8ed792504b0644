package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Codes carried by Error besides "HTTP_<status>".
const (
	CodeNetwork = "NETWORK_ERROR"
	CodeUnknown = "UNKNOWN_ERROR"
)

// Error is the only error type returned by Client. Code is "HTTP_<status>"
// when the server answered with a non-2xx status, CodeNetwork when no
// response arrived, and CodeUnknown for anything else.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	// Status is the HTTP status for HTTP_ codes, 0 otherwise
	Status int   `json:"-"`
	Err    error `json:"-"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsStatus reports whether err is an HTTP error with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == status
}

func httpError(status int, body []byte) *Error {
	details := decodeDetails(body)

	message := fmt.Sprintf("request failed with status code %d", status)
	if m, ok := details.(map[string]any); ok {
		if s, ok := m["message"].(string); ok && s != "" {
			message = s
		}
	}

	return &Error{
		Code:    "HTTP_" + strconv.Itoa(status),
		Message: message,
		Details: details,
		Status:  status,
	}
}

func networkError(url string, err error) *Error {
	return &Error{
		Code:    CodeNetwork,
		Message: "network error - no response received",
		Details: map[string]any{"url": url},
		Err:     err,
	}
}

func unknownError(err error) *Error {
	return &Error{
		Code:    CodeUnknown,
		Message: err.Error(),
		Err:     err,
	}
}

// normalize guarantees callers only ever see *Error.
func normalize(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return unknownError(err)
}

func decodeDetails(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	return v
}
