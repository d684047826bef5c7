package httpclient

import (
	"encoding/json"
	goerrors "errors"
	"fmt"

	ierr "github.com/georgemunganga/printa-checkout/internal/errors"
)

// ErrTransport marks failures where no server processed the request: refused
// connections and timeouts, or gateway answers left after the last retry.
var ErrTransport = goerrors.New("http transport failure")

// Error represents an HTTP error response
type Error struct {
	StatusCode int
	Response   []byte

	body errorBody
}

// errorBody is the JSON error shape every backend handler writes.
type errorBody struct {
	Message string `json:"error"`
	Kind    string `json:"kind"`
}

func (e *Error) Error() string {
	if e.body.Message != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.body.Message)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

// Kind returns the machine-readable error kind from the response body, if any.
func (e *Error) Kind() string {
	return e.body.Kind
}

// Message returns the human-readable error from the response body, if any.
func (e *Error) Message() string {
	return e.body.Message
}

// Sentinel maps the response to an internal sentinel by kind, then status.
func (e *Error) Sentinel() error {
	if ref := ierr.FromCode(e.body.Kind); ref != nil {
		return ref
	}
	switch {
	case e.StatusCode == 404:
		return ierr.ErrNotFound
	case e.StatusCode == 403 || e.StatusCode == 401:
		return ierr.ErrPermissionDenied
	case e.StatusCode >= 500:
		return ierr.ErrHTTPClient
	default:
		return ierr.ErrValidation
	}
}

// NewError creates a new HTTP error from a response
func NewError(statusCode int, response []byte) *Error {
	e := &Error{StatusCode: statusCode, Response: response}
	_ = json.Unmarshal(response, &e.body)
	return e
}

// IsHTTPError checks if an error is an HTTP error response
func IsHTTPError(err error) (*Error, bool) {
	var httpErr *Error
	if ierr.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

// IsTransport reports whether err means the server could not be reached.
func IsTransport(err error) bool {
	return ierr.Is(err, ErrTransport)
}
