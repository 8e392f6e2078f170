package restclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Statuses used for failures that never reached a server response.
const (
	// StatusNetwork marks transport-level failures (connection refused, DNS).
	StatusNetwork = 0
	// StatusTimeout is surfaced instead of the underlying context deadline.
	StatusTimeout = http.StatusRequestTimeout
)

// ErrNoSession is returned when an authenticated request is attempted without
// stored credentials. Authenticated calls fail closed rather than going out
// anonymously.
var ErrNoSession = errors.New("no active session")

// Error is the normalized failure shape for every non-2xx response and every
// transport failure.
type Error struct {
	Message string
	Status  int
	Body    []byte
}

func (e *Error) Error() string {
	if e.Status == StatusNetwork {
		return fmt.Sprintf("api request failed: %s", e.Message)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// IsStatus reports whether err is an API error with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// IsTimeout reports whether err represents a request timeout.
func IsTimeout(err error) bool {
	return IsStatus(err, StatusTimeout)
}

// errorMessage extracts the backend's error text from its usual envelope
// shapes, falling back to the HTTP status text.
func errorMessage(status int, body []byte) string {
	var envelope struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Err     string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		switch {
		case envelope.Detail != "":
			return envelope.Detail
		case envelope.Message != "":
			return envelope.Message
		case envelope.Err != "":
			return envelope.Err
		}
	}
	return http.StatusText(status)
}
