package siwe

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized is matched by every 401 answer of the server
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBadRequest is matched by every 400 answer of the server
	ErrBadRequest = errors.New("bad request")
)

// APIError is a non-2xx answer of the SIWE server
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("siwe server returned %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is match an APIError against ErrUnauthorized and ErrBadRequest
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrBadRequest:
		return e.StatusCode == http.StatusBadRequest
	}
	return false
}
