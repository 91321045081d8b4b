package whatsapp

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingToken is returned when the client has no access token.
	ErrMissingToken = errors.New("whatsapp access token not configured")

	// ErrNoDownloadURL is returned when the media lookup response carries no URL.
	ErrNoDownloadURL = errors.New("media response has no download URL")

	// ErrMediaTooLarge is returned when a download exceeds the configured limit.
	ErrMediaTooLarge = errors.New("media exceeds maximum size")

	// ErrMissingSignature is returned when the signature header is absent or malformed.
	ErrMissingSignature = errors.New("missing webhook signature")

	// ErrInvalidSignature is returned when the signature does not match the body.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// APIError is a non-2xx response from the Graph API.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
	Code       int
	TraceID    string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: graph API returned status %d", e.Op, e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.TraceID != "" {
		msg += " (trace " + e.TraceID + ")"
	}
	return msg
}

// IsAPIStatus reports whether err is an APIError with the given HTTP status.
func IsAPIStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}
