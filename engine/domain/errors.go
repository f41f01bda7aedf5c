package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation failures.
var (
	ErrEmptyQuery       = errors.New("empty query")
	ErrQueryInjection   = errors.New("query contains suspicious content")
	ErrInvalidSubreddit = errors.New("invalid subreddit name")
	ErrInvalidLimit     = errors.New("invalid limit")
	ErrQueryTooLong     = errors.New("query too long")
	ErrInvalidSort      = errors.New("invalid sort type")
	ErrInvalidTimeRange = errors.New("invalid time range")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// maxErrorBody bounds the response body kept on an EmbeddingServiceError.
const maxErrorBody = 4096

// EmbeddingServiceError reports a failed call to the embedding provider.
// StatusCode is zero when the request never got a response (timeout,
// connection refused) or the response could not be decoded.
type EmbeddingServiceError struct {
	StatusCode int
	Body       string
	Err        error
}

// NewEmbeddingServiceError builds an EmbeddingServiceError, truncating body.
func NewEmbeddingServiceError(status int, body []byte, err error) *EmbeddingServiceError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &EmbeddingServiceError{StatusCode: status, Body: string(body), Err: err}
}

func (e *EmbeddingServiceError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("embedding service: status %d: %v", e.StatusCode, e.Err)
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("embedding service: status %d: %s", e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("embedding service: status %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("embedding service: %v", e.Err)
	default:
		return "embedding service: request failed"
	}
}

func (e *EmbeddingServiceError) Unwrap() error { return e.Err }

// CatalogBootstrapError aborts a catalog bootstrap pass. Line is the 1-based
// source line that caused it, or zero for failures not tied to a line.
type CatalogBootstrapError struct {
	Line   int
	Reason string
	Err    error
}

func (e *CatalogBootstrapError) Error() string {
	msg := "catalog bootstrap: " + e.Reason
	if e.Line > 0 {
		msg = fmt.Sprintf("catalog bootstrap: line %d: %s", e.Line, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CatalogBootstrapError) Unwrap() error { return e.Err }
