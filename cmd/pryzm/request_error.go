package main

import (
	"fmt"
	"strings"
)

// RequestError wraps an answer service request failure with response context.
//
// # Description
//
// Provides rich error context for failed requests, including the
// endpoint that failed, HTTP status, and response body. Implements
// error interface and supports unwrapping.
//
// # Example
//
//	err := NewRequestError("POST /v1/answer/stream", 503, "retriever warming up", originalErr)
//	fmt.Println(err.Error()) // "POST /v1/answer/stream (status 503): retriever warming up"
//
//	var reqErr *RequestError
//	if errors.As(err, &reqErr) {
//	    fmt.Println(reqErr.Body) // "retriever warming up"
//	}
type RequestError struct {
	// Endpoint is the method and path that was requested.
	Endpoint string

	// StatusCode is the HTTP status (-1 if no response arrived).
	StatusCode int

	// Body contains the response body.
	Body string

	// Wrapped is the underlying error.
	Wrapped error
}

// Error returns a formatted error message.
//
// # Description
//
// Returns a human-readable error message that includes the endpoint,
// status code, and response body if available.
func (e *RequestError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s (status %d): %s", e.Endpoint, e.StatusCode, e.Body)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (status %d): %v", e.Endpoint, e.StatusCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (status %d)", e.Endpoint, e.StatusCode)
}

// Unwrap returns the underlying error.
//
// # Description
//
// Enables errors.Is() and errors.As() to work through the error chain.
func (e *RequestError) Unwrap() error {
	return e.Wrapped
}

// HasBody returns true if response body content is available.
func (e *RequestError) HasBody() bool {
	return e.Body != ""
}

// NewRequestError creates a RequestError with full context.
//
// # Description
//
// Creates a new RequestError with endpoint, status code, response body,
// and underlying error. Body is trimmed of leading/trailing whitespace.
//
// # Inputs
//
//   - endpoint: The method and path requested (e.g., "POST /v1/answer")
//   - statusCode: HTTP status code (-1 if no response arrived)
//   - body: Response body (will be trimmed)
//   - wrapped: Underlying error (may be nil)
//
// # Outputs
//
//   - *RequestError: New error with full context
//
// # Example
//
//	if resp.StatusCode != http.StatusOK {
//	    return NewRequestError("POST /v1/answer", resp.StatusCode, string(bodyBytes), nil)
//	}
func NewRequestError(endpoint string, statusCode int, body string, wrapped error) *RequestError {
	return &RequestError{
		Endpoint:   endpoint,
		StatusCode: statusCode,
		Body:       strings.TrimSpace(body),
		Wrapped:    wrapped,
	}
}

// ExtractResponseBody extracts a response body from an error chain.
//
// # Description
//
// Walks the error chain looking for a RequestError with a body.
// Returns the first body found, or empty string if none.
//
// # Inputs
//
//   - err: Error to extract the response body from
//
// # Outputs
//
//   - string: Response body content or empty string
//
// # Example
//
//	body := ExtractResponseBody(err)
//	if body != "" {
//	    fmt.Fprintf(os.Stderr, "Server said:\n%s\n", body)
//	}
func ExtractResponseBody(err error) string {
	for err != nil {
		if reqErr, ok := err.(*RequestError); ok && reqErr.HasBody() {
			return reqErr.Body
		}
		// Try unwrapping
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	return ""
}
