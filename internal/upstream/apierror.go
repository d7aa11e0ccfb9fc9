package upstream

import (
	"fmt"
	"io"
	"net/http"
)

// APIError represents a non-2xx response from the upstream multiplexer.
type APIError struct {
	StatusCode int
	Body       string
}

// Error returns a formatted error string including status and body.
func (e *APIError) Error() string {
	return fmt.Sprintf("upstream: HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the upstream HTTP status code for response mapping.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// parseAPIError reads up to 4KB from the response body and returns an APIError.
func parseAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
}
