package exchange

import (
	"errors"
	"fmt"
	"net"
)

// APIError is an upstream HTTP failure with enough structure for the queue
// runtime to decide whether to retry. Timeouts are surfaced distinctly
// (reported as a 408 analog) so they can be told apart from venue rejections.
type APIError struct {
	StatusCode int
	Message    string
	Timeout    bool
}

func (e *APIError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("api timeout: %s", e.Message)
	}
	return fmt.Sprintf("api status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the request is worth repeating: timeouts,
// rate-limit responses, and server-side errors.
func (e *APIError) Retryable() bool {
	return e.Timeout || e.StatusCode == 429 || e.StatusCode >= 500
}

// wrapTransport converts a transport-level error into an APIError,
// classifying network timeouts.
func wrapTransport(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w", op, &APIError{StatusCode: 408, Message: err.Error(), Timeout: true})
	}
	return fmt.Errorf("%s: %w", op, &APIError{Message: err.Error()})
}
