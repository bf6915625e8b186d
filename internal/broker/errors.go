package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// APIError is a non-2xx response from the broker.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker API error %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether the error is worth retrying: 5xx, throttling
// (429), network failures and timeouts. Everything else 4xx is permanent
// and fails the cycle.
func Transient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return apiErr.StatusCode >= 500
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}

// Permanent is the complement of Transient for non-nil errors.
func Permanent(err error) bool {
	return err != nil && !Transient(err)
}
