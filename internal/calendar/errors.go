package calendar

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies calendar API failures. Only transient failures are
// retried; everything else surfaces immediately.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindPermission
	KindNotFound
	KindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermission:
		return "permission"
	case KindNotFound:
		return "not_found"
	default:
		return "permanent"
	}
}

// APIError is a non-2xx response from the calendar API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("calendar API error: status %d, body: %s", e.StatusCode, e.Body)
}

// Classify maps an error from the calendar client onto an ErrorKind.
// Network-level failures and 5xx/429 are transient.
func Classify(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return KindPermission
		case apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusGone:
			return KindNotFound
		case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500:
			return KindTransient
		default:
			return KindPermanent
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindPermanent // the cycle deadline owns this, do not retry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	// Unwrapped transport errors (connection refused, DNS) come through
	// url.Error which implements net.Error; anything else is permanent.
	return KindPermanent
}
