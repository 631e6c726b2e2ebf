package platform

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrUnavailable is returned when the circuit breaker is open or retries
// are exhausted. Callers skip and report instead of failing the sweep.
var ErrUnavailable = errors.New("platform unavailable")

type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindRateLimited
	KindPermission
	KindNotFound
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindPermission:
		return "permission"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// APIError is a typed error for a platform API response.
type APIError struct {
	Kind       ErrorKind
	Status     int
	Message    string
	RetryAfter time.Duration // only set for KindRateLimited
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("platform api: %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("platform api: %s: %s", e.Kind, e.Message)
}

func kindFromStatus(status int) ErrorKind {
	switch {
	case status == 429:
		return KindRateLimited
	case status == 401 || status == 403:
		return KindPermission
	case status == 404:
		return KindNotFound
	case status >= 400 && status < 500:
		return KindValidation
	default:
		return KindTransient
	}
}

// IsTransient reports whether err is worth retrying: timeouts, connection
// failures, 5xx and 429 responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == KindTransient || apiErr.Kind == KindRateLimited
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Plain transport errors (connection refused, reset) arrive as
	// *url.Error wrapping syscall errors; treat anything that is not a
	// typed API error as transient.
	return !errors.Is(err, ErrUnavailable)
}

// IsPermission reports whether err is a permission failure.
func IsPermission(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindPermission
}

// IsNotFound reports whether err is a not-found response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindNotFound
}
