package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/idealinvestse/shoppi-shop-finder/parser"
)

// ErrBreakerOpen is returned by the breaker when it rejects a call.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrServerError indicates a 5xx response.
type ErrServerError struct {
	Status int
}

func (e ErrServerError) Error() string {
	return fmt.Sprintf("server_error: http status %d", e.Status)
}

// ErrForbidden indicates a forbidden response (HTTP 403).
type ErrForbidden struct {
	Err error
}

func (e ErrForbidden) Error() string {
	return fmt.Errorf("forbidden: %w", e.Err).Error()
}

func (e ErrForbidden) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates a missing shop (HTTP 404).
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string {
	return fmt.Errorf("not_found: %w", e.Err).Error()
}

func (e ErrNotFound) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the target rate-limited the request.
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// ErrUnexpectedStatus covers the remaining non-2xx statuses.
type ErrUnexpectedStatus struct {
	Status int
}

func (e ErrUnexpectedStatus) Error() string {
	return fmt.Sprintf("client_error: http status %d", e.Status)
}

// ErrMalformed indicates a 2xx body that could not be decoded.
type ErrMalformed struct {
	Err error
}

func (e ErrMalformed) Error() string {
	return fmt.Errorf("malformed: %w", e.Err).Error()
}

func (e ErrMalformed) Unwrap() error {
	return e.Err
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, ErrBreakerOpen) {
		return "breaker_open"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var server ErrServerError
	if errors.As(err, &server) {
		return "server_error"
	}
	var forbidden ErrForbidden
	if errors.As(err, &forbidden) {
		return "forbidden"
	}
	var notFound ErrNotFound
	if errors.As(err, &notFound) {
		return "not_found"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var unexpected ErrUnexpectedStatus
	if errors.As(err, &unexpected) {
		return "client_error"
	}
	var malformed ErrMalformed
	if errors.As(err, &malformed) {
		return "malformed"
	}
	return "other"
}

// isTransient reports whether err is worth retrying and counts against the
// breaker.
func isTransient(err error) bool {
	switch errorTypeLabel(err) {
	case "timeout", "connection", "server_error":
		return true
	default:
		return false
	}
}

// classifyError maps a transport failure or status code to the taxonomy.
// A nil error with a 2xx status classifies to nil.
func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if err != nil {
		if errors.Is(err, ErrBreakerOpen) {
			return err
		}
		if errors.Is(err, parser.ErrInvalidPayload) {
			return ErrMalformed{Err: err}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout{Err: err}
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ErrTimeout{Err: err}
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return ErrConnection{Err: err}
		}
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return ErrConnection{Err: err}
		}
		if statusCode == 0 {
			return err
		}
	}

	return classifyStatus(statusCode)
}

func classifyStatus(statusCode int) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusNotFound:
		return ErrNotFound{Err: fmt.Errorf("http status %d", statusCode)}
	case statusCode == http.StatusForbidden:
		return ErrForbidden{Err: fmt.Errorf("http status %d", statusCode)}
	case statusCode == http.StatusTooManyRequests:
		return ErrRateLimited{Err: fmt.Errorf("http status %d", statusCode)}
	case statusCode >= 500:
		return ErrServerError{Status: statusCode}
	default:
		return ErrUnexpectedStatus{Status: statusCode}
	}
}
