package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/idealinvestse/shoppi-shop-finder/parser"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "ok", err: nil, statusCode: http.StatusOK, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "dns failure", err: &net.DNSError{Err: "no such host", Name: "shoppi.test"}, statusCode: 0, expected: "connection"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "server error", err: nil, statusCode: http.StatusServiceUnavailable, expected: "server_error"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "bad request", err: nil, statusCode: http.StatusBadRequest, expected: "client_error"},
		{name: "malformed", err: fmt.Errorf("%w: truncated", parser.ErrInvalidPayload), statusCode: 0, expected: "malformed"},
		{name: "breaker open", err: ErrBreakerOpen, statusCode: 0, expected: "breaker_open"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(ErrTimeout{Err: context.DeadlineExceeded}))
	assert.True(t, isTransient(ErrConnection{Err: errors.New("reset")}))
	assert.True(t, isTransient(ErrServerError{Status: http.StatusBadGateway}))
	assert.True(t, isTransient(fmt.Errorf("wrapped: %w", ErrServerError{Status: 500})))

	assert.False(t, isTransient(ErrNotFound{Err: errors.New("gone")}))
	assert.False(t, isTransient(ErrForbidden{Err: errors.New("no")}))
	assert.False(t, isTransient(ErrRateLimited{Err: errors.New("slow down")}))
	assert.False(t, isTransient(ErrMalformed{Err: errors.New("bad json")}))
	assert.False(t, isTransient(ErrBreakerOpen))
	assert.False(t, isTransient(nil))
}
