package scraper

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idealinvestse/shoppi-shop-finder/config"
)

func newMockedTransport(t *testing.T) (*CollyTransport, *httpmock.MockTransport) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	return NewCollyTransport(config.DefaultConfig()).WithRoundTripper(mock), mock
}

func TestCollyTransportReturnsBody(t *testing.T) {
	transport, mock := newMockedTransport(t)
	mock.RegisterResponder("GET", "https://shoppi.com/alpha/products",
		httpmock.NewStringResponder(http.StatusOK, `{"products":[]}`))

	resp, err := transport.Get(context.Background(), "https://shoppi.com/alpha/products")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"products":[]}`, string(resp.Body))
}

func TestCollyTransportReturnsErrorStatuses(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable} {
		transport, mock := newMockedTransport(t)
		mock.RegisterResponder("GET", "https://shoppi.com/beta/products",
			httpmock.NewStringResponder(status, "nope"))

		resp, err := transport.Get(context.Background(), "https://shoppi.com/beta/products")
		require.NoError(t, err, "status %d should be a response, not an error", status)
		assert.Equal(t, status, resp.StatusCode)
		assert.Equal(t, "nope", string(resp.Body))
	}
}

func TestCollyTransportAllowsRevisits(t *testing.T) {
	transport, mock := newMockedTransport(t)
	mock.RegisterResponder("GET", "https://shoppi.com/alpha/products",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))

	for i := 0; i < 3; i++ {
		_, err := transport.Get(context.Background(), "https://shoppi.com/alpha/products")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, mock.GetTotalCallCount())
}

func TestCollyTransportConnectionError(t *testing.T) {
	transport, mock := newMockedTransport(t)
	mock.RegisterResponder("GET", "https://shoppi.com/gamma/products",
		httpmock.NewErrorResponder(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}))

	_, err := transport.Get(context.Background(), "https://shoppi.com/gamma/products")
	require.Error(t, err)
	assert.Equal(t, "connection", errorTypeLabel(classifyError(err, 0)))
}

func TestCollyTransportHonoursCancelledContext(t *testing.T) {
	transport, mock := newMockedTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := transport.Get(ctx, "https://shoppi.com/alpha/products")
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, mock.GetTotalCallCount())
}
