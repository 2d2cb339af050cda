package scraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/idealinvestse/shoppi-shop-finder/config"
)

const responseKey = "response"

// Response is the raw result of one HTTP attempt.
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport issues a single GET per call. Non-2xx statuses are returned as
// responses, not errors; only transport failures produce an error.
type Transport interface {
	Get(ctx context.Context, url string) (*Response, error)
}

// CollyTransport is the production Transport backed by a colly collector.
type CollyTransport struct {
	collector *colly.Collector
}

// NewCollyTransport builds a synchronous collector configured from cfg.
func NewCollyTransport(cfg *config.Config) *CollyTransport {
	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.ConnectionPoolSize,
		MaxIdleConnsPerHost: cfg.ConnectionPerHost,
		MaxConnsPerHost:     cfg.ConnectionPoolSize,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(responseKey, r)
	})

	return &CollyTransport{collector: collector}
}

// WithRoundTripper swaps the underlying HTTP transport.
func (t *CollyTransport) WithRoundTripper(rt http.RoundTripper) *CollyTransport {
	t.collector.WithTransport(rt)
	return t
}

// Get performs one GET. The request is bounded by the collector timeout
// rather than ctx, so a started request always completes or times out.
func (t *CollyTransport) Get(ctx context.Context, url string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reqCtx := colly.NewContext()
	if err := t.collector.Request(http.MethodGet, url, nil, reqCtx, nil); err != nil {
		return nil, err
	}

	resp, ok := reqCtx.GetAny(responseKey).(*colly.Response)
	if !ok || resp == nil {
		return nil, fmt.Errorf("no response received for %s", url)
	}
	return &Response{StatusCode: resp.StatusCode, Body: resp.Body}, nil
}
