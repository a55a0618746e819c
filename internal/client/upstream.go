// Package client provides the pooled HTTP client used for upstream providers.
package client

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"modelgate/internal/config"
	"modelgate/internal/metrics"
)

// UpstreamClient sends requests to upstream inference providers. It is safe
// for concurrent use and shares one connection pool across providers.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
//
// The client itself has no overall timeout: streamed responses may legitimately
// run longer than the configured duration, so deadlines are set per request
// through the context by the caller.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Upstream.Timeout(),
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		httpClient: &http.Client{Transport: transport},
		logger:     logger.With("component", "upstream_client"),
		metrics:    m,
	}
}

// Do executes an HTTP request against an upstream provider and returns the raw
// response. The caller is responsible for closing the response body.
func (c *UpstreamClient) Do(req *http.Request, provider string) (*http.Response, error) {
	c.logger.Debug("upstream request",
		"provider", provider,
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller
	duration := time.Since(start).Seconds()

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(provider).Observe(duration)
	}
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(provider, strconv.Itoa(resp.StatusCode)).Inc()
	}
	return resp, nil
}

// Post sends body to url with the given headers. The provided context controls
// the lifetime of the upstream request including reading its body: when the
// context is canceled (client disconnect, deadline), the upstream request is
// aborted and its connection released.
func (c *UpstreamClient) Post(ctx context.Context, provider, url string, header http.Header, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	return c.Do(req, provider)
}
