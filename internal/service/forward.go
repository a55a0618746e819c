// Package service implements the gateway's forwarding logic.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"modelgate/internal/client"
	"modelgate/internal/config"
	"modelgate/internal/metrics"
	"modelgate/internal/model"
	"modelgate/internal/provider"
)

const (
	userAgent          = "modelgate/1.0"
	defaultContentType = "application/json"
	eventStreamType    = "text/event-stream"
)

// ForwardService routes requests to providers and dispatches them upstream.
// It holds no per-request state and is safe for concurrent use.
type ForwardService struct {
	client   *client.UpstreamClient
	resolver *provider.Resolver
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewForwardService creates a ForwardService. The metrics parameter is
// optional; pass nil to disable routing metrics.
func NewForwardService(c *client.UpstreamClient, r *provider.Resolver, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ForwardService {
	return &ForwardService{
		client:   c,
		resolver: r,
		timeout:  cfg.Upstream.Timeout(),
		logger:   logger.With("component", "forward_service"),
		metrics:  m,
	}
}

// Forward sends pr to the provider selected by its model name.
//
// Upstream responses of any status are returned as-is. Failures to reach the
// upstream are returned as *model.GatewayError and nothing else. A streaming
// response must be closed by the caller.
func (s *ForwardService) Forward(ctx context.Context, pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	body := model.ParseRequestBody(pr.Body)
	p := s.resolver.Resolve(body.Model)

	target, err := s.resolver.Target(p)
	if err != nil {
		return nil, s.fail(p, internalError(err))
	}

	payload := body.Raw
	if p == provider.Ollama && body.Structured() && body.HasModel {
		payload, err = body.WithModel(provider.Normalize(body.Model, p))
		if err != nil {
			return nil, s.fail(p, internalError(fmt.Errorf("encode request body: %w", err)))
		}
	}

	header := buildHeaders(pr.Header, target)
	url := target.URL(pr.Operation)

	s.logger.Debug("forwarding request",
		"provider", p,
		"operation", pr.Operation,
		"model", body.Model,
		"stream", body.Stream,
	)
	if s.metrics != nil {
		s.metrics.RoutedRequests.WithLabelValues(string(p), pr.Operation, strconv.FormatBool(body.Stream)).Inc()
	}

	var (
		resp *model.ProxyResponse
		gerr *model.GatewayError
	)
	if body.Stream {
		resp, gerr = s.dispatchStream(ctx, p, url, header, payload)
	} else {
		resp, gerr = s.dispatchBuffered(ctx, p, url, header, payload)
	}
	if gerr != nil {
		return nil, s.fail(p, gerr)
	}
	return resp, nil
}

// dispatchBuffered waits for the complete upstream response. One deadline
// covers connecting, waiting for headers and reading the body.
func (s *ForwardService) dispatchBuffered(ctx context.Context, p provider.Provider, url string, header http.Header, payload []byte) (*model.ProxyResponse, *model.GatewayError) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Post(ctx, string(p), url, header, payload)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("read upstream body: %w", err))
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}

	return &model.ProxyResponse{
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Payload:     data,
		Provider:    string(p),
	}, nil
}

// dispatchStream opens the upstream request and hands its body back as soon
// as headers arrive. The timeout bounds connect plus time to headers, then
// each blocked read of the next chunk.
func (s *ForwardService) dispatchStream(ctx context.Context, p provider.Provider, url string, header http.Header, payload []byte) (*model.ProxyResponse, *model.GatewayError) {
	ctx, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(s.timeout, func() { cancel(errUpstreamIdle) })

	resp, err := s.client.Post(ctx, string(p), url, header, payload)
	if err != nil {
		timer.Stop()
		gerr := classify(ctx, err)
		cancel(nil)
		return nil, gerr
	}

	// Disarmed until the relay reads; see idleTimeoutBody.
	timer.Stop()

	// The relay status is fixed once the upstream answered, whatever its status.
	return &model.ProxyResponse{
		StatusCode:  http.StatusOK,
		ContentType: eventStreamType,
		Streaming:   true,
		Body: &idleTimeoutBody{
			ctx:     ctx,
			body:    resp.Body,
			timer:   timer,
			timeout: s.timeout,
			cancel:  cancel,
		},
		Provider: string(p),
	}, nil
}

func (s *ForwardService) fail(p provider.Provider, gerr *model.GatewayError) *model.GatewayError {
	if s.metrics != nil {
		s.metrics.GatewayErrors.WithLabelValues(string(p), string(gerr.Kind)).Inc()
	}
	return gerr
}

// buildHeaders returns the outbound header set: content type, user agent and
// the target's auth headers. Nothing else from the inbound request is
// forwarded; in particular the client's gateway token never leaves.
func buildHeaders(in http.Header, target provider.Target) http.Header {
	contentType := in.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}

	dst := make(http.Header, len(target.Header)+2)
	dst.Set("Content-Type", contentType)
	dst.Set("User-Agent", userAgent)
	for key, vals := range target.Header {
		dst[http.CanonicalHeaderKey(key)] = append([]string(nil), vals...)
	}
	return dst
}
