package handler

import (
	"errors"
	"io"
	"log/slog"

	"github.com/labstack/echo/v4"

	"modelgate/internal/model"
	"modelgate/internal/service"
	"modelgate/internal/stream"
)

// Operation paths appended to the provider base URL.
const (
	OpChatCompletions = "/chat/completions"
	OpEmbeddings      = "/embeddings"
)

// ProxyHandler serves the OpenAI-compatible endpoints by forwarding them to
// the provider chosen from the request's model.
type ProxyHandler struct {
	service *service.ForwardService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ForwardService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// ChatCompletions forwards POST {prefix}/chat/completions.
func (h *ProxyHandler) ChatCompletions(c echo.Context) error {
	return h.handle(c, OpChatCompletions)
}

// Embeddings forwards POST {prefix}/embeddings.
func (h *ProxyHandler) Embeddings(c echo.Context) error {
	return h.handle(c, OpEmbeddings)
}

func (h *ProxyHandler) handle(c echo.Context, op string) error {
	req := c.Request()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		// Body limit violations arrive as *echo.HTTPError (413) and are
		// rendered by HTTPErrorHandler.
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return h.writeError(c, &model.GatewayError{
			Kind:    model.KindInternal,
			Message: "ModelGate internal error: read request body: " + err.Error(),
			Err:     err,
		})
	}

	resp, err := h.service.Forward(req.Context(), &model.ProxyRequest{
		Operation: op,
		Header:    req.Header,
		Body:      body,
	})
	if err != nil {
		var gerr *model.GatewayError
		if !errors.As(err, &gerr) {
			gerr = &model.GatewayError{Kind: model.KindInternal, Message: "ModelGate internal error: " + err.Error(), Err: err}
		}
		return h.writeError(c, gerr)
	}

	if !resp.Streaming {
		return c.Blob(resp.StatusCode, resp.ContentType, resp.Payload)
	}
	defer func() { _ = resp.Close() }()

	c.Response().Header().Set(echo.HeaderContentType, resp.ContentType)
	c.Response().WriteHeader(resp.StatusCode)
	c.Response().Flush()

	// The status line is already sent, so a broken relay can only end the
	// stream early.
	if n, err := stream.Relay(c.Response(), resp.Body); err != nil {
		h.logger.Warn("stream relay ended early",
			"err", err,
			"provider", resp.Provider,
			"operation", op,
			"bytes", n,
		)
	}
	return nil
}

func (h *ProxyHandler) writeError(c echo.Context, gerr *model.GatewayError) error {
	h.logger.Error("forward failed",
		"type", gerr.Kind,
		"err", gerr.Message,
		"path", c.Request().URL.Path,
	)
	return c.JSON(gerr.Status(), gerr.Response())
}

