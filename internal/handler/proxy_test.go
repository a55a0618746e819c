package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"modelgate/internal/client"
	"modelgate/internal/config"
	"modelgate/internal/model"
	"modelgate/internal/provider"
	"modelgate/internal/service"
)

func testConfig(openaiURL, ollamaURL string) *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{PathPrefix: "/v1"},
		Gateway: config.GatewayConfig{Token: "gateway-token", DefaultProvider: "openai"},
		OpenAI:  config.OpenAIConfig{APIKey: "sk-test", BaseURL: openaiURL},
		Ollama:  config.OllamaConfig{BaseURL: ollamaURL},
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
		Metrics: config.MetricsConfig{Path: "/metrics"},
	}
}

func newTestProxyHandler(cfg *config.Config) *ProxyHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	uc := client.NewUpstreamClient(cfg, logger, nil)
	svc := service.NewForwardService(uc, provider.NewResolver(cfg), cfg, logger, nil)
	return NewProxyHandler(svc, logger)
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) model.ErrorBody {
	t.Helper()
	var body model.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestProxyHandler_ChatCompletions_Buffered(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q, want /v1/chat/completions", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"x"}`))
	}))
	defer upstream.Close()

	h := newTestProxyHandler(testConfig(upstream.URL+"/v1/", "http://127.0.0.1:1/v1"))

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(postJSON("/v1/chat/completions", `{"model":"gpt-4o-mini","messages":[]}`), rec)

	if err := h.ChatCompletions(c); err != nil {
		t.Fatalf("ChatCompletions() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != `{"id":"x"}` {
		t.Errorf("body = %q, want %q", rec.Body.String(), `{"id":"x"}`)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestProxyHandler_Embeddings_OllamaRoute(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path = %q, want /v1/embeddings", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("ollama request must not carry Authorization")
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "nomic-embed-text" {
			t.Errorf("model = %v, want nomic-embed-text", body["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer upstream.Close()

	h := newTestProxyHandler(testConfig("http://127.0.0.1:1/v1", upstream.URL+"/v1"))

	e := echo.New()
	rec := httptest.NewRecorder()
	req := postJSON("/v1/embeddings", `{"model":"ollama/nomic-embed-text","input":"hello"}`)
	req.Header.Set("Authorization", "Bearer gateway-token")
	c := e.NewContext(req, rec)

	if err := h.Embeddings(c); err != nil {
		t.Fatalf("Embeddings() error = %v", err)
	}
	if rec.Code != http.StatusOK || rec.Body.String() != `{"data":[]}` {
		t.Errorf("response = %d %q", rec.Code, rec.Body.String())
	}
}

func TestProxyHandler_UpstreamErrorRelayed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"model not found"}}`))
	}))
	defer upstream.Close()

	h := newTestProxyHandler(testConfig(upstream.URL, "http://127.0.0.1:1"))

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(postJSON("/v1/chat/completions", `{"model":"nope"}`), rec)

	if err := h.ChatCompletions(c); err != nil {
		t.Fatalf("ChatCompletions() error = %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if rec.Body.String() != `{"error":{"message":"model not found"}}` {
		t.Errorf("body = %q, want upstream body verbatim", rec.Body.String())
	}
}

func TestProxyHandler_GatewayErrors(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer slow.Close()

	tests := []struct {
		name       string
		cfg        func() *config.Config
		body       string
		wantStatus int
		wantType   string
		wantMsg    string
	}{
		{
			name:       "connect error",
			cfg:        func() *config.Config { return testConfig("http://127.0.0.1:1/v1", "http://127.0.0.1:1/v1") },
			body:       `{"model":"gpt-4o"}`,
			wantStatus: http.StatusBadGateway,
			wantType:   "upstream_connect_error",
		},
		{
			name: "timeout",
			cfg: func() *config.Config {
				cfg := testConfig(slow.URL, slow.URL)
				cfg.Upstream.TimeoutSeconds = 0.2
				return cfg
			},
			body:       `{"model":"gpt-4o"}`,
			wantStatus: http.StatusGatewayTimeout,
			wantType:   "upstream_timeout",
			wantMsg:    "Upstream timeout",
		},
		{
			name: "missing openai key",
			cfg: func() *config.Config {
				cfg := testConfig(slow.URL, slow.URL)
				cfg.OpenAI.APIKey = ""
				return cfg
			},
			body:       `{"model":"gpt-4o"}`,
			wantStatus: http.StatusInternalServerError,
			wantType:   "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestProxyHandler(tt.cfg())

			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(postJSON("/v1/chat/completions", tt.body), rec)

			if err := h.ChatCompletions(c); err != nil {
				t.Fatalf("ChatCompletions() error = %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			got := decodeError(t, rec)
			if got.Type != tt.wantType {
				t.Errorf("error.type = %q, want %q", got.Type, tt.wantType)
			}
			if tt.wantMsg != "" && got.Message != tt.wantMsg {
				t.Errorf("error.message = %q, want %q", got.Message, tt.wantMsg)
			}
			if got.Message == "" {
				t.Error("error.message is empty")
			}
		})
	}
}

func TestProxyHandler_Streaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, chunk := range []string{"b1", "b2", "b3"} {
			_, _ = w.Write([]byte(chunk))
			w.(http.Flusher).Flush()
		}
	}))
	defer upstream.Close()

	h := newTestProxyHandler(testConfig(upstream.URL, "http://127.0.0.1:1"))

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(postJSON("/v1/chat/completions", `{"model":"gpt-4o","stream":true}`), rec)

	if err := h.ChatCompletions(c); err != nil {
		t.Fatalf("ChatCompletions() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if rec.Body.String() != "b1b2b3" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "b1b2b3")
	}
	if !rec.Flushed {
		t.Error("expected streamed response to be flushed")
	}
}

func TestProxyHandler_StreamingTruncatedOnIdle(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: 1\n\n"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer upstream.Close()

	cfg := testConfig(upstream.URL, "http://127.0.0.1:1")
	cfg.Upstream.TimeoutSeconds = 0.3
	h := newTestProxyHandler(cfg)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(postJSON("/v1/chat/completions", `{"model":"gpt-4o","stream":true}`), rec)

	if err := h.ChatCompletions(c); err != nil {
		t.Fatalf("ChatCompletions() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d (already committed)", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "data: 1\n\n" {
		t.Errorf("body = %q, want the events received before the stall", rec.Body.String())
	}
}

func TestProxyHandler_BodyLimit(t *testing.T) {
	const oversized = `{"model":"gpt-4o","messages":[{"role":"user"}]}`

	tests := []struct {
		name string
		body io.Reader
	}{
		{"declared length", strings.NewReader(oversized)},
		// Hides the concrete type so no Content-Length is set and the limit
		// trips while the handler reads.
		{"unknown length", struct{ io.Reader }{strings.NewReader(oversized)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))
			defer upstream.Close()

			h := newTestProxyHandler(testConfig(upstream.URL, upstream.URL))

			e := echo.New()
			e.HTTPErrorHandler = HTTPErrorHandler
			e.POST("/v1/chat/completions", h.ChatCompletions, echomw.BodyLimit("16B"))

			req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", tt.body)
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != http.StatusRequestEntityTooLarge {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
			}
			if got := decodeError(t, rec); got.Type != "request_too_large" {
				t.Errorf("error.type = %q, want request_too_large", got.Type)
			}
			if called {
				t.Error("upstream must not be called for an oversized body")
			}
		})
	}
}
