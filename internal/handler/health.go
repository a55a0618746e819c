package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"modelgate/internal/config"
)

const serviceName = "ModelGate"

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

type healthResponse struct {
	OK      bool   `json:"ok"`
	Service string `json:"service"`
}

// Health is the liveness probe. It never contacts an upstream.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{OK: true, Service: serviceName})
}

type statusResponse struct {
	OK                  bool    `json:"ok"`
	Service             string  `json:"service"`
	Version             string  `json:"version"`
	DefaultProvider     string  `json:"default_provider"`
	OpenAIBaseURL       string  `json:"openai_base_url"`
	OllamaBaseURL       string  `json:"ollama_base_url"`
	OpenAIKeyConfigured bool    `json:"openai_key_configured"`
	TimeoutSeconds      float64 `json:"timeout_seconds"`
}

// Status reports the routing configuration without secrets.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		OK:                  true,
		Service:             serviceName,
		Version:             string(h.version),
		DefaultProvider:     h.cfg.Gateway.DefaultProvider,
		OpenAIBaseURL:       h.cfg.OpenAI.BaseURL,
		OllamaBaseURL:       h.cfg.Ollama.BaseURL,
		OpenAIKeyConfigured: h.cfg.OpenAI.APIKey != "",
		TimeoutSeconds:      h.cfg.Upstream.TimeoutSeconds,
	})
}
